package delivery

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/bus"
	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
	"messenger-service/internal/presence"
)

type recordingSubscriber struct {
	id       string
	payloads [][]byte
}

func (r *recordingSubscriber) ID() string { return r.id }

func (r *recordingSubscriber) Deliver(payload []byte) { r.payloads = append(r.payloads, payload) }

func (r *recordingSubscriber) events(t *testing.T) []models.Event {
	t.Helper()
	events := make([]models.Event, 0, len(r.payloads))
	for _, payload := range r.payloads {
		var ev models.Event
		require.NoError(t, json.Unmarshal(payload, &ev))
		events = append(events, ev)
	}
	return events
}

type failingBus struct{}

func (failingBus) Join(string, bus.Subscriber) {}

func (failingBus) Leave(string, bus.Subscriber) {}
func (failingBus) Publish(context.Context, string, models.Event) error {
	return assert.AnError
}

type delivererFixture struct {
	convRepo  *mocks.ConversationRepositoryMock
	msgRepo   *mocks.MessageRepositoryMock
	schedRepo *mocks.ScheduledMessageRepositoryMock
	notifier  *mocks.NotifierMock
	broker    *bus.LocalBus
	presence  *presence.LocalStore
	deliverer *Deliverer
}

func newDelivererFixture() *delivererFixture {
	f := &delivererFixture{
		convRepo:  new(mocks.ConversationRepositoryMock),
		msgRepo:   new(mocks.MessageRepositoryMock),
		schedRepo: new(mocks.ScheduledMessageRepositoryMock),
		notifier:  new(mocks.NotifierMock),
		broker:    bus.NewLocalBus(),
		presence:  presence.NewLocalStore(),
	}
	f.deliverer = NewDeliverer(f.convRepo, f.msgRepo, f.schedRepo, f.broker, f.presence, f.notifier)
	return f
}

func (f *delivererFixture) watch(conv models.Conversation) *recordingSubscriber {
	sub := &recordingSubscriber{id: "watcher"}
	f.broker.Join(bus.GroupName(conv.Kind, conv.ID), sub)
	return sub
}

func TestSendMessagePersistsThenBroadcasts(t *testing.T) {
	f := newDelivererFixture()
	conv := models.Conversation{ID: 1, Kind: models.KindGroup}
	watcher := f.watch(conv)
	sender := 7

	f.msgRepo.On("CreateMessage", mock.Anything, 1, &sender, models.MessageDraft{Text: "hi"}).
		Return(models.Message{ID: 5, ConversationID: 1, Text: "hi"}, nil)

	msg, err := f.deliverer.SendMessage(context.Background(), conv, &sender, models.MessageDraft{Text: "hi"})

	require.NoError(t, err)
	assert.Equal(t, 5, msg.ID)
	events := watcher.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventNewMessage, events[0].Action)
}

func TestSendMessagePersistFailureBroadcastsNothing(t *testing.T) {
	f := newDelivererFixture()
	conv := models.Conversation{ID: 1, Kind: models.KindGroup}
	watcher := f.watch(conv)
	sender := 7

	f.msgRepo.On("CreateMessage", mock.Anything, 1, &sender, mock.Anything).
		Return(models.Message{}, assert.AnError)

	_, err := f.deliverer.SendMessage(context.Background(), conv, &sender, models.MessageDraft{Text: "hi"})

	require.Error(t, err)
	assert.Empty(t, watcher.payloads)
}

func TestSendMessageSurvivesPublishFailure(t *testing.T) {
	f := newDelivererFixture()
	deliverer := NewDeliverer(f.convRepo, f.msgRepo, f.schedRepo, failingBus{}, f.presence, f.notifier)
	sender := 7

	f.msgRepo.On("CreateMessage", mock.Anything, 1, &sender, mock.Anything).
		Return(models.Message{ID: 5, ConversationID: 1}, nil)

	// A publish failure after a successful persist is a delivery gap, not an
	// error for the sender.
	msg, err := deliverer.SendMessage(context.Background(), models.Conversation{ID: 1, Kind: models.KindGroup}, &sender, models.MessageDraft{Text: "hi"})

	require.NoError(t, err)
	assert.Equal(t, 5, msg.ID)
}

func TestParticipantsMergesPresence(t *testing.T) {
	f := newDelivererFixture()
	ctx := context.Background()

	require.NoError(t, f.presence.SessionConnected(ctx, 1))
	f.convRepo.On("ListMembers", mock.Anything, 3).Return([]models.Membership{
		{ConversationID: 3, UserID: 1, Role: models.RoleOwner},
		{ConversationID: 3, UserID: 2, Role: models.RoleMember},
	}, nil)

	participants, err := f.deliverer.Participants(ctx, 3)

	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.Equal(t, 1, participants[0].UserID)
	assert.True(t, participants[0].Online)
	assert.Equal(t, models.RoleOwner, participants[0].Role)
	assert.Equal(t, 2, participants[1].UserID)
	assert.False(t, participants[1].Online)
}

func TestBroadcastParticipantsPublishesUsersPayload(t *testing.T) {
	f := newDelivererFixture()
	conv := models.Conversation{ID: 3, Kind: models.KindGroup}
	watcher := f.watch(conv)

	f.convRepo.On("ListMembers", mock.Anything, 3).Return([]models.Membership{
		{ConversationID: 3, UserID: 1, Role: models.RoleMember},
	}, nil)

	require.NoError(t, f.deliverer.BroadcastParticipants(context.Background(), conv))

	events := watcher.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventParticipants, events[0].Action)
	data := events[0].Data.(map[string]any)
	users := data["users"].([]any)
	require.Len(t, users, 1)
	assert.Equal(t, float64(1), users[0].(map[string]any)["id"])
}

func TestDeliverScheduledSkipsWhenClaimLost(t *testing.T) {
	f := newDelivererFixture()

	f.schedRepo.On("MarkSent", mock.Anything, 3).Return(false, nil)

	_, err := f.deliverer.DeliverScheduled(context.Background(), models.ScheduledMessage{ID: 3, ConversationID: 1})

	require.ErrorIs(t, err, ErrAlreadySent)
	f.convRepo.AssertNotCalled(t, "GetConversation", mock.Anything, mock.Anything)
	f.msgRepo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDeliverScheduledBroadcastsAndNotifiesOffline(t *testing.T) {
	f := newDelivererFixture()
	ctx := context.Background()
	conv := models.Conversation{ID: 1, Kind: models.KindGroup, Name: "ops"}
	watcher := f.watch(conv)
	sender := 7

	// User 8 is offline, user 9 is online, the sender never gets notified.
	require.NoError(t, f.presence.SessionConnected(ctx, 9))

	f.schedRepo.On("MarkSent", mock.Anything, 3).Return(true, nil)
	f.convRepo.On("GetConversation", mock.Anything, 1).Return(conv, nil)
	f.msgRepo.On("CreateMessage", mock.Anything, 1, &sender, models.MessageDraft{Text: "later"}).
		Return(models.Message{ID: 6, ConversationID: 1, Text: "later"}, nil)
	f.convRepo.On("ListMembers", mock.Anything, 1).Return([]models.Membership{
		{ConversationID: 1, UserID: 7, Role: models.RoleOwner},
		{ConversationID: 1, UserID: 8, Role: models.RoleMember},
		{ConversationID: 1, UserID: 9, Role: models.RoleMember},
	}, nil)
	f.notifier.On("Notify", mock.Anything, 8, "New message in ops", "later").Return(nil)

	msg, err := f.deliverer.DeliverScheduled(ctx, models.ScheduledMessage{
		ID: 3, ConversationID: 1, SenderID: 7, Text: "later",
	})

	require.NoError(t, err)
	assert.Equal(t, 6, msg.ID)
	events := watcher.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventNewMessage, events[0].Action)
	f.notifier.AssertExpectations(t)
	f.notifier.AssertNumberOfCalls(t, "Notify", 1)
}
