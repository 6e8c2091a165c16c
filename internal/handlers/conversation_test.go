package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/bus"
	"messenger-service/internal/delivery"
	"messenger-service/internal/membership"
	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
	"messenger-service/internal/presence"
	"messenger-service/internal/repositories"
)

type handlerFixture struct {
	convRepo  *mocks.ConversationRepositoryMock
	msgRepo   *mocks.MessageRepositoryMock
	schedRepo *mocks.ScheduledMessageRepositoryMock
	notifier  *mocks.NotifierMock
	broker    *bus.LocalBus
	presence  *presence.LocalStore
	deliverer *delivery.Deliverer
	router    *gin.Engine
}

func newHandlerFixture(userID int) *handlerFixture {
	gin.SetMode(gin.TestMode)
	f := &handlerFixture{
		convRepo:  new(mocks.ConversationRepositoryMock),
		msgRepo:   new(mocks.MessageRepositoryMock),
		schedRepo: new(mocks.ScheduledMessageRepositoryMock),
		notifier:  new(mocks.NotifierMock),
		broker:    bus.NewLocalBus(),
		presence:  presence.NewLocalStore(),
	}
	f.deliverer = delivery.NewDeliverer(f.convRepo, f.msgRepo, f.schedRepo, f.broker, f.presence, f.notifier)

	conversationHandler := NewConversationHandler(f.convRepo, f.deliverer)
	messageHandler := NewMessageHandler(f.convRepo, f.msgRepo, f.schedRepo, membership.NewOracle(f.convRepo), f.deliverer)

	f.router = gin.New()
	f.router.Use(func(c *gin.Context) { c.Set("userID", userID) })
	f.router.POST("/conversations", conversationHandler.CreateConversation)
	f.router.GET("/conversations", conversationHandler.ListConversations)
	f.router.POST("/conversations/:conversation_id/members", conversationHandler.JoinConversation)
	f.router.DELETE("/conversations/:conversation_id/members/:user_id", conversationHandler.LeaveConversation)
	f.router.GET("/conversations/:conversation_id/participants", conversationHandler.ListParticipants)
	f.router.GET("/conversations/:conversation_id/messages", messageHandler.GetMessages)
	f.router.POST("/conversations/:conversation_id/messages", messageHandler.PostMessage)
	f.router.POST("/conversations/:conversation_id/messages/schedule", messageHandler.ScheduleMessage)
	return f
}

func (f *handlerFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestCreateConversation(t *testing.T) {
	f := newHandlerFixture(7)
	owner := 7

	f.convRepo.On("CreateConversation", mock.Anything, mock.MatchedBy(func(conv models.Conversation) bool {
		return conv.Kind == models.KindGroup && conv.OwnerID != nil && *conv.OwnerID == 7 && conv.CanSendMessages
	})).Return(models.Conversation{ID: 1, Kind: models.KindGroup, Name: "ops", OwnerID: &owner, CanSendMessages: true}, nil)

	w := f.do(http.MethodPost, "/conversations", `{"kind":"group","name":"ops"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))
	assert.Equal(t, 1, conv.ID)
	f.convRepo.AssertExpectations(t)
}

func TestCreateConversationRejectsUnknownKind(t *testing.T) {
	f := newHandlerFixture(7)

	w := f.do(http.MethodPost, "/conversations", `{"kind":"broadcast"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.convRepo.AssertNotCalled(t, "CreateConversation", mock.Anything, mock.Anything)
}

func TestListConversations(t *testing.T) {
	f := newHandlerFixture(7)

	f.convRepo.On("ListConversationsForUser", mock.Anything, 7).Return([]models.Conversation{
		{ID: 1, Kind: models.KindGroup, Name: "ops"},
	}, nil)

	w := f.do(http.MethodGet, "/conversations", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Conversations, 1)
}

func TestJoinConversationPrivateRequiresInvitation(t *testing.T) {
	f := newHandlerFixture(7)

	f.convRepo.On("GetConversation", mock.Anything, 1).
		Return(models.Conversation{ID: 1, Kind: models.KindGroup, Private: true}, nil)
	f.convRepo.On("GetMembership", mock.Anything, 1, 7).
		Return(models.Membership{}, repositories.ErrNotMember)

	w := f.do(http.MethodPost, "/conversations/1/members", "")

	assert.Equal(t, http.StatusForbidden, w.Code)
	f.convRepo.AssertNotCalled(t, "AddMember", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJoinConversationBroadcastsParticipants(t *testing.T) {
	f := newHandlerFixture(7)
	conv := models.Conversation{ID: 1, Kind: models.KindGroup}
	watcher := &busWatcher{}
	f.broker.Join(bus.GroupName(conv.Kind, conv.ID), watcher)

	f.convRepo.On("GetConversation", mock.Anything, 1).Return(conv, nil)
	f.convRepo.On("AddMember", mock.Anything, 1, 7, models.RoleMember).Return(nil)
	f.convRepo.On("ListMembers", mock.Anything, 1).Return([]models.Membership{
		{ConversationID: 1, UserID: 7, Role: models.RoleMember},
	}, nil)

	w := f.do(http.MethodPost, "/conversations/1/members", "")

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, watcher.payloads, 1)
	var ev models.Event
	require.NoError(t, json.Unmarshal(watcher.payloads[0], &ev))
	assert.Equal(t, models.EventParticipants, ev.Action)
}

func TestLeaveConversationOnlyOwnerRemovesOthers(t *testing.T) {
	f := newHandlerFixture(7)
	owner := 1

	f.convRepo.On("GetConversation", mock.Anything, 1).
		Return(models.Conversation{ID: 1, Kind: models.KindGroup, OwnerID: &owner}, nil)

	w := f.do(http.MethodDelete, "/conversations/1/members/8", "")

	assert.Equal(t, http.StatusForbidden, w.Code)
	f.convRepo.AssertNotCalled(t, "RemoveMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestLeaveConversationSelfRemoval(t *testing.T) {
	f := newHandlerFixture(7)
	owner := 1

	f.convRepo.On("GetConversation", mock.Anything, 1).
		Return(models.Conversation{ID: 1, Kind: models.KindGroup, OwnerID: &owner}, nil)
	f.convRepo.On("RemoveMember", mock.Anything, 1, 7).Return(nil)
	f.convRepo.On("ListMembers", mock.Anything, 1).Return([]models.Membership{}, nil)

	w := f.do(http.MethodDelete, "/conversations/1/members/7", "")

	assert.Equal(t, http.StatusNoContent, w.Code)
	f.convRepo.AssertExpectations(t)
}

func TestListParticipantsUnknownConversation(t *testing.T) {
	f := newHandlerFixture(7)

	f.convRepo.On("GetConversation", mock.Anything, 99).
		Return(models.Conversation{}, repositories.ErrConversationNotFound)

	w := f.do(http.MethodGet, "/conversations/99/participants", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListParticipantsMergesPresence(t *testing.T) {
	f := newHandlerFixture(7)
	require.NoError(t, f.presence.SessionConnected(context.Background(), 7))

	f.convRepo.On("GetConversation", mock.Anything, 1).
		Return(models.Conversation{ID: 1, Kind: models.KindGroup}, nil)
	f.convRepo.On("ListMembers", mock.Anything, 1).Return([]models.Membership{
		{ConversationID: 1, UserID: 7, Role: models.RoleOwner},
		{ConversationID: 1, UserID: 8, Role: models.RoleMember},
	}, nil)

	w := f.do(http.MethodGet, "/conversations/1/participants", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Users []models.Participant `json:"users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Users, 2)
	assert.True(t, body.Users[0].Online)
	assert.False(t, body.Users[1].Online)
}

type busWatcher struct {
	payloads [][]byte
}

func (w *busWatcher) ID() string { return "watcher" }

func (w *busWatcher) Deliver(payload []byte) { w.payloads = append(w.payloads, payload) }
