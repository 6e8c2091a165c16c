package bus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/models"
)

type recordingSubscriber struct {
	id       string
	payloads [][]byte
}

func (r *recordingSubscriber) ID() string { return r.id }

func (r *recordingSubscriber) Deliver(payload []byte) { r.payloads = append(r.payloads, payload) }

func TestGroupName(t *testing.T) {
	assert.Equal(t, "group__12", GroupName(models.KindGroup, 12))
	assert.Equal(t, "direct__3", GroupName(models.KindDirect, 3))
	assert.Equal(t, "channel__7", GroupName(models.KindChannel, 7))
}

func TestLocalBusPublishReachesGroupMembers(t *testing.T) {
	b := NewLocalBus()
	a := &recordingSubscriber{id: "a"}
	c := &recordingSubscriber{id: "c"}
	b.Join("group__1", a)
	b.Join("group__1", c)
	outsider := &recordingSubscriber{id: "o"}
	b.Join("group__2", outsider)

	err := b.Publish(context.Background(), "group__1", models.Event{Action: models.EventNewMessage})

	require.NoError(t, err)
	require.Len(t, a.payloads, 1)
	require.Len(t, c.payloads, 1)
	assert.Empty(t, outsider.payloads)

	var ev models.Event
	require.NoError(t, json.Unmarshal(a.payloads[0], &ev))
	assert.Equal(t, models.EventNewMessage, ev.Action)
}

func TestLocalBusLeaveStopsDelivery(t *testing.T) {
	b := NewLocalBus()
	sub := &recordingSubscriber{id: "a"}
	b.Join("group__1", sub)
	b.Leave("group__1", sub)

	require.NoError(t, b.Publish(context.Background(), "group__1", models.Event{Action: models.EventNewMessage}))

	assert.Empty(t, sub.payloads)
}

func TestLocalBusPublishToEmptyGroup(t *testing.T) {
	b := NewLocalBus()

	// No subscribers is not an error, just no delivery.
	assert.NoError(t, b.Publish(context.Background(), "group__9", models.Event{Action: models.EventParticipants}))
}

func TestLocalBusRejoinOverwritesSameID(t *testing.T) {
	b := NewLocalBus()
	sub := &recordingSubscriber{id: "a"}
	b.Join("group__1", sub)
	b.Join("group__1", sub)

	require.NoError(t, b.Publish(context.Background(), "group__1", models.Event{Action: models.EventNewMessage}))

	assert.Len(t, sub.payloads, 1)
}
