package bus

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"messenger-service/internal/models"
)

// Subscriber is one receiver of broadcast events, typically a live session.
type Subscriber interface {
	// ID distinguishes subscribers within a group.
	ID() string
	// Deliver hands an encoded event to the subscriber. Implementations must
	// not block: a slow subscriber is dropped, not waited for.
	Deliver(payload []byte)
}

// Bus provides named broadcast groups. Events published after a Join
// completes reach that subscriber; there is no replay for earlier events.
// Delivery is at least once.
type Bus interface {
	Join(group string, sub Subscriber)
	Leave(group string, sub Subscriber)
	Publish(ctx context.Context, group string, event models.Event) error
}

// GroupName builds the broadcast group id for a conversation.
func GroupName(kind models.ConversationKind, conversationID int) string {
	return string(kind) + "__" + strconv.Itoa(conversationID)
}

// LocalBus is a single-process Bus keeping groups in memory. It backs tests
// and single-node deployments; multi-process fan-out uses RedisBus.
type LocalBus struct {
	mu     sync.RWMutex
	groups map[string]map[string]Subscriber
}

// NewLocalBus creates an empty LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{groups: make(map[string]map[string]Subscriber)}
}

// Join registers the subscriber with the group.
func (b *LocalBus) Join(group string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.groups[group]; !ok {
		b.groups[group] = make(map[string]Subscriber)
	}
	b.groups[group][sub.ID()] = sub
}

// Leave removes the subscriber from the group.
func (b *LocalBus) Leave(group string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.groups[group]; ok {
		delete(subs, sub.ID())
		if len(subs) == 0 {
			delete(b.groups, group)
		}
	}
}

// Publish fans the event out to every current subscriber of the group.
func (b *LocalBus) Publish(ctx context.Context, group string, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.groups[group]))
	for _, sub := range b.groups[group] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.Deliver(payload)
	}
	return nil
}
