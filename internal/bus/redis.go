package bus

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
)

const channelPrefix = "messenger:group:"

// RedisBus implements Bus on top of Redis pub/sub so broadcast groups span
// server processes: the publisher and a subscribing session may live in
// different OS processes. The broker gives at-least-once, per-channel
// ordered delivery; local subscribers are fanned out from one receive loop.
type RedisBus struct {
	client *redis.Client
	pubsub *redis.PubSub

	mu     sync.RWMutex
	groups map[string]map[string]Subscriber

	done chan struct{}
}

// NewRedisBus creates a RedisBus. Start must be called before Join.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{
		client: client,
		groups: make(map[string]map[string]Subscriber),
		done:   make(chan struct{}),
	}
}

// Start opens the subscriber connection and launches the receive loop.
func (b *RedisBus) Start(ctx context.Context) {
	b.pubsub = b.client.Subscribe(ctx)
	go b.receiveLoop()
}

// Close tears down the subscriber connection and stops the receive loop.
func (b *RedisBus) Close() error {
	close(b.done)
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}

// Join subscribes the session to the group, opening the broker channel on
// the first local member.
func (b *RedisBus) Join(group string, sub Subscriber) {
	b.mu.Lock()
	subs, ok := b.groups[group]
	if !ok {
		subs = make(map[string]Subscriber)
		b.groups[group] = subs
	}
	subs[sub.ID()] = sub
	first := len(subs) == 1
	b.mu.Unlock()

	if first {
		if err := b.pubsub.Subscribe(context.Background(), channelPrefix+group); err != nil {
			log.Printf("bus subscribe failed group=%s: %v", group, err)
		}
	}
}

// Leave removes the session from the group, closing the broker channel when
// the last local member is gone.
func (b *RedisBus) Leave(group string, sub Subscriber) {
	b.mu.Lock()
	subs, ok := b.groups[group]
	if ok {
		delete(subs, sub.ID())
		if len(subs) == 0 {
			delete(b.groups, group)
		}
	}
	last := ok && len(subs) == 0
	b.mu.Unlock()

	if last {
		if err := b.pubsub.Unsubscribe(context.Background(), channelPrefix+group); err != nil {
			log.Printf("bus unsubscribe failed group=%s: %v", group, err)
		}
	}
}

// Publish sends the event through the broker. Every process holding local
// subscribers for the group picks it up in its receive loop.
func (b *RedisBus) Publish(ctx context.Context, group string, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, channelPrefix+group, payload).Err(); err != nil {
		observability.IncBusPublishError()
		return err
	}
	return nil
}

func (b *RedisBus) receiveLoop() {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			group := msg.Channel[len(channelPrefix):]
			b.fanOut(group, []byte(msg.Payload))
		}
	}
}

func (b *RedisBus) fanOut(group string, payload []byte) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.groups[group]))
	for _, sub := range b.groups[group] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.Deliver(payload)
	}
}
