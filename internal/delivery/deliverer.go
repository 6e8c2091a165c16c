package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"

	"messenger-service/internal/bus"
	"messenger-service/internal/models"
	"messenger-service/internal/notify"
	"messenger-service/internal/presence"
	"messenger-service/internal/repositories"
)

// ErrAlreadySent reports that another sweeper already delivered the
// scheduled message.
var ErrAlreadySent = errors.New("scheduled message already sent")

// Deliverer owns the single persist-then-publish path for messages. The
// websocket dispatcher, the HTTP create endpoint and the scheduled sweep
// all go through it, so a message is visible identically whether created
// live or by a timer.
type Deliverer struct {
	convRepo  repositories.ConversationRepository
	msgRepo   repositories.MessageRepository
	schedRepo repositories.ScheduledMessageRepository
	broker    bus.Bus
	presence  presence.Store
	notifier  notify.Notifier
}

// NewDeliverer constructs a Deliverer.
func NewDeliverer(
	convRepo repositories.ConversationRepository,
	msgRepo repositories.MessageRepository,
	schedRepo repositories.ScheduledMessageRepository,
	broker bus.Bus,
	presenceStore presence.Store,
	notifier notify.Notifier,
) *Deliverer {
	return &Deliverer{
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		schedRepo: schedRepo,
		broker:    broker,
		presence:  presenceStore,
		notifier:  notifier,
	}
}

// SendMessage persists the draft and broadcasts the resulting message to
// the conversation's group. Publish happens strictly after the persist
// succeeds; a publish failure after a successful persist is logged as a
// delivery gap, never rolled back (clients recover via history fetch).
func (d *Deliverer) SendMessage(ctx context.Context, conv models.Conversation, senderID *int, draft models.MessageDraft) (models.Message, error) {
	msg, err := d.msgRepo.CreateMessage(ctx, conv.ID, senderID, draft)
	if err != nil {
		return models.Message{}, fmt.Errorf("persist message: %w", err)
	}

	d.PublishEvent(ctx, conv, models.Event{Action: models.EventNewMessage, Data: msg})
	return msg, nil
}

// PublishEvent broadcasts an event to the conversation's group. Publish
// failures are delivery gaps: logged and counted, not returned.
func (d *Deliverer) PublishEvent(ctx context.Context, conv models.Conversation, event models.Event) {
	group := bus.GroupName(conv.Kind, conv.ID)
	if err := d.broker.Publish(ctx, group, event); err != nil {
		log.Printf("delivery gap conversation=%d action=%s: %v", conv.ID, event.Action, err)
	}
}

// BroadcastParticipants publishes the conversation's member list joined
// with presence to the whole group.
func (d *Deliverer) BroadcastParticipants(ctx context.Context, conv models.Conversation) error {
	participants, err := d.Participants(ctx, conv.ID)
	if err != nil {
		return err
	}
	d.PublishEvent(ctx, conv, models.Event{
		Action: models.EventParticipants,
		Data:   map[string]any{"users": participants},
	})
	return nil
}

// Participants returns the conversation members with their presence.
func (d *Deliverer) Participants(ctx context.Context, conversationID int) ([]models.Participant, error) {
	members, err := d.convRepo.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	participants := make([]models.Participant, 0, len(members))
	for _, member := range members {
		p := models.Participant{UserID: member.UserID, Role: member.Role}
		record, err := d.presence.Get(ctx, member.UserID)
		if err != nil {
			log.Printf("presence lookup failed user=%d: %v", member.UserID, err)
		} else {
			p.Online = record.Online
			p.LastSeen = record.LastSeen
		}
		participants = append(participants, p)
	}
	return participants, nil
}

// DeliverScheduled promotes a due scheduled message into a real message:
// it claims the sent flag, persists the message, broadcasts it through the
// same path live messages take, and notifies offline members. The
// sent=false guard in MarkSent makes the claim happen exactly once.
func (d *Deliverer) DeliverScheduled(ctx context.Context, sm models.ScheduledMessage) (models.Message, error) {
	won, err := d.schedRepo.MarkSent(ctx, sm.ID)
	if err != nil {
		return models.Message{}, fmt.Errorf("mark sent: %w", err)
	}
	if !won {
		return models.Message{}, ErrAlreadySent
	}

	conv, err := d.convRepo.GetConversation(ctx, sm.ConversationID)
	if err != nil {
		return models.Message{}, fmt.Errorf("load conversation: %w", err)
	}

	sender := sm.SenderID
	msg, err := d.SendMessage(ctx, conv, &sender, models.MessageDraft{Text: sm.Text})
	if err != nil {
		return models.Message{}, err
	}

	d.notifyOffline(ctx, conv, sm.SenderID, sm.Text)
	return msg, nil
}

// notifyOffline fires the external notification call-out for members who
// currently have no active session. Strictly fire-and-forget.
func (d *Deliverer) notifyOffline(ctx context.Context, conv models.Conversation, senderID int, body string) {
	members, err := d.convRepo.ListMembers(ctx, conv.ID)
	if err != nil {
		log.Printf("notify skipped conversation=%d: %v", conv.ID, err)
		return
	}

	title := "New message"
	if conv.Name != "" {
		title = "New message in " + conv.Name
	}

	for _, member := range members {
		if member.UserID == senderID {
			continue
		}
		record, err := d.presence.Get(ctx, member.UserID)
		if err != nil {
			log.Printf("presence lookup failed user=%d: %v", member.UserID, err)
			continue
		}
		if record.Online {
			continue
		}
		if err := d.notifier.Notify(ctx, member.UserID, title, body); err != nil {
			log.Printf("notify failed user=%d: %v", member.UserID, err)
		}
	}
}
