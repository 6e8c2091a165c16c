package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"messenger-service/internal/delivery"
	"messenger-service/internal/membership"
	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

// Action is the closed set of inbound client actions.
type Action string

const (
	ActionCreateMessage   Action = "create_message"
	ActionLikeMessage     Action = "like_message"
	ActionUnlikeMessage   Action = "unlike_message"
	ActionScheduleMessage Action = "schedule_message"
	ActionGetMessages     Action = "get_messages"
	ActionJoinGroup       Action = "join_group"
	ActionLeaveGroup      Action = "leave_group"
)

// Frame is one inbound client request. pk addresses the target
// conversation; zero means the session's own conversation.
type Frame struct {
	Action    Action          `json:"action"`
	RequestID string          `json:"request_id,omitempty"`
	PK        int             `json:"pk,omitempty"`
	MessageID int             `json:"message_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Error codes carried in point-to-point error events.
const (
	codeNotAuthorized = "not_authorized"
	codeNotFound      = "not_found"
	codeValidation    = "validation_error"
	codeTransient     = "transient_error"
)

// errSessionRevoked closes the session: the user lost access to the
// conversation the session is joined to.
var errSessionRevoked = errors.New("conversation access revoked")

// Dispatcher routes inbound frames to action handlers. Every privileged
// action re-queries authorization; nothing is cached beyond the current
// request, because membership can change mid-session.
type Dispatcher struct {
	oracle    *membership.Oracle
	convRepo  repositories.ConversationRepository
	msgRepo   repositories.MessageRepository
	schedRepo repositories.ScheduledMessageRepository
	deliverer *delivery.Deliverer
	now       func() time.Time
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(
	oracle *membership.Oracle,
	convRepo repositories.ConversationRepository,
	msgRepo repositories.MessageRepository,
	schedRepo repositories.ScheduledMessageRepository,
	deliverer *delivery.Deliverer,
) *Dispatcher {
	return &Dispatcher{
		oracle:    oracle,
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		schedRepo: schedRepo,
		deliverer: deliverer,
		now:       time.Now,
	}
}

// Dispatch runs one frame. Handler failures become point-to-point error
// events on the session; a non-nil return closes the connection (protocol
// violation or revoked access).
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, frame Frame) error {
	switch frame.Action {
	case ActionCreateMessage:
		return d.createMessage(ctx, s, frame)
	case ActionLikeMessage:
		return d.toggleLike(ctx, s, frame, true)
	case ActionUnlikeMessage:
		return d.toggleLike(ctx, s, frame, false)
	case ActionScheduleMessage:
		return d.scheduleMessage(ctx, s, frame)
	case ActionGetMessages:
		return d.getMessages(ctx, s, frame)
	case ActionJoinGroup:
		return d.joinGroup(ctx, s, frame)
	case ActionLeaveGroup:
		return d.leaveGroup(ctx, s, frame)
	default:
		s.sendError(frame.RequestID, codeValidation, "unknown action")
		return nil
	}
}

// targetConversation resolves the frame's target. The session's own
// conversation is served from the cached read taken at join time; any
// other target is fetched fresh.
func (d *Dispatcher) targetConversation(ctx context.Context, s *Session, pk int) (models.Conversation, bool, error) {
	if pk == 0 || pk == s.conv.ID {
		return s.conv, true, nil
	}
	conv, err := d.convRepo.GetConversation(ctx, pk)
	if err != nil {
		return models.Conversation{}, false, err
	}
	return conv, true, nil
}

func (d *Dispatcher) createMessage(ctx context.Context, s *Session, frame Frame) error {
	conv, ok, err := d.targetConversation(ctx, s, frame.PK)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		s.sendError(frame.RequestID, codeNotFound, "conversation not found")
		return nil
	}
	if err != nil || !ok {
		s.sendError(frame.RequestID, codeTransient, "failed to load conversation")
		return nil
	}

	// Whitelisted fields only: unknown keys are dropped by decoding into
	// the draft, never treated as an error.
	var draft models.MessageDraft
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &draft); err != nil {
			s.sendError(frame.RequestID, codeValidation, "malformed message payload")
			return nil
		}
	}
	if draft.Empty() {
		s.sendError(frame.RequestID, codeValidation, "message requires text, image or file")
		return nil
	}

	action := membership.ActionWrite
	if draft.HasMedia() {
		action = membership.ActionWriteMedia
	}
	decision, err := d.oracle.Authorize(ctx, s.userID, conv, action)
	if err != nil {
		s.sendError(frame.RequestID, codeTransient, "authorization check failed")
		return nil
	}
	if !decision.Allowed {
		s.sendError(frame.RequestID, codeNotAuthorized, "not allowed to send messages here")
		return d.checkRevoked(ctx, s)
	}

	sender := s.userID
	if _, err := d.deliverer.SendMessage(ctx, conv, &sender, draft); err != nil {
		// Persist failed: surfaced to the requester, nothing was broadcast.
		s.sendError(frame.RequestID, codeTransient, "failed to store message")
		return nil
	}
	return nil
}

func (d *Dispatcher) toggleLike(ctx context.Context, s *Session, frame Frame, like bool) error {
	if frame.MessageID == 0 {
		s.sendError(frame.RequestID, codeValidation, "message_id is required")
		return nil
	}

	conv, _, err := d.targetConversation(ctx, s, frame.PK)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		s.sendError(frame.RequestID, codeNotFound, "conversation not found")
		return nil
	}
	if err != nil {
		s.sendError(frame.RequestID, codeTransient, "failed to load conversation")
		return nil
	}

	// Likes require membership regardless of conversation visibility.
	if _, err := d.convRepo.GetMembership(ctx, conv.ID, s.userID); err != nil {
		if errors.Is(err, repositories.ErrNotMember) {
			s.sendError(frame.RequestID, codeNotAuthorized, "not a conversation member")
			return d.checkRevoked(ctx, s)
		}
		s.sendError(frame.RequestID, codeTransient, "authorization check failed")
		return nil
	}

	msg, err := d.msgRepo.GetMessage(ctx, frame.MessageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		s.sendError(frame.RequestID, codeNotFound, "message not found")
		return nil
	}
	if err != nil {
		s.sendError(frame.RequestID, codeTransient, "failed to load message")
		return nil
	}
	if msg.ConversationID != conv.ID {
		s.sendError(frame.RequestID, codeValidation, "message does not belong to conversation")
		return nil
	}

	if like {
		err = d.msgRepo.Like(ctx, frame.MessageID, s.userID)
	} else {
		err = d.msgRepo.Unlike(ctx, frame.MessageID, s.userID)
	}
	if err != nil {
		s.sendError(frame.RequestID, codeTransient, "failed to update likes")
		return nil
	}

	updated, err := d.msgRepo.GetMessage(ctx, frame.MessageID)
	if err != nil {
		s.sendError(frame.RequestID, codeTransient, "failed to load message")
		return nil
	}

	event := models.EventMessageLiked
	if !like {
		event = models.EventMessageUnliked
	}
	d.deliverer.PublishEvent(ctx, conv, models.Event{Action: event, Data: updated})
	return nil
}

func (d *Dispatcher) scheduleMessage(ctx context.Context, s *Session, frame Frame) error {
	conv, _, err := d.targetConversation(ctx, s, frame.PK)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		s.sendError(frame.RequestID, codeNotFound, "conversation not found")
		return nil
	}
	if err != nil {
		s.sendError(frame.RequestID, codeTransient, "failed to load conversation")
		return nil
	}

	var req struct {
		Text          string    `json:"text"`
		ScheduledTime time.Time `json:"scheduled_time"`
	}
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		s.sendError(frame.RequestID, codeValidation, "malformed schedule payload")
		return nil
	}
	if req.Text == "" {
		s.sendError(frame.RequestID, codeValidation, "text is required")
		return nil
	}
	if !req.ScheduledTime.After(d.now()) {
		s.sendError(frame.RequestID, codeValidation, "scheduled_time must be in the future")
		return nil
	}

	// Scheduling pre-authorizes the eventual delivery, so the write check
	// happens here, not at sweep time.
	decision, err := d.oracle.Authorize(ctx, s.userID, conv, membership.ActionWrite)
	if err != nil {
		s.sendError(frame.RequestID, codeTransient, "authorization check failed")
		return nil
	}
	if !decision.Allowed {
		s.sendError(frame.RequestID, codeNotAuthorized, "not allowed to send messages here")
		return d.checkRevoked(ctx, s)
	}

	sm, err := d.schedRepo.CreateScheduled(ctx, conv.ID, s.userID, req.Text, req.ScheduledTime)
	if err != nil {
		s.sendError(frame.RequestID, codeTransient, "failed to schedule message")
		return nil
	}

	// No broadcast: the message becomes visible when the sweep delivers it.
	s.sendEvent(models.Event{Action: models.EventScheduleCreated, RequestID: frame.RequestID, Data: sm})
	return nil
}

func (d *Dispatcher) getMessages(ctx context.Context, s *Session, frame Frame) error {
	conv, _, err := d.targetConversation(ctx, s, frame.PK)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		s.sendError(frame.RequestID, codeNotFound, "conversation not found")
		return nil
	}
	if err != nil {
		s.sendError(frame.RequestID, codeTransient, "failed to load conversation")
		return nil
	}

	decision, err := d.oracle.Authorize(ctx, s.userID, conv, membership.ActionRead)
	if err != nil {
		s.sendError(frame.RequestID, codeTransient, "authorization check failed")
		return nil
	}
	if !decision.Allowed {
		s.sendError(frame.RequestID, codeNotAuthorized, "not allowed to read this conversation")
		return d.checkRevoked(ctx, s)
	}

	msgs, err := d.msgRepo.ListMessages(ctx, conv.ID)
	if err != nil {
		// One synchronous retry for transient read failures.
		msgs, err = d.msgRepo.ListMessages(ctx, conv.ID)
	}
	if err != nil {
		s.sendError(frame.RequestID, codeTransient, "failed to load messages")
		return nil
	}

	if err := d.msgRepo.MarkConversationRead(ctx, conv.ID, s.userID); err != nil {
		// Read-flag bookkeeping never fails the fetch.
		log.Printf("mark read failed conversation=%d: %v", conv.ID, err)
	}

	// Point-to-point: history goes to the requester only, never the group.
	s.sendEvent(models.Event{
		Action:    models.EventGetMessages,
		RequestID: frame.RequestID,
		Data:      map[string]any{"messages": msgs},
	})
	return nil
}

func (d *Dispatcher) joinGroup(ctx context.Context, s *Session, frame Frame) error {
	conv, _, err := d.targetConversation(ctx, s, frame.PK)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		s.sendError(frame.RequestID, codeNotFound, "conversation not found")
		return nil
	}
	if err != nil {
		s.sendError(frame.RequestID, codeTransient, "failed to load conversation")
		return nil
	}
	if conv.Kind != models.KindGroup {
		s.sendError(frame.RequestID, codeValidation, "join is only supported for groups")
		return nil
	}
	if conv.Private {
		if _, err := d.convRepo.GetMembership(ctx, conv.ID, s.userID); err != nil {
			s.sendError(frame.RequestID, codeNotAuthorized, "private group requires an invitation")
			return nil
		}
	}

	if err := d.convRepo.AddMember(ctx, conv.ID, s.userID, models.RoleMember); err != nil {
		s.sendError(frame.RequestID, codeTransient, "failed to join group")
		return nil
	}

	if err := d.deliverer.BroadcastParticipants(ctx, conv); err != nil {
		s.sendError(frame.RequestID, codeTransient, "failed to broadcast participants")
	}
	return nil
}

func (d *Dispatcher) leaveGroup(ctx context.Context, s *Session, frame Frame) error {
	conv, _, err := d.targetConversation(ctx, s, frame.PK)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		s.sendError(frame.RequestID, codeNotFound, "conversation not found")
		return nil
	}
	if err != nil {
		s.sendError(frame.RequestID, codeTransient, "failed to load conversation")
		return nil
	}
	if conv.Kind != models.KindGroup {
		s.sendError(frame.RequestID, codeValidation, "leave is only supported for groups")
		return nil
	}

	if err := d.convRepo.RemoveMember(ctx, conv.ID, s.userID); err != nil {
		s.sendError(frame.RequestID, codeTransient, "failed to leave group")
		return nil
	}

	if err := d.deliverer.BroadcastParticipants(ctx, conv); err != nil {
		s.sendError(frame.RequestID, codeTransient, "failed to broadcast participants")
	}
	return nil
}

// checkRevoked re-checks read access on the session's own private
// conversation after a denial. Losing read access means the member was
// kicked mid-session: the denial event has been sent, the connection
// closes.
func (d *Dispatcher) checkRevoked(ctx context.Context, s *Session) error {
	if !s.conv.Private {
		return nil
	}
	decision, err := d.oracle.Authorize(ctx, s.userID, s.conv, membership.ActionRead)
	if err != nil {
		return nil
	}
	if !decision.Allowed {
		return errSessionRevoked
	}
	return nil
}
