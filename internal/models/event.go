package models

import "time"

// Event actions emitted to websocket clients.
const (
	EventNewMessage      = "new_message"
	EventMessageLiked    = "message_liked"
	EventMessageUnliked  = "message_unliked"
	EventGetMessages     = "get_messages"
	EventParticipants    = "participants"
	EventScheduleCreated = "message_scheduled"
	EventError           = "error"
)

// Event is the tagged frame written to websocket clients, both for
// broadcast fan-out and for point-to-point replies.
type Event struct {
	Action    string `json:"action"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Participant is one entry of a participants event: a conversation
// member joined with their presence.
type Participant struct {
	UserID   int        `json:"id"`
	Role     Role       `json:"role"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// PresenceRecord is a user's online state as held by the presence store.
type PresenceRecord struct {
	UserID   int        `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
