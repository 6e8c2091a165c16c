package models

import "time"

// Message is a message delivered into a conversation. Immutable once
// created except for the likes set and the read flag. SenderID is nil
// when the sending account has been deleted.
type Message struct {
	ID             int       `db:"id" json:"id"`
	ConversationID int       `db:"conversation_id" json:"conversation_id"`
	SenderID       *int      `db:"sender_id" json:"sender_id"`
	Text           string    `db:"text" json:"text,omitempty"`
	Image          string    `db:"image" json:"image,omitempty"`
	File           string    `db:"file" json:"file,omitempty"`
	IsRead         bool      `db:"is_read" json:"is_read"`
	SentAt         time.Time `db:"sent_at" json:"sent_at"`

	LikedBy    []int `json:"liked_by"`
	LikesCount int   `json:"likes_count"`
}

// HasMedia reports whether the message carries an image or file reference.
func (m Message) HasMedia() bool {
	return m.Image != "" || m.File != ""
}

// MessageDraft holds the whitelisted fields a client may set when
// creating a message. Unknown payload keys are dropped before a draft
// is built, never rejected.
type MessageDraft struct {
	Text  string `json:"text"`
	Image string `json:"image"`
	File  string `json:"file"`
}

// Empty reports whether the draft carries no content at all.
func (d MessageDraft) Empty() bool {
	return d.Text == "" && d.Image == "" && d.File == ""
}

// HasMedia reports whether the draft carries an image or file reference.
func (d MessageDraft) HasMedia() bool {
	return d.Image != "" || d.File != ""
}

// ScheduledMessage is a message waiting for its delivery time. The sweep
// flips sent exactly once, producing one Message and one broadcast.
type ScheduledMessage struct {
	ID             int       `db:"id" json:"id"`
	ConversationID int       `db:"conversation_id" json:"conversation_id"`
	SenderID       int       `db:"sender_id" json:"sender_id"`
	Text           string    `db:"text" json:"text"`
	ScheduledTime  time.Time `db:"scheduled_time" json:"scheduled_time"`
	Sent           bool      `db:"sent" json:"sent"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
