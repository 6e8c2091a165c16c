package models

import "time"

// ConversationKind distinguishes the three conversation flavours.
type ConversationKind string

const (
	KindDirect  ConversationKind = "direct"
	KindGroup   ConversationKind = "group"
	KindChannel ConversationKind = "channel"
)

// ValidKind reports whether s names a known conversation kind.
func ValidKind(s string) bool {
	switch ConversationKind(s) {
	case KindDirect, KindGroup, KindChannel:
		return true
	}
	return false
}

// Role is a member's role within a conversation.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Conversation is the addressable broadcast scope for messages.
type Conversation struct {
	ID              int              `db:"id" json:"id"`
	Kind            ConversationKind `db:"kind" json:"kind"`
	Name            string           `db:"name" json:"name"`
	OwnerID         *int             `db:"owner_id" json:"owner_id"`
	Private         bool             `db:"private" json:"private"`
	CanSendMessages bool             `db:"can_send_messages" json:"can_send_messages"`
	CanSendMedia    bool             `db:"can_send_media" json:"can_send_media"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
}

// Membership ties a user to a conversation with a role.
type Membership struct {
	ConversationID int       `db:"conversation_id" json:"conversation_id"`
	UserID         int       `db:"user_id" json:"user_id"`
	Role           Role      `db:"role" json:"role"`
	JoinedAt       time.Time `db:"joined_at" json:"joined_at"`
}
