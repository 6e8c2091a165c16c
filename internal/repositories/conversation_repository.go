package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messenger-service/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotMember            = errors.New("not a conversation member")
)

// ConversationRepository abstracts conversation and membership persistence.
type ConversationRepository interface {
	CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID int) (models.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID int) ([]models.Conversation, error)
	AddMember(ctx context.Context, conversationID int, userID int, role models.Role) error
	RemoveMember(ctx context.Context, conversationID int, userID int) error
	GetMembership(ctx context.Context, conversationID int, userID int) (models.Membership, error)
	ListMembers(ctx context.Context, conversationID int) ([]models.Membership, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// CreateConversation stores a conversation and enrolls the owner.
func (r *ConversationRepo) CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	var created models.Conversation
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO conversations (kind, name, owner_id, private, can_send_messages, can_send_media)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING id, kind, name, owner_id, private, can_send_messages, can_send_media, created_at`,
		conv.Kind, conv.Name, conv.OwnerID, conv.Private, conv.CanSendMessages, conv.CanSendMedia).
		StructScan(&created)
	if err != nil {
		return models.Conversation{}, err
	}
	if created.OwnerID != nil {
		if err := r.addMemberWithRole(ctx, created.ID, *created.OwnerID, models.RoleOwner); err != nil {
			return models.Conversation{}, err
		}
	}
	return created, nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT id, kind, name, owner_id, private, can_send_messages, can_send_media, created_at
         FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// ListConversationsForUser returns conversations the user belongs to.
func (r *ConversationRepo) ListConversationsForUser(ctx context.Context, userID int) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.SelectContext(ctx, &convs,
		`SELECT c.id, c.kind, c.name, c.owner_id, c.private, c.can_send_messages, c.can_send_media, c.created_at
         FROM conversations c
         JOIN memberships m ON m.conversation_id = c.id
         WHERE m.user_id = $1
         ORDER BY c.created_at DESC`, userID)
	return convs, err
}

// AddMember enrolls a user; joining twice is a no-op.
func (r *ConversationRepo) AddMember(ctx context.Context, conversationID int, userID int, role models.Role) error {
	return r.addMemberWithRole(ctx, conversationID, userID, role)
}

func (r *ConversationRepo) addMemberWithRole(ctx context.Context, conversationID int, userID int, role models.Role) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO memberships (conversation_id, user_id, role) VALUES ($1, $2, $3)
         ON CONFLICT (conversation_id, user_id) DO NOTHING`,
		conversationID, userID, role)
	return err
}

// RemoveMember drops a membership; removing a non-member is a no-op.
func (r *ConversationRepo) RemoveMember(ctx context.Context, conversationID int, userID int) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM memberships WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, userID)
	return err
}

// GetMembership returns the membership row for (conversation, user).
func (r *ConversationRepo) GetMembership(ctx context.Context, conversationID int, userID int) (models.Membership, error) {
	var m models.Membership
	err := r.db.GetContext(ctx, &m,
		`SELECT conversation_id, user_id, role, joined_at
         FROM memberships WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Membership{}, ErrNotMember
	}
	return m, err
}

// ListMembers returns every membership of the conversation.
func (r *ConversationRepo) ListMembers(ctx context.Context, conversationID int) ([]models.Membership, error) {
	var members []models.Membership
	err := r.db.SelectContext(ctx, &members,
		`SELECT conversation_id, user_id, role, joined_at
         FROM memberships WHERE conversation_id=$1 ORDER BY joined_at ASC`,
		conversationID)
	return members, err
}
