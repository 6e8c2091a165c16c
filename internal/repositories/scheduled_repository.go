package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"messenger-service/internal/models"
)

// ScheduledMessageRepository persists messages awaiting delivery.
type ScheduledMessageRepository interface {
	CreateScheduled(ctx context.Context, conversationID int, senderID int, text string, at time.Time) (models.ScheduledMessage, error)
	DueScheduled(ctx context.Context, now time.Time) ([]models.ScheduledMessage, error)
	MarkSent(ctx context.Context, scheduledID int) (bool, error)
}

// ScheduledMessageRepo is a sqlx implementation of ScheduledMessageRepository.
type ScheduledMessageRepo struct {
	db *sqlx.DB
}

// NewScheduledMessageRepo constructs a ScheduledMessageRepo.
func NewScheduledMessageRepo(db *sqlx.DB) *ScheduledMessageRepo {
	return &ScheduledMessageRepo{db: db}
}

// CreateScheduled stores a scheduled message with sent=false.
func (r *ScheduledMessageRepo) CreateScheduled(ctx context.Context, conversationID int, senderID int, text string, at time.Time) (models.ScheduledMessage, error) {
	var sm models.ScheduledMessage
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO scheduled_messages (conversation_id, sender_id, text, scheduled_time)
         VALUES ($1, $2, $3, $4)
         RETURNING id, conversation_id, sender_id, text, scheduled_time, sent, created_at`,
		conversationID, senderID, text, at).
		StructScan(&sm)
	return sm, err
}

// DueScheduled returns unsent messages whose delivery time has passed.
func (r *ScheduledMessageRepo) DueScheduled(ctx context.Context, now time.Time) ([]models.ScheduledMessage, error) {
	var due []models.ScheduledMessage
	err := r.db.SelectContext(ctx, &due,
		`SELECT id, conversation_id, sender_id, text, scheduled_time, sent, created_at
         FROM scheduled_messages
         WHERE scheduled_time <= $1 AND sent = FALSE
         ORDER BY scheduled_time ASC`, now)
	return due, err
}

// MarkSent flips sent to true, reporting whether this call won the flip.
// The sent=FALSE guard makes the false->true transition happen exactly once
// even with concurrent sweepers.
func (r *ScheduledMessageRepo) MarkSent(ctx context.Context, scheduledID int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_messages SET sent = TRUE WHERE id=$1 AND sent = FALSE`, scheduledID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
