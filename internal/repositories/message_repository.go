package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messenger-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for conversation messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, conversationID int, senderID *int, draft models.MessageDraft) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListMessages(ctx context.Context, conversationID int) ([]models.Message, error)
	Like(ctx context.Context, messageID int, userID int) error
	Unlike(ctx context.Context, messageID int, userID int) error
	MarkConversationRead(ctx context.Context, conversationID int, readerID int) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

type messageRow struct {
	models.Message
	Liked pq.Int64Array `db:"liked_by"`
}

func (row messageRow) toMessage() models.Message {
	msg := row.Message
	msg.LikedBy = make([]int, 0, len(row.Liked))
	for _, id := range row.Liked {
		msg.LikedBy = append(msg.LikedBy, int(id))
	}
	msg.LikesCount = len(msg.LikedBy)
	return msg
}

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.text, m.image, m.file, m.is_read, m.sent_at,
        COALESCE(array_agg(ml.user_id ORDER BY ml.user_id) FILTER (WHERE ml.user_id IS NOT NULL), '{}') AS liked_by`

// CreateMessage stores a message built from whitelisted draft fields.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID int, senderID *int, draft models.MessageDraft) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, text, image, file)
         VALUES ($1, $2, $3, $4, $5)
         RETURNING id, conversation_id, sender_id, text, image, file, is_read, sent_at`,
		conversationID, senderID, draft.Text, draft.Image, draft.File).
		StructScan(&msg)
	if err != nil {
		return models.Message{}, err
	}
	msg.LikedBy = []int{}
	return msg, nil
}

// GetMessage retrieves a single message with its likes.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+messageColumns+`
         FROM messages m
         LEFT JOIN message_likes ml ON ml.message_id = m.id
         WHERE m.id=$1
         GROUP BY m.id`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return row.toMessage(), nil
}

// ListMessages returns a conversation's messages ordered by send time ascending.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID int) ([]models.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+messageColumns+`
         FROM messages m
         LEFT JOIN message_likes ml ON ml.message_id = m.id
         WHERE m.conversation_id=$1
         GROUP BY m.id
         ORDER BY m.sent_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toMessage())
	}
	return msgs, nil
}

// Like records a like; liking twice is a no-op.
func (r *MessageRepo) Like(ctx context.Context, messageID int, userID int) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO message_likes (message_id, user_id) VALUES ($1, $2)
         ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrMessageNotFound
		}
		return err
	}
	_, err = res.RowsAffected()
	return err
}

// Unlike removes a like; unliking a non-liked message is a no-op.
func (r *MessageRepo) Unlike(ctx context.Context, messageID int, userID int) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM message_likes WHERE message_id=$1 AND user_id=$2`, messageID, userID)
	return err
}

// MarkConversationRead flips the read flag on messages the reader did not send.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, conversationID int, readerID int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE
         WHERE conversation_id=$1 AND is_read = FALSE AND (sender_id IS NULL OR sender_id <> $2)`,
		conversationID, readerID)
	return err
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
