package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"messenger-service/internal/models"
)

const (
	sessionsKeyPrefix = "presence:sessions:"
	recordKeyPrefix   = "presence:user:"
)

// RedisStore keeps presence in Redis so every server process observes the
// same state. The per-user session counter makes multi-device presence
// correct: online flips off only when the counter reaches zero.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a RedisStore. Keys expire after ttl so records
// of crashed processes eventually clear.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) SessionConnected(ctx context.Context, userID int) error {
	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, sessionsKey(userID))
	pipe.Expire(ctx, sessionsKey(userID), s.ttl)
	pipe.HSet(ctx, recordKey(userID), "online", "1")
	pipe.Expire(ctx, recordKey(userID), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) SessionDisconnected(ctx context.Context, userID int) (bool, error) {
	remaining, err := s.client.Decr(ctx, sessionsKey(userID)).Result()
	if err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}

	// Last session for this user is gone. Clean up the counter so stray
	// decrements never leave it negative.
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionsKey(userID))
	pipe.HSet(ctx, recordKey(userID), "online", "0", "last_seen", time.Now().UTC().Format(time.RFC3339Nano))
	pipe.Expire(ctx, recordKey(userID), s.ttl)
	_, err = pipe.Exec(ctx)
	return true, err
}

func (s *RedisStore) Get(ctx context.Context, userID int) (models.PresenceRecord, error) {
	fields, err := s.client.HGetAll(ctx, recordKey(userID)).Result()
	if err != nil {
		return models.PresenceRecord{}, err
	}
	record := models.PresenceRecord{UserID: userID, Online: fields["online"] == "1"}
	if raw, ok := fields["last_seen"]; ok && raw != "" {
		if seen, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			record.LastSeen = &seen
		}
	}
	return record, nil
}

func sessionsKey(userID int) string {
	return sessionsKeyPrefix + strconv.Itoa(userID)
}

func recordKey(userID int) string {
	return recordKeyPrefix + strconv.Itoa(userID)
}
