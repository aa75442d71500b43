package detection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"listing_filter/internal/domain"
)

// CountApplier receives aggregated increments.
type CountApplier interface {
	AddDetectionCounts(ctx context.Context, counts map[uint]int64) error
}

// RedisQueue keeps increments in a Redis list shared by every instance.
// Flush reads a prefix of the list, applies it and trims exactly that prefix.
// A crash between apply and trim re-applies the prefix on the next flush.
type RedisQueue struct {
	client  *redis.Client
	key     string
	counts  CountApplier
	lockTTL time.Duration
	logger  *slog.Logger
}

var _ domain.DetectionQueue = (*RedisQueue)(nil)

func NewRedisQueue(client *redis.Client, key string, counts CountApplier, logger *slog.Logger) *RedisQueue {
	if key == "" {
		key = "listing_filter:detections"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{client: client, key: key, counts: counts, lockTTL: 30 * time.Second, logger: logger}
}

func (q *RedisQueue) Enqueue(ctx context.Context, entries []domain.Increment) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]any, 0, len(entries))
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		values = append(values, b)
	}
	return q.client.RPush(ctx, q.key, values...).Err()
}

var errFlushLocked = errors.New("another flush holds the queue lock")

// unlockScript deletes the lock only while it still holds this flusher's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Flush serializes flushers with a short-lived lock so two instances never
// apply the same prefix concurrently.
func (q *RedisQueue) Flush(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 1000
	}

	lockKey := q.key + ":lock"
	token := uuid.NewString()
	ok, err := q.client.SetNX(ctx, lockKey, token, q.lockTTL).Result()
	if err != nil {
		return 0, err
	}
	if !ok {
		q.logger.Debug("detection flush skipped", "reason", errFlushLocked)
		return 0, nil
	}
	defer q.unlock(lockKey, token)

	raw, err := q.client.LRange(ctx, q.key, 0, int64(limit-1)).Result()
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, nil
	}

	counts := make(map[uint]int64)
	for _, item := range raw {
		var inc domain.Increment
		if err := json.Unmarshal([]byte(item), &inc); err != nil || inc.KeywordID == 0 {
			q.logger.Warn("discarding malformed detection entry", "entry", item)
			continue
		}
		counts[inc.KeywordID]++
	}

	if len(counts) > 0 {
		if err := q.counts.AddDetectionCounts(ctx, counts); err != nil {
			return 0, fmt.Errorf("apply detection counts: %w", err)
		}
	}
	if err := q.client.LTrim(ctx, q.key, int64(len(raw)), -1).Err(); err != nil {
		return 0, fmt.Errorf("trim detection queue: %w", err)
	}
	return len(raw), nil
}

func (q *RedisQueue) unlock(lockKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := unlockScript.Run(ctx, q.client, []string{lockKey}, token).Err(); err != nil {
		q.logger.Warn("detection flush unlock failed", "error", err)
	}
}

// Len reports the number of queued entries.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
