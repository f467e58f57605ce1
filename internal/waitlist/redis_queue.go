package waitlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue stores each slot's waitlist as a Redis list. Every operation is
// a single list command, so concurrent poppers never receive the same head.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func queueKey(slotID uuid.UUID) string {
	return "slot_queue:" + slotID.String()
}

func (q *RedisQueue) Push(ctx context.Context, slotID, userID uuid.UUID) error {
	if err := q.client.RPush(ctx, queueKey(slotID), userID.String()).Err(); err != nil {
		return fmt.Errorf("push waitlist entry: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, slotID uuid.UUID) (string, bool, error) {
	entry, err := q.client.LPop(ctx, queueKey(slotID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pop waitlist entry: %w", err)
	}
	return entry, true, nil
}

func (q *RedisQueue) PushFront(ctx context.Context, slotID uuid.UUID, entry string) error {
	if err := q.client.LPush(ctx, queueKey(slotID), entry).Err(); err != nil {
		return fmt.Errorf("restore waitlist head: %w", err)
	}
	return nil
}

func (q *RedisQueue) Contains(ctx context.Context, slotID, userID uuid.UUID) (bool, error) {
	_, err := q.client.LPos(ctx, queueKey(slotID), userID.String(), redis.LPosArgs{}).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup waitlist entry: %w", err)
	}
	return true, nil
}

func (q *RedisQueue) Remove(ctx context.Context, slotID, userID uuid.UUID) (int64, error) {
	n, err := q.client.LRem(ctx, queueKey(slotID), 0, userID.String()).Result()
	if err != nil {
		return 0, fmt.Errorf("remove waitlist entry: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) Size(ctx context.Context, slotID uuid.UUID) (int64, error) {
	n, err := q.client.LLen(ctx, queueKey(slotID)).Result()
	if err != nil {
		return 0, fmt.Errorf("waitlist size: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) Clear(ctx context.Context, slotID uuid.UUID) error {
	if err := q.client.Del(ctx, queueKey(slotID)).Err(); err != nil {
		return fmt.Errorf("clear waitlist: %w", err)
	}
	return nil
}
