package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/gatherly/internal/model"
)

// RedisPokeStore uses one sorted set per (sender, recipient, event); score is sent-at in milliseconds.
type RedisPokeStore struct {
	client *redis.Client
	window time.Duration
}

// NewRedisPokeStore window bounds how long history is kept per key.
func NewRedisPokeStore(client *redis.Client, window time.Duration) *RedisPokeStore {
	return &RedisPokeStore{client: client, window: window}
}

func pokeKey(senderID, recipientID, eventID string) string {
	return fmt.Sprintf("poke:%s:%s:%s", senderID, recipientID, eventID)
}

func (s *RedisPokeStore) Stats(ctx context.Context, senderID, recipientID, eventID string, since time.Time) (int64, time.Time, error) {
	key := pokeKey(senderID, recipientID, eventID)
	from := strconv.FormatInt(since.UnixMilli(), 10)

	pipe := s.client.Pipeline()
	countCmd := pipe.ZCount(ctx, key, from, "+inf")
	oldestCmd := pipe.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: from, Max: "+inf", Offset: 0, Count: 1})
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, time.Time{}, fmt.Errorf("redis poke stats: %w", err)
	}

	cnt := countCmd.Val()
	oldest := oldestCmd.Val()
	if cnt == 0 || len(oldest) == 0 {
		return cnt, time.Time{}, nil
	}
	return cnt, time.UnixMilli(int64(oldest[0].Score)).UTC(), nil
}

func (s *RedisPokeStore) Record(ctx context.Context, attempt *model.PokeAttempt) error {
	key := pokeKey(attempt.SenderID, attempt.RecipientID, attempt.EventID)
	at := attempt.SentAt.UnixMilli()
	expired := strconv.FormatInt(attempt.SentAt.Add(-s.window).UnixMilli(), 10)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(at), Member: attempt.ID})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+expired)
		pipe.Expire(ctx, key, s.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis poke record: %w", err)
	}
	return nil
}
