package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/gatherly/internal/repository"
)

func TestPokeRateLimiter_WindowScenario(t *testing.T) {
	db := newTestDB(t)
	txm := repository.NewTxManager(db)
	stores := map[string]func(t *testing.T) repository.PokeStore{
		"database": func(*testing.T) repository.PokeStore { return repository.NewPokeRepository(db) },
		"redis": func(t *testing.T) repository.PokeStore {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return repository.NewRedisPokeStore(client, 30*time.Minute)
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			l := NewPokeRateLimiter(newStore(t), txm, 30*time.Minute, 10)
			ctx := context.Background()
			event := "event-" + name

			for i := 0; i < 10; i++ {
				d, err := l.CheckAndRecord(ctx, "alice", "bob", event, t0.Add(time.Duration(i)*time.Minute))
				require.NoError(t, err)
				require.True(t, d.Allowed, "attempt %d", i+1)
			}

			d, err := l.CheckAndRecord(ctx, "alice", "bob", event, t0.Add(10*time.Minute))
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, 20, d.RemainingMinutes)

			// 其他接收者或活动不受影响
			d, err = l.Check(ctx, "alice", "carol", event, t0.Add(10*time.Minute))
			require.NoError(t, err)
			assert.True(t, d.Allowed)

			// 最早一次移出窗口后允许
			d, err = l.CheckAndRecord(ctx, "alice", "bob", event, t0.Add(30*time.Minute+time.Second))
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		})
	}
}

func TestRemainingMinutes(t *testing.T) {
	assert.Equal(t, 1, remainingMinutes(0))
	assert.Equal(t, 1, remainingMinutes(-time.Minute))
	assert.Equal(t, 1, remainingMinutes(10*time.Second))
	assert.Equal(t, 2, remainingMinutes(90*time.Second))
	assert.Equal(t, 30, remainingMinutes(30*time.Minute))
}

type recordingPusher struct {
	mu     sync.Mutex
	pushed []PokeRequest
}

func (p *recordingPusher) Push(_ context.Context, req PokeRequest) error {
	p.mu.Lock()
	p.pushed = append(p.pushed, req)
	p.mu.Unlock()
	return nil
}

func TestPokeService_Poke(t *testing.T) {
	db := newTestDB(t)
	txm := repository.NewTxManager(db)
	pusher := &recordingPusher{}
	svc := NewPokeService(NewPokeRateLimiter(repository.NewPokeRepository(db), txm, 30*time.Minute, 2), txm, pusher)
	clock := t0
	svc.now = func() time.Time { return clock }
	ctx := context.Background()
	req := PokeRequest{SenderID: "alice", RecipientID: "bob", EventID: "e1"}

	_, err := svc.Poke(ctx, PokeRequest{SenderID: "alice", RecipientID: "alice", EventID: "e1"})
	assert.ErrorIs(t, err, ErrPokeSelf)

	for i := 0; i < 2; i++ {
		clock = t0.Add(time.Duration(i) * time.Minute)
		d, err := svc.Poke(ctx, req)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	clock = t0.Add(5 * time.Minute)
	d, err := svc.Poke(ctx, req)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 25, d.RemainingMinutes)
	assert.Len(t, pusher.pushed, 2, "rejected poke is not pushed")
}
