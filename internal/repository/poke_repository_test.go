package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/gatherly/internal/model"
)

const pokeWindow = 30 * time.Minute

func pokeStoreContract(t *testing.T, store PokeStore) {
	ctx := context.Background()
	record := func(sender, recipient, event string, at time.Time) {
		require.NoError(t, store.Record(ctx, &model.PokeAttempt{
			ID: uuid.NewString(), SenderID: sender, RecipientID: recipient, EventID: event, SentAt: at,
		}))
	}

	record("alice", "bob", "e1", t0)
	record("alice", "bob", "e1", t0.Add(10*time.Minute))
	record("alice", "bob", "e1", t0.Add(20*time.Minute))
	record("alice", "bob", "e2", t0.Add(20*time.Minute))
	record("alice", "carol", "e1", t0.Add(20*time.Minute))

	now := t0.Add(25 * time.Minute)
	cnt, oldest, err := store.Stats(ctx, "alice", "bob", "e1", now.Add(-pokeWindow))
	require.NoError(t, err)
	assert.Equal(t, int64(3), cnt)
	assert.True(t, oldest.Equal(t0), "oldest=%s", oldest)

	// 第一条移出窗口
	now = t0.Add(35 * time.Minute)
	cnt, oldest, err = store.Stats(ctx, "alice", "bob", "e1", now.Add(-pokeWindow))
	require.NoError(t, err)
	assert.Equal(t, int64(2), cnt)
	assert.True(t, oldest.Equal(t0.Add(10*time.Minute)))

	cnt, oldest, err = store.Stats(ctx, "bob", "alice", "e1", now.Add(-pokeWindow))
	require.NoError(t, err)
	assert.Zero(t, cnt)
	assert.True(t, oldest.IsZero())
}

func TestPokeRepository_Stats(t *testing.T) {
	pokeStoreContract(t, NewPokeRepository(newTestDB(t)))
}

func TestRedisPokeStore_Stats(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pokeStoreContract(t, NewRedisPokeStore(client, pokeWindow))
}

func TestRedisPokeStore_TrimsExpiredHistory(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisPokeStore(client, pokeWindow)
	ctx := context.Background()

	for _, at := range []time.Time{t0, t0.Add(time.Hour)} {
		require.NoError(t, store.Record(ctx, &model.PokeAttempt{
			ID: uuid.NewString(), SenderID: "alice", RecipientID: "bob", EventID: "e1", SentAt: at,
		}))
	}

	members, err := mr.ZMembers(pokeKey("alice", "bob", "e1"))
	require.NoError(t, err)
	assert.Len(t, members, 1)
	assert.Equal(t, pokeWindow, mr.TTL(pokeKey("alice", "bob", "e1")))
}
