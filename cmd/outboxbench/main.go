// Command outboxbench 本地压测：事务内写 outbox 的延迟、异步投递落地延迟，
// 以及多个扫描实例并发认领同一批过期消息时的认领结果。
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/d60-Lab/gatherly/config"
	"github.com/d60-Lab/gatherly/internal/bootstrap"
	"github.com/d60-Lab/gatherly/internal/model"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func main() {
	cfg := must(config.Load())
	ctx := context.Background()
	app := must(bootstrap.Build(ctx, cfg, bootstrap.Options{}))
	defer app.Close()

	MESSAGES := envInt("MESSAGES", 500)
	RECIPIENTS := envInt("RECIPIENTS", 120)
	WORKERS := envInt("WORKERS", cfg.Outbox.DispatchWorkers)
	SWEEPERS := envInt("SWEEPERS", 4)
	STALE := envInt("STALE", 1000)

	recipients := make([]string, RECIPIENTS)
	for i := range recipients {
		recipients[i] = fmt.Sprintf("guest%04d@bench.example", i)
	}

	// 1) Remind 事务延迟与投递落地延迟
	stop := app.Dispatcher.Start(WORKERS)
	remindDurations := make([]time.Duration, 0, MESSAGES)
	for i := 0; i < MESSAGES; i++ {
		st := time.Now()
		err := app.TxManager.WithTransaction(ctx, func(ctx context.Context) error {
			_, err := app.OutboxSender.Remind(ctx, &model.Notification{
				CorrelationID: fmt.Sprintf("bench-%d", i),
				Recipients:    recipients,
				Subject:       "bench",
				Body:          "bench",
			})
			return err
		})
		if err != nil {
			panic(err)
		}
		remindDurations = append(remindDurations, time.Since(st))
	}

	land := make([]time.Duration, 0, MESSAGES)
	timeout := time.After(2 * time.Minute)
collect:
	for len(land) < MESSAGES {
		select {
		case d := <-app.Dispatcher.Metrics():
			land = append(land, d)
		case <-timeout:
			fmt.Printf("timeout while waiting for delivery metrics: got=%d want=%d\n", len(land), MESSAGES)
			break collect
		}
	}
	_ = stop(ctx)

	fmt.Printf("MESSAGES=%d RECIPIENTS=%d WORKERS=%d\n", MESSAGES, RECIPIENTS, WORKERS)
	fmt.Printf("Remind tx latency: avg=%v p95=%v p99=%v\n", avg(remindDurations), pct(remindDurations, 0.95), pct(remindDurations, 0.99))
	fmt.Printf("Delivery landing (enqueue->settled): samples=%d avg=%v p95=%v p99=%v\n", len(land), avg(land), pct(land, 0.95), pct(land, 0.99))

	// 2) 并发认领：STALE 条过期消息由 SWEEPERS 个实例同时认领，总数应恰好等于 STALE
	for i := 0; i < STALE; i++ {
		msg := &model.OutboxMessage{
			ID:            fmt.Sprintf("stale-%d-%d", time.Now().UnixNano(), i),
			CorrelationID: "bench-stale",
			Subject:       "bench",
			Body:          "bench",
			Status:        model.OutboxStatusPending,
			CreatedAt:     time.Now().UTC().Add(-time.Hour),
		}
		if err := app.Outbox.Create(ctx, msg, recipients[:1]); err != nil {
			panic(err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	claimDurations := make([]time.Duration, 0)
	var wg sync.WaitGroup
	for w := 0; w < SWEEPERS; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				st := time.Now()
				claimed, err := app.Outbox.ClaimStale(ctx, time.Now(), cfg.Outbox.SoftLockTTL(), cfg.Outbox.SweepBatchSize, 0)
				if err != nil {
					panic(err)
				}
				mu.Lock()
				claimDurations = append(claimDurations, time.Since(st))
				for _, m := range claimed {
					seen[m.ID]++
				}
				mu.Unlock()
				if len(claimed) == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	dup := 0
	for _, n := range seen {
		if n > 1 {
			dup++
		}
	}
	fmt.Printf("SWEEPERS=%d STALE=%d\n", SWEEPERS, STALE)
	fmt.Printf("Claim latency: calls=%d avg=%v p95=%v p99=%v\n", len(claimDurations), avg(claimDurations), pct(claimDurations, 0.95), pct(claimDurations, 0.99))
	fmt.Printf("Claimed=%d duplicates=%d\n", len(seen), dup)
}
