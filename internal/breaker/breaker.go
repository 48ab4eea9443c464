// Package breaker 按邮件供应商维护熔断器。
//
// 失败率状态机由 sony/gobreaker 实现；额外的 forced 标记由配额错误触发，
// 强制打开后不受常规冷却时间影响，直到重置策略到期或显式 Reset。
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/d60-Lab/gatherly/pkg/logger"
)

// ErrOpen is returned without calling the guarded function.
var ErrOpen = errors.New("circuit breaker open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ResetPolicy decides when a forced-open breaker closes again.
type ResetPolicy string

const (
	// ResetNextUTCDay clears the forced flag at the next 00:00 UTC.
	ResetNextUTCDay ResetPolicy = "next_utc_day"
	// ResetManual only clears it through Registry.Reset.
	ResetManual ResetPolicy = "manual"
)

type Settings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
	QuotaReset          ResetPolicy
	// IsQuotaExceeded reports whether err is the provider's permanent quota signal.
	IsQuotaExceeded func(err error) bool
	// IsFailure reports whether err counts against the provider.
	// nil counts every error except caller cancellation.
	IsFailure func(err error) bool
}

type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

type Snapshot struct {
	Provider    string     `json:"provider"`
	State       State      `json:"state"`
	Forced      bool       `json:"forced"`
	ForcedUntil *time.Time `json:"forced_until,omitempty"`
	Counts      Counts     `json:"counts"`
}

// Breaker guards one provider.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time
	onChange func(name string, from, to State)

	mu          sync.RWMutex
	cb          *gobreaker.CircuitBreaker
	forced      bool
	forcedUntil time.Time // zero with forced=true means manual reset only
}

func newBreaker(name string, s Settings, now func() time.Time, onChange func(string, State, State)) *Breaker {
	if s.QuotaReset == "" {
		s.QuotaReset = ResetNextUTCDay
	}
	b := &Breaker{name: name, settings: s, now: now, onChange: onChange}
	b.cb = b.newGobreaker()
	return b
}

func (b *Breaker) newGobreaker() *gobreaker.CircuitBreaker {
	s := b.settings
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mail-" + b.name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if s.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= s.ConsecutiveFailures {
				return true
			}
			if counts.Requests == 0 || counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return s.FailureRatio > 0 && ratio >= s.FailureRatio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.notify(convertState(from), convertState(to))
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if s.IsQuotaExceeded != nil && s.IsQuotaExceeded(err) {
				return false
			}
			if s.IsFailure != nil {
				return !s.IsFailure(err)
			}
			// 调用方取消不代表供应商故障
			return !errors.Is(err, context.Canceled)
		},
	})
}

func (b *Breaker) Name() string { return b.name }

// Execute runs fn unless the breaker is open. A quota error returned by fn
// forces the breaker open.
func (b *Breaker) Execute(fn func() error) error {
	if b.forcedOpen() {
		return fmt.Errorf("%w: %s: provider quota exhausted", ErrOpen, b.name)
	}

	b.mu.RLock()
	cb := b.cb
	b.mu.RUnlock()

	_, err := cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %w", ErrOpen, b.name, err)
	}
	if err != nil && b.settings.IsQuotaExceeded != nil && b.settings.IsQuotaExceeded(err) {
		b.ForceOpen()
	}
	return err
}

// IsOpen reports whether a call would be rejected right now.
func (b *Breaker) IsOpen() bool {
	if b.forcedOpen() {
		return true
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cb.State() == gobreaker.StateOpen
}

func (b *Breaker) State() State {
	if b.forcedOpen() {
		return StateOpen
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return convertState(b.cb.State())
}

// ForceOpen trips the breaker regardless of its failure counters.
func (b *Breaker) ForceOpen() {
	now := b.now()
	b.mu.Lock()
	already := b.forced
	prev := convertState(b.cb.State())
	b.forced = true
	if b.settings.QuotaReset == ResetNextUTCDay {
		b.forcedUntil = nextUTCDay(now)
	} else {
		b.forcedUntil = time.Time{}
	}
	until := b.forcedUntil
	b.mu.Unlock()

	if already {
		return
	}
	logger.Error("mail provider quota exceeded, circuit forced open",
		zap.String("provider", b.name),
		zap.String("reset_policy", string(b.settings.QuotaReset)),
		zap.Time("forced_until", until),
	)
	if prev != StateOpen {
		b.notify(prev, StateOpen)
	}
}

// Reset closes the breaker and clears its counters and forced flag.
func (b *Breaker) Reset() {
	b.mu.Lock()
	prev := convertState(b.cb.State())
	if b.forced {
		prev = StateOpen
	}
	b.forced = false
	b.forcedUntil = time.Time{}
	b.cb = b.newGobreaker()
	b.mu.Unlock()

	logger.Info("mail provider circuit reset", zap.String("provider", b.name))
	if prev != StateClosed {
		b.notify(prev, StateClosed)
	}
}

func (b *Breaker) Snapshot() Snapshot {
	forced := b.forcedOpen()
	b.mu.RLock()
	defer b.mu.RUnlock()
	c := b.cb.Counts()
	snap := Snapshot{
		Provider: b.name,
		State:    convertState(b.cb.State()),
		Forced:   forced,
		Counts: Counts{
			Requests:             c.Requests,
			TotalSuccesses:       c.TotalSuccesses,
			TotalFailures:        c.TotalFailures,
			ConsecutiveSuccesses: c.ConsecutiveSuccesses,
			ConsecutiveFailures:  c.ConsecutiveFailures,
		},
	}
	if forced {
		snap.State = StateOpen
		if !b.forcedUntil.IsZero() {
			until := b.forcedUntil
			snap.ForcedUntil = &until
		}
	}
	return snap
}

// forcedOpen checks the forced flag and expires it once its reset time passed.
func (b *Breaker) forcedOpen() bool {
	b.mu.RLock()
	forced, until := b.forced, b.forcedUntil
	b.mu.RUnlock()
	if !forced {
		return false
	}
	if until.IsZero() || b.now().Before(until) {
		return true
	}

	b.mu.Lock()
	// 双重检查：可能已被并发调用重置
	if b.forced && !b.forcedUntil.IsZero() && !b.now().Before(b.forcedUntil) {
		b.forced = false
		b.forcedUntil = time.Time{}
		b.cb = b.newGobreaker()
		b.mu.Unlock()
		logger.Info("mail provider quota period rolled over, circuit closed", zap.String("provider", b.name))
		b.notify(StateOpen, StateClosed)
		return false
	}
	still := b.forced
	b.mu.Unlock()
	return still
}

func (b *Breaker) notify(from, to State) {
	switch to {
	case StateOpen:
		logger.Error("mail provider circuit opened, requests fail fast",
			zap.String("provider", b.name), zap.String("from", string(from)))
	case StateHalfOpen:
		logger.Info("mail provider circuit half-open, probing",
			zap.String("provider", b.name), zap.String("from", string(from)))
	case StateClosed:
		logger.Info("mail provider circuit closed",
			zap.String("provider", b.name), zap.String("from", string(from)))
	}
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

func nextUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

func convertState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
