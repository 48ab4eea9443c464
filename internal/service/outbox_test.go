package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/gatherly/config"
	"github.com/d60-Lab/gatherly/internal/model"
	"github.com/d60-Lab/gatherly/internal/repository"
	"github.com/d60-Lab/gatherly/internal/sender"
	"github.com/d60-Lab/gatherly/pkg/database"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.InitDB(&config.Config{Database: config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

// fakeMail 记录发送的收件人；reject 中的地址返回失败
type fakeMail struct {
	mu     sync.Mutex
	sent   []string
	reject map[string]bool
	err    error
}

func (f *fakeMail) Send(_ context.Context, msg sender.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	var failed []string
	for _, r := range msg.Recipients {
		if f.reject[r] {
			failed = append(failed, r)
			continue
		}
		f.sent = append(f.sent, r)
	}
	if len(failed) > 0 {
		return &sender.BatchError{Failed: []sender.FailedBatch{{Recipients: failed, Err: errors.New("mailbox unavailable")}}}
	}
	return nil
}

func (f *fakeMail) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// captureQueue 收集入队任务，由测试决定何时投递
type captureQueue struct {
	mu   sync.Mutex
	jobs []DeliveryJob
}

func (q *captureQueue) Enqueue(job DeliveryJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return true
}

func (q *captureQueue) Jobs() []DeliveryJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeliveryJob(nil), q.jobs...)
}

type outboxFixture struct {
	db        *gorm.DB
	txm       repository.TxManager
	repo      repository.OutboxRepository
	mail      *fakeMail
	queue     *captureQueue
	deliverer *Deliverer
	remind    *OutboxSender
	sweeper   *RecoverySweeper
	clock     time.Time
}

func newOutboxFixture(t *testing.T, maxAttempts int) *outboxFixture {
	db := newTestDB(t)
	f := &outboxFixture{
		db:    db,
		txm:   repository.NewTxManager(db),
		repo:  repository.NewOutboxRepository(db),
		mail:  &fakeMail{reject: map[string]bool{}},
		queue: &captureQueue{},
		clock: t0,
	}
	now := func() time.Time { return f.clock }
	f.deliverer = NewDeliverer(f.repo, f.mail, maxAttempts)
	f.deliverer.now = now
	f.remind = NewOutboxSender(f.repo, f.queue, 5*time.Minute)
	f.remind.now = now
	f.sweeper = NewRecoverySweeper(f.repo, f.deliverer, SweeperConfig{
		Interval: time.Minute, SoftLockTTL: 5 * time.Minute, BatchSize: 100, MaxAttempts: maxAttempts,
	})
	f.sweeper.now = now
	return f
}

func (f *outboxFixture) remindIn(t *testing.T, n *model.Notification) *model.OutboxMessage {
	t.Helper()
	var msg *model.OutboxMessage
	err := f.txm.WithTransaction(context.Background(), func(ctx context.Context) error {
		var err error
		msg, err = f.remind.Remind(ctx, n)
		return err
	})
	require.NoError(t, err)
	return msg
}

func notification(recipients ...string) *model.Notification {
	return &model.Notification{
		CorrelationID: "event-42",
		Recipients:    recipients,
		Subject:       "Event tomorrow",
		Body:          "<p>See you there</p>",
	}
}

func TestRemind_RequiresTransaction(t *testing.T) {
	f := newOutboxFixture(t, 5)
	_, err := f.remind.Remind(context.Background(), notification("a@a.com"))
	assert.ErrorIs(t, err, ErrTransactionRequired)
}

func TestRemind_ValidatesNotification(t *testing.T) {
	f := newOutboxFixture(t, 5)
	err := f.txm.WithTransaction(context.Background(), func(ctx context.Context) error {
		_, err := f.remind.Remind(ctx, notification("not-an-email"))
		return err
	})
	assert.Error(t, err)
	assert.Empty(t, f.queue.Jobs())
}

func TestRemind_WritesOutboxAndDispatchesAfterCommit(t *testing.T) {
	f := newOutboxFixture(t, 5)
	ctx := context.Background()

	err := f.txm.WithTransaction(ctx, func(ctx context.Context) error {
		msg, err := f.remind.Remind(ctx, notification("a@a.com", "A@a.com", "b@b.com"))
		require.NoError(t, err)
		assert.Equal(t, model.OutboxStatusPending, msg.Status)
		assert.Empty(t, f.queue.Jobs(), "not dispatched before commit")
		return nil
	})
	require.NoError(t, err)

	jobs := f.queue.Jobs()
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, []string{"a@a.com", "b@b.com"}, job.Message.Recipients)

	remaining, err := f.repo.RemainingRecipients(ctx, job.MessageID)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)

	require.NoError(t, f.deliverer.Deliver(ctx, job))
	remaining, err = f.repo.RemainingRecipients(ctx, job.MessageID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	// 全部送达即删除消息
	_, err = f.repo.Get(ctx, job.MessageID)
	assert.ErrorIs(t, err, repository.ErrOutboxNotFound)

	// 重复确认是空操作
	require.NoError(t, f.deliverer.Deliver(ctx, job))
	_, err = f.repo.Get(ctx, job.MessageID)
	assert.ErrorIs(t, err, repository.ErrOutboxNotFound)

	f.clock = t0.Add(time.Hour)
	res, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
}

func TestRemind_RollbackLeavesNothing(t *testing.T) {
	f := newOutboxFixture(t, 5)
	boom := errors.New("domain action failed")
	err := f.txm.WithTransaction(context.Background(), func(ctx context.Context) error {
		_, err := f.remind.Remind(ctx, notification("a@a.com"))
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.queue.Jobs())

	list, err := f.repo.List(context.Background(), "", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeliver_PartialFailureKeepsUndeliveredForSweeper(t *testing.T) {
	f := newOutboxFixture(t, 5)
	ctx := context.Background()
	f.mail.reject["b@b.com"] = true

	msg := f.remindIn(t, notification("a@a.com", "b@b.com", "c@c.com"))
	job := f.queue.Jobs()[0]
	require.Error(t, f.deliverer.Deliver(ctx, job))

	remaining, err := f.repo.RemainingRecipients(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b@b.com"}, remaining)
	got, err := f.repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusFailed, got.Status)
	assert.Contains(t, got.FailReason, "mailbox unavailable")
	assert.Nil(t, got.SoftLockUntil)

	// 恢复后扫描只补发 b
	delete(f.mail.reject, "b@b.com")
	f.clock = t0.Add(time.Minute)
	res, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Claimed: 1, Dispatched: 1, Delivered: 1}, res)
	assert.Equal(t, []string{"a@a.com", "c@c.com", "b@b.com"}, f.mail.Sent())

	_, err = f.repo.Get(ctx, msg.ID)
	assert.ErrorIs(t, err, repository.ErrOutboxNotFound)
}

func TestSweeper_DrainsMessageLeftWithoutRecipients(t *testing.T) {
	f := newOutboxFixture(t, 5)
	ctx := context.Background()
	msg := f.remindIn(t, notification("a@a.com"))

	// 进程在删除收件人之后、删除消息之前退出
	_, err := f.repo.DeleteRecipients(ctx, msg.ID, []string{"a@a.com"})
	require.NoError(t, err)

	f.clock = t0.Add(6 * time.Minute)
	res, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Claimed: 1, Drained: 1}, res)
	assert.Empty(t, f.mail.Sent())
	_, err = f.repo.Get(ctx, msg.ID)
	assert.ErrorIs(t, err, repository.ErrOutboxNotFound)
}

func TestDeliver_MultiByteFailReasonStaysValidUTF8(t *testing.T) {
	f := newOutboxFixture(t, 5)
	ctx := context.Background()
	f.mail.err = &sender.ProviderError{Provider: "provider", StatusCode: 400, Message: strings.Repeat("配额", 400)}

	msg := f.remindIn(t, notification("a@a.com"))
	require.Error(t, f.deliverer.Deliver(ctx, f.queue.Jobs()[0]))

	got, err := f.repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Nil(t, got.SoftLockUntil)
	assert.True(t, utf8.ValidString(got.FailReason))
	assert.LessOrEqual(t, len(got.FailReason), maxFailReason)
	assert.Greater(t, len(got.FailReason), maxFailReason-utf8.UTFMax)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abc", 2))
	// "配" 占 3 字节，不能被截成半个字符
	assert.Equal(t, "a", truncate("a配b", 3))
	assert.Equal(t, "a配", truncate("a配b", 4))
	assert.Equal(t, "", truncate("配", 2))
}

func TestSweeper_StopDuringDeliveryKeepsAttemptBudget(t *testing.T) {
	f := newOutboxFixture(t, 5)
	msg := f.remindIn(t, notification("a@a.com", "b@b.com"))
	f.clock = t0.Add(6 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopping := sender.SenderFunc(func(ctx context.Context, _ sender.Message) error {
		cancel()
		return ctx.Err()
	})
	d := NewDeliverer(f.repo, stopping, 5)
	d.now = func() time.Time { return f.clock }
	sw := NewRecoverySweeper(f.repo, d, SweeperConfig{SoftLockTTL: 5 * time.Minute, MaxAttempts: 5})
	sw.now = func() time.Time { return f.clock }

	res, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dispatched)

	got, err := f.repo.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusPending, got.Status)
	assert.Zero(t, got.AttemptCount)
	assert.Empty(t, got.FailReason)
	assert.Nil(t, got.SoftLockUntil, "lock released for the next sweep")
	assert.Len(t, got.Recipients, 2)

	// 下一轮立即认领并送达
	res, err = f.sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.ElementsMatch(t, []string{"a@a.com", "b@b.com"}, f.mail.Sent())
}

func TestSweeper_RespectsSoftLockOfInFlightDispatch(t *testing.T) {
	f := newOutboxFixture(t, 5)
	ctx := context.Background()
	msg := f.remindIn(t, notification("a@a.com"))

	// 首次投递仍持有软锁（进程可能在投递中崩溃）
	f.clock = t0.Add(4 * time.Minute)
	res, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
	assert.Empty(t, f.mail.Sent())

	// 软锁过期后重新投递
	f.clock = t0.Add(6 * time.Minute)
	res, err = f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, []string{"a@a.com"}, f.mail.Sent())

	remaining, err := f.repo.RemainingRecipients(ctx, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSweeper_StopsAtMaxAttempts(t *testing.T) {
	f := newOutboxFixture(t, 2)
	ctx := context.Background()
	f.mail.err = &sender.ProviderError{Provider: "test", StatusCode: 503, Message: strings.Repeat("x", 2000), Temporary: true}

	msg := f.remindIn(t, notification("a@a.com"))
	require.Error(t, f.deliverer.Deliver(ctx, f.queue.Jobs()[0]))

	f.clock = t0.Add(time.Minute)
	res, err := f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	f.clock = t0.Add(2 * time.Minute)
	res, err = f.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed, "exhausted message is kept for audit only")

	got, err := f.repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutboxStatusFailed, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Len(t, got.FailReason, maxFailReason)
	assert.Len(t, got.Recipients, 1)
}

func TestDispatcher_DeliversAsynchronously(t *testing.T) {
	f := newOutboxFixture(t, 5)
	ctx := context.Background()
	d := NewDispatcher(f.deliverer, 16, time.Second)
	stop := d.Start(2)

	f.remind.queue = d
	msg := f.remindIn(t, notification("a@a.com", "b@b.com"))

	assert.Eventually(t, func() bool {
		remaining, err := f.repo.RemainingRecipients(ctx, msg.ID)
		return err == nil && len(remaining) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(d.Metrics()) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, stop(ctx))
	assert.False(t, d.Enqueue(DeliveryJob{MessageID: "late"}))
}

func TestDispatcher_FullQueueRejects(t *testing.T) {
	d := NewDispatcher(nil, 1, time.Second)
	assert.True(t, d.Enqueue(DeliveryJob{MessageID: "1"}))
	assert.False(t, d.Enqueue(DeliveryJob{MessageID: "2"}))
	assert.Equal(t, 1, d.QueueLen())
}

func TestOutboxQuery_Paging(t *testing.T) {
	f := newOutboxFixture(t, 5)
	for i := 0; i < 3; i++ {
		f.clock = t0.Add(time.Duration(i) * time.Second)
		f.remindIn(t, notification("a@a.com"))
	}
	q := NewOutboxQuery(f.repo)

	page, err := q.List(context.Background(), "", 1, 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	page, err = q.List(context.Background(), "", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	page, err = q.List(context.Background(), model.OutboxStatusSent, 1, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}
