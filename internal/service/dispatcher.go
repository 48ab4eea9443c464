package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/gatherly/pkg/logger"
)

// JobQueue 异步投递入口
type JobQueue interface {
	// Enqueue 队列已满或已停止时返回 false，消息由补偿扫描兜底
	Enqueue(job DeliveryJob) bool
}

// Dispatcher 本地异步投递执行器：请求路径只入队，不等待服务商
type Dispatcher struct {
	deliverer  *Deliverer
	ch         chan DeliveryJob
	jobTimeout time.Duration
	metricsCh  chan time.Duration

	mu      sync.RWMutex
	stopped bool
}

func NewDispatcher(deliverer *Deliverer, queueSize int, jobTimeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if jobTimeout <= 0 {
		jobTimeout = 2 * time.Minute
	}
	return &Dispatcher{
		deliverer:  deliverer,
		ch:         make(chan DeliveryJob, queueSize),
		jobTimeout: jobTimeout,
		metricsCh:  make(chan time.Duration, 65536),
	}
}

// Start 启动 workers 个 worker；返回的停止函数等待进行中的投递结束。
// 队列中尚未处理的任务丢弃，其软锁过期后由补偿扫描重新投递。
func (d *Dispatcher) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case job := <-d.ch:
					d.process(job)
				case <-stopCh:
					return
				}
			}
		}()
	}

	return func(ctx context.Context) error {
		d.mu.Lock()
		if !d.stopped {
			d.stopped = true
			close(stopCh)
		}
		d.mu.Unlock()

		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			if n := len(d.ch); n > 0 {
				logger.Info("dispatcher stopped with queued jobs, sweeper will pick them up", zap.Int("queued", n))
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) Enqueue(job DeliveryJob) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return false
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	select {
	case d.ch <- job:
		return true
	default:
		logger.Warn("dispatch queue full, leave message to sweeper",
			zap.String("message_id", job.MessageID),
			zap.Int("queue_size", cap(d.ch)),
		)
		return false
	}
}

// QueueLen 当前队列长度（采样值）
func (d *Dispatcher) QueueLen() int { return len(d.ch) }

// Metrics 入队到投递结束的耗时，每处理一条发送一次；无人读取时丢弃
func (d *Dispatcher) Metrics() <-chan time.Duration { return d.metricsCh }

func (d *Dispatcher) process(job DeliveryJob) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dispatch panic", zap.String("message_id", job.MessageID), zap.Any("panic", r))
			sentry.CurrentHub().Recover(fmt.Errorf("dispatch %s: %v", job.MessageID, r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.jobTimeout)
	defer cancel()
	_ = d.deliverer.Deliver(ctx, job)

	latency := time.Since(job.EnqueuedAt)
	select {
	case d.metricsCh <- latency:
	default:
	}
	logger.Debug("dispatch job done", zap.String("message_id", job.MessageID), zap.Duration("latency", latency))
}
