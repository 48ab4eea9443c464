package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrQuotaExceeded 供应商当日配额耗尽；不可重试，触发熔断强制打开
var ErrQuotaExceeded = errors.New("provider quota exceeded")

// ProviderError 供应商返回的错误
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	// Temporary 可重试（限流、5xx 等）
	Temporary bool
	// Quota 命中配额耗尽签名
	Quota bool
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	if e.Quota {
		return ErrQuotaExceeded
	}
	return nil
}

// FailedBatch 一组因同一原因未送达的收件人
type FailedBatch struct {
	Recipients []string
	Err        error
}

// BatchError 部分失败：仅 Failed 中的收件人未送达
type BatchError struct {
	Failed []FailedBatch
}

func (e *BatchError) Error() string {
	n := 0
	for _, f := range e.Failed {
		n += len(f.Recipients)
	}
	if len(e.Failed) == 1 {
		return fmt.Sprintf("%d recipient(s) undelivered: %v", n, e.Failed[0].Err)
	}
	return fmt.Sprintf("%d recipient(s) undelivered in %d batch(es): %v", n, len(e.Failed), e.Failed[0].Err)
}

// Unwrap 支持 errors.Is/As 检查任一批次的原因
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

func (e *BatchError) FailedRecipients() []string {
	var out []string
	for _, f := range e.Failed {
		out = append(out, f.Recipients...)
	}
	return out
}

// AsBatchError 将任意发送错误规范化为针对 recipients 的 BatchError；nil 返回 nil
func AsBatchError(recipients []string, err error) *BatchError {
	if err == nil {
		return nil
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be
	}
	return &BatchError{Failed: []FailedBatch{{Recipients: append([]string(nil), recipients...), Err: err}}}
}

// Undelivered 发送 recipients 后得到 err 时，未送达的收件人
func Undelivered(recipients []string, err error) []string {
	be := AsBatchError(recipients, err)
	if be == nil {
		return nil
	}
	return be.FailedRecipients()
}

// Delivered 发送 recipients 后得到 err 时，已送达的收件人（保持原顺序）
func Delivered(recipients []string, err error) []string {
	failed := Undelivered(recipients, err)
	if len(failed) == 0 {
		return append([]string(nil), recipients...)
	}
	miss := make(map[string]struct{}, len(failed))
	for _, r := range failed {
		miss[strings.ToLower(r)] = struct{}{}
	}
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if _, ok := miss[strings.ToLower(r)]; !ok {
			out = append(out, r)
		}
	}
	return out
}

// IsTransient 判断错误是否值得重试：网络/超时/供应商临时错误。
// 配额耗尽和调用方取消不可重试；BatchError 仅当每个失败批次都可重试时才重试。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	if errors.As(err, &be) {
		for _, f := range be.Failed {
			if !IsTransient(f.Err) {
				return false
			}
		}
		return len(be.Failed) > 0
	}
	if errors.Is(err, ErrQuotaExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

// IsCanceled 失败是否全部由调用方取消造成
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	if errors.As(err, &be) {
		for _, f := range be.Failed {
			if !IsCanceled(f.Err) {
				return false
			}
		}
		return len(be.Failed) > 0
	}
	return errors.Is(err, context.Canceled)
}

// IsProviderFault 是否计入供应商熔断统计。
// 收件人被拒等非临时性供应商错误和调用方取消不计入；BatchError 任一批次计入即计入。
func IsProviderFault(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	if errors.As(err, &be) {
		for _, f := range be.Failed {
			if IsProviderFault(f.Err) {
				return true
			}
		}
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary || pe.Quota
	}
	return true
}

// MatchesQuota 错误链中是否含配额耗尽信号（哨兵或签名文本）
func MatchesQuota(err error, signature string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	if signature == "" {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), strings.ToLower(signature))
}

// QuotaMatcher 绑定签名的 MatchesQuota
func QuotaMatcher(signature string) func(error) bool {
	return func(err error) bool { return MatchesQuota(err, signature) }
}
