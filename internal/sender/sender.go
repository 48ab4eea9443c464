// Package sender 定义邮件发送抽象以及可组合的可靠性装饰器：
// 重试（retry）、分块（chunk）、熔断（breaker）和主备切换（failover）。
//
// 每个装饰器都实现 Sender，可按配置顺序叠加，调用方看到的仍是同一个接口。
package sender

import (
	"context"
	"slices"
)

// Message 一次发送请求
type Message struct {
	Recipients []string
	Subject    string
	Body       string
}

// WithRecipients 返回替换收件人后的副本
func (m Message) WithRecipients(recipients []string) Message {
	m.Recipients = slices.Clone(recipients)
	return m
}

// Sender 发送邮件。
//
// 返回 nil 表示全部收件人送达；*BatchError 列出未送达的收件人，
// 其余为已送达；其他错误视为整批未送达。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc 函数适配器
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Middleware 装饰一个 Sender
type Middleware func(Sender) Sender

// Chain 依次套用中间件，第一个最靠近 leaf
func Chain(leaf Sender, mws ...Middleware) Sender {
	s := leaf
	for _, mw := range mws {
		s = mw(s)
	}
	return s
}
