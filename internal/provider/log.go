package provider

import (
	"context"

	"go.uber.org/zap"

	"github.com/d60-Lab/gatherly/internal/sender"
	"github.com/d60-Lab/gatherly/pkg/logger"
)

// LogProvider 只记录日志不实际发送，用于本地开发
type LogProvider struct {
	name string
}

func NewLogProvider(name string) *LogProvider { return &LogProvider{name: name} }

func (p *LogProvider) Send(_ context.Context, msg sender.Message) error {
	logger.Info("mail delivered to log provider",
		zap.String("provider", p.name),
		zap.Strings("recipients", msg.Recipients),
		zap.String("subject", msg.Subject),
	)
	return nil
}
