// Package logger 全局 zap 日志
package logger

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/d60-Lab/gatherly/config"
)

var global atomic.Pointer[zap.Logger]

func init() {
	global.Store(zap.NewNop())
}

// Init 按配置初始化全局日志
func Init(cfg config.LogConfig) error {
	var zc zap.Config
	if strings.EqualFold(cfg.Format, "console") {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}
	zc.Level = level
	l, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	global.Store(l)
	return nil
}

// Set 替换全局日志（测试可注入 observer）
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	global.Store(l)
}

// L 返回全局 logger
func L() *zap.Logger { return global.Load() }

func With(fields ...zap.Field) *zap.Logger { return global.Load().With(fields...) }

func Debug(msg string, fields ...zap.Field) { global.Load().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { global.Load().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { global.Load().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { global.Load().Error(msg, fields...) }

func Sync() error { return global.Load().Sync() }
