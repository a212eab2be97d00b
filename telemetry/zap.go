package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// ZapLogger wraps go.uber.org/zap as an alternate Logger backend, offered alongside
// ClueLogger the way goa-ai's own telemetry package offers multiple backends behind one
// interface.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger constructs a Logger backed by the given zap.Logger.
func NewZapLogger(logger *zap.Logger) Logger { return ZapLogger{logger: logger} }

func (z ZapLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	z.logger.Debug(msg, zap.Any("fields", kvPairs(keyvals)))
}

func (z ZapLogger) Info(_ context.Context, msg string, keyvals ...any) {
	z.logger.Info(msg, zap.Any("fields", kvPairs(keyvals)))
}

func (z ZapLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	z.logger.Warn(msg, zap.Any("fields", kvPairs(keyvals)))
}

func (z ZapLogger) Error(_ context.Context, msg string, keyvals ...any) {
	z.logger.Error(msg, zap.Any("fields", kvPairs(keyvals)))
}
