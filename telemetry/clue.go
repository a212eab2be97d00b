package telemetry

import (
	"context"

	"goa.design/clue/log"
)

// ClueLogger wraps goa.design/clue/log, the teacher's own structured logging library. It
// reads formatting and debug settings from the context, set via log.Context and
// log.WithFormat/log.WithDebug.
type ClueLogger struct{}

// NewClueLogger constructs a Logger that delegates to goa.design/clue/log.
func NewClueLogger() Logger { return ClueLogger{} }

func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fielders(msg, keyvals)...)
}

func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fielders(msg, keyvals)...)
}

func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	fields := fielders(msg, keyvals)
	fields = append(fields, log.KV{K: "severity", V: "warning"})
	log.Warn(ctx, fields...)
}

func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, fielders(msg, keyvals)...)
}

func fielders(msg string, keyvals []any) []log.Fielder {
	fields := []log.Fielder{log.KV{K: "msg", V: msg}}
	for k, v := range kvPairs(keyvals) {
		fields = append(fields, log.KV{K: k, V: v})
	}
	return fields
}
