package logs

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger adapts a zap logger. Context fields become structured fields of each entry.
func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// NewJSONLogger builds a production zap logger writing JSON at level
func NewJSONLogger(level LogLevel) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(level))
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(l), nil
}

func zapLevel(level LogLevel) zapcore.Level {
	switch level {
	case Debug:
		return zapcore.DebugLevel
	case Warn:
		return zapcore.WarnLevel
	case Error:
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

func (z *zapLogger) with(ctx context.Context) *zap.SugaredLogger {
	fields := Fields(ctx)
	if len(fields) == 0 {
		return z.sugar
	}
	kv := make([]interface{}, 0, 2*len(fields))
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return z.sugar.With(kv...)
}

func (z *zapLogger) Debug(ctx context.Context, msg string, args ...interface{}) {
	z.with(ctx).Debugf(msg, args...)
}

func (z *zapLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	z.with(ctx).Infof(msg, args...)
}

func (z *zapLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	z.with(ctx).Warnf(msg, args...)
}

func (z *zapLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	z.with(ctx).Errorf(msg, args...)
}
