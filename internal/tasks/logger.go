package tasks

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// zapLogger routes Temporal SDK logs through zap.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewLogger adapts l to the Temporal SDK logger interface.
func NewLogger(l *zap.Logger) log.Logger {
	return zapLogger{s: l.WithOptions(zap.AddCallerSkip(1)).Sugar().With("component", "temporal")}
}

func (l zapLogger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l zapLogger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l zapLogger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l zapLogger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }
