package gateway

import (
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

type leveledLogger struct {
	s *zap.SugaredLogger
}

var _ retryablehttp.LeveledLogger = leveledLogger{}

func newLeveledLogger(logger *zap.Logger) leveledLogger {
	return leveledLogger{s: logger.Named("gateway").Sugar()}
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

// Debug пишет каждую попытку запроса.
func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}
