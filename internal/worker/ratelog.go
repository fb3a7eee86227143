package worker

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimitedLogger emits at most one line per interval. Network failures
// during an outage arrive on every request; one line a minute is enough.
type rateLimitedLogger struct {
	log *zap.Logger
	s   rate.Sometimes
}

func newRateLimitedLogger(log *zap.Logger, interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{log: log, s: rate.Sometimes{First: 1, Interval: interval}}
}

func (l *rateLimitedLogger) Warn(msg string, fields ...zap.Field) {
	l.s.Do(func() {
		l.log.Warn(msg, fields...)
	})
}
