package observability

import (
	"context"
	"fmt"

	"github.com/streamio/streamcoordinator/pkg/core"
)

// requestLogger prefixes every formatted (Errorf/Warnf/Infof/Debugf) line
// with the request ID carried on ctx, so a single command's
// dispatcher/aux/API log lines can be correlated. The unformatted
// Error/Warn/Info/Debug methods pass through to the base logger unprefixed.
type requestLogger struct {
	core.Logger
	requestID string
}

// WithRequestLogger returns a Logger that prefixes every formatted message
// with the request ID stored on ctx by core.WithRequestID, falling back to base
// unchanged when ctx carries none.
func WithRequestLogger(ctx context.Context, base core.Logger) core.Logger {
	id := core.GetRequestID(ctx)
	if id == "" {
		return base
	}
	return &requestLogger{Logger: base, requestID: id}
}

func (l *requestLogger) Errorf(format string, args ...interface{}) {
	l.Logger.Errorf(l.tag()+format, args...)
}
func (l *requestLogger) Warnf(format string, args ...interface{}) {
	l.Logger.Warnf(l.tag()+format, args...)
}
func (l *requestLogger) Infof(format string, args ...interface{}) {
	l.Logger.Infof(l.tag()+format, args...)
}
func (l *requestLogger) Debugf(format string, args ...interface{}) {
	l.Logger.Debugf(l.tag()+format, args...)
}

func (l *requestLogger) tag() string {
	return fmt.Sprintf("[req=%s] ", l.requestID)
}
