package httpbridge

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
)

// Logger interface allows plugging loggers other than the hclog default.
type Logger interface {
	Errorf(string, ...interface{})
	Debugf(string, ...interface{})
}

type hcLogger struct {
	log hclog.Logger
}

// NewLogger wraps an hclog.Logger in the bridge's Logger interface.
func NewLogger(log hclog.Logger) Logger {
	return &hcLogger{log: log}
}

// Errorf logs a message at level Error on the logger.
func (l *hcLogger) Errorf(format string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(format, v...))
}

// Debugf logs a message at level Debug on the logger.
func (l *hcLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func defaultLogger() Logger {
	return &hcLogger{log: hclog.Default().Named("httpbridge")}
}
