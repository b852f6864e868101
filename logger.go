package httpsession

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Logger is the structured logger a Session writes to. *log.Logger from
// github.com/charmbracelet/log satisfies it.
type Logger interface {
	Debug(msg interface{}, keyvals ...interface{})
	Info(msg interface{}, keyvals ...interface{})
	Warn(msg interface{}, keyvals ...interface{})
	Error(msg interface{}, keyvals ...interface{})
}

// NewLogger returns a timestamped logger writing to w at level.
func NewLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
		Prefix:          "httpsession",
	})
}

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}

// DefaultRequestIDGenerator returns a random UUID.
func DefaultRequestIDGenerator() string {
	return uuid.NewString()
}
