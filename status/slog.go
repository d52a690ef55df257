package status

import (
	"context"
	"log/slog"
)

// Slog adapts a *slog.Logger to the Status interface, the same structured
// logging library the teacher wires into every HTTP middleware
// (internal/server/middleware/logging.go): key/value pairs rather than
// formatted strings, level chosen by call site.
type Slog struct {
	Logger *slog.Logger
}

// NewSlog wraps logger, or the default slog logger if nil.
func NewSlog(logger *slog.Logger) *Slog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slog{Logger: logger}
}

func (s *Slog) Log(args ...interface{}) {
	s.Logger.Log(context.Background(), slog.LevelInfo, "servicenow", args...)
}

func (s *Slog) Warn(args ...interface{}) {
	s.Logger.Log(context.Background(), slog.LevelWarn, "servicenow", args...)
}

func (s *Slog) Debug(args ...interface{}) {
	s.Logger.Log(context.Background(), slog.LevelDebug, "servicenow", args...)
}

// Nop discards everything; it is the default Status when a caller supplies
// none, mirroring how other optional collaborators in the corpus default to
// a no-op rather than a nil check at every call site.
type Nop struct{}

func (Nop) Log(args ...interface{})   {}
func (Nop) Warn(args ...interface{})  {}
func (Nop) Debug(args ...interface{}) {}
