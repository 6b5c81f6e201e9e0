package bridge

import (
	"log/slog"
	"strings"
	"sync/atomic"
)

// GlobalAtomicLeveler is the log level shared by every handler in the
// process. The serve command installs it into the default slog handler
// before the connection starts, and initialize adjusts it afterwards from
// the editor-provided settings.
var GlobalAtomicLeveler = &AtomicLeveler{}

type AtomicLeveler struct {
	level atomic.Int32
}

// Level implements slog.Leveler.
func (a *AtomicLeveler) Level() slog.Level {
	return slog.Level(a.level.Load())
}

func (a *AtomicLeveler) SetLevel(level slog.Level) {
	a.level.Store(int32(level))
}

var _ slog.Leveler = (*AtomicLeveler)(nil)

// ParseLogLevel recognizes the level names accepted in settings. Unknown
// names leave the current level in place.
func ParseLogLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "error", "err":
		return slog.LevelError, true
	case "warning", "warn":
		return slog.LevelWarn, true
	case "info", "":
		return slog.LevelInfo, true
	case "debug":
		return slog.LevelDebug, true
	}
	return 0, false
}
