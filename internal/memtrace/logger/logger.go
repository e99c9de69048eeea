// Package logger provides the leveled logging facility shared by every
// memtracer component.
//
// The logger is deliberately the most self-contained component in the
// module: it is used during every other component's initialization and
// shutdown, so it never calls back into them, and it allocates nothing
// on the suppressed-level fast path beyond the slog handler check.
//
// The surface mirrors the classic sink model: a console sink on stderr
// is always present, and SetLogFile attaches an additional file sink.
// Levels run Trace through Fatal; SetLogLevel gates both sinks.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Level is the logger severity. The zero value is LevelInfo.
type Level int

// Severity levels, lowest to highest.
const (
	LevelTrace Level = iota - 2
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// slogLevel maps a Level onto the slog scale. Trace sits below
// slog.LevelDebug and Fatal above slog.LevelError.
func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelTrace:
		return slog.LevelDebug - 4
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelFatal:
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}

// String returns the level name used in log output.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel converts a level name ("trace" … "fatal", any case) to a
// Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(name) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// Logger is a leveled logger with a console sink and an optional file sink.
//
// Thread Safety: all methods are safe for concurrent use. Sink changes
// (SetLogFile) swap the slog handler under a mutex; log calls read it
// through the same mutex.
type Logger struct {
	mu      sync.Mutex
	level   *slog.LevelVar
	console io.Writer
	file    *os.File
	sl      *slog.Logger
}

// New returns a Logger writing to the given console writer at LevelInfo.
func New(console io.Writer) *Logger {
	l := &Logger{
		level:   new(slog.LevelVar),
		console: console,
	}
	l.level.Set(LevelInfo.slogLevel())
	l.rebuild()
	return l
}

// rebuild recreates the slog handler over the current sink set.
// Caller holds mu (or is the constructor).
func (l *Logger) rebuild() {
	var w io.Writer = l.console
	if l.file != nil {
		w = io.MultiWriter(l.console, l.file)
	}
	l.sl = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: l.level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Render the memtracer level names instead of slog's
			// DEBUG-4 style offsets.
			if a.Key == slog.LevelKey {
				lv := a.Value.Any().(slog.Level)
				a.Value = slog.StringValue(levelFromSlog(lv).String())
			}
			return a
		},
	}))
}

func levelFromSlog(lv slog.Level) Level {
	switch {
	case lv <= slog.LevelDebug-4:
		return LevelTrace
	case lv <= slog.LevelDebug:
		return LevelDebug
	case lv <= slog.LevelInfo:
		return LevelInfo
	case lv <= slog.LevelWarn:
		return LevelWarn
	case lv <= slog.LevelError:
		return LevelError
	default:
		return LevelFatal
	}
}

// SetLogLevel sets the minimum severity emitted by all sinks.
func (l *Logger) SetLogLevel(level Level) {
	l.level.Set(level.slogLevel())
}

// SetLogFile attaches a file sink at the given path, truncating any
// existing file. A previously attached file sink is closed first.
func (l *Logger) SetLogFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("set log file %s: %w", path, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	l.file = f
	l.rebuild()
	return nil
}

// Flush forces the file sink's buffers to disk. The console sink is
// unbuffered.
func (l *Logger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Sync()
	}
}

// Close flushes and detaches the file sink. The console sink stays
// usable; the logger is the last component to tear down.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Sync()
		l.file.Close()
		l.file = nil
		l.rebuild()
	}
}

// Log emits a message at an explicit level.
func (l *Logger) Log(level Level, format string, args ...any) {
	l.mu.Lock()
	sl := l.sl
	l.mu.Unlock()
	sl.Log(context.Background(), level.slogLevel(), fmt.Sprintf(format, args...))
}

// Tracef logs at LevelTrace.
func (l *Logger) Tracef(format string, args ...any) { l.Log(LevelTrace, format, args...) }

// Debugf logs at LevelDebug.
func (l *Logger) Debugf(format string, args ...any) { l.Log(LevelDebug, format, args...) }

// Infof logs at LevelInfo.
func (l *Logger) Infof(format string, args ...any) { l.Log(LevelInfo, format, args...) }

// Warnf logs at LevelWarn.
func (l *Logger) Warnf(format string, args ...any) { l.Log(LevelWarn, format, args...) }

// Errorf logs at LevelError.
func (l *Logger) Errorf(format string, args ...any) { l.Log(LevelError, format, args...) }

// Fatalf logs at LevelFatal. It does not exit; the tracer must never
// take down its host.
func (l *Logger) Fatalf(format string, args ...any) { l.Log(LevelFatal, format, args...) }

// Default is the process-wide logger instance used by all memtracer
// components.
var Default = New(os.Stderr)

// Package-level helpers forwarding to Default.

func SetLogLevel(level Level)      { Default.SetLogLevel(level) }
func SetLogFile(path string) error { return Default.SetLogFile(path) }

// SetLogLevelByName parses name and applies it to Default.
func SetLogLevelByName(name string) error {
	lv, err := ParseLevel(name)
	if err != nil {
		return err
	}
	Default.SetLogLevel(lv)
	return nil
}
func Flush()                            { Default.Flush() }
func Tracef(format string, args ...any) { Default.Tracef(format, args...) }
func Debugf(format string, args ...any) { Default.Debugf(format, args...) }
func Infof(format string, args ...any)  { Default.Infof(format, args...) }
func Warnf(format string, args ...any)  { Default.Warnf(format, args...) }
func Errorf(format string, args ...any) { Default.Errorf(format, args...) }
func Fatalf(format string, args ...any) { Default.Fatalf(format, args...) }
