// Package logging provides leveled structured logging for adatrace.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with the level/config surface the rest
// of the tree calls against.
type Logger struct {
	zl zerolog.Logger
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config holds logging configuration
type Config struct {
	Level  LogLevel
	Format string // "text" (default, console writer) or "json"
	Output io.Writer

	// Sync forces unbuffered, line-at-a-time writes. zerolog already
	// writes synchronously, so this only exists for call-site parity
	// with configs ported from elsewhere in the tree.
	Sync    bool
	NoColor bool
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// NewLogger creates a new logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	var w io.Writer = output
	if config.Format != "json" {
		w = zerolog.ConsoleWriter{Out: output, NoColor: config.NoColor, TimeFormat: "15:04:05"}
	}

	zl := zerolog.New(w).With().Timestamp().Logger().Level(config.Level.zerolog())
	return &Logger{zl: zl}
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// withArgs attaches key/value pairs (as passed by callers: k1, v1, k2, v2, ...)
// to a zerolog event, dropping a trailing unpaired key.
func withArgs(ev *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	return ev
}

func (l *Logger) Debug(msg string, args ...any) {
	withArgs(l.zl.Debug(), args).Msg(msg)
}

func (l *Logger) Info(msg string, args ...any) {
	withArgs(l.zl.Info(), args).Msg(msg)
}

func (l *Logger) Warn(msg string, args ...any) {
	withArgs(l.zl.Warn(), args).Msg(msg)
}

func (l *Logger) Error(msg string, args ...any) {
	withArgs(l.zl.Error(), args).Msg(msg)
}

// Printf-style logging, kept for call sites ported from the I/O loop style
// that predates structured key/value logging.
func (l *Logger) Debugf(format string, args ...any) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.zl.Error().Msgf(format, args...)
}

// Printf for compatibility with code written against the stdlib-backed logger.
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// WithDevice returns a derived logger that tags every entry with the
// owning thread's registry slot id.
func (l *Logger) WithDevice(id uint32) *Logger {
	return &Logger{zl: l.zl.With().Uint32("device_id", id).Logger()}
}

// WithQueue returns a derived logger tagged with a lane index.
func (l *Logger) WithQueue(id int) *Logger {
	return &Logger{zl: l.zl.With().Int("queue_id", id).Logger()}
}

// WithRequest returns a derived logger tagged with a capture call tag
// and the operation it belongs to (enter/exit, index/detail, ...).
func (l *Logger) WithRequest(tag int, op string) *Logger {
	return &Logger{zl: l.zl.With().Int("tag", tag).Str("op", op).Logger()}
}

// WithError returns a derived logger with err attached to every entry.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

// Global convenience functions
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
