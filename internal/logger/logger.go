package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	baseMu sync.RWMutex
	base   = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}).
		With().Timestamp().Logger()
)

// Init configures the process-wide log output. format is "console" or "json".
func Init(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	var out io.Writer = os.Stderr
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}
	}

	SetOutput(zerolog.New(out).Level(lvl).With().Timestamp().Logger())
}

// SetOutput replaces the base logger every component logger writes through.
func SetOutput(l zerolog.Logger) {
	baseMu.Lock()
	base = l
	baseMu.Unlock()
}

func current() zerolog.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// Logger provides structured logging across the application
type Logger struct {
	component string
}

// New creates a new logger for a specific component
func New(component string) *Logger {
	return &Logger{component: component}
}

// GenerateID creates a short unique identifier for run/operation tracing
func GenerateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (l *Logger) event(level zerolog.Level, id string) *zerolog.Event {
	zl := current()
	return zl.WithLevel(level).Str("component", l.component).Str("id", id)
}

// Log writes a structured log message
func (l *Logger) Log(id string, level zerolog.Level, message string, args ...interface{}) {
	l.event(level, id).Msgf(message, args...)
}

// Debug logs debug level messages
func (l *Logger) Debug(id, message string, args ...interface{}) {
	l.Log(id, zerolog.DebugLevel, message, args...)
}

// Info logs info level messages
func (l *Logger) Info(id, message string, args ...interface{}) {
	l.Log(id, zerolog.InfoLevel, message, args...)
}

// Warn logs warning level messages
func (l *Logger) Warn(id, message string, args ...interface{}) {
	l.Log(id, zerolog.WarnLevel, message, args...)
}

// Error logs error level messages
func (l *Logger) Error(id, message string, args ...interface{}) {
	l.Log(id, zerolog.ErrorLevel, message, args...)
}

// DebugBg logs debug messages for background operations
func (l *Logger) DebugBg(message string, args ...interface{}) {
	l.Log("xxxxxxxx", zerolog.DebugLevel, message, args...)
}

// InfoBg logs info messages for background operations
func (l *Logger) InfoBg(message string, args ...interface{}) {
	l.Log("xxxxxxxx", zerolog.InfoLevel, message, args...)
}

// WarnBg logs warning messages for background operations
func (l *Logger) WarnBg(message string, args ...interface{}) {
	l.Log("xxxxxxxx", zerolog.WarnLevel, message, args...)
}

// ErrorBg logs error messages for background operations
func (l *Logger) ErrorBg(message string, args ...interface{}) {
	l.Log("xxxxxxxx", zerolog.ErrorLevel, message, args...)
}
