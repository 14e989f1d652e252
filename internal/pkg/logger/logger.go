// Package logger provides structured JSON logging with optional PII
// redaction. It is a thin layer over zerolog that keeps the key/value call
// style used throughout the service:
//
//	logger.Info("batch complete", "batch_id", id, "sent", n)
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

func (l Level) String() string {
	if n, ok := levelNames[l]; ok {
		return n
	}
	return "INFO"
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a Level.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger writes one JSON object per entry.
type Logger struct {
	mu        sync.RWMutex
	zl        zerolog.Logger
	level     Level
	redactPII bool
}

// New creates a logger writing to w at INFO with redaction enabled.
func New(w io.Writer) *Logger {
	return &Logger{
		zl:        newZerolog(w),
		level:     INFO,
		redactPII: true,
	}
}

func newZerolog(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

var defaultLogger = New(os.Stderr)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		return strings.ToUpper(l.String())
	}
}

// Default returns the package-level logger.
func Default() *Logger { return defaultLogger }

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.SetLevel(l) }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) { defaultLogger.SetRedactPII(r) }

// SetOutput redirects the default logger.
func SetOutput(w io.Writer) { defaultLogger.SetOutput(w) }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.Log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.Log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.Log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.Log(ERROR, msg, fields...) }

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) SetRedactPII(r bool) {
	l.mu.Lock()
	l.redactPII = r
	l.mu.Unlock()
}

func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.zl = newZerolog(w)
	l.mu.Unlock()
}

// Log writes an entry built from alternating key/value fields. A trailing
// key without a value is dropped.
func (l *Logger) Log(level Level, msg string, fields ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if level < l.level {
		return
	}

	ev := l.zl.WithLevel(level.zerolog())
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		l.appendField(ev, key, fields[i+1])
	}
	ev.Msg(msg)
}

// LogMap is Log with a field map; keys are written in sorted order.
func (l *Logger) LogMap(level Level, msg string, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}
	l.Log(level, msg, kv...)
}

func (l *Logger) appendField(ev *zerolog.Event, key string, v interface{}) {
	switch val := v.(type) {
	case string:
		ev.Str(key, l.redact(val))
	case error:
		if val == nil {
			ev.Str(key, "")
			return
		}
		ev.Str(key, l.redact(val.Error()))
	case int:
		ev.Int(key, val)
	case int64:
		ev.Int64(key, val)
	case float64:
		ev.Float64(key, val)
	case bool:
		ev.Bool(key, val)
	case time.Duration:
		ev.Int64(key+"_ms", val.Milliseconds())
	case time.Time:
		ev.Time(key, val)
	default:
		ev.Str(key, l.redact(fmt.Sprintf("%v", val)))
	}
}

func (l *Logger) redact(val string) string {
	if !l.redactPII {
		return val
	}
	return redactValue(val)
}
