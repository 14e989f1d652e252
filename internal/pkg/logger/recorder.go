package logger

import "strings"

// Recorder adapts a Logger to the fire-and-forget event sink consumed by the
// dispatch service: Record(level, message, fields).
type Recorder struct {
	l *Logger
}

// NewRecorder wraps l. A nil l uses the default logger.
func NewRecorder(l *Logger) *Recorder {
	if l == nil {
		l = defaultLogger
	}
	return &Recorder{l: l}
}

// Record writes one structured event. Level names are case-insensitive.
func (r *Recorder) Record(level, msg string, fields map[string]any) {
	r.l.LogMap(ParseLevel(strings.ToLower(level)), msg, fields)
}
