// Package logger provides structured JSON logging for operator-facing run
// events, with member-email redaction so batch summaries can be shipped to
// log aggregation without leaking PII. Component-level operational logging
// stays on the stdlib log package.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch s {
	case "debug", "DEBUG":
		return DEBUG
	case "warn", "WARN":
		return WARN
	case "error", "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger emits one JSON object per entry to stderr.
type Logger struct {
	mu        sync.Mutex
	out       io.Writer
	level     Level
	redactPII bool
}

var std = &Logger{out: os.Stderr, level: INFO, redactPII: true}

// SetLevel sets the minimum level for the default logger.
func SetLevel(l Level) { std.level = l }

// SetRedactPII toggles email redaction on the default logger.
func SetRedactPII(on bool) { std.redactPII = on }

// SetOutput redirects the default logger, mirroring log.SetOutput.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	std.out = w
	std.mu.Unlock()
}

// Debug emits a DEBUG entry on the default logger.
func Debug(msg string, fields ...any) { std.log(DEBUG, msg, fields...) }

// Info emits an INFO entry on the default logger.
func Info(msg string, fields ...any) { std.log(INFO, msg, fields...) }

// Warn emits a WARN entry on the default logger.
func Warn(msg string, fields ...any) { std.log(WARN, msg, fields...) }

// Error emits an ERROR entry on the default logger.
func Error(msg string, fields ...any) { std.log(ERROR, msg, fields...) }

// fields are alternating key, value pairs; a trailing odd key is dropped.
func (l *Logger) log(level Level, msg string, fields ...any) {
	if level < l.level {
		return
	}

	entry := map[string]any{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": level.String(),
		"msg":   msg,
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redactPII {
			val = redactValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}
