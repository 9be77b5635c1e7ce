// Package structlog provides JSON structured logging with correlation IDs.
package structlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents log severity
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
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
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a Level. Unknown names default to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

type ctxKeyCorrID struct{}

// Fields represents structured log fields
type Fields map[string]interface{}

// sensitiveKeys are masked in every emitted line. Tenant credentials travel
// through the ingest path on every request and must never reach log output.
var sensitiveKeys = []string{"api_key", "apikey", "password", "secret", "token", "authorization"}

// Logger emits one JSON object per line with service and base fields attached.
type Logger struct {
	service string
	level   Level
	output  io.Writer
	mu      sync.Mutex
	fields  Fields
}

// New creates a structured logger for a service. A nil output means stdout.
func New(serviceName string, level Level, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{service: serviceName, level: level, output: output, fields: Fields{}}
}

// WithFields returns a logger that attaches fields to every line it emits.
func (l *Logger) WithFields(fields Fields) *Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{service: l.service, level: l.level, output: l.output, fields: merged}
}

// WithContext attaches the request correlation ID, if the context carries one.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if corrID := CorrelationID(ctx); corrID != "" {
		return l.WithFields(Fields{"correlation_id": corrID})
	}
	return l
}

func (l *Logger) Debug(message string, fields Fields) { l.log(LevelDebug, message, fields) }
func (l *Logger) Info(message string, fields Fields)  { l.log(LevelInfo, message, fields) }
func (l *Logger) Warn(message string, fields Fields)  { l.log(LevelWarn, message, fields) }
func (l *Logger) Error(message string, fields Fields) { l.log(LevelError, message, fields) }

// Fatal logs the message and exits the process.
func (l *Logger) Fatal(message string, fields Fields) {
	l.log(LevelFatal, message, fields)
	os.Exit(1)
}

func (l *Logger) log(level Level, message string, fields Fields) {
	if level < l.level {
		return
	}

	line := make(Fields, len(l.fields)+len(fields)+5)
	for k, v := range l.fields {
		line[k] = v
	}
	for k, v := range fields {
		line[k] = v
	}

	line["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	line["level"] = level.String()
	line["service"] = l.service
	line["message"] = message

	if level >= LevelError {
		if _, file, lineNo, ok := runtime.Caller(2); ok {
			line["caller"] = fmt.Sprintf("%s:%d", file, lineNo)
		}
	}

	sanitize(line)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.output).Encode(line); err != nil {
		fmt.Fprintf(os.Stderr, "LOG_ERROR: failed to encode log: %v\n", err)
	}
}

func sanitize(fields Fields) {
	for k := range fields {
		lk := strings.ToLower(k)
		for _, pattern := range sensitiveKeys {
			if strings.Contains(lk, pattern) {
				fields[k] = "MASKED"
				break
			}
		}
	}
}

// ContextWithCorrelationID returns a context carrying the given correlation ID.
func ContextWithCorrelationID(ctx context.Context, corrID string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrID{}, corrID)
}

// CorrelationID extracts the correlation ID from the context, if present.
func CorrelationID(ctx context.Context) string {
	if corrID, ok := ctx.Value(ctxKeyCorrID{}).(string); ok {
		return corrID
	}
	return ""
}
