// Package logx provides structured JSON logging for foresight components
package logx

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with a fixed component field and key/value structured logging
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a component-scoped logger at the given level.
// Levels: trace, debug, info, warn, error. Unknown levels fall back to info.
func NewLogger(level, component string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "ts",
			logrus.FieldKeyMsg:  "msg",
		},
	})
	base.SetLevel(parseLevel(level))

	return &Logger{entry: base.WithField("component", component)}
}

// WithComponent returns a logger sharing the same backend with a different component field
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{entry: l.entry.Logger.WithField("component", component)}
}

// SetLevel changes the log level at runtime
func (l *Logger) SetLevel(level string) {
	l.entry.Logger.SetLevel(parseLevel(level))
}

// GetLevel returns the current log level name
func (l *Logger) GetLevel() string {
	return l.entry.Logger.GetLevel().String()
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "", "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// structuredFields accepts either alternating key/value pairs or a single
// map[string]interface{} and normalizes them into logrus fields.
func structuredFields(args []interface{}) logrus.Fields {
	f := logrus.Fields{}

	if len(args) == 1 {
		if m, ok := args[0].(map[string]interface{}); ok {
			for k, v := range m {
				f[k] = v
			}
			return f
		}
	}

	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("field_%d", i)
		}
		f[key] = args[i+1]
	}

	// Odd trailing value without a key
	if len(args) > 1 && len(args)%2 == 1 {
		f["extra"] = args[len(args)-1]
	}

	return f
}

// Trace logs at trace level with structured key/value pairs
func (l *Logger) Trace(msg string, args ...interface{}) {
	l.entry.WithFields(structuredFields(args)).Trace(msg)
}

// Debug logs at debug level with structured key/value pairs
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.entry.WithFields(structuredFields(args)).Debug(msg)
}

// Info logs at info level with structured key/value pairs
func (l *Logger) Info(msg string, args ...interface{}) {
	l.entry.WithFields(structuredFields(args)).Info(msg)
}

// Warn logs at warn level with structured key/value pairs
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.entry.WithFields(structuredFields(args)).Warn(msg)
}

// Error logs at error level with structured key/value pairs
func (l *Logger) Error(msg string, args ...interface{}) {
	l.entry.WithFields(structuredFields(args)).Error(msg)
}

// LogVerbose emits an event-keyed info record for high-volume operational events
func (l *Logger) LogVerbose(event string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).WithField("event", event).Info(event)
}

// LogDebugVerbose emits an event-keyed debug record for diagnostic detail
func (l *Logger) LogDebugVerbose(event string, fields map[string]interface{}) {
	l.entry.WithFields(logrus.Fields(fields)).WithField("event", event).Debug(event)
}

// LogStateChange records a component state transition exactly where it happens
func (l *Logger) LogStateChange(component, fromState, toState, reason string, fields map[string]interface{}) {
	merged := logrus.Fields{
		"event":      "state_change",
		"state_from": fromState,
		"state_to":   toState,
		"reason":     reason,
	}
	for k, v := range fields {
		merged[k] = v
	}
	l.entry.Logger.WithField("component", component).WithFields(merged).Info("State change")
}

// LogDataFlow records data moving between pipeline stages
func (l *Logger) LogDataFlow(flow, dataType, source string, count int, fields map[string]interface{}) {
	merged := logrus.Fields{
		"event":     "data_flow",
		"flow":      flow,
		"data_type": dataType,
		"source":    source,
		"count":     count,
	}
	for k, v := range fields {
		merged[k] = v
	}
	l.entry.WithFields(merged).Debug("Data flow")
}
