package model

import (
	"strings"
	"time"
)

type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
	LogLevelDebug   LogLevel = "debug"
)

func ParseLogLevel(s string) (LogLevel, bool) {
	switch l := LogLevel(strings.ToLower(s)); l {
	case LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelDebug:
		return l, true
	case "warn":
		return LogLevelWarning, true
	default:
		return "", false
	}
}

// LogEntry is a single line of job output. Context is always redacted before
// an entry is stored or sent anywhere.
type LogEntry struct {
	Level     LogLevel       `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
