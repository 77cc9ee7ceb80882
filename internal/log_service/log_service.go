// Package log_service defines the structured logging contract shared by the
// cluster state controller and its collaborators. Every component logs
// through this interface instead of the bare standard library logger so that
// metadata (node ids, peer ids, tree sizes, timestamps) stays queryable.
package log_service

import "time"

const (
	DebugLevel = "DEBUG"
	InfoLevel  = "INFO"
	WarnLevel  = "WARN"
	ErrorLevel = "ERROR"
)

// Numeric ordering used for level filtering; higher is more severe.
const (
	DebugLevelValue = iota
	InfoLevelValue
	WarnLevelValue
	ErrorLevelValue
)

// GetLevelValue maps a level name to its filtering rank. Unknown names are
// treated as DEBUG so that filtering never silently drops a misnamed event.
func GetLevelValue(level string) int {
	switch level {
	case InfoLevel:
		return InfoLevelValue
	case WarnLevel:
		return WarnLevelValue
	case ErrorLevel:
		return ErrorLevelValue
	default:
		return DebugLevelValue
	}
}

type LogEvent struct {
	Timestamp time.Time
	NodeID    string
	Message   string
	Metadata  map[string]any
}

type LogService interface {
	Debug(event LogEvent)
	Info(event LogEvent)
	Warn(event LogEvent)
	Error(event LogEvent)
}
