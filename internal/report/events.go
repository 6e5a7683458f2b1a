// Package report writes a JSONL audit trail of pipeline events alongside
// the catalog database.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventIngest   EventType = "ingest"
	EventDedup    EventType = "dedup"
	EventIdentify EventType = "identify"
	EventOrganize EventType = "organize"
	EventRollback EventType = "rollback"
	EventError    EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event represents a single event in the pipeline
type Event struct {
	Timestamp time.Time         `json:"ts"`
	Level     EventLevel        `json:"level"`
	Event     EventType         `json:"event"`
	SHA256    string            `json:"sha256,omitempty"`
	SrcPath   string            `json:"src_path,omitempty"`
	DestPath  string            `json:"dest_path,omitempty"`
	EditionID int64             `json:"edition_id,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	Score     float64           `json:"score,omitempty"`
	Status    string            `json:"status,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Error     string            `json:"error,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// EventLogger writes events to a JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates a new event logger with a minimum log level
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	path := filepath.Join(outputDir, fmt.Sprintf("events-%s.jsonl", timestamp))

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// NullLogger returns a logger that discards everything
func NullLogger() *EventLogger {
	return &EventLogger{}
}

// Path returns the log file path, or "" for a null logger
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close flushes and closes the log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Log writes an event to the JSONL file
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil // Silently ignore if logger not initialized
	}

	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return nil
}

// LogIngest logs the outcome of one file ingestion
func (l *EventLogger) LogIngest(sha, srcPath, status string, editionID int64, topScore float64) error {
	return l.Log(&Event{
		Level:     LevelInfo,
		Event:     EventIngest,
		SHA256:    sha,
		SrcPath:   srcPath,
		EditionID: editionID,
		Score:     topScore,
		Status:    status,
	})
}

// LogDedup logs a re-discovery of already catalogued content
func (l *EventLogger) LogDedup(sha, srcPath string) error {
	return l.Log(&Event{
		Level:   LevelDebug,
		Event:   EventDedup,
		SHA256:  sha,
		SrcPath: srcPath,
	})
}

// LogIdentify logs a reconciliation decision for an edition
func (l *EventLogger) LogIdentify(editionID int64, provider string, score float64, accepted bool) error {
	status := "pending"
	if accepted {
		status = "accepted"
	}
	return l.Log(&Event{
		Level:     LevelInfo,
		Event:     EventIdentify,
		EditionID: editionID,
		Provider:  provider,
		Score:     score,
		Status:    status,
	})
}

// LogOrganize logs one organize operation outcome
func (l *EventLogger) LogOrganize(srcPath, destPath, status, reason string) error {
	level := LevelInfo
	if status == "failed" {
		level = LevelError
	}
	return l.Log(&Event{
		Level:    level,
		Event:    EventOrganize,
		SrcPath:  srcPath,
		DestPath: destPath,
		Status:   status,
		Reason:   reason,
	})
}

// LogRollback logs one reverted operation
func (l *EventLogger) LogRollback(srcPath, destPath, status string) error {
	return l.Log(&Event{
		Level:    LevelInfo,
		Event:    EventRollback,
		SrcPath:  srcPath,
		DestPath: destPath,
		Status:   status,
	})
}

// LogError logs an error event
func (l *EventLogger) LogError(event EventType, srcPath string, err error) error {
	return l.Log(&Event{
		Level:   LevelError,
		Event:   event,
		SrcPath: srcPath,
		Error:   err.Error(),
	})
}
