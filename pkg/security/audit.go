package security

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Audit event types.
const (
	EventGrantDecision = "grant.decision"
)

// AuditEvent represents a security-relevant event
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	Channel   string         `json:"channel"`
	Sender    string         `json:"sender"`
	Action    string         `json:"action"`
	Result    string         `json:"result"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuditLogger defines the interface for audit logging
type AuditLogger interface {
	Log(event *AuditEvent)
	Close() error
}

// GrantDecision builds the event recorded when a granter answers a request
// from sender to invoke action on channel.
func GrantDecision(channel, sender, action string, allowed bool, err error) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventGrantDecision,
		Channel:   channel,
		Sender:    sender,
		Action:    action,
	}
	switch {
	case err != nil:
		event.Result = "error"
		event.Error = err.Error()
	case allowed:
		event.Result = "approved"
	default:
		event.Result = "refused"
	}
	return event
}

// InMemoryAuditLogger stores audit events in memory (for testing)
type InMemoryAuditLogger struct {
	events []AuditEvent
	mu     sync.RWMutex
}

// NewInMemoryAuditLogger creates a new in-memory audit logger
func NewInMemoryAuditLogger() *InMemoryAuditLogger {
	return &InMemoryAuditLogger{
		events: make([]AuditEvent, 0),
	}
}

// Log records an audit event
func (l *InMemoryAuditLogger) Log(event *AuditEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, *event)
}

// GetEvents returns all logged events (for testing)
func (l *InMemoryAuditLogger) GetEvents() []AuditEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	// Return a copy
	events := make([]AuditEvent, len(l.events))
	copy(events, l.events)
	return events
}

// Close closes the audit logger
func (l *InMemoryAuditLogger) Close() error {
	return nil
}

// JSONAuditLogger writes one JSON object per event.
type JSONAuditLogger struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewJSONAuditLogger creates a JSON audit logger writing to w.
func NewJSONAuditLogger(w io.Writer) *JSONAuditLogger {
	return &JSONAuditLogger{w: w}
}

// OpenAuditFile appends audit events to path, or writes them to stderr when
// path is "-".
func OpenAuditFile(path string) (*JSONAuditLogger, error) {
	if path == "-" {
		return NewJSONAuditLogger(os.Stderr), nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &JSONAuditLogger{w: f, closer: f}, nil
}

// Log records an audit event as JSON
func (l *JSONAuditLogger) Log(event *AuditEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	jsonData, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal audit event", "error", err)
		return
	}
	if _, err := fmt.Fprintln(l.w, string(jsonData)); err != nil {
		slog.Error("failed to write audit event", "error", err)
	}
}

// Close closes the underlying file, if any.
func (l *JSONAuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}

// NoOpAuditLogger discards all events
type NoOpAuditLogger struct{}

// NewNoOpAuditLogger creates a no-op audit logger
func NewNoOpAuditLogger() *NoOpAuditLogger {
	return &NoOpAuditLogger{}
}

// Log does nothing
func (l *NoOpAuditLogger) Log(event *AuditEvent) {}

// Close does nothing
func (l *NoOpAuditLogger) Close() error {
	return nil
}
