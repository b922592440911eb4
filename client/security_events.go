package client

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// NIST SP 800-92 event types
const (
	EventAuthentication = "authentication"
	EventBootstrap      = "bootstrap"
	EventOperation      = "operation"
)

// Security event subtypes
const (
	SubtypeAuthSuccess      = "success"
	SubtypeAuthFailure      = "failure"
	SubtypeBootstrapReady   = "ready"
	SubtypeBootstrapFailed  = "failed"
	SubtypeOperationRun     = "execute"
	SubtypeOperationDone    = "complete"
	SubtypeOperationFailed  = "failed"
	SubtypeOperationUnknown = "unknown"
)

// Security event outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
	OutcomeAttempt = "attempt"
)

// Security event severities
const (
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
)

// SecurityEvent is a structured audit record.
type SecurityEvent struct {
	Timestamp string `json:"timestamp"` // RFC 3339 UTC
	EventType string `json:"event_type"`
	Subtype   string `json:"subtype"`
	Severity  string `json:"severity"`

	User          string `json:"user,omitempty"`
	Source        string `json:"source"`
	Target        string `json:"target"`
	CorrelationID string `json:"correlation_id"` // client-scoped UUID

	Action  string         `json:"action"`
	Outcome string         `json:"outcome"`
	Details map[string]any `json:"details,omitempty"`
}

// String returns the JSON representation of the event.
func (e *SecurityEvent) String() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// SecurityLogger writes security events for one client.
type SecurityLogger struct {
	logger        *slog.Logger
	user          string
	target        string
	correlationID string
}

// NewSecurityLogger returns a logger with a fresh correlation ID. A nil
// logger discards events.
func NewSecurityLogger(logger *slog.Logger, user, target string) *SecurityLogger {
	return &SecurityLogger{
		logger:        logger,
		user:          user,
		target:        target,
		correlationID: uuid.New().String(),
	}
}

// CorrelationID returns the client-scoped correlation ID.
func (l *SecurityLogger) CorrelationID() string {
	if l == nil {
		return ""
	}
	return l.correlationID
}

// LogEvent builds and writes an event.
func (l *SecurityLogger) LogEvent(eventType, subtype, action, severity, outcome string, details map[string]any) {
	if l == nil || l.logger == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}

	event := &SecurityEvent{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		EventType:     eventType,
		Subtype:       subtype,
		Severity:      severity,
		User:          l.user,
		Source:        "go-ews",
		Target:        l.target,
		CorrelationID: l.correlationID,
		Action:        action,
		Outcome:       outcome,
		Details:       details,
	}

	switch severity {
	case SeverityWarning:
		l.logger.Warn("SecurityEvent", "event", event)
	case SeverityError:
		l.logger.Error("SecurityEvent", "event", event)
	default:
		l.logger.Info("SecurityEvent", "event", event)
	}
}

// LogAuthentication logs the outcome of an authenticated call.
func (l *SecurityLogger) LogAuthentication(subtype, action, outcome, severity string, details map[string]any) {
	l.LogEvent(EventAuthentication, subtype, action, severity, outcome, details)
}

// LogBootstrap logs service document acquisition.
func (l *SecurityLogger) LogBootstrap(subtype, outcome, severity string, details map[string]any) {
	l.LogEvent(EventBootstrap, subtype, "Init", severity, outcome, details)
}

// LogOperation logs SOAP operation calls.
func (l *SecurityLogger) LogOperation(subtype, action, outcome, severity string, details map[string]any) {
	l.LogEvent(EventOperation, subtype, action, severity, outcome, details)
}
