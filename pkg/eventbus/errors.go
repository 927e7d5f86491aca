package eventbus

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorDomain identifies the component that produced an error
type ErrorDomain string

const (
	DomainEventBus   ErrorDomain = "eventbus"
	DomainPublisher  ErrorDomain = "eventbus.publisher"
	DomainSubscriber ErrorDomain = "eventbus.subscriber"
	DomainSerialize  ErrorDomain = "eventbus.serialize"
)

// ErrorCode identifies specific error conditions
type ErrorCode string

const (
	// Publisher errors (E001-E099)
	CodeBusStopped    ErrorCode = "E001" // Publish after Stop
	CodeSerializeFail ErrorCode = "E003" // JSON serialization failed

	// Subscriber errors (E101-E199)
	CodeSubNotFound ErrorCode = "E101" // Subscriber not found
	CodeChannelFull ErrorCode = "E103" // Event channel buffer full
	CodeSubLimit    ErrorCode = "E105" // Subscriber limit reached

	// Filter errors (E301-E399)
	CodeInvalidFilter ErrorCode = "E301" // Invalid alert filter
)

// ErrorSeverity indicates the severity level of the error
type ErrorSeverity string

const (
	SeverityInfo    ErrorSeverity = "info"
	SeverityWarning ErrorSeverity = "warning"
	SeverityError   ErrorSeverity = "error"
)

// EventError provides structured error information with debugging context
type EventError struct {
	Domain    ErrorDomain    `json:"domain"`
	Code      ErrorCode      `json:"code"`
	Severity  ErrorSeverity  `json:"severity"`
	Message   string         `json:"message"`
	Operation string         `json:"operation,omitempty"`
	Source    string         `json:"source,omitempty"`
	Cause     error          `json:"-"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Error implements the error interface with full context
func (e *EventError) Error() string {
	var sb strings.Builder

	// Format: [DOMAIN:CODE] (operation) message @ source
	fmt.Fprintf(&sb, "[%s:%s]", e.Domain, e.Code)
	if e.Operation != "" {
		fmt.Fprintf(&sb, " (%s)", e.Operation)
	}
	fmt.Fprintf(&sb, " %s", e.Message)
	if e.Source != "" {
		fmt.Fprintf(&sb, " @ %s", e.Source)
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, "\n  └─ cause: %v", e.Cause)
	}
	if hint, ok := e.Context["hint"]; ok {
		fmt.Fprintf(&sb, "\n  └─ hint: %v", hint)
	}

	return sb.String()
}

// Unwrap returns the underlying cause for errors.Is/As
func (e *EventError) Unwrap() error {
	return e.Cause
}

// Is matches any EventError with the same code
func (e *EventError) Is(target error) bool {
	t, ok := target.(*EventError)
	return ok && t.Code == e.Code
}

// WithCause adds a cause to the error
func (e *EventError) WithCause(cause error) *EventError {
	e.Cause = cause
	return e
}

// WithContext adds contextual information for debugging
func (e *EventError) WithContext(key string, value any) *EventError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithSeverity sets the error severity level
func (e *EventError) WithSeverity(sev ErrorSeverity) *EventError {
	e.Severity = sev
	return e
}

// NewError creates a structured error, recording the caller of the
// constructor that invoked it
func NewError(domain ErrorDomain, code ErrorCode, operation, message string) *EventError {
	e := &EventError{
		Domain:    domain,
		Code:      code,
		Operation: operation,
		Message:   message,
		Severity:  SeverityError,
		Timestamp: time.Now(),
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Source = fmt.Sprintf("%s:%d", file, line)
	}
	return e
}

// ErrBusStopped creates an error for publishing on a stopped bus
func ErrBusStopped() *EventError {
	return NewError(DomainPublisher, CodeBusStopped, "Publish",
		"event bus is stopped").
		WithSeverity(SeverityWarning)
}

// ErrSerializeFailed creates an error for JSON serialization failures
func ErrSerializeFailed(alertID string, cause error) *EventError {
	return NewError(DomainSerialize, CodeSerializeFail, "ToJSON",
		"failed to serialize alert to JSON").
		WithContext("alert_id", alertID).
		WithCause(cause)
}

// ErrSubscriberNotFound creates an error for a missing subscriber
func ErrSubscriberNotFound(subID string) *EventError {
	return NewError(DomainSubscriber, CodeSubNotFound, "Unsubscribe",
		"subscriber not found in registry").
		WithContext("subscriber_id", subID).
		WithSeverity(SeverityWarning)
}

// ErrChannelFull creates an error when a subscriber channel is full
func ErrChannelFull(subID, alertID string) *EventError {
	return NewError(DomainSubscriber, CodeChannelFull, "Publish",
		"alert channel buffer full, alert dropped").
		WithContext("subscriber_id", subID).
		WithContext("alert_id", alertID).
		WithContext("hint", "subscriber may be slow or blocked; consider increasing buffer size").
		WithSeverity(SeverityWarning)
}

// ErrSubscriberLimit creates an error when the subscriber limit is reached
func ErrSubscriberLimit(limit int) *EventError {
	return NewError(DomainSubscriber, CodeSubLimit, "Subscribe",
		"maximum number of subscribers reached").
		WithContext("max_subscribers", limit).
		WithSeverity(SeverityWarning)
}

// ErrInvalidAlertFilter creates an error for an invalid filter
func ErrInvalidAlertFilter(reason string) *EventError {
	return NewError(DomainEventBus, CodeInvalidFilter, "Subscribe",
		"invalid alert filter specified").
		WithContext("reason", reason).
		WithSeverity(SeverityWarning)
}

// IsErrorCode checks if an error matches a specific code
func IsErrorCode(err error, code ErrorCode) bool {
	var eventErr *EventError
	if errors.As(err, &eventErr) {
		return eventErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var eventErr *EventError
	if errors.As(err, &eventErr) {
		return eventErr.Code
	}
	return ""
}
