package tracker

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of a tracked error event
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Levels lists every recognized level, least severe first
var Levels = []Level{LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical}

// ParseLevel maps a level name to a Level. Unknown names map to LevelError.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelInfo:
		return LevelInfo
	case LevelWarning, "warn":
		return LevelWarning
	case LevelCritical, "fatal":
		return LevelCritical
	default:
		return LevelError
	}
}

// DefaultErrorType is used when an event carries no type name
const DefaultErrorType = "Error"

// EventContext carries the well-known context fields of an event. Keys that
// have no dedicated field pass through in Extra.
type EventContext struct {
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	CaseID    string            `json:"case_id,omitempty"`
	Component string            `json:"component,omitempty"`
	Operation string            `json:"operation,omitempty"`
	URL       string            `json:"url,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Get returns a context value by key. Well-known keys fall back to Extra
// when the dedicated field is empty.
func (c *EventContext) Get(key string) string {
	if c == nil {
		return ""
	}
	var v string
	switch key {
	case "user_id", "userId":
		v = c.UserID
	case "session_id", "sessionId":
		v = c.SessionID
	case "case_id", "caseId":
		v = c.CaseID
	case "component":
		v = c.Component
	case "operation":
		v = c.Operation
	case "url":
		v = c.URL
	case "user_agent", "userAgent":
		v = c.UserAgent
	}
	if v == "" {
		v = c.Extra[key]
	}
	return v
}

func (c *EventContext) clone() *EventContext {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Extra != nil {
		cp.Extra = make(map[string]string, len(c.Extra))
		for k, v := range c.Extra {
			cp.Extra[k] = v
		}
	}
	return &cp
}

// ErrorEvent is a single error occurrence reported by the host application
type ErrorEvent struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Message   string        `json:"message"`
	Stack     string        `json:"stack,omitempty"`
	Level     Level         `json:"level"`
	Timestamp time.Time     `json:"timestamp"`
	Context   *EventContext `json:"context,omitempty"`
	Tags      []string      `json:"tags,omitempty"`
}

// Component returns the originating component name, if any
func (e ErrorEvent) Component() string {
	return e.Context.Get("component")
}

// UserID returns the explicitly tagged user identifier, if any
func (e ErrorEvent) UserID() string {
	return e.Context.Get("user_id")
}

// withDefaults returns a copy of the event with missing fields filled in.
// The copy shares nothing mutable with the caller's event.
func (e ErrorEvent) withDefaults(now time.Time) ErrorEvent {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if strings.TrimSpace(e.Type) == "" {
		e.Type = DefaultErrorType
	}
	if e.Level == "" {
		e.Level = LevelError
	} else {
		e.Level = ParseLevel(string(e.Level))
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Context = e.Context.clone()
	if e.Tags != nil {
		e.Tags = append([]string(nil), e.Tags...)
	}
	return e
}
