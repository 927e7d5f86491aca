package notification

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/armorclaw/errtrack/pkg/tracker"
)

// AlertEventType is the payload type sent to webhook receivers
const AlertEventType = "errtrack.alert"

// Payload field names
const (
	FieldEventType   = "event_type"
	FieldAlertID     = "alert_id"
	FieldRule        = "rule"
	FieldSeverity    = "severity"
	FieldTitle       = "title"
	FieldMessage     = "message"
	FieldFingerprint = "fingerprint"
	FieldTimestamp   = "timestamp"
	FieldMetadata    = "metadata"
)

// SystemAlert is the wire form of a raised alert
type SystemAlert struct {
	ID          string         `json:"alert_id"`
	Rule        string         `json:"rule"`
	Severity    string         `json:"severity"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Fingerprint string         `json:"fingerprint"`
	Timestamp   int64          `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// FromAlert converts a tracker alert into its wire form
func FromAlert(a tracker.Alert) *SystemAlert {
	return &SystemAlert{
		ID:          a.ID,
		Rule:        a.Rule,
		Severity:    strings.ToUpper(string(a.Severity)),
		Title:       titleFor(a),
		Message:     a.Message,
		Fingerprint: a.Fingerprint,
		Timestamp:   a.Timestamp.UnixMilli(),
		Metadata: map[string]any{
			"value":     a.Value,
			"threshold": a.Threshold,
		},
	}
}

func titleFor(a tracker.Alert) string {
	switch a.Rule {
	case tracker.RuleGroupVolume:
		return fmt.Sprintf("Error group reached %.0f occurrences", a.Value)
	default:
		return "Error tracking alert"
	}
}

// ToContent converts the alert to a flat payload map
func (a *SystemAlert) ToContent() map[string]any {
	content := map[string]any{
		FieldEventType:   AlertEventType,
		FieldAlertID:     a.ID,
		FieldRule:        a.Rule,
		FieldSeverity:    a.Severity,
		FieldTitle:       a.Title,
		FieldMessage:     a.Message,
		FieldFingerprint: a.Fingerprint,
		FieldTimestamp:   a.Timestamp,
	}
	if a.Metadata != nil {
		content[FieldMetadata] = a.Metadata
	}
	return content
}

// ToJSON converts the alert to JSON
func (a *SystemAlert) ToJSON() ([]byte, error) {
	return json.Marshal(a.ToContent())
}
