package eventbus

import (
	"encoding/json"
	"time"

	"github.com/armorclaw/errtrack/pkg/tracker"
)

// EventTypeAlert is the envelope type of alert messages
const EventTypeAlert = "alert.raised"

// AlertEnvelope wraps an alert for delivery to subscribers
type AlertEnvelope struct {
	Type     string        `json:"type"`
	Alert    tracker.Alert `json:"alert"`
	Received time.Time     `json:"received"`
	Sequence int64         `json:"sequence"`
}

// ToJSON serializes the envelope
func (e *AlertEnvelope) ToJSON() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, ErrSerializeFailed(e.Alert.ID, err)
	}
	return data, nil
}

// AlertFilter defines which alerts a subscriber wants to receive
type AlertFilter struct {
	Fingerprint string                  // Only alerts for this group (empty = all groups)
	Rule        string                  // Only alerts from this rule (empty = all rules)
	Severities  []tracker.AlertSeverity // Only these severities (empty = all)
}

// Validate rejects filters that can never match
func (f AlertFilter) Validate() error {
	for _, s := range f.Severities {
		switch s {
		case tracker.AlertInfo, tracker.AlertWarning, tracker.AlertCritical:
		default:
			return ErrInvalidAlertFilter("unknown severity " + string(s))
		}
	}
	return nil
}

// Matches reports whether the alert passes the filter
func (f AlertFilter) Matches(a tracker.Alert) bool {
	if f.Fingerprint != "" && a.Fingerprint != f.Fingerprint {
		return false
	}
	if f.Rule != "" && a.Rule != f.Rule {
		return false
	}
	if len(f.Severities) > 0 {
		match := false
		for _, s := range f.Severities {
			if a.Severity == s {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}
