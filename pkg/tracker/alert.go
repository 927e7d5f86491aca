package tracker

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AlertSeverity is the severity of a raised alert
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// RuleGroupVolume is the name of the occurrence-count alert rule
const RuleGroupVolume = "error_group_volume"

// Alert is emitted when a group crosses its occurrence threshold
type Alert struct {
	ID          string        `json:"id"`
	Rule        string        `json:"rule"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	Fingerprint string        `json:"fingerprint"`
	Value       float64       `json:"value"`
	Threshold   float64       `json:"threshold"`
	Timestamp   time.Time     `json:"timestamp"`
	Active      bool          `json:"active"`
}

// AlertEvaluator raises an alert each time a group count lands on a multiple
// of the threshold (10, 20, 30, ...). It keeps no state between calls.
type AlertEvaluator struct {
	threshold int64
}

// NewAlertEvaluator creates an evaluator for the given threshold
func NewAlertEvaluator(threshold int64) *AlertEvaluator {
	if threshold <= 0 {
		threshold = defaultAlertThreshold
	}
	return &AlertEvaluator{threshold: threshold}
}

// Evaluate returns an alert when count has reached a threshold multiple
func (a *AlertEvaluator) Evaluate(fingerprint string, count int64, now time.Time) (Alert, bool) {
	if count < a.threshold || count%a.threshold != 0 {
		return Alert{}, false
	}
	return Alert{
		ID:          uuid.NewString(),
		Rule:        RuleGroupVolume,
		Severity:    AlertWarning,
		Message:     fmt.Sprintf("error group %s has occurred %d times", fingerprint, count),
		Fingerprint: fingerprint,
		Value:       float64(count),
		Threshold:   float64(a.threshold),
		Timestamp:   now,
		Active:      true,
	}, true
}
