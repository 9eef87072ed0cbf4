// Package drift compares two UIMap snapshots of what should be the same
// screen and reports structural anomalies as severity-ranked alerts.
//
// Alerts are advisory output, never errors: every check always runs, none
// short-circuits another, and a screen with no configured anchors simply
// skips the anchor checks silently.
package drift

import "time"

// Severity ranks how alarming an alert is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertType identifies which check produced an alert.
type AlertType string

const (
	AlertElementCountChange AlertType = "element_count_change"
	AlertMissingAnchor      AlertType = "missing_anchor"
	AlertMissingAnchorText  AlertType = "missing_anchor_text"
	AlertLayoutShift        AlertType = "layout_shift"
	AlertLayoutShiftMinor   AlertType = "layout_shift_minor"
	AlertAnchorTextChange   AlertType = "anchor_text_change"
	AlertNewElements        AlertType = "new_elements"
	AlertRemovedElements    AlertType = "removed_elements"
)

// Alert is one detected anomaly. Expected and Actual carry the raw values
// that triggered the check, for inspection only; nothing downstream
// computes on them.
type Alert struct {
	Timestamp        time.Time `json:"timestamp"`
	Severity         Severity  `json:"severity"`
	Type             AlertType `json:"type"`
	Description      string    `json:"description"`
	AffectedElements []string  `json:"affectedElements"`
	Expected         any       `json:"expected,omitempty"`
	Actual           any       `json:"actual,omitempty"`
}

// Report is the outcome of one comparison.
type Report struct {
	HasAlerts bool    `json:"hasAlerts"`
	Alerts    []Alert `json:"alerts"`
}
