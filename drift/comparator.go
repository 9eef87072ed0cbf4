package drift

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/okralabs/uiheal/heal"
	"github.com/okralabs/uiheal/uimap"
)

// Config bounds comparator behaviour. Anchors are elements or text
// fragments the caller has designated as trusted reference points; all
// other elements get a higher alerting bar because detections on them are
// noisy.
type Config struct {
	// ElementCountChangeThreshold is the relative change in element count
	// that triggers an alert. Default 0.3.
	ElementCountChangeThreshold float64 `yaml:"element_count_change_threshold" json:"elementCountChangeThreshold"`

	// LayoutShiftThresholdPx is the anchor center-distance, in raw pixels,
	// that triggers a layout-shift alert. Default 50.
	LayoutShiftThresholdPx float64 `yaml:"layout_shift_threshold_px" json:"layoutShiftThresholdPx"`

	// AnchorElementIDs lists element ids treated as trusted references.
	AnchorElementIDs []string `yaml:"anchor_element_ids" json:"anchorElementIds"`

	// AnchorTexts lists text fragments expected to stay on screen
	// (matched case-insensitively as substrings).
	AnchorTexts []string `yaml:"anchor_texts" json:"anchorTexts"`
}

func (c *Config) defaults() {
	if c.ElementCountChangeThreshold <= 0 {
		c.ElementCountChangeThreshold = 0.3
	}
	if c.LayoutShiftThresholdPx <= 0 {
		c.LayoutShiftThresholdPx = 50
	}
}

// newElementsRatio is the fraction of the expected element count above
// which new/removed element churn is reported.
const newElementsRatio = 0.2

// Comparator runs a fixed battery of independent checks over a before and
// after UIMap pair. A single instance has no per-call state; configuration
// is snapshot-read at the start of every call, so it can be updated
// concurrently with in-flight comparisons.
type Comparator struct {
	mu  sync.RWMutex
	cfg Config
}

// NewComparator creates a Comparator. A zero Config gets defaults applied.
func NewComparator(cfg Config) *Comparator {
	cfg.defaults()
	return &Comparator{cfg: cfg}
}

// SetConfig replaces the comparator configuration between calls.
func (c *Comparator) SetConfig(cfg Config) {
	cfg.defaults()
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// Config returns the current configuration snapshot.
func (c *Comparator) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Detect compares expected against actual and concatenates the results of
// all checks. Check order carries no meaning and no check is fatal.
func (c *Comparator) Detect(expected, actual *uimap.UIMap) Report {
	cfg := c.Config()
	now := time.Now().UTC()

	expIdx := expected.Index()
	actIdx := actual.Index()

	var alerts []Alert
	alerts = append(alerts, checkElementCount(cfg, now, expected, actual)...)
	alerts = append(alerts, checkMissingAnchors(cfg, now, expIdx, actIdx)...)
	alerts = append(alerts, checkMissingAnchorTexts(cfg, now, expected, actual)...)
	alerts = append(alerts, checkAnchorLayoutShift(cfg, now, expIdx, actIdx)...)
	alerts = append(alerts, checkMatchedLayoutShift(cfg, now, expected, actual)...)
	alerts = append(alerts, checkAnchorTextChange(cfg, now, expIdx, actIdx)...)
	alerts = append(alerts, checkNewElements(cfg, now, expected, actIdx)...)
	alerts = append(alerts, checkRemovedElements(cfg, now, expIdx, actual)...)

	return Report{HasAlerts: len(alerts) > 0, Alerts: alerts}
}

// checkElementCount alerts when the relative element-count change exceeds
// the configured threshold. Skipped when the expected map is empty.
func checkElementCount(cfg Config, now time.Time, expected, actual *uimap.UIMap) []Alert {
	countExp := len(expected.Elements)
	if countExp == 0 {
		return nil
	}
	countAct := len(actual.Elements)

	diff := countAct - countExp
	if diff < 0 {
		diff = -diff
	}
	ratio := float64(diff) / float64(countExp)
	if ratio <= cfg.ElementCountChangeThreshold {
		return nil
	}

	severity := SeverityMedium
	if ratio > 0.5 {
		severity = SeverityHigh
	}
	return []Alert{{
		Timestamp:   now,
		Severity:    severity,
		Type:        AlertElementCountChange,
		Description: fmt.Sprintf("element count changed from %d to %d (%.0f%%)", countExp, countAct, ratio*100),
		Expected:    countExp,
		Actual:      countAct,
	}}
}

// checkMissingAnchors alerts for every configured anchor id present in the
// expected map but absent from the actual one.
func checkMissingAnchors(cfg Config, now time.Time, expIdx, actIdx map[string]uimap.Element) []Alert {
	var alerts []Alert
	for _, id := range cfg.AnchorElementIDs {
		el, inExpected := expIdx[id]
		if !inExpected {
			continue
		}
		if _, inActual := actIdx[id]; inActual {
			continue
		}
		alerts = append(alerts, Alert{
			Timestamp:        now,
			Severity:         SeverityHigh,
			Type:             AlertMissingAnchor,
			Description:      fmt.Sprintf("anchor element %s (%q) disappeared", id, el.Text),
			AffectedElements: []string{id},
			Expected:         el.Text,
		})
	}
	return alerts
}

// checkMissingAnchorTexts alerts for anchor text fragments that had a
// case-insensitive substring match in the expected map but have none in
// the actual one.
func checkMissingAnchorTexts(cfg Config, now time.Time, expected, actual *uimap.UIMap) []Alert {
	containsText := func(m *uimap.UIMap, fragment string) bool {
		f := strings.ToLower(fragment)
		for _, el := range m.Elements {
			if strings.Contains(strings.ToLower(el.Text), f) {
				return true
			}
		}
		return false
	}

	var alerts []Alert
	for _, fragment := range cfg.AnchorTexts {
		if !containsText(expected, fragment) || containsText(actual, fragment) {
			continue
		}
		alerts = append(alerts, Alert{
			Timestamp:   now,
			Severity:    SeverityHigh,
			Type:        AlertMissingAnchorText,
			Description: fmt.Sprintf("anchor text %q no longer on screen", fragment),
			Expected:    fragment,
		})
	}
	return alerts
}

// checkAnchorLayoutShift alerts when a configured anchor present in both
// maps moved more than the pixel threshold. Distance beyond twice the
// threshold escalates to high severity.
func checkAnchorLayoutShift(cfg Config, now time.Time, expIdx, actIdx map[string]uimap.Element) []Alert {
	var alerts []Alert
	for _, id := range cfg.AnchorElementIDs {
		expEl, inExpected := expIdx[id]
		actEl, inActual := actIdx[id]
		if !inExpected || !inActual {
			continue
		}
		dist := heal.CenterDistance(expEl.BBox, actEl.BBox)
		if dist <= cfg.LayoutShiftThresholdPx {
			continue
		}
		severity := SeverityMedium
		if dist > 2*cfg.LayoutShiftThresholdPx {
			severity = SeverityHigh
		}
		alerts = append(alerts, Alert{
			Timestamp:        now,
			Severity:         severity,
			Type:             AlertLayoutShift,
			Description:      fmt.Sprintf("anchor element %s moved %.0fpx", id, dist),
			AffectedElements: []string{id},
			Expected:         expEl.BBox,
			Actual:           actEl.BBox,
		})
	}
	return alerts
}

// checkMatchedLayoutShift pairs non-anchor expected elements with actual
// elements carrying identical text and role, and alerts at low severity
// when the pair moved beyond twice the threshold. Non-anchors get the
// higher bar and lower severity: they are matched heuristically, so their
// positions are noisy.
func checkMatchedLayoutShift(cfg Config, now time.Time, expected, actual *uimap.UIMap) []Alert {
	anchorSet := make(map[string]bool, len(cfg.AnchorElementIDs))
	for _, id := range cfg.AnchorElementIDs {
		anchorSet[id] = true
	}

	var alerts []Alert
	for _, expEl := range expected.Elements {
		if expEl.Text == "" || anchorSet[expEl.ID] {
			continue
		}
		for _, actEl := range actual.Elements {
			if actEl.Text != expEl.Text || actEl.Role != expEl.Role {
				continue
			}
			dist := heal.CenterDistance(expEl.BBox, actEl.BBox)
			if dist > 2*cfg.LayoutShiftThresholdPx {
				alerts = append(alerts, Alert{
					Timestamp:        now,
					Severity:         SeverityLow,
					Type:             AlertLayoutShiftMinor,
					Description:      fmt.Sprintf("element %q (%s) moved %.0fpx", expEl.Text, expEl.Role, dist),
					AffectedElements: []string{expEl.ID, actEl.ID},
					Expected:         expEl.BBox,
					Actual:           actEl.BBox,
				})
			}
			break
		}
	}
	return alerts
}

// checkAnchorTextChange alerts when a configured anchor present in both
// maps changed text. Exact string inequality, no fuzzy tolerance: anchors
// are trusted references and any change on them is meaningful.
func checkAnchorTextChange(cfg Config, now time.Time, expIdx, actIdx map[string]uimap.Element) []Alert {
	var alerts []Alert
	for _, id := range cfg.AnchorElementIDs {
		expEl, inExpected := expIdx[id]
		actEl, inActual := actIdx[id]
		if !inExpected || !inActual || expEl.Text == actEl.Text {
			continue
		}
		alerts = append(alerts, Alert{
			Timestamp:        now,
			Severity:         SeverityMedium,
			Type:             AlertAnchorTextChange,
			Description:      fmt.Sprintf("anchor element %s text changed from %q to %q", id, expEl.Text, actEl.Text),
			AffectedElements: []string{id},
			Expected:         expEl.Text,
			Actual:           actEl.Text,
		})
	}
	return alerts
}

// checkNewElements emits one aggregate alert when the number of actual ids
// absent from the expected map exceeds 20% of the expected element count.
func checkNewElements(cfg Config, now time.Time, expected *uimap.UIMap, actIdx map[string]uimap.Element) []Alert {
	expIdx := expected.Index()
	var newIDs []string
	for id := range actIdx {
		if _, ok := expIdx[id]; !ok {
			newIDs = append(newIDs, id)
		}
	}
	if float64(len(newIDs)) <= newElementsRatio*float64(len(expected.Elements)) {
		return nil
	}
	return []Alert{{
		Timestamp:        now,
		Severity:         SeverityLow,
		Type:             AlertNewElements,
		Description:      fmt.Sprintf("%d elements appeared that were not in the expected screen", len(newIDs)),
		AffectedElements: sorted(newIDs),
		Actual:           len(newIDs),
	}}
}

// checkRemovedElements is symmetric to checkNewElements at medium
// severity. Both checks use the expected map's size as the threshold base;
// that asymmetry matches the long-standing behaviour of the comparator.
func checkRemovedElements(cfg Config, now time.Time, expIdx map[string]uimap.Element, actual *uimap.UIMap) []Alert {
	actIdx := actual.Index()
	var removedIDs []string
	for id := range expIdx {
		if _, ok := actIdx[id]; !ok {
			removedIDs = append(removedIDs, id)
		}
	}
	if float64(len(removedIDs)) <= newElementsRatio*float64(len(expIdx)) {
		return nil
	}
	return []Alert{{
		Timestamp:        now,
		Severity:         SeverityMedium,
		Type:             AlertRemovedElements,
		Description:      fmt.Sprintf("%d expected elements are gone from the actual screen", len(removedIDs)),
		AffectedElements: sorted(removedIDs),
		Expected:         len(removedIDs),
	}}
}

// sorted copies and orders ids so aggregate alerts are deterministic.
func sorted(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}
