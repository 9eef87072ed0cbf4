package trajectory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okralabs/uiheal/drift"
	"github.com/okralabs/uiheal/heal"
	"github.com/okralabs/uiheal/idgen"
	"github.com/okralabs/uiheal/uimap"
)

// Run is one scenario execution.
type Run struct {
	ID         string    `json:"id"`
	Scenario   string    `json:"scenario"`
	TargetURL  string    `json:"target_url"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Step is one recorded action with its before/after screens.
type Step struct {
	ID         string `json:"id"`
	RunID      string `json:"run_id"`
	Seq        int    `json:"seq"`
	Name       string `json:"name"`
	Action     string `json:"action"`
	TargetID   string `json:"target_id"`
	Status     string `json:"status"`
	BeforeHash string `json:"before_hash"`
	AfterHash  string `json:"after_hash"`
}

// RunStats aggregates a run for reporting.
type RunStats struct {
	Steps       int `json:"steps"`
	FailedSteps int `json:"failed_steps"`
	Healings    int `json:"healings"`
	Alerts      int `json:"alerts"`
}

// CreateRun inserts a new run in "running" state and returns its id.
func (s *Store) CreateRun(ctx context.Context, scenario, targetURL string) (string, error) {
	id := idgen.Prefixed("run_", s.newID)()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, scenario, target_url, status, started_at)
		VALUES (?,?,?,?,?)`,
		id, scenario, targetURL, "running", time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("trajectory: create run: %w", err)
	}
	return id, nil
}

// FinishRun marks a run as passed/failed and stamps the finish time.
func (s *Store) FinishRun(ctx context.Context, runID, status string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, time.Now().Unix(), runID)
	if err != nil {
		return fmt.Errorf("trajectory: finish run: %w", err)
	}
	return nil
}

// RecordStep persists one step with its before/after UIMaps serialised as
// JSON blobs. Maps may be nil (capture failed); then only metadata lands.
func (s *Store) RecordStep(ctx context.Context, runID string, seq int, name, action, targetID, status string, before, after *uimap.UIMap) (string, error) {
	id := idgen.Prefixed("stp_", s.newID)()

	marshal := func(m *uimap.UIMap) (blob, hash string) {
		if m == nil {
			return "", ""
		}
		data, err := json.Marshal(m)
		if err != nil {
			return "", m.Screen.Hash
		}
		return string(data), m.Screen.Hash
	}
	beforeBlob, beforeHash := marshal(before)
	afterBlob, afterHash := marshal(after)

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO steps (id, run_id, seq, name, action, target_id, status,
			before_hash, after_hash, before_uimap, after_uimap, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, runID, seq, name, action, targetID, status,
		beforeHash, afterHash, beforeBlob, afterBlob, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("trajectory: record step: %w", err)
	}
	return id, nil
}

// RecordHealingEvent persists one healing event with its audit candidates.
func (s *Store) RecordHealingEvent(ctx context.Context, stepID string, ev heal.Event) error {
	candidates, err := json.Marshal(ev.Candidates)
	if err != nil {
		return fmt.Errorf("trajectory: marshal candidates: %w", err)
	}
	id := idgen.Prefixed("evt_", s.newID)()
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO healing_events (id, step_id, original_target, healed_target,
			method, confidence, candidates, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		id, stepID, ev.OriginalTarget, ev.HealedTarget,
		string(ev.Method), ev.Confidence, string(candidates), ev.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("trajectory: record healing event: %w", err)
	}
	return nil
}

// RecordAlerts persists a batch of drift alerts for a step.
func (s *Store) RecordAlerts(ctx context.Context, stepID string, alerts []drift.Alert) error {
	for _, a := range alerts {
		affected, err := json.Marshal(a.AffectedElements)
		if err != nil {
			return fmt.Errorf("trajectory: marshal affected elements: %w", err)
		}
		id := idgen.Prefixed("alr_", s.newID)()
		_, err = s.DB.ExecContext(ctx, `
			INSERT INTO drift_alerts (id, step_id, severity, alert_type,
				description, affected_elements, expected, actual, created_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			id, stepID, string(a.Severity), string(a.Type), a.Description,
			string(affected), jsonString(a.Expected), jsonString(a.Actual),
			a.Timestamp.Unix())
		if err != nil {
			return fmt.Errorf("trajectory: record alert: %w", err)
		}
	}
	return nil
}

// RecentRuns returns the newest runs, most recent first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, scenario, target_url, status, started_at, COALESCE(finished_at, 0)
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("trajectory: recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Scenario, &r.TargetURL, &r.Status, &started, &finished); err != nil {
			return nil, fmt.Errorf("trajectory: scan run: %w", err)
		}
		r.StartedAt = time.Unix(started, 0).UTC()
		if finished > 0 {
			r.FinishedAt = time.Unix(finished, 0).UTC()
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// StepsForRun returns a run's steps in sequence order.
func (s *Store) StepsForRun(ctx context.Context, runID string) ([]Step, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, run_id, seq, name, action, target_id, status, before_hash, after_hash
		FROM steps WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("trajectory: steps for run: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		if err := rows.Scan(&st.ID, &st.RunID, &st.Seq, &st.Name, &st.Action,
			&st.TargetID, &st.Status, &st.BeforeHash, &st.AfterHash); err != nil {
			return nil, fmt.Errorf("trajectory: scan step: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// EventsForStep returns healing events recorded for a step.
func (s *Store) EventsForStep(ctx context.Context, stepID string) ([]heal.Event, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT original_target, healed_target, method, confidence, candidates, created_at
		FROM healing_events WHERE step_id = ? ORDER BY created_at`, stepID)
	if err != nil {
		return nil, fmt.Errorf("trajectory: events for step: %w", err)
	}
	defer rows.Close()

	var events []heal.Event
	for rows.Next() {
		var ev heal.Event
		var method, candidates string
		var created int64
		if err := rows.Scan(&ev.OriginalTarget, &ev.HealedTarget, &method,
			&ev.Confidence, &candidates, &created); err != nil {
			return nil, fmt.Errorf("trajectory: scan event: %w", err)
		}
		ev.Method = heal.Method(method)
		ev.Timestamp = time.Unix(created, 0).UTC()
		if err := json.Unmarshal([]byte(candidates), &ev.Candidates); err != nil {
			return nil, fmt.Errorf("trajectory: decode candidates: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AlertsForStep returns drift alerts recorded for a step.
func (s *Store) AlertsForStep(ctx context.Context, stepID string) ([]drift.Alert, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT severity, alert_type, description, affected_elements, created_at
		FROM drift_alerts WHERE step_id = ? ORDER BY created_at`, stepID)
	if err != nil {
		return nil, fmt.Errorf("trajectory: alerts for step: %w", err)
	}
	defer rows.Close()

	var alerts []drift.Alert
	for rows.Next() {
		var a drift.Alert
		var severity, alertType, affected string
		var created int64
		if err := rows.Scan(&severity, &alertType, &a.Description, &affected, &created); err != nil {
			return nil, fmt.Errorf("trajectory: scan alert: %w", err)
		}
		a.Severity = drift.Severity(severity)
		a.Type = drift.AlertType(alertType)
		a.Timestamp = time.Unix(created, 0).UTC()
		if err := json.Unmarshal([]byte(affected), &a.AffectedElements); err != nil {
			return nil, fmt.Errorf("trajectory: decode affected elements: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Stats aggregates counters for one run.
func (s *Store) Stats(ctx context.Context, runID string) (*RunStats, error) {
	var st RunStats
	err := s.DB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM steps WHERE run_id = ?),
			(SELECT COUNT(*) FROM steps WHERE run_id = ? AND status = 'failed'),
			(SELECT COUNT(*) FROM healing_events WHERE step_id IN (SELECT id FROM steps WHERE run_id = ?)),
			(SELECT COUNT(*) FROM drift_alerts WHERE step_id IN (SELECT id FROM steps WHERE run_id = ?))`,
		runID, runID, runID, runID).
		Scan(&st.Steps, &st.FailedSteps, &st.Healings, &st.Alerts)
	if err != nil {
		if err == sql.ErrNoRows {
			return &RunStats{}, nil
		}
		return nil, fmt.Errorf("trajectory: stats: %w", err)
	}
	return &st, nil
}

// jsonString renders an alert payload value for storage; nil becomes "".
func jsonString(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
