package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/okralabs/uiheal/drift"
	"github.com/okralabs/uiheal/executor"
	"github.com/okralabs/uiheal/heal"
	"github.com/okralabs/uiheal/perception"
	"github.com/okralabs/uiheal/trajectory"
	"github.com/okralabs/uiheal/uimap"
)

// Perceiver turns a screenshot into a UIMap. Satisfied by
// *perception.Client; tests substitute an in-process detector.
type Perceiver interface {
	Parse(ctx context.Context, image []byte, meta *perception.ParseMeta) (*uimap.UIMap, error)
}

// Driver performs browser actions. Satisfied by *executor.Session.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Capture(ctx context.Context) (*executor.Frame, error)
	Click(ctx context.Context, el uimap.Element) error
	Type(ctx context.Context, el uimap.Element, text string) error
}

// StepResult summarises one executed step.
type StepResult struct {
	Name    string
	Action  Action
	Status  string // passed | failed | skipped
	Healed  bool
	Alerts  []drift.Alert
	Failure string
}

// RunResult summarises a whole run.
type RunResult struct {
	RunID  string
	Passed bool
	Steps  []StepResult
}

// Runner executes a scenario. The signature book is per-run state: every
// time a target resolves, its signature is re-captured from the map it was
// found in, so later heals always work from the freshest known-good
// observation.
type Runner struct {
	scenario   *Scenario
	driver     Driver
	perceiver  Perceiver
	store      *trajectory.Store
	resolver   *heal.Resolver
	comparator *drift.Comparator
	logger     *slog.Logger

	signatures map[string]heal.Signature
}

// New creates a Runner. The store may be nil to skip persistence.
func New(sc *Scenario, driver Driver, perceiver Perceiver, store *trajectory.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		scenario:   sc,
		driver:     driver,
		perceiver:  perceiver,
		store:      store,
		resolver:   heal.NewResolver(sc.Heal),
		comparator: drift.NewComparator(sc.Drift),
		logger:     logger,
		signatures: make(map[string]heal.Signature),
	}
}

// Run executes every step in order. A failed step marks the run failed;
// whether later steps still execute depends on stop_on_failure.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	res := &RunResult{Passed: true}

	if r.store != nil {
		runID, err := r.store.CreateRun(ctx, r.scenario.Name, r.scenario.TargetURL)
		if err != nil {
			return nil, err
		}
		res.RunID = runID
	}

	stopped := false
	for i, step := range r.scenario.Steps {
		if stopped {
			res.Steps = append(res.Steps, StepResult{Name: step.Name, Action: step.Action, Status: "skipped"})
			continue
		}

		sr := r.runStep(ctx, res.RunID, i, step)
		res.Steps = append(res.Steps, sr)

		if sr.Status == "failed" {
			res.Passed = false
			if r.scenario.StopOnFailure {
				stopped = true
			}
		}
	}

	if r.store != nil {
		status := "passed"
		if !res.Passed {
			status = "failed"
		}
		if err := r.store.FinishRun(ctx, res.RunID, status); err != nil {
			r.logger.Error("runner: finish run", "error", err)
		}
	}

	return res, nil
}

func (r *Runner) runStep(ctx context.Context, runID string, seq int, step StepConfig) StepResult {
	sr := StepResult{Name: step.Name, Action: step.Action, Status: "passed"}
	log := r.logger.With("step", step.Name, "action", step.Action)

	fail := func(format string, args ...any) StepResult {
		sr.Status = "failed"
		sr.Failure = fmt.Sprintf(format, args...)
		log.Error("runner: step failed", "reason", sr.Failure)
		return sr
	}

	// Wait and navigate need no perception at all.
	switch step.Action {
	case ActionWait:
		select {
		case <-time.After(step.Duration):
		case <-ctx.Done():
			return fail("cancelled: %v", ctx.Err())
		}
		r.persistStep(ctx, runID, seq, step, sr.Status, nil, nil, nil)
		return sr
	case ActionNavigate:
		url := step.URL
		if url == "" {
			url = r.scenario.TargetURL
		}
		if err := r.driver.Navigate(ctx, url); err != nil {
			return fail("navigate: %v", err)
		}
		after, err := r.observe(ctx, step.Name)
		if err != nil {
			log.Warn("runner: post-navigate observation failed", "error", err)
		}
		r.persistStep(ctx, runID, seq, step, sr.Status, nil, after, nil)
		return sr
	}

	before, err := r.observe(ctx, step.Name)
	if err != nil {
		return fail("observe before: %v", err)
	}

	var healEvent *heal.Event
	switch step.Action {
	case ActionClick, ActionType:
		el, ev, ok := r.locate(step.Target, before)
		if !ok {
			sr2 := fail("element %s not found and healing failed", step.Target)
			r.persistStep(ctx, runID, seq, step, sr2.Status, before, nil, nil)
			return sr2
		}
		healEvent = ev
		sr.Healed = ev != nil

		if step.Action == ActionClick {
			err = r.driver.Click(ctx, el)
		} else {
			err = r.driver.Type(ctx, el, step.Text)
		}
		if err != nil {
			sr2 := fail("%s %s: %v", step.Action, el.ID, err)
			r.persistStep(ctx, runID, seq, step, sr2.Status, before, nil, healEvent)
			return sr2
		}

	case ActionAssertText:
		if !containsText(before, step.Text) {
			sr2 := fail("text %q not on screen", step.Text)
			r.persistStep(ctx, runID, seq, step, sr2.Status, before, nil, nil)
			return sr2
		}
		r.persistStep(ctx, runID, seq, step, sr.Status, before, nil, nil)
		return sr
	}

	after, err := r.observe(ctx, step.Name)
	if err != nil {
		log.Warn("runner: post-action observation failed", "error", err)
		r.persistStep(ctx, runID, seq, step, sr.Status, before, nil, healEvent)
		return sr
	}

	report := r.comparator.Detect(before, after)
	sr.Alerts = report.Alerts
	for _, a := range report.Alerts {
		log.Warn("runner: drift detected",
			"severity", a.Severity, "type", a.Type, "description", a.Description)
	}

	r.persistStepWithAlerts(ctx, runID, seq, step, sr.Status, before, after, healEvent, report.Alerts)
	return sr
}

// observe captures a frame and parses it into a UIMap, then refreshes the
// signature book for every scenario target visible in the new map.
func (r *Runner) observe(ctx context.Context, stepName string) (*uimap.UIMap, error) {
	frame, err := r.driver.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	m, err := r.perceiver.Parse(ctx, frame.PNG, &perception.ParseMeta{
		TestID:   r.scenario.Name,
		StepName: stepName,
	})
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	for _, step := range r.scenario.Steps {
		if step.Target == "" {
			continue
		}
		if el, ok := m.Lookup(step.Target); ok {
			r.signatures[step.Target] = heal.BuildSignature(el, m)
		}
	}

	return m, nil
}

// locate resolves a target id against m, healing through the stored
// signature when the id itself is gone. On a heal, the signature book is
// rebound to the healed element so subsequent steps follow it.
func (r *Runner) locate(targetID string, m *uimap.UIMap) (uimap.Element, *heal.Event, bool) {
	var sig *heal.Signature
	if s, ok := r.signatures[targetID]; ok {
		sig = &s
	}

	res := r.resolver.ResolveByID(targetID, m, sig)
	if !res.Success {
		r.logger.Warn("runner: resolution failed",
			"target", targetID, "candidates", len(res.Candidates))
		return uimap.Element{}, nil, false
	}

	if res.Event != nil {
		r.logger.Info("runner: healed element reference",
			"original", res.Event.OriginalTarget,
			"healed", res.Event.HealedTarget,
			"method", res.Event.Method,
			"confidence", res.Event.Confidence)
		r.signatures[targetID] = heal.BuildSignature(*res.Element, m)
	}

	return *res.Element, res.Event, true
}

func (r *Runner) persistStep(ctx context.Context, runID string, seq int, step StepConfig, status string, before, after *uimap.UIMap, ev *heal.Event) {
	r.persistStepWithAlerts(ctx, runID, seq, step, status, before, after, ev, nil)
}

func (r *Runner) persistStepWithAlerts(ctx context.Context, runID string, seq int, step StepConfig, status string, before, after *uimap.UIMap, ev *heal.Event, alerts []drift.Alert) {
	if r.store == nil || runID == "" {
		return
	}
	stepID, err := r.store.RecordStep(ctx, runID, seq, step.Name, string(step.Action), step.Target, status, before, after)
	if err != nil {
		r.logger.Error("runner: record step", "error", err)
		return
	}
	if ev != nil {
		if err := r.store.RecordHealingEvent(ctx, stepID, *ev); err != nil {
			r.logger.Error("runner: record healing event", "error", err)
		}
	}
	if len(alerts) > 0 {
		if err := r.store.RecordAlerts(ctx, stepID, alerts); err != nil {
			r.logger.Error("runner: record alerts", "error", err)
		}
	}
}

func containsText(m *uimap.UIMap, fragment string) bool {
	f := strings.ToLower(fragment)
	for _, el := range m.Elements {
		if strings.Contains(strings.ToLower(el.Text), f) {
			return true
		}
	}
	return false
}
