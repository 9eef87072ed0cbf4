package runner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const scenarioYAML = `
name: login-flow
target_url: https://example.test
stop_on_failure: true
heal:
  confidence_threshold: 0.8
  max_candidates: 3
drift:
  element_count_change_threshold: 0.25
  anchor_element_ids: [E000, E001]
  anchor_texts: ["Poker Admin"]
browser:
  headless: true
  stealth: true
steps:
  - name: open
    action: navigate
  - name: click login
    action: click
    target: E001
  - name: settle
    action: wait
    duration: 500ms
  - name: check
    action: assert_text
    text: Dashboard
`

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}

func TestLoadScenario(t *testing.T) {
	sc, err := LoadScenario(writeScenario(t, scenarioYAML))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}

	if sc.Name != "login-flow" || !sc.StopOnFailure {
		t.Errorf("scenario header = %+v", sc)
	}
	if sc.Heal.ConfidenceThreshold != 0.8 || sc.Heal.MaxCandidates != 3 {
		t.Errorf("heal config = %+v", sc.Heal)
	}
	if len(sc.Drift.AnchorElementIDs) != 2 || sc.Drift.AnchorTexts[0] != "Poker Admin" {
		t.Errorf("drift config = %+v", sc.Drift)
	}
	if !sc.Browser.Headless || !sc.Browser.Stealth {
		t.Errorf("browser config = %+v", sc.Browser)
	}

	// Unset fields get defaults.
	if sc.PerceptionURL != "http://localhost:8000" {
		t.Errorf("PerceptionURL = %q, want default", sc.PerceptionURL)
	}
	if sc.DBPath != "uiheal.db" {
		t.Errorf("DBPath = %q, want default", sc.DBPath)
	}

	if len(sc.Steps) != 4 {
		t.Fatalf("len(Steps) = %d, want 4", len(sc.Steps))
	}
	if sc.Steps[2].Duration != 500*time.Millisecond {
		t.Errorf("wait duration = %v, want 500ms", sc.Steps[2].Duration)
	}
}

func TestLoadScenarioMissingFile(t *testing.T) {
	if _, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadScenario succeeded on a missing file")
	}
}

func TestLoadScenarioBadYAML(t *testing.T) {
	if _, err := LoadScenario(writeScenario(t, "steps: [not: {valid")); err == nil {
		t.Fatal("LoadScenario succeeded on malformed yaml")
	}
}

func TestScenarioValidate(t *testing.T) {
	step := func(s StepConfig) *Scenario {
		return &Scenario{Name: "t", TargetURL: "https://example.test", Steps: []StepConfig{s}}
	}

	tests := []struct {
		name    string
		sc      *Scenario
		wantErr string
	}{
		{"no steps", &Scenario{Name: "t"}, "no steps"},
		{"navigate without any url", &Scenario{Name: "t", Steps: []StepConfig{{Action: ActionNavigate}}}, "needs a url"},
		{"navigate with scenario url", step(StepConfig{Action: ActionNavigate}), ""},
		{"click without target", step(StepConfig{Action: ActionClick}), "needs a target"},
		{"type without target", step(StepConfig{Action: ActionType, Text: "x"}), "needs a target"},
		{"assert without text", step(StepConfig{Action: ActionAssertText}), "needs text"},
		{"wait without duration", step(StepConfig{Action: ActionWait}), "needs a duration"},
		{"unknown action", step(StepConfig{Action: "hover"}), "unknown action"},
		{"valid click", step(StepConfig{Action: ActionClick, Target: "E001"}), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sc.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("validate = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
