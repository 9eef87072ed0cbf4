// Package runner executes YAML scenarios against a live browser: capture,
// perceive, act, heal broken element references, and compare screens for
// drift, persisting everything worth auditing to the trajectory store.
package runner

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/okralabs/uiheal/drift"
	"github.com/okralabs/uiheal/executor"
	"github.com/okralabs/uiheal/heal"
)

// Action is what a step does.
type Action string

const (
	ActionNavigate   Action = "navigate"
	ActionClick      Action = "click"
	ActionType       Action = "type"
	ActionAssertText Action = "assert_text"
	ActionWait       Action = "wait"
)

// StepConfig is one scenario step.
type StepConfig struct {
	Name     string        `yaml:"name"`
	Action   Action        `yaml:"action"`
	URL      string        `yaml:"url,omitempty"`
	Target   string        `yaml:"target,omitempty"`
	Text     string        `yaml:"text,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
}

// Scenario is a complete run definition.
type Scenario struct {
	Name          string          `yaml:"name"`
	TargetURL     string          `yaml:"target_url"`
	PerceptionURL string          `yaml:"perception_url"`
	DBPath        string          `yaml:"db_path"`
	StopOnFailure bool            `yaml:"stop_on_failure"`
	Heal          heal.Config     `yaml:"heal"`
	Drift         drift.Config    `yaml:"drift"`
	Browser       executor.Config `yaml:"browser"`
	Steps         []StepConfig    `yaml:"steps"`
}

func (s *Scenario) defaults() {
	if s.Name == "" {
		s.Name = "unnamed"
	}
	if s.PerceptionURL == "" {
		s.PerceptionURL = "http://localhost:8000"
	}
	if s.DBPath == "" {
		s.DBPath = "uiheal.db"
	}
}

// validate rejects scenarios a run could not execute.
func (s *Scenario) validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("runner: scenario %q has no steps", s.Name)
	}
	for i, st := range s.Steps {
		switch st.Action {
		case ActionNavigate:
			if st.URL == "" && s.TargetURL == "" {
				return fmt.Errorf("runner: step %d (%s): navigate needs a url", i, st.Name)
			}
		case ActionClick:
			if st.Target == "" {
				return fmt.Errorf("runner: step %d (%s): click needs a target", i, st.Name)
			}
		case ActionType:
			if st.Target == "" {
				return fmt.Errorf("runner: step %d (%s): type needs a target", i, st.Name)
			}
		case ActionAssertText:
			if st.Text == "" {
				return fmt.Errorf("runner: step %d (%s): assert_text needs text", i, st.Name)
			}
		case ActionWait:
			if st.Duration <= 0 {
				return fmt.Errorf("runner: step %d (%s): wait needs a duration", i, st.Name)
			}
		default:
			return fmt.Errorf("runner: step %d (%s): unknown action %q", i, st.Name, st.Action)
		}
	}
	return nil
}

// LoadScenario reads a YAML scenario file, applies defaults, and
// validates it.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runner: read scenario: %w", err)
	}
	sc := &Scenario{}
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("runner: parse scenario: %w", err)
	}
	sc.defaults()
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return sc, nil
}
