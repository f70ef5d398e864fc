package extraction

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/healthpulse/pulse/internal/models"
)

//go:embed steps.yaml
var stepsYAML []byte

// FanoutKind declares how a step's extraction work is distributed.
type FanoutKind string

const (
	FanoutNone         FanoutKind = "none"          // single seed message per step
	FanoutWorkItems    FanoutKind = "work_items"    // one message per dev-changed work item
	FanoutSprints      FanoutKind = "sprints"       // one message per (board, sprint)
	FanoutRepositories FanoutKind = "repositories"  // one message per repository
	FanoutPullRequests FanoutKind = "pull_requests" // one message per pull request
)

// StepDef is one declared extraction step.
type StepDef struct {
	Name   string     `yaml:"name"`
	Fanout FanoutKind `yaml:"fanout"`
}

// stepSequences holds the parsed per-provider sequences, loaded once at
// package init. A malformed steps file is a programming error.
var stepSequences = mustLoadSteps()

func mustLoadSteps() map[models.Provider][]StepDef {
	raw := map[string][]StepDef{}
	if err := yaml.Unmarshal(stepsYAML, &raw); err != nil {
		panic(fmt.Sprintf("invalid embedded steps.yaml: %v", err))
	}

	seqs := make(map[models.Provider][]StepDef, len(raw))
	for provider, steps := range raw {
		if len(steps) == 0 {
			panic(fmt.Sprintf("provider %s declares no steps", provider))
		}
		seqs[models.Provider(provider)] = steps
	}
	return seqs
}

// Steps returns the ordered step sequence for a provider.
func Steps(provider models.Provider) []StepDef {
	return stepSequences[provider]
}

// StepNames returns the ordered step names for a provider.
func StepNames(provider models.Provider) []string {
	steps := stepSequences[provider]
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, s.Name)
	}
	return names
}

// FirstStep returns the first step of the provider sequence.
func FirstStep(provider models.Provider) (StepDef, error) {
	steps := stepSequences[provider]
	if len(steps) == 0 {
		return StepDef{}, fmt.Errorf("no step sequence declared for provider %s", provider)
	}
	return steps[0], nil
}

// NextStep returns the step following current, or ok=false on the terminal
// step.
func NextStep(provider models.Provider, current string) (StepDef, bool) {
	steps := stepSequences[provider]
	for i, s := range steps {
		if s.Name == current && i+1 < len(steps) {
			return steps[i+1], true
		}
	}
	return StepDef{}, false
}

// IsTerminalStep reports whether the step is the last of its sequence.
func IsTerminalStep(provider models.Provider, name string) bool {
	steps := stepSequences[provider]
	return len(steps) > 0 && steps[len(steps)-1].Name == name
}

// StepByName finds a step definition.
func StepByName(provider models.Provider, name string) (StepDef, bool) {
	for _, s := range stepSequences[provider] {
		if s.Name == name {
			return s, true
		}
	}
	return StepDef{}, false
}
