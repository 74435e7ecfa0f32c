// Package config loads a YAML workflow file into an engine.WorkflowConfig.
// It never runs inside pkg/engine; the engine only ever consumes the
// already-validated engine.WorkflowConfig shape this package produces.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/tombee/checkflow/pkg/engine"
	checkflowerrors "github.com/tombee/checkflow/pkg/errors"
)

// retryYAML mirrors engine.RetryPolicy for decoding.
type retryYAML struct {
	MaxAttempts int  `yaml:"max_attempts"`
	BackoffMs   int  `yaml:"backoff_ms"`
	Jitter      bool `yaml:"jitter"`
}

// checkYAML mirrors engine.CheckDefinition for decoding. Provider-opaque
// fields are read from the check's `with:` mapping and become Payload,
// so the config loader never needs to know a provider's schema.
type checkYAML struct {
	Type           string         `yaml:"type"`
	DependsOn      []string       `yaml:"depends_on"`
	On             []string       `yaml:"on"`
	If             string         `yaml:"if"`
	FailIf         string         `yaml:"fail_if"`
	ForEach        string         `yaml:"forEach"`
	Retry          retryYAML      `yaml:"retry"`
	TimeoutMs      int            `yaml:"timeout_ms"`
	Tags           []string       `yaml:"tags"`
	EnvPassthrough []string       `yaml:"env_passthrough"`
	With           map[string]any `yaml:"with"`
}

// documentYAML is the top-level shape of a workflow file.
type documentYAML struct {
	Version           string            `yaml:"version"`
	MaxParallelism    int               `yaml:"max_parallelism"`
	FailureConditions map[string]string `yaml:"failure_conditions"`
	Checks            yaml.Node         `yaml:"checks"`
	Output            any               `yaml:"output"`
}

// Load reads and decodes a workflow YAML file at path into an
// engine.WorkflowConfig. Decoding errors surface as *errors.ConfigError;
// Load does not run Validate.
func Load(path string) (engine.WorkflowConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return engine.WorkflowConfig{}, &checkflowerrors.ConfigError{Key: path, Reason: err.Error()}
	}
	return Parse(raw)
}

// Parse decodes raw YAML bytes into an engine.WorkflowConfig, preserving
// the `checks` mapping's source order for the Scheduler's declaration-
// order FIFO tie-break (plain map decoding in Go does not preserve
// order, so Checks is walked as a yaml.Node sequence of key/value
// pairs instead of unmarshalled directly into a map).
func Parse(raw []byte) (engine.WorkflowConfig, error) {
	var doc documentYAML
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return engine.WorkflowConfig{}, &checkflowerrors.ConfigError{Key: "<document>", Reason: err.Error()}
	}

	checks := make(map[string]engine.CheckDefinition)
	var order []string

	if doc.Checks.Kind == yaml.MappingNode {
		content := doc.Checks.Content
		for i := 0; i+1 < len(content); i += 2 {
			id := content[i].Value
			var cy checkYAML
			if err := content[i+1].Decode(&cy); err != nil {
				return engine.WorkflowConfig{}, &checkflowerrors.ConfigError{Key: id, Reason: err.Error()}
			}
			if _, dup := checks[id]; dup {
				return engine.WorkflowConfig{}, &checkflowerrors.ConfigError{Key: id, Reason: "duplicate check id"}
			}
			checks[id] = checkYAML2Def(id, cy)
			order = append(order, id)
		}
	} else if doc.Checks.Kind != 0 {
		return engine.WorkflowConfig{}, &checkflowerrors.ConfigError{Key: "checks", Reason: "must be a mapping of check id to definition"}
	}

	cfg := engine.WorkflowConfig{
		Version:           doc.Version,
		MaxParallelism:    doc.MaxParallelism,
		FailureConditions: doc.FailureConditions,
		Checks:            checks,
		CheckOrder:        order,
		Output:            doc.Output,
	}
	if cfg.MaxParallelism < 1 {
		cfg.MaxParallelism = 1
	}
	return cfg, nil
}

func checkYAML2Def(id string, cy checkYAML) engine.CheckDefinition {
	on := make([]engine.EventKind, 0, len(cy.On))
	for _, k := range cy.On {
		on = append(on, engine.EventKind(k))
	}
	return engine.CheckDefinition{
		ID:        id,
		Type:      cy.Type,
		DependsOn: cy.DependsOn,
		On:        on,
		If:        cy.If,
		FailIf:    cy.FailIf,
		ForEach:   cy.ForEach,
		Retry: engine.RetryPolicy{
			MaxAttempts: cy.Retry.MaxAttempts,
			BackoffMs:   cy.Retry.BackoffMs,
			Jitter:      cy.Retry.Jitter,
		},
		TimeoutMs:      cy.TimeoutMs,
		Tags:           cy.Tags,
		EnvPassthrough: cy.EnvPassthrough,
		Payload:        cy.With,
	}
}

// SortedCheckIDs returns a workflow's check ids in declaration order,
// falling back to lexical order if CheckOrder was not populated (e.g. a
// config built programmatically rather than via Load/Parse).
func SortedCheckIDs(cfg engine.WorkflowConfig) []string {
	if len(cfg.CheckOrder) > 0 {
		return cfg.CheckOrder
	}
	ids := make([]string, 0, len(cfg.Checks))
	for id := range cfg.Checks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate reports a descriptive error for the config faults that are
// fatal at run start: duplicate ids (already rejected by Parse),
// dangling depends_on, and cyclic dependencies. It does not check
// provider-type availability; that is the ExecutionEngine's job at Start,
// since it depends on which ProviderRegistry the caller wires in.
func Validate(cfg engine.WorkflowConfig) error {
	if len(cfg.Checks) != len(cfg.CheckOrder) {
		return &checkflowerrors.ConfigError{Key: "checks", Reason: fmt.Sprintf("CheckOrder has %d entries but Checks has %d", len(cfg.CheckOrder), len(cfg.Checks))}
	}
	for id, c := range cfg.Checks {
		for _, dep := range c.DependsOn {
			if _, ok := cfg.Checks[dep]; !ok {
				return &checkflowerrors.ConfigError{Key: id, Reason: fmt.Sprintf("depends_on references unknown check %q", dep)}
			}
		}
	}
	return engine.ValidateDAG(cfg.Checks)
}
