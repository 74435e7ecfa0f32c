package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/checkflow/internal/config"
	"github.com/tombee/checkflow/pkg/engine"
	checkflowerrors "github.com/tombee/checkflow/pkg/errors"
)

const sampleYAML = `
version: "1"
max_parallelism: 4
failure_conditions:
  any_critical: "metadata.criticalIssues > 0"
checks:
  lint:
    type: command
    with:
      command: "golangci-lint run"
  build:
    type: command
    depends_on: [lint]
    retry:
      max_attempts: 2
      backoff_ms: 100
    with:
      command: "go build ./..."
  test:
    type: command
    depends_on: [build]
    tags: ["ci"]
    with:
      command: "go test ./..."
`

func TestParse_PreservesDeclarationOrder(t *testing.T) {
	cfg, err := config.Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"lint", "build", "test"}, cfg.CheckOrder)
	assert.Len(t, cfg.Checks, 3)
}

func TestParse_DecodesCheckFields(t *testing.T) {
	cfg, err := config.Parse([]byte(sampleYAML))
	require.NoError(t, err)

	build := cfg.Checks["build"]
	assert.Equal(t, "command", build.Type)
	assert.Equal(t, []string{"lint"}, build.DependsOn)
	assert.Equal(t, 2, build.Retry.MaxAttempts)
	assert.Equal(t, 100, build.Retry.BackoffMs)

	test := cfg.Checks["test"]
	assert.Equal(t, []string{"ci"}, test.Tags)
}

func TestParse_DefaultsMaxParallelismToOne(t *testing.T) {
	cfg, err := config.Parse([]byte(`checks:
  solo:
    type: noop
`))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.MaxParallelism)
}

func TestParse_RejectsDuplicateCheckID(t *testing.T) {
	_, err := config.Parse([]byte(`checks:
  lint:
    type: command
  lint:
    type: command
`))
	require.Error(t, err)
}

func TestParse_RejectsNonMappingChecks(t *testing.T) {
	_, err := config.Parse([]byte(`checks: "not a mapping"`))
	require.Error(t, err)
}

func TestParse_InvalidYAMLIsConfigError(t *testing.T) {
	_, err := config.Parse([]byte("not: [valid: yaml"))
	require.Error(t, err)
	var cfgErr *checkflowerrors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestSortedCheckIDs_FallsBackToLexicalWithoutCheckOrder(t *testing.T) {
	cfg := engine.WorkflowConfig{
		Checks: map[string]engine.CheckDefinition{
			"zeta":  {ID: "zeta"},
			"alpha": {ID: "alpha"},
		},
	}
	assert.Equal(t, []string{"alpha", "zeta"}, config.SortedCheckIDs(cfg))
}

func TestValidate_RejectsDanglingDependency(t *testing.T) {
	cfg := engine.WorkflowConfig{
		Checks: map[string]engine.CheckDefinition{
			"build": {ID: "build", DependsOn: []string{"missing"}},
		},
		CheckOrder: []string{"build"},
	}
	require.Error(t, config.Validate(cfg))
}

func TestValidate_RejectsCyclicDependencies(t *testing.T) {
	cfg := engine.WorkflowConfig{
		Checks: map[string]engine.CheckDefinition{
			"a": {ID: "a", DependsOn: []string{"b"}},
			"b": {ID: "b", DependsOn: []string{"a"}},
		},
		CheckOrder: []string{"a", "b"},
	}
	err := config.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic")
}

func TestValidate_AcceptsWellFormedGraph(t *testing.T) {
	cfg, err := config.Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, config.Validate(cfg))
}
