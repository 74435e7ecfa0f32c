package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDAG_AcceptsValidGraph(t *testing.T) {
	checks := map[string]CheckDefinition{
		"lint":  {ID: "lint"},
		"build": {ID: "build", DependsOn: []string{"lint"}},
		"test":  {ID: "test", DependsOn: []string{"build"}},
	}
	require.NoError(t, validateDAG(checks))
}

func TestValidateDAG_RejectsDanglingDependency(t *testing.T) {
	checks := map[string]CheckDefinition{
		"build": {ID: "build", DependsOn: []string{"nonexistent"}},
	}
	err := validateDAG(checks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestValidateDAG_RejectsDirectCycle(t *testing.T) {
	checks := map[string]CheckDefinition{
		"a": {ID: "a", DependsOn: []string{"b"}},
		"b": {ID: "b", DependsOn: []string{"a"}},
	}
	err := validateDAG(checks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic")
}

func TestValidateDAG_RejectsIndirectCycle(t *testing.T) {
	checks := map[string]CheckDefinition{
		"a": {ID: "a", DependsOn: []string{"c"}},
		"b": {ID: "b", DependsOn: []string{"a"}},
		"c": {ID: "c", DependsOn: []string{"b"}},
	}
	err := validateDAG(checks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic")
}

func TestValidateDAG_AllowsDiamondDependencies(t *testing.T) {
	checks := map[string]CheckDefinition{
		"root":  {ID: "root"},
		"left":  {ID: "left", DependsOn: []string{"root"}},
		"right": {ID: "right", DependsOn: []string{"root"}},
		"merge": {ID: "merge", DependsOn: []string{"left", "right"}},
	}
	require.NoError(t, validateDAG(checks))
}
