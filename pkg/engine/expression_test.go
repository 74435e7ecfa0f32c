package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/checkflow/pkg/engine"
)

func TestExpressionEvaluator_EvaluateBool(t *testing.T) {
	eval := engine.NewExpressionEvaluator()

	ok, err := eval.EvaluateBool("", engine.EvalContext{})
	require.NoError(t, err)
	assert.True(t, ok, "an empty expression is always true")

	ctx := engine.EvalContext{
		Outputs: map[string]engine.CheckResult{
			"build": {Status: engine.StatusOK, Attempts: 1},
		},
	}
	ok, err = eval.EvaluateBool("outputs.build.status == 'ok'", ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = eval.EvaluateBool("outputs.build.status == 'failed'", ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpressionEvaluator_EvaluateBool_NonBoolIsError(t *testing.T) {
	eval := engine.NewExpressionEvaluator()
	_, err := eval.EvaluateBool("1 + 1", engine.EvalContext{})
	require.Error(t, err)
}

func TestExpressionEvaluator_HasMinPermission(t *testing.T) {
	eval := engine.NewExpressionEvaluator()
	ctx := engine.EvalContext{Event: engine.TriggerEvent{ActorAssociation: engine.AssociationMember}}

	ok, err := eval.EvaluateBool("hasMinPermission('COLLABORATOR')", ctx)
	require.NoError(t, err)
	assert.True(t, ok, "MEMBER outranks COLLABORATOR")

	ok, err = eval.EvaluateBool("hasMinPermission('OWNER')", ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpressionEvaluator_IsOwner(t *testing.T) {
	eval := engine.NewExpressionEvaluator()

	ok, err := eval.EvaluateBool("isOwner()", engine.EvalContext{Event: engine.TriggerEvent{ActorAssociation: engine.AssociationOwner}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = eval.EvaluateBool("isOwner()", engine.EvalContext{Event: engine.TriggerEvent{ActorAssociation: engine.AssociationNone}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpressionEvaluator_LengthAndContains(t *testing.T) {
	eval := engine.NewExpressionEvaluator()
	ctx := engine.EvalContext{
		Outputs: map[string]engine.CheckResult{
			"scan": {Output: []any{"a", "b", "c"}},
		},
	}

	ok, err := eval.EvaluateBool("length(outputs.scan.output) == 3", ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = eval.EvaluateBool("contains(outputs.scan.output, 'b')", ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = eval.EvaluateBool("contains(outputs.scan.output, 'z')", ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpressionEvaluator_EvaluateList(t *testing.T) {
	eval := engine.NewExpressionEvaluator()
	items, err := eval.EvaluateList("[1, 2, 3]", engine.EvalContext{})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, items)

	_, err = eval.EvaluateList("'not a list'", engine.EvalContext{})
	require.Error(t, err)
}

func TestExpressionEvaluator_NowIsFrozenFromEvent(t *testing.T) {
	eval := engine.NewExpressionEvaluator()
	frozen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	val, err := eval.EvaluateValue("now", engine.EvalContext{Event: engine.TriggerEvent{Timestamp: frozen}})
	require.NoError(t, err)
	assert.Equal(t, frozen, val)
}

func TestExpressionEvaluator_CacheIsReusedAcrossCalls(t *testing.T) {
	eval := engine.NewExpressionEvaluator()
	_, err := eval.EvaluateBool("true", engine.EvalContext{})
	require.NoError(t, err)
	_, err = eval.EvaluateBool("true", engine.EvalContext{})
	require.NoError(t, err)

	assert.Equal(t, 1, eval.CacheSize())

	eval.ClearCache()
	assert.Equal(t, 0, eval.CacheSize())
}
