package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/checkflow/pkg/engine"
)

func TestTemplater_Render_Basic(t *testing.T) {
	tpl := engine.NewTemplater(engine.NewExpressionEvaluator())
	ctx := engine.EvalContext{
		Outputs: map[string]engine.CheckResult{
			"build": {Status: engine.StatusOK},
		},
	}

	out, err := tpl.Render("status is {{ outputs.build.status }}!", ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "status is ok!", out)
}

func TestTemplater_Render_NoFragments(t *testing.T) {
	tpl := engine.NewTemplater(engine.NewExpressionEvaluator())
	out, err := tpl.Render("plain text, nothing to render", engine.EvalContext{}, 0)
	require.NoError(t, err)
	assert.Equal(t, "plain text, nothing to render", out)
}

func TestTemplater_Render_UnterminatedFragmentIsToleratedVerbatim(t *testing.T) {
	tpl := engine.NewTemplater(engine.NewExpressionEvaluator())
	out, err := tpl.Render("broken {{ oops", engine.EvalContext{}, 0)
	require.NoError(t, err)
	assert.Equal(t, "broken {{ oops", out)
}

func TestTemplater_Render_PromptCapTruncates(t *testing.T) {
	tpl := engine.NewTemplater(engine.NewExpressionEvaluator())

	long, err := tpl.Render("this is a longer string of rendered output that exceeds the cap", engine.EvalContext{}, 20)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(long), 20)
	assert.Contains(t, long, "…[truncated]")
}

func TestTemplater_Render_PropagatesEvalError(t *testing.T) {
	tpl := engine.NewTemplater(engine.NewExpressionEvaluator())
	_, err := tpl.Render("{{ outputs.missing.status == 1 + }}", engine.EvalContext{}, 0)
	require.Error(t, err)
}

func TestTemplater_RenderMap_NestedStructures(t *testing.T) {
	tpl := engine.NewTemplater(engine.NewExpressionEvaluator())
	ctx := engine.EvalContext{Metadata: map[string]any{"env": "prod"}}

	payload := map[string]any{
		"name":  "{{ metadata.env }}-deploy",
		"count": 3,
		"nested": map[string]any{
			"label": "env={{ metadata.env }}",
		},
		"list": []any{"{{ metadata.env }}", "static"},
	}

	out, err := tpl.RenderMap(payload, ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "prod-deploy", out["name"])
	assert.Equal(t, 3, out["count"])
	assert.Equal(t, map[string]any{"label": "env=prod"}, out["nested"])
	assert.Equal(t, []any{"prod", "static"}, out["list"])
}
