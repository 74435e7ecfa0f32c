package engine

import (
	"fmt"
	"strings"
)

const truncationSentinel = "…[truncated]"

// Templater renders `{{ expression }}` fragments in provider payload
// strings against a read view, delegating evaluation to the
// ExpressionEvaluator and delegating escaping entirely to the provider
// adapter that ultimately consumes the rendered string (the Templater
// itself never decides how a value needs to be escaped; the adapters in
// pkg/providers use rendered strings as they are).
type Templater struct {
	eval *ExpressionEvaluator
}

// NewTemplater creates a Templater bound to one evaluator (normally the
// same evaluator the CheckRunner uses for if/fail_if, so compiled
// fragments share the run's cache).
func NewTemplater(eval *ExpressionEvaluator) *Templater {
	return &Templater{eval: eval}
}

// Render interpolates every `{{ expr }}` fragment of tmpl by evaluating
// expr against ctx, substituting its string form. promptCap, if
// positive, caps the rendered result's length; overflow is truncated
// with a sentinel rather than silently dropped.
func (t *Templater) Render(tmpl string, ctx EvalContext, promptCap int) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(tmpl) {
		start := strings.Index(tmpl[i:], "{{")
		if start == -1 {
			out.WriteString(tmpl[i:])
			break
		}
		start += i
		out.WriteString(tmpl[i:start])

		end := strings.Index(tmpl[start:], "}}")
		if end == -1 {
			// Unterminated fragment: emit the rest verbatim.
			out.WriteString(tmpl[start:])
			break
		}
		end += start

		expr := strings.TrimSpace(tmpl[start+2 : end])
		val, err := t.eval.EvaluateValue(expr, ctx)
		if err != nil {
			return "", err
		}
		out.WriteString(stringify(val))

		i = end + 2
	}

	rendered := out.String()
	if promptCap > 0 && len(rendered) > promptCap {
		cut := promptCap - len(truncationSentinel)
		if cut < 0 {
			cut = 0
		}
		rendered = rendered[:cut] + truncationSentinel
	}
	return rendered, nil
}

// RenderMap renders every string value of payload (nested maps
// and slices are rendered recursively), leaving non-string values
// untouched so providers can still receive typed payload fields.
func (t *Templater) RenderMap(payload map[string]any, ctx EvalContext, promptCap int) (map[string]any, error) {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		rv, err := t.renderValue(v, ctx, promptCap)
		if err != nil {
			return nil, err
		}
		out[k] = rv
	}
	return out, nil
}

func (t *Templater) renderValue(v any, ctx EvalContext, promptCap int) (any, error) {
	switch val := v.(type) {
	case string:
		return t.Render(val, ctx, promptCap)
	case map[string]any:
		return t.RenderMap(val, ctx, promptCap)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			rv, err := t.renderValue(elem, ctx, promptCap)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
