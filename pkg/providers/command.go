package providers

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tombee/checkflow/pkg/engine"
)

// Command runs a check's rendered payload as a shell command, capturing
// stdout/stderr and exit code. A *os/exec.Cmd started with
// exec.CommandContext already observes ctx.Done, so the engine's
// CancelHandle needs no extra plumbing here.
type Command struct {
	WorkingDir string
}

// NewCommand constructs a Command adapter rooted at dir (empty = the
// process's own working directory).
func NewCommand(dir string) *Command { return &Command{WorkingDir: dir} }

// Execute implements engine.ProviderAdapter. The rendered payload must
// carry a "command" field: either a string (run through "sh -c") or a
// list of strings (run directly, no shell).
func (c *Command) Execute(ctx context.Context, check engine.CheckDefinition, payload map[string]any, _ map[string]engine.CheckResult, _ engine.CancelHandle) engine.CheckResult {
	startedAt := time.Now()

	cmd, err := c.buildCmd(ctx, payload)
	if err != nil {
		return engine.CheckResult{Status: engine.StatusError, FailureReason: err.Error(), StartedAt: startedAt, EndedAt: time.Now()}
	}

	if dir, ok := payload["dir"].(string); ok && dir != "" {
		cmd.Dir = dir
	} else if c.WorkingDir != "" {
		cmd.Dir = c.WorkingDir
	}
	cmd.Env = passthroughEnv(check.EnvPassthrough)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	endedAt := time.Now()

	exitCode := 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}

	output := map[string]any{
		"stdout":    strings.TrimSpace(stdout.String()),
		"stderr":    strings.TrimSpace(stderr.String()),
		"exit_code": exitCode,
	}

	if runErr != nil {
		reason := strings.TrimSpace(stderr.String())
		if reason == "" {
			reason = runErr.Error()
		}
		return engine.CheckResult{Status: engine.StatusFailed, Output: output, FailureReason: reason, StartedAt: startedAt, EndedAt: endedAt}
	}
	return engine.CheckResult{Status: engine.StatusOK, Output: output, StartedAt: startedAt, EndedAt: endedAt}
}

func (c *Command) buildCmd(ctx context.Context, payload map[string]any) (*exec.Cmd, error) {
	raw, ok := payload["command"]
	if !ok {
		return nil, fmt.Errorf("command: payload missing required %q field", "command")
	}
	switch v := raw.(type) {
	case string:
		return exec.CommandContext(ctx, "sh", "-c", v), nil
	case []any:
		args := make([]string, len(v))
		for i, a := range v {
			args[i] = fmt.Sprintf("%v", a)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("command: array form must not be empty")
		}
		return exec.CommandContext(ctx, args[0], args[1:]...), nil
	case []string:
		if len(v) == 0 {
			return nil, fmt.Errorf("command: array form must not be empty")
		}
		return exec.CommandContext(ctx, v[0], v[1:]...), nil
	default:
		return nil, fmt.Errorf("command: field must be a string or array, got %T", raw)
	}
}

// passthroughEnv builds the child process environment from the process's
// own os.Environ(), keeping only variables whose name matches one of
// patterns (doublestar glob, e.g. "GITHUB_*"). An empty pattern list
// passes nothing through beyond a minimal safe set.
func passthroughEnv(patterns []string) []string {
	if len(patterns) == 0 {
		return []string{"PATH=" + os.Getenv("PATH")}
	}
	var out []string
	for _, kv := range os.Environ() {
		name, _, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		for _, pattern := range patterns {
			if matched, _ := doublestar.Match(pattern, name); matched {
				out = append(out, kv)
				break
			}
		}
	}
	return out
}
