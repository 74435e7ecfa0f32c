package providers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ShellClient adapts an arbitrary command-line LLM client binary (the
// vendor CLI, a wrapper script, anything that reads a prompt on stdin
// and writes the completion to stdout) to the Client interface LLM
// expects, so a workflow can run against whatever provider CLI is on
// $PATH without this repository linking an SDK.
type ShellClient struct {
	Command []string
}

// NewShellClient builds a Client that invokes command (argv[0] plus any
// fixed arguments) once per Complete call, writing prompt to its stdin.
func NewShellClient(command ...string) *ShellClient {
	return &ShellClient{Command: command}
}

// Complete implements Client.
func (c *ShellClient) Complete(ctx context.Context, prompt string) (string, error) {
	if len(c.Command) == 0 {
		return "", fmt.Errorf("llm shell client: no command configured")
	}
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("llm shell client: %s", msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}
