package provisioner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/agentrail/frontdoor/interfaces"
)

// CommandRunner invokes the external provisioning capability. All dynamic
// values travel through env; implementations must never build shell strings
// from them.
type CommandRunner interface {
	Run(ctx context.Context, env map[string]string) ([]byte, error)
}

// ExecRunner runs a configured executable with a fixed argument list.
type ExecRunner struct {
	// Command is the path of the provisioning executable.
	Command string

	// Args is the fixed argument list. No placeholders: dynamic values are
	// exposed to the process via environment variables only.
	Args []string

	// Timeout bounds a single invocation.
	Timeout time.Duration
}

// Run executes the command with the base process environment plus the
// provided variables. Stdout is the command's answer; stderr is consulted
// for transient-failure signals.
func (r *ExecRunner) Run(ctx context.Context, env map[string]string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.Command, r.Args...)
	cmd.Env = append(os.Environ(), formatEnv(env)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, classifyCommandError(err, stderr.Bytes())
	}
	return stdout.Bytes(), nil
}

// formatEnv renders the variable map as KEY=value pairs in a stable order.
func formatEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}
	return pairs
}

// commandError is the structured failure shape the provisioning command may
// print to stderr.
type commandError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// classifyCommandError maps a command failure onto the retry taxonomy.
// A JSON object on stderr with error_code "queue_conflict" or
// "rate_limited" marks the failure transient; recognizable plain-text
// markers are accepted as well. Everything else is terminal.
func classifyCommandError(execErr error, stderr []byte) error {
	trimmed := bytes.TrimSpace(stderr)
	detail := string(trimmed)
	if detail == "" {
		detail = execErr.Error()
	}

	var ce commandError
	if json.Unmarshal(trimmed, &ce) == nil {
		switch ce.ErrorCode {
		case "queue_conflict":
			return fmt.Errorf("%s: %w", ce.Message, interfaces.ErrQueueConflict)
		case "rate_limited":
			return fmt.Errorf("%s: %w", ce.Message, interfaces.ErrRateLimited)
		}
	}

	lowered := strings.ToLower(detail)
	if strings.Contains(lowered, "queue conflict") {
		return fmt.Errorf("%s: %w", detail, interfaces.ErrQueueConflict)
	}
	if strings.Contains(lowered, "rate limit") {
		return fmt.Errorf("%s: %w", detail, interfaces.ErrRateLimited)
	}

	return fmt.Errorf("provisioning command failed: %s", detail)
}
