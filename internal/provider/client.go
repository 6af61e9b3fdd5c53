// Package provider executes external LLM command-line tools as bounded,
// single-shot subprocesses. Prompts go in on stdin, responses come back
// on stdout, and every byte in both directions passes the ASCII
// sanitizer. Retrying is the caller's responsibility.
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/jcushman97/MAOFinal/internal/ascii"
)

// killGrace is how long a timed-out subprocess gets between SIGTERM and
// SIGKILL.
const killGrace = 2 * time.Second

// Spec describes how to invoke one LLM role: the command vector, extra
// arguments, and optional markers delimiting a JSON payload embedded in
// free-form output.
type Spec struct {
	// Cmd is the command and leading arguments. Never run via a shell.
	Cmd []string `yaml:"cmd" json:"cmd" mapstructure:"cmd"`
	// ExtraArgs are appended after Cmd.
	ExtraArgs []string `yaml:"extra_args" json:"extra_args" mapstructure:"extra_args"`
	// JSONMarkers is an optional [start, end] pair. When both occur in
	// stdout, the slice between them is treated as a JSON payload.
	JSONMarkers []string `yaml:"json_markers" json:"json_markers" mapstructure:"json_markers"`
}

// Validate checks that the spec names a runnable command.
func (s Spec) Validate() error {
	if len(s.Cmd) == 0 || s.Cmd[0] == "" {
		return fmt.Errorf("provider spec has empty command vector")
	}
	if n := len(s.JSONMarkers); n != 0 && n != 2 {
		return fmt.Errorf("json_markers must be a [start, end] pair, got %d entries", n)
	}
	return nil
}

// Request describes one invocation.
type Request struct {
	// Role selects the provider spec.
	Role string
	// Prompt is written to the subprocess's stdin after sanitization.
	Prompt string
	// Complexity in [1..10] scales the timeout; zero means "score the
	// prompt".
	Complexity int
	// BaseTimeout is the unscaled deadline.
	BaseTimeout time.Duration
	// HardDeadline, when positive, caps the effective timeout regardless
	// of complexity scaling. Used for atomic QA tasks.
	HardDeadline time.Duration
}

// Result is a successful invocation's output.
type Result struct {
	// Stdout is the sanitized full standard output.
	Stdout string
	// Payload is the slice between the role's JSON markers, when both
	// were present; otherwise empty and Stdout is prose.
	Payload string
	// ExitCode is the subprocess exit code.
	ExitCode int
	// Elapsed is the wall-clock duration of the call.
	Elapsed time.Duration
	// TokensEstimate approximates tokens consumed (prompt + output, ~4
	// chars per token). Tracking only.
	TokensEstimate int64
}

// RunOutput is what a CommandRunner returns.
type RunOutput struct {
	// Stdout is the collected standard output.
	Stdout string
	// Stderr is the collected standard error.
	Stderr string
	// ExitCode is the subprocess exit code, when it ran.
	ExitCode int
}

// CommandRunner is the seam between the client and the operating system.
// Tests substitute a stub; production uses execRunner.
type CommandRunner interface {
	// Run executes argv with the given stdin under ctx, returning
	// collected output. It must return ctx.Err() (possibly wrapped) when
	// the context expires, with whatever stdout was collected.
	Run(ctx context.Context, argv []string, stdin string) (RunOutput, error)
}

// execRunner runs commands with os/exec. The process gets its own group
// so a timeout kill reaps CLI-spawned children too.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, argv []string, stdin string) (RunOutput, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Deadline expiry sends SIGTERM to the group; WaitDelay escalates to
	// SIGKILL after the grace period.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := RunOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	return out, err
}

// Client invokes LLM CLIs according to a role registry.
type Client struct {
	specs  map[string]Spec
	runner CommandRunner
}

// NewClient creates a Client over the given role registry.
func NewClient(specs map[string]Spec) *Client {
	return &Client{specs: specs, runner: execRunner{}}
}

// NewClientWithRunner creates a Client with a custom CommandRunner.
// Intended for tests.
func NewClientWithRunner(specs map[string]Spec, runner CommandRunner) *Client {
	return &Client{specs: specs, runner: runner}
}

// Spec returns the registered spec for a role.
func (c *Client) Spec(role string) (Spec, bool) {
	s, ok := c.specs[role]
	return s, ok
}

// Invoke runs one subprocess call: sanitize the prompt, write it to
// stdin, drain stdout and stderr under the adaptive deadline, classify
// any failure. Single-shot; the caller owns retries.
func (c *Client) Invoke(ctx context.Context, req Request) (*Result, error) {
	spec, ok := c.specs[req.Role]
	if !ok {
		return nil, &InvokeError{Kind: ErrNotFound, Role: req.Role, Detail: "no provider configured for role"}
	}
	if err := spec.Validate(); err != nil {
		return nil, &InvokeError{Kind: ErrNotFound, Role: req.Role, Detail: err.Error()}
	}

	score := req.Complexity
	if score == 0 {
		score = ScoreComplexity(req.Prompt)
	}
	timeout := AdaptiveTimeout(req.BaseTimeout, score)
	if req.HardDeadline > 0 && timeout > req.HardDeadline {
		timeout = req.HardDeadline
	}

	prompt := ascii.Sanitize(req.Prompt)
	argv := append(append([]string{}, spec.Cmd...), spec.ExtraArgs...)

	log.Printf("[provider] invoking role %s (complexity=%d timeout=%s)", req.Role, score, timeout)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := c.runner.Run(runCtx, argv, prompt)
	elapsed := time.Since(start)

	stdout := ascii.Sanitize(out.Stdout)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nil, &InvokeError{
			Kind:          ErrTimeout,
			Role:          req.Role,
			Detail:        fmt.Sprintf("deadline %s exceeded", timeout),
			PartialStdout: stdout,
		}
	case errors.Is(err, context.Canceled):
		return nil, err
	case errors.Is(err, exec.ErrNotFound):
		return nil, &InvokeError{Kind: ErrNotFound, Role: req.Role, Detail: argv[0]}
	case err != nil:
		return nil, &InvokeError{
			Kind:          ErrFailed,
			Role:          req.Role,
			Detail:        firstLine(out.Stderr),
			PartialStdout: stdout,
		}
	}

	if strings.TrimSpace(stdout) == "" {
		return nil, &InvokeError{Kind: ErrFailed, Role: req.Role, Detail: "empty output"}
	}
	if ok, _ := ascii.Validate(stdout); !ok {
		// Sanitize produces pure ASCII; reaching here means the
		// sanitizer contract itself was violated.
		return nil, &InvokeError{Kind: ErrEncoding, Role: req.Role}
	}

	res := &Result{
		Stdout:         strings.TrimSpace(stdout),
		Payload:        extractPayload(stdout, spec.JSONMarkers),
		ExitCode:       out.ExitCode,
		Elapsed:        elapsed,
		TokensEstimate: int64(len(prompt)+len(stdout)) / 4,
	}
	return res, nil
}

// extractPayload returns the slice between the marker pair, or "" when
// either marker is absent or they are out of order.
func extractPayload(stdout string, markers []string) string {
	if len(markers) != 2 {
		return ""
	}
	start := strings.Index(stdout, markers[0])
	if start < 0 {
		return ""
	}
	start += len(markers[0])
	end := strings.Index(stdout[start:], markers[1])
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(stdout[start : start+end])
}

// firstLine truncates diagnostic text to its first non-empty line.
func firstLine(s string) string {
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
