// Package command is the single place that invokes platform tooling
// (pg_dump, psql). Everything else talks to the Runner interface.
package command

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/fintrack/vaultguard/internal/domain"
)

type Spec struct {
	Name string
	Args []string
	// Env entries are appended to the inherited environment.
	Env []string
	// Timeout bounds the whole invocation; zero means no bound beyond ctx.
	Timeout time.Duration
	// Stdout receives the tool's standard output as it streams; nil discards.
	Stdout io.Writer
}

type Result struct {
	ExitCode int
	Stderr   string
	Duration time.Duration
}

type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ExecRunner shells out via os/exec. Stderr is captured in full for error
// reporting; stdout streams to the caller's writer so dump output never
// accumulates in memory.
type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdout := spec.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctx.Err() != nil {
			return result, domain.Failuref(domain.ErrExternalTool, spec.Name,
				"timed out after %s: %v", result.Duration.Round(time.Second), ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return result, domain.Failuref(domain.ErrExternalTool, spec.Name,
				"exit code %d: %s", result.ExitCode, stderr.String())
		}
		return result, domain.NewFailure(domain.ErrExternalTool, spec.Name, err)
	}

	return result, nil
}
