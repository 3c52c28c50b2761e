package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// ExitNotFound is the exit code reported when the binary cannot be started.
const ExitNotFound = 127

// Result is the captured output of a finished command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Runner runs a command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

var _ Runner = ExecRunner{}

// ExecRunner runs commands on the local host.
type ExecRunner struct{}

// Run executes name and waits for it, bounded by ctx. A non-zero exit is
// returned as an error together with the captured output.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: time.Since(start)}

	var exitErr *exec.ExitError
	var execErr *exec.Error
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	case errors.As(err, &execErr):
		res.ExitCode = ExitNotFound
	default:
		res.ExitCode = 1
	}
	log.Debug().Msgf("tools.ExecRunner run name=%s exit=%d duration=%s", name, res.ExitCode, res.Duration)
	return res, err
}
