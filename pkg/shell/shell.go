// Package shell runs external tools for the task runner.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Command is one external program invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty means the current directory.
	Dir string
	// Env is appended to the process environment.
	Env []string
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner executes commands. Output streams to the runner's writers.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
	// LookPath reports whether the named program is installed.
	LookPath(name string) bool
}

// ExecRunner runs commands as local processes.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
	logger *zap.Logger
}

// NewExecRunner creates a runner writing to the process stdout and stderr.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr, logger: logger.Named("shell")}
}

var _ Runner = (*ExecRunner)(nil)

// Run executes cmd and waits for it. A non-zero exit is returned as an error
// carrying the exit code.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) error {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = r.Stdout
	c.Stderr = r.Stderr
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	r.logger.Debug("Running command", zap.String("cmd", cmd.String()), zap.String("dir", cmd.Dir))

	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with status %d: %w", cmd, exitErr.ExitCode(), err)
		}
		return fmt.Errorf("failed to run %s: %w", cmd, err)
	}
	return nil
}

// LookPath reports whether name resolves on PATH.
func (r *ExecRunner) LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
