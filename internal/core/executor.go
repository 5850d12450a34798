package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ProcessResult is the captured outcome of one external tool process.
type ProcessResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ProcessExecutor runs external tools with strict environment isolation.
//
// Only Environment.Vars are visible to the process; the host environment is
// never inherited. The process runs in its own process group so the whole
// tree is killed when the context ends (timeout or cancellation).
type ProcessExecutor struct{}

// NewProcessExecutor creates a ProcessExecutor.
func NewProcessExecutor() *ProcessExecutor {
	return &ProcessExecutor{}
}

// Run executes argv in env.WorkDir. A non-zero exit status is reported via
// ExitCode, not as an error. When ctx ends first the process group is killed
// and the returned error wraps ctx.Err().
func (e *ProcessExecutor) Run(ctx context.Context, env Environment, argv []string) (*ProcessResult, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	bin, err := env.LookPath(argv[0])
	if err != nil {
		return nil, err
	}

	// exec.Command, not CommandContext: cancellation is handled below so the
	// entire process group is killed, not only the direct child.
	cmd := exec.Command(bin, argv[1:]...)
	cmd.Dir = env.WorkDir
	cmd.Env = env.List()
	configureProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done
		return nil, fmt.Errorf("%s terminated: %w", argv[0], ctx.Err())
	case err = <-done:
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", argv[0], err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &ProcessResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
	}, nil
}
