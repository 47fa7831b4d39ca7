package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// WarningExitCode is the exit code a pipeline binary uses to finish a phase
// as warning instead of done.
const WarningExitCode = 3

// ExecBackend runs each phase as a one-shot subprocess:
//
//	binary <kind> <phase> <session>
//
// Combined output becomes the phase detail. A zero exit finishes the phase,
// exit code 3 finishes it as warning, anything else fails it.
type ExecBackend struct {
	Binary  string // defaults to "make"
	WorkDir string
}

// Run implements Backend.
func (b *ExecBackend) Run(ctx context.Context, sessionID, kind, phase string) (string, error) {
	binary := b.Binary
	if binary == "" {
		binary = "make"
	}

	cmd := exec.CommandContext(ctx, binary, kind, phase, sessionID)
	if b.WorkDir != "" {
		cmd.Dir = b.WorkDir
	}

	// Process group so cancellation kills the entire tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	detail := strings.TrimSpace(output.String())
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == WarningExitCode {
			return detail, ErrWarning
		}
		if detail != "" {
			return detail, fmt.Errorf("runner: run %s %s/%s: %w: %s", binary, kind, phase, err, detail)
		}
		return detail, fmt.Errorf("runner: run %s %s/%s: %w", binary, kind, phase, err)
	}
	return detail, nil
}
