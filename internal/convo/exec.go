package convo

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/zulandar/switchboard/internal/models"
)

// ExecResponder implements Responder by launching a one-shot subprocess per
// ask. The full transcript is passed via -p on every call, so the binary
// stays stateless; interjections queued since the last ask are folded into
// the prompt at that checkpoint.
type ExecResponder struct {
	Binary  string // path to the responder binary; defaults to "responder"
	WorkDir string // working directory for the subprocess
}

// Open returns an exchange seeded with the context's history.
func (r *ExecResponder) Open(ctx context.Context, history []models.Message) (Exchange, error) {
	binary := r.Binary
	if binary == "" {
		binary = "responder"
	}
	return &execExchange{
		binary:     binary,
		workDir:    r.WorkDir,
		transcript: formatHistory(history),
	}, nil
}

// execExchange accumulates the transcript across asks within one run.
type execExchange struct {
	binary  string
	workDir string

	mu           sync.Mutex
	transcript   []string
	interjection []string
	closed       bool
}

// Ask builds the prompt from the transcript, any queued interjections, and
// the new input, then runs the binary once and returns its stdout.
func (e *execExchange) Ask(ctx context.Context, input string) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", fmt.Errorf("convo: exchange closed")
	}
	for _, ij := range e.interjection {
		e.transcript = append(e.transcript, "[intervention] "+ij)
	}
	e.interjection = nil
	e.transcript = append(e.transcript, "[user] "+input)
	prompt := strings.Join(e.transcript, "\n")
	e.mu.Unlock()

	cmd := exec.CommandContext(ctx, e.binary, "-p", prompt)
	if e.workDir != "" {
		cmd.Dir = e.workDir
	}

	// Process group so cancellation kills the entire tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("convo: run %s: %w", e.binary, err)
	}

	reply := strings.TrimSpace(stdout.String())
	e.mu.Lock()
	e.transcript = append(e.transcript, "[assistant] "+reply)
	e.mu.Unlock()
	return reply, nil
}

// Interject queues a steering message for the next ask.
func (e *execExchange) Interject(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.interjection = append(e.interjection, msg)
}

// Close marks the exchange finished. In-flight subprocesses die with their
// own contexts.
func (e *execExchange) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// formatHistory renders stored messages as transcript lines.
func formatHistory(history []models.Message) []string {
	lines := make([]string, len(history))
	for i, m := range history {
		lines[i] = fmt.Sprintf("[%s] %s", m.Role, m.Content)
	}
	return lines
}
