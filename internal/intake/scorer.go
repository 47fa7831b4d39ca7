package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// ExecScorer implements Scorer by running a one-shot subprocess:
//
//	binary <session-id>
//
// The binary prints a JSON object on stdout:
//
//	{"overall": 0.62, "dimensions": {"scope": 0.8, "budget": 0.4}}
type ExecScorer struct {
	Binary  string
	WorkDir string
}

type scorerOutput struct {
	Overall    float64            `json:"overall"`
	Dimensions map[string]float64 `json:"dimensions"`
}

// Score implements Scorer.
func (s *ExecScorer) Score(ctx context.Context, sessionID string) (float64, map[string]float64, error) {
	if s.Binary == "" {
		return 0, nil, fmt.Errorf("intake: scorer binary not configured")
	}

	cmd := exec.CommandContext(ctx, s.Binary, sessionID)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
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
		return 0, nil, fmt.Errorf("intake: run scorer %s: %w", s.Binary, err)
	}

	var out scorerOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return 0, nil, fmt.Errorf("intake: parse scorer output: %w", err)
	}
	if out.Overall < 0 || out.Overall > 1 {
		return 0, nil, fmt.Errorf("intake: scorer overall %v out of [0,1]", out.Overall)
	}
	return out.Overall, out.Dimensions, nil
}
