package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Mock backend
// ---------------------------------------------------------------------------

// mockBackend steps through phases under test control. Each Run blocks until
// release is called for that phase (when gated), and returns per-phase
// results configured in advance.
type mockBackend struct {
	mu      sync.Mutex
	calls   []string
	results map[string]error // phase name -> error to return
	details map[string]string
	gate    chan struct{} // when non-nil, each Run waits for one token
	panicOn string        // phase name that panics
}

func (b *mockBackend) Run(ctx context.Context, sessionID, kind, phase string) (string, error) {
	b.mu.Lock()
	b.calls = append(b.calls, phase)
	gate := b.gate
	panicOn := b.panicOn
	err := b.results[phase]
	detail := b.details[phase]
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if phase == panicOn {
		panic("worker died")
	}
	return detail, err
}

func (b *mockBackend) phaseCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]string, len(b.calls))
	copy(cp, b.calls)
	return cp
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ---------------------------------------------------------------------------
// Start
// ---------------------------------------------------------------------------

func TestStart_LaysOutPhases(t *testing.T) {
	r := New(&mockBackend{gate: make(chan struct{})})

	job, err := r.Start(context.Background(), "sess-1", KindBuild)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if job.Status != JobRunning {
		t.Errorf("Status = %q, want running", job.Status)
	}
	want := []string{"fetch", "compile", "package"}
	if len(job.Phases) != len(want) {
		t.Fatalf("len(Phases) = %d, want %d", len(job.Phases), len(want))
	}
	for i, name := range want {
		if job.Phases[i].Name != name {
			t.Errorf("Phases[%d].Name = %q, want %q", i, job.Phases[i].Name, name)
		}
	}
}

func TestStart_TestKindPhases(t *testing.T) {
	r := New(&mockBackend{gate: make(chan struct{})})

	job, err := r.Start(context.Background(), "sess-1", KindTest)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []string{"prepare", "unit", "integration"}
	for i, name := range want {
		if job.Phases[i].Name != name {
			t.Errorf("Phases[%d].Name = %q, want %q", i, job.Phases[i].Name, name)
		}
	}
}

func TestStart_UnknownKind(t *testing.T) {
	r := New(&mockBackend{})
	_, err := r.Start(context.Background(), "sess-1", "deploy")
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("err = %v, want ErrUnknownKind", err)
	}
}

func TestStart_MissingSession(t *testing.T) {
	r := New(&mockBackend{})
	if _, err := r.Start(context.Background(), "", KindBuild); err == nil {
		t.Fatal("expected error for missing session id")
	}
}

func TestStart_DuplicateRejected(t *testing.T) {
	gate := make(chan struct{})
	r := New(&mockBackend{gate: gate})

	if _, err := r.Start(context.Background(), "sess-1", KindBuild); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err := r.Start(context.Background(), "sess-1", KindBuild)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}

	// A different kind for the same session is fine, as is the same kind
	// for a different session.
	if _, err := r.Start(context.Background(), "sess-1", KindTest); err != nil {
		t.Errorf("different kind: %v", err)
	}
	if _, err := r.Start(context.Background(), "sess-2", KindBuild); err != nil {
		t.Errorf("different session: %v", err)
	}
	close(gate)
}

func TestStart_AllowedAfterCompletion(t *testing.T) {
	r := New(&mockBackend{})
	r.Start(context.Background(), "sess-1", KindBuild)

	waitFor(t, "job done", func() bool {
		return r.Status("sess-1", KindBuild).Status == JobDone
	})

	if _, err := r.Start(context.Background(), "sess-1", KindBuild); err != nil {
		t.Errorf("restart after done: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Status and phase lifecycle
// ---------------------------------------------------------------------------

func TestStatus_UnknownIsNil(t *testing.T) {
	r := New(&mockBackend{})
	if job := r.Status("sess-never", KindBuild); job != nil {
		t.Errorf("Status = %+v, want nil", job)
	}
}

func TestJob_RunsToDone(t *testing.T) {
	b := &mockBackend{details: map[string]string{"compile": "42 files"}}
	r := New(b)
	r.Start(context.Background(), "sess-1", KindBuild)

	waitFor(t, "job done", func() bool {
		return r.Status("sess-1", KindBuild).Status == JobDone
	})

	job := r.Status("sess-1", KindBuild)
	for i, p := range job.Phases {
		if p.Status != PhaseDone {
			t.Errorf("Phases[%d].Status = %q, want done", i, p.Status)
		}
		if p.StartedAt == nil || p.EndedAt == nil {
			t.Errorf("Phases[%d] missing timestamps", i)
		}
	}
	if job.Phases[1].Detail != "42 files" {
		t.Errorf("compile detail = %q", job.Phases[1].Detail)
	}
	if got := b.phaseCalls(); len(got) != 3 {
		t.Errorf("backend calls = %v, want 3 phases", got)
	}
}

func TestJob_WarningStillCompletes(t *testing.T) {
	b := &mockBackend{
		results: map[string]error{"unit": ErrWarning},
		details: map[string]string{"unit": "3 tests skipped"},
	}
	r := New(b)
	r.Start(context.Background(), "sess-1", KindTest)

	waitFor(t, "job done", func() bool {
		return r.Status("sess-1", KindTest).Status == JobDone
	})

	job := r.Status("sess-1", KindTest)
	if job.Phases[1].Status != PhaseWarning {
		t.Errorf("unit phase = %q, want warning", job.Phases[1].Status)
	}
	if job.Phases[1].Detail != "3 tests skipped" {
		t.Errorf("unit detail = %q", job.Phases[1].Detail)
	}
	if job.Phases[2].Status != PhaseDone {
		t.Errorf("integration phase = %q, want done", job.Phases[2].Status)
	}
}

func TestJob_PhaseErrorFailsJob(t *testing.T) {
	b := &mockBackend{
		results: map[string]error{"compile": fmt.Errorf("syntax error in main.go")},
		details: map[string]string{"compile": "main.go:17"},
	}
	r := New(b)
	r.Start(context.Background(), "sess-1", KindBuild)

	waitFor(t, "job error", func() bool {
		return r.Status("sess-1", KindBuild).Status == JobError
	})

	job := r.Status("sess-1", KindBuild)
	if job.Phases[1].Status != PhaseError {
		t.Errorf("compile phase = %q, want error", job.Phases[1].Status)
	}
	if job.Phases[2].Status != PhasePending {
		t.Errorf("package phase = %q, want pending (never reached)", job.Phases[2].Status)
	}
	if job.Error == "" {
		t.Error("job Error should be set")
	}

	// Backend never saw the phase after the failure.
	calls := b.phaseCalls()
	if len(calls) != 2 {
		t.Errorf("backend calls = %v, want fetch+compile only", calls)
	}
}

func TestJob_BackendPanicIsJobLevelError(t *testing.T) {
	b := &mockBackend{panicOn: "compile"}
	r := New(b)
	r.Start(context.Background(), "sess-1", KindBuild)

	waitFor(t, "job error", func() bool {
		return r.Status("sess-1", KindBuild).Status == JobError
	})

	job := r.Status("sess-1", KindBuild)
	// A crash produces no terminal phase transition: the phase is stranded
	// mid-run while the job itself reports the error.
	if job.Phases[1].Status != PhaseRunning {
		t.Errorf("compile phase = %q, want running (stranded)", job.Phases[1].Status)
	}
	if job.Error == "" {
		t.Error("job Error should be set after panic")
	}
}

func TestJob_PhaseTransitionsNeverMoveBackward(t *testing.T) {
	rank := map[string]int{
		PhasePending: 0, PhaseRunning: 1,
		PhaseDone: 2, PhaseWarning: 2, PhaseError: 2,
	}

	gate := make(chan struct{}, 3)
	r := New(&mockBackend{gate: gate})
	r.Start(context.Background(), "sess-1", KindBuild)

	last := map[string]int{}
	step := func() {
		job := r.Status("sess-1", KindBuild)
		for _, p := range job.Phases {
			if rank[p.Status] < last[p.Name] {
				t.Fatalf("phase %s moved backward to %s", p.Name, p.Status)
			}
			last[p.Name] = rank[p.Status]
		}
	}

	for i := 0; i < 3; i++ {
		step()
		gate <- struct{}{}
		time.Sleep(20 * time.Millisecond)
		step()
	}

	waitFor(t, "job done", func() bool {
		return r.Status("sess-1", KindBuild).Status == JobDone
	})
	step()
}

func TestStatus_SnapshotIsIsolated(t *testing.T) {
	r := New(&mockBackend{})
	r.Start(context.Background(), "sess-1", KindBuild)
	waitFor(t, "job done", func() bool {
		return r.Status("sess-1", KindBuild).Status == JobDone
	})

	snap := r.Status("sess-1", KindBuild)
	snap.Phases[0].Status = "tampered"

	if r.Status("sess-1", KindBuild).Phases[0].Status != PhaseDone {
		t.Error("mutating a snapshot must not affect runner state")
	}
}
