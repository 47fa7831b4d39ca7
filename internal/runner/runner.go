// Package runner executes multi-phase background jobs (build and test
// pipelines) for intake sessions. Jobs live in memory only: after a process
// restart, status queries return empty and the caller decides when repeated
// emptiness means state loss.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Job kinds.
const (
	KindBuild = "build"
	KindTest  = "test"
)

// Job status values.
const (
	JobRunning = "running"
	JobDone    = "done"
	JobError   = "error"
)

// Phase status values. Transitions are strictly forward:
// pending → running → one of {done, warning, error}.
const (
	PhasePending = "pending"
	PhaseRunning = "running"
	PhaseDone    = "done"
	PhaseWarning = "warning"
	PhaseError   = "error"
)

var (
	// ErrConflict is returned when a job of the same kind is already
	// running for the session.
	ErrConflict = errors.New("runner: job already running")
	// ErrUnknownKind is returned for kinds with no phase template.
	ErrUnknownKind = errors.New("runner: unknown job kind")
	// ErrWarning is returned by a backend to finish a phase as warning
	// instead of done.
	ErrWarning = errors.New("runner: phase completed with warnings")
)

// phaseTemplates fixes the phase sequence per job kind.
var phaseTemplates = map[string][]string{
	KindBuild: {"fetch", "compile", "package"},
	KindTest:  {"prepare", "unit", "integration"},
}

// Phase is one named step of a job.
type Phase struct {
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	Detail    string     `json:"detail,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Job is one pipeline run.
type Job struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Phases    []Phase   `json:"phases"`
	StartedAt time.Time `json:"started_at"`
}

// Backend performs the actual work of one phase. An ErrWarning return
// finishes the phase as warning; any other error fails the phase and the
// job. The detail string is recorded either way.
type Backend interface {
	Run(ctx context.Context, sessionID, kind, phase string) (detail string, err error)
}

type jobKey struct {
	session string
	kind    string
}

// Runner tracks the latest job per (session, kind) and drives one worker
// goroutine per started job.
type Runner struct {
	backend Backend

	mu     sync.Mutex
	jobs   map[jobKey]*Job
	nextID int
}

// New creates a Runner.
func New(backend Backend) *Runner {
	return &Runner{
		backend: backend,
		jobs:    make(map[jobKey]*Job),
	}
}

// Start launches a job and returns its initial snapshot, with the phase
// list laid out and the first phase about to run. Starting while a job of
// the same kind is running for the session is rejected.
func (r *Runner) Start(ctx context.Context, sessionID, kind string) (*Job, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("runner: session id is required")
	}
	names, ok := phaseTemplates[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	r.mu.Lock()
	key := jobKey{session: sessionID, kind: kind}
	if existing, ok := r.jobs[key]; ok && existing.Status == JobRunning {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s %s (job %s)", ErrConflict, sessionID, kind, existing.ID)
	}

	r.nextID++
	job := &Job{
		ID:        fmt.Sprintf("%s-%s-%d", kind, sessionID, r.nextID),
		SessionID: sessionID,
		Kind:      kind,
		Status:    JobRunning,
		Phases:    make([]Phase, len(names)),
		StartedAt: time.Now(),
	}
	for i, name := range names {
		job.Phases[i] = Phase{Name: name, Status: PhasePending}
	}
	r.jobs[key] = job
	snapshot := cloneJob(job)
	r.mu.Unlock()

	go r.work(ctx, key, job.ID)

	return snapshot, nil
}

// Status returns a snapshot of the latest job for (session, kind), or nil
// when none is known. Nil is deliberately not an error: a restarted process
// answers exactly like one that never ran the job, and the caller's
// empty-response policy decides when that means state loss.
func (r *Runner) Status(sessionID, kind string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobKey{session: sessionID, kind: kind}]
	if !ok {
		return nil
	}
	return cloneJob(job)
}

// work drives the phases of one job in order.
func (r *Runner) work(ctx context.Context, key jobKey, jobID string) {
	for i := 0; ; i++ {
		name, ok := r.beginPhase(key, jobID, i)
		if !ok {
			return
		}

		detail, crashed, err := r.runPhase(ctx, key.session, key.kind, name)
		if err != nil && !errors.Is(err, ErrWarning) {
			r.failPhase(key, jobID, i, detail, crashed, err)
			return
		}

		status := PhaseDone
		if errors.Is(err, ErrWarning) {
			status = PhaseWarning
		}
		r.finishPhase(key, jobID, i, status, detail)
	}
}

// beginPhase moves phase i to running. Returns ok=false past the last
// phase, after marking the job done.
func (r *Runner) beginPhase(key jobKey, jobID string, i int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[key]
	if job == nil || job.ID != jobID {
		return "", false
	}
	if i >= len(job.Phases) {
		job.Status = JobDone
		return "", false
	}
	now := time.Now()
	job.Phases[i].Status = PhaseRunning
	job.Phases[i].StartedAt = &now
	return job.Phases[i].Name, true
}

// runPhase calls the backend with panic recovery. A panic is reported as a
// worker crash: the job fails at the job level and the phase is left
// without a terminal transition, matching what an observer sees when a
// worker dies between updates.
func (r *Runner) runPhase(ctx context.Context, session, kind, phase string) (detail string, crashed bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			crashed = true
			err = fmt.Errorf("runner: backend panic: %v", rec)
		}
	}()
	detail, err = r.backend.Run(ctx, session, kind, phase)
	return detail, false, err
}

// failPhase records a phase failure. A worker crash sets only the job-level
// error; a regular error also transitions the phase to error.
func (r *Runner) failPhase(key jobKey, jobID string, i int, detail string, crashed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[key]
	if job == nil || job.ID != jobID {
		return
	}

	if !crashed {
		now := time.Now()
		job.Phases[i].Status = PhaseError
		job.Phases[i].Detail = detail
		job.Phases[i].EndedAt = &now
	}
	job.Status = JobError
	job.Error = err.Error()
	log.Printf("runner: job %s: phase %s: %v", job.ID, job.Phases[i].Name, err)
}

func (r *Runner) finishPhase(key jobKey, jobID string, i int, status, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[key]
	if job == nil || job.ID != jobID {
		return
	}
	now := time.Now()
	job.Phases[i].Status = status
	job.Phases[i].Detail = detail
	job.Phases[i].EndedAt = &now
}

func cloneJob(job *Job) *Job {
	cp := *job
	cp.Phases = make([]Phase, len(job.Phases))
	copy(cp.Phases, job.Phases)
	return &cp
}
