package drover

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults for the Poller.
const (
	// DefaultPollInterval is used when a job supplies no base interval.
	DefaultPollInterval = 5 * time.Second

	// pollBackoffFactor grows the interval after each failed check.
	pollBackoffFactor = 1.5

	// pollBackoffCap caps the grown interval at this multiple of base.
	pollBackoffCap = 4
)

// CheckFunc is a caller-supplied condition check. It returns true when the
// condition holds, false when it does not yet, and an error for a real
// failure. Errors are terminal for the job; "not yet true" is retried.
type CheckFunc func(ctx context.Context) (bool, error)

// PollResult describes a successful poll.
type PollResult struct {
	JobID    string
	Attempts int
	Elapsed  time.Duration
}

// PollJob describes a condition to poll. The first check fires after one
// base interval.
type PollJob struct {
	// ID identifies the job; generated when empty. Registering a job with
	// an existing ID replaces the old job.
	ID string

	// Description is a human-readable label for logs and introspection
	Description string

	// Check is the condition check
	Check CheckFunc

	// Interval is the base check interval (DefaultPollInterval if zero)
	Interval time.Duration

	// MaxAttempts bounds the number of checks (0 = unbounded)
	MaxAttempts int

	// Timeout bounds a single check invocation. Zero means no timeout: a
	// hung check holds the job in flight indefinitely, so callers with
	// unreliable checks should set this.
	Timeout time.Duration

	// OnSuccess fires once when the check returns true
	OnSuccess func(PollResult)

	// OnFailure fires once on exhaustion or check error, with the reason
	OnFailure func(reason string)
}

// PollEventType identifies a terminal poll event.
type PollEventType string

const (
	PollSucceeded PollEventType = "succeeded"
	PollFailed    PollEventType = "failed"
	PollErrored   PollEventType = "errored"
)

// PollEvent is emitted when a job reaches a terminal state.
type PollEvent struct {
	Type        PollEventType
	JobID       string
	Description string
	Attempts    int
	Elapsed     time.Duration
	Reason      string
}

// JobStatus is a read-only view of a registered job.
type JobStatus struct {
	ID          string
	Description string
	Attempts    int
	MaxAttempts int
	InFlight    bool
	Interval    time.Duration
	RegisteredAt time.Time
}

// Poller turns boolean condition checks into scheduled, backoff-adjusted
// retry loops with terminal success and failure events. It replaces ad-hoc
// "wait and retry" code with bounded, cancellable background jobs.
type Poller struct {
	mu      sync.Mutex
	jobs    map[string]*pollState
	onEvent func(PollEvent)
	logger  *slog.Logger
}

// pollState is the runtime state for one registered job.
type pollState struct {
	job        PollJob
	timer      *time.Timer
	attempts   int
	inFlight   bool
	interval   time.Duration
	registered time.Time
	removed    bool
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollLogger sets the structured logger.
func WithPollLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = l
	}
}

// WithPollEvents registers a hook receiving every terminal poll event,
// typically used to persist them.
func WithPollEvents(fn func(PollEvent)) PollerOption {
	return func(p *Poller) {
		p.onEvent = fn
	}
}

// NewPoller creates a new Poller.
func NewPoller(opts ...PollerOption) *Poller {
	p := &Poller{
		jobs:   make(map[string]*pollState),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterJob registers a polling job and returns its ID. A job with the
// same ID replaces the existing one; the old job's timer is cleared.
func (p *Poller) RegisterJob(job PollJob) string {
	if job.ID == "" {
		job.ID = uuid.New().String()[:8]
	}
	if job.Interval <= 0 {
		job.Interval = DefaultPollInterval
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.jobs[job.ID]; ok {
		old.removed = true
		if old.timer != nil {
			old.timer.Stop()
		}
	}

	st := &pollState{
		job:        job,
		interval:   job.Interval,
		registered: time.Now(),
	}
	p.jobs[job.ID] = st
	st.timer = time.AfterFunc(st.interval, func() { p.tick(job.ID) })

	p.logger.Debug("poller: job registered", "job", job.ID, "description", job.Description, "interval", job.Interval)
	return job.ID
}

// CancelJob clears the job's timer and removes it. Idempotent.
func (p *Poller) CancelJob(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.jobs[id]
	if !ok {
		return
	}
	st.removed = true
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(p.jobs, id)
	p.logger.Debug("poller: job cancelled", "job", id)
}

// JobStatus returns the status of a registered job.
func (p *Poller) JobStatus(id string) (JobStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.jobs[id]
	if !ok {
		return JobStatus{}, false
	}
	return p.statusLocked(st), true
}

// ActiveJobs returns the status of every registered job.
func (p *Poller) ActiveJobs() []JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]JobStatus, 0, len(p.jobs))
	for _, st := range p.jobs {
		out = append(out, p.statusLocked(st))
	}
	return out
}

// HasJob reports whether a job is registered.
func (p *Poller) HasJob(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.jobs[id]
	return ok
}

// JobCount returns the number of registered jobs.
func (p *Poller) JobCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

func (p *Poller) statusLocked(st *pollState) JobStatus {
	return JobStatus{
		ID:           st.job.ID,
		Description:  st.job.Description,
		Attempts:     st.attempts,
		MaxAttempts:  st.job.MaxAttempts,
		InFlight:     st.inFlight,
		Interval:     st.interval,
		RegisteredAt: st.registered,
	}
}

// tick runs one poll cycle for a job.
func (p *Poller) tick(id string) {
	p.mu.Lock()
	st, ok := p.jobs[id]
	if !ok || st.removed {
		p.mu.Unlock()
		return
	}

	// A slow check can still be in flight when the timer fires again.
	// Skip the cycle without counting an attempt; overlapping checks
	// against the same external condition must not happen.
	if st.inFlight {
		st.timer = time.AfterFunc(st.interval, func() { p.tick(id) })
		p.mu.Unlock()
		return
	}

	st.inFlight = true
	st.attempts++
	attempts := st.attempts
	job := st.job
	started := st.registered
	p.mu.Unlock()

	ctx := context.Background()
	var cancel context.CancelFunc
	if job.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
	}
	ok, err := job.Check(ctx)
	if cancel != nil {
		cancel()
	}

	p.mu.Lock()
	st.inFlight = false
	if st.removed {
		// Cancelled while the check ran.
		p.mu.Unlock()
		return
	}

	switch {
	case err != nil:
		st.removed = true
		delete(p.jobs, id)
		p.mu.Unlock()
		p.logger.Warn("poller: check error", "job", id, "attempts", attempts, "error", err)
		p.finish(job, PollEvent{
			Type:        PollErrored,
			JobID:       id,
			Description: job.Description,
			Attempts:    attempts,
			Elapsed:     time.Since(started),
			Reason:      err.Error(),
		})

	case ok:
		st.removed = true
		delete(p.jobs, id)
		p.mu.Unlock()
		p.logger.Info("poller: condition met", "job", id, "attempts", attempts)
		elapsed := time.Since(started)
		if job.OnSuccess != nil {
			job.OnSuccess(PollResult{JobID: id, Attempts: attempts, Elapsed: elapsed})
		}
		p.emit(PollEvent{
			Type:        PollSucceeded,
			JobID:       id,
			Description: job.Description,
			Attempts:    attempts,
			Elapsed:     elapsed,
		})

	case job.MaxAttempts > 0 && attempts >= job.MaxAttempts:
		st.removed = true
		delete(p.jobs, id)
		p.mu.Unlock()
		p.logger.Warn("poller: max attempts reached", "job", id, "attempts", attempts)
		p.finish(job, PollEvent{
			Type:        PollFailed,
			JobID:       id,
			Description: job.Description,
			Attempts:    attempts,
			Elapsed:     time.Since(started),
			Reason:      "max attempts reached",
		})

	default:
		// Not yet true: back off and reschedule.
		grown := time.Duration(float64(st.interval) * pollBackoffFactor)
		if limit := job.Interval * pollBackoffCap; grown > limit {
			grown = limit
		}
		st.interval = grown
		st.timer = time.AfterFunc(st.interval, func() { p.tick(id) })
		p.mu.Unlock()
	}
}

// finish fires the failure callback and emits the terminal event.
func (p *Poller) finish(job PollJob, ev PollEvent) {
	if job.OnFailure != nil {
		job.OnFailure(ev.Reason)
	}
	p.emit(ev)
}

func (p *Poller) emit(ev PollEvent) {
	if p.onEvent != nil {
		p.onEvent(ev)
	}
}
