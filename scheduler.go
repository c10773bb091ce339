package drover

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// ScheduledTask is a named cron job that creates a task each time it fires.
type ScheduledTask struct {
	Name        string `yaml:"name" json:"name"`
	Cron        string `yaml:"cron" json:"cron"`
	Description string `yaml:"description" json:"description"`
	Priority    int    `yaml:"priority" json:"priority"`
	Enabled     bool   `yaml:"enabled" json:"enabled"`
}

// Scheduler runs cron jobs that create tasks on an Orchestrator. The
// persist and remove callbacks are called after successfully adding or
// removing a job so it can be saved to permanent storage. Either may be
// nil if persistence is not needed.
type Scheduler struct {
	c       *cron.Cron
	orch    *Orchestrator
	persist func(job ScheduledTask) error
	remove  func(name string) error
	logger  *slog.Logger

	mu      sync.Mutex
	jobs    []ScheduledTask
	entries map[string]cron.EntryID // job name → cron entry ID
}

// NewScheduler creates a Scheduler that creates tasks on orch.
func NewScheduler(
	orch *Orchestrator,
	persist func(job ScheduledTask) error,
	remove func(name string) error,
) *Scheduler {
	return &Scheduler{
		c:       cron.New(),
		orch:    orch,
		persist: persist,
		remove:  remove,
		logger:  slog.Default(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins the cron runner and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.c.Start()
	s.logger.Info("scheduler started")
	<-ctx.Done()
	s.c.Stop()
	s.logger.Info("scheduler stopped")
}

// AddJob adds a job to the cron runner and persists it.
// If a job with the same name already exists it is replaced.
func (s *Scheduler) AddJob(job ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// If a job with this name exists, remove it first.
	if id, ok := s.entries[job.Name]; ok {
		s.c.Remove(id)
		delete(s.entries, job.Name)
		s.jobs = removeJobByName(s.jobs, job.Name)
	}

	if !job.Enabled {
		// Still persist the disabled job so it can be restored later.
		s.jobs = append(s.jobs, job)
		if s.persist != nil {
			if err := s.persist(job); err != nil {
				s.logger.Warn("scheduler: persist job failed", "name", job.Name, "error", err)
			}
		}
		return nil
	}

	entryID, err := s.c.AddFunc(job.Cron, s.makeFunc(job))
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", job.Cron, err)
	}

	s.entries[job.Name] = entryID
	s.jobs = append(s.jobs, job)

	if s.persist != nil {
		if err := s.persist(job); err != nil {
			s.logger.Warn("scheduler: persist job failed", "name", job.Name, "error", err)
		}
	}

	s.logger.Info("scheduler: job added", "name", job.Name, "cron", job.Cron)
	return nil
}

// RemoveJob removes a job from the cron runner and calls the remove callback.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[name]
	if !ok {
		// May exist as a disabled job (no cron entry).
		found := false
		for _, j := range s.jobs {
			if j.Name == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("schedule %q not found", name)
		}
	} else {
		s.c.Remove(id)
		delete(s.entries, name)
	}

	s.jobs = removeJobByName(s.jobs, name)

	if s.remove != nil {
		if err := s.remove(name); err != nil {
			s.logger.Warn("scheduler: remove job from store failed", "name", name, "error", err)
		}
	}

	s.logger.Info("scheduler: job removed", "name", name)
	return nil
}

// ListJobs returns a snapshot of all current jobs.
func (s *Scheduler) ListJobs() []ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledTask, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// makeFunc returns the cron callback for a job. The created task is handed
// to the first ready agent when one is available; otherwise it stays
// pending for the normal assignment path.
func (s *Scheduler) makeFunc(job ScheduledTask) func() {
	return func() {
		task := s.orch.CreateTask(job.Description, job.Priority)
		s.logger.Info("scheduler: firing job", "name", job.Name, "task", task.ID)

		for _, agent := range s.orch.ReadyAgents() {
			if s.orch.AssignTask(task.ID, agent.ID) {
				return
			}
		}
		s.logger.Info("scheduler: no ready agent, task left pending", "name", job.Name, "task", task.ID)
	}
}

func removeJobByName(jobs []ScheduledTask, name string) []ScheduledTask {
	out := jobs[:0]
	for _, j := range jobs {
		if j.Name != name {
			out = append(out, j)
		}
	}
	return out
}
