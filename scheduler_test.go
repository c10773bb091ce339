package drover

import (
	"sync"
	"testing"
)

func TestSchedulerAddJob(t *testing.T) {
	o := NewOrchestrator()
	s := NewScheduler(o, nil, nil)

	job := ScheduledTask{
		Name:        "nightly",
		Cron:        "0 2 * * *",
		Description: "nightly report",
		Enabled:     true,
	}
	if err := s.AddJob(job); err != nil {
		t.Fatalf("AddJob() returned error: %v", err)
	}

	jobs := s.ListJobs()
	if len(jobs) != 1 || jobs[0].Name != "nightly" {
		t.Errorf("ListJobs() = %+v, want the nightly job", jobs)
	}
}

func TestSchedulerInvalidCron(t *testing.T) {
	o := NewOrchestrator()
	s := NewScheduler(o, nil, nil)

	err := s.AddJob(ScheduledTask{Name: "bad", Cron: "not a cron", Enabled: true})
	if err == nil {
		t.Fatal("AddJob with invalid cron should fail")
	}
	if len(s.ListJobs()) != 0 {
		t.Error("failed job should not be kept")
	}
}

func TestSchedulerReplaceSameName(t *testing.T) {
	o := NewOrchestrator()
	s := NewScheduler(o, nil, nil)

	if err := s.AddJob(ScheduledTask{Name: "job", Cron: "0 1 * * *", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob(ScheduledTask{Name: "job", Cron: "0 5 * * *", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	jobs := s.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("ListJobs() = %d jobs, want 1", len(jobs))
	}
	if jobs[0].Cron != "0 5 * * *" {
		t.Errorf("job cron = %q, want the replacement", jobs[0].Cron)
	}
}

func TestSchedulerDisabledJobPersisted(t *testing.T) {
	o := NewOrchestrator()

	var mu sync.Mutex
	var persisted []ScheduledTask
	persist := func(job ScheduledTask) error {
		mu.Lock()
		defer mu.Unlock()
		persisted = append(persisted, job)
		return nil
	}

	s := NewScheduler(o, persist, nil)
	if err := s.AddJob(ScheduledTask{Name: "off", Cron: "0 0 * * *", Enabled: false}); err != nil {
		t.Fatalf("AddJob() returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(persisted) != 1 || persisted[0].Name != "off" {
		t.Errorf("persisted = %+v, want the disabled job", persisted)
	}
	if len(s.ListJobs()) != 1 {
		t.Error("disabled job should still be listed")
	}
}

func TestSchedulerRemoveJob(t *testing.T) {
	o := NewOrchestrator()

	var removed []string
	remove := func(name string) error {
		removed = append(removed, name)
		return nil
	}

	s := NewScheduler(o, nil, remove)
	if err := s.AddJob(ScheduledTask{Name: "job", Cron: "0 0 * * *", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	if err := s.RemoveJob("job"); err != nil {
		t.Fatalf("RemoveJob() returned error: %v", err)
	}
	if len(s.ListJobs()) != 0 {
		t.Error("removed job should not be listed")
	}
	if len(removed) != 1 || removed[0] != "job" {
		t.Errorf("remove callback got %v, want [job]", removed)
	}

	if err := s.RemoveJob("job"); err == nil {
		t.Error("RemoveJob for unknown job should fail")
	}
}

func TestSchedulerRemoveDisabledJob(t *testing.T) {
	o := NewOrchestrator()
	s := NewScheduler(o, nil, nil)

	if err := s.AddJob(ScheduledTask{Name: "off", Cron: "0 0 * * *", Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveJob("off"); err != nil {
		t.Fatalf("RemoveJob() returned error: %v", err)
	}
	if len(s.ListJobs()) != 0 {
		t.Error("disabled job should be removable")
	}
}
