package drover

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPollerSuccessAfterRetries(t *testing.T) {
	p := NewPoller()

	var checks int32
	done := make(chan PollResult, 1)

	p.RegisterJob(PollJob{
		ID:       "deploy",
		Interval: 5 * time.Millisecond,
		Check: func(ctx context.Context) (bool, error) {
			return atomic.AddInt32(&checks, 1) >= 6, nil
		},
		OnSuccess: func(r PollResult) { done <- r },
	})

	select {
	case r := <-done:
		if r.Attempts != 6 {
			t.Errorf("Attempts = %d, want 6", r.Attempts)
		}
		if r.JobID != "deploy" {
			t.Errorf("JobID = %q, want %q", r.JobID, "deploy")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never succeeded")
	}

	if p.HasJob("deploy") {
		t.Error("succeeded job should be removed")
	}
}

func TestPollerMaxAttempts(t *testing.T) {
	p := NewPoller()

	failed := make(chan string, 1)
	p.RegisterJob(PollJob{
		ID:          "never",
		Interval:    time.Millisecond,
		MaxAttempts: 3,
		Check: func(ctx context.Context) (bool, error) {
			return false, nil
		},
		OnFailure: func(reason string) { failed <- reason },
	})

	select {
	case reason := <-failed:
		if reason != "max attempts reached" {
			t.Errorf("reason = %q, want %q", reason, "max attempts reached")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never failed")
	}

	if p.HasJob("never") {
		t.Error("exhausted job should be removed")
	}
}

func TestPollerCheckErrorIsTerminal(t *testing.T) {
	p := NewPoller()

	var checks int32
	failed := make(chan string, 1)
	p.RegisterJob(PollJob{
		ID:       "broken",
		Interval: time.Millisecond,
		Check: func(ctx context.Context) (bool, error) {
			atomic.AddInt32(&checks, 1)
			return false, errors.New("connection refused")
		},
		OnFailure: func(reason string) { failed <- reason },
	})

	select {
	case reason := <-failed:
		if reason != "connection refused" {
			t.Errorf("reason = %q, want check error", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never errored")
	}

	// Errors must not be retried.
	time.Sleep(20 * time.Millisecond)
	if n := atomic.LoadInt32(&checks); n != 1 {
		t.Errorf("check ran %d times after error, want 1", n)
	}
}

func TestPollerCancelJob(t *testing.T) {
	p := NewPoller()

	var checks int32
	id := p.RegisterJob(PollJob{
		Interval: 50 * time.Millisecond,
		Check: func(ctx context.Context) (bool, error) {
			atomic.AddInt32(&checks, 1)
			return false, nil
		},
	})

	p.CancelJob(id)
	p.CancelJob(id) // idempotent
	p.CancelJob("unknown")

	if p.HasJob(id) {
		t.Error("cancelled job should be removed")
	}
	time.Sleep(120 * time.Millisecond)
	if n := atomic.LoadInt32(&checks); n != 0 {
		t.Errorf("check ran %d times after cancel, want 0", n)
	}
}

func TestPollerReplaceSameID(t *testing.T) {
	p := NewPoller()

	var first, second int32
	p.RegisterJob(PollJob{
		ID:       "job",
		Interval: 5 * time.Millisecond,
		Check: func(ctx context.Context) (bool, error) {
			atomic.AddInt32(&first, 1)
			return false, nil
		},
	})
	p.RegisterJob(PollJob{
		ID:       "job",
		Interval: 5 * time.Millisecond,
		Check: func(ctx context.Context) (bool, error) {
			atomic.AddInt32(&second, 1)
			return false, nil
		},
	})

	if p.JobCount() != 1 {
		t.Errorf("JobCount() = %d, want 1", p.JobCount())
	}

	time.Sleep(50 * time.Millisecond)
	p.CancelJob("job")

	if atomic.LoadInt32(&first) != 0 {
		t.Error("replaced job's check should never run")
	}
	if atomic.LoadInt32(&second) == 0 {
		t.Error("replacement job's check never ran")
	}
}

func TestPollerInFlightSkip(t *testing.T) {
	p := NewPoller()

	release := make(chan struct{})
	var entered sync.Once
	started := make(chan struct{})
	var checks int32

	p.RegisterJob(PollJob{
		ID:       "slow",
		Interval: 5 * time.Millisecond,
		Check: func(ctx context.Context) (bool, error) {
			atomic.AddInt32(&checks, 1)
			entered.Do(func() { close(started) })
			<-release
			return true, nil
		},
	})

	<-started
	// Let several timer fires happen while the first check is in flight.
	time.Sleep(40 * time.Millisecond)

	st, ok := p.JobStatus("slow")
	if !ok {
		t.Fatal("job disappeared while in flight")
	}
	if !st.InFlight {
		t.Error("JobStatus.InFlight = false, want true")
	}
	if st.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1 (overlapping fires must not count)", st.Attempts)
	}

	close(release)
	time.Sleep(20 * time.Millisecond)
	if n := atomic.LoadInt32(&checks); n != 1 {
		t.Errorf("check ran %d times, want 1", n)
	}
}

func TestPollerBackoffCapped(t *testing.T) {
	p := NewPoller()

	base := 10 * time.Millisecond
	done := make(chan struct{})
	var checks int32
	p.RegisterJob(PollJob{
		ID:       "backoff",
		Interval: base,
		Check: func(ctx context.Context) (bool, error) {
			if atomic.AddInt32(&checks, 1) >= 8 {
				close(done)
				return true, nil
			}
			return false, nil
		},
	})

	// Track the interval as the job backs off.
	limit := base * pollBackoffCap
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("job never completed")
		default:
		}
		if st, ok := p.JobStatus("backoff"); ok {
			if st.Interval > limit {
				t.Fatalf("interval %v exceeds cap %v", st.Interval, limit)
			}
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPollerCheckTimeout(t *testing.T) {
	p := NewPoller()

	failed := make(chan string, 1)
	p.RegisterJob(PollJob{
		ID:       "timeout",
		Interval: time.Millisecond,
		Timeout:  10 * time.Millisecond,
		Check: func(ctx context.Context) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		},
		OnFailure: func(reason string) { failed <- reason },
	})

	select {
	case reason := <-failed:
		if reason != context.DeadlineExceeded.Error() {
			t.Errorf("reason = %q, want deadline exceeded", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never timed out")
	}
}

func TestPollerEvents(t *testing.T) {
	events := make(chan PollEvent, 2)
	p := NewPoller(WithPollEvents(func(ev PollEvent) { events <- ev }))

	p.RegisterJob(PollJob{
		ID:       "ok",
		Interval: time.Millisecond,
		Check:    func(ctx context.Context) (bool, error) { return true, nil },
	})

	select {
	case ev := <-events:
		if ev.Type != PollSucceeded {
			t.Errorf("event type = %q, want %q", ev.Type, PollSucceeded)
		}
		if ev.JobID != "ok" {
			t.Errorf("event job = %q, want %q", ev.JobID, "ok")
		}
		if ev.Attempts != 1 {
			t.Errorf("event attempts = %d, want 1", ev.Attempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal event emitted")
	}
}
