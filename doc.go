// Package drover provides the execution backbone for autonomous-agent
// runtimes: task and worker orchestration, an action guardrail pipeline,
// and bounded condition polling.
//
// Drover is a Go library for delegating work from a primary process to a
// pool of out-of-process worker agents. It provides:
//
//   - Worker agent lifecycle management with crash recovery
//   - Atomic task assignment with rollback on dispatch failure
//   - A guardrail pipeline that sanitizes proposed actions before execution
//   - Condition polling with backoff and terminal success/failure events
//   - Cron-based task scheduling
//   - SQLite persistence for tasks, agents, and event history
//
// # Quick Start
//
// Create an orchestrator, spawn a worker, and assign it a task:
//
//	orch := drover.NewOrchestrator(
//	    drover.WithSupervisor(drover.NewProcessSupervisor("drover")),
//	)
//
//	agent := orch.SpawnAgent(drover.AgentSpec{
//	    Name:         "researcher",
//	    Role:         "research",
//	    Capabilities: []string{"search", "summarize"},
//	})
//
//	task := orch.CreateTask("summarize the release notes", 1)
//	if !orch.AssignTask(task.ID, agent.ID) {
//	    // agent busy or dispatch failed; pick another agent or retry later
//	}
//
// # Guardrails
//
// Every action a worker proposes passes through guard.Pipeline before
// execution. The pipeline never fails; it shrinks the tool list and records
// what it dropped and why:
//
//	pipe := guard.NewPipeline(cfg)
//	result := pipe.Evaluate(proposed, ctx)
//	for _, d := range result.Dropped {
//	    log.Printf("dropped %s: %s", d.Tool, d.Reason)
//	}
//
// # Polling
//
// Replace ad-hoc wait loops with registered polling jobs:
//
//	poller := drover.NewPoller()
//	poller.RegisterJob(drover.PollJob{
//	    Description: "wait for deployment",
//	    Interval:    5 * time.Second,
//	    MaxAttempts: 20,
//	    Check:       func(ctx context.Context) (bool, error) { ... },
//	    OnSuccess:   func(r drover.PollResult) { ... },
//	})
//
// # Architecture
//
// The main components are:
//
//   - Orchestrator: owns the task and agent registries and keeps them
//     consistent under dispatch failure and worker crashes
//   - WorkerSupervisor: spawns and monitors worker processes
//     (ProcessSupervisor for subprocesses, container.DockerSupervisor for
//     container isolation)
//   - guard.Pipeline: the per-step action filter
//   - Poller: scheduled condition checks with backoff
//   - Scheduler: cron jobs that create tasks
//   - store.Store: persistence for snapshots and event history
//
// # Thread Safety
//
// All exported types are safe for concurrent use. The Orchestrator and
// Poller use internal synchronization to protect shared state; at most one
// assignment per agent is in flight at a time.
package drover
