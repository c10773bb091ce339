package drover

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// WorkerSpec describes the worker process to start for an agent.
type WorkerSpec struct {
	AgentID      string
	Name         string
	Role         string
	Capabilities []string
}

// WorkerEvents carries the callbacks a supervisor fires for a worker.
// OnMessage receives every envelope the worker emits. OnExit fires exactly
// once when the worker terminates, with its exit code.
type WorkerEvents struct {
	OnMessage func(Envelope)
	OnExit    func(code int)
}

// WorkerHandle is a live worker process as seen by the orchestrator.
type WorkerHandle interface {
	// Dispatch sends an envelope to the worker. It returns an error if the
	// worker is gone or the write fails; the orchestrator rolls back the
	// assignment in that case.
	Dispatch(ctx context.Context, env Envelope) error

	// Alive reports whether the worker process is still running.
	Alive() bool

	// Stop terminates the worker immediately.
	Stop()
}

// WorkerSupervisor spawns and monitors worker processes. Implementations:
// ProcessSupervisor (subprocesses) and container.DockerSupervisor
// (container isolation). Orchestrator logic is testable against a fake.
type WorkerSupervisor interface {
	Start(spec WorkerSpec, events WorkerEvents) (WorkerHandle, error)
}

// ProcessSupervisor runs each worker as a child process of the
// orchestrating process, speaking the JSON-line protocol on the worker's
// stdin/stdout.
type ProcessSupervisor struct {
	binary string
	args   []string
	logger *slog.Logger
}

// ProcessSupervisorOption configures a ProcessSupervisor.
type ProcessSupervisorOption func(*ProcessSupervisor)

// WithWorkerArgs sets extra arguments passed before the per-worker flags.
func WithWorkerArgs(args ...string) ProcessSupervisorOption {
	return func(s *ProcessSupervisor) {
		s.args = args
	}
}

// WithSupervisorLogger sets the logger for worker lifecycle messages.
func WithSupervisorLogger(l *slog.Logger) ProcessSupervisorOption {
	return func(s *ProcessSupervisor) {
		s.logger = l
	}
}

// NewProcessSupervisor creates a supervisor that spawns workers by running
// the given binary with the "worker" subcommand.
func NewProcessSupervisor(binary string, opts ...ProcessSupervisorOption) *ProcessSupervisor {
	s := &ProcessSupervisor{
		binary: binary,
		args:   []string{"worker"},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start spawns a worker process and begins monitoring it.
func (s *ProcessSupervisor) Start(spec WorkerSpec, events WorkerEvents) (WorkerHandle, error) {
	args := append(append([]string(nil), s.args...), "--agent-id", spec.AgentID, "--name", spec.Name)
	cmd := exec.Command(s.binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", spec.Name, err)
	}

	w := &processWorker{
		cmd:   cmd,
		stdin: stdin,
	}

	go s.readLoop(spec, stdout, events)
	go s.waitLoop(spec, w, events)

	s.logger.Info("supervisor: worker started", "agent", spec.AgentID, "name", spec.Name, "pid", cmd.Process.Pid)
	return w, nil
}

// readLoop decodes envelopes from the worker's stdout until EOF.
func (s *ProcessSupervisor) readLoop(spec WorkerSpec, r io.Reader, events WorkerEvents) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			s.logger.Warn("supervisor: bad envelope from worker", "agent", spec.AgentID, "error", err)
			continue
		}
		if env.AgentID == "" {
			env.AgentID = spec.AgentID
		}
		if events.OnMessage != nil {
			events.OnMessage(env)
		}
	}
}

// waitLoop waits for the process to exit and reports the code.
func (s *ProcessSupervisor) waitLoop(spec WorkerSpec, w *processWorker, events WorkerEvents) {
	err := w.cmd.Wait()

	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}

	w.mu.Lock()
	w.exited = true
	w.mu.Unlock()

	s.logger.Info("supervisor: worker exited", "agent", spec.AgentID, "code", code)
	if events.OnExit != nil {
		events.OnExit(code)
	}
}

// processWorker is the WorkerHandle for a subprocess worker.
type processWorker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	exited bool
}

// Dispatch writes an envelope as one JSON line to the worker's stdin.
func (w *processWorker) Dispatch(ctx context.Context, env Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.exited {
		return ErrWorkerNotRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	env.Timestamp = time.Now()
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := w.stdin.Write(data); err != nil {
		return fmt.Errorf("dispatch to worker: %w", err)
	}
	return nil
}

// Alive reports whether the process is still running.
func (w *processWorker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.exited
}

// Stop kills the worker process. Idempotent.
func (w *processWorker) Stop() {
	w.mu.Lock()
	exited := w.exited
	w.mu.Unlock()

	if exited {
		return
	}
	w.stdin.Close()
	if w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}
}
