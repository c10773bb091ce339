// Package container runs worker agents in Docker containers behind the
// same WorkerSupervisor interface as subprocess workers, for deployments
// that need filesystem and network isolation per worker.
package container

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/droverhq/drover"
)

const (
	// DefaultImage is the worker image used when none is configured.
	DefaultImage = "droverhq/worker:latest"

	// LabelManagedBy marks containers created by this supervisor.
	LabelManagedBy = "drover.managed-by"

	// LabelAgent carries the agent ID on the container.
	LabelAgent = "drover.agent"

	containerPrefix = "drover-worker-"
)

// DockerSupervisor implements drover.WorkerSupervisor by running each
// worker in its own container, speaking the JSON-line protocol over the
// container's attached stdin/stdout.
type DockerSupervisor struct {
	cli       *client.Client
	image     string
	cmd       []string
	logger    *slog.Logger
	available bool
	mu        sync.Mutex
}

// Option configures a DockerSupervisor.
type Option func(*DockerSupervisor)

// WithImage sets the worker container image.
func WithImage(img string) Option {
	return func(s *DockerSupervisor) {
		s.image = img
	}
}

// WithCommand sets the command run inside the worker container.
func WithCommand(cmd ...string) Option {
	return func(s *DockerSupervisor) {
		s.cmd = cmd
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *DockerSupervisor) {
		s.logger = l
	}
}

// NewDockerSupervisor creates a supervisor backed by the local Docker
// daemon. If the daemon is unreachable the supervisor is returned with
// available=false and Start fails cleanly, so callers can fall back to
// subprocess workers.
func NewDockerSupervisor(opts ...Option) (*DockerSupervisor, error) {
	s := &DockerSupervisor{
		image:  DefaultImage,
		cmd:    []string{"drover", "worker"},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return s, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return s, nil
	}

	s.cli = cli
	s.available = true
	return s, nil
}

// IsAvailable reports whether the Docker daemon is reachable.
func (s *DockerSupervisor) IsAvailable() bool {
	return s.available
}

// Close closes the Docker client.
func (s *DockerSupervisor) Close() error {
	if s.cli == nil {
		return nil
	}
	return s.cli.Close()
}

// Start creates and starts a worker container for the agent and begins
// monitoring it.
func (s *DockerSupervisor) Start(spec drover.WorkerSpec, events drover.WorkerEvents) (drover.WorkerHandle, error) {
	if !s.available {
		return nil, fmt.Errorf("docker not available")
	}

	ctx := context.Background()
	name := containerPrefix + spec.AgentID

	cmd := append(append([]string(nil), s.cmd...), "--agent-id", spec.AgentID, "--name", spec.Name)
	cfg := &container.Config{
		Image:        s.image,
		Cmd:          cmd,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		Labels: map[string]string{
			LabelManagedBy: "drover",
			LabelAgent:     spec.AgentID,
		},
	}

	resp, err := s.cli.ContainerCreate(ctx, cfg, &container.HostConfig{}, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create worker container: %w", err)
	}

	attach, err := s.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		s.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("attach worker container: %w", err)
	}

	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		attach.Close()
		s.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("start worker container: %w", err)
	}

	w := &containerWorker{
		cli:  s.cli,
		id:   resp.ID,
		conn: attach.Conn,
	}

	go s.readLoop(spec, attach.Reader, events)
	go s.waitLoop(spec, w, events)

	s.logger.Info("docker supervisor: worker started", "agent", spec.AgentID, "container", resp.ID[:12])
	return w, nil
}

// readLoop demultiplexes the container's stdout and decodes envelopes.
func (s *DockerSupervisor) readLoop(spec drover.WorkerSpec, r io.Reader, events drover.WorkerEvents) {
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, io.Discard, r)
		pw.CloseWithError(err)
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env drover.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			s.logger.Warn("docker supervisor: bad envelope from worker", "agent", spec.AgentID, "error", err)
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

// waitLoop waits for the container to stop and reports the exit code.
func (s *DockerSupervisor) waitLoop(spec drover.WorkerSpec, w *containerWorker, events drover.WorkerEvents) {
	statusCh, errCh := s.cli.ContainerWait(context.Background(), w.id, container.WaitConditionNotRunning)

	code := 0
	select {
	case status := <-statusCh:
		code = int(status.StatusCode)
	case <-errCh:
		code = -1
	}

	w.mu.Lock()
	w.exited = true
	w.mu.Unlock()

	s.cli.ContainerRemove(context.Background(), w.id, container.RemoveOptions{Force: true})
	s.logger.Info("docker supervisor: worker exited", "agent", spec.AgentID, "code", code)
	if events.OnExit != nil {
		events.OnExit(code)
	}
}

// containerWorker is the WorkerHandle for a containerized worker.
type containerWorker struct {
	cli    *client.Client
	id     string
	conn   net.Conn
	mu     sync.Mutex
	exited bool
}

// Dispatch writes an envelope as one JSON line to the container's stdin.
func (w *containerWorker) Dispatch(ctx context.Context, env drover.Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.exited {
		return drover.ErrWorkerNotRunning
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
	if deadline, ok := ctx.Deadline(); ok {
		w.conn.SetWriteDeadline(deadline)
		defer w.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := w.conn.Write(data); err != nil {
		return fmt.Errorf("dispatch to worker container: %w", err)
	}
	return nil
}

// Alive reports whether the container is still running.
func (w *containerWorker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.exited
}

// Stop kills the worker container. Idempotent.
func (w *containerWorker) Stop() {
	w.mu.Lock()
	exited := w.exited
	w.mu.Unlock()

	if exited {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w.cli.ContainerKill(ctx, w.id, "SIGKILL")
}
