package drover

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/droverhq/drover/store"
)

// Alerter notifies an operator about conditions that need attention, such
// as a worker crash. Implementations live in the notify package.
type Alerter interface {
	Alert(ctx context.Context, subject, body string) error
}

// Orchestrator owns the task and worker agent registries. It spawns and
// monitors workers through a WorkerSupervisor, assigns tasks, and keeps the
// two registries consistent: a task is in-progress if and only if its
// assigned agent is working on it.
type Orchestrator struct {
	tasks  map[string]*Task
	agents map[string]*WorkerAgent
	mu     sync.RWMutex

	// Configuration
	supervisor      WorkerSupervisor
	st              store.Store
	alerter         Alerter
	logger          *slog.Logger
	maxAgents       int
	dispatchTimeout time.Duration

	// Lifecycle callbacks
	onCompleted []func(*Task)
	onFailed    []func(*Task)
	onRequeued  []func(*Task)
	callbackMu  sync.RWMutex

	// Shutdown coordination
	ctx    context.Context
	cancel context.CancelFunc
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithSupervisor sets the worker supervisor used to start worker processes.
func WithSupervisor(s WorkerSupervisor) OrchestratorOption {
	return func(o *Orchestrator) {
		o.supervisor = s
	}
}

// WithStore enables persistence of task and agent snapshots plus an event
// log for each registry mutation.
func WithStore(st store.Store) OrchestratorOption {
	return func(o *Orchestrator) {
		o.st = st
	}
}

// WithAlerter sets the operator alerter fired on abnormal worker exits.
func WithAlerter(a Alerter) OrchestratorOption {
	return func(o *Orchestrator) {
		o.alerter = a
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithMaxAgents sets the maximum number of registered agents.
func WithMaxAgents(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.maxAgents = n
	}
}

// WithDispatchTimeout bounds how long a single dispatch write may take.
func WithDispatchTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.dispatchTimeout = d
	}
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		tasks:           make(map[string]*Task),
		agents:          make(map[string]*WorkerAgent),
		logger:          slog.Default(),
		maxAgents:       100,
		dispatchTimeout: 10 * time.Second,
		ctx:             ctx,
		cancel:          cancel,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// SpawnAgent registers a worker agent and starts its worker process unless
// the spec suppresses it. It never fails: if the worker cannot be started
// the agent is still registered, without a live handle, and is not
// assignable until one is attached via ResumeAgent.
func (o *Orchestrator) SpawnAgent(spec AgentSpec) *WorkerAgent {
	agent := &WorkerAgent{
		ID:           uuid.New().String()[:8],
		Name:         spec.Name,
		Role:         spec.Role,
		Capabilities: normalizeCapabilities(spec.Capabilities),
		Status:       AgentIdle,
		SpawnedAt:    time.Now(),
	}
	if agent.Name == "" {
		agent.Name = "agent-" + agent.ID
	}

	o.mu.Lock()
	if o.maxAgents > 0 && len(o.agents) >= o.maxAgents {
		// Registration still succeeds; the agent just has no worker and
		// stays unassignable until capacity frees up.
		o.logger.Warn("orchestrator: agent capacity reached, spawning without worker", "agent", agent.ID, "error", ErrMaxAgentsReached)
		spec.NoProcess = true
	}
	o.agents[agent.ID] = agent
	o.mu.Unlock()

	if !spec.NoProcess {
		if err := o.startWorker(agent.ID); err != nil {
			o.logger.Warn("orchestrator: worker start failed", "agent", agent.ID, "name", agent.Name, "error", err)
		}
	}

	o.persistAgent(agent.ID)
	o.recordEvent(store.Event{Type: "agent_spawned", AgentID: agent.ID, Detail: agent.Name})
	return agent.clone()
}

// startWorker starts a worker process for the agent and attaches the handle.
func (o *Orchestrator) startWorker(agentID string) error {
	if o.supervisor == nil {
		return ErrNoSupervisor
	}

	o.mu.RLock()
	agent, ok := o.agents[agentID]
	if !ok {
		o.mu.RUnlock()
		return ErrAgentNotFound
	}
	spec := WorkerSpec{
		AgentID:      agent.ID,
		Name:         agent.Name,
		Role:         agent.Role,
		Capabilities: append([]string(nil), agent.Capabilities...),
	}
	o.mu.RUnlock()

	handle, err := o.supervisor.Start(spec, WorkerEvents{
		OnMessage: o.handleWorkerMessage,
		OnExit: func(code int) {
			o.HandleWorkerExit(agentID, code)
		},
	})
	if err != nil {
		return err
	}

	o.mu.Lock()
	// The worker may have already exited; don't attach a dead handle to a
	// paused agent.
	if agent.Status == AgentIdle || agent.Status == AgentWorking {
		agent.handle = handle
	} else {
		handle.Stop()
	}
	o.mu.Unlock()
	return nil
}

// CreateTask registers a new pending task.
func (o *Orchestrator) CreateTask(description string, priority int) *Task {
	task := &Task{
		ID:          uuid.New().String()[:8],
		Description: description,
		Priority:    priority,
		Status:      TaskPending,
		CreatedAt:   time.Now(),
	}

	o.mu.Lock()
	o.tasks[task.ID] = task
	o.mu.Unlock()

	o.persistTask(task.ID)
	o.recordEvent(store.Event{Type: "task_created", TaskID: task.ID})
	return task.clone()
}

// assignableLocked validates the assignment preconditions. Callers hold o.mu.
func (o *Orchestrator) assignableLocked(taskID, agentID string) (*Task, *WorkerAgent, error) {
	task, ok := o.tasks[taskID]
	if !ok {
		return nil, nil, ErrTaskNotFound
	}
	if task.Status != TaskPending {
		return nil, nil, ErrTaskNotPending
	}
	agent, ok := o.agents[agentID]
	if !ok {
		return nil, nil, ErrAgentNotFound
	}
	if !agent.ready() {
		return nil, nil, ErrAgentNotReady
	}
	return task, agent, nil
}

// AssignTask assigns a pending task to a ready agent and dispatches it to
// the worker. It returns false when the preconditions fail or the dispatch
// fails; in the dispatch-failure case both registry mutations are rolled
// back before returning, so no caller observes an intermediate state.
// Callers retry with a different agent or re-queue; there is no internal
// retry.
func (o *Orchestrator) AssignTask(taskID, agentID string) bool {
	o.mu.Lock()

	task, agent, err := o.assignableLocked(taskID, agentID)
	if err != nil {
		o.mu.Unlock()
		o.logger.Debug("orchestrator: assignment rejected", "task", taskID, "agent", agentID, "error", err)
		return false
	}

	// Enter the per-agent critical section: the two registry mutations
	// span an asynchronous dispatch write, and only one assignment per
	// agent may be in flight.
	agent.assigning = true
	task.Status = TaskInProgress
	task.AssignedTo = agent.ID
	agent.Status = AgentWorking
	agent.CurrentTask = task.ID
	handle := agent.handle
	env := Envelope{
		Type:        MessageDispatchTask,
		AgentID:     agent.ID,
		TaskID:      task.ID,
		Description: task.Description,
		Priority:    task.Priority,
	}
	o.mu.Unlock()

	ctx, cancelDispatch := context.WithTimeout(o.ctx, o.dispatchTimeout)
	err = handle.Dispatch(ctx, env)
	cancelDispatch()

	o.mu.Lock()
	agent.assigning = false
	if err != nil {
		// The worker may have died while the dispatch was in flight. In that
		// case HandleWorkerExit already requeued the task and paused the
		// agent, and the task may even belong to another agent by now.
		// Revert only the state this assignment still owns.
		if task.Status == TaskInProgress && task.AssignedTo == agent.ID {
			task.Status = TaskPending
			task.AssignedTo = ""
		}
		if agent.Status == AgentWorking && agent.CurrentTask == task.ID {
			agent.Status = AgentIdle
			agent.CurrentTask = ""
		}
		o.mu.Unlock()

		o.logger.Warn("orchestrator: dispatch failed, assignment rolled back",
			"task", taskID, "agent", agentID, "error", err)
		o.persistTask(taskID)
		o.persistAgent(agentID)
		o.recordEvent(store.Event{Type: "dispatch_failed", TaskID: taskID, AgentID: agentID, Detail: err.Error()})
		return false
	}
	o.mu.Unlock()

	o.logger.Info("orchestrator: task assigned", "task", taskID, "agent", agentID)
	o.persistTask(taskID)
	o.persistAgent(agentID)
	o.recordEvent(store.Event{Type: "task_assigned", TaskID: taskID, AgentID: agentID})
	return true
}

// handleWorkerMessage routes protocol envelopes from workers.
func (o *Orchestrator) handleWorkerMessage(env Envelope) {
	switch env.Type {
	case MessageTaskCompleted:
		o.completeTask(env.AgentID, env.TaskID, env.Result)
	case MessageTaskFailed:
		o.failTask(env.AgentID, env.TaskID, env.Error)
	default:
		o.logger.Warn("orchestrator: unexpected worker message", "type", string(env.Type), "agent", env.AgentID)
	}
}

// completeTask marks a task completed and returns the agent to idle.
func (o *Orchestrator) completeTask(agentID, taskID, result string) {
	o.mu.Lock()
	task, ok := o.tasks[taskID]
	if !ok || task.Status != TaskInProgress || task.AssignedTo != agentID {
		o.mu.Unlock()
		return
	}
	task.Status = TaskCompleted
	task.Result = result
	task.AssignedTo = ""
	task.CompletedAt = time.Now()
	if agent, ok := o.agents[agentID]; ok {
		agent.Status = AgentIdle
		agent.CurrentTask = ""
	}
	snapshot := task.clone()
	o.mu.Unlock()

	o.logger.Info("orchestrator: task completed", "task", taskID, "agent", agentID)
	o.persistTask(taskID)
	o.persistAgent(agentID)
	o.recordEvent(store.Event{Type: "task_completed", TaskID: taskID, AgentID: agentID})
	o.emitCompleted(snapshot)
}

// failTask marks a task failed and returns the agent to idle.
func (o *Orchestrator) failTask(agentID, taskID, errText string) {
	o.mu.Lock()
	task, ok := o.tasks[taskID]
	if !ok || task.Status != TaskInProgress || task.AssignedTo != agentID {
		o.mu.Unlock()
		return
	}
	task.Status = TaskFailed
	task.Error = errText
	task.AssignedTo = ""
	task.CompletedAt = time.Now()
	if agent, ok := o.agents[agentID]; ok {
		agent.Status = AgentIdle
		agent.CurrentTask = ""
	}
	snapshot := task.clone()
	o.mu.Unlock()

	o.logger.Warn("orchestrator: task failed", "task", taskID, "agent", agentID, "error", errText)
	o.persistTask(taskID)
	o.persistAgent(agentID)
	o.recordEvent(store.Event{Type: "task_failed", TaskID: taskID, AgentID: agentID, Detail: errText})
	o.emitFailed(snapshot)
}

// HandleWorkerExit handles abnormal worker termination. Any in-progress
// task held by the agent is requeued as pending with an explanatory error,
// and the agent is paused. Paused means "needs operator attention"; it is
// never auto-resumed. Already-terminal tasks are untouched. Idempotent.
func (o *Orchestrator) HandleWorkerExit(agentID string, exitCode int) {
	o.mu.Lock()
	agent, ok := o.agents[agentID]
	if !ok {
		o.mu.Unlock()
		return
	}
	if agent.Status == AgentPaused || agent.Status == AgentStopped {
		o.mu.Unlock()
		return
	}

	var requeued *Task
	if agent.CurrentTask != "" {
		if task, ok := o.tasks[agent.CurrentTask]; ok && task.Status == TaskInProgress {
			task.Status = TaskPending
			task.AssignedTo = ""
			task.Error = fmt.Sprintf("%s exited unexpectedly (code %d)", agent.Name, exitCode)
			requeued = task.clone()
		}
	}
	agent.Status = AgentPaused
	agent.CurrentTask = ""
	agent.handle = nil
	name := agent.Name
	o.mu.Unlock()

	o.logger.Warn("orchestrator: worker exited", "agent", agentID, "name", name, "code", exitCode)
	o.persistAgent(agentID)
	if requeued != nil {
		o.persistTask(requeued.ID)
		o.recordEvent(store.Event{Type: "task_requeued", TaskID: requeued.ID, AgentID: agentID, Detail: requeued.Error})
		o.emitRequeued(requeued)
	}
	o.recordEvent(store.Event{Type: "worker_exited", AgentID: agentID, Detail: fmt.Sprintf("code %d", exitCode)})

	if o.alerter != nil {
		go func() {
			subject := fmt.Sprintf("worker %s exited (code %d)", name, exitCode)
			body := "agent paused and needs a restart"
			if requeued != nil {
				body = fmt.Sprintf("task %s requeued; agent paused and needs a restart", requeued.ID)
			}
			if err := o.alerter.Alert(context.Background(), subject, body); err != nil {
				o.logger.Warn("orchestrator: alert failed", "error", err)
			}
		}()
	}
}

// ResumeAgent restarts the worker for a paused agent and returns it to the
// ready pool. This is the explicit operator path out of the paused state.
func (o *Orchestrator) ResumeAgent(agentID string) error {
	o.mu.Lock()
	agent, ok := o.agents[agentID]
	if !ok {
		o.mu.Unlock()
		return ErrAgentNotFound
	}
	if agent.Status != AgentPaused {
		o.mu.Unlock()
		return &AgentError{AgentID: agentID, Err: ErrAgentNotPaused}
	}
	agent.Status = AgentIdle
	o.mu.Unlock()

	if err := o.startWorker(agentID); err != nil {
		o.mu.Lock()
		agent.Status = AgentPaused
		o.mu.Unlock()
		return &AgentError{AgentID: agentID, Err: err}
	}

	o.persistAgent(agentID)
	o.recordEvent(store.Event{Type: "agent_resumed", AgentID: agentID})
	return nil
}

// StopAgent stops an agent's worker and marks it stopped. Any in-progress
// task held by the agent is requeued as pending so it can be reassigned.
func (o *Orchestrator) StopAgent(agentID string) error {
	o.mu.Lock()
	agent, ok := o.agents[agentID]
	if !ok {
		o.mu.Unlock()
		return ErrAgentNotFound
	}
	var requeued *Task
	if agent.CurrentTask != "" {
		if task, ok := o.tasks[agent.CurrentTask]; ok && task.Status == TaskInProgress {
			task.Status = TaskPending
			task.AssignedTo = ""
			task.Error = fmt.Sprintf("%s stopped while task was in progress", agent.Name)
			requeued = task.clone()
		}
	}
	agent.Status = AgentStopped
	handle := agent.handle
	agent.handle = nil
	agent.CurrentTask = ""
	o.mu.Unlock()

	if handle != nil {
		handle.Stop()
	}
	o.persistAgent(agentID)
	if requeued != nil {
		o.persistTask(requeued.ID)
		o.recordEvent(store.Event{Type: "task_requeued", TaskID: requeued.ID, AgentID: agentID, Detail: requeued.Error})
		o.emitRequeued(requeued)
	}
	o.recordEvent(store.Event{Type: "agent_stopped", AgentID: agentID})
	return nil
}

// Task returns a snapshot of the task, or nil if unknown.
func (o *Orchestrator) Task(id string) *Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if t, ok := o.tasks[id]; ok {
		return t.clone()
	}
	return nil
}

// Tasks returns snapshots of all tasks.
func (o *Orchestrator) Tasks() []*Task {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		out = append(out, t.clone())
	}
	return out
}

// Agent returns a snapshot of the agent, or nil if unknown.
func (o *Orchestrator) Agent(id string) *WorkerAgent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if a, ok := o.agents[id]; ok {
		return a.clone()
	}
	return nil
}

// Agents returns snapshots of all agents.
func (o *Orchestrator) Agents() []*WorkerAgent {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*WorkerAgent, 0, len(o.agents))
	for _, a := range o.agents {
		out = append(out, a.clone())
	}
	return out
}

// ReadyAgents returns snapshots of agents that can accept an assignment.
func (o *Orchestrator) ReadyAgents() []*WorkerAgent {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*WorkerAgent, 0, len(o.agents))
	for _, a := range o.agents {
		if a.ready() {
			out = append(out, a.clone())
		}
	}
	return out
}

// OnTaskCompleted registers a callback for successful task completion.
func (o *Orchestrator) OnTaskCompleted(fn func(*Task)) {
	o.callbackMu.Lock()
	defer o.callbackMu.Unlock()
	o.onCompleted = append(o.onCompleted, fn)
}

// OnTaskFailed registers a callback for task failure.
func (o *Orchestrator) OnTaskFailed(fn func(*Task)) {
	o.callbackMu.Lock()
	defer o.callbackMu.Unlock()
	o.onFailed = append(o.onFailed, fn)
}

// OnTaskRequeued registers a callback for tasks requeued after a worker
// crash.
func (o *Orchestrator) OnTaskRequeued(fn func(*Task)) {
	o.callbackMu.Lock()
	defer o.callbackMu.Unlock()
	o.onRequeued = append(o.onRequeued, fn)
}

func (o *Orchestrator) emitCompleted(t *Task) {
	o.callbackMu.RLock()
	callbacks := make([]func(*Task), len(o.onCompleted))
	copy(callbacks, o.onCompleted)
	o.callbackMu.RUnlock()

	for _, fn := range callbacks {
		go fn(t)
	}
}

func (o *Orchestrator) emitFailed(t *Task) {
	o.callbackMu.RLock()
	callbacks := make([]func(*Task), len(o.onFailed))
	copy(callbacks, o.onFailed)
	o.callbackMu.RUnlock()

	for _, fn := range callbacks {
		go fn(t)
	}
}

func (o *Orchestrator) emitRequeued(t *Task) {
	o.callbackMu.RLock()
	callbacks := make([]func(*Task), len(o.onRequeued))
	copy(callbacks, o.onRequeued)
	o.callbackMu.RUnlock()

	for _, fn := range callbacks {
		go fn(t)
	}
}

// Shutdown stops all workers and waits for them, or until ctx expires.
// In-progress tasks are requeued as pending so a later run can pick them up.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()

	o.mu.Lock()
	handles := make([]WorkerHandle, 0, len(o.agents))
	var requeued []*Task
	for _, a := range o.agents {
		if a.handle != nil {
			handles = append(handles, a.handle)
			a.handle = nil
		}
		if a.CurrentTask != "" {
			if task, ok := o.tasks[a.CurrentTask]; ok && task.Status == TaskInProgress {
				task.Status = TaskPending
				task.AssignedTo = ""
				task.Error = fmt.Sprintf("%s stopped during shutdown", a.Name)
				requeued = append(requeued, task.clone())
			}
		}
		if a.Status != AgentStopped {
			a.Status = AgentStopped
		}
		a.CurrentTask = ""
	}
	o.mu.Unlock()

	for _, t := range requeued {
		o.persistTask(t.ID)
		o.recordEvent(store.Event{Type: "task_requeued", TaskID: t.ID, Detail: t.Error})
		o.emitRequeued(t)
	}

	done := make(chan struct{})
	go func() {
		for _, h := range handles {
			h.Dispatch(context.Background(), Envelope{Type: MessageShutdown})
			h.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// persistTask saves a task snapshot if a store is configured.
func (o *Orchestrator) persistTask(taskID string) {
	if o.st == nil {
		return
	}
	o.mu.RLock()
	task, ok := o.tasks[taskID]
	var rec store.TaskRecord
	if ok {
		rec = store.TaskRecord{
			ID:          task.ID,
			Description: task.Description,
			Priority:    task.Priority,
			Status:      string(task.Status),
			AssignedTo:  task.AssignedTo,
			Error:       task.Error,
			Result:      task.Result,
			CreatedAt:   task.CreatedAt,
			CompletedAt: task.CompletedAt,
		}
	}
	o.mu.RUnlock()
	if !ok {
		return
	}
	if err := o.st.SaveTask(rec); err != nil {
		o.logger.Warn("orchestrator: persist task failed", "task", taskID, "error", err)
	}
}

// persistAgent saves an agent snapshot if a store is configured.
func (o *Orchestrator) persistAgent(agentID string) {
	if o.st == nil {
		return
	}
	o.mu.RLock()
	agent, ok := o.agents[agentID]
	var rec store.AgentRecord
	if ok {
		rec = store.AgentRecord{
			ID:           agent.ID,
			Name:         agent.Name,
			Role:         agent.Role,
			Capabilities: append([]string(nil), agent.Capabilities...),
			Status:       string(agent.Status),
			CurrentTask:  agent.CurrentTask,
			SpawnedAt:    agent.SpawnedAt,
		}
	}
	o.mu.RUnlock()
	if !ok {
		return
	}
	if err := o.st.SaveAgent(rec); err != nil {
		o.logger.Warn("orchestrator: persist agent failed", "agent", agentID, "error", err)
	}
}

// recordEvent appends to the event log if a store is configured.
func (o *Orchestrator) recordEvent(e store.Event) {
	if o.st == nil {
		return
	}
	e.Timestamp = time.Now()
	if err := o.st.InsertEvent(e); err != nil {
		o.logger.Warn("orchestrator: record event failed", "type", e.Type, "error", err)
	}
}
