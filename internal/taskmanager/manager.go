// Package taskmanager implements the lifecycle registry for logical
// operations described in spec.md §4.5: it owns worker goroutines,
// aggregates their output into per-task Output Buses, and applies the
// finalize flush protocol and panic containment uniformly for every task
// kind, independent of what the task actually does.
package taskmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/factorial-io/scotty-sub002/internal/apierr"
	"github.com/factorial-io/scotty-sub002/internal/logging"
	"github.com/factorial-io/scotty-sub002/internal/model"
	"github.com/factorial-io/scotty-sub002/internal/outputbus"
)

// Driver is the function a task runs. It receives a Handle bound to the
// task's own context and output bus. Returning an error fails the task
// (with reason Timeout when the spawn-time timeout has expired, otherwise
// with the error's text); returning nil finishes it.
type Driver func(ctx context.Context, h *Handle) error

// Handle is the only way a Driver should touch its task's bus and context.
type Handle struct {
	TaskID  string
	AppName string
	ctx     context.Context
	bus     *outputbus.Bus
}

func (h *Handle) Context() context.Context { return h.ctx }

func (h *Handle) Stdout(text string) { h.bus.Append(model.StreamStdout, text) }
func (h *Handle) Stderr(text string) { h.bus.Append(model.StreamStderr, text) }
func (h *Handle) Status(text string) { h.bus.Append(model.StreamStatus, text) }

type entry struct {
	task   model.Task
	bus    *outputbus.Bus
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager is the Task Manager of spec.md §4.5.
type Manager struct {
	mu      sync.RWMutex
	tasks   map[string]*entry
	log     *logging.Logger
	cleanup time.Duration
}

func New(log *logging.Logger, cleanupWindow time.Duration) *Manager {
	if cleanupWindow == 0 {
		cleanupWindow = 10 * time.Minute
	}
	return &Manager{
		tasks:   make(map[string]*entry),
		log:     log,
		cleanup: cleanupWindow,
	}
}

// TaskView is the read-only projection returned by Get/List.
type TaskView = model.Task

// Spawn registers a new task and starts its driver in a goroutine. It
// returns immediately with the task id; spec.md §6 callers respond 202
// with this id before any work completes.
func (m *Manager) Spawn(ctx context.Context, kind model.TaskKind, appName, actionName string, timeout time.Duration, driver Driver) string {
	return m.SpawnWithID(ctx, uuid.NewString(), kind, appName, actionName, timeout, driver)
}

// SpawnWithID is like Spawn but lets the caller pick the task id up front,
// so it can be recorded as an app's in-flight task (appstate's single-slot
// mutex) before the driver actually starts running.
func (m *Manager) SpawnWithID(ctx context.Context, id string, kind model.TaskKind, appName, actionName string, timeout time.Duration, driver Driver) string {
	taskCtx, cancel := context.WithCancel(ctx)
	if timeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
	}

	e := &entry{
		task: model.Task{
			ID:         id,
			AppName:    appName,
			Kind:       kind,
			ActionName: actionName,
			State:      model.TaskPending,
			StartTime:  time.Now(),
		},
		bus:    outputbus.New(0),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.tasks[id] = e
	m.mu.Unlock()

	go m.run(taskCtx, e, driver)

	return id
}

func (m *Manager) run(ctx context.Context, e *entry, driver Driver) {
	defer close(e.done)

	m.setState(e, model.TaskRunning, nil)

	h := &Handle{TaskID: e.task.ID, AppName: e.task.AppName, ctx: ctx, bus: e.bus}

	var driverErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				driverErr = apierr.New(apierr.Internal, fmt.Sprintf("task panicked: %v", r))
			}
		}()
		driverErr = driver(ctx, h)
	}()

	var terminal model.OutputLine
	var finalState model.TaskState
	switch {
	case driverErr == nil:
		finalState = model.TaskFinished
		terminal = model.OutputLine{Stream: model.StreamStatus, Text: "Finished"}
	case ctx.Err() == context.DeadlineExceeded:
		finalState = model.TaskFailed
		terminal = model.OutputLine{Stream: model.StreamStatus, Text: "Failed: Timeout"}
	default:
		finalState = model.TaskFailed
		terminal = model.OutputLine{Stream: model.StreamStatus, Text: "Failed: " + driverErr.Error()}
	}

	m.setState(e, finalState, driverErr)
	e.bus.Finalize(terminal)

	if m.log != nil {
		entry := m.log.WithContext(logging.WithTaskID(context.Background(), e.task.ID))
		if driverErr != nil {
			entry.WithError(driverErr).Warn("task failed")
		} else {
			entry.Info("task finished")
		}
	}
}

func (m *Manager) setState(e *entry, state model.TaskState, _ error) {
	m.mu.Lock()
	e.task.State = state
	if state.Terminal() {
		now := time.Now()
		e.task.FinishTime = &now
	}
	m.mu.Unlock()
}

// Get returns a snapshot of the task, or NotFound.
func (m *Manager) Get(id string) (TaskView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tasks[id]
	if !ok {
		return model.Task{}, apierr.NotFoundf("task %s not found", id)
	}
	return e.task, nil
}

// Filter narrows List to tasks matching the given app name and/or state,
// when non-empty.
type Filter struct {
	AppName string
	State   model.TaskState
}

func (m *Manager) List(f Filter) []TaskView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TaskView, 0, len(m.tasks))
	for _, e := range m.tasks {
		if f.AppName != "" && e.task.AppName != f.AppName {
			continue
		}
		if f.State != "" && e.task.State != f.State {
			continue
		}
		out = append(out, e.task)
	}
	return out
}

// SubscribeOutput implements spec.md §4.5's subscribe_output; it returns
// NotFound for an unknown or already-cleaned-up task.
func (m *Manager) SubscribeOutput(ctx context.Context, id string, fromSeq uint64) (<-chan model.OutputLine, error) {
	m.mu.RLock()
	e, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return nil, apierr.NotFoundf("task %s not found", id)
	}
	return e.bus.Subscribe(ctx, fromSeq), nil
}

// Cancel cooperatively cancels an in-flight task (spawn-time timeout, or
// client-initiated cancellation of client-scoped work per spec.md §5).
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	e, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return apierr.NotFoundf("task %s not found", id)
	}
	e.cancel()
	return nil
}

// Cleanup removes finished tasks older than the configured window. Removed
// tasks' subscribers receive their bus's terminal state already (Finalize
// ran at task completion); cleanup only drops the registry entry.
func (m *Manager) Cleanup() int {
	cutoff := time.Now().Add(-m.cleanup)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, e := range m.tasks {
		if e.task.State.Terminal() && e.task.FinishTime != nil && e.task.FinishTime.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}
