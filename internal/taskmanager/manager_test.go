package taskmanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factorial-io/scotty-sub002/internal/logging"
	"github.com/factorial-io/scotty-sub002/internal/model"
)

func waitTerminal(t *testing.T, m *Manager, id string) model.Task {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		task, err := m.Get(id)
		require.NoError(t, err)
		if task.State.Terminal() {
			return task
		}
		select {
		case <-deadline:
			t.Fatalf("task %s never reached a terminal state", id)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestManager_SpawnFinishes(t *testing.T) {
	m := New(logging.New("test", "error", "text"), time.Minute)
	id := m.Spawn(context.Background(), model.TaskAction, "demo", "noop", 0, func(ctx context.Context, h *Handle) error {
		h.Stdout("hello")
		return nil
	})

	task := waitTerminal(t, m, id)
	assert.Equal(t, model.TaskFinished, task.State)
}

func TestManager_DriverErrorFailsTask(t *testing.T) {
	m := New(logging.New("test", "error", "text"), time.Minute)
	id := m.Spawn(context.Background(), model.TaskAction, "demo", "noop", 0, func(ctx context.Context, h *Handle) error {
		return errors.New("boom")
	})

	task := waitTerminal(t, m, id)
	assert.Equal(t, model.TaskFailed, task.State)
}

func TestManager_PanicIsContainedAndReportedFailed(t *testing.T) {
	m := New(logging.New("test", "error", "text"), time.Minute)
	id := m.Spawn(context.Background(), model.TaskAction, "demo", "noop", 0, func(ctx context.Context, h *Handle) error {
		panic("driver exploded")
	})

	task := waitTerminal(t, m, id)
	assert.Equal(t, model.TaskFailed, task.State)
}

func TestManager_TimeoutFailsTaskWithTimeoutReason(t *testing.T) {
	m := New(logging.New("test", "error", "text"), time.Minute)
	id := m.Spawn(context.Background(), model.TaskAction, "demo", "noop", 10*time.Millisecond, func(ctx context.Context, h *Handle) error {
		<-ctx.Done()
		return ctx.Err()
	})

	task := waitTerminal(t, m, id)
	assert.Equal(t, model.TaskFailed, task.State)

	ch, err := m.SubscribeOutput(context.Background(), id, 0)
	require.NoError(t, err)
	var last model.OutputLine
	for line := range ch {
		last = line
	}
	assert.Equal(t, "Failed: Timeout", last.Text)
}

func TestManager_SpawnWithIDUsesCallerID(t *testing.T) {
	m := New(logging.New("test", "error", "text"), time.Minute)
	id := m.SpawnWithID(context.Background(), "fixed-id", model.TaskRun, "demo", "", 0, func(ctx context.Context, h *Handle) error {
		return nil
	})
	assert.Equal(t, "fixed-id", id)
	waitTerminal(t, m, id)
}

func TestManager_SubscribeOutputReplaysFromStart(t *testing.T) {
	m := New(logging.New("test", "error", "text"), time.Minute)
	started := make(chan struct{})
	id := m.Spawn(context.Background(), model.TaskAction, "demo", "noop", 0, func(ctx context.Context, h *Handle) error {
		h.Stdout("one")
		h.Stdout("two")
		close(started)
		return nil
	})

	<-started
	ch, err := m.SubscribeOutput(context.Background(), id, 0)
	require.NoError(t, err)

	var lines []model.OutputLine
	for line := range ch {
		lines = append(lines, line)
	}
	require.GreaterOrEqual(t, len(lines), 3) // "one", "two", terminal status
	assert.Equal(t, "one", lines[0].Text)
}

func TestManager_CleanupRemovesOldFinishedTasks(t *testing.T) {
	m := New(logging.New("test", "error", "text"), -time.Second) // everything already past the window
	id := m.Spawn(context.Background(), model.TaskAction, "demo", "noop", 0, func(ctx context.Context, h *Handle) error {
		return nil
	})
	waitTerminal(t, m, id)

	removed := m.Cleanup()
	assert.Equal(t, 1, removed)
	_, err := m.Get(id)
	assert.Error(t, err)
}

func TestManager_ListFiltersByAppAndState(t *testing.T) {
	m := New(logging.New("test", "error", "text"), time.Minute)
	idA := m.Spawn(context.Background(), model.TaskRun, "a", "", 0, func(ctx context.Context, h *Handle) error { return nil })
	idB := m.Spawn(context.Background(), model.TaskRun, "b", "", 0, func(ctx context.Context, h *Handle) error { return nil })
	waitTerminal(t, m, idA)
	waitTerminal(t, m, idB)

	tasksForA := m.List(Filter{AppName: "a"})
	require.Len(t, tasksForA, 1)
	assert.Equal(t, idA, tasksForA[0].ID)
}
