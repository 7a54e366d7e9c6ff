// Package appstate implements the per-app state and transitions described
// in spec.md §4.4: create/run/stop/rebuild/destroy/action plus TTL-driven
// transitions, serialized per app by a single-slot mutex.
package appstate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/factorial-io/scotty-sub002/internal/apierr"
	"github.com/factorial-io/scotty-sub002/internal/model"
)

// entry owns one App's in-memory state plus the single-slot transition
// lock spec.md §4.4 requires: "each App has a single-slot mutex.
// Attempting to start a mutating task while one is in flight returns
// Conflict with the in-flight task id."
type entry struct {
	transitionLock sync.Mutex
	inFlight       atomic.Pointer[string]

	mu  sync.RWMutex
	app model.App
}

func (e *entry) snapshot() model.App {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.app
}

func (e *entry) mutate(fn func(*model.App)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.app)
}

// beginTransition attempts to acquire the single-slot mutex for a mutating
// task. It never blocks: if a transition is already in flight it returns
// Conflict carrying the in-flight task id immediately, per spec.md §4.4/§8.
func (e *entry) beginTransition(taskID string) (release func(), err *apierr.Error) {
	if !e.transitionLock.TryLock() {
		existing := e.inFlight.Load()
		id := ""
		if existing != nil {
			id = *existing
		}
		return nil, apierr.Conflictf("transition already in flight").WithDetail("task_id", id)
	}
	id := taskID
	e.inFlight.Store(&id)
	return func() {
		e.inFlight.Store(nil)
		e.transitionLock.Unlock()
	}, nil
}

// Registry is the concurrent map of all known apps, one entry per app with
// its own fine-grained lock (spec.md §5).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) getOrCreate(name string) *entry {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		return e
	}
	e = &entry{}
	r.entries[name] = e
	return e
}

// Get returns a snapshot of the named app. Observers calling Get between
// transitions see either the pre- or post-state, never a partial one,
// because mutate() always holds entry.mu for the whole write.
func (r *Registry) Get(name string) (model.App, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return model.App{}, false
	}
	snap := e.snapshot()
	return snap, true
}

func (r *Registry) List() []model.App {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.App, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snapshot())
	}
	return out
}

// Delete removes an app from the registry entirely (post-destroy cleanup).
func (r *Registry) Delete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Exists reports whether name is already registered, regardless of status.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Touch updates last_checked and, on a failed health probe, marks the app
// Failed; it never overrides an in-flight transition's own status writes
// because it reads-then-writes under entry.mu like any other mutate call.
func (r *Registry) Touch(name string, healthy bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.mutate(func(a *model.App) {
		a.LastChecked = time.Now()
		if !healthy && a.Status == model.StatusRunning {
			a.Status = model.StatusFailed
		}
	})
}

// Hydrate installs app as the known state for its name, used at startup to
// reconstruct the registry from on-disk compose directories (spec.md §1:
// "app state is reconstructed from on-disk compose directories").
func (r *Registry) Hydrate(app model.App) {
	e := r.getOrCreate(app.Name)
	e.mutate(func(a *model.App) { *a = app })
}
