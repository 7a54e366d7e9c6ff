package scheduler

import (
	"context"
	"time"

	"github.com/factorial-io/scotty-sub002/internal/apierr"
	"github.com/factorial-io/scotty-sub002/internal/appstate"
	"github.com/factorial-io/scotty-sub002/internal/engine"
	"github.com/factorial-io/scotty-sub002/internal/model"
	"github.com/factorial-io/scotty-sub002/internal/taskmanager"
)

// RunningAppCheckJob probes every Running app's container health and
// updates last_checked, per spec.md §4.7.
func RunningAppCheckJob(interval time.Duration, registry *appstate.Registry, eng engine.Client) Job {
	return Job{
		Name:     "running_app_check",
		Interval: interval,
		Run: func(ctx context.Context) error {
			for _, app := range registry.List() {
				if app.Status != model.StatusRunning {
					continue
				}
				healthy := true
				for _, svc := range app.Settings.PublicServices {
					containerName := app.Name + "-" + svc.Service + "-1"
					status, err := eng.InspectContainer(ctx, containerName)
					if err != nil || !status.Healthy {
						healthy = false
						break
					}
				}
				registry.Touch(app.Name, healthy)
			}
			return nil
		},
	}
}

// TTLCheckJob enqueues stop/destroy transitions for apps whose TTL has
// elapsed since started_at.
func TTLCheckJob(interval time.Duration, registry *appstate.Registry, machine *appstate.Machine) Job {
	return Job{
		Name:     "ttl_check",
		Interval: interval,
		Run: func(ctx context.Context) error {
			var firstErr error
			for _, app := range registry.List() {
				if app.Status != model.StatusRunning || app.Settings.TimeToLive.Forever {
					continue
				}
				ttl, ok := app.Settings.TimeToLive.Duration()
				if !ok || app.StartedAt.IsZero() {
					continue
				}
				if time.Since(app.StartedAt) < ttl {
					continue
				}
				if _, err := machine.HandleTTLExpired(ctx, app.Name); err != nil {
					// Conflict just means a transition is already in flight;
					// next tick will re-evaluate. Anything else is logged by
					// the scheduler's caller.
					if err.Kind != apierr.Conflict && firstErr == nil {
						firstErr = err
					}
					continue
				}
			}
			return firstErr
		},
	}
}

// TaskCleanupJob removes finished tasks older than the manager's configured
// retention window.
func TaskCleanupJob(interval time.Duration, tasks *taskmanager.Manager) Job {
	return Job{
		Name:     "task_cleanup",
		Interval: interval,
		Run: func(ctx context.Context) error {
			tasks.Cleanup()
			return nil
		},
	}
}
