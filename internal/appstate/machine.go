package appstate

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/factorial-io/scotty-sub002/internal/apierr"
	"github.com/factorial-io/scotty-sub002/internal/blueprint"
	"github.com/factorial-io/scotty-sub002/internal/composedir"
	"github.com/factorial-io/scotty-sub002/internal/engine"
	"github.com/factorial-io/scotty-sub002/internal/logging"
	"github.com/factorial-io/scotty-sub002/internal/model"
	"github.com/factorial-io/scotty-sub002/internal/taskmanager"
)

// ReadinessConfig bounds the exponential backoff poll spec.md §4.4 requires
// before a post-action runs: "readiness is polled with an exponential
// backoff bounded by a total timeout."
type ReadinessConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Timeout         time.Duration
}

func (c ReadinessConfig) withDefaults() ReadinessConfig {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	return c
}

// Machine drives every App transition spec.md §4.4 names, wiring the
// Registry's single-slot mutex, the Engine Client, the Task Manager and the
// on-disk compose bundle together. Each exported method spawns one task and
// returns immediately with its id.
type Machine struct {
	registry   *Registry
	eng        engine.Client
	tasks      *taskmanager.Manager
	layout     composedir.Layout
	blueprints *blueprint.Store
	log        *logging.Logger
	readiness  ReadinessConfig
}

func NewMachine(registry *Registry, eng engine.Client, tasks *taskmanager.Manager, layout composedir.Layout, blueprints *blueprint.Store, log *logging.Logger, readiness ReadinessConfig) *Machine {
	return &Machine{
		registry:   registry,
		eng:        eng,
		tasks:      tasks,
		layout:     layout,
		blueprints: blueprints,
		log:        log,
		readiness:  readiness.withDefaults(),
	}
}

func (m *Machine) projectOpts(app model.App) engine.ComposeOptions {
	opts := engine.ComposeOptions{
		ProjectDir:  m.layout.AppDir(app.Name),
		ProjectName: app.Name,
	}
	if r := app.Settings.Registry; r != nil {
		opts.Registry = &engine.RegistryAuth{Server: r.Server, Username: r.Username, Password: r.Password.Reveal()}
	}
	for k, v := range app.Settings.Environment {
		opts.Env = append(opts.Env, fmt.Sprintf("%s=%s", k, v.Reveal()))
	}
	for _, ps := range app.Settings.PublicServices {
		opts.Env = append(opts.Env, fmt.Sprintf("SCOTTY__PUBLIC_URL__%s=%s", ps.Service, app.PublicURL(ps.Service)))
	}
	return opts
}

// runComposePhase streams a compose invocation's output into the task bus
// and returns its exit code.
func runComposePhase(h *taskmanager.Handle, lines <-chan string, spawnErr error) (int, error) {
	if spawnErr != nil {
		return -1, spawnErr
	}
	exit := -1
	for line := range lines {
		if code, ok := engine.ParseExitMarker(line); ok {
			exit = code
			continue
		}
		h.Stdout(line)
	}
	if exit != 0 {
		return exit, apierr.EngineRejectedExit(exit, "compose command failed")
	}
	return exit, nil
}

// Create implements the create transition: write the compose bundle,
// compose_up, then run post_create if the blueprint declares it.
func (m *Machine) Create(ctx context.Context, name string, composeYAML []byte, settings model.AppSettings) (string, *apierr.Error) {
	if !model.ValidAppName(name) {
		return "", apierr.Validationf("invalid app name %q", name)
	}
	if m.layout.Exists(name) {
		return "", apierr.Conflictf("app %s already exists", name)
	}

	rendered, err := composedir.RenderLabels(name, composeYAML, settings)
	if err != nil {
		return "", apierr.As(err)
	}

	e := m.registry.getOrCreate(name)
	e.mutate(func(a *model.App) {
		*a = model.App{Name: name, RootPath: m.layout.AppDir(name), Settings: settings, Status: model.StatusCreating}
	})

	return m.spawn(e, model.TaskCreate, name, "", func(ctx context.Context, h *taskmanager.Handle) error {
		if werr := m.layout.Write(name, rendered, settings); werr != nil {
			return apierr.Wrap(apierr.Internal, "write compose bundle", werr)
		}
		app := e.snapshot()
		opts := m.projectOpts(app)
		lines, serr := m.eng.ComposeUp(ctx, opts)
		if _, cerr := runComposePhase(h, lines, serr); cerr != nil {
			e.mutate(func(a *model.App) { a.Status = model.StatusFailed })
			return cerr
		}
		return m.finishBringUp(ctx, h, e, "post_create", model.StatusRunning)
	})
}

// Run implements the run transition: compose_up on an already-created app.
func (m *Machine) Run(ctx context.Context, name string) (string, *apierr.Error) {
	app, e, aerr := m.requireApp(name)
	if aerr != nil {
		return "", aerr
	}
	if app.Status == model.StatusRunning {
		return "", apierr.Conflictf("app %s is already running", name)
	}
	if app.Status != model.StatusStopped {
		return "", apierr.Conflictf("app %s is %s, not Stopped", name, app.Status)
	}

	return m.spawn(e, model.TaskRun, name, "", func(ctx context.Context, h *taskmanager.Handle) error {
		e.mutate(func(a *model.App) { a.Status = model.StatusStarting })
		opts := m.projectOpts(e.snapshot())
		lines, serr := m.eng.ComposeUp(ctx, opts)
		if _, cerr := runComposePhase(h, lines, serr); cerr != nil {
			e.mutate(func(a *model.App) { a.Status = model.StatusFailed })
			return cerr
		}
		return m.finishBringUp(ctx, h, e, "post_run", model.StatusRunning)
	})
}

// Stop implements the stop transition: compose_down, keeping the directory.
func (m *Machine) Stop(ctx context.Context, name string) (string, *apierr.Error) {
	app, e, aerr := m.requireApp(name)
	if aerr != nil {
		return "", aerr
	}
	if app.Status == model.StatusStopped {
		return m.noop(e, model.TaskStop, name, "already stopped")
	}

	return m.spawn(e, model.TaskStop, name, "", func(ctx context.Context, h *taskmanager.Handle) error {
		e.mutate(func(a *model.App) { a.Status = model.StatusStopping })
		opts := m.projectOpts(e.snapshot())
		lines, serr := m.eng.ComposeDown(ctx, opts)
		if _, cerr := runComposePhase(h, lines, serr); cerr != nil {
			e.mutate(func(a *model.App) { a.Status = model.StatusFailed })
			return cerr
		}
		e.mutate(func(a *model.App) { a.Status = model.StatusStopped; a.Services = nil })
		h.Status("Stopped")
		return nil
	})
}

// Rebuild implements the rebuild transition: compose_build then compose_up.
func (m *Machine) Rebuild(ctx context.Context, name string) (string, *apierr.Error) {
	app, e, aerr := m.requireApp(name)
	if aerr != nil {
		return "", aerr
	}
	if app.Status != model.StatusRunning && app.Status != model.StatusStopped {
		return "", apierr.Conflictf("app %s is %s, cannot rebuild", name, app.Status)
	}

	return m.spawn(e, model.TaskRebuild, name, "", func(ctx context.Context, h *taskmanager.Handle) error {
		e.mutate(func(a *model.App) { a.Status = model.StatusStarting })
		opts := m.projectOpts(e.snapshot())

		buildLines, serr := m.eng.ComposeBuild(ctx, opts)
		if _, cerr := runComposePhase(h, buildLines, serr); cerr != nil {
			e.mutate(func(a *model.App) { a.Status = model.StatusFailed })
			return cerr
		}

		upLines, serr := m.eng.ComposeUp(ctx, opts)
		if _, cerr := runComposePhase(h, upLines, serr); cerr != nil {
			e.mutate(func(a *model.App) { a.Status = model.StatusFailed })
			return cerr
		}
		return m.finishBringUp(ctx, h, e, "post_rebuild", model.StatusRunning)
	})
}

// Destroy implements the destroy transition from any non-Destroyed status:
// compose_down then delete the app's root directory.
func (m *Machine) Destroy(ctx context.Context, name string) (string, *apierr.Error) {
	app, e, aerr := m.requireApp(name)
	if aerr != nil {
		return "", aerr
	}
	if app.Status == model.StatusDestroyed {
		return "", apierr.Conflictf("app %s already destroyed", name)
	}

	return m.spawn(e, model.TaskDestroy, name, "", func(ctx context.Context, h *taskmanager.Handle) error {
		e.mutate(func(a *model.App) { a.Status = model.StatusDestroying })
		opts := m.projectOpts(e.snapshot())
		lines, serr := m.eng.ComposeDown(ctx, opts)
		if _, cerr := runComposePhase(h, lines, serr); cerr != nil {
			e.mutate(func(a *model.App) { a.Status = model.StatusFailed })
			return cerr
		}
		if rerr := m.layout.Remove(name); rerr != nil {
			return apierr.Wrap(apierr.Internal, "remove app directory", rerr)
		}
		e.mutate(func(a *model.App) { a.Status = model.StatusDestroyed; a.Services = nil })
		h.Status("Destroyed")
		m.registry.Delete(name)
		return nil
	})
}

// Action resolves a named blueprint action and execs it in its target
// service's container. It does not change the app's status on success.
func (m *Machine) Action(ctx context.Context, name, actionName string) (string, *apierr.Error) {
	app, e, aerr := m.requireApp(name)
	if aerr != nil {
		return "", aerr
	}

	return m.spawn(e, model.TaskAction, name, actionName, func(ctx context.Context, h *taskmanager.Handle) error {
		return m.runAction(ctx, h, e, app, actionName)
	})
}

// finishBringUp polls readiness, runs an optional post-action, and settles
// the app on the stable status. A post-action failure fails the task while
// the app's status stays on stableOnSuccess.
func (m *Machine) finishBringUp(ctx context.Context, h *taskmanager.Handle, e *entry, hook string, stableOnSuccess model.AppStatus) error {
	app := e.snapshot()

	if err := m.waitHealthy(ctx, h, app); err != nil {
		e.mutate(func(a *model.App) { a.Status = model.StatusFailed })
		return err
	}

	e.mutate(func(a *model.App) {
		a.Status = stableOnSuccess
		a.StartedAt = time.Now()
		a.LastChecked = time.Now()
		a.Services = servicesFromSettings(a.Settings)
	})

	if bp, ok := m.lookupBlueprint(app.Settings.AppBlueprint); ok {
		if action, ok := bp.PostAction(hook); ok {
			if err := m.execAction(ctx, h, e.snapshot(), hook, action); err != nil {
				// The task itself ends Failed via the returned error; the
				// app stays on stableOnSuccess since the compose phase
				// already succeeded (spec.md §4.4: post-action failure
				// reverts to the pre-action stable state, it doesn't fail
				// the app).
				e.mutate(func(a *model.App) { a.Status = stableOnSuccess })
				return err
			}
		}
	}

	h.Status(string(stableOnSuccess))
	return nil
}

func (m *Machine) runAction(ctx context.Context, h *taskmanager.Handle, e *entry, app model.App, actionName string) error {
	bp, ok := m.lookupBlueprint(app.Settings.AppBlueprint)
	if !ok {
		return apierr.NotFoundf("app %s has no blueprint", app.Name)
	}
	action, err := bp.Action(actionName)
	if err != nil {
		return err
	}
	return m.execAction(ctx, h, app, actionName, action)
}

func (m *Machine) execAction(ctx context.Context, h *taskmanager.Handle, app model.App, actionName string, action blueprint.Action) error {
	containerName := fmt.Sprintf("%s-%s-1", app.Name, action.Service)
	env := make([]string, 0, len(app.Settings.PublicServices))
	for _, ps := range app.Settings.PublicServices {
		env = append(env, fmt.Sprintf("SCOTTY__PUBLIC_URL__%s=%s", ps.Service, app.PublicURL(ps.Service)))
	}

	res, err := m.eng.Exec(ctx, containerName, engine.ExecOptions{Argv: action.Command, Env: env, TTY: action.TTY})
	if err != nil {
		return apierr.Wrap(apierr.EngineUnavailable, "exec action", err)
	}
	defer res.Close()

	go streamLines(h.Stdout, res.Stdout)
	go streamLines(h.Stderr, res.Stderr)

	code, werr := res.Wait(ctx)
	if werr != nil {
		return apierr.Wrap(apierr.EngineUnavailable, "wait for action", werr)
	}
	if code != 0 {
		return apierr.New(apierr.EngineRejected, fmt.Sprintf("action %s on service %s (exit code %d)", actionName, action.Service, code)).WithDetail("exit_code", code)
	}
	return nil
}

func streamLines(sink func(string), r io.Reader) {
	if r == nil {
		return
	}
	buf := make([]byte, 4096)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				idx := indexByte(pending, '\n')
				if idx < 0 {
					break
				}
				sink(string(pending[:idx]))
				pending = pending[idx+1:]
			}
		}
		if err != nil {
			if len(pending) > 0 {
				sink(string(pending))
			}
			return
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func servicesFromSettings(settings model.AppSettings) []model.Service {
	out := make([]model.Service, 0, len(settings.PublicServices))
	for _, ps := range settings.PublicServices {
		url := ""
		if len(ps.Domains) > 0 {
			url = "https://" + ps.Domains[0]
		}
		out = append(out, model.Service{Name: ps.Service, URL: url})
	}
	return out
}

// waitHealthy polls each required service's container with exponential
// backoff bounded by m.readiness.Timeout.
func (m *Machine) waitHealthy(ctx context.Context, h *taskmanager.Handle, app model.App) error {
	services := app.Settings.PublicServices
	if bp, ok := m.lookupBlueprint(app.Settings.AppBlueprint); ok && len(bp.RequiredServices) > 0 {
		required := make([]model.PublicService, 0, len(bp.RequiredServices))
		for _, n := range bp.RequiredServices {
			required = append(required, model.PublicService{Service: n})
		}
		services = required
	}
	if len(services) == 0 {
		return nil
	}

	deadline := time.Now().Add(m.readiness.Timeout)
	interval := m.readiness.InitialInterval
	for {
		allHealthy := true
		for _, svc := range services {
			containerName := fmt.Sprintf("%s-%s-1", app.Name, svc.Service)
			status, err := m.eng.InspectContainer(ctx, containerName)
			if err != nil || !status.Healthy {
				allHealthy = false
				break
			}
		}
		if allHealthy {
			return nil
		}
		if time.Now().After(deadline) {
			return apierr.New(apierr.Timeout, "services did not become healthy in time")
		}
		h.Status("waiting for services to become healthy")
		select {
		case <-ctx.Done():
			return apierr.Wrap(apierr.Timeout, "readiness wait cancelled", ctx.Err())
		case <-time.After(interval):
		}
		interval *= 2
		if interval > m.readiness.MaxInterval {
			interval = m.readiness.MaxInterval
		}
	}
}

// HandleTTLExpired implements the ttl_expired transition the scheduler's
// ttl_check job drives: stop or destroy depending on destroy_on_ttl.
func (m *Machine) HandleTTLExpired(ctx context.Context, name string) (string, *apierr.Error) {
	app, _, aerr := m.requireApp(name)
	if aerr != nil {
		return "", aerr
	}
	if app.Settings.DestroyOnTTL {
		return m.Destroy(ctx, name)
	}
	return m.Stop(ctx, name)
}

func (m *Machine) lookupBlueprint(name string) (blueprint.Blueprint, bool) {
	if name == "" {
		return blueprint.Blueprint{}, false
	}
	bp, err := m.blueprints.Get(name)
	if err != nil {
		return blueprint.Blueprint{}, false
	}
	return bp, true
}

func (m *Machine) requireApp(name string) (model.App, *entry, *apierr.Error) {
	if !m.registry.Exists(name) {
		return model.App{}, nil, apierr.NotFoundf("app %s not found", name)
	}
	e := m.registry.getOrCreate(name)
	if id := e.inFlight.Load(); id != nil {
		return model.App{}, nil, apierr.Conflictf("transition already in flight").WithDetail("task_id", *id)
	}
	return e.snapshot(), e, nil
}

// noop spawns a task that immediately finishes, for the stop-on-Stopped and
// equivalent idempotent no-op cases spec.md §8 requires to still surface a
// task id and a single Status line.
func (m *Machine) noop(e *entry, kind model.TaskKind, name, message string) (string, *apierr.Error) {
	id := m.tasks.Spawn(context.Background(), kind, name, "", 0, func(ctx context.Context, h *taskmanager.Handle) error {
		h.Status(message)
		return nil
	})
	return id, nil
}

func newTaskID() string { return uuid.NewString() }

// spawn acquires the app's single-slot transition lock before handing the
// driver to the Task Manager, and releases it when the driver returns.
func (m *Machine) spawn(e *entry, kind model.TaskKind, name, actionName string, driver taskmanager.Driver) (string, *apierr.Error) {
	id := newTaskID()
	release, lockErr := e.beginTransition(id)
	if lockErr != nil {
		return "", lockErr
	}

	wrapped := func(ctx context.Context, h *taskmanager.Handle) error {
		defer release()
		return driver(ctx, h)
	}

	return m.tasks.SpawnWithID(context.Background(), id, kind, name, actionName, 0, wrapped), nil
}
