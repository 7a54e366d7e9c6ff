// Command scottyd runs the Scotty orchestrator: the REST control API, the
// streaming fabric and the three periodic scheduler jobs, all sharing one
// in-memory App registry hydrated from disk on startup.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/factorial-io/scotty-sub002/internal/appstate"
	"github.com/factorial-io/scotty-sub002/internal/blueprint"
	"github.com/factorial-io/scotty-sub002/internal/composedir"
	"github.com/factorial-io/scotty-sub002/internal/config"
	"github.com/factorial-io/scotty-sub002/internal/engine"
	"github.com/factorial-io/scotty-sub002/internal/httpapi"
	"github.com/factorial-io/scotty-sub002/internal/identity"
	"github.com/factorial-io/scotty-sub002/internal/logging"
	"github.com/factorial-io/scotty-sub002/internal/metrics"
	"github.com/factorial-io/scotty-sub002/internal/model"
	"github.com/factorial-io/scotty-sub002/internal/scheduler"
	"github.com/factorial-io/scotty-sub002/internal/streamfabric"
	"github.com/factorial-io/scotty-sub002/internal/taskmanager"
)

const version = "0.1.0"

func main() {
	configDir := flag.String("config-dir", "config", "directory holding default.yaml/local.yaml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New("scottyd", cfg.Logging.Level, cfg.Logging.Format)

	policy, err := identity.LoadPolicyFile(cfg.Paths.PolicyFile)
	if err != nil {
		log.Fatalf("load policy file: %v", err)
	}
	policyStore := identity.NewStore(policy)

	bearer := identity.NewBearerTable(cfg.Auth.BearerTokens)
	var oauth *identity.OAuthSessions
	if cfg.Auth.JWTSecret != "" {
		oauth = identity.NewOAuthSessions(cfg.Auth.JWTSecret)
	}
	resolver := identity.NewResolver(bearer, oauth, policyStore)

	blueprints, err := blueprint.LoadDir(cfg.Paths.Blueprints)
	if err != nil {
		log.Fatalf("load blueprints: %v", err)
	}
	blueprintStore := blueprint.NewStore()
	blueprintStore.Replace(blueprints)

	eng, err := engine.NewDockerClient()
	if err != nil {
		log.Fatalf("connect to container engine: %v", err)
	}

	layout := composedir.Layout{Root: cfg.Paths.AppsRoot}
	registry := appstate.NewRegistry()
	if err := hydrateRegistry(registry, layout, logger); err != nil {
		log.Fatalf("hydrate app registry: %v", err)
	}

	tasks := taskmanager.New(logger, cfg.Scheduler.TaskCleanup)
	machine := appstate.NewMachine(registry, eng, tasks, layout, blueprintStore, logger, appstate.ReadinessConfig{})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	sched := scheduler.New(logger)
	mustRegister(sched, scheduler.RunningAppCheckJob(cfg.Scheduler.RunningAppCheck, registry, eng))
	mustRegister(sched, scheduler.TTLCheckJob(cfg.Scheduler.TTLCheck, registry, machine))
	mustRegister(sched, scheduler.TaskCleanupJob(cfg.Scheduler.TaskCleanup, tasks))
	sched.Start()

	streamServer := streamfabric.NewServer(resolver, registry, tasks, eng, logger, cfg.Streaming)

	authMode := "bearer"
	if oauth != nil {
		authMode = "bearer+oauth"
	}
	server := httpapi.NewServer(resolver, machine, registry, tasks, logger, m, version, authMode, streamServer, cfg.Server.CORSAllowedOrigins)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	go func() {
		logger.WithField("addr", addr).Info("scottyd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("scheduler shutdown")
	}
}

func mustRegister(s *scheduler.Scheduler, job scheduler.Job) {
	if err := s.Register(context.Background(), job); err != nil {
		log.Fatalf("register job %s: %v", job.Name, err)
	}
}

// hydrateRegistry reconstructs the registry from on-disk compose
// directories at startup (spec.md §1: app state is rebuilt from disk, not
// stored separately). Hydrated apps start in Unsupported status; the
// running_app_check job probes only Running apps, so it leaves them as is.
func hydrateRegistry(registry *appstate.Registry, layout composedir.Layout, logger *logging.Logger) error {
	names, err := layout.ListAppNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		settings, err := layout.ReadSettings(name)
		if err != nil {
			logger.WithError(err).WithField("app", name).Warn("skip app with unreadable settings")
			continue
		}
		registry.Hydrate(model.App{
			Name:     name,
			RootPath: layout.AppDir(name),
			Settings: settings,
			Status:   model.StatusUnsupported,
		})
	}
	return nil
}
