// Package daemon assembles the runtime: config, logging, tracing, the
// event bus, the tool engine, and the session registry, plus the
// maintenance loops around them.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/ayatori-dev/ayatori/internal/config"
	"github.com/ayatori-dev/ayatori/internal/logger"
	"github.com/ayatori-dev/ayatori/internal/observability"
	"github.com/ayatori-dev/ayatori/internal/tracing"
	"github.com/ayatori-dev/ayatori/pkg/agent"
	"github.com/ayatori-dev/ayatori/pkg/bus"
	"github.com/ayatori-dev/ayatori/pkg/coretools"
	"github.com/ayatori-dev/ayatori/pkg/sandbox"
	"github.com/ayatori-dev/ayatori/pkg/session"
	"github.com/ayatori-dev/ayatori/pkg/toolengine"
)

// DefaultModel is used when no profile names one.
const DefaultModel = "claude-sonnet-4-20250514"

// DefaultSessionName is the session created on first start so a
// client always has somewhere to talk.
const DefaultSessionName = "default"

// Daemon is the assembled runtime.
type Daemon struct {
	cfg    *config.Config
	logger *logger.Logger

	bus       *bus.Bus
	workspace *sandbox.Workspace
	cmdPolicy *sandbox.CommandPolicy
	engine    *toolengine.Engine
	store     *session.Store
	registry  *agent.Registry
	cleaner   *session.Cleaner

	metricsServer *http.Server
	watcher       *config.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	running   bool
	startTime time.Time
}

// New wires a daemon from configuration. Nothing runs until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("ayatori"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		cfg:    cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}
	if err := d.initialize(); err != nil {
		cancel()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) initialize() error {
	zl := d.logger.Zerolog()

	d.bus = bus.New(bus.Options{
		Policy:     bus.Policy(d.cfg.Bus.Policy),
		BufferSize: d.cfg.Bus.BufferSize,
	}, zl)

	ws, err := sandbox.NewWorkspace(d.cfg.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("initialize workspace: %w", err)
	}
	d.workspace = ws

	d.engine = toolengine.New(toolengine.Options{
		Timeout: time.Duration(d.cfg.Tools.TimeoutSeconds) * time.Second,
	}, zl)

	d.cmdPolicy = sandbox.NewCommandPolicy(d.cfg.Tools.ShellAllow, d.cfg.Tools.ShellDeny)
	err = coretools.Register(d.engine, coretools.Options{
		Workspace:      ws,
		CommandPolicy:  d.cmdPolicy,
		MaxOutputBytes: d.cfg.Tools.MaxOutputBytes,
		ShellTimeout:   time.Duration(d.cfg.Tools.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("register core tools: %w", err)
	}

	auditPath := filepath.Join(d.cfg.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		zl.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		zl.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	store, err := session.NewStore(filepath.Join(d.cfg.DataDir, "sessions"), zl)
	if err != nil {
		return fmt.Errorf("initialize session store: %w", err)
	}
	d.store = store

	profiles := profilesFromConfig(d.cfg.AI.Profiles)
	registry, err := agent.NewRegistry(agent.RegistryConfig{
		Bus:             d.bus,
		Engine:          d.engine,
		Store:           store,
		Logger:          zl,
		Profiles:        profiles,
		Model:           defaultModel(profiles),
		SystemPrompt:    d.cfg.Session.SystemPrompt,
		AuthorizedTools: d.cfg.Session.AuthorizedTools,
		DeletePolicy:    d.cfg.Session.DeletePolicy,
	})
	if err != nil {
		return fmt.Errorf("initialize session registry: %w", err)
	}
	d.registry = registry

	retention := time.Duration(d.cfg.Session.RetentionDays) * 24 * time.Hour
	d.cleaner = session.NewCleaner(store, retention, time.Hour, registry.Has, zl)

	return nil
}

func profilesFromConfig(in []config.AIProfile) []agent.Profile {
	out := make([]agent.Profile, 0, len(in))
	for _, p := range in {
		out = append(out, agent.Profile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Model:    p.Model,
			Priority: p.Priority,
		})
	}
	return out
}

func defaultModel(profiles []agent.Profile) string {
	sorted := append([]agent.Profile(nil), profiles...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	for _, p := range sorted {
		if p.Model != "" {
			return p.Model
		}
	}
	return DefaultModel
}

// Start brings up the maintenance loops, the metrics endpoint, and
// the config watcher, and makes sure the default session exists.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	zl := d.logger.Zerolog()
	zl.Info().Str("workspace", d.workspace.Root()).Msg("Starting daemon")

	if err := d.ensureDefaultSession(); err != nil {
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.cleaner.Run(d.ctx)
	}()

	if d.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		d.metricsServer = &http.Server{Addr: d.cfg.Metrics.Addr, Handler: mux}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zl.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		zl.Info().Str("addr", d.cfg.Metrics.Addr).Msg("Metrics endpoint started")
	}

	watcher, err := config.NewWatcher(config.NewLoader(""), d.applyConfigReload)
	if err != nil {
		zl.Warn().Err(err).Msg("Config watcher unavailable, live reload disabled")
	} else if err := watcher.Start(); err != nil {
		zl.Warn().Err(err).Msg("Failed to start config watcher")
	} else {
		d.watcher = watcher
	}

	zl.Info().Msg("Daemon started")
	return nil
}

func (d *Daemon) ensureDefaultSession() error {
	for _, snap := range d.registry.List() {
		if snap.Name == DefaultSessionName {
			return nil
		}
	}
	if _, err := d.registry.Create(session.Options{Name: DefaultSessionName}); err != nil {
		return fmt.Errorf("create default session: %w", err)
	}
	return nil
}

// applyConfigReload picks up the reloadable subset of config: the
// log level and the shell command policy. Everything else needs a
// restart.
func (d *Daemon) applyConfigReload(cfg *config.Config) {
	d.logger.SetLevel(cfg.Logging.Level)
	d.cmdPolicy.Update(cfg.Tools.ShellAllow, cfg.Tools.ShellDeny)
	d.logger.Info().
		Str("level", cfg.Logging.Level).
		Strs("shell_allow", cfg.Tools.ShellAllow).
		Strs("shell_deny", cfg.Tools.ShellDeny).
		Msg("Applied reloaded configuration")
	observability.RecordConfigAudit(context.Background(), "reload:runtime", map[string]interface{}{
		"level":       cfg.Logging.Level,
		"shell_allow": cfg.Tools.ShellAllow,
		"shell_deny":  cfg.Tools.ShellDeny,
	})
}

// Stop winds the runtime down: interrupt running sessions, stop the
// loops, close the bus, flush tracing.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	zl := d.logger.Zerolog()
	zl.Info().Msg("Stopping daemon")

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := d.registry.Close(stopCtx); err != nil {
		zl.Warn().Err(err).Msg("Sessions did not settle before timeout")
	}
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			zl.Warn().Err(err).Msg("Failed to stop config watcher")
		}
	}
	if d.metricsServer != nil {
		if err := d.metricsServer.Shutdown(stopCtx); err != nil {
			zl.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}

	d.cancel()
	d.wg.Wait()
	d.bus.Close()

	if err := observability.GetAuditLogger().Close(); err != nil {
		zl.Warn().Err(err).Msg("Failed to close audit logger")
	}
	if err := tracing.ShutdownOpenTelemetry(stopCtx); err != nil {
		zl.Warn().Err(err).Msg("Tracing shutdown failed")
	}

	zl.Info().Msg("Daemon stopped")
	return nil
}

// Wait blocks until SIGINT or SIGTERM.
func (d *Daemon) Wait() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	received := <-sig
	d.logger.Info().Str("signal", received.String()).Msg("Shutdown signal received")
}

// Status reports the daemon's health snapshot.
type Status struct {
	Running   bool               `json:"running"`
	StartTime time.Time          `json:"start_time"`
	Uptime    time.Duration      `json:"uptime"`
	Sessions  []session.Snapshot `json:"sessions"`
}

// Status returns the current runtime state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	running := d.running
	startTime := d.startTime
	d.mu.RUnlock()

	st := Status{Running: running, StartTime: startTime}
	if running {
		st.Uptime = time.Since(startTime)
		st.Sessions = d.registry.List()
	}
	return st
}

// Registry exposes the session registry to callers embedding the daemon.
func (d *Daemon) Registry() *agent.Registry { return d.registry }

// Bus exposes the event bus for subscribers.
func (d *Daemon) Bus() *bus.Bus { return d.bus }

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config { return d.cfg }
