package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayatori-dev/ayatori/internal/observability"
	"github.com/ayatori-dev/ayatori/pkg/bus"
	"github.com/ayatori-dev/ayatori/pkg/session"
	"github.com/ayatori-dev/ayatori/pkg/toolengine"
)

// Delete policies for sessions with a run in flight.
const (
	DeleteForceInterrupt = "force_interrupt"
	DeleteRejectBusy     = "reject_busy"
)

// ErrSessionExists indicates a create collision on session ID.
var ErrSessionExists = errors.New("session already exists")

// deleteWait bounds how long Delete waits for an interrupted run to
// unwind before giving up.
const deleteWait = 10 * time.Second

// RegistryConfig wires the registry's collaborators and session
// defaults.
type RegistryConfig struct {
	Bus    *bus.Bus
	Engine *toolengine.Engine
	Store  *session.Store // optional persistence
	Logger zerolog.Logger

	Profiles []Profile
	Factory  ProviderCreator

	Model       string
	MaxTokens   int
	Temperature float64

	SystemPrompt    string   // default for new sessions
	AuthorizedTools []string // default allowlist for new sessions
	DeletePolicy    string   // DeleteForceInterrupt or DeleteRejectBusy
}

type registryEntry struct {
	sess   *session.Session
	runner *TaskRunner
}

// Registry owns the live sessions and their runners. All lookups and
// lifecycle operations go through it.
type Registry struct {
	cfg      RegistryConfig
	profiles *profileSet
	logger   zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*registryEntry
}

// NewRegistry creates a registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	observability.EnsureRegistered()

	if cfg.Bus == nil {
		return nil, errors.New("bus is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("tool engine is required")
	}
	if len(cfg.Profiles) == 0 {
		return nil, errors.New("at least one auth profile is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}
	switch cfg.DeletePolicy {
	case "":
		cfg.DeletePolicy = DeleteForceInterrupt
	case DeleteForceInterrupt, DeleteRejectBusy:
	default:
		return nil, fmt.Errorf("invalid delete policy %q", cfg.DeletePolicy)
	}

	return &Registry{
		cfg:      cfg,
		profiles: newProfileSet(cfg.Profiles, cfg.Factory),
		logger:   cfg.Logger.With().Str("component", "registry").Logger(),
		entries:  make(map[string]*registryEntry),
	}, nil
}

// Create registers a new session and its idle runner. When a journal
// exists for the session's ID, history is rehydrated from it.
func (g *Registry) Create(opts session.Options) (*session.Session, error) {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = g.cfg.SystemPrompt
	}
	if opts.AuthorizedTools == nil {
		opts.AuthorizedTools = g.cfg.AuthorizedTools
	}
	sess := session.New(opts)

	if g.cfg.Store != nil {
		history, err := g.cfg.Store.Load(sess.ID())
		if err != nil {
			return nil, fmt.Errorf("load session history: %w", err)
		}
		if len(history) > 0 {
			if err := sess.Restore(history); err != nil {
				return nil, err
			}
		}
	}

	runner, err := NewTaskRunner(RunnerConfig{
		Session:     sess,
		Bus:         g.cfg.Bus,
		Engine:      g.cfg.Engine,
		Store:       g.cfg.Store,
		Logger:      g.logger,
		Profiles:    g.profiles,
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if _, exists := g.entries[sess.ID()]; exists {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sess.ID())
	}
	g.entries[sess.ID()] = &registryEntry{sess: sess, runner: runner}
	count := len(g.entries)
	g.mu.Unlock()

	observability.RecordSessionCreated()
	observability.SetActiveSessions(count)
	observability.RecordSessionAudit(context.Background(), "session_created", sess.ID(), map[string]interface{}{
		"name": sess.Name(),
	})
	g.logger.Info().Str("session_id", sess.ID()).Str("name", sess.Name()).Msg("Session created")
	return sess, nil
}

// Get returns a live session by ID.
func (g *Registry) Get(id string) (*session.Session, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entry, ok := g.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	return entry.sess, nil
}

// Has reports whether a session is registered.
func (g *Registry) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.entries[id]
	return ok
}

func (g *Registry) runnerFor(id string) (*TaskRunner, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entry, ok := g.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	return entry.runner, nil
}

// Submit starts a run on the session and returns its run ID.
func (g *Registry) Submit(id, prompt string) (string, error) {
	runner, err := g.runnerFor(id)
	if err != nil {
		return "", err
	}
	return runner.Submit(prompt)
}

// Interrupt cancels the session's in-flight run, if any. Unknown
// sessions fail; idle sessions are a no-op.
func (g *Registry) Interrupt(id string) error {
	runner, err := g.runnerFor(id)
	if err != nil {
		return err
	}
	runner.Interrupt()
	return nil
}

// List returns snapshots of every live session, oldest first.
func (g *Registry) List() []session.Snapshot {
	g.mu.RLock()
	snaps := make([]session.Snapshot, 0, len(g.entries))
	for _, entry := range g.entries {
		snaps = append(snaps, entry.sess.Snapshot())
	}
	g.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CreatedAt.Before(snaps[j].CreatedAt) })
	return snaps
}

// Delete removes a session. Under reject_busy a running session fails
// with session.ErrBusy; under force_interrupt the run is canceled and
// waited out first. A run that misses the teardown grace is abandoned
// and deletion proceeds, so force_interrupt deletes never fail once
// the session exists. The journal is deleted along with the session.
func (g *Registry) Delete(ctx context.Context, id string) error {
	runner, err := g.runnerFor(id)
	if err != nil {
		return err
	}

	if runner.Running() {
		if g.cfg.DeletePolicy == DeleteRejectBusy {
			return fmt.Errorf("%w: %s", session.ErrBusy, id)
		}
		runner.Interrupt()
		waitCtx, cancel := context.WithTimeout(ctx, deleteWait)
		defer cancel()
		if err := runner.WaitIdle(waitCtx); err != nil {
			g.logger.Warn().Str("session_id", id).Err(err).
				Msg("Run did not settle before teardown grace, abandoning it")
		}
	}

	g.mu.Lock()
	delete(g.entries, id)
	count := len(g.entries)
	g.mu.Unlock()

	g.cfg.Bus.CloseSession(id)
	if g.cfg.Store != nil {
		if err := g.cfg.Store.Delete(id); err != nil {
			g.logger.Warn().Str("session_id", id).Err(err).Msg("Failed to delete journal")
		}
	}

	observability.SetActiveSessions(count)
	observability.RecordSessionAudit(ctx, "session_deleted", id, nil)
	g.logger.Info().Str("session_id", id).Msg("Session deleted")
	return nil
}

// Close interrupts every running session and waits for them to settle.
// Sessions and journals stay intact for the next start.
func (g *Registry) Close(ctx context.Context) error {
	g.mu.RLock()
	runners := make([]*TaskRunner, 0, len(g.entries))
	for _, entry := range g.entries {
		runners = append(runners, entry.runner)
	}
	g.mu.RUnlock()

	for _, runner := range runners {
		runner.Interrupt()
	}
	for _, runner := range runners {
		if err := runner.WaitIdle(ctx); err != nil {
			return err
		}
	}
	return nil
}
