package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the referenced session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyRunning indicates a run is in flight for the session.
	ErrAlreadyRunning = errors.New("session already has a running task")
	// ErrBusy indicates the session cannot be removed while running.
	ErrBusy = errors.New("session is busy")
)

// Role classifies who produced a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleError     Role = "error"
)

// Message is a single immutable entry in a session's conversation history.
type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Options configures a new session.
type Options struct {
	ID              string
	Name            string
	SystemPrompt    string
	AuthorizedTools []string
}

// Session holds the conversation state for one independent agent context.
// History is append-only; mutation happens through the owning runner.
type Session struct {
	id              string
	name            string
	systemPrompt    string
	authorizedTools []string
	createdAt       time.Time

	mu           sync.RWMutex
	messages     []Message
	running      bool
	currentRunID string
	lastActive   time.Time
}

// New creates a session. A missing ID is generated.
func New(opts Options) *Session {
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()
	return &Session{
		id:              id,
		name:            opts.Name,
		systemPrompt:    opts.SystemPrompt,
		authorizedTools: append([]string(nil), opts.AuthorizedTools...),
		createdAt:       now,
		lastActive:      now,
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Name() string         { return s.name }
func (s *Session) SystemPrompt() string { return s.systemPrompt }

// AuthorizedTools returns a copy of the tool allowlist for this session.
func (s *Session) AuthorizedTools() []string {
	return append([]string(nil), s.authorizedTools...)
}

// Running reports whether a run is currently in flight.
func (s *Session) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// CurrentRunID returns the run identifier while a run is in flight,
// or empty when idle.
func (s *Session) CurrentRunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRunID
}

// Begin transitions the session to running. It fails with
// ErrAlreadyRunning when a run is already in flight, so concurrent
// submitters race on a single compare-and-set.
func (s *Session) Begin(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.currentRunID = runID
	s.lastActive = time.Now()
	return nil
}

// End transitions the session back to idle.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.currentRunID = ""
	s.lastActive = time.Now()
}

// Append adds a message to the history.
func (s *Session) Append(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	s.lastActive = time.Now()
}

// Restore replaces the history wholesale. Used when rehydrating a
// session from its journal; not valid while running.
func (s *Session) Restore(msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrBusy
	}
	s.messages = append([]Message(nil), msgs...)
	return nil
}

// History returns a copy of the conversation so far.
func (s *Session) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages...)
}

// Snapshot is a read-only view of session state at a point in time.
type Snapshot struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Running      bool      `json:"running"`
	CurrentRunID string    `json:"current_run_id,omitempty"`
	Messages     int       `json:"messages"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
}

// Snapshot captures the current state without exposing internals.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:           s.id,
		Name:         s.name,
		Running:      s.running,
		CurrentRunID: s.currentRunID,
		Messages:     len(s.messages),
		CreatedAt:    s.createdAt,
		LastActive:   s.lastActive,
	}
}
