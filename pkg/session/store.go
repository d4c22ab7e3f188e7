package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayatori-dev/ayatori/internal/observability"
)

// Store persists session histories as JSON Lines journals, one file
// per session under dir. Appends are serialized per session so
// concurrent sessions never contend on one lock.
type Store struct {
	dir    string
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With().Str("component", "session_store").Logger(),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (st *Store) lockFor(sessionID string) *sync.Mutex {
	st.mu.Lock()
	defer st.mu.Unlock()
	l, ok := st.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		st.locks[sessionID] = l
	}
	return l
}

func (st *Store) path(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, "/\\") {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(st.dir, sessionID+".jsonl"), nil
}

// Append writes one message to the session's journal.
func (st *Store) Append(sessionID string, msg Message) error {
	start := time.Now()
	path, err := st.path(sessionID)
	if err != nil {
		return err
	}

	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	l := st.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	observability.RecordHistorySave(time.Since(start))
	return nil
}

// Load reads a session's history. Corrupt lines are skipped with a
// warning so one bad write does not take the whole session down.
func (st *Store) Load(sessionID string) ([]Message, error) {
	start := time.Now()
	path, err := st.path(sessionID)
	if err != nil {
		return nil, err
	}

	l := st.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var msgs []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			st.logger.Warn().
				Str("session_id", sessionID).
				Int("line", lineNo).
				Err(err).
				Msg("Skipping corrupt journal line")
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	observability.RecordHistoryLoad(time.Since(start))
	return msgs, nil
}

// Delete removes a session's journal. Missing journals are not an error.
func (st *Store) Delete(sessionID string) error {
	path, err := st.path(sessionID)
	if err != nil {
		return err
	}

	l := st.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove journal: %w", err)
	}

	st.mu.Lock()
	delete(st.locks, sessionID)
	st.mu.Unlock()
	return nil
}

// List returns the session IDs that have a journal on disk.
func (st *Store) List() ([]string, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".jsonl"))
	}
	return ids, nil
}

// Repair rewrites a journal keeping only parseable lines and reports
// how many lines were dropped.
func (st *Store) Repair(sessionID string) (int, error) {
	path, err := st.path(sessionID)
	if err != nil {
		return 0, err
	}

	l := st.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read journal: %w", err)
	}

	var kept []string
	dropped := 0
	for _, raw := range strings.Split(string(data), "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			dropped++
			continue
		}
		kept = append(kept, raw)
	}
	if dropped == 0 {
		return 0, nil
	}

	out := strings.Join(kept, "\n")
	if out != "" {
		out += "\n"
	}
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		return 0, fmt.Errorf("rewrite journal: %w", err)
	}
	st.logger.Info().
		Str("session_id", sessionID).
		Int("dropped", dropped).
		Msg("Repaired session journal")
	return dropped, nil
}
