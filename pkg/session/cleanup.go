package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Cleaner prunes session journals that have been idle longer than the
// retention window. Runs receive their pace from an internal ticker.
type Cleaner struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	logger    zerolog.Logger
	skip      func(sessionID string) bool
}

// NewCleaner builds a cleaner over the store. skip may be nil; when
// set, journals for which it returns true are never pruned (typically
// sessions still registered in memory).
func NewCleaner(store *Store, retention, interval time.Duration, skip func(string) bool, logger zerolog.Logger) *Cleaner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Cleaner{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger.With().Str("component", "session_cleaner").Logger(),
		skip:      skip,
	}
}

// Run blocks until ctx is done, pruning on each tick. A retention of
// zero disables pruning entirely.
func (c *Cleaner) Run(ctx context.Context) {
	if c.retention <= 0 {
		c.logger.Debug().Msg("Session retention disabled")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := c.Sweep(); err != nil {
				c.logger.Warn().Err(err).Msg("Session sweep failed")
			} else if n > 0 {
				c.logger.Info().Int("pruned", n).Msg("Pruned expired session journals")
			}
		}
	}
}

// Sweep removes expired journals once and returns how many were pruned.
func (c *Cleaner) Sweep() (int, error) {
	entries, err := os.ReadDir(c.store.dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-c.retention)
	pruned := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".jsonl")
		if c.skip != nil && c.skip(id) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(c.store.dir, e.Name())); err != nil {
			c.logger.Warn().Str("session_id", id).Err(err).Msg("Failed to prune journal")
			continue
		}
		pruned++
	}
	return pruned, nil
}
