package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxCallRetries = 3
	cooldownStep   = time.Minute
)

// profileSet holds the shared auth profiles and their failover state.
// All runners created by one registry share a set, so a provider that
// melts down cools off for every session at once.
type profileSet struct {
	factory ProviderCreator

	mu       sync.Mutex
	profiles []Profile
}

func newProfileSet(profiles []Profile, factory ProviderCreator) *profileSet {
	if factory == nil {
		factory = &ProviderFactory{}
	}
	return &profileSet{
		factory:  factory,
		profiles: append([]Profile(nil), profiles...),
	}
}

// converse tries profiles in priority order, skipping any in cooldown,
// until one call succeeds. Transient errors retry with backoff before
// the next profile is tried; permanent errors fail immediately.
func (ps *profileSet) converse(ctx context.Context, req ConverseRequest, logger zerolog.Logger) (*Turn, error) {
	ps.mu.Lock()
	profiles := append([]Profile(nil), ps.profiles...)
	ps.mu.Unlock()

	sort.SliceStable(profiles, func(i, j int) bool { return profiles[i].Priority < profiles[j].Priority })

	var lastErr error
	for _, profile := range profiles {
		if profile.CooldownUntil != nil && time.Now().UnixMilli() < *profile.CooldownUntil {
			logger.Debug().Str("profile_id", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}

		provider, err := ps.factory.NewProvider(profile)
		if err != nil {
			logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Failed to create provider")
			lastErr = err
			continue
		}

		callReq := req
		if profile.Model != "" {
			callReq.Model = profile.Model
		}

		turn, err := callWithRetry(ctx, provider, callReq, logger)
		if err == nil {
			ps.markSuccess(profile.ID)
			return turn, nil
		}
		lastErr = err
		ps.markFailure(profile.ID)
		logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Auth profile failed")

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsRetryableError(err) {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no usable auth profile")
	}
	return nil, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

func callWithRetry(ctx context.Context, provider Provider, req ConverseRequest, logger zerolog.Logger) (*Turn, error) {
	var lastErr error
	for attempt := 0; attempt < maxCallRetries; attempt++ {
		turn, err := provider.Converse(ctx, req)
		if err == nil {
			return turn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsRetryableError(err) {
			return nil, err
		}
		if attempt == maxCallRetries-1 {
			break
		}

		// Backoff 1s, 2s, 4s.
		delay := time.Duration(1<<attempt) * time.Second
		logger.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("Retrying after provider error")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("max retries (%d) exceeded: %w", maxCallRetries, lastErr)
}

func (ps *profileSet) markSuccess(profileID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for i := range ps.profiles {
		if ps.profiles[i].ID == profileID {
			ps.profiles[i].FailureCount = 0
			ps.profiles[i].CooldownUntil = nil
			return
		}
	}
}

func (ps *profileSet) markFailure(profileID string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for i := range ps.profiles {
		if ps.profiles[i].ID == profileID {
			ps.profiles[i].FailureCount++
			until := time.Now().Add(time.Duration(ps.profiles[i].FailureCount) * cooldownStep).UnixMilli()
			ps.profiles[i].CooldownUntil = &until
			return
		}
	}
}
