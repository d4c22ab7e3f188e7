package sandbox

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// CommandPolicy gates which programs shell tools may launch. Patterns
// match the program name, its base name, or the "program subcommand"
// pair, with path.Match globs. A command on both lists is denied.
// Pattern lists can be swapped at runtime via Update, so a config
// reload reaches tools already holding the policy.
type CommandPolicy struct {
	mu    sync.RWMutex
	allow []string
	deny  []string
}

// NewCommandPolicy builds a policy. An empty allow list permits any
// command not denied.
func NewCommandPolicy(allow, deny []string) *CommandPolicy {
	return &CommandPolicy{
		allow: append([]string(nil), allow...),
		deny:  append([]string(nil), deny...),
	}
}

// Update replaces both pattern lists atomically.
func (p *CommandPolicy) Update(allow, deny []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allow = append([]string(nil), allow...)
	p.deny = append([]string(nil), deny...)
}

// Check validates a command line against the policy. Deny patterns
// win over allow patterns.
func (p *CommandPolicy) Check(cmdline string) error {
	tokens := strings.Fields(cmdline)
	if len(tokens) == 0 {
		return ErrEmptyCommand
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	candidates := []string{tokens[0], filepath.Base(tokens[0])}
	if len(tokens) > 1 {
		candidates = append(candidates, filepath.Base(tokens[0])+" "+tokens[1])
	}

	for _, pattern := range p.deny {
		if matchesAny(pattern, candidates) {
			return fmt.Errorf("%w: %s", ErrCommandDenied, tokens[0])
		}
	}

	if len(p.allow) == 0 {
		return nil
	}
	for _, pattern := range p.allow {
		if matchesAny(pattern, candidates) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrCommandNotAllowed, tokens[0])
}

func matchesAny(pattern string, candidates []string) bool {
	for _, c := range candidates {
		if pattern == c {
			return true
		}
		if ok, err := path.Match(pattern, c); err == nil && ok {
			return true
		}
	}
	return false
}
