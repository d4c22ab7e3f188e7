// Package agent runs prompts against model providers and drives the
// per-session task lifecycle.
//
// Invariants:
// - One run per session; Submit fails fast while a run is in flight.
// - A prompt cycle dispatches at most one tool call.
// - Every run ends with exactly one terminal event on the bus.
// - Provider failover state is shared across all sessions.
//
// Usage:
//
//	reg, _ := agent.NewRegistry(agent.RegistryConfig{Bus: b, Engine: eng, Profiles: profiles, Model: "claude-sonnet-4-20250514"})
//	sess, _ := reg.Create(session.Options{Name: "default"})
//	runID, _ := reg.Submit(sess.ID(), "list the workspace")
//	_ = runID
package agent
