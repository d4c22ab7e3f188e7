// Package session holds per-session conversation state and its JSONL journal.
//
// Invariants:
// - History is append-only; a Session never rewrites past messages.
// - Begin is the single compare-and-set guarding one run per session.
// - Journal appends for the same session are serialized.
//
// Usage:
//
//	sess := session.New(session.Options{Name: "default"})
//	store, _ := session.NewStore("/tmp/ayatori/sessions", log.Logger)
//	_ = store.Append(sess.ID(), session.Message{Role: session.RoleUser, Content: "hello"})
//	history, _ := store.Load(sess.ID())
//	_ = history
package session
