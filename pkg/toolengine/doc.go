// Package toolengine validates and executes tool calls requested by
// model turns.
//
// Invariants:
// - Validation faults carry no side effect; nothing ran.
// - Every execution is bounded by the engine timeout.
// - Schemas are compiled once at registration.
//
// Usage:
//
//	eng := toolengine.New(toolengine.Options{}, log.Logger)
//	_ = eng.Register(coretools.NewFileReadTool(ws))
//	call, err := eng.Validate("fs_read", map[string]any{"path": "notes.md"}, allowlist)
//	if err == nil {
//		result, _ := eng.Execute(ctx, call)
//		_ = result
//	}
package toolengine
