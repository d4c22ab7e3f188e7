// Package sandbox confines tool side effects: workspace path
// containment, a command allow/deny policy, and shell execution with
// process-group cancellation and output caps.
//
// Invariants:
// - Every resolved path stays under the workspace root, symlinks included.
// - A command matching both allow and deny patterns is denied.
// - Killing an execution takes its whole process group down.
//
// Usage:
//
//	ws, _ := sandbox.NewWorkspace("/home/me/agent")
//	path, _ := ws.Resolve("notes/plan.md")
//	res, _ := sandbox.Exec(ctx, sandbox.ExecRequest{Command: "ls -la", Dir: ws.Root()})
//	_, _ = path, res
package sandbox
