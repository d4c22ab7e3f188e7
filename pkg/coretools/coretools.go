// Package coretools provides the built-in filesystem and shell tools.
// Every tool runs against a sandbox workspace; none reaches outside it.
package coretools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ayatori-dev/ayatori/pkg/sandbox"
	"github.com/ayatori-dev/ayatori/pkg/toolengine"
)

// DefaultReadBytes caps fs_read output unless the caller asks for less.
const DefaultReadBytes = 65536

// Options wires the sandbox surfaces the core tools run against.
type Options struct {
	Workspace      *sandbox.Workspace
	CommandPolicy  *sandbox.CommandPolicy
	MaxOutputBytes int
	ShellTimeout   time.Duration
}

// Register adds the core tool set to the engine.
func Register(engine *toolengine.Engine, opts Options) error {
	if engine == nil {
		return errors.New("tool engine is required")
	}
	if opts.Workspace == nil {
		return errors.New("workspace is required")
	}

	tools := []toolengine.Tool{
		NewFileReadTool(opts.Workspace),
		NewFileWriteTool(opts.Workspace),
		NewShellRunTool(opts),
	}
	for _, tool := range tools {
		if err := engine.Register(tool); err != nil {
			return fmt.Errorf("register tool %s: %w", tool.Spec.Name, err)
		}
	}
	return nil
}

// NewFileReadTool reads a file inside the workspace, capped at a byte
// budget. Oversized files come back truncated, flagged, not failed.
func NewFileReadTool(ws *sandbox.Workspace) toolengine.Tool {
	return toolengine.Tool{
		Spec: toolengine.Spec{
			Name:        "fs_read",
			Description: "Read a file from the workspace. Large files are truncated to the byte budget.",
			Parameters: []toolengine.Param{
				{Name: "path", Type: "string", Description: "File path relative to the workspace root", Required: true},
				{Name: "bytes", Type: "integer", Description: "Maximum bytes to read", Default: DefaultReadBytes},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (toolengine.Result, error) {
			path, _ := args["path"].(string)
			budget := intArg(args["bytes"], DefaultReadBytes)
			if budget <= 0 || budget > DefaultReadBytes {
				budget = DefaultReadBytes
			}

			resolved, err := ws.Resolve(path)
			if err != nil {
				return toolengine.Result{}, err
			}

			f, err := os.Open(resolved)
			if err != nil {
				return toolengine.Result{}, fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return toolengine.Result{}, fmt.Errorf("stat %s: %w", path, err)
			}
			if info.IsDir() {
				return toolengine.Result{}, fmt.Errorf("%s is a directory", path)
			}

			content, err := io.ReadAll(io.LimitReader(f, int64(budget)))
			if err != nil {
				return toolengine.Result{}, fmt.Errorf("read %s: %w", path, err)
			}
			truncated := info.Size() > int64(len(content))

			return toolengine.Result{
				Summary:   fmt.Sprintf("Read %d bytes from %s", len(content), path),
				Truncated: truncated,
				Fields: map[string]any{
					"path":      path,
					"content":   string(content),
					"size":      info.Size(),
					"truncated": truncated,
				},
			}, nil
		},
	}
}

// NewFileWriteTool creates or overwrites a file inside the workspace.
// Marked dangerous: it mutates state the user may care about.
func NewFileWriteTool(ws *sandbox.Workspace) toolengine.Tool {
	return toolengine.Tool{
		Spec: toolengine.Spec{
			Name:        "fs_write",
			Description: "Write a file in the workspace. Mode create fails if the file exists; overwrite replaces it.",
			Dangerous:   true,
			Parameters: []toolengine.Param{
				{Name: "path", Type: "string", Description: "File path relative to the workspace root", Required: true},
				{Name: "content", Type: "string", Description: "Full file content to write", Required: true},
				{Name: "mode", Type: "string", Description: "Either create or overwrite", Default: "create"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (toolengine.Result, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			mode, _ := args["mode"].(string)
			if mode != "create" && mode != "overwrite" {
				return toolengine.Result{}, fmt.Errorf("invalid mode %q", mode)
			}

			resolved, err := ws.Resolve(path)
			if err != nil {
				return toolengine.Result{}, err
			}

			if mode == "create" {
				if _, err := os.Stat(resolved); err == nil {
					return toolengine.Result{}, fmt.Errorf("%s already exists", path)
				}
			}
			if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
				return toolengine.Result{}, fmt.Errorf("create parent dirs for %s: %w", path, err)
			}
			if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
				return toolengine.Result{}, fmt.Errorf("write %s: %w", path, err)
			}

			return toolengine.Result{
				Summary: fmt.Sprintf("Wrote %d bytes to %s", len(content), path),
				Fields: map[string]any{
					"path":  path,
					"bytes": len(content),
					"mode":  mode,
				},
			}, nil
		},
	}
}

// NewShellRunTool executes a command line in the workspace under the
// command policy and output caps.
func NewShellRunTool(opts Options) toolengine.Tool {
	policy := opts.CommandPolicy
	if policy == nil {
		policy = sandbox.NewCommandPolicy(nil, nil)
	}
	maxOut := opts.MaxOutputBytes
	if maxOut <= 0 {
		maxOut = sandbox.DefaultMaxOutputBytes
	}
	timeout := opts.ShellTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return toolengine.Tool{
		Spec: toolengine.Spec{
			Name:        "shell_run",
			Description: "Run a shell command in the workspace. Output is captured with stdout and stderr capped.",
			Dangerous:   true,
			Parameters: []toolengine.Param{
				{Name: "cmd", Type: "string", Description: "Command line to execute", Required: true},
				{Name: "timeout_s", Type: "integer", Description: "Timeout in seconds", Default: 0},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (toolengine.Result, error) {
			cmdline, _ := args["cmd"].(string)
			if err := policy.Check(cmdline); err != nil {
				return toolengine.Result{}, err
			}

			effTimeout := timeout
			if s := intArg(args["timeout_s"], 0); s > 0 {
				effTimeout = time.Duration(s) * time.Second
			}

			res, err := sandbox.Exec(ctx, sandbox.ExecRequest{
				Command:        cmdline,
				Dir:            opts.Workspace.Root(),
				Timeout:        effTimeout,
				MaxOutputBytes: maxOut,
			})
			if err != nil {
				return toolengine.Result{}, err
			}

			return toolengine.Result{
				Summary:   fmt.Sprintf("Command exited with code %d", res.ExitCode),
				Truncated: res.Truncated,
				Fields: map[string]any{
					"stdout":    res.Stdout,
					"stderr":    res.Stderr,
					"exit_code": res.ExitCode,
					"truncated": res.Truncated,
				},
			}, nil
		},
	}
}

// intArg tolerates the numeric types JSON decoding and schema
// defaults produce.
func intArg(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}
