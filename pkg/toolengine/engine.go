package toolengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ayatori-dev/ayatori/internal/observability"
	"github.com/ayatori-dev/ayatori/pkg/sandbox"
)

// DefaultTimeout bounds a single tool execution unless overridden.
const DefaultTimeout = 60 * time.Second

var validParamTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

// ValidatedCall is a tool invocation that passed validation and is
// safe to execute.
type ValidatedCall struct {
	CallID string
	RunID  string
	tool   *Tool
	args   map[string]any
}

// Tool returns the name of the validated tool.
func (c *ValidatedCall) Tool() string { return c.tool.Spec.Name }

// Args returns the default-filled argument map.
func (c *ValidatedCall) Args() map[string]any { return c.args }

// Options configures an Engine.
type Options struct {
	Timeout time.Duration
}

// Engine validates and executes tool calls. Registration happens at
// startup; Validate and Execute are safe for concurrent use.
type Engine struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.RWMutex
	tools   map[string]*Tool
	schemas map[string]*gojsonschema.Schema
}

// New creates an empty engine.
func New(opts Options, logger zerolog.Logger) *Engine {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		timeout: timeout,
		logger:  logger.With().Str("component", "toolengine").Logger(),
		tools:   make(map[string]*Tool),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool. The spec is validated and its JSON Schema
// compiled once here so Validate never pays compilation cost.
func (e *Engine) Register(tool Tool) error {
	if err := validateSpec(tool); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.Spec.InputSchema()))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", tool.Spec.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.tools[tool.Spec.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Spec.Name)
	}
	e.tools[tool.Spec.Name] = &tool
	e.schemas[tool.Spec.Name] = schema

	e.logger.Info().Str("tool", tool.Spec.Name).Bool("dangerous", tool.Spec.Dangerous).Msg("Tool registered")
	return nil
}

func validateSpec(tool Tool) error {
	if tool.Spec.Name == "" {
		return errors.New("tool name cannot be empty")
	}
	if tool.Spec.Description == "" {
		return errors.New("tool description cannot be empty")
	}
	if tool.Handler == nil {
		return errors.New("tool handler cannot be nil")
	}
	for _, param := range tool.Spec.Parameters {
		if param.Name == "" {
			return errors.New("parameter name cannot be empty")
		}
		if !validParamTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}
	return nil
}

// List returns registered tool names, sorted.
func (e *Engine) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the specs of tools on the allowlist, sorted by name.
// A nil allowlist exposes every registered tool.
func (e *Engine) Specs(allowlist []string) []Spec {
	var allowed map[string]bool
	if allowlist != nil {
		allowed = make(map[string]bool, len(allowlist))
		for _, name := range allowlist {
			allowed[name] = true
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	specs := make([]Spec, 0, len(e.tools))
	for name, tool := range e.tools {
		if allowed != nil && !allowed[name] {
			continue
		}
		specs = append(specs, tool.Spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Validate checks a requested call against registration, the session
// allowlist, and the tool's schema, in that order. Defaults for
// omitted optional parameters are filled in on success. Any failure
// returns a ValidationFault and guarantees no side effect happened.
func (e *Engine) Validate(name string, args map[string]any, allowlist []string) (*ValidatedCall, error) {
	e.mu.RLock()
	tool := e.tools[name]
	schema := e.schemas[name]
	e.mu.RUnlock()

	if tool == nil {
		return nil, &ValidationFault{Code: FaultUnknownTool, Tool: name, Detail: "no such tool registered"}
	}

	// A nil allowlist authorizes any non-dangerous tool. Dangerous
	// tools always need an allowlist entry.
	if allowlist != nil || tool.Spec.Dangerous {
		authorized := false
		for _, allowed := range allowlist {
			if allowed == name || allowed == "*" {
				authorized = true
				break
			}
		}
		if !authorized {
			detail := "tool not authorized for this session"
			if tool.Spec.Dangerous && allowlist == nil {
				detail = "dangerous tool requires explicit authorization"
			}
			return nil, &ValidationFault{Code: FaultNotAuthorized, Tool: name, Detail: detail}
		}
	}

	if args == nil {
		args = map[string]any{}
	}
	outcome, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return nil, &ValidationFault{Code: FaultSchemaViolation, Tool: name, Detail: err.Error()}
	}
	if !outcome.Valid() {
		detail := ""
		for i, desc := range outcome.Errors() {
			if i > 0 {
				detail += "; "
			}
			detail += desc.String()
		}
		return nil, &ValidationFault{Code: FaultSchemaViolation, Tool: name, Detail: detail}
	}

	filled := make(map[string]any, len(args))
	for k, v := range args {
		filled[k] = v
	}
	for _, param := range tool.Spec.Parameters {
		if _, present := filled[param.Name]; !present && param.Default != nil {
			filled[param.Name] = param.Default
		}
	}

	return &ValidatedCall{tool: tool, args: filled}, nil
}

// Execute runs a validated call under the engine timeout. Timeouts
// and handler failures come back as an ExecutionFault; handlers that
// already return one keep their fault code.
func (e *Engine) Execute(ctx context.Context, call *ValidatedCall) (Result, error) {
	name := call.tool.Spec.Name
	start := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resultCh := make(chan Result, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := call.tool.Handler(execCtx, call.args)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	select {
	case result := <-resultCh:
		duration := time.Since(start)
		observability.RecordToolExecution(name, duration, true)
		e.logger.Debug().
			Str("tool", name).
			Dur("duration", duration).
			Bool("truncated", result.Truncated).
			Msg("Tool execution completed")
		result.OK = true
		return result, nil

	case err := <-errCh:
		duration := time.Since(start)
		observability.RecordToolExecution(name, duration, false)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			e.logger.Warn().Str("tool", name).Dur("duration", duration).Msg("Tool execution timed out")
			return Result{}, &ExecutionFault{
				Code:   FaultTimeout,
				Tool:   name,
				Detail: fmt.Sprintf("execution exceeded %s", e.timeout),
			}
		}
		fault := classifyHandlerError(name, err)
		e.logger.Warn().
			Str("tool", name).
			Str("fault", string(fault.Code)).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")
		return Result{}, fault

	case <-execCtx.Done():
		duration := time.Since(start)
		observability.RecordToolExecution(name, duration, false)
		if ctx.Err() != nil {
			// The run itself was canceled, not the tool budget.
			return Result{}, ctx.Err()
		}
		e.logger.Warn().Str("tool", name).Dur("duration", duration).Msg("Tool execution timed out")
		return Result{}, &ExecutionFault{
			Code:   FaultTimeout,
			Tool:   name,
			Detail: fmt.Sprintf("execution exceeded %s", e.timeout),
		}
	}
}

func classifyHandlerError(name string, err error) *ExecutionFault {
	var fault *ExecutionFault
	if errors.As(err, &fault) {
		return fault
	}
	code := FaultProcessFailed
	switch {
	case errors.Is(err, sandbox.ErrPathEscape):
		code = FaultPathEscape
	case errors.Is(err, sandbox.ErrExecutionTimeout):
		code = FaultTimeout
	}
	return &ExecutionFault{Code: code, Tool: name, Detail: err.Error(), Err: err}
}
