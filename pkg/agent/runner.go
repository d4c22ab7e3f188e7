package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ayatori-dev/ayatori/internal/observability"
	"github.com/ayatori-dev/ayatori/internal/tracing"
	"github.com/ayatori-dev/ayatori/pkg/bus"
	"github.com/ayatori-dev/ayatori/pkg/session"
	"github.com/ayatori-dev/ayatori/pkg/toolengine"
)

const tracerName = "ayatori.agent"

// RunnerConfig wires one TaskRunner to its session and collaborators.
type RunnerConfig struct {
	Session      *session.Session
	Bus          *bus.Bus
	Engine       *toolengine.Engine
	Store        *session.Store // optional journal
	Logger       zerolog.Logger
	Profiles     *profileSet
	Model        string
	MaxTokens    int
	Temperature  float64
}

// TaskRunner drives the unit of work for one session: accept a
// prompt, call the model, dispatch at most one tool, and publish the
// lifecycle on the bus. One run at a time per session; the Begin
// compare-and-set on the session enforces it.
type TaskRunner struct {
	sess     *session.Session
	bus      *bus.Bus
	engine   *toolengine.Engine
	store    *session.Store
	logger   zerolog.Logger
	profiles *profileSet

	model       string
	maxTokens   int
	temperature float64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTaskRunner creates an idle runner for a session.
func NewTaskRunner(cfg RunnerConfig) (*TaskRunner, error) {
	if cfg.Session == nil {
		return nil, errors.New("session is required")
	}
	if cfg.Bus == nil {
		return nil, errors.New("bus is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("tool engine is required")
	}
	if cfg.Profiles == nil {
		return nil, errors.New("auth profiles are required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &TaskRunner{
		sess:        cfg.Session,
		bus:         cfg.Bus,
		engine:      cfg.Engine,
		store:       cfg.Store,
		logger:      cfg.Logger.With().Str("component", "runner").Str("session_id", cfg.Session.ID()).Logger(),
		profiles:    cfg.Profiles,
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Running reports whether a run is in flight.
func (r *TaskRunner) Running() bool { return r.sess.Running() }

// Submit starts a run for the prompt and returns its run ID without
// waiting for completion. Fails with session.ErrAlreadyRunning while
// a run is in flight. The PromptReceived and StatusChanged events are
// on the bus before Submit returns.
func (r *TaskRunner) Submit(prompt string) (string, error) {
	if prompt == "" {
		return "", errors.New("prompt cannot be empty")
	}
	runID, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}

	if err := r.sess.Begin(runID); err != nil {
		return "", err
	}

	ctx := tracing.NewRequestContext(context.Background())
	ctx = tracing.WithSessionID(ctx, r.sess.ID())
	ctx = tracing.WithRunID(ctx, runID)
	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	userMsg := session.Message{Role: session.RoleUser, Content: prompt, Timestamp: time.Now()}
	r.append(ctx, userMsg)

	running := true
	r.publish(ctx, bus.Event{Type: bus.TypePromptReceived, SessionID: r.sess.ID(), RunID: runID, Message: &userMsg})
	r.publish(ctx, bus.Event{Type: bus.TypeStatusChanged, SessionID: r.sess.ID(), RunID: runID, Running: &running})

	go r.run(ctx, runID)
	return runID, nil
}

// Interrupt cancels the in-flight run, if any. Idle runners ignore it.
// The Interrupted event is published by the run itself, so it appears
// exactly once and in order.
func (r *TaskRunner) Interrupt() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		r.logger.Info().Msg("Interrupting run")
		cancel()
	}
}

// WaitIdle blocks until the current run finishes or ctx is done.
// Returns immediately when the runner is idle.
func (r *TaskRunner) WaitIdle(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the unit of work: one model call, at most one tool dispatch,
// then a terminal event. It owns every mutation of the session while
// in flight.
func (r *TaskRunner) run(ctx context.Context, runID string) {
	start := time.Now()
	status := "completed"

	ctx, span := tracing.StartRunSpan(ctx, tracerName, r.sess.ID(), runID)
	logger := tracing.LoggerFromContext(ctx, r.logger)

	defer func() {
		span.End()
		r.sess.End()

		running := false
		// Terminal events above were published with the run context,
		// which may be canceled by now; teardown uses a fresh one.
		r.publish(context.Background(), bus.Event{
			Type: bus.TypeStatusChanged, SessionID: r.sess.ID(), RunID: runID, Running: &running,
		})
		observability.RecordRun(status, time.Since(start))
		logger.Info().Str("status", status).Dur("duration", time.Since(start)).Msg("Run finished")

		r.mu.Lock()
		r.cancel = nil
		done := r.done
		r.done = nil
		r.mu.Unlock()
		if done != nil {
			close(done)
		}
	}()

	req := ConverseRequest{
		Model:        r.model,
		SystemPrompt: r.sess.SystemPrompt(),
		History:      r.sess.History(),
		Tools:        r.engine.Specs(r.sess.AuthorizedTools()),
		MaxTokens:    r.maxTokens,
		Temperature:  r.temperature,
	}

	turn, err := r.profiles.converse(ctx, req, logger)
	if err != nil {
		if ctx.Err() != nil {
			status = "interrupted"
			r.publishInterrupted(runID)
			return
		}
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.failRun(ctx, runID, fmt.Errorf("model call failed: %w", err))
		return
	}

	if turn.ToolCall == nil {
		reply := session.Message{
			Role:      session.RoleAssistant,
			Content:   turn.Content,
			Timestamp: time.Now(),
			Metadata:  usageMetadata(r.model, turn.Usage),
		}
		r.append(ctx, reply)
		r.publish(ctx, bus.Event{Type: bus.TypeAssistantReply, SessionID: r.sess.ID(), RunID: runID, Message: &reply})
		return
	}

	status = r.runToolCycle(ctx, runID, turn, logger)
}

// runToolCycle records the assistant's tool request, dispatches the
// one tool call, and closes the cycle with an assistant summary.
// Returns the run status for accounting.
func (r *TaskRunner) runToolCycle(ctx context.Context, runID string, turn *Turn, logger zerolog.Logger) string {
	tc := turn.ToolCall

	requestMsg := session.Message{
		Role:      session.RoleAssistant,
		Content:   turn.Content,
		Timestamp: time.Now(),
		Metadata:  metadataForToolCall(*tc),
	}
	r.append(ctx, requestMsg)

	call, err := r.engine.Validate(tc.Name, tc.Args, r.sess.AuthorizedTools())
	if err != nil {
		observability.RecordToolAudit(ctx, tc.Name, r.sess.ID(), "denied", map[string]interface{}{
			"run_id": runID,
			"reason": err.Error(),
		})
		r.failRun(ctx, runID, err)
		return "failed"
	}
	call.CallID = tc.ID
	call.RunID = runID
	trace.SpanFromContext(ctx).SetAttributes(tracing.AttrTool.String(tc.Name))

	r.publish(ctx, bus.Event{
		Type: bus.TypeToolStarted, SessionID: r.sess.ID(), RunID: runID,
		Tool: &bus.ToolInfo{Name: tc.Name, CallID: tc.ID},
	})
	logger.Debug().Str("tool", tc.Name).Msg("Dispatching tool call")

	result, err := r.engine.Execute(ctx, call)
	if err != nil {
		if ctx.Err() != nil {
			r.publishInterrupted(runID)
			return "interrupted"
		}
		observability.RecordToolAudit(ctx, tc.Name, r.sess.ID(), "failure", map[string]interface{}{
			"run_id": runID,
			"reason": err.Error(),
		})
		r.publish(ctx, bus.Event{
			Type: bus.TypeToolEnded, SessionID: r.sess.ID(), RunID: runID,
			Tool: &bus.ToolInfo{Name: tc.Name, CallID: tc.ID, OK: false, Summary: err.Error()},
		})
		r.failRun(ctx, runID, err)
		return "failed"
	}

	observability.RecordToolAudit(ctx, tc.Name, r.sess.ID(), "success", map[string]interface{}{
		"run_id": runID,
	})

	r.publish(ctx, bus.Event{
		Type: bus.TypeToolEnded, SessionID: r.sess.ID(), RunID: runID,
		Tool: &bus.ToolInfo{Name: tc.Name, CallID: tc.ID, OK: true, Summary: result.Summary, Fields: result.Fields},
	})

	toolMsg := session.Message{
		Role:      session.RoleTool,
		Content:   encodeResult(result),
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"tool":         tc.Name,
			"tool_call_id": tc.ID,
			"truncated":    result.Truncated,
		},
	}
	r.append(ctx, toolMsg)

	closing := session.Message{
		Role:      session.RoleAssistant,
		Content:   result.Summary,
		Timestamp: time.Now(),
		Metadata:  map[string]any{"tool": tc.Name},
	}
	r.append(ctx, closing)
	r.publish(ctx, bus.Event{Type: bus.TypeAssistantReply, SessionID: r.sess.ID(), RunID: runID, Message: &closing})
	return "completed"
}

// failRun records the failure as an error message and publishes the
// terminal ErrorOccurred event.
func (r *TaskRunner) failRun(ctx context.Context, runID string, cause error) {
	errMsg := session.Message{
		Role:      session.RoleError,
		Content:   cause.Error(),
		Timestamp: time.Now(),
	}
	r.append(ctx, errMsg)
	r.publish(ctx, bus.Event{
		Type: bus.TypeErrorOccurred, SessionID: r.sess.ID(), RunID: runID,
		Message: &errMsg, Error: cause.Error(),
	})
}

func (r *TaskRunner) publishInterrupted(runID string) {
	// The run context is canceled here; publish on a fresh one so the
	// terminal event still gets out under the block policy.
	r.publish(context.Background(), bus.Event{
		Type: bus.TypeInterrupted, SessionID: r.sess.ID(), RunID: runID,
	})
}

func (r *TaskRunner) append(ctx context.Context, msg session.Message) {
	r.sess.Append(msg)
	if r.store == nil {
		return
	}
	if err := r.store.Append(r.sess.ID(), msg); err != nil {
		logger := tracing.LoggerFromContext(ctx, r.logger)
		logger.Warn().Err(err).Msg("Failed to journal message")
	}
}

func (r *TaskRunner) publish(ctx context.Context, ev bus.Event) {
	if err := r.bus.Publish(ctx, ev); err != nil && !errors.Is(err, bus.ErrClosed) {
		r.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to publish event")
	}
}

func encodeResult(result toolengine.Result) string {
	encoded, err := json.Marshal(result)
	if err != nil {
		return result.Summary
	}
	return string(encoded)
}

func usageMetadata(model string, usage *TokenUsage) map[string]any {
	md := map[string]any{"model": model}
	if usage != nil {
		md["usage"] = map[string]any{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
		}
	}
	return md
}
