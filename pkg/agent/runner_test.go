package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayatori-dev/ayatori/pkg/bus"
	"github.com/ayatori-dev/ayatori/pkg/session"
	"github.com/ayatori-dev/ayatori/pkg/toolengine"
)

type fakeProvider struct {
	name string
	fn   func(ctx context.Context, req ConverseRequest) (*Turn, error)
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Converse(ctx context.Context, req ConverseRequest) (*Turn, error) {
	return p.fn(ctx, req)
}

type fakeFactory struct {
	providers map[string]Provider
}

func (f *fakeFactory) NewProvider(profile Profile) (Provider, error) {
	provider, ok := f.providers[profile.ID]
	if !ok {
		return nil, errors.New("unknown profile")
	}
	return provider, nil
}

func singleProviderSet(fn func(ctx context.Context, req ConverseRequest) (*Turn, error)) *profileSet {
	factory := &fakeFactory{providers: map[string]Provider{
		"p1": &fakeProvider{name: "fake", fn: fn},
	}}
	return newProfileSet([]Profile{{ID: "p1", Provider: "fake", Priority: 0}}, factory)
}

type runnerFixture struct {
	runner *TaskRunner
	sess   *session.Session
	bus    *bus.Bus
	sub    *bus.Subscription
}

func newRunnerFixture(t *testing.T, profiles *profileSet, tools []toolengine.Tool, authorized []string) *runnerFixture {
	t.Helper()

	b := bus.New(bus.Options{BufferSize: 128}, zerolog.Nop())
	t.Cleanup(b.Close)

	eng := toolengine.New(toolengine.Options{Timeout: 5 * time.Second}, zerolog.Nop())
	for _, tool := range tools {
		require.NoError(t, eng.Register(tool))
	}

	sess := session.New(session.Options{Name: "test", AuthorizedTools: authorized})
	sub, err := b.Subscribe(sess.ID())
	require.NoError(t, err)

	runner, err := NewTaskRunner(RunnerConfig{
		Session:  sess,
		Bus:      b,
		Engine:   eng,
		Logger:   zerolog.Nop(),
		Profiles: profiles,
		Model:    "test-model",
	})
	require.NoError(t, err)

	return &runnerFixture{runner: runner, sess: sess, bus: b, sub: sub}
}

func (f *runnerFixture) nextEvent(t *testing.T) bus.Event {
	t.Helper()
	select {
	case ev := <-f.sub.C:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return bus.Event{}
	}
}

func (f *runnerFixture) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.runner.WaitIdle(ctx))
}

func TestTaskRunner_PlainReply(t *testing.T) {
	profiles := singleProviderSet(func(ctx context.Context, req ConverseRequest) (*Turn, error) {
		return &Turn{Content: "hello back", Usage: &TokenUsage{InputTokens: 10, OutputTokens: 5}}, nil
	})
	f := newRunnerFixture(t, profiles, nil, nil)

	runID, err := f.runner.Submit("hello")
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	f.waitIdle(t)

	ev := f.nextEvent(t)
	assert.Equal(t, bus.TypePromptReceived, ev.Type)
	assert.Equal(t, runID, ev.RunID)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "hello", ev.Message.Content)

	ev = f.nextEvent(t)
	assert.Equal(t, bus.TypeStatusChanged, ev.Type)
	require.NotNil(t, ev.Running)
	assert.True(t, *ev.Running)

	ev = f.nextEvent(t)
	assert.Equal(t, bus.TypeAssistantReply, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "hello back", ev.Message.Content)

	ev = f.nextEvent(t)
	assert.Equal(t, bus.TypeStatusChanged, ev.Type)
	require.NotNil(t, ev.Running)
	assert.False(t, *ev.Running)

	history := f.sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, session.RoleUser, history[0].Role)
	assert.Equal(t, session.RoleAssistant, history[1].Role)
	assert.False(t, f.sess.Running())
}

func TestTaskRunner_RejectsConcurrentSubmit(t *testing.T) {
	release := make(chan struct{})
	profiles := singleProviderSet(func(ctx context.Context, req ConverseRequest) (*Turn, error) {
		<-release
		return &Turn{Content: "done"}, nil
	})
	f := newRunnerFixture(t, profiles, nil, nil)

	_, err := f.runner.Submit("first")
	require.NoError(t, err)

	_, err = f.runner.Submit("second")
	assert.ErrorIs(t, err, session.ErrAlreadyRunning)

	close(release)
	f.waitIdle(t)

	_, err = f.runner.Submit("third")
	assert.NoError(t, err)
	f.waitIdle(t)
}

func TestTaskRunner_ToolCycle(t *testing.T) {
	calls := 0
	profiles := singleProviderSet(func(ctx context.Context, req ConverseRequest) (*Turn, error) {
		calls++
		return &Turn{
			Content:  "let me check",
			ToolCall: &ToolCallRequest{ID: "tc-1", Name: "echo", Args: map[string]any{"text": "hi"}},
		}, nil
	})
	echo := toolengine.Tool{
		Spec: toolengine.Spec{
			Name:        "echo",
			Description: "Echoes text",
			Parameters: []toolengine.Param{
				{Name: "text", Type: "string", Description: "Text", Required: true},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (toolengine.Result, error) {
			return toolengine.Result{Summary: "echoed " + args["text"].(string)}, nil
		},
	}
	f := newRunnerFixture(t, profiles, []toolengine.Tool{echo}, []string{"echo"})

	runID, err := f.runner.Submit("run the tool")
	require.NoError(t, err)
	f.waitIdle(t)

	assert.Equal(t, 1, calls, "tool cycle makes exactly one model call")

	assert.Equal(t, bus.TypePromptReceived, f.nextEvent(t).Type)
	assert.Equal(t, bus.TypeStatusChanged, f.nextEvent(t).Type)

	ev := f.nextEvent(t)
	assert.Equal(t, bus.TypeToolStarted, ev.Type)
	require.NotNil(t, ev.Tool)
	assert.Equal(t, "echo", ev.Tool.Name)
	assert.Equal(t, "tc-1", ev.Tool.CallID)

	ev = f.nextEvent(t)
	assert.Equal(t, bus.TypeToolEnded, ev.Type)
	require.NotNil(t, ev.Tool)
	assert.True(t, ev.Tool.OK)
	assert.Equal(t, "echoed hi", ev.Tool.Summary)

	ev = f.nextEvent(t)
	assert.Equal(t, bus.TypeAssistantReply, ev.Type)
	assert.Equal(t, runID, ev.RunID)

	assert.Equal(t, bus.TypeStatusChanged, f.nextEvent(t).Type)

	// History: user, assistant tool request, tool result, closing assistant.
	history := f.sess.History()
	require.Len(t, history, 4)
	assert.Equal(t, session.RoleAssistant, history[1].Role)
	assert.NotNil(t, toolCallFromMetadata(history[1].Metadata))
	assert.Equal(t, session.RoleTool, history[2].Role)
	assert.Equal(t, "tc-1", history[2].Metadata["tool_call_id"])
	assert.Equal(t, session.RoleAssistant, history[3].Role)
}

func TestTaskRunner_UnauthorizedTool(t *testing.T) {
	profiles := singleProviderSet(func(ctx context.Context, req ConverseRequest) (*Turn, error) {
		return &Turn{ToolCall: &ToolCallRequest{ID: "tc-1", Name: "echo", Args: map[string]any{"text": "hi"}}}, nil
	})
	echo := toolengine.Tool{
		Spec: toolengine.Spec{
			Name: "echo", Description: "Echoes text",
			Parameters: []toolengine.Param{{Name: "text", Type: "string", Description: "Text", Required: true}},
		},
		Handler: func(ctx context.Context, args map[string]any) (toolengine.Result, error) {
			t.Fatal("handler must not run for an unauthorized tool")
			return toolengine.Result{}, nil
		},
	}
	f := newRunnerFixture(t, profiles, []toolengine.Tool{echo}, []string{"other_tool"})

	_, err := f.runner.Submit("try it")
	require.NoError(t, err)
	f.waitIdle(t)

	assert.Equal(t, bus.TypePromptReceived, f.nextEvent(t).Type)
	assert.Equal(t, bus.TypeStatusChanged, f.nextEvent(t).Type)

	ev := f.nextEvent(t)
	assert.Equal(t, bus.TypeErrorOccurred, ev.Type)
	assert.Contains(t, ev.Error, "not_authorized")

	assert.Equal(t, bus.TypeStatusChanged, f.nextEvent(t).Type)

	history := f.sess.History()
	assert.Equal(t, session.RoleError, history[len(history)-1].Role)
}

func TestTaskRunner_AdapterFailure(t *testing.T) {
	profiles := singleProviderSet(func(ctx context.Context, req ConverseRequest) (*Turn, error) {
		return nil, errors.New("invalid api key")
	})
	f := newRunnerFixture(t, profiles, nil, nil)

	_, err := f.runner.Submit("hello")
	require.NoError(t, err)
	f.waitIdle(t)

	assert.Equal(t, bus.TypePromptReceived, f.nextEvent(t).Type)
	assert.Equal(t, bus.TypeStatusChanged, f.nextEvent(t).Type)

	ev := f.nextEvent(t)
	assert.Equal(t, bus.TypeErrorOccurred, ev.Type)
	assert.Contains(t, ev.Error, "invalid api key")

	ev = f.nextEvent(t)
	assert.Equal(t, bus.TypeStatusChanged, ev.Type)
	assert.False(t, f.sess.Running())
}

func TestTaskRunner_Interrupt(t *testing.T) {
	t.Run("should cancel a run blocked in the model call", func(t *testing.T) {
		profiles := singleProviderSet(func(ctx context.Context, req ConverseRequest) (*Turn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		f := newRunnerFixture(t, profiles, nil, nil)

		runID, err := f.runner.Submit("long task")
		require.NoError(t, err)

		assert.Equal(t, bus.TypePromptReceived, f.nextEvent(t).Type)
		assert.Equal(t, bus.TypeStatusChanged, f.nextEvent(t).Type)

		f.runner.Interrupt()
		f.waitIdle(t)

		ev := f.nextEvent(t)
		assert.Equal(t, bus.TypeInterrupted, ev.Type)
		assert.Equal(t, runID, ev.RunID)

		ev = f.nextEvent(t)
		assert.Equal(t, bus.TypeStatusChanged, ev.Type)
		require.NotNil(t, ev.Running)
		assert.False(t, *ev.Running)
		assert.False(t, f.sess.Running())
	})

	t.Run("should be a no-op on an idle runner", func(t *testing.T) {
		profiles := singleProviderSet(func(ctx context.Context, req ConverseRequest) (*Turn, error) {
			return &Turn{Content: "ok"}, nil
		})
		f := newRunnerFixture(t, profiles, nil, nil)

		f.runner.Interrupt()

		_, err := f.runner.Submit("still works")
		require.NoError(t, err)
		f.waitIdle(t)
	})

	t.Run("should cancel a run stuck in a tool", func(t *testing.T) {
		profiles := singleProviderSet(func(ctx context.Context, req ConverseRequest) (*Turn, error) {
			return &Turn{ToolCall: &ToolCallRequest{ID: "tc-1", Name: "stall", Args: map[string]any{}}}, nil
		})
		stall := toolengine.Tool{
			Spec: toolengine.Spec{Name: "stall", Description: "Waits forever"},
			Handler: func(ctx context.Context, args map[string]any) (toolengine.Result, error) {
				<-ctx.Done()
				return toolengine.Result{}, ctx.Err()
			},
		}
		f := newRunnerFixture(t, profiles, []toolengine.Tool{stall}, []string{"stall"})

		_, err := f.runner.Submit("stall out")
		require.NoError(t, err)

		assert.Equal(t, bus.TypePromptReceived, f.nextEvent(t).Type)
		assert.Equal(t, bus.TypeStatusChanged, f.nextEvent(t).Type)
		assert.Equal(t, bus.TypeToolStarted, f.nextEvent(t).Type)

		f.runner.Interrupt()
		f.waitIdle(t)

		assert.Equal(t, bus.TypeInterrupted, f.nextEvent(t).Type)
		assert.Equal(t, bus.TypeStatusChanged, f.nextEvent(t).Type)
	})
}

func TestTaskRunner_EmptyPrompt(t *testing.T) {
	profiles := singleProviderSet(func(ctx context.Context, req ConverseRequest) (*Turn, error) {
		return &Turn{Content: "ok"}, nil
	})
	f := newRunnerFixture(t, profiles, nil, nil)

	_, err := f.runner.Submit("")
	assert.Error(t, err)
	assert.False(t, f.sess.Running())
}

func TestTaskRunner_JournalsMessages(t *testing.T) {
	store, err := session.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	profiles := singleProviderSet(func(ctx context.Context, req ConverseRequest) (*Turn, error) {
		return &Turn{Content: "reply"}, nil
	})

	b := bus.New(bus.Options{}, zerolog.Nop())
	t.Cleanup(b.Close)
	eng := toolengine.New(toolengine.Options{}, zerolog.Nop())
	sess := session.New(session.Options{})

	runner, err := NewTaskRunner(RunnerConfig{
		Session: sess, Bus: b, Engine: eng, Store: store,
		Logger: zerolog.Nop(), Profiles: profiles, Model: "test-model",
	})
	require.NoError(t, err)

	_, err = runner.Submit("persist me")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runner.WaitIdle(ctx))

	msgs, err := store.Load(sess.ID())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "persist me", msgs[0].Content)
	assert.Equal(t, "reply", msgs[1].Content)
}
