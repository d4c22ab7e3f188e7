package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should generate an id when none is given", func(t *testing.T) {
		sess := New(Options{Name: "default"})
		assert.NotEmpty(t, sess.ID())
		assert.Equal(t, "default", sess.Name())
		assert.False(t, sess.Running())
	})

	t.Run("should keep a provided id", func(t *testing.T) {
		sess := New(Options{ID: "fixed-id"})
		assert.Equal(t, "fixed-id", sess.ID())
	})

	t.Run("should copy the authorized tool list", func(t *testing.T) {
		tools := []string{"fs_read"}
		sess := New(Options{AuthorizedTools: tools})
		tools[0] = "mutated"
		assert.Equal(t, []string{"fs_read"}, sess.AuthorizedTools())
	})
}

func TestSession_Begin(t *testing.T) {
	t.Run("should transition idle to running", func(t *testing.T) {
		sess := New(Options{})
		require.NoError(t, sess.Begin("run-1"))
		assert.True(t, sess.Running())
		assert.Equal(t, "run-1", sess.CurrentRunID())
	})

	t.Run("should reject a second run while one is in flight", func(t *testing.T) {
		sess := New(Options{})
		require.NoError(t, sess.Begin("run-1"))
		err := sess.Begin("run-2")
		assert.ErrorIs(t, err, ErrAlreadyRunning)
		assert.Equal(t, "run-1", sess.CurrentRunID())
	})

	t.Run("should admit exactly one concurrent submitter", func(t *testing.T) {
		sess := New(Options{})
		const submitters = 16
		var wg sync.WaitGroup
		var okCount, busyCount int32
		var mu sync.Mutex
		for i := 0; i < submitters; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := sess.Begin("run")
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					okCount++
				} else if err == ErrAlreadyRunning {
					busyCount++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), okCount)
		assert.Equal(t, int32(submitters-1), busyCount)
	})

	t.Run("should allow a new run after End", func(t *testing.T) {
		sess := New(Options{})
		require.NoError(t, sess.Begin("run-1"))
		sess.End()
		assert.False(t, sess.Running())
		assert.NoError(t, sess.Begin("run-2"))
	})
}

func TestSession_Append(t *testing.T) {
	t.Run("should stamp messages without a timestamp", func(t *testing.T) {
		sess := New(Options{})
		sess.Append(Message{Role: RoleUser, Content: "hi"})
		history := sess.History()
		require.Len(t, history, 1)
		assert.False(t, history[0].Timestamp.IsZero())
	})

	t.Run("should return an independent history copy", func(t *testing.T) {
		sess := New(Options{})
		sess.Append(Message{Role: RoleUser, Content: "hi"})
		history := sess.History()
		history[0].Content = "mutated"
		assert.Equal(t, "hi", sess.History()[0].Content)
	})
}

func TestSession_Restore(t *testing.T) {
	t.Run("should replace history when idle", func(t *testing.T) {
		sess := New(Options{})
		sess.Append(Message{Role: RoleUser, Content: "old"})
		msgs := []Message{
			{Role: RoleUser, Content: "a", Timestamp: time.Now()},
			{Role: RoleAssistant, Content: "b", Timestamp: time.Now()},
		}
		require.NoError(t, sess.Restore(msgs))
		assert.Len(t, sess.History(), 2)
	})

	t.Run("should refuse to restore while running", func(t *testing.T) {
		sess := New(Options{})
		require.NoError(t, sess.Begin("run-1"))
		err := sess.Restore(nil)
		assert.ErrorIs(t, err, ErrBusy)
	})
}

func TestSession_Snapshot(t *testing.T) {
	sess := New(Options{Name: "work"})
	sess.Append(Message{Role: RoleUser, Content: "hi"})
	require.NoError(t, sess.Begin("run-9"))

	snap := sess.Snapshot()
	assert.Equal(t, sess.ID(), snap.ID)
	assert.Equal(t, "work", snap.Name)
	assert.True(t, snap.Running)
	assert.Equal(t, "run-9", snap.CurrentRunID)
	assert.Equal(t, 1, snap.Messages)
}
