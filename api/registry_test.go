package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seeker/llm"
	"seeker/session"
	"seeker/store/memory"
)

func newTestRegistry(source llm.TokenSource) (*Registry, *memory.Store) {
	st := memory.New()
	return NewRegistry(func(id string) *session.Session {
		return session.New(id, st, source, session.Options{})
	}), st
}

func TestRegistryReturnsSameSession(t *testing.T) {
	registry, _ := newTestRegistry(&llm.StaticSource{})

	s1 := registry.Get("session-1")
	assert.NotNil(t, s1)
	assert.Same(t, s1, registry.Get("session-1"), "same id should return the same live session")
	assert.NotSame(t, s1, registry.Get("session-2"))
	assert.Equal(t, 2, registry.Len())

	found, ok := registry.Lookup("session-1")
	require.True(t, ok)
	assert.Same(t, s1, found)
	_, ok = registry.Lookup("session-3")
	assert.False(t, ok)
}

func TestRegistryCleanupExpiredSessions(t *testing.T) {
	registry, _ := newTestRegistry(&llm.StaticSource{})
	registry.Get("session-1")
	registry.Get("session-2")
	registry.Get("session-3")

	registry.mutex.Lock()
	registry.entries["session-1"].LastAccessed = time.Now().Add(-2 * time.Hour)
	registry.entries["session-2"].LastAccessed = time.Now().Add(-30 * time.Minute)
	registry.entries["session-3"].LastAccessed = time.Now().Add(-3 * time.Hour)
	registry.mutex.Unlock()

	removed := registry.CleanupExpiredSessions(1 * time.Hour)
	assert.Equal(t, 2, removed)

	_, exists1 := registry.Lookup("session-1")
	_, exists2 := registry.Lookup("session-2")
	_, exists3 := registry.Lookup("session-3")
	assert.False(t, exists1, "old session-1 should be released")
	assert.True(t, exists2, "recent session-2 should remain")
	assert.False(t, exists3, "old session-3 should be released")
}

func TestRegistryCleanupKeepsBusySessions(t *testing.T) {
	source := &blockingSource{release: make(chan struct{})}
	registry, st := newTestRegistry(source)
	ctx := context.Background()

	chat, err := st.CreateSession(ctx, "ada")
	require.NoError(t, err)
	live := registry.Get(chat.ID)

	done := make(chan error, 1)
	go func() {
		_, err := live.Submit(ctx, "question")
		done <- err
	}()
	require.Eventually(t, live.Busy, time.Second, 5*time.Millisecond)

	registry.mutex.Lock()
	registry.entries[chat.ID].LastAccessed = time.Now().Add(-time.Hour)
	registry.mutex.Unlock()

	assert.Zero(t, registry.CleanupExpiredSessions(time.Minute))
	assert.Equal(t, 1, registry.Len())

	close(source.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, registry.CleanupExpiredSessions(time.Minute))
}

func TestRegistryRemoveClosesSession(t *testing.T) {
	registry, st := newTestRegistry(&llm.StaticSource{Fragments: []string{"x"}})
	chat, err := st.CreateSession(context.Background(), "ada")
	require.NoError(t, err)

	live := registry.Get(chat.ID)
	registry.Remove(chat.ID)

	_, err = live.Submit(context.Background(), "question")
	assert.ErrorIs(t, err, session.ErrClosed)
	assert.NotSame(t, live, registry.Get(chat.ID))
}

func TestRegistryConcurrency(t *testing.T) {
	registry, _ := newTestRegistry(&llm.StaticSource{})

	done := make(chan *session.Session, 10)
	for i := 0; i < 10; i++ {
		go func() {
			done <- registry.Get("concurrent-session")
		}()
	}

	first := <-done
	for i := 1; i < 10; i++ {
		assert.Same(t, first, <-done)
	}
	assert.Equal(t, 1, registry.Len())
}
