// Package storetest holds the behaviour every store.Store implementation must share
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seeker/store"
	"seeker/types"
)

// Factory builds an empty store stamping times from now
type Factory func(t *testing.T, now func() time.Time) store.Store

// Clock is a settable time source
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock() *Clock {
	return &Clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Run exercises the full Store contract against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGetSession", func(t *testing.T) {
		clock := NewClock()
		s := newStore(t, clock.Now)
		ctx := context.Background()

		created, err := s.CreateSession(ctx, "user-1")
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, "user-1", created.UserID)
		assert.Equal(t, types.DefaultSessionTitle, created.Title)

		loaded, err := s.GetSession(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, loaded.ID)
		assert.True(t, created.CreatedAt.Equal(loaded.CreatedAt))

		_, err = s.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrSessionNotFound)
	})

	t.Run("ListSessionsNewestFirst", func(t *testing.T) {
		clock := NewClock()
		s := newStore(t, clock.Now)
		ctx := context.Background()

		first, err := s.CreateSession(ctx, "user-1")
		require.NoError(t, err)
		clock.Advance(time.Minute)
		second, err := s.CreateSession(ctx, "user-1")
		require.NoError(t, err)
		// same timestamp: insertion order breaks the tie
		third, err := s.CreateSession(ctx, "user-1")
		require.NoError(t, err)
		_, err = s.CreateSession(ctx, "user-2")
		require.NoError(t, err)

		sessions, err := s.ListSessions(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, sessions, 3)
		assert.Equal(t, []string{third.ID, second.ID, first.ID},
			[]string{sessions[0].ID, sessions[1].ID, sessions[2].ID})

		none, err := s.ListSessions(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("UpdateSessionTitle", func(t *testing.T) {
		s := newStore(t, NewClock().Now)
		ctx := context.Background()

		session, err := s.CreateSession(ctx, "user-1")
		require.NoError(t, err)
		require.NoError(t, s.UpdateSessionTitle(ctx, session.ID, "Data retention rules"))

		loaded, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "Data retention rules", loaded.Title)

		assert.ErrorIs(t, s.UpdateSessionTitle(ctx, "missing", "x"), store.ErrSessionNotFound)
	})

	t.Run("MessagesInCreationOrder", func(t *testing.T) {
		clock := NewClock()
		s := newStore(t, clock.Now)
		ctx := context.Background()

		session, err := s.CreateSession(ctx, "user-1")
		require.NoError(t, err)

		user, err := s.AppendMessage(ctx, session.ID, types.SenderUser, "What is GDPR?")
		require.NoError(t, err)
		assert.True(t, user.Finalized)
		assert.Equal(t, session.ID, user.SessionID)

		bot, err := s.AppendMessage(ctx, session.ID, types.SenderBot, "")
		require.NoError(t, err)
		assert.False(t, bot.Finalized)
		assert.NotEqual(t, user.ID, bot.ID)

		messages, err := s.ListMessages(ctx, session.ID)
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, user.ID, messages[0].ID)
		assert.Equal(t, bot.ID, messages[1].ID)
		assert.Equal(t, types.SenderBot, messages[1].Sender)

		_, err = s.AppendMessage(ctx, "missing", types.SenderUser, "x")
		assert.ErrorIs(t, err, store.ErrSessionNotFound)
		_, err = s.ListMessages(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrSessionNotFound)
	})

	t.Run("UpdateThenFinalize", func(t *testing.T) {
		s := newStore(t, NewClock().Now)
		ctx := context.Background()

		session, err := s.CreateSession(ctx, "user-1")
		require.NoError(t, err)
		bot, err := s.AppendMessage(ctx, session.ID, types.SenderBot, "")
		require.NoError(t, err)

		require.NoError(t, s.UpdateMessageText(ctx, session.ID, bot.ID, "Hel"))
		require.NoError(t, s.UpdateMessageText(ctx, session.ID, bot.ID, "Hello"))

		messages, err := s.ListMessages(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "Hello", messages[0].Text)

		trace := &types.Trace{
			Plan:  []string{"Search"},
			Steps: []types.TraceStep{{Tool: "web_search", Input: "gdpr", Output: "3 results"}},
		}
		sources := []types.Source{{ID: "1", Title: "GDPR", Date: "2018-05-25", Type: "Regulation"}}

		final, err := s.FinalizeMessage(ctx, session.ID, bot.ID, "Hello, world", trace, sources)
		require.NoError(t, err)
		assert.True(t, final.Finalized)
		assert.Equal(t, "Hello, world", final.Text)
		assert.Equal(t, trace, final.Trace)
		assert.Equal(t, sources, final.Sources)

		// the committed message no longer accepts changes
		assert.ErrorIs(t, s.UpdateMessageText(ctx, session.ID, bot.ID, "late"), store.ErrMessageFinalized)
		_, err = s.FinalizeMessage(ctx, session.ID, bot.ID, "again", nil, nil)
		assert.ErrorIs(t, err, store.ErrMessageFinalized)

		messages, err = s.ListMessages(ctx, session.ID)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "Hello, world", messages[0].Text)
		assert.Equal(t, trace, messages[0].Trace)
		assert.Equal(t, sources, messages[0].Sources)
	})

	t.Run("FinalizeWithoutTraceOrSources", func(t *testing.T) {
		s := newStore(t, NewClock().Now)
		ctx := context.Background()

		session, err := s.CreateSession(ctx, "user-1")
		require.NoError(t, err)
		bot, err := s.AppendMessage(ctx, session.ID, types.SenderBot, "partial")
		require.NoError(t, err)

		final, err := s.FinalizeMessage(ctx, session.ID, bot.ID, "plain answer", nil, []types.Source{})
		require.NoError(t, err)
		assert.Nil(t, final.Trace)
		assert.Nil(t, final.Sources)
	})

	t.Run("UnknownMessage", func(t *testing.T) {
		s := newStore(t, NewClock().Now)
		ctx := context.Background()

		session, err := s.CreateSession(ctx, "user-1")
		require.NoError(t, err)

		assert.ErrorIs(t, s.UpdateMessageText(ctx, session.ID, "missing", "x"), store.ErrMessageNotFound)
		_, err = s.FinalizeMessage(ctx, session.ID, "missing", "x", nil, nil)
		assert.ErrorIs(t, err, store.ErrMessageNotFound)
		assert.ErrorIs(t, s.UpdateMessageText(ctx, "missing", "missing", "x"), store.ErrSessionNotFound)
	})

	t.Run("DeleteSessionRemovesMessages", func(t *testing.T) {
		s := newStore(t, NewClock().Now)
		ctx := context.Background()

		doomed, err := s.CreateSession(ctx, "user-1")
		require.NoError(t, err)
		kept, err := s.CreateSession(ctx, "user-1")
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, doomed.ID, types.SenderUser, "q")
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, kept.ID, types.SenderUser, "q")
		require.NoError(t, err)

		require.NoError(t, s.DeleteSession(ctx, doomed.ID))

		_, err = s.GetSession(ctx, doomed.ID)
		assert.ErrorIs(t, err, store.ErrSessionNotFound)
		_, err = s.ListMessages(ctx, doomed.ID)
		assert.ErrorIs(t, err, store.ErrSessionNotFound)

		remaining, err := s.ListMessages(ctx, kept.ID)
		require.NoError(t, err)
		assert.Len(t, remaining, 1)

		assert.ErrorIs(t, s.DeleteSession(ctx, doomed.ID), store.ErrSessionNotFound)
	})

	t.Run("ReturnedMessagesAreCopies", func(t *testing.T) {
		s := newStore(t, NewClock().Now)
		ctx := context.Background()

		session, err := s.CreateSession(ctx, "user-1")
		require.NoError(t, err)
		bot, err := s.AppendMessage(ctx, session.ID, types.SenderBot, "")
		require.NoError(t, err)
		final, err := s.FinalizeMessage(ctx, session.ID, bot.ID, "answer",
			&types.Trace{Plan: []string{"a"}}, []types.Source{{ID: "1", Title: "t", Date: "N/A", Type: "Doc"}})
		require.NoError(t, err)

		final.Trace.Plan[0] = "mutated"
		final.Sources[0].Title = "mutated"

		messages, err := s.ListMessages(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "a", messages[0].Trace.Plan[0])
		assert.Equal(t, "t", messages[0].Sources[0].Title)
	})
}
