package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seeker/store"
	"seeker/store/storetest"
	"seeker/types"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, now func() time.Time) store.Store {
		s := New()
		s.SetClock(now)
		return s
	})
}

func TestConcurrentUpdates(t *testing.T) {
	s := New()
	ctx := context.Background()

	session, err := s.CreateSession(ctx, "user-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bot, err := s.AppendMessage(ctx, session.ID, types.SenderBot, "")
			assert.NoError(t, err)
			assert.NoError(t, s.UpdateMessageText(ctx, session.ID, bot.ID, "text"))
			_, err = s.ListMessages(ctx, session.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	messages, err := s.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 20)
}
