// Package memory is an in-process Store, used by default and in tests
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"seeker/store"
	"seeker/types"
)

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	seq      int
	now      func() time.Time
}

type sessionEntry struct {
	session  types.ChatSession
	seq      int
	messages []*types.Message
}

func New() *Store {
	return &Store{
		sessions: make(map[string]*sessionEntry),
		now:      time.Now,
	}
}

// SetClock replaces the time source for created_at stamps
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) CreateSession(ctx context.Context, userID string) (types.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	entry := &sessionEntry{
		session: types.ChatSession{
			ID:        uuid.New().String(),
			UserID:    userID,
			Title:     types.DefaultSessionTitle,
			CreatedAt: s.now(),
		},
		seq: s.seq,
	}
	s.sessions[entry.session.ID] = entry
	return entry.session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (types.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return types.ChatSession{}, store.ErrSessionNotFound
	}
	return entry.session, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]types.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*sessionEntry
	for _, entry := range s.sessions {
		if entry.session.UserID == userID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.session.CreatedAt.Equal(b.session.CreatedAt) {
			return a.session.CreatedAt.After(b.session.CreatedAt)
		}
		return a.seq > b.seq
	})

	result := make([]types.ChatSession, 0, len(entries))
	for _, entry := range entries {
		result = append(result, entry.session)
	}
	return result, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return store.ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *Store) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return store.ErrSessionNotFound
	}
	entry.session.Title = title
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, sessionID string, sender types.Sender, text string) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return types.Message{}, store.ErrSessionNotFound
	}
	msg := &types.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Text:      text,
		Sender:    sender,
		CreatedAt: s.now(),
		Finalized: sender == types.SenderUser,
	}
	entry.messages = append(entry.messages, msg)
	return msg.Clone(), nil
}

func (s *Store) UpdateMessageText(ctx context.Context, sessionID, messageID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.findLocked(sessionID, messageID)
	if err != nil {
		return err
	}
	if msg.Finalized {
		return store.ErrMessageFinalized
	}
	msg.Text = text
	return nil
}

func (s *Store) FinalizeMessage(ctx context.Context, sessionID, messageID, content string, trace *types.Trace, sources []types.Source) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, err := s.findLocked(sessionID, messageID)
	if err != nil {
		return types.Message{}, err
	}
	if msg.Finalized {
		return types.Message{}, store.ErrMessageFinalized
	}

	msg.Text = content
	msg.Trace = trace.Clone()
	msg.Sources = nil
	if len(sources) > 0 {
		msg.Sources = append([]types.Source(nil), sources...)
	}
	msg.Finalized = true
	return msg.Clone(), nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	result := make([]types.Message, 0, len(entry.messages))
	for _, msg := range entry.messages {
		result = append(result, msg.Clone())
	}
	return result, nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) findLocked(sessionID, messageID string) (*types.Message, error) {
	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	for _, msg := range entry.messages {
		if msg.ID == messageID {
			return msg, nil
		}
	}
	return nil, store.ErrMessageNotFound
}

var _ store.Store = (*Store)(nil)
