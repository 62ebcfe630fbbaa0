// Package store persists chat sessions and their message transcripts.
package store

import (
	"context"
	"errors"

	"seeker/types"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrMessageFinalized = errors.New("message already finalized")
)

// Store is the persistence port used by the streaming session and the API.
// Implementations are safe for concurrent use.
type Store interface {
	CreateSession(ctx context.Context, userID string) (types.ChatSession, error)
	GetSession(ctx context.Context, sessionID string) (types.ChatSession, error)
	// ListSessions returns the user's sessions, newest first
	ListSessions(ctx context.Context, userID string) ([]types.ChatSession, error)
	// DeleteSession removes the session and every message in it
	DeleteSession(ctx context.Context, sessionID string) error
	UpdateSessionTitle(ctx context.Context, sessionID, title string) error

	// AppendMessage stores a new message. User messages are final on arrival;
	// bot messages stay open until FinalizeMessage.
	AppendMessage(ctx context.Context, sessionID string, sender types.Sender, text string) (types.Message, error)
	UpdateMessageText(ctx context.Context, sessionID, messageID, text string) error
	// FinalizeMessage replaces text, trace and sources in one update and closes the message
	FinalizeMessage(ctx context.Context, sessionID, messageID, content string, trace *types.Trace, sources []types.Source) (types.Message, error)
	// ListMessages returns the transcript in creation order
	ListMessages(ctx context.Context, sessionID string) ([]types.Message, error)

	Close() error
}
