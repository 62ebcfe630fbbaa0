// Package sqlite is a Store backed by a single SQLite file through the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"seeker/store"
	"seeker/types"
)

// DatabaseFile is the name of the database inside the data directory
const DatabaseFile = "seeker.db"

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the database in dataDir
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return Open(filepath.Join(dataDir, DatabaseFile))
}

// Open opens the database at dbPath and creates the schema when missing
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; also keeps ":memory:" databases on one connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logrus.WithField("component", "store").Infof("💾 SQLite store ready at %s", dbPath)
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		trace TEXT,
		sources TEXT,
		finalized INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SetClock replaces the time source for created_at stamps
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) CreateSession(ctx context.Context, userID string) (types.ChatSession, error) {
	session := types.ChatSession{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     types.DefaultSessionTitle,
		CreatedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, title, created_at) VALUES (?, ?, ?, ?)`,
		session.ID, session.UserID, session.Title, session.CreatedAt.UnixNano())
	if err != nil {
		return types.ChatSession{}, fmt.Errorf("failed to insert session: %w", err)
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (types.ChatSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at FROM sessions WHERE id = ?`, sessionID)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ChatSession{}, store.ErrSessionNotFound
	}
	if err != nil {
		return types.ChatSession{}, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]types.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at FROM sessions
		 WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []types.ChatSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrSessionNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return tx.Commit()
}

func (s *Store) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET title = ? WHERE id = ?`, title, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, sessionID string, sender types.Sender, text string) (types.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return types.Message{}, err
	}

	msg := types.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Text:      text,
		Sender:    sender,
		CreatedAt: s.now(),
		Finalized: sender == types.SenderUser,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, sender, text, created_at, finalized) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Sender), msg.Text, msg.CreatedAt.UnixNano(), msg.Finalized)
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg, nil
}

func (s *Store) UpdateMessageText(ctx context.Context, sessionID, messageID, text string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET text = ? WHERE id = ? AND session_id = ? AND finalized = 0`,
		text, messageID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.whyUnchanged(ctx, sessionID, messageID)
	}
	return nil
}

func (s *Store) FinalizeMessage(ctx context.Context, sessionID, messageID, content string, trace *types.Trace, sources []types.Source) (types.Message, error) {
	var traceJSON, sourcesJSON sql.NullString
	if trace != nil {
		raw, err := json.Marshal(trace)
		if err != nil {
			return types.Message{}, fmt.Errorf("failed to encode trace: %w", err)
		}
		traceJSON = sql.NullString{String: string(raw), Valid: true}
	}
	if len(sources) > 0 {
		raw, err := json.Marshal(sources)
		if err != nil {
			return types.Message{}, fmt.Errorf("failed to encode sources: %w", err)
		}
		sourcesJSON = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET text = ?, trace = ?, sources = ?, finalized = 1
		 WHERE id = ? AND session_id = ? AND finalized = 0`,
		content, traceJSON, sourcesJSON, messageID, sessionID)
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to finalize message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Message{}, s.whyUnchanged(ctx, sessionID, messageID)
	}

	row := s.db.QueryRowContext(ctx, selectMessages+` WHERE id = ?`, messageID)
	return scanMessage(row)
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]types.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		selectMessages+` WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []types.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// whyUnchanged explains an update that touched no row
func (s *Store) whyUnchanged(ctx context.Context, sessionID, messageID string) error {
	var finalized bool
	err := s.db.QueryRowContext(ctx,
		`SELECT finalized FROM messages WHERE id = ? AND session_id = ?`, messageID, sessionID).Scan(&finalized)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return err
		}
		return store.ErrMessageNotFound
	case err != nil:
		return fmt.Errorf("failed to load message: %w", err)
	case finalized:
		return store.ErrMessageFinalized
	}
	return nil
}

const selectMessages = `SELECT id, session_id, sender, text, created_at, trace, sources, finalized FROM messages`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (types.ChatSession, error) {
	var session types.ChatSession
	var createdAt int64
	if err := row.Scan(&session.ID, &session.UserID, &session.Title, &createdAt); err != nil {
		return types.ChatSession{}, err
	}
	session.CreatedAt = time.Unix(0, createdAt)
	return session, nil
}

func scanMessage(row scanner) (types.Message, error) {
	var (
		msg                 types.Message
		sender              string
		createdAt           int64
		traceJSON, srcsJSON sql.NullString
	)
	if err := row.Scan(&msg.ID, &msg.SessionID, &sender, &msg.Text, &createdAt, &traceJSON, &srcsJSON, &msg.Finalized); err != nil {
		return types.Message{}, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.Sender = types.Sender(sender)
	msg.CreatedAt = time.Unix(0, createdAt)

	if traceJSON.Valid {
		msg.Trace = &types.Trace{}
		if err := json.Unmarshal([]byte(traceJSON.String), msg.Trace); err != nil {
			return types.Message{}, fmt.Errorf("failed to decode trace of message %s: %w", msg.ID, err)
		}
	}
	if srcsJSON.Valid {
		if err := json.Unmarshal([]byte(srcsJSON.String), &msg.Sources); err != nil {
			return types.Message{}, fmt.Errorf("failed to decode sources of message %s: %w", msg.ID, err)
		}
	}
	return msg, nil
}

var _ store.Store = (*Store)(nil)
