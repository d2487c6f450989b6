package convo

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// sqliteTimeFormat is how timestamps are stored. Lexicographic order
// matches chronological order, which the prune query relies on.
const sqliteTimeFormat = "2006-01-02 15:04:05"

// SQLiteStore is the default, file-backed conversation store.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the conversation database inside
// the given data directory.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	dbPath := filepath.Join(dataDir, "conversations.db")

	// WAL for concurrent reads, busy timeout so writers back off cleanly
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open conversation db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping conversation db: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("conversation store opened", "driver", "sqlite", "path", dbPath)
	return s, nil
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT NOT NULL,
			origin     TEXT NOT NULL,
			history    TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (origin, id)
		)`,
		`CREATE TABLE IF NOT EXISTS current_conversations (
			origin          TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations (updated_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init conversation schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// CurrentConversationID returns the current conversation for an origin,
// or "" when none is bound.
func (s *SQLiteStore) CurrentConversationID(ctx context.Context, origin string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT conversation_id FROM current_conversations WHERE origin = ?", origin,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("current conversation for %s: %w", origin, err)
	}
	return id, nil
}

// Conversation fetches a stored conversation, (nil, nil) when absent.
func (s *SQLiteStore) Conversation(ctx context.Context, origin, id string) (*Conversation, error) {
	var c Conversation
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, origin, history, created_at, updated_at
		 FROM conversations WHERE origin = ? AND id = ?`, origin, id,
	).Scan(&c.ID, &c.Origin, &c.History, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s/%s: %w", origin, id, err)
	}
	c.CreatedAt, _ = time.Parse(sqliteTimeFormat, created)
	c.UpdatedAt, _ = time.Parse(sqliteTimeFormat, updated)
	return &c, nil
}

// SaveConversation upserts a conversation's serialized history.
func (s *SQLiteStore) SaveConversation(ctx context.Context, origin, id, history string) error {
	now := time.Now().UTC().Format(sqliteTimeFormat)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, origin, history, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (origin, id) DO UPDATE
		 SET history = excluded.history, updated_at = excluded.updated_at`,
		id, origin, history, now, now,
	)
	if err != nil {
		return fmt.Errorf("save conversation %s/%s: %w", origin, id, err)
	}
	return nil
}

// SetCurrent binds a conversation as current for an origin.
func (s *SQLiteStore) SetCurrent(ctx context.Context, origin, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO current_conversations (origin, conversation_id)
		 VALUES (?, ?)
		 ON CONFLICT (origin) DO UPDATE SET conversation_id = excluded.conversation_id`,
		origin, id,
	)
	if err != nil {
		return fmt.Errorf("set current conversation %s/%s: %w", origin, id, err)
	}
	return nil
}

// PruneStale deletes conversations not updated since the cutoff, along
// with any current bindings pointing at them.
func (s *SQLiteStore) PruneStale(ctx context.Context, cutoff time.Time) (int, error) {
	cut := cutoff.UTC().Format(sqliteTimeFormat)

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM conversations WHERE updated_at < ?", cut)
	if err != nil {
		return 0, fmt.Errorf("prune conversations: %w", err)
	}
	n, _ := res.RowsAffected()

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM current_conversations WHERE NOT EXISTS (
			SELECT 1 FROM conversations c
			WHERE c.origin = current_conversations.origin
			  AND c.id = current_conversations.conversation_id
		)`)
	if err != nil {
		return int(n), fmt.Errorf("prune current bindings: %w", err)
	}
	return int(n), nil
}
