package convo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the Postgres-backed conversation store, for deployments
// that already run Postgres and want conversations off the local disk.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres creates a Postgres conversation store and verifies the
// connection.
func OpenPostgres(ctx context.Context, pgURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("conversation store opened", "driver", "postgres")
	return s, nil
}

func (s *PostgresStore) init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT NOT NULL,
			origin     TEXT NOT NULL,
			history    TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (origin, id)
		)
	`)
	if err != nil {
		return fmt.Errorf("create conversations table: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS current_conversations (
			origin          TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create current_conversations table: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_conversations_updated
		ON conversations (updated_at)
	`)
	if err != nil {
		return fmt.Errorf("create updated index: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CurrentConversationID returns the current conversation for an origin,
// or "" when none is bound.
func (s *PostgresStore) CurrentConversationID(ctx context.Context, origin string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		"SELECT conversation_id FROM current_conversations WHERE origin = $1", origin,
	).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("current conversation for %s: %w", origin, err)
	}
	return id, nil
}

// Conversation fetches a stored conversation, (nil, nil) when absent.
func (s *PostgresStore) Conversation(ctx context.Context, origin, id string) (*Conversation, error) {
	var c Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, origin, history, created_at, updated_at
		 FROM conversations WHERE origin = $1 AND id = $2`, origin, id,
	).Scan(&c.ID, &c.Origin, &c.History, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s/%s: %w", origin, id, err)
	}
	return &c, nil
}

// SaveConversation upserts a conversation's serialized history.
func (s *PostgresStore) SaveConversation(ctx context.Context, origin, id, history string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, origin, history, created_at, updated_at)
		 VALUES ($1, $2, $3, now(), now())
		 ON CONFLICT (origin, id) DO UPDATE
		 SET history = EXCLUDED.history, updated_at = now()`,
		id, origin, history,
	)
	if err != nil {
		return fmt.Errorf("save conversation %s/%s: %w", origin, id, err)
	}
	return nil
}

// SetCurrent binds a conversation as current for an origin.
func (s *PostgresStore) SetCurrent(ctx context.Context, origin, id string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO current_conversations (origin, conversation_id)
		 VALUES ($1, $2)
		 ON CONFLICT (origin) DO UPDATE SET conversation_id = EXCLUDED.conversation_id`,
		origin, id,
	)
	if err != nil {
		return fmt.Errorf("set current conversation %s/%s: %w", origin, id, err)
	}
	return nil
}

// PruneStale deletes conversations not updated since the cutoff, along
// with any current bindings pointing at them.
func (s *PostgresStore) PruneStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM conversations WHERE updated_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune conversations: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		DELETE FROM current_conversations cc WHERE NOT EXISTS (
			SELECT 1 FROM conversations c
			WHERE c.origin = cc.origin AND c.id = cc.conversation_id
		)
	`)
	if err != nil {
		return int(tag.RowsAffected()), fmt.Errorf("prune current bindings: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
