package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists finalized replies in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stream_replies (
			id TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			content TEXT NOT NULL,
			message_count INT NOT NULL DEFAULT 1,
			finalized_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_stream_replies_stream ON stream_replies (stream_id);`,
		`CREATE INDEX IF NOT EXISTS idx_stream_replies_chat_finalized ON stream_replies (chat_id, finalized_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveReply(ctx context.Context, record ReplyRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.FinalizedAt.IsZero() {
		record.FinalizedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO stream_replies (id, stream_id, chat_id, content, message_count, finalized_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (stream_id) DO UPDATE SET content=EXCLUDED.content,
		 message_count=EXCLUDED.message_count, finalized_at=EXCLUDED.finalized_at`,
		record.ID,
		record.StreamID,
		record.ChatID,
		record.Content,
		record.MessageCount,
		record.FinalizedAt,
	)
	if err != nil {
		return fmt.Errorf("save reply: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentReplies(ctx context.Context, chatID string, limit int) ([]ReplyRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, stream_id, chat_id, content, message_count, finalized_at
		 FROM stream_replies WHERE chat_id=$1 ORDER BY finalized_at DESC LIMIT $2`,
		chatID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent replies: %w", err)
	}
	defer rows.Close()

	items := make([]ReplyRecord, 0, limit)
	for rows.Next() {
		var r ReplyRecord
		if err := rows.Scan(&r.ID, &r.StreamID, &r.ChatID, &r.Content, &r.MessageCount, &r.FinalizedAt); err != nil {
			return nil, fmt.Errorf("scan reply row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reply rows: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
