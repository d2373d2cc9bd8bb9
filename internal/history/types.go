package history

import (
	"context"
	"time"
)

// ReplyRecord stores one finalized streamed reply.
type ReplyRecord struct {
	ID           string    `json:"id"`
	StreamID     string    `json:"stream_id"`
	ChatID       string    `json:"chat_id"`
	Content      string    `json:"content"`
	MessageCount int       `json:"message_count"`
	FinalizedAt  time.Time `json:"finalized_at"`
}

// Store persists and retrieves finalized replies.
type Store interface {
	SaveReply(ctx context.Context, record ReplyRecord) error
	RecentReplies(ctx context.Context, chatID string, limit int) ([]ReplyRecord, error)
	Close() error
}
