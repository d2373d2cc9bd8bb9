package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process reply archive for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]ReplyRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]ReplyRecord)}
}

func (s *InMemoryStore) SaveReply(_ context.Context, record ReplyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.FinalizedAt.IsZero() {
		record.FinalizedAt = time.Now().UTC()
	}
	arr := s.records[record.ChatID]
	for i := range arr {
		if arr[i].StreamID == record.StreamID {
			arr[i] = record
			return nil
		}
	}
	s.records[record.ChatID] = append(arr, record)
	return nil
}

func (s *InMemoryStore) RecentReplies(_ context.Context, chatID string, limit int) ([]ReplyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[chatID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]ReplyRecord, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
