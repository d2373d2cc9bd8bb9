package history

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndRecent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for _, rec := range []ReplyRecord{
		{StreamID: "s1", ChatID: "c1", Content: "first"},
		{StreamID: "s2", ChatID: "c1", Content: "second"},
		{StreamID: "s3", ChatID: "c2", Content: "elsewhere"},
	} {
		if err := s.SaveReply(ctx, rec); err != nil {
			t.Fatalf("SaveReply(%s): %v", rec.StreamID, err)
		}
	}

	got, err := s.RecentReplies(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("RecentReplies: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("replies = %d, want 2", len(got))
	}
	if got[0].Content != "first" || got[1].Content != "second" {
		t.Fatalf("replies out of order: %q, %q", got[0].Content, got[1].Content)
	}
	if got[0].ID == "" {
		t.Fatalf("record not assigned an id")
	}
}

func TestInMemoryStoreLimit(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"s1", "s2", "s3"} {
		if err := s.SaveReply(ctx, ReplyRecord{StreamID: id, ChatID: "c1", Content: id}); err != nil {
			t.Fatalf("SaveReply: %v", err)
		}
	}

	got, err := s.RecentReplies(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("RecentReplies: %v", err)
	}
	if len(got) != 2 || got[0].Content != "s2" || got[1].Content != "s3" {
		t.Fatalf("limited replies = %+v, want newest two", got)
	}
}

func TestInMemoryStoreOverwritesSameStream(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	if err := s.SaveReply(ctx, ReplyRecord{StreamID: "s1", ChatID: "c1", Content: "v1"}); err != nil {
		t.Fatalf("SaveReply: %v", err)
	}
	if err := s.SaveReply(ctx, ReplyRecord{StreamID: "s1", ChatID: "c1", Content: "v2"}); err != nil {
		t.Fatalf("SaveReply: %v", err)
	}

	got, err := s.RecentReplies(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("RecentReplies: %v", err)
	}
	if len(got) != 1 || got[0].Content != "v2" {
		t.Fatalf("replies = %+v, want single record with newest content", got)
	}
}

func TestNewStoreDefaultsToInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("store = %T, want *InMemoryStore when no database url is set", s)
	}
}
