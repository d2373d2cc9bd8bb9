package relay

import (
	"context"
	"testing"
	"time"

	"github.com/ent0n29/chatstream/internal/channel"
	"github.com/ent0n29/chatstream/internal/history"
	"github.com/ent0n29/chatstream/internal/stream"
)

func newTestManager(mock *channel.Mock, store history.Store, opts Options) *Manager {
	if opts.StreamConfig.Logf == nil {
		opts.StreamConfig.Logf = func(string, ...any) {}
	}
	if opts.Logf == nil {
		opts.Logf = func(string, ...any) {}
	}
	return NewManager(mock, store, nil, opts)
}

func TestManagerOpenDeltaFinal(t *testing.T) {
	mock := channel.NewMock()
	store := history.NewInMemoryStore()
	m := newTestManager(mock, store, Options{
		StreamConfig: stream.Config{UpdateInterval: time.Millisecond},
	})

	if err := m.Open("s1", channel.Target{ChatID: "c1", ReplyTo: "msg-9"}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := m.ActiveCount(); got != 1 {
		t.Fatalf("active = %d, want 1", got)
	}
	if err := m.Delta("s1", "working on it"); err != nil {
		t.Fatalf("Delta: %v", err)
	}
	if err := m.Final("s1", "working on it, done"); err != nil {
		t.Fatalf("Final: %v", err)
	}

	if got := m.ActiveCount(); got != 0 {
		t.Fatalf("active after final = %d, want 0", got)
	}
	ops := mock.Ops()
	last := ops[len(ops)-1]
	if last.Streaming {
		t.Fatalf("last op = %+v, want terminal delivery without streaming flag", last)
	}

	replies, err := store.RecentReplies(context.Background(), "c1", 0)
	if err != nil {
		t.Fatalf("RecentReplies: %v", err)
	}
	if len(replies) != 1 {
		t.Fatalf("archived replies = %d, want 1", len(replies))
	}
	rec := replies[0]
	if rec.StreamID != "s1" || rec.Content != "working on it, done" || rec.MessageCount != 1 {
		t.Fatalf("archived record = %+v", rec)
	}
}

func TestManagerSignalsTypingIndicator(t *testing.T) {
	mock := channel.NewMock()
	m := newTestManager(mock, nil, Options{
		StreamConfig: stream.Config{UpdateInterval: time.Millisecond},
	})

	if err := m.Open("s1", channel.Target{ChatID: "c1"}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	events := mock.TypingEvents()
	if len(events) != 1 || events[0].ChatID != "c1" || !events[0].Typing {
		t.Fatalf("typing after open = %+v, want indicator on for c1", events)
	}

	// Re-opening an active stream must not retrigger the indicator.
	if err := m.Open("s1", channel.Target{ChatID: "c1"}); err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	if got := len(mock.TypingEvents()); got != 1 {
		t.Fatalf("typing events after re-open = %d, want 1", got)
	}

	if err := m.Final("s1", "all done"); err != nil {
		t.Fatalf("Final: %v", err)
	}
	events = mock.TypingEvents()
	if len(events) != 2 || events[1].ChatID != "c1" || events[1].Typing {
		t.Fatalf("typing after final = %+v, want indicator off for c1", events)
	}
}

func TestManagerOpenValidation(t *testing.T) {
	m := newTestManager(channel.NewMock(), nil, Options{})
	if err := m.Open("", channel.Target{ChatID: "c1"}); err != ErrBadOpen {
		t.Fatalf("Open without stream id = %v, want ErrBadOpen", err)
	}
	if err := m.Open("s1", channel.Target{}); err != ErrBadOpen {
		t.Fatalf("Open without chat id = %v, want ErrBadOpen", err)
	}
}

func TestManagerOpenIsIdempotent(t *testing.T) {
	mock := channel.NewMock()
	m := newTestManager(mock, nil, Options{})

	if err := m.Open("s1", channel.Target{ChatID: "c1"}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Open("s1", channel.Target{ChatID: "c1"}); err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	if got := m.ActiveCount(); got != 1 {
		t.Fatalf("active = %d, want 1 (re-open must not spawn a second stream)", got)
	}
}

func TestManagerDeltaUnknownStream(t *testing.T) {
	m := newTestManager(channel.NewMock(), nil, Options{})
	if err := m.Delta("ghost", "text"); err != ErrNotFound {
		t.Fatalf("Delta = %v, want ErrNotFound", err)
	}
	if err := m.Final("ghost", ""); err != ErrNotFound {
		t.Fatalf("Final = %v, want ErrNotFound", err)
	}
}

func TestManagerDuplicateFinalSuppressed(t *testing.T) {
	mock := channel.NewMock()
	store := history.NewInMemoryStore()
	m := newTestManager(mock, store, Options{})

	if err := m.Open("s1", channel.Target{ChatID: "c1"}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Final("s1", "answer"); err != nil {
		t.Fatalf("Final: %v", err)
	}
	before := len(mock.Ops())

	// Resent events for a finished stream must be swallowed, not errored.
	if err := m.Final("s1", "answer"); err != nil {
		t.Fatalf("duplicate Final = %v, want nil", err)
	}
	if err := m.Delta("s1", "answer again"); err != nil {
		t.Fatalf("Delta after final = %v, want nil", err)
	}
	if err := m.Open("s1", channel.Target{ChatID: "c1"}); err != nil {
		t.Fatalf("Open after final = %v, want nil", err)
	}
	if got := m.ActiveCount(); got != 0 {
		t.Fatalf("active = %d, want 0 (finished id must not reactivate)", got)
	}
	if got := len(mock.Ops()); got != before {
		t.Fatalf("ops = %d, want %d (duplicates must not redeliver)", got, before)
	}
}

func TestManagerDupeCacheEvictsOldest(t *testing.T) {
	m := newTestManager(channel.NewMock(), nil, Options{DupeCacheSize: 2})

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := m.Open(id, channel.Target{ChatID: "c1"}); err != nil {
			t.Fatalf("Open(%s): %v", id, err)
		}
		if err := m.Final(id, "done "+id); err != nil {
			t.Fatalf("Final(%s): %v", id, err)
		}
	}

	// s1 fell out of the bounded cache, so its resent final is unknown again.
	if err := m.Final("s1", "done s1"); err != ErrNotFound {
		t.Fatalf("Final(evicted) = %v, want ErrNotFound", err)
	}
	if err := m.Final("s3", "done s3"); err != nil {
		t.Fatalf("Final(cached) = %v, want suppressed nil", err)
	}
}

func TestManagerJanitorExpiresInactiveStreams(t *testing.T) {
	mock := channel.NewMock()
	store := history.NewInMemoryStore()
	m := newTestManager(mock, store, Options{
		StreamConfig:      stream.Config{UpdateInterval: time.Millisecond},
		InactivityTimeout: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 5*time.Millisecond)

	if err := m.Open("s1", channel.Target{ChatID: "c1"}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Delta("s1", "halfway there"); err != nil {
		t.Fatalf("Delta: %v", err)
	}

	// The archive write is the last step of expiry, so polling it covers the
	// terminal delivery too.
	deadline := time.Now().Add(2 * time.Second)
	var replies []history.ReplyRecord
	for {
		var err error
		replies, err = store.RecentReplies(context.Background(), "c1", 0)
		if err != nil {
			t.Fatalf("RecentReplies: %v", err)
		}
		if len(replies) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stream never expired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := m.ActiveCount(); got != 0 {
		t.Fatalf("active = %d, want 0 after expiry", got)
	}
	if len(replies) != 1 || replies[0].Content != "halfway there" {
		t.Fatalf("archived replies = %+v, want the partial text", replies)
	}
	ops := mock.Ops()
	last := ops[len(ops)-1]
	if last.Streaming {
		t.Fatalf("last op = %+v, want expired stream frozen without streaming flag", last)
	}
}

func TestManagerShutdownFinalizesRemaining(t *testing.T) {
	mock := channel.NewMock()
	m := newTestManager(mock, nil, Options{
		StreamConfig: stream.Config{UpdateInterval: time.Millisecond},
	})

	if err := m.Open("s1", channel.Target{ChatID: "c1"}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Delta("s1", "about to stop"); err != nil {
		t.Fatalf("Delta: %v", err)
	}
	m.Shutdown()

	if got := m.ActiveCount(); got != 0 {
		t.Fatalf("active = %d, want 0 after shutdown", got)
	}
	ops := mock.Ops()
	last := ops[len(ops)-1]
	if last.Streaming || last.Content != "about to stop" {
		t.Fatalf("last op = %+v, want frozen final content", last)
	}
}
