// Package relay routes incoming stream events to per-stream delivery
// pipelines and archives finalized replies.
package relay

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ent0n29/chatstream/internal/channel"
	"github.com/ent0n29/chatstream/internal/history"
	"github.com/ent0n29/chatstream/internal/observability"
	"github.com/ent0n29/chatstream/internal/stream"
)

var (
	ErrNotFound = errors.New("stream not found")
	ErrBadOpen  = errors.New("stream open requires stream and chat ids")
)

const defaultDupeCacheSize = 100

// Options tunes a Manager. Zero values fall back to sane defaults.
type Options struct {
	StreamConfig      stream.Config
	InactivityTimeout time.Duration
	DupeCacheSize     int
	Logf              func(format string, args ...any)
}

type entry struct {
	id             string
	target         channel.Target
	streamer       *stream.Streamer
	startedAt      time.Time
	lastActivityAt time.Time
}

// Manager owns the active streams. Each stream id maps to one Streamer; a
// bounded FIFO of finished ids suppresses duplicate deliveries from producers
// that resend after a reconnect.
type Manager struct {
	sender  channel.Sender
	store   history.Store
	metrics *observability.Metrics
	opts    Options

	mu       sync.RWMutex
	streams  map[string]*entry
	finished *dupeCache
}

func NewManager(sender channel.Sender, store history.Store, metrics *observability.Metrics, opts Options) *Manager {
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = 2 * time.Minute
	}
	if opts.DupeCacheSize <= 0 {
		opts.DupeCacheSize = defaultDupeCacheSize
	}
	if opts.Logf == nil {
		opts.Logf = log.Printf
	}
	return &Manager{
		sender:   sender,
		store:    store,
		metrics:  metrics,
		opts:     opts,
		streams:  make(map[string]*entry),
		finished: newDupeCache(opts.DupeCacheSize),
	}
}

// Open registers a stream. Opening an already-active stream only refreshes
// its activity clock; opening a recently finished id is suppressed so a
// reconnecting producer cannot start a second reply for the same stream.
func (m *Manager) Open(streamID string, target channel.Target) error {
	if streamID == "" || target.ChatID == "" {
		return ErrBadOpen
	}

	m.mu.Lock()
	if m.finished.contains(streamID) {
		m.countDuplicate()
		m.mu.Unlock()
		return nil
	}
	if e, ok := m.streams[streamID]; ok {
		e.lastActivityAt = time.Now().UTC()
		m.mu.Unlock()
		return nil
	}

	now := time.Now().UTC()
	m.streams[streamID] = &entry{
		id:             streamID,
		target:         target,
		streamer:       stream.New(m.sender, target, m.opts.StreamConfig),
		startedAt:      now,
		lastActivityAt: now,
	}
	m.mu.Unlock()

	m.event("open")
	if m.metrics != nil {
		m.metrics.ActiveStreams.Inc()
	}
	m.setTyping(target.ChatID, true)
	return nil
}

// Delta forwards the full accumulated reply text for a stream.
func (m *Manager) Delta(streamID, content string) error {
	m.mu.Lock()
	e, ok := m.streams[streamID]
	if !ok {
		suppressed := m.finished.contains(streamID)
		if suppressed {
			m.countDuplicate()
		}
		m.mu.Unlock()
		if suppressed {
			return nil
		}
		return ErrNotFound
	}
	e.lastActivityAt = time.Now().UTC()
	m.mu.Unlock()

	m.event("delta")
	e.streamer.Update(content)
	return nil
}

// Final terminates a stream, waits for the terminal delivery and archives the
// reply. A repeated final for the same id is swallowed.
func (m *Manager) Final(streamID, content string) error {
	m.mu.Lock()
	e, ok := m.streams[streamID]
	if !ok {
		suppressed := m.finished.contains(streamID)
		if suppressed {
			m.countDuplicate()
		}
		m.mu.Unlock()
		if suppressed {
			return nil
		}
		return ErrNotFound
	}
	delete(m.streams, streamID)
	m.finished.add(streamID)
	m.mu.Unlock()

	m.event("final")
	if m.metrics != nil {
		m.metrics.ActiveStreams.Dec()
	}
	m.finish(e, content)
	return nil
}

// ActiveCount reports the number of live streams.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// StartJanitor expires streams with no producer activity. An expired stream
// is finalized with whatever content it last saw.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

// Shutdown finalizes every remaining stream so no chat is left with a
// perpetually "streaming" message.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	remaining := make([]*entry, 0, len(m.streams))
	for id, e := range m.streams {
		remaining = append(remaining, e)
		delete(m.streams, id)
		m.finished.add(id)
	}
	m.mu.Unlock()

	for _, e := range remaining {
		if m.metrics != nil {
			m.metrics.ActiveStreams.Dec()
		}
		m.finish(e, "")
	}
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*entry

	m.mu.Lock()
	for id, e := range m.streams {
		if now.Sub(e.lastActivityAt) < m.opts.InactivityTimeout {
			continue
		}
		expired = append(expired, e)
		delete(m.streams, id)
		m.finished.add(id)
	}
	m.mu.Unlock()

	for _, e := range expired {
		m.event("expired")
		if m.metrics != nil {
			m.metrics.ActiveStreams.Dec()
		}
		m.opts.Logf("relay: stream %s expired after inactivity", e.id)
		m.finish(e, "")
	}
}

// finish drives the terminal delivery and archives the reply. A stream that
// never produced text finalizes silently and is not archived.
func (m *Manager) finish(e *entry, content string) {
	e.streamer.Finalize(content)
	e.streamer.Wait()
	m.setTyping(e.target.ChatID, false)

	text := e.streamer.LastContent()
	if text == "" || m.store == nil {
		return
	}
	rec := history.ReplyRecord{
		StreamID:     e.id,
		ChatID:       e.target.ChatID,
		Content:      text,
		MessageCount: e.streamer.MessageCount(),
		FinalizedAt:  time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveReply(ctx, rec); err != nil {
		m.opts.Logf("relay: archive stream %s failed: %v", e.id, err)
	}
}

// setTyping shows the indicator while a reply is being written, on surfaces
// that have one. Best-effort: a failure is logged and never blocks the stream.
func (m *Manager) setTyping(chatID string, typing bool) {
	ts, ok := m.sender.(channel.TypingSetter)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.SetTyping(ctx, chatID, typing); err != nil {
		m.opts.Logf("relay: typing signal for chat %s failed: %v", chatID, err)
	}
}

func (m *Manager) event(name string) {
	if m.metrics != nil {
		m.metrics.StreamEvents.WithLabelValues(name).Inc()
	}
}

func (m *Manager) countDuplicate() {
	if m.metrics != nil {
		m.metrics.DuplicatesSuppressed.Inc()
	}
}

// dupeCache is a bounded FIFO membership set. Callers hold the Manager lock.
type dupeCache struct {
	max int
	ids []string
	set map[string]struct{}
}

func newDupeCache(max int) *dupeCache {
	return &dupeCache{max: max, set: make(map[string]struct{}, max)}
}

func (c *dupeCache) contains(id string) bool {
	_, ok := c.set[id]
	return ok
}

func (c *dupeCache) add(id string) {
	if _, ok := c.set[id]; ok {
		return
	}
	c.ids = append(c.ids, id)
	c.set[id] = struct{}{}
	for len(c.ids) > c.max {
		oldest := c.ids[0]
		c.ids = c.ids[1:]
		delete(c.set, oldest)
	}
}
