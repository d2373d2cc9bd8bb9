package stream

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/chatstream/internal/channel"
)

// DefaultUpdateInterval spaces remote edits for one stream. Chat surfaces
// rate-limit edits aggressively; 400ms keeps the live-typing illusion without
// tripping those limits.
const DefaultUpdateInterval = 400 * time.Millisecond

var errSegmentMismatch = errors.New("stream: locked-in segment prefix no longer matches")

// Config carries the immutable per-stream settings.
type Config struct {
	// ChunkLimit is the maximum remote message size in bytes. Zero or
	// negative disables splitting.
	ChunkLimit int
	// ChunkMode selects the boundary preference for splitting.
	ChunkMode ChunkMode
	// UpdateInterval overrides DefaultUpdateInterval when positive.
	UpdateInterval time.Duration
	// Logf receives delivery diagnostics. Defaults to log.Printf.
	Logf func(format string, args ...any)
}

// Streamer relays one logical, incrementally-growing reply to a chat surface
// as a bounded, ordered sequence of create/update calls. When the content
// outgrows the size limit it spills into additional messages while only the
// last one keeps changing.
//
// One Streamer serializes its own deliveries through an internal queue; it is
// not meant for multiple concurrent producers of the same reply. Deliveries
// run asynchronously with a background context; timeout behavior belongs to
// the Sender.
type Streamer struct {
	sender channel.Sender
	target channel.Target
	cfg    Config
	queue  *serialQueue

	mu           sync.Mutex
	finalized    bool
	lastContent  string    // most recent content accepted for delivery
	lastQueuedAt time.Time // submission time of the most recent delivery
	everQueued   bool
	pending      string
	pendingTimer *time.Timer

	// Delivery state below is touched only by the serial queue worker, so it
	// needs no locking: there is never more than one delivery in flight.
	segments     []string
	finalizedLen int // bytes locked into messages before the last one
	msgRefs      []channel.MessageRef
	delivered    string // last content that completed a delivery pass
}

func New(sender channel.Sender, target channel.Target, cfg Config) *Streamer {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultUpdateInterval
	}
	if cfg.Logf == nil {
		cfg.Logf = log.Printf
	}
	s := &Streamer{
		sender: sender,
		target: target,
		cfg:    cfg,
	}
	s.queue = newSerialQueue(cfg.Logf)
	return s
}

// Update offers the full accumulated reply text so far. The first update and
// any update arriving after the rate interval deliver immediately; bursts in
// between collapse into a single pending slot where the newest content wins.
func (s *Streamer) Update(content string) {
	s.schedule(content, false)
}

// Finalize flushes pending content and performs one terminal delivery that
// clears the streaming marker. The effective content is the explicit
// argument, else the pending payload, else the last delivered text. Calling
// Finalize again is a no-op.
func (s *Streamer) Finalize(content string) {
	s.schedule(content, true)
}

// Finalized reports whether the stream has gone terminal.
func (s *Streamer) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// Wait blocks until all deliveries submitted so far have settled.
func (s *Streamer) Wait() {
	s.queue.wait()
}

// LastContent returns the most recent content accepted for delivery.
func (s *Streamer) LastContent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastContent
}

// MessageCount reports how many remote messages the stream currently owns.
// Call it only after Wait, while no new deliveries are being submitted.
func (s *Streamer) MessageCount() int {
	return len(s.msgRefs)
}

func (s *Streamer) schedule(content string, final bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return
	}

	if final {
		s.finalized = true
		s.stopTimerLocked()
		if content == "" {
			content = s.pending
		}
		if content == "" {
			content = s.lastContent
		}
		s.pending = ""
		if content == "" {
			return
		}
		s.lastContent = content
		s.enqueueLocked(content, true)
		return
	}

	if content == s.lastContent {
		return
	}

	now := time.Now()
	if !s.everQueued || now.Sub(s.lastQueuedAt) >= s.cfg.UpdateInterval {
		s.stopTimerLocked()
		s.pending = ""
		s.lastContent = content
		s.enqueueLocked(content, false)
		return
	}

	s.pending = content
	if s.pendingTimer == nil {
		delay := s.cfg.UpdateInterval - now.Sub(s.lastQueuedAt)
		s.pendingTimer = time.AfterFunc(delay, s.flushPending)
	}
}

// flushPending fires on the debounce timer and delivers the newest pending
// payload, unless it is empty or already delivered.
func (s *Streamer) flushPending() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pendingTimer = nil
	content := s.pending
	s.pending = ""
	if s.finalized || content == "" || content == s.lastContent {
		return
	}
	s.lastContent = content
	s.enqueueLocked(content, false)
}

func (s *Streamer) stopTimerLocked() {
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
		s.pendingTimer = nil
	}
}

func (s *Streamer) enqueueLocked(content string, final bool) {
	s.everQueued = true
	s.lastQueuedAt = time.Now()
	name := "update"
	if final {
		name = "finalize"
	}
	s.queue.enqueue(name, func() error {
		s.deliver(context.Background(), content, final)
		return nil
	})
}

// deliver runs on the queue worker and brings the remote messages in line
// with content. Network failures are logged per call and never abort the
// pass; the next delivery is the retry vehicle.
func (s *Streamer) deliver(ctx context.Context, content string, final bool) {
	if !IsContinuation(s.delivered, content) {
		// The producer restarted its answer. Freeze what the chat already
		// shows and start a fresh message sequence for the new content.
		s.closeActiveMessage(ctx)
		s.resetDeliveryState()
	}

	segs, err := s.buildSegments(content)
	if err != nil {
		s.closeActiveMessage(ctx)
		s.resetDeliveryState()
		// With no prior segments a rebuild cannot mismatch.
		segs, _ = s.buildSegments(content)
	}
	if len(segs) == 0 {
		return
	}

	s.syncMessages(ctx, segs, final)

	s.segments = segs
	s.finalizedLen = 0
	for _, seg := range segs[:len(segs)-1] {
		s.finalizedLen += len(seg)
	}
	s.delivered = content
}

// buildSegments recomputes the segment list for full, reusing every already
// locked-in segment and re-splitting only the mutable tail. It fails when the
// locked-in prefix no longer matches the new content.
func (s *Streamer) buildSegments(full string) ([]string, error) {
	if len(s.segments) == 0 {
		return Split(full, 0, s.cfg.ChunkLimit, s.cfg.ChunkMode), nil
	}
	if len(full) < s.finalizedLen {
		return nil, errSegmentMismatch
	}
	remaining := full[s.finalizedLen:]
	last := s.segments[len(s.segments)-1]
	if last != "" && !strings.HasPrefix(remaining, last) {
		return nil, errSegmentMismatch
	}
	tail := Split(remaining, len(last), s.cfg.ChunkLimit, s.cfg.ChunkMode)
	segs := make([]string, 0, len(s.segments)-1+len(tail))
	segs = append(segs, s.segments[:len(s.segments)-1]...)
	segs = append(segs, tail...)
	return segs, nil
}

// syncMessages drives the minimal create/update calls that take the remote
// state from the previously tracked messages to segs.
func (s *Streamer) syncMessages(ctx context.Context, segs []string, final bool) {
	prev := len(s.msgRefs)
	next := len(segs)

	if next < prev {
		// Segmentation shrank mid-flight: freeze the active message and
		// restart the sequence from scratch.
		s.closeActiveMessage(ctx)
		s.msgRefs = nil
		prev = 0
	}

	if prev == 0 {
		s.createMessages(ctx, segs, 0, final)
		return
	}

	if next > prev {
		// The previously-last message is now locked in; rewrite it without
		// the streaming marker before appending the new tail.
		ref := s.msgRefs[prev-1]
		if err := s.sender.UpdateMessage(ctx, ref, segs[prev-1], false); err != nil {
			s.cfg.Logf("stream: update message %s failed: %v", ref.ID, err)
		}
		s.createMessages(ctx, segs, prev, final)
		return
	}

	ref := s.msgRefs[next-1]
	if err := s.sender.UpdateMessage(ctx, ref, segs[next-1], !final); err != nil {
		s.cfg.Logf("stream: update message %s failed: %v", ref.ID, err)
	}
}

// createMessages sends segs[from:] as new messages. Only the final segment
// carries the streaming marker, and only while the stream is not terminal.
func (s *Streamer) createMessages(ctx context.Context, segs []string, from int, final bool) {
	for i := from; i < len(segs); i++ {
		streaming := i == len(segs)-1 && !final
		ref, err := s.sender.CreateMessage(ctx, s.target, segs[i], streaming)
		if err != nil {
			// The segment stays untracked and is retried as a new message on
			// the next pass. A later create succeeding while an earlier one
			// failed shifts the ref-to-segment alignment; we keep going
			// rather than aborting the tail.
			s.cfg.Logf("stream: create message for segment %d failed: %v", i, err)
			continue
		}
		s.msgRefs = append(s.msgRefs, ref)
	}
}

// closeActiveMessage rewrites the still-mutable remote message with its
// current content and clears its streaming marker.
func (s *Streamer) closeActiveMessage(ctx context.Context) {
	if len(s.msgRefs) == 0 || len(s.segments) == 0 {
		return
	}
	ref := s.msgRefs[len(s.msgRefs)-1]
	content := s.segments[len(s.segments)-1]
	if err := s.sender.UpdateMessage(ctx, ref, content, false); err != nil {
		s.cfg.Logf("stream: finalize message %s failed: %v", ref.ID, err)
	}
}

func (s *Streamer) resetDeliveryState() {
	s.segments = nil
	s.finalizedLen = 0
	s.msgRefs = nil
	s.delivered = ""
}
