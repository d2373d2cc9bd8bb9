package channel

import (
	"context"
	"fmt"
	"sync"
)

// Mock is an in-memory Sender for tests and local development. It records
// every call in order and can be scripted to fail specific creates or
// updates.
type Mock struct {
	mu         sync.Mutex
	nextID     int
	ops        []MockOp
	contents   map[string]string
	failCreate func(seq int) error
	failUpdate func(ref MessageRef) error
	typing     []TypingEvent
}

// TypingEvent is one recorded SetTyping call.
type TypingEvent struct {
	ChatID string
	Typing bool
}

// MockOp is one recorded CreateMessage or UpdateMessage call.
type MockOp struct {
	Kind      string // "create" or "update"
	Ref       MessageRef
	Target    Target
	Content   string
	Streaming bool
}

func NewMock() *Mock {
	return &Mock{contents: make(map[string]string)}
}

// FailCreates installs a hook consulted per create call; seq counts creates
// from zero. A non-nil return fails that call.
func (m *Mock) FailCreates(fn func(seq int) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCreate = fn
}

// FailUpdates installs a hook consulted per update call.
func (m *Mock) FailUpdates(fn func(ref MessageRef) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUpdate = fn
}

func (m *Mock) CreateMessage(_ context.Context, target Target, content string, streaming bool) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq := m.nextID
	m.nextID++
	if m.failCreate != nil {
		if err := m.failCreate(seq); err != nil {
			m.ops = append(m.ops, MockOp{Kind: "create", Target: target, Content: content, Streaming: streaming})
			return MessageRef{}, err
		}
	}
	ref := MessageRef{ID: fmt.Sprintf("m%d", seq+1)}
	m.contents[ref.ID] = content
	m.ops = append(m.ops, MockOp{Kind: "create", Ref: ref, Target: target, Content: content, Streaming: streaming})
	return ref, nil
}

func (m *Mock) UpdateMessage(_ context.Context, ref MessageRef, content string, streaming bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, MockOp{Kind: "update", Ref: ref, Content: content, Streaming: streaming})
	if m.failUpdate != nil {
		if err := m.failUpdate(ref); err != nil {
			return err
		}
	}
	m.contents[ref.ID] = content
	return nil
}

func (m *Mock) SetTyping(_ context.Context, chatID string, typing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing = append(m.typing, TypingEvent{ChatID: chatID, Typing: typing})
	return nil
}

// TypingEvents returns a copy of all recorded SetTyping calls in order.
func (m *Mock) TypingEvents() []TypingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TypingEvent, len(m.typing))
	copy(out, m.typing)
	return out
}

// Ops returns a copy of all recorded calls in order.
func (m *Mock) Ops() []MockOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockOp, len(m.ops))
	copy(out, m.ops)
	return out
}

// Content returns the latest content of a message, or "" if unknown.
func (m *Mock) Content(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contents[id]
}

// MessageCount returns how many remote messages have been created.
func (m *Mock) MessageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contents)
}
