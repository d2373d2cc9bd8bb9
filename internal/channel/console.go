package channel

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
)

// ConsoleSender echoes deliveries to the process log. It stands in for a real
// gateway during local development.
type ConsoleSender struct {
	nextID atomic.Int64
}

func NewConsoleSender() *ConsoleSender {
	return &ConsoleSender{}
}

func (s *ConsoleSender) CreateMessage(_ context.Context, target Target, content string, streaming bool) (MessageRef, error) {
	id := fmt.Sprintf("console-%d", s.nextID.Add(1))
	log.Printf("channel: create %s chat=%s streaming=%v %q", id, target.ChatID, streaming, content)
	return MessageRef{ID: id}, nil
}

func (s *ConsoleSender) UpdateMessage(_ context.Context, ref MessageRef, content string, streaming bool) error {
	log.Printf("channel: update %s streaming=%v %q", ref.ID, streaming, content)
	return nil
}

func (s *ConsoleSender) SetTyping(_ context.Context, chatID string, typing bool) error {
	log.Printf("channel: typing chat=%s typing=%v", chatID, typing)
	return nil
}
