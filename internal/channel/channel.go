// Package channel defines the messaging-surface capability the streaming
// engine consumes. A concrete channel (gateway, bot API, ...) only ever has
// to create and edit messages; everything else is the engine's problem.
package channel

import "context"

// Target identifies where and how a reply is delivered.
type Target struct {
	ChatID   string
	ReplyTo  string // optional message to thread under
	Markdown bool   // render as a markdown card when the surface supports it
}

// MessageRef identifies a remote message previously created on the surface.
type MessageRef struct {
	ID string
}

// Sender is the minimal create/update capability of a chat surface. The
// streaming flag marks a message as still being written, rendered distinctly
// from finished content by surfaces that support it.
//
// CreateMessage returns the identifier of the new remote message; on failure
// the ref is zero and the caller must treat the segment as untracked rather
// than silently absent.
type Sender interface {
	CreateMessage(ctx context.Context, target Target, content string, streaming bool) (MessageRef, error)
	UpdateMessage(ctx context.Context, ref MessageRef, content string, streaming bool) error
}

// TypingSetter is an optional Sender capability: toggling the chat's typing
// indicator. Surfaces without it simply never show one.
type TypingSetter interface {
	SetTyping(ctx context.Context, chatID string, typing bool) error
}
