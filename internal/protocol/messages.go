package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeStreamOpen  MessageType = "stream_open"
	TypeReplyDelta  MessageType = "reply_delta"
	TypeReplyFinal  MessageType = "reply_final"
	TypeStreamAck   MessageType = "stream_ack"
	TypeSystemEvent MessageType = "system_event"
	TypeErrorEvent  MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// StreamOpen announces a new reply stream bound to a chat target.
type StreamOpen struct {
	Type     MessageType `json:"type"`
	StreamID string      `json:"stream_id"`
	ChatID   string      `json:"chat_id"`
	ReplyTo  string      `json:"reply_to,omitempty"`
	Markdown bool        `json:"markdown,omitempty"`
}

// ReplyDelta carries the full accumulated reply text so far, not an
// increment. The relay decides what actually goes over the wire.
type ReplyDelta struct {
	Type     MessageType `json:"type"`
	StreamID string      `json:"stream_id"`
	Content  string      `json:"content"`
	TSMs     int64       `json:"ts_ms,omitempty"`
}

// ReplyFinal terminates a stream. Content may be empty to finalize with the
// last delivered text.
type ReplyFinal struct {
	Type     MessageType `json:"type"`
	StreamID string      `json:"stream_id"`
	Content  string      `json:"content,omitempty"`
}

// StreamAck confirms an ingest message was accepted.
type StreamAck struct {
	Type     MessageType `json:"type"`
	StreamID string      `json:"stream_id"`
	Accepted bool        `json:"accepted"`
}

type SystemEvent struct {
	Type     MessageType `json:"type"`
	StreamID string      `json:"stream_id"`
	Code     string      `json:"code"`
	Detail   string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type     MessageType `json:"type"`
	StreamID string      `json:"stream_id"`
	Code     string      `json:"code"`
	Detail   string      `json:"detail"`
}

// ParseClientMessage decodes and validates one inbound ingest payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeStreamOpen:
		var msg StreamOpen
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.StreamID == "" || msg.ChatID == "" {
			return nil, errors.New("invalid stream_open")
		}
		return msg, nil
	case TypeReplyDelta:
		var msg ReplyDelta
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.StreamID == "" {
			return nil, errors.New("invalid reply_delta")
		}
		return msg, nil
	case TypeReplyFinal:
		var msg ReplyFinal
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.StreamID == "" {
			return nil, errors.New("invalid reply_final")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
