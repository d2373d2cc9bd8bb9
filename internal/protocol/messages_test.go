package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageStreamOpen(t *testing.T) {
	raw := []byte(`{"type":"stream_open","stream_id":"st1","chat_id":"c42","reply_to":"m7"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	open, ok := msg.(StreamOpen)
	if !ok {
		t.Fatalf("message type = %T, want StreamOpen", msg)
	}
	if open.StreamID != "st1" || open.ChatID != "c42" || open.ReplyTo != "m7" {
		t.Fatalf("unexpected stream_open: %+v", open)
	}
}

func TestParseClientMessageReplyDelta(t *testing.T) {
	raw := []byte(`{"type":"reply_delta","stream_id":"st1","content":"Hello so far","ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	delta, ok := msg.(ReplyDelta)
	if !ok {
		t.Fatalf("message type = %T, want ReplyDelta", msg)
	}
	if delta.StreamID != "st1" || delta.Content != "Hello so far" {
		t.Fatalf("unexpected reply_delta: %+v", delta)
	}
}

func TestParseClientMessageReplyFinalAllowsEmptyContent(t *testing.T) {
	raw := []byte(`{"type":"reply_final","stream_id":"st1"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	final, ok := msg.(ReplyFinal)
	if !ok {
		t.Fatalf("message type = %T, want ReplyFinal", msg)
	}
	if final.Content != "" {
		t.Fatalf("Content = %q, want empty", final.Content)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsMissingStreamID(t *testing.T) {
	for _, raw := range []string{
		`{"type":"stream_open","chat_id":"c1"}`,
		`{"type":"stream_open","stream_id":"st1"}`,
		`{"type":"reply_delta","content":"x"}`,
		`{"type":"reply_final"}`,
	} {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) accepted, want validation error", raw)
		}
	}
}
