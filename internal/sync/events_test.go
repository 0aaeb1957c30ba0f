package sync

import (
	"errors"
	"testing"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
)

func TestDecodeMessageCreated(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{
		"type": "message.created",
		"conversationId": "c1",
		"message": {"message_id": "srv-1", "sender": "cliente", "content": "oi", "timestamp": 1700000000000}
	}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.Type != EventMessageCreated || ev.ConversationID != "c1" {
		t.Errorf("event = %+v", ev)
	}
	m := ev.Message
	if m.ID != "srv-1" || m.Sender != store.SenderCustomer || m.Content != "oi" {
		t.Errorf("message = %+v", m)
	}
	if m.Timestamp != 1700000000 {
		t.Errorf("Timestamp = %d, want seconds", m.Timestamp)
	}
	if m.ConversationID != "c1" {
		t.Errorf("ConversationID = %q, want c1", m.ConversationID)
	}
}

func TestDecodeConversationIDSources(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"message.created","message":{"id":"m","contact_id":"c9","sender":"agent","text":"x"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.ConversationID != "c9" {
		t.Errorf("ConversationID = %q, want c9 from message", ev.ConversationID)
	}

	ev, err = DecodeEvent([]byte(`{"type":"message.created","conversation_id":"c1","message":{"id":"m","contact_id":"c9","sender":"agent","text":"x"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.ConversationID != "c1" || ev.Message.ConversationID != "c1" {
		t.Errorf("event-level id should win, got %q / %q", ev.ConversationID, ev.Message.ConversationID)
	}
}

func TestDecodeReaction(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"message.reaction","conversationId":"c1","messageId":"m1","emoji":"👍","from":"5511"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.MessageID != "m1" || ev.Emoji != "👍" || ev.From != "5511" {
		t.Errorf("event = %+v", ev)
	}
}

func TestDecodeProfile(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{
		"type": "profile.updated",
		"conversationId": "c1",
		"fields": {"name": "Ana", "avatar_url": "", "phone": null, "cleared": ["custom_name"]}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(ev.Fields) != 1 || ev.Fields[FieldName] != "Ana" {
		t.Errorf("Fields = %v, want only name", ev.Fields)
	}
	if len(ev.Cleared) != 1 || ev.Cleared[0] != FieldCustomName {
		t.Errorf("Cleared = %v", ev.Cleared)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", `{"type":`, ErrMalformedEvent},
		{"array", `[1,2]`, ErrMalformedEvent},
		{"missing type", `{"conversationId":"c1"}`, ErrMalformedEvent},
		{"unknown type", `{"type":"typing","conversationId":"c1"}`, ErrUnknownEvent},
		{"message missing", `{"type":"message.created","conversationId":"c1"}`, ErrMalformedEvent},
		{"message without id", `{"type":"message.created","conversationId":"c1","message":{"sender":"agent"}}`, ErrMalformedEvent},
		{"bad sender", `{"type":"message.created","conversationId":"c1","message":{"id":"m","sender":"bot"}}`, ErrMalformedEvent},
		{"reaction without from", `{"type":"message.reaction","conversationId":"c1","messageId":"m1"}`, ErrMalformedEvent},
		{"fields not object", `{"type":"profile.updated","conversationId":"c1","fields":"x"}`, ErrMalformedEvent},
		{"read without conversation", `{"type":"conversation.read"}`, ErrMalformedEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeEvent([]byte(tt.data)); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
