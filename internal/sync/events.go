package sync

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/api"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
)

// Push event types.
const (
	EventMessageCreated   = "message.created"
	EventMessageReaction  = "message.reaction"
	EventProfileUpdated   = "profile.updated"
	EventConversationRead = "conversation.read"
)

var (
	// ErrMalformedEvent is returned for frames that are not usable events.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEvent is returned for well-formed frames of an unknown type.
	ErrUnknownEvent = errors.New("unknown event type")
)

// Profile field names accepted in profile.updated.
const (
	FieldName       = "name"
	FieldCustomName = "custom_name"
	FieldPhone      = "phone"
	FieldAvatarURL  = "avatar_url"
)

// Event is a decoded push event.
type Event struct {
	Type           string
	ConversationID string

	// message.created
	Message store.Message

	// message.reaction
	MessageID string
	Emoji     string
	From      string

	// profile.updated: only non-empty values are present in Fields. Cleared
	// names fields the sender explicitly emptied.
	Fields  map[string]string
	Cleared []string
}

// DecodeEvent parses a push frame.
func DecodeEvent(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return Event{}, fmt.Errorf("%w: invalid json", ErrMalformedEvent)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Event{}, fmt.Errorf("%w: not an object", ErrMalformedEvent)
	}

	ev := Event{
		Type:           root.Get("type").String(),
		ConversationID: firstString(root, "conversationId", "conversation_id", "contact_id"),
	}

	switch ev.Type {
	case EventMessageCreated:
		raw := root.Get("message")
		if !raw.IsObject() {
			return ev, fmt.Errorf("%w: %s without message", ErrMalformedEvent, ev.Type)
		}
		var w api.WireMessage
		if err := json.Unmarshal([]byte(raw.Raw), &w); err != nil {
			return ev, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		m, err := w.Message(ev.ConversationID)
		if err != nil {
			return ev, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if ev.ConversationID != "" {
			m.ConversationID = ev.ConversationID
		}
		ev.Message = m
		ev.ConversationID = m.ConversationID

	case EventMessageReaction:
		ev.MessageID = firstString(root, "messageId", "message_id")
		ev.Emoji = root.Get("emoji").String()
		ev.From = root.Get("from").String()
		if ev.MessageID == "" || ev.From == "" {
			return ev, fmt.Errorf("%w: reaction needs messageId and from", ErrMalformedEvent)
		}

	case EventProfileUpdated:
		fields := root.Get("fields")
		if fields.Exists() && !fields.IsObject() {
			return ev, fmt.Errorf("%w: fields must be an object", ErrMalformedEvent)
		}
		ev.Fields = make(map[string]string)
		for _, name := range []string{FieldName, FieldCustomName, FieldPhone, FieldAvatarURL} {
			v := fields.Get(name)
			if v.Type == gjson.String && v.Str != "" {
				ev.Fields[name] = v.Str
			}
		}
		for _, c := range fields.Get("cleared").Array() {
			ev.Cleared = append(ev.Cleared, c.String())
		}
		for _, c := range root.Get("cleared").Array() {
			ev.Cleared = append(ev.Cleared, c.String())
		}

	case EventConversationRead:

	case "":
		return ev, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	default:
		return ev, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}

	if ev.ConversationID == "" {
		return ev, fmt.Errorf("%w: %s without conversationId", ErrMalformedEvent, ev.Type)
	}
	return ev, nil
}

func firstString(root gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := root.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
