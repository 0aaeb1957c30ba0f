package api

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
)

// ErrInvalidMessage is returned for a wire message missing required fields.
var ErrInvalidMessage = errors.New("invalid message")

// UnixTime decodes a timestamp given as a number or a numeric string, in
// seconds or milliseconds, into seconds.
type UnixTime int64

// UnmarshalJSON implements json.Unmarshaler.
func (t *UnixTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*t = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", s, err)
	}
	v := int64(f)
	// Anything past year 33658 in seconds is a millisecond value.
	if v > 1e12 {
		v /= 1000
	}
	*t = UnixTime(v)
	return nil
}

// NormalizeSender maps the wire sender vocabulary onto store senders.
func NormalizeSender(s string) (store.Sender, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cliente", "customer", "client":
		return store.SenderCustomer, true
	case "vendedor", "agent", "seller":
		return store.SenderAgent, true
	}
	return "", false
}

// NormalizeMediaType classifies a wire media type (possibly a MIME type).
func NormalizeMediaType(s string) store.MediaType {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "image"), strings.Contains(lower, "sticker"):
		return store.MediaImage
	case strings.Contains(lower, "audio"):
		return store.MediaAudio
	case strings.Contains(lower, "video"):
		return store.MediaVideo
	case strings.Contains(lower, "document"), strings.Contains(lower, "pdf"):
		return store.MediaDocument
	}
	return store.MediaText
}

// WireReaction is a reaction as sent by the backend.
type WireReaction struct {
	Emoji string `json:"emoji"`
	From  string `json:"from"`
}

// WireMessage is a message as sent by the backend, both in history responses
// and inside push events.
type WireMessage struct {
	MessageID string         `json:"message_id"`
	ID        string         `json:"id"`
	ContactID string         `json:"contact_id"`
	Sender    string         `json:"sender"`
	Content   string         `json:"content"`
	Text      string         `json:"text"`
	Timestamp UnixTime       `json:"timestamp"`
	MediaType string         `json:"media_type"`
	Reactions []WireReaction `json:"reactions"`
}

// Message converts w into a store message. convID is used when the wire
// message does not carry its own conversation id.
func (w WireMessage) Message(convID string) (store.Message, error) {
	id := w.MessageID
	if id == "" {
		id = w.ID
	}
	if id == "" {
		return store.Message{}, fmt.Errorf("%w: missing message_id", ErrInvalidMessage)
	}
	sender, ok := NormalizeSender(w.Sender)
	if !ok {
		return store.Message{}, fmt.Errorf("%w: sender %q", ErrInvalidMessage, w.Sender)
	}
	if w.ContactID != "" {
		convID = w.ContactID
	}
	content := w.Content
	if content == "" {
		content = w.Text
	}

	m := store.Message{
		ID:             id,
		ConversationID: convID,
		Sender:         sender,
		Content:        content,
		Timestamp:      int64(w.Timestamp),
		MediaType:      NormalizeMediaType(w.MediaType),
	}
	if sender == store.SenderAgent {
		m.DeliveryStatus = store.StatusDelivered
	}
	for _, r := range w.Reactions {
		if r.From == "" || r.Emoji == "" {
			continue
		}
		m.Reactions = setReaction(m.Reactions, store.Reaction{Emoji: r.Emoji, From: r.From})
	}
	return m, nil
}

func setReaction(list []store.Reaction, r store.Reaction) []store.Reaction {
	for i := range list {
		if list[i].From == r.From {
			list[i] = r
			return list
		}
	}
	return append(list, r)
}

// WireConversation is a conversation as sent by the backend.
type WireConversation struct {
	ID          string   `json:"id"`
	ContactID   string   `json:"contact_id"`
	Name        string   `json:"name"`
	ContactName string   `json:"contact_name"`
	CustomName  string   `json:"custom_name"`
	Phone       string   `json:"phone"`
	AvatarURL   string   `json:"avatar_url"`
	ProfilePic  string   `json:"profile_pic_url"`
	LastMessage string   `json:"last_message"`
	LastUpdated UnixTime `json:"last_updated"`
	Timestamp   UnixTime `json:"timestamp"`
	UnreadCount int      `json:"unread_count"`
}

// Conversation converts w into a store conversation.
func (w WireConversation) Conversation() (store.Conversation, bool) {
	id := w.ID
	if id == "" {
		id = w.ContactID
	}
	if id == "" {
		return store.Conversation{}, false
	}
	name := w.Name
	if name == "" {
		name = w.ContactName
	}
	// The backend falls back to the raw id when it has no name.
	if name == id || name == "Desconhecido" {
		name = ""
	}
	avatar := w.AvatarURL
	if avatar == "" {
		avatar = w.ProfilePic
	}
	updated := int64(w.LastUpdated)
	if updated == 0 {
		updated = int64(w.Timestamp)
	}
	unread := w.UnreadCount
	if unread < 0 {
		unread = 0
	}
	return store.Conversation{
		ID:                 id,
		CustomName:         w.CustomName,
		RemoteName:         name,
		Phone:              w.Phone,
		AvatarURL:          avatar,
		LastMessagePreview: w.LastMessage,
		LastUpdated:        updated,
		UnreadCount:        unread,
	}, true
}
