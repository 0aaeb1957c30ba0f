package store

import (
	"strings"

	"github.com/google/uuid"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderAgent    Sender = "agent"
)

// MediaType classifies message content.
type MediaType string

const (
	MediaText     MediaType = "text"
	MediaImage    MediaType = "image"
	MediaAudio    MediaType = "audio"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
)

// DeliveryStatus tracks an agent message created locally.
type DeliveryStatus string

const (
	StatusNone      DeliveryStatus = ""
	StatusSending   DeliveryStatus = "sending"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// TempIDPrefix marks identifiers generated locally for unconfirmed messages.
// Server identifiers never carry it.
const TempIDPrefix = "tmp-"

// NewTempID returns a fresh temporary message identifier.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was generated locally.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Conversation is a synced conversation with a customer.
type Conversation struct {
	ID                 string `json:"id"`
	CustomName         string `json:"custom_name,omitempty"`
	RemoteName         string `json:"name,omitempty"`
	Phone              string `json:"phone,omitempty"`
	AvatarURL          string `json:"avatar_url,omitempty"`
	LastMessagePreview string `json:"last_message,omitempty"`
	LastUpdated        int64  `json:"last_updated,omitempty"`
	UnreadCount        int    `json:"unread_count"`
}

// DisplayName resolves the name shown for the conversation:
// custom name, then remote name, then the formatted phone number.
func (c Conversation) DisplayName() string {
	if n := strings.TrimSpace(c.CustomName); n != "" {
		return n
	}
	if n := strings.TrimSpace(c.RemoteName); n != "" && !strings.Contains(n, "@") {
		return n
	}
	phone := c.Phone
	if phone == "" {
		phone = c.ID
	}
	return FormatPhone(phone)
}

// Reaction is one participant's reaction to a message.
type Reaction struct {
	Emoji string `json:"emoji"`
	From  string `json:"from"`
}

// Message is a single message in a conversation.
type Message struct {
	ID             string         `json:"message_id"`
	ConversationID string         `json:"contact_id"`
	Sender         Sender         `json:"sender"`
	Content        string         `json:"content"`
	Timestamp      int64          `json:"timestamp"`
	MediaType      MediaType      `json:"media_type,omitempty"`
	DeliveryStatus DeliveryStatus `json:"delivery_status,omitempty"`
	Reactions      []Reaction     `json:"reactions,omitempty"`
}

// IsTemp reports whether the message is an unconfirmed local message.
func (m Message) IsTemp() bool {
	return IsTempID(m.ID)
}

// clone returns a copy that shares no slices with m.
func (m Message) clone() Message {
	if m.Reactions != nil {
		m.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	return m
}

// CopilotStatus is the state of a conversation's suggestion request.
type CopilotStatus string

const (
	CopilotIdle    CopilotStatus = "idle"
	CopilotLoading CopilotStatus = "loading"
	CopilotReady   CopilotStatus = "ready"
	CopilotError   CopilotStatus = "error"
)

// QueryKind distinguishes customer-message analysis from private questions.
type QueryKind string

const (
	QueryAnalysis QueryKind = "analysis"
	QueryInternal QueryKind = "internal"
)

// FollowUp is an alternative reply proposed by the assistant.
type FollowUp struct {
	Text        string `json:"text"`
	Recommended bool   `json:"is_recommended,omitempty"`
}

// Video points at a media asset suggested alongside the answer.
type Video struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Suggestion is the structured assistant output.
type Suggestion struct {
	Answer    string     `json:"immediate_answer"`
	FollowUps []FollowUp `json:"follow_up_options,omitempty"`
	Video     *Video     `json:"video,omitempty"`
}

// CopilotState is the per-conversation assistant state.
type CopilotState struct {
	Status CopilotStatus
	Query  string
	Kind   QueryKind
	Result *Suggestion
	// Gen increments on every new request; results carrying an older
	// generation are dropped.
	Gen uint64
}
