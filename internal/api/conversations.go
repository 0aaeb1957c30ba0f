package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
)

type conversationListResponse struct {
	Status        string             `json:"status"`
	Conversations []WireConversation `json:"conversations"`
}

// ListConversations fetches the conversation list. Entries without an id are
// skipped.
func (c *Client) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	var resp conversationListResponse
	if err := c.do(ctx, http.MethodGet, "/conversations/", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	out := make([]store.Conversation, 0, len(resp.Conversations))
	for _, w := range resp.Conversations {
		if conv, ok := w.Conversation(); ok {
			out = append(out, conv)
		}
	}
	return out, nil
}

// ListMessages fetches the message history of a conversation. The backend
// answers either with a bare array or with {"messages": [...]}. Entries that
// fail validation are skipped.
func (c *Client) ListMessages(ctx context.Context, convID string) ([]store.Message, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/conversations/"+escape(convID)+"/messages", nil, &raw); err != nil {
		return nil, fmt.Errorf("listing messages of %s: %w", convID, err)
	}

	var wire []WireMessage
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0, bytes.Equal(trimmed, []byte("null")):
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &wire); err != nil {
			return nil, fmt.Errorf("listing messages of %s: %w: %v", convID, ErrBadResponse, err)
		}
	default:
		var env struct {
			Messages []WireMessage `json:"messages"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("listing messages of %s: %w: %v", convID, ErrBadResponse, err)
		}
		wire = env.Messages
	}

	out := make([]store.Message, 0, len(wire))
	for _, w := range wire {
		m, err := w.Message(convID)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

type sendRequest struct {
	Content string `json:"content"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	ID        string `json:"id"`
}

// SendMessage sends text to a conversation and returns the server message id.
func (c *Client) SendMessage(ctx context.Context, convID, text string) (string, error) {
	var resp sendResponse
	if err := c.do(ctx, http.MethodPost, "/conversations/"+escape(convID)+"/messages", sendRequest{Content: text}, &resp); err != nil {
		return "", fmt.Errorf("sending message to %s: %w", convID, err)
	}
	id := resp.MessageID
	if id == "" {
		id = resp.ID
	}
	if id == "" {
		return "", fmt.Errorf("sending message to %s: %w: missing message_id", convID, ErrBadResponse)
	}
	return id, nil
}

// MarkRead tells the backend the conversation has been read.
func (c *Client) MarkRead(ctx context.Context, convID string) error {
	if err := c.do(ctx, http.MethodPost, "/conversations/"+escape(convID)+"/mark-read", struct{}{}, nil); err != nil {
		return fmt.Errorf("marking %s read: %w", convID, err)
	}
	return nil
}

// DeleteConversation removes a conversation on the backend.
func (c *Client) DeleteConversation(ctx context.Context, convID string) error {
	if err := c.do(ctx, http.MethodDelete, "/conversations/"+escape(convID), nil, nil); err != nil {
		return fmt.Errorf("deleting %s: %w", convID, err)
	}
	return nil
}

type newConversationRequest struct {
	RecipientNumber string `json:"recipient_number"`
	InitialMessage  string `json:"initial_message"`
}

type newConversationResponse struct {
	ContactID string `json:"contact_id"`
}

// StartConversation opens a conversation with a phone number by sending the
// first message. It returns the new conversation id.
func (c *Client) StartConversation(ctx context.Context, number, text string) (string, error) {
	number = strings.TrimPrefix(strings.TrimSpace(number), "+")
	var resp newConversationResponse
	req := newConversationRequest{RecipientNumber: number, InitialMessage: text}
	if err := c.do(ctx, http.MethodPost, "/new-conversation", req, &resp); err != nil {
		return "", fmt.Errorf("starting conversation with %s: %w", number, err)
	}
	if resp.ContactID != "" {
		return resp.ContactID, nil
	}
	return number + "@s.whatsapp.net", nil
}
