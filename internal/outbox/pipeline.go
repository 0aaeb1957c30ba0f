// Package outbox sends agent messages optimistically: a message is visible
// locally before the server confirms it, then promoted or marked failed.
package outbox

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/bus"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/metrics"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
)

var (
	// ErrEmptyText is returned when the text to send is blank.
	ErrEmptyText = errors.New("message text is empty")
	// ErrNotRetryable is returned when retrying a message that is not failed.
	ErrNotRetryable = errors.New("message is not in failed state")
)

// Sender delivers an agent message and returns its server identifier.
type Sender interface {
	SendMessage(ctx context.Context, convID, text string) (string, error)
}

// ReadNotifier tells the server a conversation was read.
type ReadNotifier interface {
	MarkRead(ctx context.Context, convID string) error
}

// Pipeline owns the lifecycle of outgoing messages.
type Pipeline struct {
	store   *store.Store
	sender  Sender
	reads   ReadNotifier
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// New creates an outbox pipeline.
func New(st *store.Store, sender Sender, reads ReadNotifier, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:   st,
		sender:  sender,
		reads:   reads,
		bus:     b,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Begin inserts an optimistic message with a temporary id and status
// sending. The conversation and its list are created if missing.
func (p *Pipeline) Begin(convID, text string) (store.Message, error) {
	if strings.TrimSpace(text) == "" {
		return store.Message{}, ErrEmptyText
	}
	msg := store.Message{
		ID:             store.NewTempID(),
		ConversationID: convID,
		Sender:         store.SenderAgent,
		Content:        text,
		Timestamp:      p.now().Unix(),
		MediaType:      store.MediaText,
		DeliveryStatus: store.StatusSending,
	}
	p.store.Do(func(tx *store.Tx) {
		conv, ok := tx.Conversation(convID)
		if !ok {
			conv = store.Conversation{ID: convID}
		}
		list, _ := tx.Messages(convID)
		tx.SetMessages(convID, append(list, msg))
		conv.LastMessagePreview = text
		conv.LastUpdated = max(conv.LastUpdated, msg.Timestamp)
		tx.PutConversation(conv)
	})
	return msg, nil
}

// Deliver sends a message created by Begin and settles it. It returns the
// server id.
func (p *Pipeline) Deliver(ctx context.Context, msg store.Message) (string, error) {
	serverID, err := p.sender.SendMessage(ctx, msg.ConversationID, msg.Content)
	p.metrics.Send(err)
	if err != nil {
		p.logger.Warn("send failed",
			zap.String("conversation", msg.ConversationID),
			zap.String("temp_id", msg.ID),
			zap.Error(err))
		p.Fail(msg.ConversationID, msg.ID, err)
		return "", err
	}
	p.logger.Debug("message sent",
		zap.String("temp_id", msg.ID),
		zap.String("server_id", serverID))
	p.Complete(msg.ConversationID, msg.ID, serverID)
	return serverID, nil
}

// Send is Begin followed by Deliver. It returns the server id.
func (p *Pipeline) Send(ctx context.Context, convID, text string) (string, error) {
	msg, err := p.Begin(convID, text)
	if err != nil {
		return "", err
	}
	return p.Deliver(ctx, msg)
}

// Complete promotes a temp message to its server id. If the authoritative
// copy already arrived through the push channel the temp entry is dropped
// instead. A temp message that no longer exists is left alone.
func (p *Pipeline) Complete(convID, tempID, serverID string) {
	p.store.Do(func(tx *store.Tx) {
		list, ok := tx.Messages(convID)
		if !ok {
			return
		}
		i := indexOf(list, tempID)
		if i < 0 {
			return
		}
		if indexOf(list, serverID) >= 0 {
			tx.SetMessages(convID, append(list[:i:i], list[i+1:]...))
			return
		}
		list[i].ID = serverID
		list[i].DeliveryStatus = store.StatusDelivered
		tx.SetMessages(convID, list)
	})
	p.bus.Emit(bus.SendAck, bus.SendResult{ConversationID: convID, TempID: tempID, ServerID: serverID})
}

// Fail marks a temp message as failed. It stays visible for a retry.
func (p *Pipeline) Fail(convID, tempID string, err error) {
	p.store.Do(func(tx *store.Tx) {
		list, ok := tx.Messages(convID)
		if !ok {
			return
		}
		if i := indexOf(list, tempID); i >= 0 {
			list[i].DeliveryStatus = store.StatusFailed
			tx.SetMessages(convID, list)
		}
	})
	p.bus.Emit(bus.SendFailed, bus.SendResult{ConversationID: convID, TempID: tempID, Err: err})
}

// PrepareRetry moves a failed temp message back to sending with a fresh
// timestamp and returns it for Deliver.
func (p *Pipeline) PrepareRetry(convID, tempID string) (store.Message, error) {
	var (
		msg store.Message
		err = ErrNotRetryable
	)
	p.store.Do(func(tx *store.Tx) {
		list, _ := tx.Messages(convID)
		i := indexOf(list, tempID)
		if i < 0 || list[i].DeliveryStatus != store.StatusFailed {
			return
		}
		list[i].DeliveryStatus = store.StatusSending
		list[i].Timestamp = p.now().Unix()
		tx.SetMessages(convID, list)
		msg, err = list[i], nil
	})
	return msg, err
}

// MarkRead zeroes the conversation's unread counter locally.
func (p *Pipeline) MarkRead(convID string) {
	p.store.Do(func(tx *store.Tx) {
		conv, ok := tx.Conversation(convID)
		if !ok || conv.UnreadCount == 0 {
			return
		}
		conv.UnreadCount = 0
		tx.PutConversation(conv)
	})
}

// NotifyRead reports the read to the server. Failures are logged only; the
// local counter stays zero.
func (p *Pipeline) NotifyRead(ctx context.Context, convID string) {
	if p.reads == nil {
		return
	}
	if err := p.reads.MarkRead(ctx, convID); err != nil {
		p.logger.Warn("mark read failed", zap.String("conversation", convID), zap.Error(err))
	}
}

func indexOf(list []store.Message, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}
