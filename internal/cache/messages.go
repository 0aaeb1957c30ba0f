package cache

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
)

// MessageCacheKey is the key the message lists are stored under.
const MessageCacheKey = "cosmos.messageCache.v1"

// MessageCache reads and writes the conversation id → message list map.
type MessageCache struct {
	backend Backend
	log     *zap.Logger
}

// NewMessageCache wraps backend.
func NewMessageCache(backend Backend, log *zap.Logger) *MessageCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageCache{backend: backend, log: log}
}

// Load returns the cached message lists. A missing or unreadable cache yields
// an empty map. Messages still marked as sending were interrupted by the
// previous process and come back as failed.
func (c *MessageCache) Load() map[string][]store.Message {
	out := make(map[string][]store.Message)

	raw, ok, err := c.backend.Get(MessageCacheKey)
	if err != nil {
		c.log.Warn("message cache read failed", zap.Error(err))
		return out
	}
	if !ok || len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		c.log.Warn("message cache corrupt, starting empty", zap.Error(err))
		return make(map[string][]store.Message)
	}

	for id, list := range out {
		if id == "" || list == nil {
			delete(out, id)
			continue
		}
		for i := range list {
			if list[i].DeliveryStatus == store.StatusSending {
				list[i].DeliveryStatus = store.StatusFailed
			}
		}
	}
	return out
}

// Save replaces the cached message lists.
func (c *MessageCache) Save(lists map[string][]store.Message) error {
	raw, err := json.Marshal(lists)
	if err != nil {
		return fmt.Errorf("encode message cache: %w", err)
	}
	if err := c.backend.Put(MessageCacheKey, raw); err != nil {
		return fmt.Errorf("write message cache: %w", err)
	}
	return nil
}

// Clear removes the cached message lists.
func (c *MessageCache) Clear() error {
	return c.backend.Delete(MessageCacheKey)
}
