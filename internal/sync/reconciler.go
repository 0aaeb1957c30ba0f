package sync

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/dedupe"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/metrics"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
)

// DefaultDedupWindow is how far apart, in external-clock time, an optimistic
// message and its authoritative copy may be and still be merged.
const DefaultDedupWindow = 5 * time.Second

const (
	seenTTL  = 30 * time.Minute
	seenSize = 10000
)

// Outcome describes what applying a message did.
type Outcome int

const (
	// Appended means the message was new.
	Appended Outcome = iota
	// Promoted means the message replaced a matching optimistic message.
	Promoted
	// Duplicate means the message was already known and nothing changed.
	Duplicate
	// Counted means the message was new but its conversation's list is not
	// loaded, so only the conversation summary changed.
	Counted
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Promoted:
		return "promoted"
	case Duplicate:
		return "duplicate"
	case Counted:
		return "counted"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Reconciler applies inbound events and pull results to the store. Every
// apply re-reads the store under its lock, so producers may race freely.
type Reconciler struct {
	store     *store.Store
	window    time.Duration
	seen      *dedupe.Cache
	onUnknown func(convID string)
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	// DedupWindow bounds the optimistic-match time difference.
	DedupWindow time.Duration
	// OnUnknown runs (outside the store lock) after an event created a
	// conversation the store had never seen.
	OnUnknown func(convID string)
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// NewReconciler creates a reconciler writing to st.
func NewReconciler(st *store.Store, opts ReconcilerOptions) *Reconciler {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Reconciler{
		store:     st,
		window:    opts.DedupWindow,
		seen:      dedupe.New(seenTTL, seenSize),
		onUnknown: opts.OnUnknown,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
}

// Handle decodes and applies one push frame. Bad frames are logged and
// dropped; Handle never panics.
func (r *Reconciler) Handle(data []byte) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.Event("panic", "dropped")
			r.logger.Error("event handler panicked", zap.Any("panic", p), zap.Int("bytes", len(data)))
		}
	}()

	ev, err := DecodeEvent(data)
	if err != nil {
		r.metrics.Event(eventLabel(ev.Type, err), "dropped")
		r.logger.Warn("dropping event", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}
	r.Apply(ev)
	r.metrics.Event(ev.Type, "applied")
}

func eventLabel(typ string, err error) string {
	if errors.Is(err, ErrUnknownEvent) || typ == "" {
		return "unknown"
	}
	return typ
}

// Apply applies a decoded event.
func (r *Reconciler) Apply(ev Event) {
	switch ev.Type {
	case EventMessageCreated:
		r.ApplyMessage(ev.ConversationID, ev.Message)
	case EventMessageReaction:
		r.ApplyReaction(ev.ConversationID, ev.MessageID, ev.Emoji, ev.From)
	case EventProfileUpdated:
		r.ApplyProfile(ev.ConversationID, ev.Fields, ev.Cleared)
	case EventConversationRead:
		r.ApplyRead(ev.ConversationID)
	}
}

func seenKey(convID, msgID string) string {
	return convID + "/" + msgID
}

// ApplyMessage applies a remote message.
//
// The message is appended when its conversation is active or its list is
// already loaded. Deduplication, in order: an exact id match or an id seen
// recently in this conversation discards it; an optimistic message with the same sender and content within the dedup
// window is replaced in place. Unread grows only for new customer messages
// on an inactive conversation.
func (r *Reconciler) ApplyMessage(convID string, m store.Message) Outcome {
	if convID == "" {
		convID = m.ConversationID
	}
	m.ConversationID = convID
	if m.Sender == store.SenderAgent && m.DeliveryStatus == store.StatusNone {
		m.DeliveryStatus = store.StatusDelivered
	}

	var (
		outcome Outcome
		unknown bool
	)
	r.store.Do(func(tx *store.Tx) {
		conv, known := tx.Conversation(convID)
		if !known {
			conv = store.Conversation{ID: convID}
			unknown = true
		}
		active := tx.Active() == convID
		list, loaded := tx.Messages(convID)

		switch {
		case loaded && indexOf(list, m.ID) >= 0:
			outcome = Duplicate
		case r.seen.Check(seenKey(convID, m.ID)):
			// Counted before its list was loaded.
			outcome = Duplicate
		case loaded:
			if i := r.matchOptimistic(list, m); i >= 0 {
				list[i] = m
				outcome = Promoted
			} else {
				list = append(list, m)
				outcome = Appended
			}
			tx.SetMessages(convID, list)
		case active:
			tx.SetMessages(convID, []store.Message{m})
			outcome = Appended
		default:
			outcome = Counted
		}
		r.seen.Mark(seenKey(convID, m.ID))

		if outcome == Appended || outcome == Counted {
			conv.LastMessagePreview = preview(m)
			conv.LastUpdated = max(conv.LastUpdated, m.Timestamp)
			if m.Sender == store.SenderCustomer && !active {
				conv.UnreadCount++
			}
		}
		if outcome != Duplicate || unknown {
			tx.PutConversation(conv)
		}
	})

	if outcome == Duplicate || outcome == Promoted {
		r.metrics.Duplicate()
	}
	if unknown {
		r.unknown(convID)
	}
	return outcome
}

// matchOptimistic returns the index of the most recent optimistic message
// that m confirms, or -1.
func (r *Reconciler) matchOptimistic(list []store.Message, m store.Message) int {
	if m.IsTemp() {
		return -1
	}
	for i := len(list) - 1; i >= 0; i-- {
		c := list[i]
		if !c.IsTemp() || c.Sender != m.Sender || c.Content != m.Content {
			continue
		}
		d := c.Timestamp - m.Timestamp
		if d < 0 {
			d = -d
		}
		if time.Duration(d)*time.Second <= r.window {
			return i
		}
	}
	return -1
}

// ApplyReaction replaces or removes the reaction from a participant. An empty
// emoji removes it. Reactions to messages not in the loaded list are ignored.
func (r *Reconciler) ApplyReaction(convID, msgID, emoji, from string) bool {
	var applied, unknown bool
	r.store.Do(func(tx *store.Tx) {
		if !tx.Has(convID) {
			tx.PutConversation(store.Conversation{ID: convID})
			unknown = true
		}
		list, ok := tx.Messages(convID)
		if !ok {
			return
		}
		i := indexOf(list, msgID)
		if i < 0 {
			return
		}
		list[i].Reactions = setReaction(list[i].Reactions, from, emoji)
		tx.SetMessages(convID, list)
		applied = true
	})
	if !applied {
		r.logger.Debug("reaction target not loaded",
			zap.String("conversation", convID), zap.String("message", msgID))
	}
	if unknown {
		r.unknown(convID)
	}
	return applied
}

func setReaction(list []store.Reaction, from, emoji string) []store.Reaction {
	out := list[:0:0]
	replaced := false
	for _, rx := range list {
		if rx.From != from {
			out = append(out, rx)
			continue
		}
		if emoji != "" && !replaced {
			out = append(out, store.Reaction{Emoji: emoji, From: from})
			replaced = true
		}
	}
	if emoji != "" && !replaced {
		out = append(out, store.Reaction{Emoji: emoji, From: from})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ApplyProfile merges non-empty profile fields. A field is emptied only when
// listed in cleared.
func (r *Reconciler) ApplyProfile(convID string, fields map[string]string, cleared []string) {
	var unknown bool
	r.store.Do(func(tx *store.Tx) {
		conv, ok := tx.Conversation(convID)
		if !ok {
			conv = store.Conversation{ID: convID}
			unknown = true
		}
		for _, name := range cleared {
			setField(&conv, name, "")
		}
		for name, v := range fields {
			if v != "" {
				setField(&conv, name, v)
			}
		}
		tx.PutConversation(conv)
	})
	if unknown {
		r.unknown(convID)
	}
}

func setField(c *store.Conversation, name, v string) {
	switch name {
	case FieldName:
		c.RemoteName = v
	case FieldCustomName:
		c.CustomName = v
	case FieldPhone:
		c.Phone = v
	case FieldAvatarURL:
		c.AvatarURL = v
	}
}

// ApplyRead zeroes the unread counter after a remote-confirmed read.
func (r *Reconciler) ApplyRead(convID string) {
	var unknown bool
	r.store.Do(func(tx *store.Tx) {
		conv, ok := tx.Conversation(convID)
		if !ok {
			conv = store.Conversation{ID: convID}
			unknown = true
		}
		conv.UnreadCount = 0
		tx.PutConversation(conv)
	})
	if unknown {
		r.unknown(convID)
	}
}

// MergeConversations applies a conversation list pull. Conversations are
// never removed by a pull. For known conversations, profile fields follow the
// non-empty merge rule and the summary moves only forward in time. The
// remote unread count is adopted for new conversations, and for inactive
// ones with activity newer than anything seen locally, never lowering the
// local count.
func (r *Reconciler) MergeConversations(remote []store.Conversation) {
	r.store.Do(func(tx *store.Tx) {
		active := tx.Active()
		for _, rc := range remote {
			if rc.ID == "" {
				continue
			}
			local, ok := tx.Conversation(rc.ID)
			if !ok {
				if rc.ID == active {
					rc.UnreadCount = 0
				}
				tx.PutConversation(rc)
				continue
			}

			merged := local
			mergeNonEmpty(&merged.RemoteName, rc.RemoteName)
			mergeNonEmpty(&merged.CustomName, rc.CustomName)
			mergeNonEmpty(&merged.Phone, rc.Phone)
			mergeNonEmpty(&merged.AvatarURL, rc.AvatarURL)
			if rc.LastUpdated > local.LastUpdated && rc.ID != active {
				merged.UnreadCount = max(local.UnreadCount, rc.UnreadCount)
			}
			if rc.LastUpdated >= local.LastUpdated {
				merged.LastUpdated = rc.LastUpdated
				mergeNonEmpty(&merged.LastMessagePreview, rc.LastMessagePreview)
			}
			tx.PutConversation(merged)
		}
	})
}

func mergeNonEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// MergeHistory applies a message history pull for one conversation.
//
// An empty result over a non-empty local list is discarded. Otherwise local
// order is kept: known messages take the server's copy in place, a server
// message confirming a local optimistic one replaces it in place, and local
// messages the server did not return (optimistic sends, pushes newer than the
// fetch) stay where they are. A server message new to the list is inserted
// after the furthest placed message preceding it in the server's order. It
// reports whether the result was used.
func (r *Reconciler) MergeHistory(convID string, remote []store.Message) bool {
	used := true
	r.store.Do(func(tx *store.Tx) {
		if !tx.Has(convID) {
			tx.PutConversation(store.Conversation{ID: convID})
		}
		local, _ := tx.Messages(convID)
		if len(remote) == 0 && len(local) > 0 {
			used = false
			return
		}

		incoming := make([]store.Message, 0, len(remote))
		ids := make(map[string]bool, len(remote))
		for _, m := range remote {
			if m.ID == "" || ids[m.ID] {
				continue
			}
			m.ConversationID = convID
			if m.Sender == store.SenderAgent && m.DeliveryStatus == store.StatusNone {
				m.DeliveryStatus = store.StatusDelivered
			}
			ids[m.ID] = true
			incoming = append(incoming, m)
			r.seen.Mark(seenKey(convID, m.ID))
		}

		out := append([]store.Message(nil), local...)
		consumed := make([]bool, len(local))
		placed := make([]bool, len(incoming))
		for k, m := range incoming {
			if i := indexOf(local, m.ID); i >= 0 {
				if len(m.Reactions) == 0 {
					m.Reactions = local[i].Reactions
				}
				out[i] = m
				consumed[i] = true
				placed[k] = true
			}
		}
		for k, m := range incoming {
			if placed[k] {
				continue
			}
			if i := r.matchOptimisticFree(local, consumed, m); i >= 0 {
				out[i] = m
				consumed[i] = true
				placed[k] = true
			}
		}

		pos := -1
		for k, m := range incoming {
			if placed[k] {
				pos = max(pos, indexOf(out, m.ID))
				continue
			}
			pos++
			out = slices.Insert(out, pos, m)
		}
		tx.SetMessages(convID, out)
	})
	if !used {
		r.logger.Info("ignoring empty history over cached messages", zap.String("conversation", convID))
	}
	return used
}

// matchOptimisticFree is matchOptimistic restricted to unconsumed entries.
func (r *Reconciler) matchOptimisticFree(list []store.Message, consumed []bool, m store.Message) int {
	for i := len(list) - 1; i >= 0; i-- {
		if consumed[i] {
			continue
		}
		if r.matchOptimistic(list[i:i+1], m) == 0 {
			return i
		}
	}
	return -1
}

// Forget drops dedup memory for a deleted conversation.
func (r *Reconciler) Forget(convID string) {
	r.seen.Forget(convID + "/")
}

func (r *Reconciler) unknown(convID string) {
	r.logger.Debug("event for unknown conversation", zap.String("conversation", convID))
	if r.onUnknown != nil {
		r.onUnknown(convID)
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

func preview(m store.Message) string {
	if m.Content != "" {
		return m.Content
	}
	if m.MediaType != "" && m.MediaType != store.MediaText {
		return "[" + string(m.MediaType) + "]"
	}
	return ""
}
