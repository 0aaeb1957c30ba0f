package store

// Tx is a view of the store inside Do or View. It must not escape fn.
type Tx struct {
	s     *Store
	write bool

	convs   []string
	msgs    []string
	copilot []string
	deleted []string
}

func (tx *Tx) mustWrite() {
	if !tx.write {
		panic("store: mutation inside read-only transaction")
	}
}

// Active returns the selected conversation id.
func (tx *Tx) Active() string {
	return tx.s.active
}

// SetActive selects a conversation ("" clears the selection).
func (tx *Tx) SetActive(id string) {
	tx.mustWrite()
	tx.s.active = id
}

// Has reports whether the conversation exists.
func (tx *Tx) Has(id string) bool {
	_, ok := tx.s.convs[id]
	return ok
}

// Conversation returns a copy of the conversation.
func (tx *Tx) Conversation(id string) (Conversation, bool) {
	e, ok := tx.s.convs[id]
	if !ok {
		return Conversation{}, false
	}
	return e.conv, true
}

// PutConversation inserts or replaces a conversation. New conversations are
// appended to the insertion order.
func (tx *Tx) PutConversation(c Conversation) {
	tx.mustWrite()
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	if e, ok := tx.s.convs[c.ID]; ok {
		if e.conv == c {
			return
		}
		e.conv = c
	} else {
		tx.s.nextSeq++
		tx.s.convs[c.ID] = &convEntry{conv: c, seq: tx.s.nextSeq}
	}
	tx.convs = appendUnique(tx.convs, c.ID)
}

// Messages returns the live message list (do not retain it) and whether it
// has been loaded.
func (tx *Tx) Messages(id string) ([]Message, bool) {
	list, ok := tx.s.msgs[id]
	return list, ok
}

// SetMessages replaces a conversation's message list.
func (tx *Tx) SetMessages(id string, list []Message) {
	tx.mustWrite()
	if list == nil {
		list = []Message{}
	}
	tx.s.msgs[id] = list
	tx.msgs = appendUnique(tx.msgs, id)
}

// Copilot returns the assistant state for a conversation.
func (tx *Tx) Copilot(id string) CopilotState {
	return tx.s.copilotLocked(id)
}

// SetCopilot stores the assistant state for a conversation.
func (tx *Tx) SetCopilot(id string, st CopilotState) {
	tx.mustWrite()
	tx.s.copilot[id] = st
	tx.copilot = appendUnique(tx.copilot, id)
}

// Delete removes a conversation with its messages and assistant state.
func (tx *Tx) Delete(id string) {
	tx.mustWrite()
	delete(tx.s.convs, id)
	delete(tx.s.msgs, id)
	delete(tx.s.copilot, id)
	if tx.s.active == id {
		tx.s.active = ""
	}
	tx.deleted = appendUnique(tx.deleted, id)
}

func (tx *Tx) change() Change {
	return Change{
		Conversations: tx.convs,
		Messages:      tx.msgs,
		Copilot:       tx.copilot,
		Deleted:       tx.deleted,
	}
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
