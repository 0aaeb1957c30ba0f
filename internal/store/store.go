package store

import (
	"slices"
	"sync"
)

// Change lists what a committed transaction touched, by conversation id.
type Change struct {
	Conversations []string
	Messages      []string
	Copilot       []string
	Deleted       []string
}

// Empty reports whether the transaction changed nothing.
func (c Change) Empty() bool {
	return len(c.Conversations) == 0 && len(c.Messages) == 0 && len(c.Copilot) == 0 && len(c.Deleted) == 0
}

type convEntry struct {
	conv Conversation
	seq  uint64
}

// Store is the in-memory local view of conversations and messages.
//
// All reads and writes go through Do or View, which run under one mutex, so
// a read-modify-write always sees the state current at apply time.
type Store struct {
	mu      sync.RWMutex
	convs   map[string]*convEntry
	msgs    map[string][]Message
	copilot map[string]CopilotState
	active  string
	nextSeq uint64

	hookMu   sync.RWMutex
	onCommit []func(Change)
}

// New creates an empty store.
func New() *Store {
	return &Store{
		convs:   make(map[string]*convEntry),
		msgs:    make(map[string][]Message),
		copilot: make(map[string]CopilotState),
	}
}

// OnCommit registers fn to run after every transaction that changed state.
// Hooks run outside the store lock.
func (s *Store) OnCommit(fn func(Change)) {
	s.hookMu.Lock()
	s.onCommit = append(s.onCommit, fn)
	s.hookMu.Unlock()
}

// Do runs fn as a single write transaction.
func (s *Store) Do(fn func(tx *Tx)) Change {
	s.mu.Lock()
	tx := &Tx{s: s, write: true}
	fn(tx)
	change := tx.change()
	s.mu.Unlock()

	if !change.Empty() {
		s.hookMu.RLock()
		hooks := slices.Clone(s.onCommit)
		s.hookMu.RUnlock()
		for _, h := range hooks {
			h(change)
		}
	}
	return change
}

// View runs fn with read access. Mutating methods panic inside View.
func (s *Store) View(fn func(tx *Tx)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&Tx{s: s})
}

// Active returns the id of the selected conversation, or "".
func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Conversation returns a copy of the conversation with the given id.
func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.convs[id]
	if !ok {
		return Conversation{}, false
	}
	return e.conv, true
}

// Messages returns a copy of a conversation's message list and whether the
// list has been loaded at all.
func (s *Store) Messages(id string) ([]Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, ok := s.msgs[id]
	return cloneMessages(list), ok
}

// Copilot returns the conversation's assistant state (idle if never used).
func (s *Store) Copilot(id string) CopilotState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copilotLocked(id)
}

func (s *Store) copilotLocked(id string) CopilotState {
	st, ok := s.copilot[id]
	if !ok {
		return CopilotState{Status: CopilotIdle}
	}
	return st
}

// Entry is a conversation with its insertion sequence number.
type Entry struct {
	Conversation
	Seq     uint64
	Copilot CopilotStatus
}

// Snapshot is a consistent copy of the conversation list.
type Snapshot struct {
	Entries []Entry
	Active  string
}

// Snapshot copies the conversation list for projection.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{Active: s.active, Entries: make([]Entry, 0, len(s.convs))}
	for id, e := range s.convs {
		out.Entries = append(out.Entries, Entry{
			Conversation: e.conv,
			Seq:          e.seq,
			Copilot:      s.copilotLocked(id).Status,
		})
	}
	return out
}

// MessageSnapshot copies every loaded message list, keyed by conversation id.
func (s *Store) MessageSnapshot() map[string][]Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Message, len(s.msgs))
	for id, list := range s.msgs {
		out[id] = cloneMessages(list)
	}
	return out
}

func cloneMessages(list []Message) []Message {
	if list == nil {
		return nil
	}
	out := make([]Message, len(list))
	for i, m := range list {
		out[i] = m.clone()
	}
	return out
}
