package store

import (
	"testing"
)

func TestPutConversationAssignsInsertionOrder(t *testing.T) {
	s := New()
	s.Do(func(tx *Tx) {
		tx.PutConversation(Conversation{ID: "a"})
		tx.PutConversation(Conversation{ID: "b"})
		tx.PutConversation(Conversation{ID: "a", RemoteName: "Ana"})
	})

	seqs := map[string]uint64{}
	for _, e := range s.Snapshot().Entries {
		seqs[e.ID] = e.Seq
	}
	if seqs["a"] >= seqs["b"] {
		t.Errorf("seq a=%d b=%d, want a < b", seqs["a"], seqs["b"])
	}
	c, _ := s.Conversation("a")
	if c.RemoteName != "Ana" {
		t.Errorf("RemoteName = %q, want Ana", c.RemoteName)
	}
}

func TestPutConversationClampsUnread(t *testing.T) {
	s := New()
	s.Do(func(tx *Tx) {
		tx.PutConversation(Conversation{ID: "a", UnreadCount: -3})
	})
	c, _ := s.Conversation("a")
	if c.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0", c.UnreadCount)
	}
}

func TestDoReportsChange(t *testing.T) {
	s := New()
	var got []Change
	s.OnCommit(func(c Change) { got = append(got, c) })

	s.Do(func(tx *Tx) {
		tx.PutConversation(Conversation{ID: "a"})
		tx.SetMessages("a", []Message{{ID: "m1"}})
		tx.SetMessages("a", []Message{{ID: "m1"}, {ID: "m2"}})
	})
	// An unchanged put is not a change.
	s.Do(func(tx *Tx) {
		tx.PutConversation(Conversation{ID: "a"})
	})

	if len(got) != 1 {
		t.Fatalf("hooks ran %d times, want 1", len(got))
	}
	if len(got[0].Conversations) != 1 || len(got[0].Messages) != 1 {
		t.Errorf("change = %+v, want one conversation and one message list", got[0])
	}
}

func TestViewPanicsOnWrite(t *testing.T) {
	s := New()
	defer func() {
		if recover() == nil {
			t.Error("mutation inside View should panic")
		}
	}()
	s.View(func(tx *Tx) {
		tx.SetActive("a")
	})
}

func TestMessagesReturnsCopy(t *testing.T) {
	s := New()
	s.Do(func(tx *Tx) {
		tx.SetMessages("a", []Message{{ID: "m1", Reactions: []Reaction{{Emoji: "👍", From: "x"}}}})
	})

	list, ok := s.Messages("a")
	if !ok {
		t.Fatal("list should be loaded")
	}
	list[0].Content = "mutated"
	list[0].Reactions[0].Emoji = "x"

	again, _ := s.Messages("a")
	if again[0].Content != "" || again[0].Reactions[0].Emoji != "👍" {
		t.Errorf("store list was mutated through a copy: %+v", again[0])
	}
}

func TestMessagesLoadedVersusAbsent(t *testing.T) {
	s := New()
	s.Do(func(tx *Tx) { tx.SetMessages("a", nil) })

	if list, ok := s.Messages("a"); !ok || len(list) != 0 {
		t.Errorf("Messages(a) = %v, %v; want empty, loaded", list, ok)
	}
	if _, ok := s.Messages("b"); ok {
		t.Error("Messages(b) should not be loaded")
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	s := New()
	s.Do(func(tx *Tx) {
		tx.PutConversation(Conversation{ID: "a"})
		tx.SetMessages("a", []Message{{ID: "m1"}})
		tx.SetCopilot("a", CopilotState{Status: CopilotReady})
		tx.SetActive("a")
	})
	change := s.Do(func(tx *Tx) { tx.Delete("a") })

	if len(change.Deleted) != 1 || change.Deleted[0] != "a" {
		t.Errorf("Deleted = %v, want [a]", change.Deleted)
	}
	if _, ok := s.Conversation("a"); ok {
		t.Error("conversation still present")
	}
	if _, ok := s.Messages("a"); ok {
		t.Error("messages still present")
	}
	if st := s.Copilot("a"); st.Status != CopilotIdle {
		t.Errorf("copilot = %s, want idle", st.Status)
	}
	if s.Active() != "" {
		t.Errorf("active = %q, want empty", s.Active())
	}
}

func TestCopilotDefaultsToIdle(t *testing.T) {
	s := New()
	if st := s.Copilot("unknown"); st.Status != CopilotIdle || st.Result != nil {
		t.Errorf("Copilot(unknown) = %+v, want idle", st)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name string
		conv Conversation
		want string
	}{
		{"custom wins", Conversation{ID: "5541984469423@s.whatsapp.net", CustomName: "Cliente VIP", RemoteName: "Ana"}, "Cliente VIP"},
		{"remote name", Conversation{ID: "5541984469423@s.whatsapp.net", RemoteName: "Ana"}, "Ana"},
		{"remote name is a jid", Conversation{ID: "5541984469423@s.whatsapp.net", RemoteName: "5541984469423@s.whatsapp.net"}, "41 98446-9423"},
		{"phone field", Conversation{ID: "x", Phone: "+5511912345678"}, "11 91234-5678"},
		{"blank custom", Conversation{ID: "123", CustomName: "  "}, "123"},
		{"empty", Conversation{}, "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.conv.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"5541984469423", "41 98446-9423"},
		{"5541984469423@s.whatsapp.net", "41 98446-9423"},
		{"14155550100", "14155550100"},
		{"554198446942", "554198446942"},
		{"", "Unknown"},
	}
	for _, tt := range tests {
		if got := FormatPhone(tt.in); got != tt.want {
			t.Errorf("FormatPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTempIDs(t *testing.T) {
	id := NewTempID()
	if !IsTempID(id) {
		t.Errorf("IsTempID(%q) = false", id)
	}
	if IsTempID("srv-42") {
		t.Error("server id reported as temp")
	}
	if NewTempID() == id {
		t.Error("temp ids should be unique")
	}
}
