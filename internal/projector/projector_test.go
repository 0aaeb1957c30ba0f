package projector

import (
	"testing"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
)

func TestProjectOrdersByActivity(t *testing.T) {
	st := store.New()
	st.Do(func(tx *store.Tx) {
		tx.PutConversation(store.Conversation{ID: "old", LastUpdated: 100})
		tx.PutConversation(store.Conversation{ID: "tie-first", LastUpdated: 200})
		tx.PutConversation(store.Conversation{ID: "tie-second", LastUpdated: 200})
		tx.PutConversation(store.Conversation{ID: "new", LastUpdated: 300})
		tx.SetActive("old")
	})

	rows := Project(st.Snapshot())
	want := []string{"new", "tie-first", "tie-second", "old"}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d", len(rows), len(want))
	}
	for i, id := range want {
		if rows[i].ID != id {
			t.Errorf("rows[%d] = %s, want %s", i, rows[i].ID, id)
		}
	}
	if !rows[3].Active {
		t.Error("old should be marked active")
	}
}

func TestProjectFields(t *testing.T) {
	st := store.New()
	st.Do(func(tx *store.Tx) {
		tx.PutConversation(store.Conversation{
			ID:                 "5541984469423@s.whatsapp.net",
			AvatarURL:          "https://cdn/a.png",
			LastMessagePreview: "oi",
			UnreadCount:        2,
		})
		tx.SetCopilot("5541984469423@s.whatsapp.net", store.CopilotState{Status: store.CopilotLoading})
	})

	rows := Project(st.Snapshot())
	if len(rows) != 1 {
		t.Fatalf("got %d rows", len(rows))
	}
	r := rows[0]
	if r.DisplayName != "41 98446-9423" {
		t.Errorf("DisplayName = %q", r.DisplayName)
	}
	if r.AvatarURL != "https://cdn/a.png" || r.Preview != "oi" || r.Unread != 2 {
		t.Errorf("row = %+v", r)
	}
	if r.Copilot != store.CopilotLoading {
		t.Errorf("Copilot = %s, want loading", r.Copilot)
	}
}

func TestTotalUnread(t *testing.T) {
	got := TotalUnread([]Row{{Unread: 3}, {Unread: 0}, {Unread: 1}})
	if got.Conversations != 2 || got.Messages != 4 {
		t.Errorf("TotalUnread = %+v, want {2 4}", got)
	}
}
