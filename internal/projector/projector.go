// Package projector turns the store's conversation list into the rows a
// conversation list shows.
package projector

import (
	"cmp"
	"slices"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
)

// Row is one line of the conversation list.
type Row struct {
	ID          string              `json:"id"`
	DisplayName string              `json:"display_name"`
	AvatarURL   string              `json:"avatar_url,omitempty"`
	Preview     string              `json:"preview,omitempty"`
	LastUpdated int64               `json:"last_updated"`
	Unread      int                 `json:"unread"`
	Active      bool                `json:"active,omitempty"`
	Copilot     store.CopilotStatus `json:"copilot"`
}

// Totals summarizes unread state across the list.
type Totals struct {
	// Conversations is the number of conversations with unread messages.
	Conversations int `json:"conversations"`
	// Messages is the sum of unread counters.
	Messages int `json:"messages"`
}

// Project sorts conversations by last activity, newest first. Ties keep
// insertion order.
func Project(snap store.Snapshot) []Row {
	entries := slices.Clone(snap.Entries)
	slices.SortFunc(entries, func(a, b store.Entry) int {
		if c := cmp.Compare(b.LastUpdated, a.LastUpdated); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})

	rows := make([]Row, len(entries))
	for i, e := range entries {
		rows[i] = Row{
			ID:          e.ID,
			DisplayName: e.DisplayName(),
			AvatarURL:   e.AvatarURL,
			Preview:     e.LastMessagePreview,
			LastUpdated: e.LastUpdated,
			Unread:      e.UnreadCount,
			Active:      e.ID == snap.Active,
			Copilot:     e.Copilot,
		}
	}
	return rows
}

// TotalUnread sums unread counters.
func TotalUnread(rows []Row) Totals {
	var t Totals
	for _, r := range rows {
		if r.Unread > 0 {
			t.Conversations++
			t.Messages += r.Unread
		}
	}
	return t
}
