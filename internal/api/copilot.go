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

type analyzeRequest struct {
	ContactID string `json:"contact_id"`
	Query     string `json:"query"`
	IsPrivate bool   `json:"is_private"`
}

type analyzeResponse struct {
	Status     string          `json:"status"`
	Suggestion json.RawMessage `json:"suggestion"`
	Detail     string          `json:"detail"`
}

// Suggest asks the backend copilot for a suggestion. Internal questions are
// sent as private queries.
func (c *Client) Suggest(ctx context.Context, convID, query string, kind store.QueryKind) (*store.Suggestion, error) {
	req := analyzeRequest{
		ContactID: convID,
		Query:     query,
		IsPrivate: kind == store.QueryInternal,
	}
	var resp analyzeResponse
	if err := c.do(ctx, http.MethodPost, "/copilot/analyze", req, &resp); err != nil {
		return nil, fmt.Errorf("requesting suggestion for %s: %w", convID, err)
	}
	if strings.EqualFold(resp.Status, "error") {
		return nil, fmt.Errorf("requesting suggestion for %s: %w: %s", convID, ErrBadResponse, sanitizeResponseBody([]byte(resp.Detail)))
	}
	s, err := decodeSuggestion(resp.Suggestion)
	if err != nil {
		return nil, fmt.Errorf("requesting suggestion for %s: %w", convID, err)
	}
	return s, nil
}

// decodeSuggestion accepts either a structured suggestion object or a plain
// string answer.
func decodeSuggestion(raw json.RawMessage) (*store.Suggestion, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: missing suggestion", ErrBadResponse)
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
		return &store.Suggestion{Answer: text}, nil
	}
	var s store.Suggestion
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if s.Answer == "" && len(s.FollowUps) == 0 {
		return nil, fmt.Errorf("%w: empty suggestion", ErrBadResponse)
	}
	return &s, nil
}
