package suggest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
)

func completionServer(t *testing.T, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"total_tokens": 12},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSuggest(t *testing.T) {
	var body map[string]any
	srv := completionServer(t, `{"immediate_answer":"Temos sim!","follow_up_options":[{"text":"Quer ver o catálogo?","is_recommended":true}]}`, &body)

	history := func(convID string) []store.Message {
		assert.Equal(t, "c1", convID)
		return []store.Message{
			{Sender: store.SenderCustomer, Content: "vocês têm tamanho M?"},
			{Sender: store.SenderAgent, Content: "vou verificar"},
		}
	}
	o := NewOpenAI(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "test-model"}, history, nil)

	s, err := o.Suggest(context.Background(), "c1", "tem tamanho M?", store.QueryAnalysis)
	require.NoError(t, err)
	assert.Equal(t, "Temos sim!", s.Answer)
	require.Len(t, s.FollowUps, 1)
	assert.True(t, s.FollowUps[0].Recommended)

	assert.Equal(t, "test-model", body["model"])
	format := body["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)["content"].(string)
	assert.Contains(t, user, "Cliente: vocês têm tamanho M?")
	assert.Contains(t, user, "Vendedor: vou verificar")
}

func TestSuggestRejectsEmptyAnswer(t *testing.T) {
	srv := completionServer(t, `{"immediate_answer":""}`, nil)
	o := NewOpenAI(Config{APIKey: "sk-test", BaseURL: srv.URL}, nil, nil)

	_, err := o.Suggest(context.Background(), "c1", "oi", store.QueryAnalysis)
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestSuggestRejectsInvalidJSON(t *testing.T) {
	srv := completionServer(t, `not json`, nil)
	o := NewOpenAI(Config{APIKey: "sk-test", BaseURL: srv.URL}, nil, nil)

	_, err := o.Suggest(context.Background(), "c1", "oi", store.QueryAnalysis)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing completion")
}

func TestBuildPrompt(t *testing.T) {
	var transcript []store.Message
	for range maxHistory + 5 {
		transcript = append(transcript, store.Message{Sender: store.SenderCustomer, Content: "x"})
	}
	p := buildPrompt(transcript, "qual o preço?", store.QueryInternal)
	assert.Equal(t, maxHistory, strings.Count(p, "Cliente: x"))
	assert.Contains(t, p, "Pergunta interna")
	assert.True(t, strings.HasSuffix(p, "qual o preço?"))

	long := strings.Repeat("a", maxContentRunes+10)
	assert.Equal(t, maxContentRunes+3, len(truncate(long)))
}
