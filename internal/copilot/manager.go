package copilot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/metrics"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
)

var (
	// ErrEmptyQuery is returned when a request has no text.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrMessageNotFound is returned by Analyze for a message that is not in
	// the loaded list.
	ErrMessageNotFound = errors.New("message not found")
)

// Suggester produces a suggestion for a conversation. Implementations are
// opaque remote functions.
type Suggester interface {
	Suggest(ctx context.Context, convID, query string, kind store.QueryKind) (*store.Suggestion, error)
}

// Manager runs suggestion requests against a Suggester and keeps the result
// in the store's per-conversation state.
type Manager struct {
	store     *store.Store
	suggester Suggester
	gen       atomic.Uint64
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewManager creates a copilot manager.
func NewManager(st *store.Store, s Suggester, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: st, suggester: s, metrics: m, logger: logger}
}

// Start moves the conversation to loading and returns the request's
// generation. It does not call the suggester.
func (m *Manager) Start(convID, text string, kind store.QueryKind) (uint64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyQuery
	}
	if kind == "" {
		kind = store.QueryAnalysis
	}
	gen := m.gen.Add(1)
	m.store.Do(func(tx *store.Tx) {
		tx.SetCopilot(convID, Begin(text, kind, gen))
	})
	return gen, nil
}

// Finish calls the suggester for a request started with Start and lands the
// outcome if gen is still current. It reports whether the outcome landed.
func (m *Manager) Finish(ctx context.Context, convID string, gen uint64, query string, kind store.QueryKind) (bool, error) {
	start := time.Now()
	result, err := m.suggester.Suggest(ctx, convID, query, kind)
	m.metrics.Suggestion(string(kind), time.Since(start), err)

	var landed bool
	m.store.Do(func(tx *store.Tx) {
		var st store.CopilotState
		if err != nil {
			st, landed = Fail(tx.Copilot(convID), gen)
		} else {
			st, landed = Resolve(tx.Copilot(convID), gen, result)
		}
		if landed {
			tx.SetCopilot(convID, st)
		}
	})

	if err != nil {
		m.logger.Warn("suggestion failed",
			zap.String("conversation", convID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	if !landed {
		m.logger.Debug("discarding stale suggestion",
			zap.String("conversation", convID),
			zap.Uint64("gen", gen))
	}
	return landed, err
}

// Abandon settles a request started with Start that will never run, as if
// the suggester had failed. It reports whether the state changed.
func (m *Manager) Abandon(convID string, gen uint64) bool {
	var landed bool
	m.store.Do(func(tx *store.Tx) {
		var st store.CopilotState
		if st, landed = Fail(tx.Copilot(convID), gen); landed {
			tx.SetCopilot(convID, st)
		}
	})
	return landed
}

// Request is Start followed by Finish.
func (m *Manager) Request(ctx context.Context, convID, text string, kind store.QueryKind) error {
	if kind == "" {
		kind = store.QueryAnalysis
	}
	gen, err := m.Start(convID, text, kind)
	if err != nil {
		return err
	}
	_, err = m.Finish(ctx, convID, gen, text, kind)
	return err
}

// Clear resets one conversation's state to idle. A request still in flight
// for it will be discarded.
func (m *Manager) Clear(convID string) {
	gen := m.gen.Add(1)
	m.store.Do(func(tx *store.Tx) {
		if tx.Copilot(convID).Status == store.CopilotIdle {
			return
		}
		tx.SetCopilot(convID, Clear(gen))
	})
}

// AnalyzeQuery resolves the text of a loaded message for an analysis request.
func (m *Manager) AnalyzeQuery(convID, msgID string) (string, error) {
	var (
		text  string
		found bool
	)
	m.store.View(func(tx *store.Tx) {
		list, _ := tx.Messages(convID)
		for _, msg := range list {
			if msg.ID == msgID {
				text, found = msg.Content, true
				return
			}
		}
	})
	if !found {
		return "", fmt.Errorf("%w: %s in %s", ErrMessageNotFound, msgID, convID)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyQuery
	}
	return text, nil
}

// Analyze requests an analysis of a message already in the conversation.
func (m *Manager) Analyze(ctx context.Context, convID, msgID string) error {
	text, err := m.AnalyzeQuery(convID, msgID)
	if err != nil {
		return err
	}
	return m.Request(ctx, convID, text, store.QueryAnalysis)
}
