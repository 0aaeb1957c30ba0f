// Package sync keeps the local view of conversations and messages consistent
// with the backend. An Engine owns one session's store, push channel, poller
// and background work, and is torn down with Close.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/api"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/bus"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/cache"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/copilot"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/metrics"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/outbox"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/projector"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/status"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/transport"
)

const (
	defaultRefreshInterval = 2 * time.Second
	defaultRequestTimeout  = 90 * time.Second
	defaultReadGrace       = 2 * time.Second
)

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("engine closed")

// Backend is the remote source of truth.
type Backend interface {
	ListConversations(ctx context.Context) ([]store.Conversation, error)
	ListMessages(ctx context.Context, convID string) ([]store.Message, error)
	SendMessage(ctx context.Context, convID, text string) (string, error)
	MarkRead(ctx context.Context, convID string) error
	DeleteConversation(ctx context.Context, convID string) error
	StartConversation(ctx context.Context, number, text string) (string, error)
}

// Config tunes an Engine. Zero values select defaults.
type Config struct {
	// PushURL is the push channel endpoint. Empty runs on polling alone.
	PushURL        string
	DedupWindow    time.Duration
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	// RefreshInterval is the minimum spacing between conversation list
	// refreshes triggered by unknown conversations.
	RefreshInterval time.Duration
	// RequestTimeout bounds background sends, reads and suggestions.
	RequestTimeout time.Duration
	// ReadGrace is how long Close waits for pending read notifications
	// before cancelling them.
	ReadGrace time.Duration
}

// Deps are the collaborators of an Engine. Backend is required.
type Deps struct {
	Backend Backend
	// Suggester answers copilot requests. Nil uses Backend when it
	// implements copilot.Suggester.
	Suggester copilot.Suggester
	Dial      transport.Dialer
	// Store holds the session state. Nil starts from an empty store.
	Store *store.Store
	// Cache persists message lists. Nil keeps them in memory only.
	Cache   *cache.MessageCache
	Bus     *bus.Bus
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Engine is one session's sync engine.
type Engine struct {
	cfg     Config
	backend Backend
	store   *store.Store
	rec     *Reconciler
	outbox  *outbox.Pipeline
	copilot *copilot.Manager
	push    *transport.PushChannel
	poller  *transport.Poller
	cache   *cache.MessageCache
	writer  *cache.Writer
	bus     *bus.Bus
	logger  *zap.Logger

	kick    chan struct{}
	limiter *rate.Limiter

	ctx      context.Context
	cancel   context.CancelFunc
	mu       gosync.Mutex
	closed   bool
	wg       gosync.WaitGroup
	reads    gosync.WaitGroup
	loadOnce gosync.Once
}

// NewEngine wires an engine. Nothing touches the network until Run.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if deps.Backend == nil {
		return nil, errors.New("sync engine: backend is required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ReadGrace <= 0 {
		cfg.ReadGrace = defaultReadGrace
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	suggester := deps.Suggester
	if suggester == nil {
		s, ok := deps.Backend.(copilot.Suggester)
		if !ok {
			return nil, errors.New("sync engine: no suggester configured")
		}
		suggester = s
	}

	st := deps.Store
	if st == nil {
		st = store.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:     cfg,
		backend: deps.Backend,
		store:   st,
		cache:   deps.Cache,
		bus:     deps.Bus,
		logger:  logger,
		kick:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(rate.Every(cfg.RefreshInterval), 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	e.rec = NewReconciler(e.store, ReconcilerOptions{
		DedupWindow: cfg.DedupWindow,
		OnUnknown:   func(string) { e.requestRefresh() },
		Metrics:     deps.Metrics,
		Logger:      logger.Named("reconciler"),
	})
	e.outbox = outbox.New(e.store, deps.Backend, deps.Backend, deps.Bus, deps.Metrics, logger.Named("outbox"))
	e.copilot = copilot.NewManager(e.store, suggester, deps.Metrics, logger.Named("copilot"))
	e.poller = transport.NewPoller(cfg.PollInterval, e.poll, deps.Metrics, logger)
	if cfg.PushURL != "" {
		e.push = transport.NewPushChannel(cfg.PushURL, transport.Options{
			ReconnectDelay: cfg.ReconnectDelay,
			Dial:           deps.Dial,
			Bus:            deps.Bus,
			Metrics:        deps.Metrics,
			Logger:         logger,
		})
		e.push.OnEvent(e.rec.Handle)
	}
	if deps.Cache != nil {
		e.writer = cache.NewWriter(deps.Cache, e.store.MessageSnapshot, logger.Named("cache"))
	}
	e.store.OnCommit(e.onCommit)
	return e, nil
}

func (e *Engine) onCommit(c store.Change) {
	if len(c.Conversations) > 0 || len(c.Deleted) > 0 {
		ids := append(append([]string(nil), c.Conversations...), c.Deleted...)
		e.bus.Emit(bus.ConversationsChanged, ids)
	}
	for _, id := range c.Messages {
		e.bus.Emit(bus.MessagesChanged, id)
	}
	for _, id := range c.Copilot {
		e.bus.Emit(bus.CopilotChanged, id)
	}
	if e.writer != nil && (len(c.Messages) > 0 || len(c.Deleted) > 0) {
		e.writer.Mark()
	}
}

// LoadCache seeds the store from the durable cache. Run calls it before the
// first network round trip; calling it again does nothing.
func (e *Engine) LoadCache() {
	e.loadOnce.Do(func() {
		if e.cache == nil {
			return
		}
		lists := e.cache.Load()
		e.store.Do(func(tx *store.Tx) {
			for id, list := range lists {
				if _, ok := tx.Messages(id); ok {
					continue
				}
				tx.SetMessages(id, list)
				if tx.Has(id) || len(list) == 0 {
					continue
				}
				last := list[len(list)-1]
				tx.PutConversation(store.Conversation{
					ID:                 id,
					LastMessagePreview: preview(last),
					LastUpdated:        last.Timestamp,
				})
			}
		})
		e.logger.Info("message cache loaded", zap.Int("conversations", len(lists)))
	})
}

// Run loads the cache and runs the push channel, the poller and the refresh
// loop until ctx is done or Close is called.
func (e *Engine) Run(ctx context.Context) error {
	if e.isClosed() {
		return ErrClosed
	}
	e.LoadCache()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if e.push != nil {
		g.Go(func() error { return e.push.Run(ctx) })
	}
	g.Go(func() error { return e.poller.Run(ctx) })
	g.Go(func() error { return e.refreshLoop(ctx) })
	e.requestRefresh()

	e.logger.Info("sync engine running",
		zap.Bool("push", e.push != nil),
		zap.Duration("poll_interval", e.cfg.PollInterval))
	return g.Wait()
}

func (e *Engine) refreshLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.kick:
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := e.RefreshConversations(ctx); err != nil && ctx.Err() == nil {
			e.logger.Warn("conversation refresh failed", zap.Error(err))
		}
	}
}

// requestRefresh schedules a conversation list refresh. Requests made while
// one is pending collapse into it.
func (e *Engine) requestRefresh() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) poll(ctx context.Context) error {
	err := e.RefreshConversations(ctx)
	if active := e.store.Active(); active != "" {
		err = errors.Join(err, e.RefreshMessages(ctx, active))
	}
	return err
}

// Close stops background work, closes the push channel and flushes the
// cache. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.waitReads()
	e.cancel()
	e.wg.Wait()

	var errs []error
	if e.push != nil {
		errs = append(errs, e.push.Close())
	}
	if e.writer != nil {
		errs = append(errs, e.writer.Close())
	}
	e.logger.Info("sync engine closed")
	return errors.Join(errs...)
}

// waitReads gives in-flight read notifications up to ReadGrace to finish.
func (e *Engine) waitReads() {
	done := make(chan struct{})
	go func() {
		e.reads.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.cfg.ReadGrace):
		e.logger.Debug("read notifications still pending at close")
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// background runs fn on its own goroutine with the engine's lifetime context
// and the request timeout. It reports false after Close.
func (e *Engine) background(fn func(ctx context.Context)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.RequestTimeout)
		defer cancel()
		fn(ctx)
	}()
	return true
}

// RefreshConversations pulls the conversation list.
func (e *Engine) RefreshConversations(ctx context.Context) error {
	list, err := e.backend.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("refreshing conversations: %w", err)
	}
	e.rec.MergeConversations(list)
	return nil
}

// RefreshMessages pulls one conversation's history.
func (e *Engine) RefreshMessages(ctx context.Context, convID string) error {
	list, err := e.backend.ListMessages(ctx, convID)
	if err != nil {
		return fmt.Errorf("refreshing messages of %s: %w", convID, err)
	}
	e.rec.MergeHistory(convID, list)
	return nil
}

// Select makes convID the active conversation and zeroes its unread counter
// at once. With cached messages it reports a hit and refreshes in the
// background; otherwise it fetches the history before returning.
func (e *Engine) Select(ctx context.Context, convID string) (bool, error) {
	if e.isClosed() {
		return false, ErrClosed
	}
	var hit bool
	e.store.Do(func(tx *store.Tx) {
		tx.SetActive(convID)
		list, _ := tx.Messages(convID)
		hit = len(list) > 0
	})
	e.MarkRead(convID)

	if hit {
		e.background(func(ctx context.Context) {
			if err := e.RefreshMessages(ctx, convID); err != nil {
				e.logger.Warn("background history refresh failed", zap.Error(err))
			}
		})
		return true, nil
	}
	return false, e.RefreshMessages(ctx, convID)
}

// Deselect clears the active conversation.
func (e *Engine) Deselect() {
	e.store.Do(func(tx *store.Tx) { tx.SetActive("") })
}

// MarkRead zeroes the unread counter locally and notifies the backend in the
// background.
func (e *Engine) MarkRead(convID string) {
	e.outbox.MarkRead(convID)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.reads.Add(1)
	e.mu.Unlock()
	ok := e.background(func(ctx context.Context) {
		defer e.reads.Done()
		e.outbox.NotifyRead(ctx, convID)
	})
	if !ok {
		e.reads.Done()
	}
}

// SendMessage shows an agent message immediately and delivers it in the
// background. It returns the temporary id; the outcome is published as
// bus.SendAck or bus.SendFailed.
func (e *Engine) SendMessage(convID, text string) (string, error) {
	if e.isClosed() {
		return "", ErrClosed
	}
	msg, err := e.outbox.Begin(convID, text)
	if err != nil {
		return "", err
	}
	e.deliver(msg)
	return msg.ID, nil
}

// Send is the synchronous form of SendMessage. It returns the server id.
func (e *Engine) Send(ctx context.Context, convID, text string) (string, error) {
	if e.isClosed() {
		return "", ErrClosed
	}
	return e.outbox.Send(ctx, convID, text)
}

// Retry resends a failed message.
func (e *Engine) Retry(convID, tempID string) error {
	msg, err := e.outbox.PrepareRetry(convID, tempID)
	if err != nil {
		return err
	}
	e.deliver(msg)
	return nil
}

func (e *Engine) deliver(msg store.Message) {
	ok := e.background(func(ctx context.Context) {
		_, _ = e.outbox.Deliver(ctx, msg)
	})
	if !ok {
		e.outbox.Fail(msg.ConversationID, msg.ID, ErrClosed)
	}
}

// RequestSuggestion starts a copilot request in the background. Switching
// conversations does not cancel it.
func (e *Engine) RequestSuggestion(convID, text string, kind store.QueryKind) error {
	if e.isClosed() {
		return ErrClosed
	}
	if kind == "" {
		kind = store.QueryAnalysis
	}
	gen, err := e.copilot.Start(convID, text, kind)
	if err != nil {
		return err
	}
	ok := e.background(func(ctx context.Context) {
		_, _ = e.copilot.Finish(ctx, convID, gen, text, kind)
	})
	if !ok {
		e.copilot.Abandon(convID, gen)
		return ErrClosed
	}
	return nil
}

// Ask is the synchronous form of RequestSuggestion.
func (e *Engine) Ask(ctx context.Context, convID, text string, kind store.QueryKind) (store.CopilotState, error) {
	if err := e.copilot.Request(ctx, convID, text, kind); err != nil {
		return e.store.Copilot(convID), err
	}
	return e.store.Copilot(convID), nil
}

// Analyze requests an analysis of a loaded message in the background.
func (e *Engine) Analyze(convID, msgID string) error {
	text, err := e.copilot.AnalyzeQuery(convID, msgID)
	if err != nil {
		return err
	}
	return e.RequestSuggestion(convID, text, store.QueryAnalysis)
}

// ClearSuggestion resets one conversation's copilot state.
func (e *Engine) ClearSuggestion(convID string) {
	e.copilot.Clear(convID)
}

// DeleteConversation deletes a conversation remotely, then drops it from
// the store and the durable cache. A conversation the backend no longer
// knows is still removed locally.
func (e *Engine) DeleteConversation(ctx context.Context, convID string) error {
	if err := e.backend.DeleteConversation(ctx, convID); err != nil && !errors.Is(err, api.ErrNotFound) {
		return fmt.Errorf("deleting conversation %s: %w", convID, err)
	}
	e.store.Do(func(tx *store.Tx) { tx.Delete(convID) })
	e.rec.Forget(convID)
	if e.writer != nil {
		if err := e.writer.Flush(); err != nil {
			return fmt.Errorf("flushing cache after delete: %w", err)
		}
	}
	return nil
}

// StartConversation opens a conversation with a phone number and returns
// its id.
func (e *Engine) StartConversation(ctx context.Context, number, text string) (string, error) {
	id, err := e.backend.StartConversation(ctx, number, text)
	if err != nil {
		return "", fmt.Errorf("starting conversation: %w", err)
	}
	if err := e.RefreshConversations(ctx); err != nil {
		e.logger.Warn("refresh after new conversation failed", zap.Error(err))
	}
	e.store.Do(func(tx *store.Tx) {
		if !tx.Has(id) {
			tx.PutConversation(store.Conversation{ID: id, Phone: number})
		}
	})
	return id, nil
}

// Conversations returns the projected conversation list.
func (e *Engine) Conversations() []projector.Row {
	return projector.Project(e.store.Snapshot())
}

// TotalUnread summarizes unread counters.
func (e *Engine) TotalUnread() projector.Totals {
	return projector.TotalUnread(e.Conversations())
}

// Messages returns a copy of a conversation's loaded messages.
func (e *Engine) Messages(convID string) ([]store.Message, bool) {
	return e.store.Messages(convID)
}

// Copilot returns a conversation's copilot state.
func (e *Engine) Copilot(convID string) store.CopilotState {
	return e.store.Copilot(convID)
}

// Status returns the push channel state. Without a push channel the engine
// is always Degraded (polling only).
func (e *Engine) Status() status.State {
	if e.push == nil {
		return status.Degraded
	}
	return e.push.State()
}

// Store exposes the engine's store for read access.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Handle applies one push frame, as the push channel does.
func (e *Engine) Handle(data []byte) {
	e.rec.Handle(data)
}
