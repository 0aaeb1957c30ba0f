// Package transport owns the push channel connection and the pull fallback.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/bus"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/metrics"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/status"
)

const (
	// DefaultReconnectDelay is the fixed wait before each reconnect attempt.
	DefaultReconnectDelay = 5 * time.Second

	defaultReadLimit = 1 << 20
)

// ErrNotConnected is returned by Send while no connection is open.
var ErrNotConnected = errors.New("push channel not connected")

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("push channel closed")

//go:generate mockgen -destination=mock_conn_test.go -package=transport . Conn

// Conn abstracts the WebSocket connection so the push channel can be tested
// without a real server. *websocket.Conn satisfies this interface.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

// Dialer opens a connection to url.
type Dialer func(ctx context.Context, url string) (Conn, error)

// DialWebSocket is the default Dialer.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil) //nolint:bodyclose // websocket.Dial closes the response body internally
	if err != nil {
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}
	return conn, nil
}

// Options configures a PushChannel. Zero values select defaults.
type Options struct {
	ReconnectDelay time.Duration
	ReadLimit      int64
	Dial           Dialer
	Bus            *bus.Bus
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

// PushChannel holds one WebSocket connection to the backend and keeps it
// open. Inbound text frames are handed to the registered handlers.
//
// After an unexpected close it waits ReconnectDelay and dials again, forever,
// at the same fixed delay. Close is the only way to stop it.
type PushChannel struct {
	url   string
	opts  Options
	log   *zap.Logger
	state *status.Machine

	mu       sync.Mutex
	conn     Conn
	handlers []func([]byte)
	closed   bool
	cancel   context.CancelFunc
}

// NewPushChannel creates a channel for url. Nothing is dialed until Connect
// or Run.
func NewPushChannel(url string, opts Options) *PushChannel {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.Dial == nil {
		opts.Dial = DialWebSocket
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &PushChannel{
		url:   url,
		opts:  opts,
		log:   log.Named("push"),
		state: status.NewMachine(opts.Bus),
	}
}

// State returns the connection state.
func (p *PushChannel) State() status.State {
	return p.state.Current()
}

// OnEvent registers a handler for inbound frames. Handlers run on the reader
// goroutine, one frame at a time.
func (p *PushChannel) OnEvent(handler func(data []byte)) {
	p.mu.Lock()
	p.handlers = append(p.handlers, handler)
	p.mu.Unlock()
}

// Connect dials once. On failure the channel is left Degraded and Run will
// keep retrying.
func (p *PushChannel) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.conn != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.transition(status.Connecting)
	conn, err := p.opts.Dial(ctx, p.url)
	if err != nil {
		p.transition(status.Degraded)
		return err
	}
	conn.SetReadLimit(p.opts.ReadLimit)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "closed")
		return ErrClosed
	}
	p.conn = conn
	p.mu.Unlock()

	p.transition(status.Live)
	p.log.Info("push channel connected")
	return nil
}

// Send writes event as a JSON text frame on the open connection.
func (p *PushChannel) Send(ctx context.Context, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Run reads frames and reconnects until ctx is done or Close is called.
func (p *PushChannel) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.cancel = cancel
	p.mu.Unlock()

	for {
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()

		if conn == nil {
			if err := p.Connect(ctx); err != nil {
				if p.stopped(ctx) {
					return nil
				}
				p.log.Warn("push channel connect failed",
					zap.Error(err),
					zap.Duration("retry_in", p.opts.ReconnectDelay))
				if !p.wait(ctx) {
					return nil
				}
				continue
			}
			continue
		}

		err := p.read(ctx, conn)

		p.mu.Lock()
		if p.conn == conn {
			p.conn = nil
		}
		p.mu.Unlock()

		if p.stopped(ctx) {
			return nil
		}
		if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
			// The backend rejected the token; dialing again cannot help.
			p.log.Error("push channel rejected, staying on polling", zap.Error(err))
			p.transition(status.Degraded)
			<-ctx.Done()
			return nil
		}

		p.opts.Metrics.Reconnect()
		p.log.Warn("push channel lost, reconnecting",
			zap.Error(err),
			zap.Duration("retry_in", p.opts.ReconnectDelay))
		p.transition(status.Reconnecting)
		_ = conn.Close(websocket.StatusGoingAway, "reconnecting")
		if !p.wait(ctx) {
			return nil
		}
	}
}

// read delivers frames until the connection fails.
func (p *PushChannel) read(ctx context.Context, conn Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			p.log.Debug("ignoring binary frame", zap.Int("bytes", len(data)))
			continue
		}
		p.dispatch(data)
	}
}

func (p *PushChannel) dispatch(data []byte) {
	p.mu.Lock()
	handlers := p.handlers
	p.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

// Close shuts the connection down with a normal closure. It never triggers
// a reconnect. Close is idempotent.
func (p *PushChannel) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	p.conn = nil
	cancel := p.cancel
	p.mu.Unlock()

	p.transition(status.Closed)
	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "bye")
	}
	if cancel != nil {
		cancel()
	}
	return err
}

func (p *PushChannel) stopped(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed || ctx.Err() != nil
}

// wait sleeps for the reconnect delay. It returns false if the channel was
// stopped in the meantime.
func (p *PushChannel) wait(ctx context.Context) bool {
	timer := time.NewTimer(p.opts.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return !p.stopped(ctx)
	}
}

func (p *PushChannel) transition(to status.State) {
	if p.state.Current() == to {
		return
	}
	if err := p.state.Transition(to); err != nil {
		p.log.Debug("state transition skipped", zap.Error(err))
	}
}
