package transport

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/metrics"
)

// DefaultPollInterval is the pull fallback period.
const DefaultPollInterval = 5 * time.Second

// Poller calls fetch every interval, whatever the push channel is doing.
// fetch must be idempotent.
type Poller struct {
	interval time.Duration
	fetch    func(ctx context.Context) error
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewPoller creates a poller. A non-positive interval selects
// DefaultPollInterval.
func NewPoller(interval time.Duration, fetch func(ctx context.Context) error, m *metrics.Metrics, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{interval: interval, fetch: fetch, metrics: m, log: log.Named("poll")}
}

// Run polls until ctx is done. Fetch errors are logged and retried on the
// next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := p.fetch(ctx)
			p.metrics.Poll(err)
			if err != nil && ctx.Err() == nil {
				p.log.Warn("poll failed", zap.Error(err))
			}
		}
	}
}
