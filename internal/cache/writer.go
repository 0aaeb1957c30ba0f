package cache

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/store"
)

// Writer persists message lists in the background. Marks that arrive while a
// write is pending collapse into that write.
type Writer struct {
	cache  *MessageCache
	source func() map[string][]store.Message
	log    *zap.Logger

	saveMu sync.Mutex
	kick   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewWriter starts a writer that saves whatever source returns.
func NewWriter(c *MessageCache, source func() map[string][]store.Message, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Writer{
		cache:  c,
		source: source,
		log:    log,
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Mark schedules a write. It never blocks.
func (w *Writer) Mark() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Flush writes the current state synchronously.
func (w *Writer) Flush() error {
	w.saveMu.Lock()
	defer w.saveMu.Unlock()
	return w.cache.Save(w.source())
}

// Close stops the background loop and performs a final write.
func (w *Writer) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.wg.Wait()
		err = w.Flush()
	})
	return err
}

func (w *Writer) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case <-w.kick:
			if err := w.Flush(); err != nil {
				w.log.Warn("message cache write failed", zap.Error(err))
			}
		}
	}
}
