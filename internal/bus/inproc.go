package bus

import (
	"context"
	"sync"

	"klinecast/internal/domain/models"
	"klinecast/pkg/logger"
)

// Inproc is a process-local bus. Publish fans out to every subscriber
// without blocking; a subscriber that stops draining loses the newest
// events rather than stalling the ingestor.
type Inproc struct {
	buffer int
	logger *logger.Logger

	mu     sync.RWMutex
	subs   []chan models.SyncComplete
	closed bool
}

func NewInproc(buffer int, lgr *logger.Logger) *Inproc {
	if buffer <= 0 {
		buffer = 256
	}
	return &Inproc{buffer: buffer, logger: lgr}
}

func (b *Inproc) Publish(_ context.Context, ev models.SyncComplete) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("bus subscriber full, dropping event",
				logger.String("symbol", ev.Symbol))
		}
	}
	return nil
}

func (b *Inproc) Subscribe() <-chan models.SyncComplete {
	ch := make(chan models.SyncComplete, b.buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	b.mu.Unlock()
	return ch
}

func (b *Inproc) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	return nil
}
