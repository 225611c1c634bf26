package service

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ThreatDispatcher fans score changes out to slow observers (the alert bus,
// the history store) from its own goroutine. Notify never blocks: when the
// queue is full the change is dropped and counted.
type ThreatDispatcher struct {
	observers []ThreatObserver
	queue     chan ThreatScoreChange
	metrics   *MetricsService
	logger    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewThreatDispatcher constructs a dispatcher. The queue size defaults to 256.
func NewThreatDispatcher(size int, metrics *MetricsService, logger *zap.Logger, observers ...ThreatObserver) *ThreatDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = 256
	}
	return &ThreatDispatcher{
		observers: observers,
		queue:     make(chan ThreatScoreChange, size),
		metrics:   metrics,
		logger:    logger,
	}
}

// ThreatScoreChanged implements ThreatObserver by enqueueing the change.
func (d *ThreatDispatcher) ThreatScoreChanged(_ context.Context, change ThreatScoreChange) {
	select {
	case d.queue <- change:
	default:
		d.metrics.ObserveThreatNotificationDropped()
		d.logger.Warn("threat notification dropped",
			zap.Int("score", change.Score),
			zap.String("level", string(change.Level)),
			zap.String("cause", change.Cause),
		)
	}
}

// Start launches the delivery loop. Calling it twice is a no-op.
func (d *ThreatDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.loop(ctx)
}

// Stop cancels the loop and waits for the in-flight delivery to finish.
func (d *ThreatDispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
}

func (d *ThreatDispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-d.queue:
			for _, observer := range d.observers {
				observer.ThreatScoreChanged(ctx, change)
			}
		}
	}
}
