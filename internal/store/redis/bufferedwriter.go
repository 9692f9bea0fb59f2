package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"cryptoscope/internal/model"
)

// BufferedPublisher routes publishes through a circuit breaker.
//
// Snapshot batches rejected by an open circuit are dropped: the next cycle
// publishes a complete replacement. Alert events are edges and are never
// repeated, so they are buffered while the circuit is open and replayed
// once it closes.
type BufferedPublisher struct {
	pub model.SnapshotPublisher
	cb  *CircuitBreaker
	ctx context.Context
	log *slog.Logger

	mu     sync.Mutex
	buffer []model.AlertEvent
	maxBuf int

	// Callbacks
	OnBuffer func()          // called when an event is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered events
}

// NewBufferedPublisher wraps pub. ctx bounds background flushes.
func NewBufferedPublisher(ctx context.Context, pub model.SnapshotPublisher, cb *CircuitBreaker, maxBufferSize int, log *slog.Logger) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 1000
	}
	bp := &BufferedPublisher{
		pub:    pub,
		cb:     cb,
		ctx:    ctx,
		log:    log.With("component", "redis-buffer"),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}
	return bp
}

// PublishSnapshots publishes through the breaker. ErrCircuitOpen is returned
// to the caller; the batch is not retained.
func (bp *BufferedPublisher) PublishSnapshots(ctx context.Context, snaps []model.SymbolSnapshot) error {
	return bp.cb.Execute(func() error {
		return bp.pub.PublishSnapshots(ctx, snaps)
	})
}

// PublishEvent publishes through the breaker, buffering the event if the
// circuit is open.
func (bp *BufferedPublisher) PublishEvent(ctx context.Context, ev model.AlertEvent) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.PublishEvent(ctx, ev)
	})
	if errors.Is(err, ErrCircuitOpen) {
		bp.bufferEvent(ev)
		return nil
	}
	return err
}

func (bp *BufferedPublisher) bufferEvent(ev model.AlertEvent) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, ev)

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered events in order. Events that fail again are kept
// for the next flush.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = nil
	bp.mu.Unlock()

	flushed := 0
	for i, ev := range toFlush {
		if err := bp.pub.PublishEvent(bp.ctx, ev); err != nil {
			bp.log.Warn("flush failed, re-buffering", "pending", len(toFlush)-i, "error", err)
			bp.mu.Lock()
			bp.buffer = append(append([]model.AlertEvent{}, toFlush[i:]...), bp.buffer...)
			bp.mu.Unlock()
			break
		}
		flushed++
	}

	bp.log.Info("flushed buffered events", "count", flushed)
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered events waiting to be flushed.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
