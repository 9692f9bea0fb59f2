package refresh

import (
	"context"
	"time"

	"cryptoscope/internal/model"
	"cryptoscope/internal/notification"
)

const sinkTimeout = 10 * time.Second

// enqueue pushes the events of one cycle into the ring and wakes the
// dispatcher. Only the cycle goroutine calls it.
func (s *Service) enqueue(events []model.AlertEvent) {
	for _, ev := range events {
		if !s.ring.Push(ev) {
			s.log.Warn("alert ring full, event dropped", "key", ev.Key().String(), "kind", ev.Kind)
			if s.metrics != nil {
				s.metrics.RingBufOverflow.Inc()
			}
		}
	}
	if s.metrics != nil {
		s.metrics.AlertQueueLen.Set(float64(s.ring.Len()))
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop is the single consumer of the ring. It drains on every wake
// and once more on shutdown.
func (s *Service) dispatchLoop(ctx context.Context) {
	defer close(s.dispatchDone)
	for {
		select {
		case <-ctx.Done():
			s.drain(context.Background())
			return
		case <-s.wake:
			s.drain(ctx)
		}
	}
}

func (s *Service) drain(ctx context.Context) {
	for {
		ev, ok := s.ring.Pop()
		if !ok {
			break
		}
		s.deliver(ctx, ev)
	}
	if s.metrics != nil {
		s.metrics.AlertQueueLen.Set(float64(s.ring.Len()))
	}
}

// deliver sends one event to every sink. Sink errors are logged and never
// block the remaining sinks.
func (s *Service) deliver(ctx context.Context, ev model.AlertEvent) {
	log := s.log.With("event_id", ev.ID, "key", ev.Key().String(), "kind", ev.Kind)
	if s.metrics != nil {
		s.metrics.AlertsTotal.WithLabelValues(string(ev.Kind)).Inc()
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastAlert(ev)
	}

	sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	if s.store != nil {
		if err := s.store.RecordEvent(sctx, ev); err != nil {
			log.Error("record event failed", "error", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishEvent(sctx, ev); err != nil {
			log.Warn("publish event failed", "error", err)
		}
	}
	if s.notifier != nil {
		if err := s.notifier.Send(sctx, notification.FromEvent(ev)); err != nil {
			log.Error("notify failed", "error", err)
			if s.metrics != nil {
				s.metrics.NotifyErrors.Inc()
			}
		}
	}
}
