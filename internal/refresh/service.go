// Package refresh runs the periodic analysis cycle: fetch every tracked key,
// analyze it, detect alert edges, install the result and fan alerts out.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cryptoscope/internal/alert"
	"cryptoscope/internal/calendar"
	"cryptoscope/internal/engine"
	"cryptoscope/internal/logger"
	"cryptoscope/internal/metrics"
	"cryptoscope/internal/model"
	"cryptoscope/internal/notification"
	"cryptoscope/internal/ringbuf"

	"github.com/robfig/cron/v3"
)

var errPanic = errors.New("analysis panicked")

// Store is the durable side of the service: alert state, event history and
// the last snapshot of every key.
type Store interface {
	model.AlertStateStore
	model.EventRecorder
	SaveSnapshots(ctx context.Context, snaps []model.SymbolSnapshot) error
	LoadSnapshots(ctx context.Context) ([]model.SymbolSnapshot, error)
}

// Broadcaster pushes installed results to live clients.
type Broadcaster interface {
	BroadcastAlert(ev model.AlertEvent)
	BroadcastSnapshots(snaps []model.SymbolSnapshot)
}

// Deps are the collaborators of a Service. Only Source is required.
type Deps struct {
	Source    model.CandleSource
	Store     Store
	Publisher model.SnapshotPublisher
	Notifier  notification.Notifier
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
	Log       *slog.Logger
}

// Service owns the detector and the installed cycle.
type Service struct {
	cfg Config

	src         model.CandleSource
	store       Store
	publisher   model.SnapshotPublisher
	notifier    notification.Notifier
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	health      *metrics.HealthStatus
	log         *slog.Logger

	detector *alert.Detector
	current  atomic.Pointer[Cycle]

	cycleMu sync.Mutex // one cycle at a time; also makes enqueue single-producer
	ring    *ringbuf.Ring[model.AlertEvent]
	wake    chan struct{}

	dispatchDone chan struct{}
	now          func() time.Time
	htfStep      time.Duration
}

// New creates a service. Call SetBroadcaster before Run to enable live
// pushes.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Source == nil {
		return nil, errors.New("refresh: candle source is required")
	}
	cfg = cfg.withDefaults()
	if len(cfg.Keys()) == 0 {
		return nil, errors.New("refresh: no symbols or timeframes configured")
	}
	htfStep, ok := calendar.IntervalDuration(cfg.HTFInterval)
	if !ok {
		return nil, fmt.Errorf("refresh: unknown HTF interval %q", cfg.HTFInterval)
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		cfg:          cfg,
		src:          deps.Source,
		store:        deps.Store,
		publisher:    deps.Publisher,
		notifier:     deps.Notifier,
		metrics:      deps.Metrics,
		health:       deps.Health,
		log:          log.With("component", "refresh"),
		detector:     alert.NewDetector(cfg.Thresholds),
		ring:         ringbuf.New[model.AlertEvent](cfg.RingCapacity),
		wake:         make(chan struct{}, 1),
		dispatchDone: make(chan struct{}),
		now:          func() time.Time { return time.Now().UTC() },
		htfStep:      htfStep,
	}
	s.current.Store(&Cycle{snapshots: map[model.SeriesKey]model.SymbolSnapshot{}})
	if s.metrics != nil {
		s.metrics.TrackedKeys.Set(float64(len(cfg.Keys())))
	}
	return s, nil
}

// SetBroadcaster attaches the live push target. Not safe once Run started.
func (s *Service) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// Current returns the installed cycle.
func (s *Service) Current() *Cycle { return s.current.Load() }

// Snapshots returns the installed snapshots ordered by key.
func (s *Service) Snapshots() []model.SymbolSnapshot { return s.Current().Snapshots() }

// AlertState returns the detector's current generation.
func (s *Service) AlertState() model.AlertState { return s.detector.State() }

// Restore loads persisted alert state and snapshots, so alerts are not
// re-fired and clients see data before the first cycle completes.
func (s *Service) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	state, err := s.store.LoadAlertState(ctx)
	if err != nil {
		return fmt.Errorf("restore alert state: %w", err)
	}
	s.detector.Restore(state)

	snaps, err := s.store.LoadSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("restore snapshots: %w", err)
	}
	tracked := make(map[model.SeriesKey]bool)
	for _, k := range s.cfg.Keys() {
		tracked[k] = true
	}
	kept := snaps[:0]
	for _, snap := range snaps {
		if tracked[snap.Key] {
			kept = append(kept, snap)
		}
	}
	s.current.Store(&Cycle{ID: "restored", snapshots: merge(nil, kept)})

	s.log.Info("state restored", "alert_keys", len(s.detector.State()), "snapshots", len(kept))
	return nil
}

// Run restores state, runs one cycle immediately and then one per schedule
// tick until ctx is cancelled. Pending alerts are delivered before it returns.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Restore(ctx); err != nil {
		s.log.Warn("restore failed, starting cold", "error", err)
	}

	c := cron.New(
		cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.RunCycle(ctx) }); err != nil {
		return fmt.Errorf("refresh: schedule %q: %w", s.cfg.Schedule, err)
	}

	go s.dispatchLoop(ctx)

	s.log.Info("refresh service started",
		"keys", len(s.cfg.Keys()), "schedule", s.cfg.Schedule, "workers", s.cfg.Workers)

	s.RunCycle(ctx)
	c.Start()

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	<-s.dispatchDone
	// A cycle still running at cancellation may have enqueued after the
	// dispatcher's last drain.
	s.drain(context.Background())

	s.log.Info("refresh service stopped")
	return nil
}

// RunCycle performs one refresh and installs its result. It returns the
// installed cycle, or nil when ctx was already cancelled.
func (s *Service) RunCycle(ctx context.Context) *Cycle {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if ctx.Err() != nil {
		return nil
	}

	id := logger.GenerateCycleID()
	ctx = logger.WithCycleID(ctx, id)
	started := s.now()
	keys := s.cfg.Keys()

	results := s.analyzeAll(ctx, keys, started)

	fresh := make([]model.SymbolSnapshot, 0, len(results))
	var failures []KeyFailure
	for i, r := range results {
		if r.err != nil {
			reason := failureReason(r.err)
			failures = append(failures, KeyFailure{Key: keys[i], Reason: reason, Error: r.err.Error()})
			s.log.Warn("key failed", append(logger.LogWithCycle(ctx), "key", keys[i].String(), "reason", reason, "error", r.err)...)
			if s.metrics != nil {
				s.metrics.KeyFailures.WithLabelValues(reason).Inc()
			}
			continue
		}
		fresh = append(fresh, r.snap)
	}

	// All readings of the cycle go through one detector swap.
	events := s.detector.Evaluate(engine.Readings(fresh), started)

	cycle := &Cycle{
		ID:         id,
		StartedAt:  started,
		FinishedAt: s.now(),
		snapshots:  merge(s.current.Load(), fresh),
		Failures:   failures,
	}
	s.current.Store(cycle)

	s.enqueue(events)
	s.persist(ctx, fresh)

	if s.broadcaster != nil && len(fresh) > 0 {
		s.broadcaster.BroadcastSnapshots(fresh)
	}

	elapsed := cycle.FinishedAt.Sub(started)
	if s.metrics != nil {
		s.metrics.CyclesTotal.Inc()
		s.metrics.CycleDur.Observe(elapsed.Seconds())
		s.metrics.KeysAnalyzed.Add(float64(len(fresh)))
	}
	if s.health != nil {
		s.health.RecordCycle(cycle.FinishedAt, len(fresh), len(failures))
	}

	s.log.Info("cycle complete", append(logger.LogWithCycle(ctx),
		"analyzed", len(fresh), "failed", len(failures), "alerts", len(events), "elapsed", elapsed)...)
	return cycle
}

// persist saves the detector state and the fresh snapshots, and publishes
// the snapshots. Failures are logged; the cycle stays installed.
func (s *Service) persist(ctx context.Context, fresh []model.SymbolSnapshot) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	if s.store != nil {
		if err := s.store.SaveAlertState(pctx, s.detector.State()); err != nil {
			s.log.Error("save alert state failed", append(logger.LogWithCycle(ctx), "error", err)...)
		}
		if len(fresh) > 0 {
			if err := s.store.SaveSnapshots(pctx, fresh); err != nil {
				s.log.Error("save snapshots failed", append(logger.LogWithCycle(ctx), "error", err)...)
			}
		}
	}
	if s.publisher != nil && len(fresh) > 0 {
		if err := s.publisher.PublishSnapshots(pctx, fresh); err != nil {
			s.log.Warn("publish snapshots failed", append(logger.LogWithCycle(ctx), "error", err)...)
		}
	}
}
