package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/transitlive/transitlive_core/internal/models"
	"github.com/transitlive/transitlive_core/internal/store"
)

// DefaultAggregationInterval is the pause between two aggregation cycles
const DefaultAggregationInterval = 30 * time.Second

// SessionSource hands out store sessions
type SessionSource interface {
	Acquire(ctx context.Context) (store.Session, error)
}

// BusPublisher fans out the buses produced by a successful cycle
type BusPublisher interface {
	PublishBuses(ctx context.Context, buses []models.VirtualBus) error
}

// CycleObserver records the outcome of each cycle
type CycleObserver interface {
	ObserveCycle(result models.CycleResult, elapsed time.Duration, err error)
}

// SchedulerOption customises a Scheduler
type SchedulerOption func(*Scheduler)

func WithPublisher(p BusPublisher) SchedulerOption {
	return func(s *Scheduler) { s.publisher = p }
}

func WithObserver(o CycleObserver) SchedulerOption {
	return func(s *Scheduler) { s.observer = o }
}

// Scheduler runs the aggregator periodically. Cycles never overlap: the
// interval is measured from the end of one cycle to the start of the next.
type Scheduler struct {
	src        SessionSource
	aggregator *Aggregator
	interval   time.Duration
	publisher  BusPublisher
	observer   CycleObserver
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(src SessionSource, aggregator *Aggregator, interval time.Duration, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if interval <= 0 {
		interval = DefaultAggregationInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		src:        src,
		aggregator: aggregator,
		interval:   interval,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the loop. The first cycle runs immediately. Calling Start
// on a running scheduler is a no-op.
func (s *Scheduler) Start(parent context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
	s.logger.Info("aggregation scheduler started", slog.Duration("interval", s.interval))
}

// Stop cancels the loop and waits for an in-flight cycle to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("aggregation scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// an in-flight cycle is allowed to finish after Stop
		cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.interval)
		_, _ = s.RunOnce(cycleCtx)
		cancel()

		timer.Reset(s.interval)
	}
}

// RunOnce executes a single cycle. Failures and panics are logged and
// returned; the session is released on every path.
func (s *Scheduler) RunOnce(ctx context.Context) (result models.CycleResult, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("aggregation cycle panicked: %v", r)
			result = models.CycleResult{}
		}
		elapsed := time.Since(start)
		if s.observer != nil {
			s.observer.ObserveCycle(result, elapsed, err)
		}
		if err != nil {
			s.logger.Error("aggregation cycle failed",
				slog.String("error", err.Error()),
				slog.Duration("elapsed", elapsed))
			return
		}
		s.logger.Info("aggregation cycle completed",
			slog.Int("buses", len(result.Buses)),
			slog.Int("created", result.Created),
			slog.Int("updated", result.Updated),
			slog.Int("removed", result.Removed),
			slog.Duration("elapsed", elapsed))
	}()

	sess, err := s.src.Acquire(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to acquire session: %w", err)
	}
	defer sess.Release()

	err = sess.InTx(ctx, func(tx store.Tx) error {
		var runErr error
		result, runErr = s.aggregator.Run(ctx, tx)
		return runErr
	})
	if err != nil {
		// rolled back
		return models.CycleResult{}, err
	}

	// retired buses go out with status inactive so subscribers drop them
	snapshot := make([]models.VirtualBus, 0, len(result.Buses)+len(result.Retired))
	snapshot = append(snapshot, result.Buses...)
	snapshot = append(snapshot, result.Retired...)
	if s.publisher != nil && len(snapshot) > 0 {
		if pubErr := s.publisher.PublishBuses(ctx, snapshot); pubErr != nil {
			s.logger.Warn("failed to publish virtual buses", slog.String("error", pubErr.Error()))
		}
	}
	return result, nil
}
