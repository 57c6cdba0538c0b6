package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitlive/transitlive_core/internal/logging"
	"github.com/transitlive/transitlive_core/internal/models"
	"github.com/transitlive/transitlive_core/internal/store"
)

type recordingPublisher struct {
	mu    sync.Mutex
	calls [][]models.VirtualBus
}

func (p *recordingPublisher) PublishBuses(ctx context.Context, buses []models.VirtualBus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, buses)
	return nil
}

type recordingObserver struct {
	mu       sync.Mutex
	cycles   int
	failures int
}

func (o *recordingObserver) ObserveCycle(result models.CycleResult, elapsed time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cycles++
	if err != nil {
		o.failures++
	}
}

func (o *recordingObserver) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cycles, o.failures
}

// flakySource fails the first acquire and panics inside the second cycle
type flakySource struct {
	store    *store.MemoryStore
	mu       sync.Mutex
	acquires int
	released int
}

func (f *flakySource) Acquire(ctx context.Context) (store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	switch f.acquires {
	case 1:
		return nil, errors.New("connection refused")
	case 2:
		return &panickingSession{src: f}, nil
	}
	sess, err := f.store.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &countingSession{Session: sess, src: f}, nil
}

func (f *flakySource) stats() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires, f.released
}

func (f *flakySource) release() {
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
}

type panickingSession struct{ src *flakySource }

func (p *panickingSession) InTx(ctx context.Context, fn func(store.Tx) error) error {
	panic("driver exploded")
}

func (p *panickingSession) Release() { p.src.release() }

type countingSession struct {
	store.Session
	src *flakySource
}

func (c *countingSession) Release() {
	c.Session.Release()
	c.src.release()
}

func TestSchedulerRunOnce(t *testing.T) {
	f := newFixture(t, DefaultEvaluatorOptions())
	f.putOnboard(t, 1, 1, true, 10.0, -75.0)

	pub := &recordingPublisher{}
	obs := &recordingObserver{}
	s := NewScheduler(f.store, NewAggregator(f.clock, logging.Discard()), time.Minute, logging.Discard(),
		WithPublisher(pub), WithObserver(obs))

	result, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 0, f.store.OpenSessions())

	require.Len(t, pub.calls, 1)
	assert.Equal(t, int64(1), pub.calls[0][0].RouteID)

	cycles, failures := obs.counts()
	assert.Equal(t, 1, cycles)
	assert.Zero(t, failures)
}

func TestSchedulerPublishesRetiredBuses(t *testing.T) {
	f := newFixture(t, DefaultEvaluatorOptions())
	f.putBus(t, 2, 10.0, -75.0)

	pub := &recordingPublisher{}
	s := NewScheduler(f.store, NewAggregator(f.clock, logging.Discard()), time.Minute, logging.Discard(),
		WithPublisher(pub))

	result, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Buses)
	assert.Equal(t, 1, result.Removed)

	require.Len(t, pub.calls, 1)
	require.Len(t, pub.calls[0], 1)
	assert.Equal(t, "bus-2", pub.calls[0][0].ID)
	assert.Equal(t, models.BusStatusInactive, pub.calls[0][0].Status)

	// nothing left to announce
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, pub.calls, 1)
}

func TestSchedulerRunOnceRecoversPanic(t *testing.T) {
	f := newFixture(t, DefaultEvaluatorOptions())
	src := &flakySource{store: f.store, acquires: 1}
	obs := &recordingObserver{}
	s := NewScheduler(src, NewAggregator(f.clock, logging.Discard()), time.Minute, logging.Discard(), WithObserver(obs))

	result, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Empty(t, result.Buses)

	_, released := src.stats()
	assert.Equal(t, 1, released)
	_, failures := obs.counts()
	assert.Equal(t, 1, failures)
}

func TestSchedulerSurvivesFailingCycles(t *testing.T) {
	f := newFixture(t, DefaultEvaluatorOptions())
	f.putOnboard(t, 1, 2, true, 10.05, -75.0)

	src := &flakySource{store: f.store}
	obs := &recordingObserver{}
	s := NewScheduler(src, NewAggregator(f.clock, logging.Discard()), 5*time.Millisecond, logging.Discard(), WithObserver(obs))

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		cycles, _ := obs.counts()
		return cycles >= 4
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	_, failures := obs.counts()
	assert.Equal(t, 2, failures)
	assert.Len(t, f.buses(t), 1)

	acquires, released := src.stats()
	// the first acquire failed and never produced a session
	assert.Equal(t, acquires-1, released)
	assert.Equal(t, 0, f.store.OpenSessions())
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultEvaluatorOptions())
	obs := &recordingObserver{}
	s := NewScheduler(f.store, NewAggregator(f.clock, logging.Discard()), time.Hour, logging.Discard(), WithObserver(obs))

	s.Stop()
	s.Start(context.Background())
	s.Start(context.Background())
	require.Eventually(t, func() bool {
		cycles, _ := obs.counts()
		return cycles == 1
	}, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	cycles, _ := obs.counts()
	assert.Equal(t, 1, cycles)
}

func TestSchedulerStopsWithParentContext(t *testing.T) {
	f := newFixture(t, DefaultEvaluatorOptions())
	s := NewScheduler(f.store, NewAggregator(f.clock, logging.Discard()), time.Hour, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
