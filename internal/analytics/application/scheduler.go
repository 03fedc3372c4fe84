package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"vehicle-telemetry/internal/analytics/application/eventbus"
	"vehicle-telemetry/internal/analytics/application/events"
	"vehicle-telemetry/internal/analytics/domain/rolling"
	"vehicle-telemetry/internal/observability/metrics"
)

const (
	defaultCheckInterval = 100 * time.Millisecond
	defaultWriteTimeout  = 5 * time.Second
)

// Aggregator computes a window result at a point in time.
type Aggregator interface {
	Compute(window rolling.Window, now time.Time) (rolling.Result, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now keeps the monotonic reading so wall clock steps do not reorder samples.
func (systemClock) Now() time.Time { return time.Now() }

// Outcome reports what a scheduler pass did.
type Outcome int

const (
	// OutcomeIdle means the window was not due.
	OutcomeIdle Outcome = iota
	// OutcomeSkipped means the window fired with nothing to persist.
	OutcomeSkipped
	// OutcomeCommitted means a record was stored.
	OutcomeCommitted
	// OutcomeFailed means computing or storing failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeSkipped:
		return metrics.PassSkipped
	case OutcomeCommitted:
		return metrics.PassCommitted
	case OutcomeFailed:
		return metrics.PassFailed
	default:
		return "unknown"
	}
}

// ErrNilAggregator is returned when the scheduler has no engine.
var ErrNilAggregator = errors.New("analytics: nil aggregator")

// ErrNilRepository is returned when the scheduler has no storage.
var ErrNilRepository = errors.New("analytics: nil aggregate repository")

// Scheduler persists due window aggregates. Each window runs on its own
// goroutine and owns its timer; windows never wait on each other.
type Scheduler struct {
	aggregator Aggregator
	repo       rolling.AggregateRepository
	vehicleID  int64
	windows    []rolling.Window
	timers     map[rolling.Window]*rolling.Timer

	bus           eventbus.Bus
	clock         Clock
	logger        *log.Logger
	checkInterval time.Duration
	writeTimeout  time.Duration
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithEventBus publishes AggregateCommitted and AggregateFailed events.
func WithEventBus(bus eventbus.Bus) SchedulerOption {
	return func(s *Scheduler) { s.bus = bus }
}

// WithClock overrides the wall clock.
func WithClock(clock Clock) SchedulerOption {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *log.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCheckInterval sets how often windows are checked for being due.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.checkInterval = d
		}
	}
}

// WithWriteTimeout bounds a single storage write.
func WithWriteTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// NewScheduler builds a scheduler whose timers start counting at the clock's now.
func NewScheduler(aggregator Aggregator, repo rolling.AggregateRepository, vehicleID int64, specs []rolling.Spec, opts ...SchedulerOption) (*Scheduler, error) {
	if aggregator == nil {
		return nil, ErrNilAggregator
	}
	if repo == nil {
		return nil, ErrNilRepository
	}
	if vehicleID <= 0 {
		return nil, rolling.ErrInvalidRecord
	}
	if len(specs) == 0 {
		specs = rolling.DefaultSpecs()
	}

	s := &Scheduler{
		aggregator:    aggregator,
		repo:          repo,
		vehicleID:     vehicleID,
		timers:        make(map[rolling.Window]*rolling.Timer, len(specs)),
		clock:         systemClock{},
		logger:        log.Default(),
		checkInterval: defaultCheckInterval,
		writeTimeout:  defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	start := s.clock.Now()
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		timer, err := rolling.NewTimer(spec.Interval, start)
		if err != nil {
			return nil, err
		}
		if _, dup := s.timers[spec.Window]; !dup {
			s.windows = append(s.windows, spec.Window)
		}
		s.timers[spec.Window] = timer
	}
	return s, nil
}

// Timer returns the timer of a window.
func (s *Scheduler) Timer(window rolling.Window) (*rolling.Timer, bool) {
	timer, ok := s.timers[window]
	return timer, ok
}

// Run checks every window until ctx is done. A write in flight when ctx is
// cancelled runs to completion before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, window := range s.windows {
		wg.Add(1)
		go func(window rolling.Window) {
			defer wg.Done()
			s.runWindow(ctx, window)
		}(window)
	}
	wg.Wait()
}

func (s *Scheduler) runWindow(ctx context.Context, window rolling.Window) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx, window, s.clock.Now())
		}
	}
}

// RunOnce fires window if its timer is due at now.
func (s *Scheduler) RunOnce(ctx context.Context, window rolling.Window, now time.Time) (Outcome, error) {
	timer, ok := s.timers[window]
	if !ok {
		return OutcomeIdle, rolling.ErrUnknownWindow
	}
	if !timer.Due(now) {
		return OutcomeIdle, nil
	}
	return s.Fire(ctx, window, now)
}

// Fire computes and stores window regardless of its timer, then resets the
// timer to now. The timer is reset after failures too; the lost interval is
// not retried.
func (s *Scheduler) Fire(ctx context.Context, window rolling.Window, now time.Time) (Outcome, error) {
	timer, ok := s.timers[window]
	if !ok {
		return OutcomeIdle, rolling.ErrUnknownWindow
	}
	defer timer.Reset(now)

	started := time.Now()
	result, err := s.aggregator.Compute(window, now)
	if err != nil {
		s.logger.Printf("aggregate compute failed: window=%s err=%v", window, err)
		metrics.ObserveAggregation(string(window), metrics.PassFailed, time.Since(started))
		s.publishFailed(ctx, window, now, err)
		return OutcomeFailed, err
	}
	if result.Empty() {
		metrics.ObserveAggregation(string(window), metrics.PassSkipped, time.Since(started))
		return OutcomeSkipped, nil
	}

	record := rolling.Record{
		VehicleID:  s.vehicleID,
		Window:     window,
		RecordedAt: now.UTC(),
		Values:     result,
	}

	// Shutdown must not abort a write midway.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	err = s.repo.InsertAggregate(writeCtx, record)
	cancel()
	if err != nil {
		s.logger.Printf("aggregate write failed: window=%s vehicle=%d err=%v", window, s.vehicleID, err)
		metrics.ObserveAggregation(string(window), metrics.PassFailed, time.Since(started))
		s.publishFailed(ctx, window, now, err)
		return OutcomeFailed, err
	}

	metrics.ObserveAggregation(string(window), metrics.PassCommitted, time.Since(started))
	s.publish(ctx, events.AggregateCommitted{
		VehicleID:  s.vehicleID,
		Window:     window,
		RecordedAt: now.UTC(),
		Values:     result,
		OccurredAt: s.clock.Now().UTC(),
	})
	return OutcomeCommitted, nil
}

func (s *Scheduler) publishFailed(ctx context.Context, window rolling.Window, now time.Time, cause error) {
	s.publish(ctx, events.AggregateFailed{
		VehicleID:  s.vehicleID,
		Window:     window,
		AttemptAt:  now.UTC(),
		Reason:     cause.Error(),
		OccurredAt: s.clock.Now().UTC(),
	})
}

func (s *Scheduler) publish(ctx context.Context, event any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Printf("aggregate event handler failed: event=%s err=%v", eventbus.TypeName(event), err)
	}
}
