package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"restaurant-voice/internal/metrics"
)

// ReconcileDelay is how long after a trigger the vendor is asked for the
// final call record.
const ReconcileDelay = 30 * time.Second

var (
	ErrMissingCallID    = errors.New("missing call id")
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

// FetchStorer is satisfied by *Fetcher.
type FetchStorer interface {
	FetchAndStore(ctx context.Context, callID string) (Result, error)
}

type SchedulerConfig struct {
	Workers      int
	QueueSize    int
	FetchTimeout time.Duration
	Logger       *slog.Logger
}

type SchedulerOption func(*Scheduler)

// WithDelay replaces ReconcileDelay. Tests use it to shorten the wait.
func WithDelay(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.delay = d }
}

// Scheduler runs at most one delayed fetch per vendor call id. A call id
// stays pending from the moment it is accepted until its fetch returns,
// so triggers that arrive while a fetch is queued or running are dropped.
// Nothing is persisted; a restart loses pending work.
type Scheduler struct {
	fetcher      FetchStorer
	delay        time.Duration
	fetchTimeout time.Duration
	pool         *ants.PoolWithFunc
	log          *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

func NewScheduler(fetcher FetchStorer, cfg SchedulerConfig, opts ...SchedulerOption) (*Scheduler, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 100
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		fetcher:      fetcher,
		delay:        ReconcileDelay,
		fetchTimeout: cfg.FetchTimeout,
		log:          cfg.Logger.With("component", "reconcile_scheduler"),
		baseCtx:      ctx,
		cancel:       cancel,
		pending:      map[string]*time.Timer{},
	}
	for _, o := range opts {
		o(s)
	}

	pool, err := ants.NewPoolWithFunc(cfg.Workers, func(i interface{}) {
		s.run(i.(string))
	},
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithPanicHandler(func(p interface{}) {
			s.log.Error("reconcile worker panic", "panic", fmt.Sprint(p))
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create reconcile pool: %w", err)
	}
	s.pool = pool
	return s, nil
}

// Schedule arranges one fetch for callID after the reconcile delay.
// It returns false without error when callID is already pending.
func (s *Scheduler) Schedule(callID string) (bool, error) {
	if callID == "" {
		metrics.ReconcileScheduledTotal.WithLabelValues("rejected").Inc()
		return false, ErrMissingCallID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		metrics.ReconcileScheduledTotal.WithLabelValues("rejected").Inc()
		return false, ErrSchedulerStopped
	}
	if _, ok := s.pending[callID]; ok {
		metrics.ReconcileScheduledTotal.WithLabelValues("duplicate").Inc()
		s.log.Debug("reconcile already pending", "call_id", callID)
		return false, nil
	}

	s.pending[callID] = time.AfterFunc(s.delay, func() { s.submit(callID) })
	metrics.ReconcileScheduledTotal.WithLabelValues("scheduled").Inc()
	metrics.ReconcilePending.Set(float64(len(s.pending)))
	s.log.Info("reconcile scheduled", "call_id", callID, "delay", s.delay)
	return true, nil
}

// Pending reports whether callID is scheduled, queued or running.
func (s *Scheduler) Pending(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[callID]
	return ok
}

func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels timers that have not fired, rejects new work, and waits for
// running fetches until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	dropped := 0
	for id, t := range s.pending {
		if t.Stop() {
			delete(s.pending, id)
			dropped++
		}
	}
	metrics.ReconcilePending.Set(float64(len(s.pending)))
	s.mu.Unlock()

	if dropped > 0 {
		s.log.Warn("dropped pending reconciliations on shutdown", "count", dropped)
	}

	timeout := 10 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(dl), 0)
	}
	if ctx.Err() != nil {
		timeout = 0
	}
	err := s.pool.ReleaseTimeout(timeout)
	s.cancel()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (s *Scheduler) submit(callID string) {
	if err := s.pool.Invoke(callID); err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			s.log.Warn("reconcile queue full, dropping", "call_id", callID)
		} else {
			s.log.Warn("reconcile submit failed", "call_id", callID, "err", err)
		}
		s.finish(callID)
	}
}

func (s *Scheduler) run(callID string) {
	defer s.finish(callID)

	ctx, cancel := context.WithTimeout(s.baseCtx, s.fetchTimeout)
	defer cancel()

	res, err := s.fetcher.FetchAndStore(ctx, callID)
	if err != nil {
		s.log.Warn("reconcile fetch failed", "call_id", callID, "err", err)
		return
	}
	s.log.Info("reconcile finished", "call_id", callID, "status", res.Status, "record_id", res.RecordID)
}

func (s *Scheduler) finish(callID string) {
	s.mu.Lock()
	delete(s.pending, callID)
	n := len(s.pending)
	s.mu.Unlock()
	metrics.ReconcilePending.Set(float64(n))
}
