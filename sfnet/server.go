package sfnet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Server is the top-level handle returned by New: it owns the task pool,
// every reactor, the accept plane, and the signal-driven shutdown path.
// Callers construct one Server per listening process.
type Server struct {
	cfg Config
	cb  Callbacks

	log     *zap.Logger
	metrics *metrics
	clock   *coarseClock
	pool    *taskPool

	reactors  []*Reactor
	listeners *listenerSet
	accept    *acceptPlane
	sched     *Scheduler

	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// New validates cfg and cb, pre-allocates the task pool, and constructs one
// Reactor per Config.WorkerThreads. It does not bind sockets or start any
// goroutine — call Start for that; construction is kept separate from
// startup so the embedder can register metrics first.
func New(cfg Config, cb Callbacks, log *zap.Logger) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := cb.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	pool, err := newTaskPool(cfg.MaxConnections, cfg.MaxConnections/4, cfg.MinBufSize, cfg.MaxBufSize)
	if err != nil {
		return nil, err
	}

	clock := newCoarseClock()
	m := newMetrics()
	sched := newScheduler(log)
	registerDefaultScheduleEntries(sched, cfg, cb)

	reactors := make([]*Reactor, cfg.WorkerThreads)
	for i := range reactors {
		r, err := newReactor(i, cfg, cb, pool, m, clock, log)
		if err != nil {
			for _, done := range reactors[:i] {
				if done != nil {
					done.pl.close()
					done.handoff.close()
				}
			}
			return nil, fmt.Errorf("sfnet: reactor %d: %w", i, err)
		}
		reactors[i] = r
	}

	return &Server{
		cfg:      cfg,
		cb:       cb,
		log:      log,
		metrics:  m,
		clock:    clock,
		pool:     pool,
		reactors: reactors,
		sched:    sched,
	}, nil
}

// registerDefaultScheduleEntries wires the framework's own three default
// maintenance entries: a log-buffer flush on every SyncLogBuffInterval
// tick, and, when log rotation is enabled, a daily rotate at midnight plus
// a daily old-file cleanup at 01:00 when a keep-days limit is set. Each
// entry is only registered if the embedder actually supplied the matching
// callback — an embedder that never sets LogSync/LogRotate/
// LogDeleteOldFiles simply gets none of these, rather than a scheduler
// entry that calls a nil func.
func registerDefaultScheduleEntries(sched *Scheduler, cfg Config, cb Callbacks) {
	if cb.LogSync != nil {
		sched.AddEntry("log_sync", cfg.SyncLogBuffInterval, func(now time.Time) {
			if err := cb.LogSync(); err != nil {
				sched.log.Warn("log sync failed", zap.Error(err))
			}
		})
	}

	if !cfg.LogRotateEnabled {
		return
	}

	if cb.LogRotate != nil {
		sched.AddDailyEntry("log_notify_rotate", 0, cb.LogRotate)
	}

	if cfg.LogFileKeepDays > 0 && cb.LogDeleteOldFiles != nil {
		keepDays := cfg.LogFileKeepDays
		sched.AddDailyEntry("log_delete_old_files", time.Hour, func(now time.Time) {
			cb.LogDeleteOldFiles(now, keepDays)
		})
	}
}

// Schedule exposes the framework's periodic-task scheduler so an embedder
// can register its own maintenance hooks (log rotation, cache sweeps) on
// the same cadence machinery. Entries must be added before Start.
func (s *Server) Schedule() *Scheduler {
	return s.sched
}

// MetricCollectors exposes the framework's prometheus.Collector set so the
// embedding binary can register them into its own registry before calling
// Start — the binary owns the registry, not the framework.
func (s *Server) MetricCollectors() []prometheus.Collector {
	return s.metrics.Collectors()
}

// Start binds the listening sockets, then starts the coarse clock, every
// reactor goroutine, the periodic scheduler, the accept plane, and the
// signal watcher, in that order, and returns immediately. The signal
// watcher is started last, not first, and the sockets are bound before any
// reactor runs, so a bind failure returns an error with nothing started.
func (s *Server) Start(ctx context.Context) error {
	var startErr error
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		s.cancel = cancel

		ls, err := newListenerSet(s.cfg)
		if err != nil {
			startErr = err
			return
		}
		s.listeners = ls

		s.clock.start()

		for _, r := range s.reactors {
			r := r
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				r.run(ctx)
			}()
		}

		s.sched.start(ctx)

		s.accept = newAcceptPlane(s.cfg, s.cb, s.pool, s.reactors, s.metrics, s.log, ls)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.accept.run(ctx)
		}()

		go watchSignals(ctx, cancel, s.log)
	})
	return startErr
}

// Shutdown cancels every reactor, the accept plane, and the scheduler, then
// blocks until every reactor goroutine and the accept plane's in-line outer
// loop have returned, before closing the listeners and releasing the pool.
// The other accept goroutines and the scheduler's goroutines stop on
// cancellation but are not waited for.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.clock.Stop()
		s.listeners.close()
		s.pool.destroy()
	})
}

// Stats reports current pool occupancy, useful for /health and /ready
// handlers in the embedding binary.
func (s *Server) Stats() (allocated, inUse, max int) {
	return s.pool.stats()
}
