// Package supervisor keeps the configured number of dispatcher workers alive
// and drains them on shutdown.
package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"grouper-dispatcher/internal/brokers"
	"grouper-dispatcher/internal/circuitbreaker"
	"grouper-dispatcher/internal/common/errors"
	"grouper-dispatcher/internal/common/logging"
	"grouper-dispatcher/internal/config"
	"grouper-dispatcher/internal/dispatcher"
	"grouper-dispatcher/internal/metrics"
)

// ControlSource supplies the process controls. *config.Properties
// implements it.
type ControlSource interface {
	Controls() config.ProcessControls
}

// Options configure a Supervisor.
type Options struct {
	IngressQueue  string
	PollTimeout   time.Duration
	Tick          time.Duration
	ShutdownGrace time.Duration
	Breaker       circuitbreaker.Config
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions(ingressQueue string) Options {
	return Options{
		IngressQueue:  ingressQueue,
		PollTimeout:   time.Second,
		Tick:          time.Second,
		ShutdownGrace: 5 * time.Second,
		Breaker:       circuitbreaker.DefaultConfig(),
	}
}

type handle struct {
	worker *dispatcher.Worker
	done   chan struct{}
	err    error
}

// Supervisor owns the live worker set.
type Supervisor struct {
	router   dispatcher.Matcher
	connect  brokers.Factory
	controls ControlSource
	opts     Options
	breaker  *circuitbreaker.GoBreakerAdapter
	logger   logging.Logger

	mu      sync.Mutex
	workers map[string]*handle
	seq     int
	wg      sync.WaitGroup
}

// New creates a supervisor. Every worker it starts connects through a
// circuit breaker shared by all workers.
func New(router dispatcher.Matcher, connect brokers.Factory, controls ControlSource, opts Options) *Supervisor {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 5 * time.Second
	}
	logger := logging.Component("supervisor")
	return &Supervisor{
		router:   router,
		connect:  connect,
		controls: controls,
		opts:     opts,
		breaker:  circuitbreaker.NewGoBreaker("broker-connect", opts.Breaker, logger),
		logger:   logger,
		workers:  make(map[string]*handle),
	}
}

// Breaker returns the breaker guarding connects.
func (s *Supervisor) Breaker() *circuitbreaker.GoBreakerAdapter {
	return s.breaker
}

// Run supervises until ctx is done, then interrupts every worker and waits
// for them up to the shutdown grace period. It returns an error only when
// workers are still running after the grace period.
func (s *Supervisor) Run(ctx context.Context) error {
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()

	s.logger.Info("Supervisor started",
		logging.String("queue", s.opts.IngressQueue),
		logging.Duration("tick", s.opts.Tick),
	)

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	s.tick(workerCtx)
	for {
		select {
		case <-ctx.Done():
			cancelWorkers()
			return s.drain()
		case <-ticker.C:
			s.tick(workerCtx)
		}
	}
}

// Live returns the number of workers not yet terminated.
func (s *Supervisor) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.workers {
		select {
		case <-h.done:
		default:
			n++
		}
	}
	return n
}

// Workers returns the names of the workers in the live set, sorted.
func (s *Supervisor) Workers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.workers))
	for name := range s.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// tick prunes terminated workers and starts new ones up to the desired count.
func (s *Supervisor) tick(ctx context.Context) {
	controls := s.controls.Controls()

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, h := range s.workers {
		select {
		case <-h.done:
			delete(s.workers, name)
			if h.err != nil {
				s.logger.Warn("Worker died", logging.String("worker", name), logging.Err(h.err))
				s.opts.Metrics.WorkerExited("failed")
			} else {
				s.logger.Debug("Worker retired", logging.String("worker", name))
				s.opts.Metrics.WorkerExited("retired")
			}
		default:
		}
	}

	for len(s.workers) < controls.NumThreads {
		if ctx.Err() != nil {
			return
		}
		s.startLocked(ctx, controls)
	}
	s.opts.Metrics.Workers(len(s.workers), controls.NumThreads)
}

func (s *Supervisor) startLocked(ctx context.Context, controls config.ProcessControls) {
	s.seq++
	name := fmt.Sprintf("dispatcher-%d", s.seq)

	w := dispatcher.NewWorker(name, s.router, s.guardedConnect, dispatcher.Options{
		IngressQueue:         s.opts.IngressQueue,
		PollTimeout:          s.opts.PollTimeout,
		SleepWaitingMessages: controls.SleepWaitingMessages,
		MaxMessages:          controls.MaxMessagesPerThread,
		Metrics:              s.opts.Metrics,
	})
	h := &handle{worker: w, done: make(chan struct{})}
	s.workers[name] = h

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(h.done)
		h.err = w.Run(ctx)
	}()

	s.logger.Info("Worker started",
		logging.String("worker", name),
		logging.Duration("sleep_waiting_messages", controls.SleepWaitingMessages),
		logging.Int("max_messages", controls.MaxMessagesPerThread),
	)
}

func (s *Supervisor) guardedConnect(ctx context.Context) (brokers.Connection, error) {
	var conn brokers.Connection
	err := s.breaker.Execute(ctx, func() error {
		c, err := s.connect(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// drain waits for every worker to finish, up to the shutdown grace period.
func (s *Supervisor) drain() error {
	s.logger.Info("Supervisor stopping, interrupting workers",
		logging.Int("live", s.Live()),
		logging.Duration("grace", s.opts.ShutdownGrace),
	)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.opts.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info("All workers stopped")
		return nil
	case <-timer.C:
		live := s.Live()
		err := errors.InternalError("workers still running after shutdown grace period", nil).
			WithContext("live", live)
		s.logger.Error("Shutdown grace period expired", err, logging.Int("live", live))
		return err
	}
}
