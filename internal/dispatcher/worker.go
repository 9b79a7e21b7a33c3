// Package dispatcher runs the workers that move change envelopes from the
// ingress queue to the queues the routing rules name. Each worker owns one
// connection, one transacted session, one consumer and its own producers.
package dispatcher

import (
	"context"
	"sync/atomic"
	"time"

	"grouper-dispatcher/internal/brokers"
	"grouper-dispatcher/internal/common/errors"
	"grouper-dispatcher/internal/common/logging"
	"grouper-dispatcher/internal/envelope"
	"grouper-dispatcher/internal/metrics"
	"grouper-dispatcher/internal/routing"
)

// Matcher resolves the rules that apply to an event. *routing.Router
// implements it.
type Matcher interface {
	Match(group, operation string) ([]*routing.Rule, error)
	Queues() ([]string, error)
}

// Options are fixed for the life of a worker.
type Options struct {
	IngressQueue         string
	PollTimeout          time.Duration
	SleepWaitingMessages time.Duration
	// MaxMessages is the number of commits after which the worker retires.
	MaxMessages int
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions(ingressQueue string) Options {
	return Options{
		IngressQueue:         ingressQueue,
		PollTimeout:          time.Second,
		SleepWaitingMessages: 3 * time.Second,
		MaxMessages:          10000,
	}
}

// Worker is one dispatcher loop. A Worker runs once; the supervisor starts
// a new one to replace it.
type Worker struct {
	name    string
	router  Matcher
	connect brokers.Factory
	opts    Options
	logger  logging.Logger

	state atomic.Int32
	stats counters

	conn      brokers.Connection
	session   brokers.Session
	consumer  brokers.Consumer
	producers map[string]brokers.Producer
}

// NewWorker creates a worker that is not yet running.
func NewWorker(name string, router Matcher, connect brokers.Factory, opts Options) *Worker {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = time.Second
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 10000
	}
	return &Worker{
		name:      name,
		router:    router,
		connect:   connect,
		opts:      opts,
		logger:    logging.Component("dispatcher").WithFields(logging.String("worker", name)),
		producers: make(map[string]brokers.Producer),
	}
}

// Name returns the worker's name.
func (w *Worker) Name() string {
	return w.name
}

// State returns the worker's current state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() Stats {
	return w.stats.snapshot()
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run connects and dispatches until ctx is done, the message cap is reached,
// or an error occurs. Cancellation and the cap are clean exits and return
// nil. On error the open transaction is rolled back before Run returns it.
// Every resource is closed on the way out.
func (w *Worker) Run(ctx context.Context) error {
	ctx = logging.ContextWithWorker(ctx, w.name)
	defer func() {
		w.close()
		w.setState(StateTerminated)
		s := w.Stats()
		w.logger.Info("Worker terminated",
			logging.Int64("received", s.Received),
			logging.Int64("committed", s.Committed),
			logging.Int64("skipped", s.Skipped),
			logging.Int64("published", s.Published),
			logging.Int64("rolled_back", s.RolledBack),
		)
	}()

	w.setState(StateConnecting)
	if err := w.open(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		w.logger.Error("Worker failed to connect", err)
		return err
	}
	w.logger.Info("Worker consuming", logging.String("queue", w.opts.IngressQueue))

	for commits := 0; commits < w.opts.MaxMessages; {
		if ctx.Err() != nil {
			w.logger.Info("Worker interrupted")
			return nil
		}

		w.setState(StateConsuming)
		delivery, err := w.consumer.Receive(ctx, w.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("Worker interrupted")
				return nil
			}
			return w.abort(errors.TransportError("failed to receive from "+w.opts.IngressQueue, err))
		}
		if delivery == nil {
			if !sleep(ctx, w.opts.SleepWaitingMessages) {
				w.logger.Info("Worker interrupted")
				return nil
			}
			continue
		}

		w.setState(StateProcessing)
		w.stats.received.Add(1)
		w.opts.Metrics.Received()
		// an envelope in flight is finished even if shutdown starts meanwhile
		if err := w.process(context.WithoutCancel(ctx), delivery); err != nil {
			return w.abort(err)
		}
		commits++
	}

	w.logger.Info("Worker reached its message cap", logging.Int("max_messages", w.opts.MaxMessages))
	return nil
}

func (w *Worker) open(ctx context.Context) error {
	conn, err := w.connect(ctx)
	if err != nil {
		return err
	}
	w.conn = conn

	session, err := conn.CreateSession(ctx)
	if err != nil {
		return err
	}
	w.session = session

	consumer, err := session.CreateConsumer(w.opts.IngressQueue)
	if err != nil {
		return err
	}
	w.consumer = consumer

	// create the producers the current rules need up front; any queue
	// added by a later reload is created on first use
	queues, err := w.router.Queues()
	if err != nil {
		w.logger.Warn("Routing rules unavailable, producers will be created on demand", logging.Err(err))
		return nil
	}
	for _, queue := range queues {
		if _, err := w.producer(queue); err != nil {
			return err
		}
	}
	return nil
}

// process routes one delivery and commits. A body that does not decode is
// committed without publishing anything.
func (w *Worker) process(ctx context.Context, d *brokers.Delivery) error {
	started := time.Now()
	logger := w.logger.WithContext(logging.ContextWithMessageID(ctx, d.ID))

	env, err := envelope.Decode(d.Body)
	if err != nil {
		logger.Error("Skipping malformed message", err,
			logging.Int("delivery_count", d.DeliveryCount),
			logging.Int("body_bytes", len(d.Body)),
		)
		if err := w.commit(started); err != nil {
			return err
		}
		w.stats.skipped.Add(1)
		w.opts.Metrics.Skipped()
		return nil
	}
	logger.Debug("Received envelope", logging.String("envelope", env.String()))

	rules, err := w.router.Match(env.Name, env.Operation)
	if err != nil {
		return err
	}

	for _, rule := range rules {
		producer, err := w.producer(rule.TargetQueue)
		if err != nil {
			return err
		}

		body, contentType, err := envelope.Encode(env, rule.Format)
		if err != nil {
			return err
		}

		msg := &brokers.Message{
			GroupID:     env.GroupKey(),
			ContentType: contentType,
			Headers: map[string]string{
				"operation": env.Operation,
				"format":    string(rule.Format),
			},
			Body: body,
		}
		if err := producer.Send(ctx, msg); err != nil {
			return errors.TransportError("failed to send to "+rule.TargetQueue, err)
		}
		w.stats.published.Add(1)
		w.opts.Metrics.Published(rule.TargetQueue, string(rule.Format))

		logger.Info("Envelope dispatched",
			logging.String("queue", rule.TargetQueue),
			logging.String("group", env.Name),
			logging.String("operation", env.Operation),
			logging.String("format", string(rule.Format)),
		)
	}

	if err := w.commit(started); err != nil {
		return err
	}
	if len(rules) == 0 {
		logger.Debug("No rule matched", logging.String("group", env.Name), logging.String("operation", env.Operation))
	}
	return nil
}

func (w *Worker) commit(started time.Time) error {
	if err := w.session.Commit(); err != nil {
		return errors.TransportError("failed to commit", err)
	}
	w.stats.committed.Add(1)
	w.opts.Metrics.Committed(time.Since(started))
	return nil
}

// producer returns the cached producer for queue, creating it on first use.
func (w *Worker) producer(queue string) (brokers.Producer, error) {
	if p, ok := w.producers[queue]; ok {
		return p, nil
	}
	p, err := w.session.CreateProducer(queue)
	if err != nil {
		return nil, errors.TransportError("failed to create producer for "+queue, err)
	}
	w.producers[queue] = p
	return p, nil
}

// abort rolls back the open transaction and returns err.
func (w *Worker) abort(err error) error {
	w.logger.Error("Worker failed, rolling back", err)
	if rbErr := w.session.Rollback(); rbErr != nil {
		w.logger.Error("Rollback failed", rbErr)
	} else {
		w.stats.rolledBack.Add(1)
		w.opts.Metrics.RolledBack()
	}
	return err
}

// close releases everything the worker opened. Each close is independent.
func (w *Worker) close() {
	for queue, p := range w.producers {
		if err := p.Close(); err != nil {
			w.logger.Warn("Failed to close producer", logging.String("queue", queue), logging.Err(err))
		}
	}
	w.producers = make(map[string]brokers.Producer)

	if w.consumer != nil {
		if err := w.consumer.Close(); err != nil {
			w.logger.Warn("Failed to close consumer", logging.Err(err))
		}
		w.consumer = nil
	}
	if w.session != nil {
		if err := w.session.Close(); err != nil {
			w.logger.Warn("Failed to close session", logging.Err(err))
		}
		w.session = nil
	}
	if w.conn != nil {
		if err := w.conn.Close(); err != nil {
			w.logger.Warn("Failed to close connection", logging.Err(err))
		}
		w.conn = nil
	}
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
