// Package rabbitmq provides the AMQP 0-9-1 transport. Each session owns one
// channel in transaction mode, so acknowledgements and publishes on it take
// effect together at TxCommit.
package rabbitmq

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"grouper-dispatcher/internal/brokers"
	"grouper-dispatcher/internal/common/errors"
	"grouper-dispatcher/internal/common/logging"
)

// Connection is an AMQP connection handing out transacted sessions.
type Connection struct {
	conn   ConnectionInterface
	policy brokers.RedeliveryPolicy
	logger logging.Logger
}

// NewConnection dials the broker named by config.
func NewConnection(ctx context.Context, config *Config) (*Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dial := config.Dial
	if dial == nil {
		dial = Dial
	}

	conn, err := dial(config.URL)
	if err != nil {
		return nil, errors.ConnectionError("failed to connect to RabbitMQ", err).
			WithContext("url", config.GetConnectionString())
	}

	return &Connection{
		conn:   conn,
		policy: brokers.PolicyOrDefault(config.Redelivery),
		logger: logging.Component("rabbitmq").WithFields(logging.String("url", config.GetConnectionString())),
	}, nil
}

// CreateSession opens a channel and puts it in transaction mode.
func (c *Connection) CreateSession(ctx context.Context) (brokers.Session, error) {
	if c.conn.IsClosed() {
		return nil, errors.ConnectionError("RabbitMQ connection is closed", brokers.ErrConnectionClosed)
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, errors.ConnectionError("failed to open channel", err)
	}
	if err := ch.Tx(); err != nil {
		ch.Close()
		return nil, errors.ConnectionError("failed to put channel in transaction mode", err)
	}

	return &Session{
		ch:       ch,
		policy:   c.policy,
		logger:   c.logger,
		declared: make(map[string]bool),
	}, nil
}

// Close closes the connection and every channel on it.
func (c *Connection) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

type pendingDelivery struct {
	queue string
	tag   uint64
	count int
	msg   amqp.Delivery
}

// Session is a transacted AMQP channel.
type Session struct {
	ch     ChannelInterface
	policy brokers.RedeliveryPolicy
	logger logging.Logger

	mu       sync.Mutex
	pending  []pendingDelivery
	declared map[string]bool
	closed   bool
}

func (s *Session) declare(queue string) error {
	if s.declared[queue] {
		return nil
	}
	if _, err := s.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return errors.TransportError("failed to declare queue "+queue, err)
	}
	s.declared[queue] = true
	return nil
}

// CreateConsumer declares queue and starts a manual-ack consumer with a
// prefetch of one, so a message is only handed out once the previous one
// has been committed or rolled back.
func (s *Session) CreateConsumer(queue string) (brokers.Consumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, brokers.ErrSessionClosed
	}

	if err := s.declare(queue); err != nil {
		return nil, err
	}
	if err := s.ch.Qos(1, 0, false); err != nil {
		return nil, errors.TransportError("failed to set prefetch", err)
	}

	tag := "grouper-dispatcher-" + uuid.NewString()
	deliveries, err := s.ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return nil, errors.TransportError("failed to start consuming from queue "+queue, err)
	}

	return &Consumer{
		session:    s,
		queue:      queue,
		tag:        tag,
		deliveries: deliveries,
	}, nil
}

// CreateProducer declares queue and returns a producer for it.
func (s *Session) CreateProducer(queue string) (brokers.Producer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, brokers.ErrSessionClosed
	}

	if err := s.declare(queue); err != nil {
		return nil, err
	}
	return &Producer{session: s, queue: queue}, nil
}

// Commit acknowledges every message received since the last commit and
// releases every publish in one transaction.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return brokers.ErrSessionClosed
	}

	for _, p := range s.pending {
		if err := s.ch.Ack(p.tag, false); err != nil {
			return errors.TransportError("failed to acknowledge message", err)
		}
	}
	if err := s.ch.TxCommit(); err != nil {
		return errors.TransportError("failed to commit transaction", err)
	}
	s.pending = nil
	return nil
}

// Rollback discards uncommitted publishes, then returns each received
// message to its queue, or moves it to the dead-letter queue once the
// redelivery policy gives up on it. That disposal is committed on its own.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return brokers.ErrSessionClosed
	}
	return s.rollbackLocked()
}

func (s *Session) rollbackLocked() error {
	if err := s.ch.TxRollback(); err != nil {
		return errors.TransportError("failed to roll back transaction", err)
	}
	if len(s.pending) == 0 {
		return nil
	}

	for _, p := range s.pending {
		if s.policy.ShouldDeadLetter(p.count) {
			if err := s.deadLetter(p); err != nil {
				return err
			}
			continue
		}
		if err := s.ch.Nack(p.tag, false, true); err != nil {
			return errors.TransportError("failed to requeue message", err)
		}
	}
	if err := s.ch.TxCommit(); err != nil {
		return errors.TransportError("failed to commit message disposal", err)
	}
	s.pending = nil
	return nil
}

func (s *Session) deadLetter(p pendingDelivery) error {
	dlq := brokers.DeadLetterQueue(p.queue)
	if err := s.declare(dlq); err != nil {
		return err
	}

	headers := amqp.Table{}
	for k, v := range p.msg.Headers {
		headers[k] = v
	}
	headers["x-original-queue"] = p.queue
	headers["x-delivery-count"] = int64(p.count)

	err := s.ch.Publish("", dlq, false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  p.msg.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    p.msg.MessageId,
		Timestamp:    p.msg.Timestamp,
		Body:         p.msg.Body,
	})
	if err != nil {
		return errors.TransportError("failed to publish to dead-letter queue "+dlq, err)
	}
	if err := s.ch.Ack(p.tag, false); err != nil {
		return errors.TransportError("failed to acknowledge dead-lettered message", err)
	}

	s.logger.Warn("Message moved to dead-letter queue",
		logging.String("queue", p.queue),
		logging.String("dead_letter_queue", dlq),
		logging.String("message_id", p.msg.MessageId),
		logging.Int("delivery_count", p.count),
	)
	return nil
}

// Close rolls back uncommitted work and closes the channel.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if len(s.pending) > 0 {
		if err := s.rollbackLocked(); err != nil {
			s.logger.Warn("Rollback on session close failed", logging.Err(err))
		}
	}
	return s.ch.Close()
}

func (s *Session) track(queue string, d amqp.Delivery) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := deliveryCount(d)
	s.pending = append(s.pending, pendingDelivery{queue: queue, tag: d.DeliveryTag, count: count, msg: d})
	return count
}

// Consumer reads from one queue's delivery channel.
type Consumer struct {
	session    *Session
	queue      string
	tag        string
	deliveries <-chan amqp.Delivery
}

// Receive waits up to timeout for the next delivery.
func (c *Consumer) Receive(ctx context.Context, timeout time.Duration) (*brokers.Delivery, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case d, ok := <-c.deliveries:
		if !ok {
			return nil, errors.TransportError("delivery channel closed", brokers.ErrSessionClosed).
				WithContext("queue", c.queue)
		}
		count := c.session.track(c.queue, d)

		headers := convertAMQPHeaders(d.Headers)
		return &brokers.Delivery{
			Message: brokers.Message{
				ID:          d.MessageId,
				GroupID:     headers[brokers.GroupIDHeader],
				ContentType: d.ContentType,
				Headers:     headers,
				Body:        d.Body,
				Timestamp:   d.Timestamp,
			},
			Queue:         c.queue,
			Redelivered:   d.Redelivered,
			DeliveryCount: count,
		}, nil
	}
}

// Close cancels the consumer.
func (c *Consumer) Close() error {
	return c.session.ch.Cancel(c.tag, false)
}

// Producer publishes persistent messages to one queue through the default exchange.
type Producer struct {
	session *Session
	queue   string
}

// Send publishes message within the session's transaction.
func (p *Producer) Send(ctx context.Context, message *brokers.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	headers := amqp.Table{}
	for k, v := range message.Headers {
		headers[k] = v
	}
	if message.GroupID != "" {
		headers[brokers.GroupIDHeader] = message.GroupID
	}

	id := message.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := message.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	p.session.mu.Lock()
	defer p.session.mu.Unlock()
	if p.session.closed {
		return brokers.ErrSessionClosed
	}

	err := p.session.ch.Publish("", p.queue, false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  message.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    ts,
		Body:         message.Body,
	})
	if err != nil {
		return errors.TransportError("failed to publish to queue "+p.queue, err)
	}
	return nil
}

// Close is a no-op; publishes share the session channel.
func (p *Producer) Close() error {
	return nil
}
