// Package redis provides a Redis list transport. A queue is a list; a
// receive atomically moves the message onto a per-session processing list
// with BRPOPLPUSH, and Commit clears that list while pushing the session's
// sends in one MULTI/EXEC.
//
// A processing list left behind by a crashed process is not recovered
// automatically; its messages must be pushed back onto the queue by hand.
package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"grouper-dispatcher/internal/brokers"
	"grouper-dispatcher/internal/common/errors"
	"grouper-dispatcher/internal/common/logging"
)

// wireMessage is the JSON stored in the lists. Deliveries counts how many
// times the message has been handed to a consumer so far.
type wireMessage struct {
	ID          string            `json:"id"`
	GroupID     string            `json:"groupId,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"body"`
	Timestamp   time.Time         `json:"timestamp"`
	Deliveries  int               `json:"deliveries,omitempty"`
}

func encode(w wireMessage) (string, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decode accepts plain payloads pushed by other producers as the body.
func decode(raw string) wireMessage {
	var w wireMessage
	if err := json.Unmarshal([]byte(raw), &w); err != nil || w.Body == nil {
		return wireMessage{Body: []byte(raw)}
	}
	return w
}

// Connection is a go-redis client handing out sessions.
type Connection struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	policy  brokers.RedeliveryPolicy
	logger  logging.Logger
}

// NewConnection creates a client and pings the server.
func NewConnection(ctx context.Context, config *Config) (*Connection, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.ConnectionError("failed to connect to Redis", err).
			WithContext("address", config.Address)
	}

	return &Connection{
		client:  client,
		prefix:  config.KeyPrefix,
		timeout: config.Timeout,
		policy:  brokers.PolicyOrDefault(config.Redelivery),
		logger:  logging.Component("redis").WithFields(logging.String("address", config.Address)),
	}, nil
}

// QueueKey returns the list key backing queue.
func (c *Connection) QueueKey(queue string) string {
	return c.prefix + "queue:" + queue
}

func (c *Connection) processingKey(queue, session string) string {
	return c.prefix + "processing:" + queue + ":" + session
}

func (c *Connection) CreateSession(ctx context.Context) (brokers.Session, error) {
	return &Session{conn: c, id: uuid.NewString()}, nil
}

func (c *Connection) Close() error {
	return c.client.Close()
}

type pendingSend struct {
	queue   string
	payload string
}

type receipt struct {
	queue string
	raw   string
	wire  wireMessage
}

// Session buffers sends and tracks receipts until Commit or Rollback.
type Session struct {
	conn *Connection
	id   string

	mu       sync.Mutex
	sends    []pendingSend
	receipts []receipt
	closed   bool
}

func (s *Session) CreateConsumer(queue string) (brokers.Consumer, error) {
	if s.isClosed() {
		return nil, brokers.ErrSessionClosed
	}
	return &Consumer{session: s, queue: queue}, nil
}

func (s *Session) CreateProducer(queue string) (brokers.Producer, error) {
	if s.isClosed() {
		return nil, brokers.ErrSessionClosed
	}
	return &Producer{session: s, queue: queue}, nil
}

// Commit pushes every buffered send and drops every receipt from its
// processing list in one transaction.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return brokers.ErrSessionClosed
	}
	if len(s.sends) == 0 && len(s.receipts) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.conn.timeout)
	defer cancel()

	_, err := s.conn.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, send := range s.sends {
			pipe.LPush(ctx, s.conn.QueueKey(send.queue), send.payload)
		}
		for _, r := range s.receipts {
			pipe.LRem(ctx, s.conn.processingKey(r.queue, s.id), 1, r.raw)
		}
		return nil
	})
	if err != nil {
		return errors.TransportError("failed to commit Redis transaction", err)
	}

	s.sends = nil
	s.receipts = nil
	return nil
}

func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return brokers.ErrSessionClosed
	}
	return s.rollbackLocked()
}

// rollbackLocked returns receipts to the consuming end of their queues in
// receive order, or to the dead-letter queue once the policy gives up.
func (s *Session) rollbackLocked() error {
	s.sends = nil
	if len(s.receipts) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.conn.timeout)
	defer cancel()

	_, err := s.conn.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := len(s.receipts) - 1; i >= 0; i-- {
			r := s.receipts[i]
			payload, err := encode(r.wire)
			if err != nil {
				return err
			}
			pipe.LRem(ctx, s.conn.processingKey(r.queue, s.id), 1, r.raw)
			if s.conn.policy.ShouldDeadLetter(r.wire.Deliveries) {
				pipe.LPush(ctx, s.conn.QueueKey(brokers.DeadLetterQueue(r.queue)), payload)
				s.conn.logger.Warn("Message moved to dead-letter queue",
					logging.String("queue", r.queue),
					logging.String("message_id", r.wire.ID),
					logging.Int("delivery_count", r.wire.Deliveries),
				)
				continue
			}
			pipe.RPush(ctx, s.conn.QueueKey(r.queue), payload)
		}
		return nil
	})
	if err != nil {
		return errors.TransportError("failed to roll back Redis transaction", err)
	}
	s.receipts = nil
	return nil
}

// Close rolls back anything not committed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.rollbackLocked()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Consumer pops from the tail of a queue list.
type Consumer struct {
	session *Session
	queue   string
}

// Receive moves the next message onto the session's processing list. A
// message that was moved is always returned and tracked, even when ctx ends
// at the same moment, so Rollback or Close can put it back.
func (c *Consumer) Receive(ctx context.Context, timeout time.Duration) (*brokers.Delivery, error) {
	if c.session.isClosed() {
		return nil, brokers.ErrSessionClosed
	}
	conn := c.session.conn

	raw, err := conn.client.BRPopLPush(ctx, conn.QueueKey(c.queue), conn.processingKey(c.queue, c.session.id), timeout).Result()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if stderrors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.TransportError("failed to receive from queue "+c.queue, err)
	}

	w := decode(raw)
	w.Deliveries++

	c.session.mu.Lock()
	c.session.receipts = append(c.session.receipts, receipt{queue: c.queue, raw: raw, wire: w})
	c.session.mu.Unlock()

	return &brokers.Delivery{
		Message: brokers.Message{
			ID:          w.ID,
			GroupID:     w.GroupID,
			ContentType: w.ContentType,
			Headers:     w.Headers,
			Body:        w.Body,
			Timestamp:   w.Timestamp,
		},
		Queue:         c.queue,
		Redelivered:   w.Deliveries > 1,
		DeliveryCount: w.Deliveries,
	}, nil
}

func (c *Consumer) Close() error {
	return nil
}

// Producer buffers messages for one queue until the session commits.
type Producer struct {
	session *Session
	queue   string
}

func (p *Producer) Send(ctx context.Context, message *brokers.Message) error {
	w := wireMessage{
		ID:          message.ID,
		GroupID:     message.GroupID,
		ContentType: message.ContentType,
		Headers:     message.Headers,
		Body:        message.Body,
		Timestamp:   message.Timestamp,
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Timestamp.IsZero() {
		w.Timestamp = time.Now().UTC()
	}
	if w.Body == nil {
		w.Body = []byte{}
	}

	payload, err := encode(w)
	if err != nil {
		return errors.TransportError("failed to encode message", err)
	}

	p.session.mu.Lock()
	defer p.session.mu.Unlock()
	if p.session.closed {
		return brokers.ErrSessionClosed
	}
	p.session.sends = append(p.session.sends, pendingSend{queue: p.queue, payload: payload})
	return nil
}

func (p *Producer) Close() error {
	return nil
}
