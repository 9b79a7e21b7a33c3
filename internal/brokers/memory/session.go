package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"grouper-dispatcher/internal/brokers"
)

type connection struct {
	broker *Broker
	policy brokers.RedeliveryPolicy

	mu     sync.Mutex
	closed bool
}

func (c *connection) CreateSession(ctx context.Context) (brokers.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, brokers.ErrConnectionClosed
	}
	return &session{broker: c.broker, policy: c.policy}, nil
}

func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.broker.release()
	return nil
}

type session struct {
	broker *Broker
	policy brokers.RedeliveryPolicy

	mu       sync.Mutex
	sends    []send
	receipts []receipt
	closed   bool
}

func (s *session) CreateConsumer(queue string) (brokers.Consumer, error) {
	if s.isClosed() {
		return nil, brokers.ErrSessionClosed
	}
	return &consumer{session: s, queue: queue}, nil
}

func (s *session) CreateProducer(queue string) (brokers.Producer, error) {
	if s.isClosed() {
		return nil, brokers.ErrSessionClosed
	}
	return &producer{session: s, queue: queue}, nil
}

func (s *session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return brokers.ErrSessionClosed
	}
	if err := s.broker.commit(s.sends); err != nil {
		return err
	}
	s.sends = nil
	s.receipts = nil
	return nil
}

func (s *session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return brokers.ErrSessionClosed
	}
	s.rollbackLocked()
	return nil
}

func (s *session) rollbackLocked() {
	s.broker.rollback(s.receipts, s.policy)
	s.sends = nil
	s.receipts = nil
}

// Close rolls back anything not committed.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.rollbackLocked()
	s.closed = true
	return nil
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type consumer struct {
	session *session
	queue   string
}

func (c *consumer) Receive(ctx context.Context, timeout time.Duration) (*brokers.Delivery, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if c.session.isClosed() {
			return nil, brokers.ErrSessionClosed
		}
		head, wait := c.session.broker.pop(c.queue)
		if head != nil {
			head.deliveryCount++
			c.session.mu.Lock()
			c.session.receipts = append(c.session.receipts, receipt{queue: c.queue, entry: head})
			c.session.mu.Unlock()
			return &brokers.Delivery{
				Message:       head.message,
				Queue:         c.queue,
				Redelivered:   head.deliveryCount > 1,
				DeliveryCount: head.deliveryCount,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-wait:
		}
	}
}

func (c *consumer) Close() error {
	return nil
}

type producer struct {
	session *session
	queue   string
}

func (p *producer) Send(ctx context.Context, message *brokers.Message) error {
	if err := p.session.broker.sendErr(p.queue); err != nil {
		return err
	}
	msg := *message
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	p.session.mu.Lock()
	defer p.session.mu.Unlock()
	if p.session.closed {
		return brokers.ErrSessionClosed
	}
	p.session.sends = append(p.session.sends, send{queue: p.queue, message: msg})
	return nil
}

func (p *producer) Close() error {
	return nil
}
