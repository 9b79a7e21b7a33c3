package rabbitmq

import (
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

type published struct {
	queue string
	msg   amqp.Publishing
}

// mockChannel records channel calls. Publishes and acks are staged until
// TxCommit the way a transacted channel behaves.
type mockChannel struct {
	mu sync.Mutex

	txMode     bool
	prefetch   int
	declared   []string
	deliveries chan amqp.Delivery
	cancelled  []string
	closed     bool

	stagedPubs []published
	stagedAcks []uint64
	stagedNack []uint64

	publishedMsgs []published
	acked         []uint64
	requeued      []uint64
	commits       int
	rollbacks     int

	publishErr error
	commitErr  error
	txErr      error
}

func newMockChannel() *mockChannel {
	return &mockChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (m *mockChannel) Tx() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.txErr != nil {
		return m.txErr
	}
	m.txMode = true
	return nil
}

func (m *mockChannel) TxCommit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	m.commits++
	m.publishedMsgs = append(m.publishedMsgs, m.stagedPubs...)
	m.acked = append(m.acked, m.stagedAcks...)
	m.requeued = append(m.requeued, m.stagedNack...)
	m.stagedPubs, m.stagedAcks, m.stagedNack = nil, nil, nil
	return nil
}

func (m *mockChannel) TxRollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbacks++
	m.stagedPubs, m.stagedAcks, m.stagedNack = nil, nil, nil
	return nil
}

func (m *mockChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefetch = prefetchCount
	return nil
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !durable {
		return amqp.Queue{}, fmt.Errorf("queue %s must be durable", name)
	}
	m.declared = append(m.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (m *mockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, fmt.Errorf("auto ack not expected")
	}
	return m.deliveries, nil
}

func (m *mockChannel) Cancel(consumer string, noWait bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, consumer)
	return nil
}

func (m *mockChannel) Publish(exchange, routingKey string, mandatory, immediate bool, msg amqp.Publishing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.stagedPubs = append(m.stagedPubs, published{queue: routingKey, msg: msg})
	return nil
}

func (m *mockChannel) Ack(tag uint64, multiple bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stagedAcks = append(m.stagedAcks, tag)
	return nil
}

func (m *mockChannel) Nack(tag uint64, multiple, requeue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if requeue {
		m.stagedNack = append(m.stagedNack, tag)
	}
	return nil
}

func (m *mockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockChannel) deliver(tag uint64, body string, headers amqp.Table, redelivered bool) {
	m.deliveries <- amqp.Delivery{
		DeliveryTag: tag,
		MessageId:   fmt.Sprintf("msg-%d", tag),
		Body:        []byte(body),
		Headers:     headers,
		Redelivered: redelivered,
	}
}

type mockConnection struct {
	channel    *mockChannel
	closed     bool
	channelErr error
}

func (m *mockConnection) Channel() (ChannelInterface, error) {
	if m.channelErr != nil {
		return nil, m.channelErr
	}
	return m.channel, nil
}

func (m *mockConnection) Close() error {
	m.closed = true
	return nil
}

func (m *mockConnection) IsClosed() bool {
	return m.closed
}
