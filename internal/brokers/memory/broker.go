// Package memory provides an in-process transacted transport. Queues live in
// a Broker value; connections opened on the same Broker share them.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"grouper-dispatcher/internal/brokers"
)

type entry struct {
	message       brokers.Message
	deliveryCount int
}

// Broker holds named FIFO queues.
type Broker struct {
	mu     sync.Mutex
	queues map[string][]*entry
	// signal is closed and replaced whenever a message becomes available.
	signal chan struct{}

	connectErr  error
	sendErrs    map[string]error
	commitErr   error
	openConns   int
	connections int
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		queues:   make(map[string][]*entry),
		signal:   make(chan struct{}),
		sendErrs: make(map[string]error),
	}
}

var defaultBroker = NewBroker()

// Default returns the process-wide broker used when a Config names none.
func Default() *Broker {
	return defaultBroker
}

// Connect opens a connection on the broker.
func (b *Broker) Connect(ctx context.Context) (brokers.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr != nil {
		return nil, b.connectErr
	}
	b.openConns++
	b.connections++
	return &connection{broker: b, policy: brokers.DefaultRedeliveryPolicy()}, nil
}

// Put enqueues a message outside any transaction.
func (b *Broker) Put(queue string, message *brokers.Message) {
	msg := *message
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[queue] = append(b.queues[queue], &entry{message: msg})
	b.notifyLocked()
}

// Depth returns the number of messages waiting on queue.
func (b *Broker) Depth(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// Drain removes and returns every message waiting on queue.
func (b *Broker) Drain(queue string) []brokers.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.queues[queue]
	delete(b.queues, queue)

	out := make([]brokers.Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.message)
	}
	return out
}

// OpenConnections returns the number of connections not yet closed.
func (b *Broker) OpenConnections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openConns
}

// Connections returns the number of connections ever opened.
func (b *Broker) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connections
}

// FailConnect makes Connect fail with err until called again with nil.
func (b *Broker) FailConnect(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectErr = err
}

// FailSend makes every send to queue fail with err until called again with nil.
func (b *Broker) FailSend(queue string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.sendErrs, queue)
		return
	}
	b.sendErrs[queue] = err
}

// FailCommit makes every commit fail with err until called again with nil.
func (b *Broker) FailCommit(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commitErr = err
}

func (b *Broker) notifyLocked() {
	close(b.signal)
	b.signal = make(chan struct{})
}

// pop takes the head of queue, or returns the channel to wait on when empty.
func (b *Broker) pop(queue string) (*entry, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.queues[queue]
	if len(entries) == 0 {
		return nil, b.signal
	}
	head := entries[0]
	b.queues[queue] = entries[1:]
	return head, nil
}

func (b *Broker) sendErr(queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sendErrs[queue]
}

type send struct {
	queue   string
	message brokers.Message
}

type receipt struct {
	queue string
	entry *entry
}

// commit publishes sends and forgets receipts atomically.
func (b *Broker) commit(sends []send) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.commitErr != nil {
		return b.commitErr
	}
	for _, s := range sends {
		b.queues[s.queue] = append(b.queues[s.queue], &entry{message: s.message})
	}
	if len(sends) > 0 {
		b.notifyLocked()
	}
	return nil
}

// rollback puts receipts back at the head of their queues in receive order,
// or on the dead-letter queue once the policy gives up on them.
func (b *Broker) rollback(receipts []receipt, policy brokers.RedeliveryPolicy) {
	if len(receipts) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(receipts) - 1; i >= 0; i-- {
		r := receipts[i]
		if policy.ShouldDeadLetter(r.entry.deliveryCount) {
			dlq := brokers.DeadLetterQueue(r.queue)
			b.queues[dlq] = append(b.queues[dlq], r.entry)
			continue
		}
		b.queues[r.queue] = append([]*entry{r.entry}, b.queues[r.queue]...)
	}
	b.notifyLocked()
}

func (b *Broker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openConns--
}
