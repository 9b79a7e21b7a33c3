// Package brokers defines the transacted queue transport the dispatcher runs
// on. A Session groups receives and sends into one unit of work: nothing sent
// is visible and nothing received is acknowledged until Commit.
package brokers

import (
	"context"
	"time"
)

// GroupIDHeader carries the group-affinity key. Brokers that support message
// groups deliver messages sharing it in order to one consumer.
const GroupIDHeader = "JMSXGroupID"

// Connection is an open link to a broker.
type Connection interface {
	CreateSession(ctx context.Context) (Session, error)
	Close() error
}

// Session is a transacted unit of work. A Session and everything created from
// it belong to a single goroutine.
type Session interface {
	CreateConsumer(queue string) (Consumer, error)
	CreateProducer(queue string) (Producer, error)
	Commit() error
	Rollback() error
	Close() error
}

// Consumer receives from one queue within its session.
type Consumer interface {
	// Receive waits up to timeout for a message. It returns (nil, nil) when
	// nothing arrived in time and ctx.Err() when ctx is done.
	Receive(ctx context.Context, timeout time.Duration) (*Delivery, error)
	Close() error
}

// Producer sends to one queue within its session.
type Producer interface {
	Send(ctx context.Context, message *Message) error
	Close() error
}

// Message is a payload with its delivery attributes.
type Message struct {
	ID          string
	GroupID     string
	ContentType string
	Headers     map[string]string
	Body        []byte
	Timestamp   time.Time
}

// Delivery is a received message. DeliveryCount is 1 on first delivery.
type Delivery struct {
	Message
	Queue         string
	Redelivered   bool
	DeliveryCount int
}

// Factory opens connections. Workers call it each time they (re)connect.
type Factory func(ctx context.Context) (Connection, error)

// BrokerConfig is implemented by every transport's configuration.
type BrokerConfig interface {
	Validate() error
	GetConnectionString() string
	GetType() string
}
