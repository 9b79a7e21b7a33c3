package rabbitmq

import (
	"github.com/streadway/amqp"
)

// Dialer opens an AMQP connection. Tests swap it for a fake.
type Dialer func(url string) (ConnectionInterface, error)

// ConnectionInterface abstracts the AMQP connection for testing
type ConnectionInterface interface {
	Channel() (ChannelInterface, error)
	Close() error
	IsClosed() bool
}

// ChannelInterface abstracts the AMQP channel for testing
type ChannelInterface interface {
	Tx() error
	TxCommit() error
	TxRollback() error
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Publish(exchange, routingKey string, mandatory, immediate bool, msg amqp.Publishing) error
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	Close() error
}

// Ensure existing types implement interfaces
var _ ConnectionInterface = (*amqpConnection)(nil)
var _ ChannelInterface = (*amqp.Channel)(nil)
