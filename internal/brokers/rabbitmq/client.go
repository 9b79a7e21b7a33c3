package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"
)

// amqpConnection adapts *amqp.Connection so Channel returns the interface.
type amqpConnection struct {
	conn *amqp.Connection
}

// Dial connects to a live broker.
func Dial(url string) (ConnectionInterface, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

func (c *amqpConnection) Channel() (ChannelInterface, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

func (c *amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

// convertAMQPHeaders flattens an AMQP table into string headers.
func convertAMQPHeaders(headers amqp.Table) map[string]string {
	result := make(map[string]string, len(headers))
	for key, value := range headers {
		if str, ok := value.(string); ok {
			result[key] = str
		} else {
			result[key] = fmt.Sprintf("%v", value)
		}
	}
	return result
}

// deliveryCount reads x-delivery-count, which quorum queues set on
// redelivery. Classic queues only flag redelivery, so a redelivered message
// without the header counts as its second delivery.
func deliveryCount(d amqp.Delivery) int {
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	}
	if d.Redelivered {
		return 2
	}
	return 1
}
