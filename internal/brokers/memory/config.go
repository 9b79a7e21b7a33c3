package memory

import (
	"context"

	"grouper-dispatcher/internal/brokers"
)

// Config selects the Broker to connect to. A nil Redelivery requeues forever.
type Config struct {
	Broker     *Broker
	Redelivery *brokers.RedeliveryPolicy
}

func (c *Config) Validate() error {
	if c.Broker == nil {
		c.Broker = Default()
	}
	return nil
}

func (c *Config) GetConnectionString() string {
	return "memory://local"
}

func (c *Config) GetType() string {
	return "memory"
}

// Connect opens a connection on the configured broker.
func Connect(ctx context.Context, config brokers.BrokerConfig) (brokers.Connection, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, brokers.ErrConfigMismatch
	}
	conn, err := cfg.Broker.Connect(ctx)
	if err != nil {
		return nil, err
	}
	conn.(*connection).policy = brokers.PolicyOrDefault(cfg.Redelivery)
	return conn, nil
}

func init() {
	brokers.Register("memory", Connect)
}
