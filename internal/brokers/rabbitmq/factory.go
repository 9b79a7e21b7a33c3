package rabbitmq

import (
	"context"

	"grouper-dispatcher/internal/brokers"
)

// Connect opens a connection for a validated *Config.
func Connect(ctx context.Context, config brokers.BrokerConfig) (brokers.Connection, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, brokers.ErrConfigMismatch
	}
	return NewConnection(ctx, cfg)
}

func init() {
	brokers.Register("rabbitmq", Connect)
}
