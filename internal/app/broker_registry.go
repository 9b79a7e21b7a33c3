package app

import (
	"fmt"

	"grouper-dispatcher/internal/brokers"
	"grouper-dispatcher/internal/brokers/memory"
	"grouper-dispatcher/internal/brokers/rabbitmq"
	redisbroker "grouper-dispatcher/internal/brokers/redis"
	"grouper-dispatcher/internal/common/errors"
	"grouper-dispatcher/internal/config"
)

// BrokerConfig builds the transport configuration named by cfg.BrokerType.
// Importing the transports here registers them with the default registry.
func BrokerConfig(cfg *config.Config) (brokers.BrokerConfig, error) {
	policy := &brokers.RedeliveryPolicy{MaxRedeliveries: cfg.MaxRedeliveries}

	switch cfg.BrokerType {
	case "rabbitmq":
		return &rabbitmq.Config{
			URL:        cfg.RabbitMQURL,
			Redelivery: policy,
		}, nil
	case "redis":
		return &redisbroker.Config{
			Address:    cfg.RedisAddress,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			Redelivery: policy,
		}, nil
	case "memory":
		return &memory.Config{
			Broker:     memory.Default(),
			Redelivery: policy,
		}, nil
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported broker type %q", cfg.BrokerType), brokers.ErrUnknownBrokerType).
			WithContext("available", brokers.GetAvailableTypes())
	}
}

// BrokerFactory validates the transport configuration and returns a
// connection factory for it. Nothing is dialed yet.
func BrokerFactory(cfg *config.Config) (brokers.Factory, error) {
	brokerConfig, err := BrokerConfig(cfg)
	if err != nil {
		return nil, err
	}
	return brokers.NewFactory(brokerConfig)
}
