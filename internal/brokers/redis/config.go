package redis

import (
	"fmt"
	"time"

	"grouper-dispatcher/internal/brokers"
	"grouper-dispatcher/internal/common/validation"
)

type Config struct {
	Address  string `env:"REDIS_ADDRESS" validate:"required,hostname_port"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" validate:"gte=0"`
	PoolSize int
	Timeout  time.Duration
	// KeyPrefix namespaces every list the transport touches.
	KeyPrefix string
	// Redelivery is applied on rollback; nil requeues forever.
	Redelivery *brokers.RedeliveryPolicy
}

func (c *Config) Validate() error {
	// Set defaults
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}

	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}

	if c.KeyPrefix == "" {
		c.KeyPrefix = "grouper:"
	}

	return validation.ValidateStruct(c)
}

func (c *Config) GetType() string {
	return "redis"
}

func (c *Config) GetConnectionString() string {
	return fmt.Sprintf("redis://%s/%d", c.Address, c.DB)
}

func DefaultConfig() *Config {
	return &Config{
		Address:   "localhost:6379",
		DB:        0,
		PoolSize:  10,
		Timeout:   5 * time.Second,
		KeyPrefix: "grouper:",
	}
}
