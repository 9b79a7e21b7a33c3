package rabbitmq

import (
	"fmt"
	"net/url"

	"grouper-dispatcher/internal/brokers"
	"grouper-dispatcher/internal/common/validation"
)

type Config struct {
	URL string `env:"RABBITMQ_URL" validate:"required,url"`
	// Redelivery is applied on rollback; nil requeues forever.
	Redelivery *brokers.RedeliveryPolicy
	// Dial defaults to Dial against a live broker.
	Dial Dialer `json:"-"`
}

func (c *Config) Validate() error {
	if c.Dial == nil {
		c.Dial = Dial
	}

	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if c.Redelivery != nil && c.Redelivery.MaxRedeliveries < -1 {
		return fmt.Errorf("max redeliveries must be -1 or more, got %d", c.Redelivery.MaxRedeliveries)
	}
	return nil
}

func (c *Config) GetConnectionString() string {
	// Sanitize URL to remove credentials from logs
	if parsedURL, err := url.Parse(c.URL); err == nil {
		parsedURL.User = nil
		return fmt.Sprintf("rabbitmq://%s", parsedURL.Host)
	}
	return "rabbitmq://***"
}

func (c *Config) GetType() string {
	return "rabbitmq"
}
