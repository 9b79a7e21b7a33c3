package brokers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"grouper-dispatcher/internal/common/errors"
)

// ConnectFunc opens a connection for a validated config of its own type.
type ConnectFunc func(ctx context.Context, config BrokerConfig) (Connection, error)

// Registry maps broker type names to their connect functions.
type Registry struct {
	connectors map[string]ConnectFunc
	mu         sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]ConnectFunc),
	}
}

func (r *Registry) Register(brokerType string, connect ConnectFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[brokerType] = connect
}

// Factory validates config and returns a Factory that connects with it.
func (r *Registry) Factory(config BrokerConfig) (Factory, error) {
	if config == nil {
		return nil, errors.ConfigError("broker config is required", nil)
	}

	brokerType := config.GetType()
	r.mu.RLock()
	connect, exists := r.connectors[brokerType]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.ConfigError(fmt.Sprintf("broker type %s not registered", brokerType), ErrUnknownBrokerType)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid %s config", brokerType), err)
	}

	return func(ctx context.Context) (Connection, error) {
		return connect(ctx, config)
	}, nil
}

func (r *Registry) GetAvailableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.connectors))
	for brokerType := range r.connectors {
		types = append(types, brokerType)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) IsRegistered(brokerType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.connectors[brokerType]
	return exists
}

var DefaultRegistry = NewRegistry()

func Register(brokerType string, connect ConnectFunc) {
	DefaultRegistry.Register(brokerType, connect)
}

func NewFactory(config BrokerConfig) (Factory, error) {
	return DefaultRegistry.Factory(config)
}

func GetAvailableTypes() []string {
	return DefaultRegistry.GetAvailableTypes()
}
