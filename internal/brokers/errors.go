package brokers

import "errors"

var (
	// ErrUnknownBrokerType is returned when no transport is registered under a name
	ErrUnknownBrokerType = errors.New("broker type not registered")

	// ErrConfigMismatch is returned when a config is handed to the wrong transport
	ErrConfigMismatch = errors.New("broker config does not match broker type")

	// ErrSessionClosed is returned by operations on a closed session
	ErrSessionClosed = errors.New("session is closed")

	// ErrConnectionClosed is returned by operations on a closed connection
	ErrConnectionClosed = errors.New("connection is closed")
)
