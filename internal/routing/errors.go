package routing

import "errors"

var (
	// ErrMalformedRule is returned when a rule line does not have five pipe-separated fields
	ErrMalformedRule = errors.New("each rule must have 5 parts separated by | (pipe)")

	// ErrEmptyPattern is returned when a rule has no group pattern
	ErrEmptyPattern = errors.New("group pattern is empty")

	// ErrEmptyQueue is returned when a rule has no target queue
	ErrEmptyQueue = errors.New("target queue is empty")

	// ErrEmptyOperations is returned when a rule lists no operations
	ErrEmptyOperations = errors.New("operations is empty")

	// ErrInvalidOperation is returned when an operation token is outside the vocabulary
	ErrInvalidOperation = errors.New("illegal operation")

	// ErrInvalidFormat is returned when the format is neither xml nor json
	ErrInvalidFormat = errors.New("illegal format")

	// ErrSelfLoop is returned when a rule targets the dispatcher's own ingress queue
	ErrSelfLoop = errors.New("rule queue matches the queue the dispatcher reads from")

	// ErrNoRoutingState is returned when no rule file has ever loaded successfully
	ErrNoRoutingState = errors.New("no routing state loaded")
)
