package dispatcher

import "sync/atomic"

// State is a worker's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateConsuming
	StateProcessing
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConsuming:
		return "consuming"
	case StateProcessing:
		return "processing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Stats counts what a worker has done.
type Stats struct {
	Received   int64
	Committed  int64
	Skipped    int64
	Published  int64
	RolledBack int64
}

type counters struct {
	received   atomic.Int64
	committed  atomic.Int64
	skipped    atomic.Int64
	published  atomic.Int64
	rolledBack atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Received:   c.received.Load(),
		Committed:  c.committed.Load(),
		Skipped:    c.skipped.Load(),
		Published:  c.published.Load(),
		RolledBack: c.rolledBack.Load(),
	}
}
