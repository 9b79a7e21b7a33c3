package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"grouper-dispatcher/internal/common/logging"
)

// Keys of the properties file.
const (
	PropNumThreads           = "numThreads"
	PropSleepWaitingMessages = "sleepWaitingMessagesMillisecs"
	PropMaxMessagesPerThread = "maxMessagesPerThread"
)

// ProcessControls are the knobs an operator may turn without a restart.
type ProcessControls struct {
	NumThreads           int
	SleepWaitingMessages time.Duration
	MaxMessagesPerThread int
}

// Properties serves process controls from a key=value file, re-reading it
// at most once per refresh interval. A missing file or a bad value falls
// back to the defaults for that key.
type Properties struct {
	path     string
	refresh  time.Duration
	defaults ProcessControls
	logger   logging.Logger
	now      func() time.Time

	mu       sync.Mutex
	current  ProcessControls
	loadedAt time.Time
	loaded   bool
}

// NewProperties creates a reader for the file at path. An empty path serves
// the defaults forever.
func NewProperties(path string, defaults ProcessControls, refresh time.Duration) *Properties {
	return &Properties{
		path:     path,
		refresh:  refresh,
		defaults: defaults,
		current:  defaults,
		logger:   logging.Component("properties").WithFields(logging.String("file", path)),
		now:      time.Now,
	}
}

// Controls returns the current process controls.
func (p *Properties) Controls() ProcessControls {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.loaded || now.Sub(p.loadedAt) >= p.refresh {
		p.current = p.read()
		p.loadedAt = now
		p.loaded = true
	}
	return p.current
}

// NumThreads returns the desired worker count.
func (p *Properties) NumThreads() int {
	return p.Controls().NumThreads
}

// Invalidate forces the next Controls call to re-read the file.
func (p *Properties) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = false
}

func (p *Properties) read() ProcessControls {
	controls := p.defaults
	if p.path == "" {
		return controls
	}

	values, err := godotenv.Read(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.logger.Debug("Properties file not found, using defaults")
		} else {
			p.logger.Error("Failed to read properties file, using defaults", err)
		}
		return controls
	}

	if n, ok := p.intValue(values, PropNumThreads, 0); ok {
		controls.NumThreads = n
	}
	if ms, ok := p.intValue(values, PropSleepWaitingMessages, 0); ok {
		controls.SleepWaitingMessages = time.Duration(ms) * time.Millisecond
	}
	if n, ok := p.intValue(values, PropMaxMessagesPerThread, 1); ok {
		controls.MaxMessagesPerThread = n
	}
	return controls
}

// intValue parses key, logging and rejecting anything below min.
func (p *Properties) intValue(values map[string]string, key string, min int) (int, bool) {
	raw, ok := values[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		p.logger.Error("Invalid property value, using default", err,
			logging.String("key", key),
			logging.String("value", raw),
		)
		return 0, false
	}
	if n < min {
		p.logger.Error("Property value out of range, using default", nil,
			logging.String("key", key),
			logging.Int("value", n),
			logging.Int("min", min),
		)
		return 0, false
	}
	return n, true
}
