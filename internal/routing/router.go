package routing

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"grouper-dispatcher/internal/common/errors"
	"grouper-dispatcher/internal/common/logging"
)

// Router owns the routing rules loaded from one rule file. Lookups read the
// current State without locking; reloads build a fresh State and swap it in
// only after the whole file parsed.
type Router struct {
	path         string
	ingressQueue string
	logger       logging.Logger

	state atomic.Pointer[State]
	dirty atomic.Bool
	// reloadMu serializes reloads; lookups never take it unless a reload is pending.
	reloadMu sync.Mutex

	watchCtx context.Context
	watcher  *Watcher
	watchMu  sync.Mutex

	onReload func(rules int, err error)
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithWatch starts a file watcher on the rule file's directory the first time
// the rules load. The watcher stops when ctx is done.
func WithWatch(ctx context.Context) Option {
	return func(r *Router) {
		r.watchCtx = ctx
	}
}

// WithReloadObserver calls fn after every reload attempt with the number of
// rules loaded or the error that rejected the file.
func WithReloadObserver(fn func(rules int, err error)) Option {
	return func(r *Router) {
		r.onReload = fn
	}
}

// NewRouter creates a router for the rule file at path. Rules targeting
// ingressQueue are rejected. Nothing is read until the first lookup or Reload.
func NewRouter(path, ingressQueue string, opts ...Option) *Router {
	r := &Router{
		path:         path,
		ingressQueue: ingressQueue,
		logger:       logging.Component("router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithFields(logging.String("rules_file", path))
	r.dirty.Store(true)
	return r
}

// Path returns the rule file path.
func (r *Router) Path() string {
	return r.path
}

// MarkDirty asks for a reload before the next lookup.
func (r *Router) MarkDirty() {
	r.dirty.Store(true)
}

// ReloadPending reports whether a reload has been requested but not run.
func (r *Router) ReloadPending() bool {
	return r.dirty.Load()
}

// State returns the published snapshot, or nil before the first successful load.
func (r *Router) State() *State {
	return r.state.Load()
}

// Reload re-reads the rule file and publishes the new State. On error the
// previous State stays in effect.
func (r *Router) Reload() error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()
	r.dirty.Store(false)
	return r.reloadLocked()
}

func (r *Router) reloadLocked() error {
	r.ensureWatcher()

	rules, err := LoadRules(r.path, r.ingressQueue)
	if err != nil {
		if r.state.Load() == nil {
			// nothing to fall back on; retry on the next lookup
			r.dirty.Store(true)
		}
		r.logger.Error("Rule file rejected, keeping previous routing state", err)
		r.observe(0, err)
		return err
	}

	state := NewState(rules)
	r.state.Store(state)
	r.observe(len(rules), nil)

	r.logger.Info("Routing rules loaded",
		logging.Int("include_rules", len(state.Rules())),
		logging.Int("rules", len(rules)),
		logging.Strings("queues", state.Queues()),
	)
	for _, rule := range rules {
		r.logger.Debug("Rule", logging.String("rule", rule.String()))
	}
	return nil
}

func (r *Router) observe(rules int, err error) {
	if r.onReload != nil {
		r.onReload(rules, err)
	}
}

// current reloads first if a change was flagged. A failed reload only surfaces
// as an error when there is no earlier State to fall back on.
func (r *Router) current() (*State, error) {
	if r.dirty.Load() {
		var err error
		r.reloadMu.Lock()
		if r.dirty.Swap(false) {
			err = r.reloadLocked()
		}
		r.reloadMu.Unlock()
		if err != nil && r.state.Load() == nil {
			return nil, err
		}
	}

	state := r.state.Load()
	if state == nil {
		return nil, errors.ConfigError("routing rules unavailable", ErrNoRoutingState)
	}
	return state, nil
}

// Match returns the include rules that apply to (group, operation).
func (r *Router) Match(group, operation string) ([]*Rule, error) {
	state, err := r.current()
	if err != nil {
		return nil, err
	}
	return state.Match(group, operation), nil
}

// Queues returns the distinct target queues of the current include rules.
func (r *Router) Queues() ([]string, error) {
	state, err := r.current()
	if err != nil {
		return nil, err
	}
	return state.Queues(), nil
}

func (r *Router) ensureWatcher() {
	if r.watchCtx == nil {
		return
	}
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	if r.watcher != nil && r.watcher.Running() {
		return
	}

	w, err := NewWatcher(r.path, r.MarkDirty, r.logger)
	if err != nil {
		r.logger.Error("Failed to start rule file watcher", err)
		return
	}
	r.watcher = w
	go func() {
		if err := w.Run(r.watchCtx); err != nil {
			r.logger.Error("Rule file watcher stopped", err)
		}
	}()
}

// LoadRules parses every rule in the file at path. Blank lines and lines
// starting with # are skipped. The first bad line aborts the load.
func LoadRules(path, ingressQueue string) ([]*Rule, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("cannot open rule file %s", path), err)
	}
	defer file.Close()

	var rules []*Rule
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := ParseRule(line, ingressQueue)
		if err != nil {
			if appErr, ok := err.(*errors.AppError); ok {
				appErr.WithContext("line_number", lineNo)
			}
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("cannot read rule file %s", path), err)
	}
	return rules, nil
}
