// Package health watches external dependencies (the commerce backend)
// and reports their reachability for the /health endpoint.
//
// Each watched dependency is probed immediately, then again after a
// delay that doubles on every consecutive failure up to MaxDelay, and
// every Interval once it is healthy. State transitions are logged.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Probe checks whether a dependency is reachable. Return nil if healthy.
type Probe func(ctx context.Context) error

// Options controls probe timing. Zero fields take the defaults.
type Options struct {
	// RetryDelay is the first delay after a failed probe (default 2s).
	RetryDelay time.Duration
	// MaxDelay caps the retry delay (default 60s).
	MaxDelay time.Duration
	// Interval is the delay between probes while healthy (default 60s).
	Interval time.Duration
	// Timeout bounds each probe (default 10s).
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 60 * time.Second
	}
	if o.MaxDelay < o.RetryDelay {
		o.MaxDelay = o.RetryDelay
	}
	if o.Interval <= 0 {
		o.Interval = 60 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	return o
}

// Status is the last known state of one dependency.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Failures  int       `json:"consecutive_failures,omitempty"`
}

// Monitor probes dependencies in the background. It is safe for
// concurrent use.
type Monitor struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]*Status
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor with no dependencies.
func NewMonitor(opts Options, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		opts:   opts.withDefaults(),
		logger: logger.With("component", "health"),
		states: make(map[string]*Status),
	}
}

// Watch starts probing name until ctx is cancelled. A name already
// watched is ignored.
func (m *Monitor) Watch(ctx context.Context, name string, probe Probe) {
	m.mu.Lock()
	if _, ok := m.states[name]; ok {
		m.mu.Unlock()
		return
	}
	m.states[name] = &Status{Name: name}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, name, probe)
	}()
}

func (m *Monitor) run(ctx context.Context, name string, probe Probe) {
	delay := m.opts.RetryDelay
	for {
		wait := m.opts.Interval
		if err := m.check(ctx, name, probe); err != nil {
			wait = delay
			delay = min(delay*2, m.opts.MaxDelay)
		} else {
			delay = m.opts.RetryDelay
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// check runs one probe and records the result, logging transitions.
func (m *Monitor) check(ctx context.Context, name string, probe Probe) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	err := probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.Lock()
	st := m.states[name]
	wasReady, first := st.Ready, st.LastCheck.IsZero()
	st.LastCheck = time.Now()
	if err != nil {
		st.Ready = false
		st.LastError = err.Error()
		st.Failures++
	} else {
		st.Ready = true
		st.LastError = ""
		st.Failures = 0
	}
	failures := st.Failures
	m.mu.Unlock()

	switch {
	case err == nil && first:
		m.logger.Info("dependency reachable", "dependency", name)
	case err == nil && !wasReady:
		m.logger.Info("dependency recovered", "dependency", name)
	case err != nil && (wasReady || first):
		m.logger.Warn("dependency unreachable", "dependency", name, "error", err)
	case err != nil:
		m.logger.Debug("dependency still unreachable", "dependency", name, "failures", failures, "error", err)
	}
	return err
}

// Status returns every watched dependency, sorted by name.
func (m *Monitor) Status() []Status {
	m.mu.Lock()
	out := make([]Status, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, *st)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ready reports whether every watched dependency passed its last probe.
func (m *Monitor) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.states {
		if !st.Ready {
			return false
		}
	}
	return true
}

// Wait blocks until every watch goroutine has exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
