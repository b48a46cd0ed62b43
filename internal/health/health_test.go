package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fastOptions() Options {
	return Options{
		RetryDelay: time.Millisecond,
		MaxDelay:   4 * time.Millisecond,
		Interval:   2 * time.Millisecond,
		Timeout:    50 * time.Millisecond,
	}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.RetryDelay != 2*time.Second || o.MaxDelay != 60*time.Second ||
		o.Interval != 60*time.Second || o.Timeout != 10*time.Second {
		t.Errorf("defaults = %+v", o)
	}

	o = Options{RetryDelay: 5 * time.Second, MaxDelay: time.Second}.withDefaults()
	if o.MaxDelay != 5*time.Second {
		t.Errorf("MaxDelay = %v, want raised to RetryDelay", o.MaxDelay)
	}
}

func TestMonitor_Healthy(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	m := NewMonitor(fastOptions(), nil)

	var probes atomic.Int32
	m.Watch(ctx, "commerce", func(context.Context) error {
		probes.Add(1)
		return nil
	})

	waitFor(t, "ready", m.Ready)
	waitFor(t, "repeated probes", func() bool { return probes.Load() >= 3 })

	st := m.Status()
	if len(st) != 1 || st[0].Name != "commerce" || !st[0].Ready || st[0].LastError != "" {
		t.Errorf("status = %+v", st)
	}
	if st[0].LastCheck.IsZero() {
		t.Error("LastCheck not recorded")
	}

	cancel()
	m.Wait()
}

func TestMonitor_FailureThenRecovery(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	m := NewMonitor(fastOptions(), nil)

	var healthy atomic.Bool
	m.Watch(ctx, "commerce", func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("connection refused")
	})

	waitFor(t, "failures", func() bool {
		st := m.Status()
		return len(st) == 1 && st[0].Failures >= 2
	})
	if m.Ready() {
		t.Error("Ready() = true while probes fail")
	}
	if st := m.Status()[0]; st.LastError != "connection refused" {
		t.Errorf("LastError = %q", st.LastError)
	}

	healthy.Store(true)
	waitFor(t, "recovery", m.Ready)
	if st := m.Status()[0]; st.Failures != 0 || st.LastError != "" {
		t.Errorf("status after recovery = %+v", st)
	}
}

func TestMonitor_ProbeTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	m := NewMonitor(fastOptions(), nil)

	m.Watch(ctx, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	waitFor(t, "timeout recorded", func() bool {
		st := m.Status()
		return len(st) == 1 && st[0].LastError == context.DeadlineExceeded.Error()
	})
}

func TestMonitor_StatusSortedAndDeduplicated(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	m := NewMonitor(fastOptions(), nil)

	ok := func(context.Context) error { return nil }
	m.Watch(ctx, "zeta", ok)
	m.Watch(ctx, "alpha", ok)
	m.Watch(ctx, "alpha", ok)

	st := m.Status()
	if len(st) != 2 || st[0].Name != "alpha" || st[1].Name != "zeta" {
		t.Errorf("status = %+v, want alpha then zeta", st)
	}

	cancel()
	m.Wait()
}

func TestMonitor_Empty(t *testing.T) {
	m := NewMonitor(Options{}, nil)
	if !m.Ready() {
		t.Error("monitor with nothing watched should be ready")
	}
	if st := m.Status(); len(st) != 0 {
		t.Errorf("status = %+v, want empty", st)
	}
	m.Wait()
}
