package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queuewatch/internal/reconciler"
	"queuewatch/internal/storage/memstore"
)

var t0 = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

// fakePoller returns the scripted snapshot and error on every Poll.
type fakePoller struct {
	key   string
	calls atomic.Int32

	mu    sync.Mutex
	snap  reconciler.Snapshot
	err   error
	panic bool
}

func (p *fakePoller) PartitionKey() string { return p.key }

func (p *fakePoller) Poll(context.Context) (reconciler.Snapshot, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panic {
		panic("upstream parser blew up")
	}
	return p.snap, p.err
}

func (p *fakePoller) set(snap reconciler.Snapshot, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap, p.err = snap, err
}

type failingReconciler struct{ err error }

func (r failingReconciler) Reconcile(context.Context, string, reconciler.Snapshot) (reconciler.ReconcileResult, error) {
	return reconciler.ReconcileResult{}, r.err
}

func newEngine(t *testing.T, clk *fakeclock.FakeClock) (*reconciler.Engine, *memstore.Store) {
	t.Helper()
	store, err := memstore.New()
	require.NoError(t, err)
	engine := reconciler.NewEngine(store, reconciler.EngineConfig{
		GraceWindow:        5 * time.Minute,
		FinalizeMode:       reconciler.FinalizeModeTimeout,
		MinRewriteInterval: 30 * time.Second,
		Clock:              clk,
		Resolver:           reconciler.NewResolver(reconciler.MD5Hash, time.Minute, time.UTC),
	})
	return engine, store
}

func listing(key string, quality reconciler.FetchQuality, names ...string) reconciler.Snapshot {
	snap := reconciler.Snapshot{PartitionKey: key, FetchQuality: quality, ObservedAt: t0}
	for _, n := range names {
		snap.Records = append(snap.Records, reconciler.RawRecord{
			Name:      n,
			ArrivedAt: t0.Add(-10 * time.Minute),
			Payload:   map[string]string{"name": n},
		})
	}
	return snap
}

func TestWindow_Contains(t *testing.T) {
	brt := time.FixedZone("BRT", -3*60*60)
	day := func(h, m int) time.Time { return time.Date(2026, time.March, 10, h, m, 0, 0, brt) }

	tests := []struct {
		name   string
		window Window
		at     time.Time
		want   bool
	}{
		{name: "zero window is always open", window: Window{}, at: day(3, 0), want: true},
		{name: "start is inclusive", window: Window{Start: 360, End: 1380, Location: brt}, at: day(6, 0), want: true},
		{name: "end is exclusive", window: Window{Start: 360, End: 1380, Location: brt}, at: day(23, 0), want: false},
		{name: "before start", window: Window{Start: 360, End: 1380, Location: brt}, at: day(5, 59), want: false},
		{name: "evaluated in the window location", window: Window{Start: 360, End: 1380, Location: brt}, at: time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.window.Contains(tt.at))
		})
	}
}

func TestMonitor_RunCycleHeartbeat(t *testing.T) {
	authErr := &reconciler.FetchError{PartitionKey: "U1", Source: "https://clinic.example/queue", StatusCode: 403, Err: errors.New("forbidden")}
	timeoutErr := &reconciler.FetchError{PartitionKey: "U1", Source: "https://clinic.example/queue", Err: context.DeadlineExceeded}

	tests := []struct {
		name        string
		snap        reconciler.Snapshot
		err         error
		wantState   State
		wantMessage string
	}{
		{
			name:        "trusted listing",
			snap:        listing("U1", reconciler.QualityTrusted, "Ana", "Bruno"),
			wantState:   StateOnline,
			wantMessage: "2 in queue, 0 finalized",
		},
		{
			name:        "partial listing pauses finalization",
			snap:        listing("U1", reconciler.QualityPartial, "Ana"),
			err:         timeoutErr,
			wantState:   StateWarning,
			wantMessage: "partial listing with 1 records, finalization paused",
		},
		{
			name:      "unavailable listing",
			snap:      listing("U1", reconciler.QualityError),
			err:       timeoutErr,
			wantState: StateWarning,
		},
		{
			name:        "expired session",
			snap:        listing("U1", reconciler.QualityError),
			err:         errors.Join(authErr),
			wantState:   StateError,
			wantMessage: "session expired: upstream rejected the credentials",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := fakeclock.NewFakeClock(t0)
			engine, _ := newEngine(t, clk)
			poller := &fakePoller{key: "U1", snap: tt.snap, err: tt.err}
			m := New(poller, engine, Config{Clock: clk})

			cycle := m.RunCycle(context.Background())
			assert.NotEmpty(t, cycle.ID)
			assert.False(t, cycle.Skipped)
			assert.Equal(t, tt.snap.FetchQuality, cycle.Quality)

			hb, ok := m.Status().Get("U1")
			require.True(t, ok)
			assert.Equal(t, tt.wantState, hb.State)
			assert.Equal(t, cycle.ID, hb.CycleID)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, hb.Message)
			}
		})
	}
}

func TestMonitor_ReconcileErrorIsReported(t *testing.T) {
	clk := fakeclock.NewFakeClock(t0)
	poller := &fakePoller{key: "U1", snap: listing("U1", reconciler.QualityTrusted, "Ana")}
	m := New(poller, failingReconciler{err: errors.New("load active U1: password=hunter2 rejected")}, Config{Clock: clk})

	cycle := m.RunCycle(context.Background())
	require.Error(t, cycle.Err)

	hb, _ := m.Status().Get("U1")
	assert.Equal(t, StateError, hb.State)
	assert.NotContains(t, hb.Message, "hunter2")
	assert.Equal(t, 1, hb.Failures)
}

func TestMonitor_OutsideWorkingHoursSkips(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Date(2026, time.March, 10, 23, 30, 0, 0, time.UTC))
	engine, _ := newEngine(t, clk)
	poller := &fakePoller{key: "U1", snap: listing("U1", reconciler.QualityTrusted)}
	m := New(poller, engine, Config{
		Clock:        clk,
		WorkingHours: Window{Start: 6 * 60, End: 23 * 60, Location: time.UTC},
	})

	cycle := m.RunCycle(context.Background())
	assert.True(t, cycle.Skipped)
	assert.Zero(t, poller.calls.Load())

	hb, _ := m.Status().Get("U1")
	assert.Equal(t, StateIdle, hb.State)
}

func TestMonitor_RecoversPanic(t *testing.T) {
	clk := fakeclock.NewFakeClock(t0)
	engine, _ := newEngine(t, clk)
	poller := &fakePoller{key: "U1", panic: true}
	m := New(poller, engine, Config{Clock: clk})

	var cycle Cycle
	require.NotPanics(t, func() { cycle = m.RunCycle(context.Background()) })
	require.Error(t, cycle.Err)
	assert.Contains(t, cycle.Err.Error(), "upstream parser blew up")

	hb, _ := m.Status().Get("U1")
	assert.Equal(t, StateError, hb.State)
}

// A patient leaving the listing is finalized once the grace window passes
// and the heartbeat reports it.
func TestMonitor_FinalizesThroughEngine(t *testing.T) {
	clk := fakeclock.NewFakeClock(t0)
	engine, store := newEngine(t, clk)
	poller := &fakePoller{key: "U1", snap: listing("U1", reconciler.QualityTrusted, "Ana")}
	m := New(poller, engine, Config{Clock: clk})
	ctx := context.Background()

	m.RunCycle(ctx)
	poller.set(listing("U1", reconciler.QualityTrusted), nil)

	clk.Increment(5 * time.Minute)
	cycle := m.RunCycle(ctx)
	require.NoError(t, cycle.Err)
	assert.Len(t, cycle.Result.Finalized, 1)

	active, err := store.ActiveEntities(ctx, "U1", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, active)

	hb, _ := m.Status().Get("U1")
	assert.Equal(t, "0 in queue, 1 finalized", hb.Message)
}

func TestMonitor_Run(t *testing.T) {
	clk := fakeclock.NewFakeClock(t0)
	engine, _ := newEngine(t, clk)
	poller := &fakePoller{key: "U1", snap: listing("U1", reconciler.QualityTrusted, "Ana")}
	m := New(poller, engine, Config{Clock: clk, Interval: 15 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool { return poller.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	clk.WaitForWatcherAndIncrement(15 * time.Second)
	assert.Eventually(t, func() bool { return poller.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
