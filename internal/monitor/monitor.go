package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"queuewatch/internal/reconciler"
	"queuewatch/pkg/logging"
)

// DefaultInterval is the poll interval used when none is configured.
const DefaultInterval = 15 * time.Second

// Poller produces snapshots of one partition.
type Poller interface {
	PartitionKey() string
	Poll(ctx context.Context) (reconciler.Snapshot, error)
}

// Reconciler applies a snapshot to the store.
type Reconciler interface {
	Reconcile(ctx context.Context, partitionKey string, snap reconciler.Snapshot) (reconciler.ReconcileResult, error)
}

// Window restricts polling to part of the day. Start and End are minutes
// after local midnight; End is exclusive. The zero Window is always open.
type Window struct {
	Start    int
	End      int
	Location *time.Location
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.Start == 0 && w.End == 0 {
		return true
	}
	loc := w.Location
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	m := local.Hour()*60 + local.Minute()
	return m >= w.Start && m < w.End
}

// Config holds configuration for a Monitor.
type Config struct {
	// Interval between cycles. Defaults to DefaultInterval.
	Interval time.Duration

	// WorkingHours limits when the upstream is polled.
	WorkingHours Window

	// Clock drives the ticker. Defaults to the wall clock.
	Clock clock.Clock

	// Status receives a heartbeat after every cycle. Defaults to a private
	// tracker.
	Status *StatusTracker
}

// Cycle describes the outcome of one poll-and-reconcile cycle.
type Cycle struct {
	ID      string
	Skipped bool
	Quality reconciler.FetchQuality
	Result  reconciler.ReconcileResult

	// Err is the fetch, reconcile or panic error of the cycle, if any.
	Err error
}

// Monitor polls one partition on a fixed interval and feeds every snapshot
// to the reconciler.
type Monitor struct {
	poller     Poller
	reconciler Reconciler
	config     Config
}

// New creates a monitor for the partition of p.
func New(p Poller, r Reconciler, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}
	if cfg.Status == nil {
		cfg.Status = NewStatusTracker(cfg.Clock)
	}
	return &Monitor{poller: p, reconciler: r, config: cfg}
}

// PartitionKey returns the partition this monitor observes.
func (m *Monitor) PartitionKey() string {
	return m.poller.PartitionKey()
}

// Status returns the tracker this monitor reports to.
func (m *Monitor) Status() *StatusTracker {
	return m.config.Status
}

// Run executes a cycle immediately and then on every tick until ctx is
// cancelled. Cycle failures never stop the loop.
func (m *Monitor) Run(ctx context.Context) error {
	name := m.PartitionKey()
	logging.Info("Monitor", "Starting monitor for %s (every %s)", name, m.config.Interval)
	m.config.Status.Update(name, StateRunning, "", "starting")

	ticker := m.config.Clock.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			logging.Info("Monitor", "Stopping monitor for %s", name)
			return nil
		case <-ticker.C():
			m.RunCycle(ctx)
		}
	}
}

// RunCycle polls once, reconciles the snapshot and records a heartbeat.
// A panic inside the cycle is recovered and reported as ERROR.
func (m *Monitor) RunCycle(ctx context.Context) (cycle Cycle) {
	name := m.PartitionKey()
	cycle.ID = uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			cycle.Err = fmt.Errorf("cycle panicked: %v", r)
			logging.Error("Monitor", cycle.Err, "Cycle %s of %s aborted", cycle.ID, name)
			m.config.Status.Update(name, StateError, cycle.ID, SanitizeErrorMessage(cycle.Err.Error()))
		}
	}()

	if !m.config.WorkingHours.Contains(m.config.Clock.Now()) {
		cycle.Skipped = true
		m.config.Status.Update(name, StateIdle, cycle.ID, "outside working hours")
		return cycle
	}

	snap, fetchErr := m.poller.Poll(ctx)
	if snap.PartitionKey == "" {
		snap.PartitionKey = name
	}
	cycle.Quality = snap.FetchQuality

	result, err := m.reconciler.Reconcile(ctx, name, snap)
	cycle.Result = result
	cycle.Err = errors.Join(fetchErr, err)

	state, msg := heartbeatFor(snap, result, fetchErr, err)
	m.config.Status.Update(name, state, cycle.ID, msg)

	logging.Debug("Monitor", "Cycle %s of %s: quality=%s upserted=%d debounced=%d finalized=%d state=%s",
		cycle.ID, name, snap.FetchQuality, result.Upserted, result.Debounced, len(result.Finalized), state)
	return cycle
}

// heartbeatFor maps the outcome of a cycle to a heartbeat.
func heartbeatFor(snap reconciler.Snapshot, result reconciler.ReconcileResult, fetchErr, reconcileErr error) (State, string) {
	switch {
	case reconcileErr != nil:
		return StateError, SanitizeErrorMessage(reconcileErr.Error())
	case isAuthFailure(fetchErr):
		return StateError, "session expired: upstream rejected the credentials"
	}

	switch snap.FetchQuality {
	case reconciler.QualityError:
		msg := "listing unavailable"
		if fetchErr != nil {
			msg += ": " + SanitizeErrorMessage(fetchErr.Error())
		}
		return StateWarning, msg
	case reconciler.QualityPartial:
		return StateWarning, fmt.Sprintf("partial listing with %d records, finalization paused", len(snap.Records))
	}

	if n := len(result.Errors); n > 0 {
		return StateWarning, fmt.Sprintf("%d in queue, %d persistence errors", len(snap.Records), n)
	}
	return StateOnline, fmt.Sprintf("%d in queue, %d finalized", len(snap.Records), len(result.Finalized))
}

// isAuthFailure reports whether any fetch error in err is an auth failure.
func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var fe *reconciler.FetchError
	if errors.As(err, &fe) && fe.IsAuth() {
		return true
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if isAuthFailure(e) {
				return true
			}
		}
	}
	return false
}
