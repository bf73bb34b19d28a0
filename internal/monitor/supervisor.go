package monitor

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/sync/errgroup"

	"queuewatch/pkg/logging"
)

// Sweeper finalizes long-absent entities of a partition.
type Sweeper interface {
	Sweep(ctx context.Context, partitionKey string, graceWindow time.Duration) (int, error)
	GraceWindow() time.Duration
}

// PurgeFunc deletes expired history and returns how many entities went.
type PurgeFunc func(ctx context.Context) (int, error)

// SupervisorConfig holds configuration for a Supervisor.
type SupervisorConfig struct {
	// Monitors run concurrently, one goroutine each.
	Monitors []*Monitor

	// Sweeper runs the timeout sweep for every monitored partition every
	// SweepInterval. A nil Sweeper or zero interval disables the sweep.
	Sweeper       Sweeper
	SweepInterval time.Duration

	// Purge runs every PurgeInterval. A nil Purge or zero interval disables
	// retention.
	Purge         PurgeFunc
	PurgeInterval time.Duration

	// Clock drives the sweep and purge tickers.
	Clock clock.Clock
}

// Supervisor runs the monitors together with the periodic sweep and purge.
type Supervisor struct {
	config SupervisorConfig
}

// NewSupervisor creates a supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}
	return &Supervisor{config: cfg}
}

// Run blocks until ctx is cancelled or a loop returns an error.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, m := range s.config.Monitors {
		g.Go(func() error {
			return m.Run(ctx)
		})
	}

	if s.config.Sweeper != nil && s.config.SweepInterval > 0 {
		g.Go(func() error {
			return s.every(ctx, "sweep", s.config.SweepInterval, func(ctx context.Context) {
				s.SweepAll(ctx)
			})
		})
	}

	if s.config.Purge != nil && s.config.PurgeInterval > 0 {
		g.Go(func() error {
			return s.every(ctx, "purge", s.config.PurgeInterval, func(ctx context.Context) {
				if _, err := s.config.Purge(ctx); err != nil {
					logging.Error("Supervisor", err, "Retention purge failed")
				}
			})
		})
	}

	logging.Info("Supervisor", "Running %d monitors", len(s.config.Monitors))
	return g.Wait()
}

// SweepAll runs the timeout sweep over every monitored partition with the
// current grace window and returns the number of finalized entities.
// Failures are logged and do not stop the remaining partitions.
func (s *Supervisor) SweepAll(ctx context.Context) int {
	if s.config.Sweeper == nil {
		return 0
	}

	grace := s.config.Sweeper.GraceWindow()
	total := 0
	for _, m := range s.config.Monitors {
		n, err := s.config.Sweeper.Sweep(ctx, m.PartitionKey(), grace)
		if err != nil {
			logging.Error("Supervisor", err, "Sweep of %s failed", m.PartitionKey())
		}
		total += n
	}
	return total
}

func (s *Supervisor) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) error {
	ticker := s.config.Clock.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("Supervisor", fmt.Errorf("%v", r), "Periodic %s panicked", name)
			}
		}()
		fn(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			run()
		}
	}
}
