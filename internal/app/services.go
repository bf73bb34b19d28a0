package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"queuewatch/internal/config"
	"queuewatch/internal/monitor"
	"queuewatch/internal/poller"
	"queuewatch/internal/reconciler"
	"queuewatch/internal/report"
	"queuewatch/internal/storage"
	"queuewatch/pkg/logging"
)

// Services holds all initialized components used by the application.
type Services struct {
	Config   config.Config
	Clock    clock.Clock
	Location *time.Location

	// Store persists entities for the engine, the reports and the purge.
	Store storage.Store

	// Registry exposes the engine metrics and the Go runtime collectors.
	Registry *prometheus.Registry

	Engine *reconciler.Engine

	// Status holds the heartbeat of every monitor.
	Status *monitor.StatusTracker

	// Monitors has one entry per configured partition, in config order.
	Monitors []*monitor.Monitor

	Supervisor *monitor.Supervisor
}

// InitializeServices opens the store and wires the engine, the pollers and
// their monitors from cfg.
func InitializeServices(ctx context.Context, cfg config.Config, clk clock.Clock) (*Services, error) {
	loc, err := cfg.Engine.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Engine.Timezone, err)
	}
	hash, err := reconciler.HashFuncByName(cfg.Engine.IdentityHash)
	if err != nil {
		return nil, err
	}
	mode, err := reconciler.ParseFinalizeMode(cfg.Engine.FinalizeMode)
	if err != nil {
		return nil, err
	}
	start, end, err := cfg.Monitor.WorkingHours.Bounds()
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine := reconciler.NewEngine(store, reconciler.EngineConfig{
		GraceWindow:        cfg.Engine.GraceWindow(),
		FinalizeMode:       mode,
		MinRewriteInterval: cfg.Engine.MinRewriteInterval(),
		Clock:              clk,
		Resolver:           reconciler.NewResolver(hash, cfg.Engine.ArrivalBucket(), loc),
		Metrics:            reconciler.NewMetrics(registry),
	})

	s := &Services{
		Config:   cfg,
		Clock:    clk,
		Location: loc,
		Store:    store,
		Registry: registry,
		Engine:   engine,
		Status:   monitor.NewStatusTracker(clk),
	}

	window := monitor.Window{Start: start, End: end, Location: loc}
	for _, p := range cfg.Partitions {
		pl, err := poller.FromPartitionConfig(p, cfg.Monitor.RequestTimeout(), loc)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("partition %s: %w", p.Key, err)
		}
		s.Monitors = append(s.Monitors, monitor.New(pl, engine, monitor.Config{
			Interval:     p.PollInterval(cfg.Monitor.PollInterval()),
			WorkingHours: window,
			Clock:        clk,
			Status:       s.Status,
		}))
	}

	s.Supervisor = monitor.NewSupervisor(monitor.SupervisorConfig{
		Monitors:      s.Monitors,
		Sweeper:       engine,
		SweepInterval: cfg.Monitor.SweepInterval(),
		Purge:         s.Purge,
		PurgeInterval: cfg.Monitor.PurgeInterval(),
		Clock:         clk,
	})

	logging.Info("Services", "Initialized %d partitions (finalize mode %s, grace window %s)",
		len(s.Monitors), mode, cfg.Engine.GraceWindow())
	return s, nil
}

// PartitionKeys returns the configured partition keys.
func (s *Services) PartitionKeys() []string {
	keys := make([]string, 0, len(s.Config.Partitions))
	for _, p := range s.Config.Partitions {
		keys = append(keys, p.Key)
	}
	return keys
}

// ApplyConfig applies the reloadable part of a new configuration: the grace
// window, the finalize mode and the debounce interval. Everything else
// needs a restart.
func (s *Services) ApplyConfig(cfg config.Config) {
	mode, err := reconciler.ParseFinalizeMode(cfg.Engine.FinalizeMode)
	if err != nil {
		logging.Warn("Services", "Ignoring reloaded finalize mode: %v", err)
		mode = ""
	}
	s.Engine.SetTunables(cfg.Engine.GraceWindow(), mode)
	s.Engine.Cache().SetInterval(cfg.Engine.MinRewriteInterval())
	s.Config.Engine = cfg.Engine
}

// Sweep runs the timeout sweep once over partitions, or over every
// configured partition when none are given, and returns the number of
// finalized entities.
func (s *Services) Sweep(ctx context.Context, partitions ...string) (int, error) {
	if len(partitions) == 0 {
		partitions = s.PartitionKeys()
	}

	total := 0
	var errs []error
	for _, key := range partitions {
		n, err := s.Engine.Sweep(ctx, key, s.Engine.GraceWindow())
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Purge deletes the history outside the retention window.
func (s *Services) Purge(ctx context.Context) (int, error) {
	return storage.PurgeExpired(ctx, s.Store, s.Clock.Now(), s.Config.Storage.CleanupRetentionDays, s.Location)
}

// Summaries builds the report of day for one partition, or all when
// partition is empty. An empty day selects today.
func (s *Services) Summaries(ctx context.Context, partition, day string) ([]report.Summary, error) {
	now := s.Clock.Now()
	if day == "" {
		day = s.Engine.Resolver().ReferenceDay(now)
	}
	return report.ForDay(ctx, s.Store, partition, day, now)
}

// Close releases the store.
func (s *Services) Close() error {
	return s.Store.Close()
}
