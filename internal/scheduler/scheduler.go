// Package scheduler dispatches instance runners in parallel over the
// registry, once or on a fixed interval.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/dbops/fleetmon/internal/collector"
	"github.com/dbops/fleetmon/internal/log"
	"github.com/dbops/fleetmon/internal/registry"
	"github.com/dbops/fleetmon/internal/telemetry"
	"github.com/dbops/fleetmon/internal/threshold"
)

// DefaultMaxWorkers bounds the collection pool when not configured.
const DefaultMaxWorkers = 10

// Config is the scheduler configuration.
type Config struct {
	RootDir         string
	MaxWorkers      int
	Interval        time.Duration
	AlertEnabled    bool
	CollectorConfig collector.Config
}

// RunReport aggregates the outcome of one tick.
type RunReport struct {
	Total     int
	Succeeded int
	Failed    int
	Duration  time.Duration
	Paths     []string
}

// Scheduler runs all enabled instances of a registry.
type Scheduler struct {
	registry *registry.Registry
	rules    threshold.Rules
	config   Config

	// newCollector is injectable for tests, defaults to collector.New.
	newCollector func(registry.Instance, collector.Config) (collector.Collector, error)
}

// New creates a scheduler over a validated registry.
func New(r *registry.Registry, rules threshold.Rules, config Config) *Scheduler {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultMaxWorkers
	}
	return &Scheduler{registry: r, rules: rules, config: config}
}

// RunOnce executes a single tick: every enabled instance is collected once.
// Instances share no state; worker count only affects wall-clock duration.
func (s *Scheduler) RunOnce(ctx context.Context) RunReport {
	started := time.Now()
	enabled := s.registry.Enabled()
	log.Infof("tick started: %d enabled instances of %d configured", len(enabled), len(s.registry.Instances))

	report := RunReport{Total: len(enabled)}
	if len(enabled) == 0 {
		log.Warn("no database instances configured, nothing to do")
		log.Infoln("example configuration:\n", registry.ExampleJSON)
		return report
	}

	workers := s.config.MaxWorkers
	if !s.registry.ConcurrentExecution {
		workers = 1
	}
	if workers > len(enabled) {
		workers = len(enabled)
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan registry.Instance)
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for inst := range jobs {
				path, err := s.runInstance(ctx, inst)
				mu.Lock()
				if err != nil {
					report.Failed++
				} else {
					report.Succeeded++
					report.Paths = append(report.Paths, path)
				}
				mu.Unlock()
			}
		}()
	}

	for _, inst := range enabled {
		jobs <- inst
	}
	close(jobs)
	wg.Wait()

	report.Duration = time.Since(started)
	telemetry.TicksTotal.Inc()
	telemetry.TickDuration.Observe(report.Duration.Seconds())
	log.Infof("tick finished: %d succeeded, %d failed, took %.2fs", report.Succeeded, report.Failed, report.Duration.Seconds())
	return report
}

func (s *Scheduler) runInstance(ctx context.Context, inst registry.Instance) (string, error) {
	log.Infof("monitoring instance %s (%s)", inst.Name, inst.Type)

	r := &Runner{
		Instance:        inst,
		Rules:           s.rules,
		RootDir:         s.config.RootDir,
		AlertEnabled:    s.config.AlertEnabled,
		NewCollector:    s.newCollector,
		CollectorConfig: s.config.CollectorConfig,
	}
	path, err := r.Run(ctx)
	if err != nil {
		log.Errorf("monitoring instance %s failed: %s", inst.Name, err)
		telemetry.InstanceRuns.WithLabelValues(inst.Name, "failed").Inc()
		return "", err
	}
	telemetry.InstanceRuns.WithLabelValues(inst.Name, "ok").Inc()
	return path, nil
}

// Start runs ticks on the configured interval until the context is
// canceled. In-flight runners of the current tick are allowed to finish.
func (s *Scheduler) Start(ctx context.Context) error {
	logHostInfo()

	interval := s.config.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
