package scheduler

import (
	"context"
	"time"

	"github.com/dbops/fleetmon/internal/collector"
	"github.com/dbops/fleetmon/internal/log"
	"github.com/dbops/fleetmon/internal/model"
	"github.com/dbops/fleetmon/internal/registry"
	"github.com/dbops/fleetmon/internal/snapshot"
	"github.com/dbops/fleetmon/internal/threshold"
)

// Runner binds one collector to one instance and executes a single
// acquire -> collect -> evaluate -> emit -> release cycle. Every error on
// the way is captured into the emitted snapshot; only a snapshot write
// failure makes the run itself fail.
type Runner struct {
	Instance registry.Instance
	Rules    threshold.Rules
	RootDir  string

	// AlertEnabled controls alert log output. Alerts are always recorded in
	// the snapshot regardless.
	AlertEnabled bool

	// NewCollector is the adapter factory, injectable for tests.
	NewCollector func(registry.Instance, collector.Config) (collector.Collector, error)

	// CollectorConfig carries driver timeouts.
	CollectorConfig collector.Config

	// now is injectable for tests.
	now func() time.Time
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// Run executes one monitoring cycle and returns the written snapshot path.
func (r *Runner) Run(ctx context.Context) (string, error) {
	newCollector := r.NewCollector
	if newCollector == nil {
		newCollector = collector.New
	}

	var metrics *model.Metrics

	c, err := newCollector(r.Instance, r.CollectorConfig)
	if err != nil {
		metrics = model.FailedMetrics(err)
	} else if err := c.Open(ctx); err != nil {
		log.Errorf("%s: cannot connect: %s", r.Instance.Name, err)
		metrics = model.FailedMetrics(err)
	} else {
		metrics = c.Collect(ctx)
		if err := c.Close(); err != nil {
			log.Warnf("%s: close connection: %s; ignore", r.Instance.Name, err)
		}
	}

	metrics.Sanitize()

	now := r.clock()
	ts := now.Format(model.TimestampLayout)
	alerts := threshold.Evaluate(r.Instance.Name, ts, metrics, r.Rules)
	r.logAlerts(alerts)

	snap := &model.Snapshot{
		Timestamp:    ts,
		MonitorTime:  float64(now.UnixNano()) / 1e9,
		InstanceName: r.Instance.Name,
		Stats:        metrics,
		Alerts:       alerts,
		Thresholds:   r.Rules.Thresholds(),
	}

	path, err := snapshot.Write(snap, r.RootDir, now)
	if err != nil {
		return "", err
	}
	log.Debugf("%s: snapshot written to %s", r.Instance.Name, path)
	return path, nil
}

func (r *Runner) logAlerts(alerts []model.Alert) {
	if !r.AlertEnabled {
		return
	}
	for _, a := range alerts {
		if a.Level == model.AlertCritical {
			log.Errorf("[ALERT] [%s] %s: %s", a.Level, a.InstanceName, a.Message)
		} else {
			log.Warnf("[ALERT] [%s] %s: %s", a.Level, a.InstanceName, a.Message)
		}
	}
}
