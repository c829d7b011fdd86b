package scheduler

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dbops/fleetmon/internal/collector"
	"github.com/dbops/fleetmon/internal/model"
	"github.com/dbops/fleetmon/internal/registry"
	"github.com/dbops/fleetmon/internal/threshold"
)

func testRegistry(names ...string) *registry.Registry {
	r := &registry.Registry{ConcurrentExecution: true}
	for _, name := range names {
		r.Instances = append(r.Instances, testInstance(name))
	}
	return r
}

func TestRunOnceAllSucceed(t *testing.T) {
	root := t.TempDir()
	s := New(testRegistry("m1", "m2", "m3"), threshold.DefaultRules(), Config{RootDir: root})
	s.newCollector = func(registry.Instance, collector.Config) (collector.Collector, error) {
		return &fakeCollector{metrics: &model.Metrics{ConnectionStatus: true}}, nil
	}

	report := s.RunOnce(context.Background())
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.Len(t, report.Paths, 3)

	for _, path := range report.Paths {
		_, err := os.Stat(path)
		assert.NoError(t, err)
	}
}

func TestRunOnceDeadInstanceDoesNotFailTick(t *testing.T) {
	root := t.TempDir()
	s := New(testRegistry("alive", "dead"), threshold.DefaultRules(), Config{RootDir: root})
	s.newCollector = func(inst registry.Instance, _ collector.Config) (collector.Collector, error) {
		if inst.Name == "dead" {
			return &fakeCollector{openErr: errors.New("refused")}, nil
		}
		return &fakeCollector{metrics: &model.Metrics{ConnectionStatus: true}}, nil
	}

	report := s.RunOnce(context.Background())

	// an unreachable instance still yields a snapshot, the tick succeeds
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
}

func TestRunOnceEmptyRegistry(t *testing.T) {
	s := New(testRegistry(), threshold.DefaultRules(), Config{RootDir: t.TempDir()})
	report := s.RunOnce(context.Background())
	assert.Equal(t, 0, report.Total)
	assert.Equal(t, 0, report.Succeeded)
}

// trackingCollector records open/close ordering across instances.
type trackingCollector struct {
	fakeCollector
	name   string
	mu     *sync.Mutex
	events *[]string
}

func (c *trackingCollector) Open(context.Context) error {
	c.mu.Lock()
	*c.events = append(*c.events, "open "+c.name)
	c.mu.Unlock()
	return nil
}

func (c *trackingCollector) Close() error {
	c.mu.Lock()
	*c.events = append(*c.events, "close "+c.name)
	c.mu.Unlock()
	return nil
}

func TestRunOnceSerialWhenConcurrencyDisabled(t *testing.T) {
	reg := testRegistry("m1", "m2", "m3", "m4")
	reg.ConcurrentExecution = false

	var (
		mu     sync.Mutex
		events []string
	)
	s := New(reg, threshold.DefaultRules(), Config{RootDir: t.TempDir(), MaxWorkers: 8})
	s.newCollector = func(inst registry.Instance, _ collector.Config) (collector.Collector, error) {
		return &trackingCollector{
			fakeCollector: fakeCollector{metrics: &model.Metrics{ConnectionStatus: true}},
			name:          inst.Name,
			mu:            &mu,
			events:        &events,
		}, nil
	}

	report := s.RunOnce(context.Background())
	assert.Equal(t, 4, report.Succeeded)

	// with a single worker every instance opens and closes before the next
	// one starts
	assert.Len(t, events, 8)
	for i := 0; i < len(events); i += 2 {
		assert.Equal(t, "open", events[i][:4])
		assert.Equal(t, "close", events[i+1][:5])
		assert.Equal(t, events[i][5:], events[i+1][6:])
	}
}

// blockingCollector parks in Collect until the gate opens.
type blockingCollector struct {
	fakeCollector
	started chan struct{}
	gate    chan struct{}
}

func (c *blockingCollector) Collect(context.Context) *model.Metrics {
	close(c.started)
	<-c.gate
	return c.metrics
}

func TestStartFinishesInFlightTickOnCancel(t *testing.T) {
	bc := &blockingCollector{
		fakeCollector: fakeCollector{metrics: &model.Metrics{ConnectionStatus: true}},
		started:       make(chan struct{}),
		gate:          make(chan struct{}),
	}
	s := New(testRegistry("m1"), threshold.DefaultRules(), Config{RootDir: t.TempDir(), Interval: time.Hour})
	s.newCollector = func(registry.Instance, collector.Config) (collector.Collector, error) {
		return bc, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan error, 1)
	go func() { returned <- s.Start(ctx) }()

	<-bc.started
	cancel()

	// the runner is still collecting, Start must not return yet
	select {
	case <-returned:
		t.Fatal("Start returned with a runner in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(bc.gate)
	select {
	case err := <-returned:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after the tick finished")
	}
	assert.True(t, bc.closed, "the in-flight runner was closed cleanly")
}

func TestRunOnceSnapshotsIsolatedPerInstance(t *testing.T) {
	root := t.TempDir()
	s := New(testRegistry("a", "b"), threshold.DefaultRules(), Config{RootDir: root})
	s.newCollector = func(inst registry.Instance, _ collector.Config) (collector.Collector, error) {
		m := &model.Metrics{ConnectionStatus: true}
		if inst.Name == "b" {
			m.ConnectionStats = &model.ConnectionStats{ConnectionPercent: 99}
		}
		return &fakeCollector{metrics: m}, nil
	}

	report := s.RunOnce(context.Background())
	assert.Equal(t, 2, report.Succeeded)
	assert.Len(t, report.Paths, 2)
	assert.NotEqual(t, report.Paths[0], report.Paths[1])
}
