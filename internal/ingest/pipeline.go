package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/dbops/fleetmon/internal/log"
	"github.com/dbops/fleetmon/internal/sink"
	"github.com/dbops/fleetmon/internal/snapshot"
	"github.com/dbops/fleetmon/internal/telemetry"
)

// Pipeline pool and batch defaults.
const (
	DefaultBatchSize  = 100
	DefaultMaxWorkers = 10
)

var dateDirPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Config is the ingestion pipeline configuration.
type Config struct {
	RootDir       string
	BatchSize     int
	MaxWorkers    int
	RetentionDays int
	Interval      time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = DefaultRetentionDays
	}
	return c
}

// PassReport aggregates the outcome of one ingestion pass.
type PassReport struct {
	Discovered int
	Succeeded  int
	Failed     int
	Duration   time.Duration
}

// Pipeline loads unprocessed snapshots into the sink in bounded batches.
type Pipeline struct {
	cfg  Config
	sink sink.Sink

	// now is injectable for tests.
	now func() time.Time
}

// New creates a pipeline over a connected sink.
func New(cfg Config, s sink.Sink) *Pipeline {
	return &Pipeline{cfg: cfg.withDefaults(), sink: s}
}

func (p *Pipeline) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// RunOnce executes a single ingestion pass: load the ledger, discover up to
// BatchSize unprocessed snapshot files newest-first, parse them in parallel,
// write all parsed records in one sink transaction, then record the loaded
// files in the ledger and prune expired ledger files. Files that fail to
// parse are not ledgered and are retried on the next pass.
//
// The ledger is only updated after the batch commits: a crash between commit
// and flush re-ingests the same files on the next pass, which the
// (instance_name, timestamp) index makes straightforward to deduplicate.
func (p *Pipeline) RunOnce(ctx context.Context) (PassReport, error) {
	started := time.Now()
	now := p.clock()

	ledger, err := LoadLedger(p.cfg.RootDir, p.cfg.RetentionDays, now)
	if err != nil {
		return PassReport{}, err
	}

	files, err := p.discover(ledger)
	if err != nil {
		return PassReport{}, err
	}
	report := PassReport{Discovered: len(files)}
	if len(files) == 0 {
		log.Info("ingest: no new snapshot files")
		report.Duration = time.Since(started)
		return report, nil
	}
	log.Infof("ingest: %d new snapshot files to load", len(files))

	records, failed := p.parseAll(ctx, files)
	report.Failed = len(failed)

	if err := p.sink.WriteBatch(ctx, orderedRecords(files, records)); err != nil {
		telemetry.IngestFiles.WithLabelValues("failed").Add(float64(len(records)))
		return report, fmt.Errorf("write batch of %d records: %w", len(records), err)
	}
	report.Succeeded = len(records)
	telemetry.IngestFiles.WithLabelValues("ok").Add(float64(len(records)))
	telemetry.IngestFiles.WithLabelValues("unparsable").Add(float64(len(failed)))

	// Only committed files enter the ledger. Parse failures stay out and are
	// picked up again on later passes, so a repaired file gets loaded without
	// operator intervention.
	for _, f := range files {
		if records[f] != nil {
			ledger.Add(f, now)
		}
	}
	if err := ledger.Flush(); err != nil {
		return report, err
	}
	ledger.Prune(now)

	report.Duration = time.Since(started)
	telemetry.IngestPassDuration.Observe(report.Duration.Seconds())
	log.Infof("ingest: pass finished: %d loaded, %d unparsable, took %.2fs",
		report.Succeeded, report.Failed, report.Duration.Seconds())
	return report, nil
}

// discover walks the date directories newest-first and returns up to
// BatchSize unprocessed snapshot paths.
func (p *Pipeline) discover(ledger *Ledger) ([]string, error) {
	entries, err := os.ReadDir(p.cfg.RootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot root %s: %w", p.cfg.RootDir, err)
	}

	var days []string
	for _, e := range entries {
		if e.IsDir() && dateDirPattern.MatchString(e.Name()) {
			days = append(days, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	var (
		files []string
		seen  = make(map[string]struct{})
	)
	for _, day := range days {
		dir := filepath.Join(p.cfg.RootDir, day)
		names, err := filepath.Glob(filepath.Join(dir, "*.json"))
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(names)))

		for _, name := range names {
			abs, err := filepath.Abs(name)
			if err != nil {
				abs = name
			}
			if _, dup := seen[abs]; dup || ledger.Contains(abs) {
				continue
			}
			seen[abs] = struct{}{}
			files = append(files, abs)
			if len(files) >= p.cfg.BatchSize {
				return files, nil
			}
		}
	}
	return files, nil
}

// parseAll reads and projects the files with a bounded worker pool. The
// returned map holds a record per parsable file; failures land in the second
// map with their error already logged.
func (p *Pipeline) parseAll(ctx context.Context, files []string) (map[string]*sink.Record, map[string]error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		done    int
		records = make(map[string]*sink.Record, len(files))
		failed  = make(map[string]error)
		jobs    = make(chan string)
	)

	workers := p.cfg.MaxWorkers
	if workers > len(files) {
		workers = len(files)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				record, err := parseFile(path)

				mu.Lock()
				if err != nil {
					log.Warnf("ingest: skip %s: %s", path, err)
					failed[path] = err
				} else {
					records[path] = record
				}
				done++
				if done%10 == 0 {
					log.Infof("ingest: parsed %d/%d files", done, len(files))
				}
				mu.Unlock()
			}
		}()
	}

loop:
	for _, f := range files {
		select {
		case jobs <- f:
		case <-ctx.Done():
			break loop
		}
	}
	close(jobs)
	wg.Wait()
	return records, failed
}

func parseFile(path string) (*sink.Record, error) {
	snap, err := snapshot.Read(path)
	if err != nil {
		return nil, err
	}
	return sink.Project(snap)
}

// orderedRecords returns the parsed records in discovery order, so batches
// are written deterministically.
func orderedRecords(files []string, records map[string]*sink.Record) []*sink.Record {
	out := make([]*sink.Record, 0, len(records))
	for _, f := range files {
		if r := records[f]; r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Run executes passes on the configured interval until the context is
// canceled. A failed pass is logged and retried on the next interval.
func (p *Pipeline) Run(ctx context.Context) error {
	interval := p.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	for {
		if _, err := p.RunOnce(ctx); err != nil {
			log.Errorf("ingest: pass failed: %s", err)
		}

		select {
		case <-ctx.Done():
			log.Info("ingest: stopped")
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
