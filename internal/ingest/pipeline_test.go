package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dbops/fleetmon/internal/model"
	"github.com/dbops/fleetmon/internal/sink"
	"github.com/dbops/fleetmon/internal/snapshot"
)

// fakeSink collects batches in memory.
type fakeSink struct {
	batches  [][]*sink.Record
	writeErr error
}

func (f *fakeSink) Connect(context.Context) error      { return nil }
func (f *fakeSink) EnsureSchema(context.Context) error { return nil }
func (f *fakeSink) WriteBatch(_ context.Context, records []*sink.Record) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.batches = append(f.batches, records)
	return nil
}
func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) total() int {
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

var pipelineNow = time.Date(2026, 8, 24, 13, 0, 0, 0, time.Local)

func writeSnapshot(t *testing.T, root, name string, at time.Time) string {
	t.Helper()
	snap := &model.Snapshot{
		Timestamp:    at.Format(model.TimestampLayout),
		MonitorTime:  float64(at.Unix()),
		InstanceName: name,
		Stats:        &model.Metrics{ConnectionStatus: true},
	}
	path, err := snapshot.Write(snap, root, at)
	assert.NoError(t, err)
	abs, err := filepath.Abs(path)
	assert.NoError(t, err)
	return abs
}

func newTestPipeline(root string, s sink.Sink, batchSize int) *Pipeline {
	p := New(Config{RootDir: root, BatchSize: batchSize, MaxWorkers: 2}, s)
	p.now = func() time.Time { return pipelineNow }
	return p
}

func TestRunOnceLoadsAllSnapshots(t *testing.T) {
	root := t.TempDir()
	writeSnapshot(t, root, "m1", pipelineNow.Add(-2*time.Minute))
	writeSnapshot(t, root, "m2", pipelineNow.Add(-time.Minute))
	writeSnapshot(t, root, "m1", pipelineNow.Add(-25*time.Hour)) // yesterday's directory

	fs := &fakeSink{}
	report, err := newTestPipeline(root, fs, 100).RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 3, report.Discovered)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 3, fs.total())
	assert.Len(t, fs.batches, 1, "all records go through one batch write")
}

func TestRunOnceIdempotent(t *testing.T) {
	root := t.TempDir()
	writeSnapshot(t, root, "m1", pipelineNow.Add(-time.Minute))

	fs := &fakeSink{}
	p := newTestPipeline(root, fs, 100)

	report, err := p.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	// the second pass sees the ledger and loads nothing
	report, err = p.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, report.Discovered)
	assert.Equal(t, 1, fs.total())
}

func TestRunOnceNewestFirstWithinBudget(t *testing.T) {
	root := t.TempDir()
	old := writeSnapshot(t, root, "m1", pipelineNow.Add(-25*time.Hour))
	fresh := writeSnapshot(t, root, "m1", pipelineNow.Add(-time.Minute))

	fs := &fakeSink{}
	p := newTestPipeline(root, fs, 1)

	report, err := p.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, fs.total())

	// the fresh file wins the single budget slot, the old one waits
	l, err := LoadLedger(root, DefaultRetentionDays, pipelineNow)
	assert.NoError(t, err)
	assert.True(t, l.Contains(fresh))
	assert.False(t, l.Contains(old))

	// the next pass picks up the remainder
	report, err = p.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 2, fs.total())
}

func TestRunOnceUnparsableFileStaysOutOfLedger(t *testing.T) {
	root := t.TempDir()
	good := writeSnapshot(t, root, "m1", pipelineNow.Add(-time.Minute))

	day := filepath.Join(root, pipelineNow.Format(snapshot.DateLayout))
	bad := filepath.Join(day, "broken_20260824_125900.json")
	assert.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	badAbs, _ := filepath.Abs(bad)

	fs := &fakeSink{}
	p := newTestPipeline(root, fs, 100)

	report, err := p.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, report.Discovered)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)

	// the good file is ledgered, the corrupt one is not
	l, err := LoadLedger(root, DefaultRetentionDays, pipelineNow)
	assert.NoError(t, err)
	assert.True(t, l.Contains(good))
	assert.False(t, l.Contains(badAbs), "a file that failed to parse must be retried")

	// the next pass sees the corrupt file again
	report, err = p.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, report.Discovered)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Succeeded)

	// once repaired, the file loads and finally enters the ledger
	repaired := &model.Snapshot{
		Timestamp:    pipelineNow.Add(-time.Minute).Format(model.TimestampLayout),
		MonitorTime:  float64(pipelineNow.Unix()),
		InstanceName: "m2",
		Stats:        &model.Metrics{ConnectionStatus: true},
	}
	content, err := json.Marshal(repaired)
	assert.NoError(t, err)
	assert.NoError(t, os.WriteFile(bad, content, 0644))

	report, err = p.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 0, report.Failed)

	l, err = LoadLedger(root, DefaultRetentionDays, pipelineNow)
	assert.NoError(t, err)
	assert.True(t, l.Contains(badAbs))
}

func TestRunOnceWriteFailureKeepsLedgerClean(t *testing.T) {
	root := t.TempDir()
	path := writeSnapshot(t, root, "m1", pipelineNow.Add(-time.Minute))

	fs := &fakeSink{writeErr: errors.New("sink unavailable")}
	p := newTestPipeline(root, fs, 100)

	_, err := p.RunOnce(context.Background())
	assert.Error(t, err)

	// nothing marked processed, the batch is retried next pass
	l, lerr := LoadLedger(root, DefaultRetentionDays, pipelineNow)
	assert.NoError(t, lerr)
	assert.False(t, l.Contains(path))

	fs.writeErr = nil
	report, err := p.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
}

func TestRunOnceEmptyRoot(t *testing.T) {
	fs := &fakeSink{}
	report, err := newTestPipeline(filepath.Join(t.TempDir(), "missing"), fs, 100).RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, report.Discovered)
	assert.Empty(t, fs.batches)
}

func TestRunOnceIgnoresNonDateDirectories(t *testing.T) {
	root := t.TempDir()
	writeSnapshot(t, root, "m1", pipelineNow.Add(-time.Minute))

	other := filepath.Join(root, "archive")
	assert.NoError(t, os.MkdirAll(other, 0750))
	assert.NoError(t, os.WriteFile(filepath.Join(other, "stale.json"), []byte("{}"), 0644))

	fs := &fakeSink{}
	report, err := newTestPipeline(root, fs, 100).RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, report.Discovered)
}
