package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dbops/fleetmon/internal/model"
)

func testSnapshot(name string) *model.Snapshot {
	return &model.Snapshot{
		Timestamp:    "2026-08-24 10:15:30",
		MonitorTime:  1787911530.25,
		InstanceName: name,
		Stats:        &model.Metrics{ConnectionStatus: true},
		Thresholds:   model.Thresholds{MaxConnections: 80},
	}
}

func TestWriteLayout(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 8, 24, 10, 15, 30, 0, time.Local)

	path, err := Write(testSnapshot("mysql_prod"), root, now)
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "2026-08-24", "mysql_prod_20260824_101530.json"), path)

	// file must be valid, pretty-printed JSON
	content, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Contains(t, string(content), "\n  \"instance_name\": \"mysql_prod\"")

	var snap model.Snapshot
	assert.NoError(t, json.Unmarshal(content, &snap))
	assert.Equal(t, "mysql_prod", snap.InstanceName)
}

func TestWriteCollisionSuffix(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 8, 24, 10, 15, 30, 0, time.Local)

	first, err := Write(testSnapshot("m1"), root, now)
	assert.NoError(t, err)
	second, err := Write(testSnapshot("m1"), root, now)
	assert.NoError(t, err)
	third, err := Write(testSnapshot("m1"), root, now)
	assert.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Contains(t, second, "m1_20260824_101530_1.json")
	assert.Contains(t, third, "m1_20260824_101530_2.json")
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 8, 24, 10, 15, 30, 0, time.Local)

	_, err := Write(testSnapshot("m1"), root, now)
	assert.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "2026-08-24"))
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "m1_20260824_101530.json", entries[0].Name())
}

func TestReadRoundTrip(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 8, 24, 23, 59, 59, 0, time.Local)
	in := testSnapshot("pg_prod")
	in.Alerts = []model.Alert{{Level: model.AlertWarning, Metric: "qps", Value: 1500.0, Threshold: 1000.0}}

	path, err := Write(in, root, now)
	assert.NoError(t, err)

	out, err := Read(path)
	assert.NoError(t, err)
	assert.Equal(t, in.InstanceName, out.InstanceName)
	assert.Equal(t, in.MonitorTime, out.MonitorTime)
	assert.Len(t, out.Alerts, 1)
	assert.Equal(t, "qps", out.Alerts[0].Metric)
}

func TestReadErrors(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	assert.NoError(t, os.WriteFile(bad, []byte("{truncated"), 0644))
	_, err = Read(bad)
	assert.Error(t, err)
}

func TestReadIgnoresUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.json")
	content := `{"timestamp":"2026-08-24 10:00:00","instance_name":"m1","future_field":{"a":1}}`
	assert.NoError(t, os.WriteFile(path, []byte(content), 0644))

	snap, err := Read(path)
	assert.NoError(t, err)
	assert.Equal(t, "m1", snap.InstanceName)
}
