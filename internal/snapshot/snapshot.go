// Package snapshot writes and reads the date-partitioned JSON snapshot tree:
//
//	<root>/<YYYY-MM-DD>/<instance>_<YYYYMMDD_HHMMSS>.json
//
// Snapshots are written atomically (temp file + rename) so a concurrent
// reader never observes a partial document.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dbops/fleetmon/internal/model"
)

// DateLayout names the per-day directories.
const DateLayout = "2006-01-02"

// fileTimeLayout is the timestamp embedded in the snapshot file name.
const fileTimeLayout = "20060102_150405"

// Write serializes the snapshot under rootDir and returns the final path.
// Same-second collisions for the same instance get a numeric suffix.
func Write(snap *model.Snapshot, rootDir string, now time.Time) (string, error) {
	dir := filepath.Join(rootDir, now.Format(DateLayout))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	base := fmt.Sprintf("%s_%s", snap.InstanceName, now.Format(fileTimeLayout))
	path := filepath.Join(dir, base+".json")
	for n := 1; exists(path); n++ {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.json", base, n))
	}

	// Write-then-rename keeps partially written files invisible to the
	// ingestion pipeline, which globs *.json only.
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("rename snapshot: %w", err)
	}
	return path, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Read parses a snapshot file. Unknown fields are ignored for forward
// compatibility.
func Read(path string) (*model.Snapshot, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	snap := &model.Snapshot{}
	if err := json.Unmarshal(content, snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return snap, nil
}
