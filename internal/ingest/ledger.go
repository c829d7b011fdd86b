// Package ingest moves written snapshots into the sink database: it discovers
// unprocessed snapshot files, parses them in parallel, writes them in batches
// and tracks what has been loaded in a per-day ledger.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dbops/fleetmon/internal/log"
	"github.com/dbops/fleetmon/internal/snapshot"
)

// DefaultRetentionDays bounds both the ledger lookback and ledger pruning.
const DefaultRetentionDays = 7

const (
	ledgerDirName    = "processed"
	ledgerFilePrefix = "processed_files_"
)

// Ledger tracks processed snapshot paths in per-day JSON files under
// <root>/processed/. Entries are grouped by the calendar day the snapshot
// file belongs to, so only the recent day files ever get rewritten.
type Ledger struct {
	dir           string
	retentionDays int

	processed map[string]struct{} // all known paths within retention
	byDay     map[string][]string // day -> paths, only days needing rewrite
	dirty     map[string]struct{}
}

// LoadLedger reads the per-day ledger files of the last retention days.
// Missing files are normal: the ledger starts empty on a fresh tree.
func LoadLedger(rootDir string, retentionDays int, now time.Time) (*Ledger, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	l := &Ledger{
		dir:           filepath.Join(rootDir, ledgerDirName),
		retentionDays: retentionDays,
		processed:     make(map[string]struct{}),
		byDay:         make(map[string][]string),
		dirty:         make(map[string]struct{}),
	}

	for i := 0; i < retentionDays; i++ {
		day := now.AddDate(0, 0, -i).Format(snapshot.DateLayout)
		paths, err := readLedgerFile(l.filename(day))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, p := range paths {
			if _, known := l.processed[p]; known {
				continue
			}
			l.processed[p] = struct{}{}
			l.byDay[day] = append(l.byDay[day], p)
		}
	}
	log.Debugf("ledger: %d processed files known over last %d days", len(l.processed), retentionDays)
	return l, nil
}

func (l *Ledger) filename(day string) string {
	return filepath.Join(l.dir, ledgerFilePrefix+day+".json")
}

func readLedgerFile(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var paths []string
	if err := json.Unmarshal(content, &paths); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	return paths, nil
}

// Contains reports whether the path has already been processed.
func (l *Ledger) Contains(path string) bool {
	_, ok := l.processed[path]
	return ok
}

// Len returns the number of known processed files.
func (l *Ledger) Len() int { return len(l.processed) }

// Add marks a snapshot path processed. The entry lands in the day file named
// after the snapshot's date directory; paths outside a date directory fall
// back to the given day.
func (l *Ledger) Add(path string, fallback time.Time) {
	if _, ok := l.processed[path]; ok {
		return
	}
	day := filepath.Base(filepath.Dir(path))
	if _, err := time.Parse(snapshot.DateLayout, day); err != nil {
		day = fallback.Format(snapshot.DateLayout)
	}
	l.processed[path] = struct{}{}
	l.byDay[day] = append(l.byDay[day], path)
	l.dirty[day] = struct{}{}
}

// Flush rewrites every day file touched since the last flush. Each file is a
// compact JSON array of absolute paths, replaced atomically.
func (l *Ledger) Flush() error {
	if len(l.dirty) == 0 {
		return nil
	}
	if err := os.MkdirAll(l.dir, 0750); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	for day := range l.dirty {
		paths := append([]string(nil), l.byDay[day]...)
		sort.Strings(paths)
		content, err := json.Marshal(paths)
		if err != nil {
			return fmt.Errorf("encode ledger for %s: %w", day, err)
		}
		if err := writeFileAtomic(l.filename(day), content); err != nil {
			return err
		}
		delete(l.dirty, day)
	}
	return nil
}

func writeFileAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-ledger-*")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}

// Prune removes ledger day files older than the retention window.
func (l *Ledger) Prune(now time.Time) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("ledger: prune: %s; ignore", err)
		}
		return
	}

	cutoff := now.AddDate(0, 0, -(l.retentionDays - 1)).Format(snapshot.DateLayout)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, ledgerFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, ledgerFilePrefix), ".json")
		if _, err := time.Parse(snapshot.DateLayout, day); err != nil {
			continue
		}
		if day < cutoff {
			path := filepath.Join(l.dir, name)
			if err := os.Remove(path); err != nil {
				log.Warnf("ledger: remove %s: %s; ignore", path, err)
				continue
			}
			log.Infof("ledger: pruned %s", name)
		}
	}
}
