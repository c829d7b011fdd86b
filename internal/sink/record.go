// Package sink persists ingested snapshots into a central database, one of
// the same seven engines the monitor can watch.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/dbops/fleetmon/internal/model"
)

// Record is the flat monitor_main row projected from one snapshot. Pointer
// fields become SQL NULLs where the engine did not report the value.
type Record struct {
	InstanceName      string
	Timestamp         time.Time
	MonitorTime       float64
	ConnectionStatus  bool
	ConnectionCount   *int64
	ConnectionPercent *float64
	ThreadsRunning    *int64
	ThreadsConnected  *int64
	ThreadsCreated    *int64
	ThreadsCached     *int64
	QPS               *float64
	TotalQueries      *float64
	Uptime            *float64
	SlowQueries       *int64
	LongQueryTime     *float64
	SlowQueryLog      *bool
	InnoDBHitRate     *float64
	QueryCacheHitRate *float64
	TablespaceUsage   *float64
	ReplicationStatus string

	Alerts []AlertRow
}

// AlertRow is one monitor_alerts row. Value and Threshold are stringified so
// every engine stores them the same way regardless of the native alert type.
type AlertRow struct {
	InstanceName string
	Timestamp    time.Time
	Level        string
	Metric       string
	Message      string
	Value        string
	Threshold    string
}

// Sink writes batches of records into the central database.
type Sink interface {
	// Connect opens the connection and verifies it.
	Connect(ctx context.Context) error
	// EnsureSchema creates the monitor tables and indexes when missing.
	EnsureSchema(ctx context.Context) error
	// WriteBatch persists all records in a single transaction. On any failure
	// the whole batch is rolled back and nothing is marked processed.
	WriteBatch(ctx context.Context, records []*Record) error
	Close() error
}

// New returns the engine-appropriate sink for the configuration.
func New(cfg *Config) (Sink, error) {
	if cfg.DBType == model.EngineMongoDB {
		return newMongoSink(cfg), nil
	}
	return newRelationalSink(cfg)
}

// Project flattens a snapshot into a sink record. The snapshot timestamp is
// authoritative; a snapshot that cannot state when it was taken is rejected.
func Project(s *model.Snapshot) (*Record, error) {
	ts, err := time.ParseInLocation(model.TimestampLayout, s.Timestamp, time.Local)
	if err != nil {
		return nil, fmt.Errorf("snapshot of %s: bad timestamp %q: %w", s.InstanceName, s.Timestamp, err)
	}
	if s.InstanceName == "" {
		return nil, fmt.Errorf("snapshot without instance name")
	}

	r := &Record{
		InstanceName: s.InstanceName,
		Timestamp:    ts,
		MonitorTime:  s.MonitorTime,
	}

	if m := s.Stats; m != nil {
		r.ConnectionStatus = m.ConnectionStatus

		if cs := m.ConnectionStats; cs != nil {
			count, percent := cs.CurrentConnections, cs.ConnectionPercent
			r.ConnectionCount = &count
			r.ConnectionPercent = &percent
			r.ThreadsRunning = cs.ThreadsRunning
			r.ThreadsConnected = cs.ThreadsConnected
			r.ThreadsCreated = cs.ThreadsCreated
			r.ThreadsCached = cs.ThreadsCached
		}
		if q := m.QPS; q != nil {
			qps, total, uptime := q.QPS, q.TotalQueries, q.UptimeSeconds
			r.QPS = &qps
			r.TotalQueries = &total
			r.Uptime = &uptime
		}
		if sq := m.SlowQueries; sq != nil {
			count := sq.Count
			r.SlowQueries = &count
			r.LongQueryTime = sq.ThresholdSeconds
			r.SlowQueryLog = sq.LogEnabled
		}
		if ch := m.CacheHitRate; ch != nil {
			if ch.InnoDBRate != nil {
				r.InnoDBHitRate = ch.InnoDBRate
			} else {
				r.InnoDBHitRate = ch.RatePercent
			}
			r.QueryCacheHitRate = ch.QueryCacheRate
		}
		r.TablespaceUsage = tablespacePercent(m.TablespaceUsage)
		if rs := m.ReplicationStatus; rs != nil {
			r.ReplicationStatus = rs.Status
		}
	}

	for _, a := range s.Alerts {
		name := a.InstanceName
		if name == "" {
			name = s.InstanceName
		}
		r.Alerts = append(r.Alerts, AlertRow{
			InstanceName: name,
			Timestamp:    ts,
			Level:        a.Level,
			Metric:       a.Metric,
			Message:      a.Message,
			Value:        stringify(a.Value),
			Threshold:    stringify(a.Threshold),
		})
	}
	return r, nil
}

// tablespacePercent reduces the per-engine tablespace report to one column:
// the worst usage percent across tablespaces, or the MongoDB storage percent.
func tablespacePercent(t *model.TablespaceUsage) *float64 {
	if t == nil {
		return nil
	}
	if t.Storage != nil {
		return t.Storage.UsagePercent
	}
	var worst *float64
	for _, ts := range t.Tablespaces {
		if ts.UsagePercent == nil {
			continue
		}
		if worst == nil || *ts.UsagePercent > *worst {
			v := *ts.UsagePercent
			worst = &v
		}
	}
	return worst
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
