// Package threshold evaluates declarative rules against a Metrics record and
// produces alerts. Evaluation is pure: no I/O, same inputs produce the same
// alert list.
package threshold

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dbops/fleetmon/internal/log"
	"github.com/dbops/fleetmon/internal/model"
)

// Default rule thresholds.
const (
	DefaultMaxConnectionsPercent = 80
	DefaultMaxQPS                = 1000
	DefaultSlowQueries           = 0
	DefaultMinCacheHitRate       = 90
	DefaultMaxTablespacePercent  = 80
	DefaultMaxReplicationLagSec  = 30
)

// Rules is the declarative rule table. Zero value is not useful, construct
// with DefaultRules or FromEnv.
type Rules struct {
	MaxConnectionsPercent float64
	MaxQPS                float64
	SlowQueries           float64
	MinCacheHitRate       float64
	MaxTablespacePercent  float64
	MaxReplicationLagSec  float64
}

// DefaultRules returns the rule table with default thresholds.
func DefaultRules() Rules {
	return Rules{
		MaxConnectionsPercent: DefaultMaxConnectionsPercent,
		MaxQPS:                DefaultMaxQPS,
		SlowQueries:           DefaultSlowQueries,
		MinCacheHitRate:       DefaultMinCacheHitRate,
		MaxTablespacePercent:  DefaultMaxTablespacePercent,
		MaxReplicationLagSec:  DefaultMaxReplicationLagSec,
	}
}

// FromEnv returns the defaults overridden by the tuning environment
// variables.
func FromEnv() Rules {
	r := DefaultRules()
	envFloat("MAX_CONNECTIONS_THRESHOLD", &r.MaxConnectionsPercent)
	envFloat("MAX_QPS_THRESHOLD", &r.MaxQPS)
	envFloat("SLOW_QUERY_THRESHOLD", &r.SlowQueries)
	envFloat("CACHE_HIT_RATE_THRESHOLD", &r.MinCacheHitRate)
	envFloat("TABLESPACE_USAGE_THRESHOLD", &r.MaxTablespacePercent)
	return r
}

func envFloat(name string, dst *float64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warnf("invalid %s value %q, keep default %v", name, v, *dst)
		return
	}
	*dst = f
}

// Thresholds returns the table as recorded in every snapshot.
func (r Rules) Thresholds() model.Thresholds {
	return model.Thresholds{
		MaxConnections:    r.MaxConnectionsPercent,
		MaxQPS:            r.MaxQPS,
		SlowQuery:         r.SlowQueries,
		CacheHitRate:      r.MinCacheHitRate,
		TablespaceUsage:   r.MaxTablespacePercent,
		ReplicationLagSec: r.MaxReplicationLagSec,
	}
}

// passiveReplicationStatuses are states in which the instance does not
// participate in replication; the replication_broken rule does not apply.
var passiveReplicationStatuses = map[string]struct{}{
	model.ReplStatusNotSlave:      {},
	model.ReplStatusNotConfigured: {},
	model.ReplStatusSingle:        {},
	model.ReplStatusNoReplicas:    {},
	model.ReplStatusNotReplicaSet: {},
	model.ReplStatusNoStandbys:    {},
}

// Evaluate applies the rule table to a metrics record. Rules whose source
// field is nil are skipped.
func Evaluate(instance, timestamp string, m *model.Metrics, r Rules) []model.Alert {
	if m == nil {
		return nil
	}
	var alerts []model.Alert
	add := func(level, metric, message string, value, threshold interface{}, extra map[string]interface{}) {
		alerts = append(alerts, model.Alert{
			InstanceName: instance,
			Timestamp:    timestamp,
			Level:        level,
			Metric:       metric,
			Message:      message,
			Value:        value,
			Threshold:    threshold,
			Extra:        extra,
		})
	}

	if cs := m.ConnectionStats; cs != nil && cs.ConnectionPercent > r.MaxConnectionsPercent {
		add(model.AlertWarning, "connection_percent",
			fmt.Sprintf("connection usage too high: %.2f%% (threshold: %g%%)", cs.ConnectionPercent, r.MaxConnectionsPercent),
			cs.ConnectionPercent, r.MaxConnectionsPercent, nil)
	}

	if q := m.QPS; q != nil && q.QPS > r.MaxQPS {
		add(model.AlertWarning, "qps",
			fmt.Sprintf("QPS too high: %.2f (threshold: %g)", q.QPS, r.MaxQPS),
			q.QPS, r.MaxQPS, nil)
	}

	if sq := m.SlowQueries; sq != nil && float64(sq.Count) > r.SlowQueries {
		add(model.AlertWarning, "slow_queries",
			fmt.Sprintf("slow queries present: %d", sq.Count),
			sq.Count, r.SlowQueries, nil)
	}

	if c := m.CacheHitRate; c != nil && c.RatePercent != nil && *c.RatePercent < r.MinCacheHitRate {
		add(model.AlertWarning, "cache_hit_rate",
			fmt.Sprintf("cache hit rate too low: %.1f%% (threshold: %.1f%%)", *c.RatePercent, r.MinCacheHitRate),
			fmt.Sprintf("%.1f", *c.RatePercent), fmt.Sprintf("%.1f", r.MinCacheHitRate), nil)
	}

	if tu := m.TablespaceUsage; tu != nil {
		for _, ts := range tu.Tablespaces {
			if ts.UsagePercent != nil && *ts.UsagePercent > r.MaxTablespacePercent {
				add(model.AlertWarning, "tablespace_usage",
					fmt.Sprintf("tablespace %s usage too high: %.2f%% (threshold: %g%%)", ts.Name, *ts.UsagePercent, r.MaxTablespacePercent),
					*ts.UsagePercent, r.MaxTablespacePercent,
					map[string]interface{}{"name": ts.Name})
			}
		}
		if s := tu.Storage; s != nil && s.UsagePercent != nil && *s.UsagePercent > r.MaxTablespacePercent {
			add(model.AlertWarning, "tablespace_usage",
				fmt.Sprintf("storage usage too high: %.2f%% (threshold: %g%%)", *s.UsagePercent, r.MaxTablespacePercent),
				*s.UsagePercent, r.MaxTablespacePercent,
				map[string]interface{}{"name": s.Database})
		}
	}

	if rs := m.ReplicationStatus; rs != nil {
		_, passive := passiveReplicationStatuses[rs.Status]
		switch {
		case !passive && rs.Status != model.ReplStatusRunning:
			msg := "replication broken"
			if rs.Error != "" {
				msg = fmt.Sprintf("replication broken: %s", rs.Error)
			}
			add(model.AlertCritical, "replication_status", msg, rs.Status, model.ReplStatusRunning, nil)
		case rs.SecondsBehind != nil && *rs.SecondsBehind > r.MaxReplicationLagSec:
			add(model.AlertWarning, "seconds_behind_master",
				fmt.Sprintf("replication lag too high: %.0f seconds (threshold: %g)", *rs.SecondsBehind, r.MaxReplicationLagSec),
				*rs.SecondsBehind, r.MaxReplicationLagSec, nil)
		}
	}

	return alerts
}
