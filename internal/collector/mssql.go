package collector

import (
	"context"

	"github.com/dbops/fleetmon/internal/model"
	"github.com/dbops/fleetmon/internal/registry"
	"github.com/dbops/fleetmon/internal/store"
)

const (
	mssqlAliveQuery    = "SELECT 1"
	mssqlMaxConnsQuery = `SELECT CAST(value_in_use AS INT) FROM sys.configurations WHERE name = 'user connections'`
	mssqlSessionsQuery = "SELECT COUNT(*) FROM sys.dm_exec_sessions WHERE is_user_process = 1"
	mssqlRequestsQuery = "SELECT COUNT(*) FROM sys.dm_exec_requests WHERE session_id > 50"
	// Batch Requests/sec is cumulative since server start; dividing by the
	// server uptime yields the average request rate.
	mssqlBatchRequestsQuery = `SELECT cntr_value FROM sys.dm_os_performance_counters
WHERE counter_name = 'Batch Requests/sec' AND object_name LIKE '%SQL Statistics%'`
	mssqlUptimeQuery      = "SELECT DATEDIFF(SECOND, sqlserver_start_time, GETDATE()) FROM sys.dm_os_sys_info"
	mssqlSlowQueriesQuery = `SELECT COUNT(*) FROM sys.dm_exec_requests
WHERE session_id > 50 AND DATEDIFF(SECOND, start_time, GETDATE()) > 1`
	mssqlPageLookupsQuery = `SELECT cntr_value FROM sys.dm_os_performance_counters
WHERE counter_name = 'Page lookups/sec' AND object_name LIKE '%Buffer Manager%'`
	mssqlPageReadsQuery = `SELECT cntr_value FROM sys.dm_os_performance_counters
WHERE counter_name = 'Page reads/sec' AND object_name LIKE '%Buffer Manager%'`
	mssqlTablespaceQuery = `SELECT
    name,
    CAST(size * 8.0 / 1024 AS FLOAT) AS total_mb,
    CAST(FILEPROPERTY(name, 'SpaceUsed') * 8.0 / 1024 AS FLOAT) AS used_mb
FROM sys.database_files`
	mssqlProcessListQuery = `SELECT
    r.session_id, s.login_name, s.host_name, r.status, t.text AS sql_text,
    CONVERT(VARCHAR(19), r.start_time, 120) AS start_time
FROM sys.dm_exec_requests r
JOIN sys.dm_exec_sessions s ON r.session_id = s.session_id
CROSS APPLY sys.dm_exec_sql_text(r.sql_handle) t
WHERE r.session_id > 50 AND r.session_id != @@SPID
ORDER BY r.start_time DESC`
	mssqlReplicationQuery = "SELECT COUNT(*) FROM sys.databases WHERE is_published = 1 OR is_subscribed = 1"
)

// mssqlUnlimitedConnections is the effective session cap when
// 'user connections' is configured as 0 (unlimited).
const mssqlUnlimitedConnections = 32767

type mssqlCollector struct {
	sqlCollector
}

func newMSSQLCollector(inst registry.Instance, cfg store.Config) *mssqlCollector {
	return &mssqlCollector{sqlCollector{name: inst.Name, cfg: cfg}}
}

func (c *mssqlCollector) Ping(ctx context.Context) bool {
	return c.checkAlive(ctx, mssqlAliveQuery)
}

func (c *mssqlCollector) Collect(ctx context.Context) *model.Metrics {
	m := &model.Metrics{}
	if c.db == nil {
		m.CollectionError = "not connected"
		return m
	}
	m.ConnectionStatus = c.Ping(ctx)
	if !m.ConnectionStatus {
		m.CollectionError = "connection check failed"
		return m
	}

	c.probe("connection_stats", func() error {
		maxConns, err := c.scalarInt(ctx, mssqlMaxConnsQuery)
		if err != nil {
			return err
		}
		if maxConns == 0 {
			maxConns = mssqlUnlimitedConnections
		}
		current, err := c.scalarInt(ctx, mssqlSessionsQuery)
		if err != nil {
			return err
		}
		active, err := c.scalarInt(ctx, mssqlRequestsQuery)
		if err != nil {
			return err
		}
		m.ConnectionStats = connectionStatsOf(maxConns, current, &active)
		return nil
	})

	c.probe("qps", func() error {
		total, err := c.scalarFloat(ctx, mssqlBatchRequestsQuery)
		if err != nil {
			return err
		}
		uptime, err := c.scalarFloat(ctx, mssqlUptimeQuery)
		if err != nil {
			return err
		}
		q := &model.QPS{TotalQueries: total, UptimeSeconds: uptime}
		if uptime > 0 {
			q.QPS = total / uptime
		}
		m.QPS = q
		return nil
	})

	c.probe("slow_queries", func() error {
		count, err := c.scalarInt(ctx, mssqlSlowQueriesQuery)
		if err != nil {
			return err
		}
		threshold := 1.0
		m.SlowQueries = &model.SlowQueries{Count: count, ThresholdSeconds: &threshold}
		return nil
	})

	c.probe("cache_hit_rate", func() error {
		lookups, err := c.scalarFloat(ctx, mssqlPageLookupsQuery)
		if err != nil {
			return err
		}
		reads, err := c.scalarFloat(ctx, mssqlPageReadsQuery)
		if err != nil {
			return err
		}
		m.CacheHitRate = mssqlCacheHitRate(lookups, reads)
		return nil
	})

	c.probe("tablespace_usage", func() error {
		rows, err := c.rowMaps(ctx, mssqlTablespaceQuery)
		if err != nil {
			return err
		}
		m.TablespaceUsage = &model.TablespaceUsage{Tablespaces: mssqlDataFiles(rows)}
		return nil
	})

	c.probe("process_list", func() error {
		rows, err := c.rowMaps(ctx, mssqlProcessListQuery)
		if err != nil {
			return err
		}
		procs := make([]model.Process, 0, len(rows))
		for _, row := range rows {
			procs = append(procs, model.Process{
				ID:        row["session_id"],
				User:      row["login_name"],
				Host:      row["host_name"],
				State:     row["status"],
				Query:     row["sql_text"],
				LoginTime: row["start_time"],
			})
		}
		m.ProcessList = procs
		return nil
	})

	c.probe("replication_status", func() error {
		involved, err := c.scalarInt(ctx, mssqlReplicationQuery)
		if err != nil {
			return err
		}
		if involved > 0 {
			m.ReplicationStatus = &model.ReplicationStatus{Status: model.ReplStatusRunning}
		} else {
			m.ReplicationStatus = &model.ReplicationStatus{Status: model.ReplStatusNotConfigured}
		}
		return nil
	})

	return m
}

// mssqlCacheHitRate derives the buffer cache hit rate from the cumulative
// page lookup and physical page read counters.
func mssqlCacheHitRate(lookups, reads float64) *model.CacheHitRate {
	out := &model.CacheHitRate{Hits: &lookups, Misses: &reads}
	if lookups > 0 {
		rate := (1 - reads/lookups) * 100
		out.RatePercent = &rate
	}
	return out
}

func mssqlDataFiles(rows []map[string]string) []model.Tablespace {
	out := make([]model.Tablespace, 0, len(rows))
	for _, row := range rows {
		total := parseFloatPtr(row["total_mb"])
		used := parseFloatPtr(row["used_mb"])
		ts := model.Tablespace{Name: row["name"], TotalMB: total, UsedMB: used}
		if total != nil && used != nil {
			free := *total - *used
			ts.FreeMB = &free
			if *total > 0 {
				percent := *used / *total * 100
				ts.UsagePercent = &percent
			}
		}
		out = append(out, ts)
	}
	return out
}
