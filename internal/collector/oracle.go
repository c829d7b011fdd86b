package collector

import (
	"context"
	"strconv"

	"github.com/dbops/fleetmon/internal/model"
	"github.com/dbops/fleetmon/internal/registry"
	"github.com/dbops/fleetmon/internal/store"
)

const (
	oraAliveQuery        = "SELECT 1 FROM DUAL"
	oraMaxProcessesQuery = "SELECT value FROM v$parameter WHERE name = 'processes'"
	oraSessionsQuery     = "SELECT COUNT(*) FROM v$session"
	oraActiveQuery       = "SELECT COUNT(*) FROM v$session WHERE status = 'ACTIVE'"
	oraQPSQuery          = `SELECT
    s.value AS total_executions,
    (SYSDATE - i.startup_time) * 86400 AS uptime_seconds
FROM v$sysstat s, v$instance i
WHERE s.name = 'execute count'`
	oraSlowQueriesQuery = "SELECT COUNT(*) FROM v$sql WHERE elapsed_time > :1"
	oraSysstatQuery     = "SELECT name, value FROM v$sysstat WHERE name IN ('physical reads', 'db block gets', 'consistent gets')"
	oraTablespaceQuery  = `SELECT
    tablespace_name,
    ROUND(SUM(bytes) / 1024 / 1024, 2) AS total_mb,
    ROUND(SUM(bytes - free_bytes) / 1024 / 1024, 2) AS used_mb,
    ROUND(SUM(free_bytes) / 1024 / 1024, 2) AS free_mb,
    ROUND((SUM(bytes - free_bytes) / SUM(bytes)) * 100, 2) AS usage_percent
FROM (
    SELECT
        tablespace_name,
        bytes,
        CASE WHEN autoextensible = 'YES' THEN maxbytes - bytes ELSE 0 END AS free_bytes
    FROM dba_data_files
)
GROUP BY tablespace_name
ORDER BY usage_percent DESC`
	oraProcessListQuery = `SELECT
    s.sid, s.username, s.machine, s.status, q.sql_text, TO_CHAR(s.logon_time, 'YYYY-MM-DD HH24:MI:SS') AS logon_time
FROM v$session s
LEFT JOIN v$sql q ON s.sql_id = q.sql_id
WHERE s.username IS NOT NULL
  AND s.audsid != SYS_CONTEXT('USERENV', 'SESSIONID')
ORDER BY s.status DESC`
	oraRoleQuery         = "SELECT database_role FROM v$database"
	oraStandbyCountQuery = "SELECT COUNT(*) FROM v$archive_dest WHERE status = 'VALID' AND target != 'LOCAL'"
	oraRecoveryModeQuery = "SELECT recovery_mode FROM v$archive_dest_status WHERE dest_id = 1"
)

// oraSlowElapsedMicros is the cumulative elapsed time after which a cursor in
// v$sql counts as a slow query (1 second).
const oraSlowElapsedMicros = 1000000

type oracleCollector struct {
	sqlCollector
}

func newOracleCollector(inst registry.Instance, cfg store.Config) *oracleCollector {
	return &oracleCollector{sqlCollector{name: inst.Name, cfg: cfg}}
}

func (c *oracleCollector) Ping(ctx context.Context) bool {
	return c.checkAlive(ctx, oraAliveQuery)
}

func (c *oracleCollector) Collect(ctx context.Context) *model.Metrics {
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
		maxStr, err := c.scalarString(ctx, oraMaxProcessesQuery)
		if err != nil {
			return err
		}
		maxProcesses, _ := strconv.ParseInt(maxStr, 10, 64)
		current, err := c.scalarInt(ctx, oraSessionsQuery)
		if err != nil {
			return err
		}
		active, err := c.scalarInt(ctx, oraActiveQuery)
		if err != nil {
			return err
		}
		m.ConnectionStats = connectionStatsOf(maxProcesses, current, &active)
		return nil
	})

	c.probe("qps", func() error {
		qctx, cancel := c.queryCtx(ctx)
		defer cancel()
		var total, uptime float64
		if err := c.db.QueryRowContext(qctx, oraQPSQuery).Scan(&total, &uptime); err != nil {
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
		count, err := c.scalarInt(ctx, oraSlowQueriesQuery, oraSlowElapsedMicros)
		if err != nil {
			return err
		}
		threshold := float64(oraSlowElapsedMicros) / 1e6
		m.SlowQueries = &model.SlowQueries{Count: count, ThresholdSeconds: &threshold}
		return nil
	})

	c.probe("cache_hit_rate", func() error {
		stats, err := c.keyValues(ctx, oraSysstatQuery)
		if err != nil {
			return err
		}
		m.CacheHitRate = oracleCacheHitRate(stats)
		return nil
	})

	c.probe("tablespace_usage", func() error {
		rows, err := c.rowMaps(ctx, oraTablespaceQuery)
		if err != nil {
			return err
		}
		m.TablespaceUsage = &model.TablespaceUsage{Tablespaces: tablespacesFromRows(rows, "tablespace_name")}
		return nil
	})

	c.probe("process_list", func() error {
		rows, err := c.rowMaps(ctx, oraProcessListQuery)
		if err != nil {
			return err
		}
		procs := make([]model.Process, 0, len(rows))
		for _, row := range rows {
			procs = append(procs, model.Process{
				ID:        row["SID"],
				User:      row["USERNAME"],
				Host:      row["MACHINE"],
				State:     row["STATUS"],
				Query:     row["SQL_TEXT"],
				LoginTime: row["LOGON_TIME"],
			})
		}
		m.ProcessList = procs
		return nil
	})

	c.probe("replication_status", func() error {
		role, err := c.scalarString(ctx, oraRoleQuery)
		if err != nil {
			return err
		}
		switch role {
		case "PRIMARY":
			standbys, err := c.scalarInt(ctx, oraStandbyCountQuery)
			if err != nil {
				return err
			}
			m.ReplicationStatus = oraclePrimaryStatus(role, standbys)
		case "PHYSICAL STANDBY", "LOGICAL STANDBY":
			mode, err := c.scalarString(ctx, oraRecoveryModeQuery)
			if err != nil {
				return err
			}
			m.ReplicationStatus = oracleStandbyStatus(role, mode)
		default:
			m.ReplicationStatus = &model.ReplicationStatus{Status: model.ReplStatusSingle, Role: role}
		}
		return nil
	})

	return m
}

// oracleCacheHitRate computes the buffer cache hit rate
// (1 - physical reads / logical reads) from v$sysstat counters.
func oracleCacheHitRate(stats map[string]string) *model.CacheHitRate {
	physical, _ := strconv.ParseFloat(stats["physical reads"], 64)
	blockGets, _ := strconv.ParseFloat(stats["db block gets"], 64)
	consistentGets, _ := strconv.ParseFloat(stats["consistent gets"], 64)

	logical := blockGets + consistentGets
	out := &model.CacheHitRate{LogicalReads: &logical, PhysicalReads: &physical}
	if logical > 0 {
		rate := (1 - physical/logical) * 100
		out.RatePercent = &rate
	}
	return out
}

func oraclePrimaryStatus(role string, standbys int64) *model.ReplicationStatus {
	if standbys > 0 {
		return &model.ReplicationStatus{Status: model.ReplStatusRunning, Role: role, StandbyCount: &standbys}
	}
	return &model.ReplicationStatus{Status: model.ReplStatusNoStandbys, Role: role}
}

func oracleStandbyStatus(role, recoveryMode string) *model.ReplicationStatus {
	status := model.ReplStatusError
	if recoveryMode == "MANAGED" || recoveryMode == "MANAGED REAL TIME APPLY" {
		status = model.ReplStatusRunning
	}
	return &model.ReplicationStatus{Status: status, Role: role, RecoveryMode: recoveryMode}
}

// tablespacesFromRows converts generic tablespace rows carrying total_mb,
// used_mb, free_mb and usage_percent columns.
func tablespacesFromRows(rows []map[string]string, nameCol string) []model.Tablespace {
	out := make([]model.Tablespace, 0, len(rows))
	for _, row := range rows {
		name := row[nameCol]
		if name == "" {
			// Some drivers report column names uppercased.
			for _, k := range []string{"TABLESPACE_NAME", "NAME"} {
				if row[k] != "" {
					name = row[k]
					break
				}
			}
		}
		out = append(out, model.Tablespace{
			Name:         name,
			TotalMB:      parseFloatPtr(pick(row, "total_mb", "TOTAL_MB")),
			UsedMB:       parseFloatPtr(pick(row, "used_mb", "USED_MB")),
			FreeMB:       parseFloatPtr(pick(row, "free_mb", "FREE_MB")),
			UsagePercent: parseFloatPtr(pick(row, "usage_percent", "USAGE_PERCENT")),
		})
	}
	return out
}

func pick(row map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			return v
		}
	}
	return ""
}

func parseFloatPtr(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}
