package collector

import (
	"context"
	"strconv"

	"github.com/dbops/fleetmon/internal/model"
	"github.com/dbops/fleetmon/internal/registry"
	"github.com/dbops/fleetmon/internal/store"
)

const (
	dmAliveQuery       = "SELECT 1"
	dmMaxSessionsQuery = "SELECT PARA_VALUE FROM V$DM_INI WHERE PARA_NAME = 'MAX_SESSIONS'"
	dmSessionsQuery    = "SELECT COUNT(*) FROM V$SESSION"
	dmActiveQuery      = "SELECT COUNT(*) FROM V$SESSION WHERE STATE = 'ACTIVE'"
	dmQPSQuery         = `SELECT
    SUM(SESS_SQL_COUNT) AS total_queries,
    DATEDIFF(SECOND, START_TIME, SYSDATE) AS uptime
FROM V$INSTANCE`
	dmSlowThresholdQuery = "SELECT PARA_VALUE FROM V$DM_INI WHERE PARA_NAME = 'SLOW_QUERY_TIME'"
	dmSlowQueriesQuery   = "SELECT COUNT(*) FROM V$LONG_EXEC_SQL"
	dmCacheHitQuery      = `SELECT
    (100 - (PHY_READS / (LOGICAL_READS + 1) * 100)) AS cache_hit_rate,
    LOGICAL_READS,
    PHY_READS
FROM V$BUFFERPOOL
WHERE BP_NAME = 'DEFAULT'`
	dmTablespaceQuery = `SELECT
    TABLESPACE_NAME,
    TOTAL_SIZE * PAGE_SIZE / 1024 / 1024 AS TOTAL_MB,
    (TOTAL_SIZE - FREE_SIZE) * PAGE_SIZE / 1024 / 1024 AS USED_MB,
    FREE_SIZE * PAGE_SIZE / 1024 / 1024 AS FREE_MB,
    (1 - FREE_SIZE / TOTAL_SIZE) * 100 AS USAGE_PERCENT
FROM V$TABLESPACE`
	dmProcessListQuery = `SELECT
    SESS_ID, USERNAME, CLIENT_IP, STATE, SQL_TEXT, LOGIN_TIME
FROM V$SESSION
WHERE SESS_ID != SYS_CONTEXT('USERENV', 'SESSIONID')`
	dmRoleQuery         = "SELECT ROLE FROM V$INSTANCE"
	dmRepLinkCountQuery = "SELECT COUNT(*) FROM V$REP_LINK"
	dmRepLinkStateQuery = "SELECT STATE FROM V$REP_LINK"
)

type damengCollector struct {
	sqlCollector
}

func newDamengCollector(inst registry.Instance, cfg store.Config) *damengCollector {
	return &damengCollector{sqlCollector{name: inst.Name, cfg: cfg}}
}

func (c *damengCollector) Ping(ctx context.Context) bool {
	return c.checkAlive(ctx, dmAliveQuery)
}

func (c *damengCollector) Collect(ctx context.Context) *model.Metrics {
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
		maxStr, err := c.scalarString(ctx, dmMaxSessionsQuery)
		if err != nil {
			return err
		}
		maxSessions, _ := strconv.ParseInt(maxStr, 10, 64)
		current, err := c.scalarInt(ctx, dmSessionsQuery)
		if err != nil {
			return err
		}
		active, err := c.scalarInt(ctx, dmActiveQuery)
		if err != nil {
			return err
		}
		m.ConnectionStats = connectionStatsOf(maxSessions, current, &active)
		return nil
	})

	c.probe("qps", func() error {
		qctx, cancel := c.queryCtx(ctx)
		defer cancel()
		var total, uptime float64
		if err := c.db.QueryRowContext(qctx, dmQPSQuery).Scan(&total, &uptime); err != nil {
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
		count, err := c.scalarInt(ctx, dmSlowQueriesQuery)
		if err != nil {
			return err
		}
		sq := &model.SlowQueries{Count: count}
		if v, err := c.scalarString(ctx, dmSlowThresholdQuery); err == nil {
			if ms, err := strconv.ParseFloat(v, 64); err == nil {
				secs := ms / 1000
				sq.ThresholdSeconds = &secs
			}
		}
		m.SlowQueries = sq
		return nil
	})

	c.probe("cache_hit_rate", func() error {
		qctx, cancel := c.queryCtx(ctx)
		defer cancel()
		var rate, logical, physical float64
		if err := c.db.QueryRowContext(qctx, dmCacheHitQuery).Scan(&rate, &logical, &physical); err != nil {
			return err
		}
		m.CacheHitRate = &model.CacheHitRate{RatePercent: &rate, LogicalReads: &logical, PhysicalReads: &physical}
		return nil
	})

	c.probe("tablespace_usage", func() error {
		rows, err := c.rowMaps(ctx, dmTablespaceQuery)
		if err != nil {
			return err
		}
		m.TablespaceUsage = &model.TablespaceUsage{Tablespaces: tablespacesFromRows(rows, "TABLESPACE_NAME")}
		return nil
	})

	c.probe("process_list", func() error {
		rows, err := c.rowMaps(ctx, dmProcessListQuery)
		if err != nil {
			return err
		}
		procs := make([]model.Process, 0, len(rows))
		for _, row := range rows {
			procs = append(procs, model.Process{
				ID:        row["SESS_ID"],
				User:      row["USERNAME"],
				Host:      row["CLIENT_IP"],
				State:     row["STATE"],
				Query:     row["SQL_TEXT"],
				LoginTime: row["LOGIN_TIME"],
			})
		}
		m.ProcessList = procs
		return nil
	})

	c.probe("replication_status", func() error {
		role, err := c.scalarString(ctx, dmRoleQuery)
		if err != nil {
			return err
		}
		links, err := c.scalarInt(ctx, dmRepLinkCountQuery)
		if err != nil {
			return err
		}
		if links == 0 {
			m.ReplicationStatus = &model.ReplicationStatus{Status: model.ReplStatusNotConfigured, Role: role}
			return nil
		}
		state, err := c.scalarString(ctx, dmRepLinkStateQuery)
		if err != nil {
			return err
		}
		m.ReplicationStatus = damengReplicationStatus(role, state)
		return nil
	})

	return m
}

// damengReplicationStatus maps a V$REP_LINK state to the closed status set.
func damengReplicationStatus(role, state string) *model.ReplicationStatus {
	status := model.ReplStatusError
	if state == "VALID" || state == "OK" {
		status = model.ReplStatusRunning
	}
	return &model.ReplicationStatus{Status: status, Role: role}
}
