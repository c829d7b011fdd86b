package collector

import (
	"context"
	"strconv"

	"github.com/dbops/fleetmon/internal/model"
	"github.com/dbops/fleetmon/internal/registry"
	"github.com/dbops/fleetmon/internal/store"
)

const (
	pgAliveQuery        = "SELECT 1"
	pgMaxConnsQuery     = "SHOW max_connections"
	pgCurrentConnsQuery = "SELECT count(*) FROM pg_stat_activity"
	pgActiveConnsQuery  = "SELECT count(*) FROM pg_stat_activity WHERE state = 'active'"
	pgQPSQuery          = `SELECT
    coalesce(sum(xact_commit + xact_rollback), 0) AS total_transactions,
    extract(epoch FROM now() - pg_postmaster_start_time()) AS uptime
FROM pg_stat_database`
	pgSlowQueriesQuery = `SELECT count(*) FROM pg_stat_activity
WHERE state = 'active'
  AND now() - query_start > make_interval(secs => $1)
  AND pid != pg_backend_pid()`
	pgSlowThresholdQuery = "SHOW log_min_duration_statement"
	pgCacheHitQuery      = `SELECT
    coalesce(sum(blks_hit), 0) AS blks_hit,
    coalesce(sum(blks_read), 0) AS blks_read
FROM pg_stat_database`
	pgTablespaceQuery = `SELECT
    spcname AS tablespace,
    pg_tablespace_size(spcname) AS size_bytes
FROM pg_tablespace
WHERE spcname NOT LIKE 'pg_%'
ORDER BY size_bytes DESC`
	pgProcessListQuery = `SELECT
    pid, usename, datname, client_addr, state, query, backend_start
FROM pg_stat_activity
WHERE pid != pg_backend_pid()`
	pgReplicationQuery = `SELECT
    application_name, state, sync_state,
    pg_wal_lsn_diff(pg_current_wal_lsn(), sent_lsn) AS lag_bytes
FROM pg_stat_replication`
)

// postgresCollector serves both PostgreSQL and KingbaseES: Kingbase is
// wire-compatible and exposes the same statistics catalog.
type postgresCollector struct {
	sqlCollector
	slowQuerySeconds float64
}

func newPostgresCollector(inst registry.Instance, cfg store.Config) *postgresCollector {
	return &postgresCollector{sqlCollector: sqlCollector{name: inst.Name, cfg: cfg}, slowQuerySeconds: 1}
}

func (c *postgresCollector) Ping(ctx context.Context) bool {
	return c.checkAlive(ctx, pgAliveQuery)
}

func (c *postgresCollector) Collect(ctx context.Context) *model.Metrics {
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
		maxStr, err := c.scalarString(ctx, pgMaxConnsQuery)
		if err != nil {
			return err
		}
		maxConns, _ := strconv.ParseInt(maxStr, 10, 64)
		current, err := c.scalarInt(ctx, pgCurrentConnsQuery)
		if err != nil {
			return err
		}
		active, err := c.scalarInt(ctx, pgActiveConnsQuery)
		if err != nil {
			return err
		}
		m.ConnectionStats = connectionStatsOf(maxConns, current, &active)
		return nil
	})

	c.probe("qps", func() error {
		qctx, cancel := c.queryCtx(ctx)
		defer cancel()
		var total, uptime float64
		if err := c.db.QueryRowContext(qctx, pgQPSQuery).Scan(&total, &uptime); err != nil {
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
		count, err := c.scalarInt(ctx, pgSlowQueriesQuery, c.slowQuerySeconds)
		if err != nil {
			return err
		}
		threshold := c.slowQuerySeconds
		sq := &model.SlowQueries{Count: count, ThresholdSeconds: &threshold}
		if v, err := c.scalarString(ctx, pgSlowThresholdQuery); err == nil {
			enabled := v != "-1"
			sq.LogEnabled = &enabled
		}
		m.SlowQueries = sq
		return nil
	})

	c.probe("cache_hit_rate", func() error {
		qctx, cancel := c.queryCtx(ctx)
		defer cancel()
		var hit, read float64
		if err := c.db.QueryRowContext(qctx, pgCacheHitQuery).Scan(&hit, &read); err != nil {
			return err
		}
		m.CacheHitRate = cacheHitRateOf(hit, read)
		return nil
	})

	c.probe("tablespace_usage", func() error {
		rows, err := c.rowMaps(ctx, pgTablespaceQuery)
		if err != nil {
			return err
		}
		spaces := make([]model.Tablespace, 0, len(rows))
		for _, row := range rows {
			bytes, _ := strconv.ParseFloat(row["size_bytes"], 64)
			total := bytes / 1024 / 1024
			// pg_tablespace reports allocated size only, used/free are not
			// exposed without filesystem access.
			spaces = append(spaces, model.Tablespace{Name: row["tablespace"], TotalMB: &total})
		}
		m.TablespaceUsage = &model.TablespaceUsage{Tablespaces: spaces}
		return nil
	})

	c.probe("process_list", func() error {
		rows, err := c.rowMaps(ctx, pgProcessListQuery)
		if err != nil {
			return err
		}
		procs := make([]model.Process, 0, len(rows))
		for _, row := range rows {
			procs = append(procs, model.Process{
				ID:        row["pid"],
				User:      row["usename"],
				Host:      row["client_addr"],
				Database:  row["datname"],
				State:     row["state"],
				Query:     row["query"],
				LoginTime: row["backend_start"],
			})
		}
		m.ProcessList = procs
		return nil
	})

	c.probe("replication_status", func() error {
		rows, err := c.rowMaps(ctx, pgReplicationQuery)
		if err != nil {
			return err
		}
		m.ReplicationStatus = pgReplicationStatus(rows)
		return nil
	})

	return m
}

// connectionStatsOf builds the normalized connection usage record.
func connectionStatsOf(maxConns, current int64, active *int64) *model.ConnectionStats {
	var percent float64
	if maxConns > 0 {
		percent = float64(current) / float64(maxConns) * 100
	}
	return &model.ConnectionStats{
		MaxConnections:     maxConns,
		CurrentConnections: current,
		ConnectionPercent:  percent,
		ActiveConnections:  active,
	}
}

// cacheHitRateOf computes the unified logical/physical hit rate.
func cacheHitRateOf(hits, misses float64) *model.CacheHitRate {
	out := &model.CacheHitRate{Hits: &hits, Misses: &misses}
	if total := hits + misses; total > 0 {
		rate := hits / total * 100
		out.RatePercent = &rate
	}
	return out
}

// pgReplicationStatus classifies pg_stat_replication rows: Running only when
// every connected replica is streaming.
func pgReplicationStatus(rows []map[string]string) *model.ReplicationStatus {
	if len(rows) == 0 {
		return &model.ReplicationStatus{Status: model.ReplStatusNoReplicas}
	}

	status := model.ReplStatusRunning
	replicas := make([]model.Replica, 0, len(rows))
	for _, row := range rows {
		if row["state"] != "streaming" {
			status = model.ReplStatusError
		}
		r := model.Replica{Name: row["application_name"], State: row["state"], SyncState: row["sync_state"]}
		if lag, err := strconv.ParseFloat(row["lag_bytes"], 64); err == nil {
			r.LagBytes = &lag
		}
		replicas = append(replicas, r)
	}
	return &model.ReplicationStatus{Status: status, Role: "primary", Replicas: replicas}
}
