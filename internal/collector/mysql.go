package collector

import (
	"context"
	"strconv"
	"strings"

	"github.com/dbops/fleetmon/internal/model"
	"github.com/dbops/fleetmon/internal/registry"
	"github.com/dbops/fleetmon/internal/store"
)

const (
	mysqlAliveQuery      = "SELECT 1"
	mysqlThreadsQuery    = "SHOW GLOBAL STATUS LIKE 'Threads%'"
	mysqlMaxConnsQuery   = "SHOW GLOBAL VARIABLES LIKE 'max_connections'"
	mysqlComQuery        = "SHOW GLOBAL STATUS LIKE 'Com_%'"
	mysqlUptimeQuery     = "SHOW GLOBAL STATUS LIKE 'Uptime'"
	mysqlSlowQuery       = "SHOW GLOBAL STATUS LIKE 'Slow_queries'"
	mysqlLongQueryTime   = "SHOW GLOBAL VARIABLES LIKE 'long_query_time'"
	mysqlSlowLogQuery    = "SHOW GLOBAL VARIABLES LIKE 'slow_query_log'"
	mysqlInnodbQuery     = "SHOW GLOBAL STATUS LIKE 'Innodb_buffer_pool_read%'"
	mysqlQcacheQuery     = "SHOW GLOBAL STATUS LIKE 'Qcache%'"
	mysqlProcessQuery    = "SHOW PROCESSLIST"
	mysqlSlaveQuery      = "SHOW SLAVE STATUS"
	mysqlTablespaceQuery = `SELECT
    table_schema,
    SUM(data_length + index_length) / 1024 / 1024 AS total_mb,
    SUM(data_free) / 1024 / 1024 AS free_mb
FROM information_schema.tables
GROUP BY table_schema
ORDER BY total_mb DESC`
)

// mysqlSystemSchemas are excluded from tablespace accounting.
var mysqlSystemSchemas = map[string]struct{}{
	"information_schema": {}, "performance_schema": {}, "mysql": {}, "sys": {},
}

type mysqlCollector struct {
	sqlCollector
}

func newMySQLCollector(inst registry.Instance, cfg store.Config) *mysqlCollector {
	return &mysqlCollector{sqlCollector{name: inst.Name, cfg: cfg}}
}

func (c *mysqlCollector) Ping(ctx context.Context) bool {
	return c.checkAlive(ctx, mysqlAliveQuery)
}

func (c *mysqlCollector) Collect(ctx context.Context) *model.Metrics {
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
		threads, err := c.keyValues(ctx, mysqlThreadsQuery)
		if err != nil {
			return err
		}
		vars, err := c.keyValues(ctx, mysqlMaxConnsQuery)
		if err != nil {
			return err
		}
		maxConns, _ := strconv.ParseInt(vars["max_connections"], 10, 64)
		m.ConnectionStats = mysqlConnectionStats(threads, maxConns)
		return nil
	})

	c.probe("qps", func() error {
		commands, err := c.keyValues(ctx, mysqlComQuery)
		if err != nil {
			return err
		}
		status, err := c.keyValues(ctx, mysqlUptimeQuery)
		if err != nil {
			return err
		}
		uptime, _ := strconv.ParseInt(status["Uptime"], 10, 64)
		m.QPS = mysqlQPS(commands, uptime)
		return nil
	})

	c.probe("slow_queries", func() error {
		status, err := c.keyValues(ctx, mysqlSlowQuery)
		if err != nil {
			return err
		}
		vars, err := c.keyValues(ctx, mysqlLongQueryTime)
		if err != nil {
			return err
		}
		logVars, err := c.keyValues(ctx, mysqlSlowLogQuery)
		if err != nil {
			return err
		}
		count, _ := strconv.ParseInt(status["Slow_queries"], 10, 64)
		threshold, _ := strconv.ParseFloat(vars["long_query_time"], 64)
		enabled := strings.EqualFold(logVars["slow_query_log"], "ON")
		m.SlowQueries = &model.SlowQueries{Count: count, ThresholdSeconds: &threshold, LogEnabled: &enabled}
		return nil
	})

	c.probe("cache_hit_rate", func() error {
		innodb, err := c.keyValues(ctx, mysqlInnodbQuery)
		if err != nil {
			return err
		}
		qcache, err := c.keyValues(ctx, mysqlQcacheQuery)
		if err != nil {
			return err
		}
		m.CacheHitRate = mysqlCacheHitRate(innodb, qcache)
		return nil
	})

	c.probe("tablespace_usage", func() error {
		rows, err := c.rowMaps(ctx, mysqlTablespaceQuery)
		if err != nil {
			return err
		}
		m.TablespaceUsage = &model.TablespaceUsage{Tablespaces: mysqlTablespaces(rows)}
		return nil
	})

	c.probe("process_list", func() error {
		rows, err := c.rowMaps(ctx, mysqlProcessQuery)
		if err != nil {
			return err
		}
		m.ProcessList = mysqlProcessList(rows)
		return nil
	})

	c.probe("replication_status", func() error {
		rows, err := c.rowMaps(ctx, mysqlSlaveQuery)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			m.ReplicationStatus = &model.ReplicationStatus{Status: model.ReplStatusNotSlave}
			return nil
		}
		m.ReplicationStatus = mysqlReplicationStatus(rows[0])
		return nil
	})

	return m
}

// mysqlConnectionStats derives connection usage from the Threads_* status
// counters and max_connections.
func mysqlConnectionStats(threads map[string]string, maxConns int64) *model.ConnectionStats {
	current, _ := strconv.ParseInt(threads["Threads_connected"], 10, 64)
	running, _ := strconv.ParseInt(threads["Threads_running"], 10, 64)
	created, _ := strconv.ParseInt(threads["Threads_created"], 10, 64)
	cached, _ := strconv.ParseInt(threads["Threads_cached"], 10, 64)

	var percent float64
	if maxConns > 0 {
		percent = float64(current) / float64(maxConns) * 100
	}
	connected := current
	return &model.ConnectionStats{
		MaxConnections:     maxConns,
		CurrentConnections: current,
		ConnectionPercent:  percent,
		ThreadsRunning:     &running,
		ThreadsConnected:   &connected,
		ThreadsCreated:     &created,
		ThreadsCached:      &cached,
	}
}

// mysqlQPS sums all Com_* command counters and divides by uptime.
func mysqlQPS(commands map[string]string, uptime int64) *model.QPS {
	var total float64
	for _, v := range commands {
		n, err := strconv.ParseFloat(v, 64)
		if err == nil {
			total += n
		}
	}
	q := &model.QPS{TotalQueries: total, UptimeSeconds: float64(uptime)}
	if uptime > 0 {
		q.QPS = total / float64(uptime)
	}
	return q
}

// mysqlCacheHitRate computes the InnoDB buffer pool hit rate
// (read_requests - reads) / read_requests and, when the query cache is
// enabled, the Qcache hit rate. The InnoDB rate is the unified rate.
func mysqlCacheHitRate(innodb, qcache map[string]string) *model.CacheHitRate {
	reads, _ := strconv.ParseFloat(innodb["Innodb_buffer_pool_reads"], 64)
	requests, _ := strconv.ParseFloat(innodb["Innodb_buffer_pool_read_requests"], 64)

	out := &model.CacheHitRate{}
	if requests > 0 {
		rate := (requests - reads) / requests * 100
		out.RatePercent = &rate
		innodbRate := rate
		out.InnoDBRate = &innodbRate
		hits := requests - reads
		out.Hits = &hits
		out.Misses = &reads
	}

	qhits, _ := strconv.ParseFloat(qcache["Qcache_hits"], 64)
	qinserts, _ := strconv.ParseFloat(qcache["Qcache_inserts"], 64)
	qnot, _ := strconv.ParseFloat(qcache["Qcache_not_cached"], 64)
	if total := qhits + qinserts + qnot; total > 0 {
		qrate := qhits / total * 100
		out.QueryCacheRate = &qrate
	}
	return out
}

// mysqlTablespaces converts per-schema size aggregates, skipping system
// schemas.
func mysqlTablespaces(rows []map[string]string) []model.Tablespace {
	out := make([]model.Tablespace, 0, len(rows))
	for _, row := range rows {
		schema := row["table_schema"]
		if _, system := mysqlSystemSchemas[schema]; system {
			continue
		}
		total, _ := strconv.ParseFloat(row["total_mb"], 64)
		free, _ := strconv.ParseFloat(row["free_mb"], 64)
		used := total - free
		var percent float64
		if total > 0 {
			percent = used / total * 100
		}
		t, u, f, p := total, used, free, percent
		out = append(out, model.Tablespace{Name: schema, TotalMB: &t, UsedMB: &u, FreeMB: &f, UsagePercent: &p})
	}
	return out
}

func mysqlProcessList(rows []map[string]string) []model.Process {
	out := make([]model.Process, 0, len(rows))
	for _, row := range rows {
		// Exclude the monitor's own SHOW PROCESSLIST session.
		if strings.EqualFold(row["Info"], mysqlProcessQuery) {
			continue
		}
		out = append(out, model.Process{
			ID:       row["Id"],
			User:     row["User"],
			Host:     row["Host"],
			Database: row["db"],
			State:    row["State"],
			Query:    row["Info"],
		})
	}
	return out
}

// mysqlReplicationStatus classifies SHOW SLAVE STATUS output. Both IO and
// SQL threads must run for the status to be Running.
func mysqlReplicationStatus(row map[string]string) *model.ReplicationStatus {
	io := row["Slave_IO_Running"]
	sqlThread := row["Slave_SQL_Running"]

	status := model.ReplStatusError
	if io == "Yes" && sqlThread == "Yes" {
		status = model.ReplStatusRunning
	}

	rs := &model.ReplicationStatus{
		Status:     status,
		Role:       "slave",
		MasterHost: row["Master_Host"],
		IORunning:  io,
		SQLRunning: sqlThread,
	}
	if port, err := strconv.ParseInt(row["Master_Port"], 10, 64); err == nil {
		rs.MasterPort = port
	}
	if lag, err := strconv.ParseFloat(row["Seconds_Behind_Master"], 64); err == nil {
		rs.SecondsBehind = &lag
	}
	return rs
}
