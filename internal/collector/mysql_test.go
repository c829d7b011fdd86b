package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbops/fleetmon/internal/model"
)

func TestMysqlConnectionStats(t *testing.T) {
	threads := map[string]string{
		"Threads_connected": "40",
		"Threads_running":   "5",
		"Threads_created":   "100",
		"Threads_cached":    "8",
	}

	cs := mysqlConnectionStats(threads, 200)
	assert.Equal(t, int64(200), cs.MaxConnections)
	assert.Equal(t, int64(40), cs.CurrentConnections)
	assert.Equal(t, 20.0, cs.ConnectionPercent)
	assert.Equal(t, int64(5), *cs.ThreadsRunning)
	assert.Equal(t, int64(100), *cs.ThreadsCreated)
	assert.Equal(t, int64(8), *cs.ThreadsCached)

	// zero max_connections must not divide by zero
	cs = mysqlConnectionStats(threads, 0)
	assert.Equal(t, 0.0, cs.ConnectionPercent)
}

func TestMysqlQPS(t *testing.T) {
	commands := map[string]string{
		"Com_select": "600",
		"Com_insert": "300",
		"Com_update": "100",
		"Com_stmt":   "garbage", // unparsable counters are skipped
	}

	q := mysqlQPS(commands, 100)
	assert.Equal(t, 1000.0, q.TotalQueries)
	assert.Equal(t, 100.0, q.UptimeSeconds)
	assert.Equal(t, 10.0, q.QPS)

	q = mysqlQPS(commands, 0)
	assert.Equal(t, 0.0, q.QPS)
}

func TestMysqlCacheHitRate(t *testing.T) {
	innodb := map[string]string{
		"Innodb_buffer_pool_read_requests": "1000",
		"Innodb_buffer_pool_reads":         "50",
	}
	qcache := map[string]string{
		"Qcache_hits":       "90",
		"Qcache_inserts":    "5",
		"Qcache_not_cached": "5",
	}

	c := mysqlCacheHitRate(innodb, qcache)
	assert.InDelta(t, 95.0, *c.RatePercent, 0.001)
	assert.InDelta(t, 95.0, *c.InnoDBRate, 0.001)
	assert.Equal(t, 950.0, *c.Hits)
	assert.Equal(t, 50.0, *c.Misses)
	assert.InDelta(t, 90.0, *c.QueryCacheRate, 0.001)

	// cold buffer pool: no requests yet, no rate
	c = mysqlCacheHitRate(map[string]string{}, map[string]string{})
	assert.Nil(t, c.RatePercent)
	assert.Nil(t, c.QueryCacheRate)
}

func TestMysqlTablespaces(t *testing.T) {
	rows := []map[string]string{
		{"table_schema": "app", "total_mb": "1000", "free_mb": "250"},
		{"table_schema": "mysql", "total_mb": "10", "free_mb": "1"},
		{"table_schema": "information_schema", "total_mb": "0", "free_mb": "0"},
	}

	spaces := mysqlTablespaces(rows)
	assert.Len(t, spaces, 1)
	assert.Equal(t, "app", spaces[0].Name)
	assert.Equal(t, 1000.0, *spaces[0].TotalMB)
	assert.Equal(t, 750.0, *spaces[0].UsedMB)
	assert.InDelta(t, 75.0, *spaces[0].UsagePercent, 0.001)
}

func TestMysqlProcessList(t *testing.T) {
	rows := []map[string]string{
		{"Id": "12", "User": "app", "Host": "10.0.0.5:51234", "db": "orders", "State": "Sending data", "Info": "SELECT * FROM orders"},
		{"Id": "13", "User": "monitor", "Host": "localhost", "Info": "SHOW PROCESSLIST"},
	}

	procs := mysqlProcessList(rows)
	assert.Len(t, procs, 1)
	assert.Equal(t, "12", procs[0].ID)
	assert.Equal(t, "orders", procs[0].Database)
}

func TestMysqlReplicationStatus(t *testing.T) {
	running := mysqlReplicationStatus(map[string]string{
		"Slave_IO_Running":      "Yes",
		"Slave_SQL_Running":     "Yes",
		"Master_Host":           "primary.local",
		"Master_Port":           "3306",
		"Seconds_Behind_Master": "2",
	})
	assert.Equal(t, model.ReplStatusRunning, running.Status)
	assert.Equal(t, "slave", running.Role)
	assert.Equal(t, "primary.local", running.MasterHost)
	assert.Equal(t, int64(3306), running.MasterPort)
	assert.Equal(t, 2.0, *running.SecondsBehind)

	broken := mysqlReplicationStatus(map[string]string{
		"Slave_IO_Running":  "No",
		"Slave_SQL_Running": "Yes",
	})
	assert.Equal(t, model.ReplStatusError, broken.Status)
	// a stopped IO thread reports NULL lag
	assert.Nil(t, broken.SecondsBehind)
}
