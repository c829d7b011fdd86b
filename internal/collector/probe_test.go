package collector

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbops/fleetmon/internal/model"
	"github.com/dbops/fleetmon/internal/store"
)

// fakeResult is one canned query answer served by the fake driver.
type fakeResult struct {
	cols []string
	rows [][]driver.Value
	err  error
}

type fakeConnector struct {
	results map[string]fakeResult
}

func (f *fakeConnector) Connect(context.Context) (driver.Conn, error) {
	return &fakeConn{results: f.results}, nil
}
func (f *fakeConnector) Driver() driver.Driver { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("open through the connector")
}

type fakeConn struct {
	results map[string]fakeResult
}

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	res, ok := c.results[query]
	if !ok {
		return nil, fmt.Errorf("unexpected query %q", query)
	}
	if res.err != nil {
		return nil, res.err
	}
	return &fakeRows{cols: res.cols, rows: res.rows}, nil
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}
func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return nil, errors.New("begin not supported") }

type fakeRows struct {
	cols []string
	rows [][]driver.Value
	i    int
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }
func (r *fakeRows) Next(dest []driver.Value) error {
	if r.i >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.i])
	r.i++
	return nil
}

// kvResult renders a SHOW-style two-column result from name/value pairs.
func kvResult(pairs ...string) fakeResult {
	res := fakeResult{cols: []string{"Variable_name", "Value"}}
	for i := 0; i+1 < len(pairs); i += 2 {
		res.rows = append(res.rows, []driver.Value{pairs[i], pairs[i+1]})
	}
	return res
}

// TestCollectProbeFailureLeavesSiblingsPopulated drives a full Collect over a
// fake driver where one sub-probe's query fails: only that field stays nil,
// the record is still usable and carries no collection error.
func TestCollectProbeFailureLeavesSiblingsPopulated(t *testing.T) {
	results := map[string]fakeResult{
		mysqlAliveQuery: {cols: []string{"1"}, rows: [][]driver.Value{{int64(1)}}},
		mysqlThreadsQuery: kvResult(
			"Threads_connected", "10",
			"Threads_running", "2",
			"Threads_created", "20",
			"Threads_cached", "5",
		),
		mysqlMaxConnsQuery: kvResult("max_connections", "100"),

		// the qps probe dies on its first query
		mysqlComQuery:    {err: errors.New("command denied to user")},
		mysqlUptimeQuery: kvResult("Uptime", "1000"),

		mysqlSlowQuery:     kvResult("Slow_queries", "3"),
		mysqlLongQueryTime: kvResult("long_query_time", "10"),
		mysqlSlowLogQuery:  kvResult("slow_query_log", "ON"),
		mysqlInnodbQuery: kvResult(
			"Innodb_buffer_pool_read_requests", "1000",
			"Innodb_buffer_pool_reads", "100",
		),
		mysqlQcacheQuery: kvResult(),
		mysqlTablespaceQuery: {
			cols: []string{"table_schema", "total_mb", "free_mb"},
			rows: [][]driver.Value{{"appdb", "100", "40"}},
		},
		mysqlProcessQuery: {
			cols: []string{"Id", "User", "Host", "db", "State", "Info"},
			rows: [][]driver.Value{{"7", "app", "10.0.0.5", "appdb", "executing", "SELECT * FROM t"}},
		},
		mysqlSlaveQuery: {cols: []string{"Slave_IO_Running"}},
	}

	c := newMySQLCollector(registryInstance(model.EngineMySQL, "m1"), store.Config{})
	c.db = sql.OpenDB(&fakeConnector{results: results})
	defer c.Close()

	m := c.Collect(context.Background())

	assert.True(t, m.ConnectionStatus)
	assert.Empty(t, m.CollectionError)

	// the failing probe left only its own field nil
	assert.Nil(t, m.QPS)

	assert.NotNil(t, m.ConnectionStats)
	assert.Equal(t, int64(10), m.ConnectionStats.CurrentConnections)
	assert.Equal(t, 10.0, m.ConnectionStats.ConnectionPercent)

	assert.NotNil(t, m.SlowQueries)
	assert.Equal(t, int64(3), m.SlowQueries.Count)

	assert.NotNil(t, m.CacheHitRate)
	assert.InDelta(t, 90.0, *m.CacheHitRate.InnoDBRate, 0.01)

	assert.NotNil(t, m.TablespaceUsage)
	assert.Len(t, m.TablespaceUsage.Tablespaces, 1)

	assert.Len(t, m.ProcessList, 1)
	assert.Equal(t, model.ReplStatusNotSlave, m.ReplicationStatus.Status)
}

// TestCollectAllProbesFailStillReturnsRecord degrades every probe at once.
func TestCollectAllProbesFailStillReturnsRecord(t *testing.T) {
	results := map[string]fakeResult{
		mysqlAliveQuery: {cols: []string{"1"}, rows: [][]driver.Value{{int64(1)}}},
	}

	c := newMySQLCollector(registryInstance(model.EngineMySQL, "m1"), store.Config{})
	c.db = sql.OpenDB(&fakeConnector{results: results})
	defer c.Close()

	m := c.Collect(context.Background())
	assert.True(t, m.ConnectionStatus)
	assert.Empty(t, m.CollectionError)
	assert.Nil(t, m.ConnectionStats)
	assert.Nil(t, m.QPS)
	assert.Nil(t, m.SlowQueries)
	assert.Nil(t, m.CacheHitRate)
	assert.Nil(t, m.TablespaceUsage)
	assert.Nil(t, m.ProcessList)
	assert.Nil(t, m.ReplicationStatus)
}
