package sink

import (
	"fmt"
	"strings"

	"github.com/dbops/fleetmon/internal/model"
)

// mainColumns is the monitor_main column list shared by every dialect; the
// insert statement and the record binding below must stay in the same order.
// created_at is not bound, the column default stamps the insert time.
var mainColumns = []string{
	"instance_name", "timestamp", "monitor_time",
	"connection_status", "connection_count", "connection_percent",
	"threads_running", "threads_connected", "threads_created", "threads_cached",
	"qps", "total_queries", "uptime",
	"slow_queries", "long_query_time", "slow_query_log",
	"innodb_cache_hit_rate", "query_cache_hit_rate",
	"tablespace_usage", "replication_status",
}

var alertColumns = []string{
	"instance_name", "timestamp", "level", "metric", "message", "value", "threshold",
}

// dialect captures the engine-specific SQL surface: placeholder style, DDL
// and how booleans are bound.
type dialect struct {
	kind model.EngineKind

	// placeholder returns the n-th (1-based) bind marker.
	placeholder func(n int) string

	// boolsAsInts converts bound booleans to 0/1 for engines without a
	// boolean bind type.
	boolsAsInts bool

	// schemaStatements create the two tables and the lookup index. Statements
	// failing with an "already exists" error are tolerated.
	schemaStatements []string
}

func dialectFor(kind model.EngineKind) (*dialect, error) {
	switch kind {
	case model.EngineMySQL:
		return &dialect{kind: kind, placeholder: questionMark, schemaStatements: mysqlSchema}, nil
	case model.EngineDameng:
		return &dialect{kind: kind, placeholder: questionMark, boolsAsInts: true, schemaStatements: damengSchema}, nil
	case model.EnginePostgres, model.EngineKingbase:
		return &dialect{kind: kind, placeholder: dollarN, schemaStatements: postgresSchema}, nil
	case model.EngineOracle:
		return &dialect{kind: kind, placeholder: colonN, boolsAsInts: true, schemaStatements: oracleSchema}, nil
	case model.EngineMSSQL:
		return &dialect{kind: kind, placeholder: atPN, schemaStatements: mssqlSchema}, nil
	}
	return nil, fmt.Errorf("no SQL dialect for engine %s", kind)
}

func questionMark(int) string { return "?" }
func dollarN(n int) string    { return fmt.Sprintf("$%d", n) }
func colonN(n int) string     { return fmt.Sprintf(":%d", n) }
func atPN(n int) string       { return fmt.Sprintf("@p%d", n) }

// insertStatement renders "INSERT INTO table (cols...) VALUES (marks...)"
// with the dialect's placeholders.
func (d *dialect) insertStatement(table string, columns []string) string {
	marks := make([]string, len(columns))
	for i := range columns {
		marks[i] = d.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(marks, ", "))
}

func (d *dialect) boolArg(v bool) interface{} {
	if !d.boolsAsInts {
		return v
	}
	if v {
		return 1
	}
	return 0
}

func (d *dialect) boolPtrArg(v *bool) interface{} {
	if v == nil {
		return nil
	}
	return d.boolArg(*v)
}

// mainArgs binds a record in mainColumns order.
func (d *dialect) mainArgs(r *Record) []interface{} {
	return []interface{}{
		r.InstanceName, r.Timestamp, r.MonitorTime,
		d.boolArg(r.ConnectionStatus), int64Arg(r.ConnectionCount), floatArg(r.ConnectionPercent),
		int64Arg(r.ThreadsRunning), int64Arg(r.ThreadsConnected), int64Arg(r.ThreadsCreated), int64Arg(r.ThreadsCached),
		floatArg(r.QPS), floatArg(r.TotalQueries), floatArg(r.Uptime),
		int64Arg(r.SlowQueries), floatArg(r.LongQueryTime), d.boolPtrArg(r.SlowQueryLog),
		floatArg(r.InnoDBHitRate), floatArg(r.QueryCacheHitRate),
		floatArg(r.TablespaceUsage), r.ReplicationStatus,
	}
}

func (d *dialect) alertArgs(a *AlertRow) []interface{} {
	return []interface{}{
		a.InstanceName, a.Timestamp, a.Level, a.Metric, a.Message, a.Value, a.Threshold,
	}
}

func int64Arg(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func floatArg(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS monitor_main (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	instance_name VARCHAR(255) NOT NULL,
	timestamp DATETIME NOT NULL,
	monitor_time DOUBLE,
	connection_status TINYINT(1),
	connection_count BIGINT,
	connection_percent DOUBLE,
	threads_running BIGINT,
	threads_connected BIGINT,
	threads_created BIGINT,
	threads_cached BIGINT,
	qps DOUBLE,
	total_queries DOUBLE,
	uptime DOUBLE,
	slow_queries BIGINT,
	long_query_time DOUBLE,
	slow_query_log TINYINT(1),
	innodb_cache_hit_rate DOUBLE,
	query_cache_hit_rate DOUBLE,
	tablespace_usage DOUBLE,
	replication_status VARCHAR(64),
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS monitor_alerts (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	instance_name VARCHAR(255) NOT NULL,
	timestamp DATETIME NOT NULL,
	level VARCHAR(16),
	metric VARCHAR(64),
	message TEXT,
	value VARCHAR(255),
	threshold VARCHAR(255),
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE INDEX idx_monitor_main_instance_ts ON monitor_main (instance_name, timestamp)`,
	`CREATE INDEX idx_monitor_alerts_instance_ts ON monitor_alerts (instance_name, timestamp)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS monitor_main (
	id BIGSERIAL PRIMARY KEY,
	instance_name VARCHAR(255) NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	monitor_time DOUBLE PRECISION,
	connection_status BOOLEAN,
	connection_count BIGINT,
	connection_percent DOUBLE PRECISION,
	threads_running BIGINT,
	threads_connected BIGINT,
	threads_created BIGINT,
	threads_cached BIGINT,
	qps DOUBLE PRECISION,
	total_queries DOUBLE PRECISION,
	uptime DOUBLE PRECISION,
	slow_queries BIGINT,
	long_query_time DOUBLE PRECISION,
	slow_query_log BOOLEAN,
	innodb_cache_hit_rate DOUBLE PRECISION,
	query_cache_hit_rate DOUBLE PRECISION,
	tablespace_usage DOUBLE PRECISION,
	replication_status VARCHAR(64),
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS monitor_alerts (
	id BIGSERIAL PRIMARY KEY,
	instance_name VARCHAR(255) NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	level VARCHAR(16),
	metric VARCHAR(64),
	message TEXT,
	value VARCHAR(255),
	threshold VARCHAR(255),
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE INDEX IF NOT EXISTS idx_monitor_main_instance_ts ON monitor_main (instance_name, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_monitor_alerts_instance_ts ON monitor_alerts (instance_name, timestamp)`,
}

var oracleSchema = []string{
	`CREATE TABLE monitor_main (
	id NUMBER GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	instance_name VARCHAR2(255) NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	monitor_time BINARY_DOUBLE,
	connection_status NUMBER(1),
	connection_count NUMBER(19),
	connection_percent BINARY_DOUBLE,
	threads_running NUMBER(19),
	threads_connected NUMBER(19),
	threads_created NUMBER(19),
	threads_cached NUMBER(19),
	qps BINARY_DOUBLE,
	total_queries BINARY_DOUBLE,
	uptime BINARY_DOUBLE,
	slow_queries NUMBER(19),
	long_query_time BINARY_DOUBLE,
	slow_query_log NUMBER(1),
	innodb_cache_hit_rate BINARY_DOUBLE,
	query_cache_hit_rate BINARY_DOUBLE,
	tablespace_usage BINARY_DOUBLE,
	replication_status VARCHAR2(64),
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE monitor_alerts (
	id NUMBER GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	instance_name VARCHAR2(255) NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	level VARCHAR2(16),
	metric VARCHAR2(64),
	message CLOB,
	value VARCHAR2(255),
	threshold VARCHAR2(255),
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE INDEX idx_mon_main_inst_ts ON monitor_main (instance_name, timestamp)`,
	`CREATE INDEX idx_mon_alerts_inst_ts ON monitor_alerts (instance_name, timestamp)`,
}

var mssqlSchema = []string{
	`IF OBJECT_ID('monitor_main', 'U') IS NULL CREATE TABLE monitor_main (
	id BIGINT IDENTITY(1,1) PRIMARY KEY,
	instance_name NVARCHAR(255) NOT NULL,
	timestamp DATETIME2 NOT NULL,
	monitor_time FLOAT,
	connection_status BIT,
	connection_count BIGINT,
	connection_percent FLOAT,
	threads_running BIGINT,
	threads_connected BIGINT,
	threads_created BIGINT,
	threads_cached BIGINT,
	qps FLOAT,
	total_queries FLOAT,
	uptime FLOAT,
	slow_queries BIGINT,
	long_query_time FLOAT,
	slow_query_log BIT,
	innodb_cache_hit_rate FLOAT,
	query_cache_hit_rate FLOAT,
	tablespace_usage FLOAT,
	replication_status NVARCHAR(64),
	created_at DATETIME DEFAULT GETDATE()
)`,
	`IF OBJECT_ID('monitor_alerts', 'U') IS NULL CREATE TABLE monitor_alerts (
	id BIGINT IDENTITY(1,1) PRIMARY KEY,
	instance_name NVARCHAR(255) NOT NULL,
	timestamp DATETIME2 NOT NULL,
	level NVARCHAR(16),
	metric NVARCHAR(64),
	message NVARCHAR(MAX),
	value NVARCHAR(255),
	threshold NVARCHAR(255),
	created_at DATETIME DEFAULT GETDATE()
)`,
	`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = 'idx_monitor_main_instance_ts')
	CREATE INDEX idx_monitor_main_instance_ts ON monitor_main (instance_name, timestamp)`,
	`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = 'idx_monitor_alerts_instance_ts')
	CREATE INDEX idx_monitor_alerts_instance_ts ON monitor_alerts (instance_name, timestamp)`,
}

var damengSchema = []string{
	`CREATE TABLE IF NOT EXISTS monitor_main (
	id BIGINT IDENTITY(1,1) PRIMARY KEY,
	instance_name VARCHAR(255) NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	monitor_time DOUBLE,
	connection_status TINYINT,
	connection_count BIGINT,
	connection_percent DOUBLE,
	threads_running BIGINT,
	threads_connected BIGINT,
	threads_created BIGINT,
	threads_cached BIGINT,
	qps DOUBLE,
	total_queries DOUBLE,
	uptime DOUBLE,
	slow_queries BIGINT,
	long_query_time DOUBLE,
	slow_query_log TINYINT,
	innodb_cache_hit_rate DOUBLE,
	query_cache_hit_rate DOUBLE,
	tablespace_usage DOUBLE,
	replication_status VARCHAR(64),
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS monitor_alerts (
	id BIGINT IDENTITY(1,1) PRIMARY KEY,
	instance_name VARCHAR(255) NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	level VARCHAR(16),
	metric VARCHAR(64),
	message TEXT,
	value VARCHAR(255),
	threshold VARCHAR(255),
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE INDEX idx_monitor_main_instance_ts ON monitor_main (instance_name, timestamp)`,
	`CREATE INDEX idx_monitor_alerts_instance_ts ON monitor_alerts (instance_name, timestamp)`,
}

// alreadyExists recognizes the per-engine "object already exists" errors that
// EnsureSchema tolerates on repeated startups.
func alreadyExists(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already exists"),
		strings.Contains(msg, "ora-00955"), // name is already used by an existing object
		strings.Contains(msg, "duplicate key name"), // mysql 1061
		strings.Contains(msg, "there is already an object"):
		return true
	}
	return false
}
