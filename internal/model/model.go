// Package model defines the canonical records shared between the collectors,
// the threshold engine, the snapshot writer and the ingestion pipeline.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EngineKind identifies a supported database engine.
type EngineKind string

// Supported database engines.
const (
	EngineMySQL    EngineKind = "mysql"
	EnginePostgres EngineKind = "postgresql"
	EngineOracle   EngineKind = "oracle"
	EngineMSSQL    EngineKind = "mssql"
	EngineMongoDB  EngineKind = "mongodb"
	EngineDameng   EngineKind = "dm"
	EngineKingbase EngineKind = "kb"
)

// ParseEngineKind converts a string from configuration into an EngineKind.
func ParseEngineKind(s string) (EngineKind, error) {
	switch k := EngineKind(s); k {
	case EngineMySQL, EnginePostgres, EngineOracle, EngineMSSQL, EngineMongoDB, EngineDameng, EngineKingbase:
		return k, nil
	}
	return "", fmt.Errorf("unsupported database type: %s", s)
}

// Replication status classification. Every engine maps its native replication
// state into this closed set.
const (
	ReplStatusRunning       = "Running"
	ReplStatusError         = "Error"
	ReplStatusNotConfigured = "Not configured"
	ReplStatusNoReplicas    = "No replicas"
	ReplStatusSingle        = "Single instance"
	ReplStatusNotSlave      = "Not a slave"
	ReplStatusNotReplicaSet = "Not a replica set"
	ReplStatusNoStandbys    = "No standbys"
)

// Alert severity levels.
const (
	AlertWarning  = "WARNING"
	AlertCritical = "CRITICAL"
)

// ConnectionStats describes session/connection usage of an instance.
// Thread counters are MySQL-only, active/available counters depend on engine.
type ConnectionStats struct {
	MaxConnections       int64    `json:"max_connections"`
	CurrentConnections   int64    `json:"current_connections"`
	ConnectionPercent    float64  `json:"connection_percent"`
	ActiveConnections    *int64   `json:"active_connections,omitempty"`
	AvailableConnections *int64   `json:"available_connections,omitempty"`
	ThreadsRunning       *int64   `json:"threads_running,omitempty"`
	ThreadsConnected     *int64   `json:"threads_connected,omitempty"`
	ThreadsCreated       *int64   `json:"threads_created,omitempty"`
	ThreadsCached        *int64   `json:"threads_cached,omitempty"`
}

// QPS is the cumulative query counter divided by the instance uptime.
type QPS struct {
	TotalQueries  float64 `json:"total_queries"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	QPS           float64 `json:"qps"`
}

// SlowQueries describes the slow query counter and the configured threshold.
type SlowQueries struct {
	Count            int64    `json:"count"`
	ThresholdSeconds *float64 `json:"threshold_seconds,omitempty"`
	LogEnabled       *bool    `json:"log_enabled,omitempty"`
}

// CacheHitRate carries the unified hit rate plus the raw engine counters it
// was derived from.
type CacheHitRate struct {
	RatePercent       *float64 `json:"rate_percent"`
	Hits              *float64 `json:"hits,omitempty"`
	Misses            *float64 `json:"misses,omitempty"`
	LogicalReads      *float64 `json:"logical_reads,omitempty"`
	PhysicalReads     *float64 `json:"physical_reads,omitempty"`
	InnoDBRate        *float64 `json:"innodb_cache_hit_rate,omitempty"`
	QueryCacheRate    *float64 `json:"query_cache_hit_rate,omitempty"`
}

// Tablespace is one tablespace/schema/database file usage entry.
type Tablespace struct {
	Name         string   `json:"name"`
	TotalMB      *float64 `json:"total_mb"`
	UsedMB       *float64 `json:"used_mb"`
	FreeMB       *float64 `json:"free_mb"`
	UsagePercent *float64 `json:"usage_percent"`
}

// StorageUsage is the MongoDB dbStats-derived storage document. Unlike the
// relational engines, MongoDB reports a single record per database.
type StorageUsage struct {
	Database      string   `json:"database"`
	TotalSizeMB   float64  `json:"total_size_mb"`
	StorageSizeMB float64  `json:"storage_size_mb"`
	IndexSizeMB   float64  `json:"index_size_mb"`
	Collections   int64    `json:"collections"`
	UsagePercent  *float64 `json:"usage_percent,omitempty"`
}

// TablespaceUsage holds either a list of tablespaces (relational engines) or
// a single storage document (MongoDB). On the wire it is serialized as a JSON
// array or object accordingly, matching the snapshot schema.
type TablespaceUsage struct {
	Tablespaces []Tablespace
	Storage     *StorageUsage
}

// MarshalJSON serializes the engine-appropriate shape.
func (t TablespaceUsage) MarshalJSON() ([]byte, error) {
	if t.Storage != nil {
		return json.Marshal(t.Storage)
	}
	return json.Marshal(t.Tablespaces)
}

// UnmarshalJSON accepts both the list and the document form.
func (t *TablespaceUsage) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &t.Tablespaces)
	}
	t.Storage = &StorageUsage{}
	return json.Unmarshal(trimmed, t.Storage)
}

// Process describes one session from the engine's process/session list.
type Process struct {
	ID        string `json:"id"`
	User      string `json:"user,omitempty"`
	Host      string `json:"host,omitempty"`
	Database  string `json:"db,omitempty"`
	State     string `json:"state,omitempty"`
	Query     string `json:"query,omitempty"`
	LoginTime string `json:"login_time,omitempty"`
}

// Replica describes one downstream replication client.
type Replica struct {
	Name      string   `json:"name"`
	State     string   `json:"state,omitempty"`
	SyncState string   `json:"sync_state,omitempty"`
	LagBytes  *float64 `json:"lag_bytes,omitempty"`
}

// ReplicationStatus is the normalized replication state of an instance.
// Status always belongs to the closed set of ReplStatus* values; the rest of
// the fields are engine-specific detail kept for the snapshot.
type ReplicationStatus struct {
	Status        string    `json:"status"`
	Role          string    `json:"role,omitempty"`
	SecondsBehind *float64  `json:"seconds_behind_master,omitempty"`
	MasterHost    string    `json:"master_host,omitempty"`
	MasterPort    int64     `json:"master_port,omitempty"`
	IORunning     string    `json:"slave_io_running,omitempty"`
	SQLRunning    string    `json:"slave_sql_running,omitempty"`
	StandbyCount  *int64    `json:"standby_count,omitempty"`
	RecoveryMode  string    `json:"recovery_mode,omitempty"`
	ReplicaSet    string    `json:"replica_set,omitempty"`
	Primary       string    `json:"primary,omitempty"`
	Secondaries   []string  `json:"secondaries,omitempty"`
	MemberCount   *int64    `json:"member_count,omitempty"`
	Replicas      []Replica `json:"replicas,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Metrics is the canonical per-instance collection record. All sub-records
// are optional: a failed sub-probe leaves its field nil, a failed connection
// leaves everything nil and sets CollectionError.
type Metrics struct {
	ConnectionStatus  bool               `json:"connection_status"`
	ConnectionStats   *ConnectionStats   `json:"connection_stats"`
	QPS               *QPS               `json:"qps"`
	SlowQueries       *SlowQueries       `json:"slow_queries"`
	CacheHitRate      *CacheHitRate      `json:"cache_hit_rate"`
	TablespaceUsage   *TablespaceUsage   `json:"tablespace_usage"`
	ProcessList       []Process          `json:"process_list"`
	ReplicationStatus *ReplicationStatus `json:"replication_status"`
	CollectionError   string             `json:"collection_error,omitempty"`
}

// FailedMetrics returns the record emitted when the instance could not be
// reached at all.
func FailedMetrics(err error) *Metrics {
	return &Metrics{ConnectionStatus: false, CollectionError: err.Error()}
}

// Thresholds is the rule table snapshot recorded next to the metrics, so a
// historical snapshot is interpretable without the config that produced it.
type Thresholds struct {
	MaxConnections    float64 `json:"max_connections_threshold"`
	MaxQPS            float64 `json:"max_qps_threshold"`
	SlowQuery         float64 `json:"slow_query_threshold"`
	CacheHitRate      float64 `json:"cache_hit_rate_threshold"`
	TablespaceUsage   float64 `json:"tablespace_usage_threshold"`
	ReplicationLagSec float64 `json:"replication_lag_threshold"`
}

// Alert is one threshold violation. Value and Threshold keep their native
// types in the snapshot and are stringified by the sink writer.
type Alert struct {
	InstanceName string                 `json:"instance_name,omitempty"`
	Timestamp    string                 `json:"timestamp,omitempty"`
	Level        string                 `json:"level"`
	Metric       string                 `json:"metric"`
	Message      string                 `json:"message"`
	Value        interface{}            `json:"value"`
	Threshold    interface{}            `json:"threshold"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

// Snapshot is the unit written to the date-partitioned monitoring tree and
// consumed by the ingestion pipeline.
type Snapshot struct {
	Timestamp    string     `json:"timestamp"`    // wall clock, 2006-01-02 15:04:05
	MonitorTime  float64    `json:"monitor_time"` // seconds since epoch
	InstanceName string     `json:"instance_name"`
	Stats        *Metrics   `json:"stats"`
	Alerts       []Alert    `json:"alerts"`
	Thresholds   Thresholds `json:"thresholds"`
}

// TimestampLayout is the wall-clock format used in snapshots and sink rows.
const TimestampLayout = "2006-01-02 15:04:05"
