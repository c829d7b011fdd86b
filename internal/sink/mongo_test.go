package sink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dbops/fleetmon/internal/model"
)

func TestMainDocument(t *testing.T) {
	count := int64(12)
	usage := 85.5
	r := &Record{
		InstanceName:      "m1",
		Timestamp:         time.Date(2026, 8, 24, 14, 30, 0, 0, time.Local),
		MonitorTime:       1787926200.5,
		ConnectionStatus:  true,
		ConnectionCount:   &count,
		TablespaceUsage:   &usage,
		ReplicationStatus: model.ReplStatusRunning,
	}

	doc := mainDocument(r)
	assert.Equal(t, "m1", doc["instance_name"])
	assert.Equal(t, true, doc["connection_status"])
	assert.Equal(t, int64(12), doc["connection_count"])
	assert.Equal(t, 85.5, doc["tablespace_usage"])

	// unreported metrics are absent instead of null
	assert.NotContains(t, doc, "qps")
	assert.NotContains(t, doc, "slow_query_log")

	created, ok := doc["created_at"].(time.Time)
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), created, time.Minute)
}

func TestAlertDocument(t *testing.T) {
	a := &AlertRow{
		InstanceName: "m1",
		Timestamp:    time.Date(2026, 8, 24, 14, 30, 0, 0, time.Local),
		Level:        model.AlertWarning,
		Metric:       "connection_percent",
		Message:      "connection usage high",
		Value:        "95.0",
		Threshold:    "80",
	}

	doc := alertDocument(a)
	assert.Equal(t, model.AlertWarning, doc["level"])
	assert.Equal(t, "95.0", doc["value"])

	created, ok := doc["created_at"].(time.Time)
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), created, time.Minute)
}
