package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbops/fleetmon/internal/model"
)

func TestMssqlCacheHitRate(t *testing.T) {
	c := mssqlCacheHitRate(10000, 200)
	assert.InDelta(t, 98.0, *c.RatePercent, 0.001)
	assert.Equal(t, 10000.0, *c.Hits)
	assert.Equal(t, 200.0, *c.Misses)

	c = mssqlCacheHitRate(0, 0)
	assert.Nil(t, c.RatePercent)
}

func TestMssqlDataFiles(t *testing.T) {
	rows := []map[string]string{
		{"name": "appdb", "total_mb": "1024", "used_mb": "512"},
		{"name": "appdb_log", "total_mb": "256"}, // FILEPROPERTY is NULL for logs
	}

	files := mssqlDataFiles(rows)
	assert.Len(t, files, 2)

	assert.Equal(t, "appdb", files[0].Name)
	assert.Equal(t, 512.0, *files[0].FreeMB)
	assert.InDelta(t, 50.0, *files[0].UsagePercent, 0.001)

	assert.Equal(t, "appdb_log", files[1].Name)
	assert.Nil(t, files[1].UsedMB)
	assert.Nil(t, files[1].UsagePercent)
}

func TestDamengReplicationStatus(t *testing.T) {
	testcases := []struct {
		state string
		want  string
	}{
		{state: "VALID", want: model.ReplStatusRunning},
		{state: "OK", want: model.ReplStatusRunning},
		{state: "INVALID", want: model.ReplStatusError},
		{state: "", want: model.ReplStatusError},
	}
	for _, tc := range testcases {
		rs := damengReplicationStatus("PRIMARY", tc.state)
		assert.Equal(t, tc.want, rs.Status, "state %q", tc.state)
		assert.Equal(t, "PRIMARY", rs.Role)
	}
}
