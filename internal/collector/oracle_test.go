package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbops/fleetmon/internal/model"
)

func TestOracleCacheHitRate(t *testing.T) {
	c := oracleCacheHitRate(map[string]string{
		"physical reads":  "100",
		"db block gets":   "400",
		"consistent gets": "600",
	})
	assert.Equal(t, 1000.0, *c.LogicalReads)
	assert.Equal(t, 100.0, *c.PhysicalReads)
	assert.InDelta(t, 90.0, *c.RatePercent, 0.001)

	// no logical reads yet
	c = oracleCacheHitRate(map[string]string{})
	assert.Nil(t, c.RatePercent)
}

func TestOraclePrimaryStatus(t *testing.T) {
	rs := oraclePrimaryStatus("PRIMARY", 2)
	assert.Equal(t, model.ReplStatusRunning, rs.Status)
	assert.Equal(t, int64(2), *rs.StandbyCount)

	rs = oraclePrimaryStatus("PRIMARY", 0)
	assert.Equal(t, model.ReplStatusNoStandbys, rs.Status)
	assert.Nil(t, rs.StandbyCount)
}

func TestOracleStandbyStatus(t *testing.T) {
	testcases := []struct {
		mode string
		want string
	}{
		{mode: "MANAGED", want: model.ReplStatusRunning},
		{mode: "MANAGED REAL TIME APPLY", want: model.ReplStatusRunning},
		{mode: "IDLE", want: model.ReplStatusError},
		{mode: "", want: model.ReplStatusError},
	}
	for _, tc := range testcases {
		rs := oracleStandbyStatus("PHYSICAL STANDBY", tc.mode)
		assert.Equal(t, tc.want, rs.Status, "mode %q", tc.mode)
		assert.Equal(t, "PHYSICAL STANDBY", rs.Role)
	}
}

func TestTablespacesFromRows(t *testing.T) {
	rows := []map[string]string{
		{"TABLESPACE_NAME": "USERS", "TOTAL_MB": "500", "USED_MB": "400", "FREE_MB": "100", "USAGE_PERCENT": "80"},
		{"tablespace_name": "system", "total_mb": "300", "used_mb": "150", "free_mb": "150", "usage_percent": "50"},
	}

	spaces := tablespacesFromRows(rows, "tablespace_name")
	assert.Len(t, spaces, 2)

	// uppercase driver columns resolve through the fallback
	assert.Equal(t, "USERS", spaces[0].Name)
	assert.Equal(t, 500.0, *spaces[0].TotalMB)
	assert.Equal(t, 80.0, *spaces[0].UsagePercent)

	assert.Equal(t, "system", spaces[1].Name)
	assert.Equal(t, 50.0, *spaces[1].UsagePercent)
}

func TestParseFloatPtr(t *testing.T) {
	assert.Nil(t, parseFloatPtr(""))
	assert.Nil(t, parseFloatPtr("n/a"))
	assert.Equal(t, 12.5, *parseFloatPtr("12.5"))
}
