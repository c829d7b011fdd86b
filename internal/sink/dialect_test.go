package sink

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dbops/fleetmon/internal/model"
)

func TestDialectPlaceholders(t *testing.T) {
	testcases := []struct {
		kind model.EngineKind
		want string
	}{
		{kind: model.EngineMySQL, want: "INSERT INTO t (a, b, c) VALUES (?, ?, ?)"},
		{kind: model.EngineDameng, want: "INSERT INTO t (a, b, c) VALUES (?, ?, ?)"},
		{kind: model.EnginePostgres, want: "INSERT INTO t (a, b, c) VALUES ($1, $2, $3)"},
		{kind: model.EngineKingbase, want: "INSERT INTO t (a, b, c) VALUES ($1, $2, $3)"},
		{kind: model.EngineOracle, want: "INSERT INTO t (a, b, c) VALUES (:1, :2, :3)"},
		{kind: model.EngineMSSQL, want: "INSERT INTO t (a, b, c) VALUES (@p1, @p2, @p3)"},
	}

	for _, tc := range testcases {
		d, err := dialectFor(tc.kind)
		assert.NoError(t, err)
		assert.Equal(t, tc.want, d.insertStatement("t", []string{"a", "b", "c"}), "engine %s", tc.kind)
	}

	_, err := dialectFor(model.EngineMongoDB)
	assert.Error(t, err)
}

func TestDialectBooleanBinding(t *testing.T) {
	oracle, _ := dialectFor(model.EngineOracle)
	assert.Equal(t, 1, oracle.boolArg(true))
	assert.Equal(t, 0, oracle.boolArg(false))

	dm, _ := dialectFor(model.EngineDameng)
	assert.Equal(t, 1, dm.boolArg(true))

	pg, _ := dialectFor(model.EnginePostgres)
	assert.Equal(t, true, pg.boolArg(true))

	v := true
	assert.Equal(t, 1, oracle.boolPtrArg(&v))
	assert.Nil(t, oracle.boolPtrArg(nil))
}

func TestDialectMainArgsOrder(t *testing.T) {
	count := int64(42)
	percent := 21.0
	logOn := true
	r := &Record{
		InstanceName:      "m1",
		Timestamp:         time.Date(2026, 8, 24, 14, 30, 0, 0, time.Local),
		MonitorTime:       1787926200.5,
		ConnectionStatus:  true,
		ConnectionCount:   &count,
		ConnectionPercent: &percent,
		SlowQueryLog:      &logOn,
		ReplicationStatus: model.ReplStatusRunning,
	}

	d, _ := dialectFor(model.EngineMySQL)
	args := d.mainArgs(r)
	assert.Len(t, args, len(mainColumns))
	assert.Equal(t, "m1", args[0])
	assert.Equal(t, r.Timestamp, args[1])
	assert.Equal(t, true, args[3])
	assert.Equal(t, int64(42), args[4])
	assert.Equal(t, 21.0, args[5])
	assert.Nil(t, args[6]) // threads_running not reported
	assert.Equal(t, true, args[15])
	assert.Equal(t, model.ReplStatusRunning, args[len(args)-1])

	oracle, _ := dialectFor(model.EngineOracle)
	oraArgs := oracle.mainArgs(r)
	assert.Equal(t, 1, oraArgs[3])
	assert.Equal(t, 1, oraArgs[15])
}

func TestDialectAlertArgs(t *testing.T) {
	d, _ := dialectFor(model.EnginePostgres)
	a := &AlertRow{
		InstanceName: "m1",
		Timestamp:    time.Date(2026, 8, 24, 14, 30, 0, 0, time.Local),
		Level:        model.AlertCritical,
		Metric:       "replication_status",
		Message:      "replication broken",
		Value:        "Error",
		Threshold:    "Running",
	}
	args := d.alertArgs(a)
	assert.Len(t, args, len(alertColumns))
	assert.Equal(t, model.AlertCritical, args[2])
	assert.Equal(t, "Running", args[6])
}

func TestSchemaStatementsPerDialect(t *testing.T) {
	for _, kind := range []model.EngineKind{
		model.EngineMySQL, model.EnginePostgres, model.EngineKingbase,
		model.EngineOracle, model.EngineMSSQL, model.EngineDameng,
	} {
		d, err := dialectFor(kind)
		assert.NoError(t, err)
		assert.Len(t, d.schemaStatements, 4, "engine %s: two tables, two indexes", kind)
		assert.Contains(t, d.schemaStatements[0], "monitor_main")
		assert.Contains(t, d.schemaStatements[1], "monitor_alerts")

		// created_at is stamped by the database, both tables carry it with
		// a default
		assert.Contains(t, d.schemaStatements[0], "created_at", "engine %s", kind)
		assert.Contains(t, d.schemaStatements[1], "created_at", "engine %s", kind)
		assert.NotContains(t, mainColumns, "created_at", "inserts rely on the column default")
	}
}

func TestAlreadyExists(t *testing.T) {
	assert.False(t, alreadyExists(nil))
	assert.True(t, alreadyExists(errors.New(`relation "monitor_main" already exists`)))
	assert.True(t, alreadyExists(errors.New("ORA-00955: name is already used by an existing object")))
	assert.True(t, alreadyExists(errors.New("Error 1061: Duplicate key name 'idx_monitor_main_instance_ts'")))
	assert.True(t, alreadyExists(errors.New("There is already an object named 'monitor_main' in the database.")))
	assert.False(t, alreadyExists(errors.New("syntax error")))
}
