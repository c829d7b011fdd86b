package collector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbops/fleetmon/internal/model"
	"github.com/dbops/fleetmon/internal/registry"
)

func registryInstance(kind model.EngineKind, name string) registry.Instance {
	return registry.Instance{
		Type:    kind,
		Name:    name,
		Enabled: true,
		Config:  registry.ConnConfig{Host: "localhost", Port: 5432, User: "u", Password: "p", Database: "db"},
	}
}

func TestNewDispatch(t *testing.T) {
	testcases := []struct {
		kind model.EngineKind
		want interface{}
	}{
		{kind: model.EngineMySQL, want: &mysqlCollector{}},
		{kind: model.EnginePostgres, want: &postgresCollector{}},
		{kind: model.EngineKingbase, want: &postgresCollector{}},
		{kind: model.EngineOracle, want: &oracleCollector{}},
		{kind: model.EngineMSSQL, want: &mssqlCollector{}},
		{kind: model.EngineDameng, want: &damengCollector{}},
		{kind: model.EngineMongoDB, want: &mongoCollector{}},
	}

	for _, tc := range testcases {
		c, err := New(registryInstance(tc.kind, "test"), Config{})
		assert.NoError(t, err)
		assert.IsType(t, tc.want, c)
	}

	_, err := New(registry.Instance{Type: "sqlite", Name: "bad"}, Config{})
	assert.Error(t, err)
}

func TestCollectWithoutOpen(t *testing.T) {
	// Collect on an unopened adapter must degrade, not panic.
	for _, kind := range []model.EngineKind{model.EngineMySQL, model.EnginePostgres, model.EngineOracle, model.EngineMSSQL, model.EngineDameng, model.EngineMongoDB} {
		c, err := New(registryInstance(kind, "closed"), Config{})
		assert.NoError(t, err)

		m := c.Collect(context.Background())
		assert.NotNil(t, m, "engine %s", kind)
		assert.False(t, m.ConnectionStatus)
		assert.NotEmpty(t, m.CollectionError)
		assert.NoError(t, c.Close())
	}
}
