package collector

import (
	"github.com/dbops/fleetmon/internal/registry"
	"github.com/dbops/fleetmon/internal/store"
)

// newKingbaseCollector returns the KingbaseES adapter. KingbaseES is derived
// from PostgreSQL and serves the same statistics catalog over the same wire
// protocol, so the Postgres probe set applies as-is; only the DSN (driver
// port, default credentials) differs, which the store layer already handles
// by engine kind.
func newKingbaseCollector(inst registry.Instance, cfg store.Config) *postgresCollector {
	return newPostgresCollector(inst, cfg)
}
