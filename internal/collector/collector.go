// Package collector implements the uniform metric contract and its seven
// engine-specific adapters. Every adapter runs the same ordered set of
// sub-probes (connection stats, qps, slow queries, cache hit rate,
// tablespace usage, process list, replication status); a failing sub-probe
// leaves its Metrics field nil and never aborts the siblings.
package collector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dbops/fleetmon/internal/log"
	"github.com/dbops/fleetmon/internal/model"
	"github.com/dbops/fleetmon/internal/registry"
	"github.com/dbops/fleetmon/internal/store"
)

// Collector is the uniform collection contract implemented per engine.
type Collector interface {
	// Open establishes the connection. Collect is only meaningful after a
	// successful Open.
	Open(ctx context.Context) error
	// Ping reports whether the instance answers a minimal round-trip.
	Ping(ctx context.Context) bool
	// Collect runs all sub-probes and returns the normalized record. It
	// never returns nil.
	Collect(ctx context.Context) *model.Metrics
	// Close releases the connection.
	Close() error
}

// Config carries adapter tuning shared by all engines.
type Config struct {
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
}

// New returns the adapter for the instance's engine kind.
func New(inst registry.Instance, cfg Config) (Collector, error) {
	sc := storeConfig(inst, cfg)
	switch inst.Type {
	case model.EngineMySQL:
		return newMySQLCollector(inst, sc), nil
	case model.EnginePostgres:
		return newPostgresCollector(inst, sc), nil
	case model.EngineKingbase:
		return newKingbaseCollector(inst, sc), nil
	case model.EngineOracle:
		return newOracleCollector(inst, sc), nil
	case model.EngineMSSQL:
		return newMSSQLCollector(inst, sc), nil
	case model.EngineDameng:
		return newDamengCollector(inst, sc), nil
	case model.EngineMongoDB:
		return newMongoCollector(inst, sc), nil
	}
	return nil, fmt.Errorf("no collector for engine %s", inst.Type)
}

func storeConfig(inst registry.Instance, cfg Config) store.Config {
	return store.Config{
		Kind:           inst.Type,
		Host:           inst.Config.Host,
		Port:           inst.Config.Port,
		User:           inst.Config.User,
		Password:       inst.Config.Password,
		Database:       inst.Config.Database,
		SID:            inst.Config.SID,
		ConnectTimeout: cfg.ConnectTimeout,
		QueryTimeout:   cfg.QueryTimeout,
	}
}

// sqlCollector holds the state shared by all database/sql based adapters.
// Sub-probes run sequentially on a single connection, drivers are not
// assumed safe for concurrent use.
type sqlCollector struct {
	name string
	cfg  store.Config
	db   *sql.DB
}

func (c *sqlCollector) Open(ctx context.Context) error {
	db, err := store.Open(ctx, c.cfg)
	if err != nil {
		return err
	}
	c.db = db
	return nil
}

func (c *sqlCollector) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// probe runs one collection step and converts its failure into a log line,
// leaving the corresponding Metrics field untouched (nil).
func (c *sqlCollector) probe(name string, fn func() error) {
	if err := fn(); err != nil {
		log.Warnf("%s: %s probe failed: %s; field skipped", c.name, name, err)
	}
}

// queryCtx derives the per-query timeout context.
func (c *sqlCollector) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.cfg.QueryTimeout
	if timeout == 0 {
		timeout = store.DefaultQueryTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// checkAlive runs the engine's minimal round-trip query.
func (c *sqlCollector) checkAlive(ctx context.Context, query string) bool {
	if c.db == nil {
		return false
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	var one int
	return c.db.QueryRowContext(qctx, query).Scan(&one) == nil
}

func (c *sqlCollector) scalarInt(ctx context.Context, query string, args ...interface{}) (int64, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	var v sql.NullInt64
	if err := c.db.QueryRowContext(qctx, query, args...).Scan(&v); err != nil {
		return 0, err
	}
	return v.Int64, nil
}

func (c *sqlCollector) scalarFloat(ctx context.Context, query string, args ...interface{}) (float64, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	var v sql.NullFloat64
	if err := c.db.QueryRowContext(qctx, query, args...).Scan(&v); err != nil {
		return 0, err
	}
	return v.Float64, nil
}

func (c *sqlCollector) scalarString(ctx context.Context, query string, args ...interface{}) (string, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	var v sql.NullString
	if err := c.db.QueryRowContext(qctx, query, args...).Scan(&v); err != nil {
		return "", err
	}
	return v.String, nil
}

// keyValues runs a two-column query (SHOW ... LIKE style) and returns the
// result as a map.
func (c *sqlCollector) keyValues(ctx context.Context, query string) (map[string]string, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	rows, err := c.db.QueryContext(qctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	kv := map[string]string{}
	for rows.Next() {
		var k, v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		kv[k.String] = v.String
	}
	return kv, rows.Err()
}

// rowMaps runs a query and returns every row as a column-name keyed map.
// Used for wide result sets with version-dependent columns, e.g.
// SHOW SLAVE STATUS.
func (c *sqlCollector) rowMaps(ctx context.Context, query string, args ...interface{}) ([]map[string]string, error) {
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	rows, err := c.db.QueryContext(qctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]string
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		pointers := make([]interface{}, len(cols))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			log.Warnf("%s: skip row: %s", c.name, err)
			continue
		}
		row := make(map[string]string, len(cols))
		for i, col := range cols {
			if values[i].Valid {
				row[col] = values[i].String
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
