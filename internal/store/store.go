// Package store owns database connectivity: driver selection by engine kind,
// DSN construction, connect/query timeouts and pool limits. Both the
// collectors and the sink writer open their connections through it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	// Drivers are registered for database/sql by side effect.
	_ "gitee.com/chunanyong/dm"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v4"
	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	go_ora "github.com/sijms/go-ora/v2"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/dbops/fleetmon/internal/model"
)

// Default driver operation timeouts.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultQueryTimeout   = 30 * time.Second
)

// Config describes a single database endpoint.
type Config struct {
	Kind           model.EngineKind
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SID            string // Oracle only
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
}

// withDefaults fills zero timeouts.
func (c Config) withDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	return c
}

// DSN returns the database/sql driver name and connection string for the
// configured engine. MongoDB is not served here, it uses its native client.
func (c Config) DSN() (string, string, error) {
	c = c.withDefaults()
	switch c.Kind {
	case model.EngineMySQL:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&timeout=%s&readTimeout=%s",
			c.User, c.Password, c.Host, c.Port, c.Database, c.ConnectTimeout, c.QueryTimeout)
		return "mysql", dsn, nil
	case model.EnginePostgres, model.EngineKingbase:
		// KingbaseES speaks the Postgres wire protocol, the pgx driver
		// serves both.
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?connect_timeout=%d",
			url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port, c.Database,
			int(c.ConnectTimeout.Seconds()))
		if _, err := pgx.ParseConfig(dsn); err != nil {
			return "", "", fmt.Errorf("invalid %s connection settings: %w", c.Kind, err)
		}
		return "pgx", dsn, nil
	case model.EngineOracle:
		opts := map[string]string{}
		service := c.Database
		if c.SID != "" {
			opts["SID"] = c.SID
			service = ""
		}
		return "oracle", go_ora.BuildUrl(c.Host, c.Port, service, c.User, c.Password, opts), nil
	case model.EngineMSSQL:
		dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&dial+timeout=%d",
			url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port,
			url.QueryEscape(c.Database), int(c.ConnectTimeout.Seconds()))
		return "sqlserver", dsn, nil
	case model.EngineDameng:
		dsn := fmt.Sprintf("dm://%s:%s@%s:%d", url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port)
		return "dm", dsn, nil
	}
	return "", "", fmt.Errorf("no SQL driver for engine %s", c.Kind)
}

// MongoURI returns the connection URI for a MongoDB endpoint.
func (c Config) MongoURI() string {
	if c.User != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
			url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port)
	}
	return fmt.Sprintf("mongodb://%s:%d/", c.Host, c.Port)
}

// Open opens a database/sql handle for a relational engine and verifies it
// with a ping bounded by the connect timeout. A single connection is kept:
// collectors run their sub-probes sequentially and must observe consistent
// session state.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	cfg = cfg.withDefaults()
	driver, dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", cfg.Kind, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to %s at %s:%d: %w", cfg.Kind, cfg.Host, cfg.Port, err)
	}
	return db, nil
}

// OpenMongo connects a MongoDB client and verifies it with a ping.
func OpenMongo(ctx context.Context, cfg Config) (*mongo.Client, error) {
	cfg = cfg.withDefaults()
	opts := options.Client().
		ApplyURI(cfg.MongoURI()).
		SetServerSelectionTimeout(cfg.ConnectTimeout).
		SetConnectTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("open mongodb connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("connect to mongodb at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return client, nil
}
