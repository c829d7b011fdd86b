// Package registry loads and validates the instance registry: the set of
// database instances the scheduler polls each tick.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dbops/fleetmon/internal/log"
	"github.com/dbops/fleetmon/internal/model"
)

// ConnConfig holds connection properties of a single instance.
type ConnConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SID      string `json:"sid,omitempty"` // Oracle only
}

// Instance is one monitored database instance. Immutable during a
// scheduler run.
type Instance struct {
	Type    model.EngineKind `json:"type"`
	Name    string           `json:"name"`
	Enabled bool             `json:"enabled"`
	Config  ConnConfig       `json:"config"`
}

// Registry is the scheduler configuration.
type Registry struct {
	ConcurrentExecution bool       `json:"concurrent_execution"`
	Instances           []Instance `json:"database_instances"`
}

// defaultPorts and defaultUsers fill missing connection fields per engine.
var defaultPorts = map[model.EngineKind]int{
	model.EngineMySQL:    3306,
	model.EnginePostgres: 5432,
	model.EngineOracle:   1521,
	model.EngineMSSQL:    1433,
	model.EngineMongoDB:  27017,
	model.EngineDameng:   5236,
	model.EngineKingbase: 54321,
}

// DefaultPort returns the engine's conventional port. Zero for unknown kinds.
func DefaultPort(kind model.EngineKind) int {
	return defaultPorts[kind]
}

var defaultUsers = map[model.EngineKind]string{
	model.EngineMySQL:    "root",
	model.EnginePostgres: "postgres",
	model.EngineOracle:   "system",
	model.EngineMSSQL:    "sa",
	model.EngineMongoDB:  "",
	model.EngineDameng:   "SYSDBA",
	model.EngineKingbase: "system",
}

// envPrefix returns the environment variable prefix for an engine,
// e.g. MYSQL_HOST, ORACLE_SID.
func envPrefix(kind model.EngineKind) string {
	return strings.ToUpper(string(kind))
}

// Load reads the registry from a JSON config file.
func Load(path string) (*Registry, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read registry config: %w", err)
	}

	r := &Registry{ConcurrentExecution: true}
	if err := json.Unmarshal(content, r); err != nil {
		return nil, fmt.Errorf("parse registry config: %w", err)
	}
	return r, nil
}

// Validate checks instances for invalid values and fills defaults. Instances
// with unknown engine kinds are rejected as a whole: a typo in the registry
// should be noticed at startup, not silently skipped every tick.
func (r *Registry) Validate() error {
	seen := map[string]struct{}{}
	for i := range r.Instances {
		inst := &r.Instances[i]
		if inst.Name == "" {
			return fmt.Errorf("instance #%d: name is not specified", i)
		}
		if _, ok := seen[inst.Name]; ok {
			return fmt.Errorf("duplicate instance name: %s", inst.Name)
		}
		seen[inst.Name] = struct{}{}

		if _, err := model.ParseEngineKind(string(inst.Type)); err != nil {
			return fmt.Errorf("instance %s: %w", inst.Name, err)
		}

		applyEnvOverrides(inst)

		if inst.Config.Host == "" {
			inst.Config.Host = "localhost"
		}
		if inst.Config.Port == 0 {
			inst.Config.Port = defaultPorts[inst.Type]
		}
		if inst.Config.User == "" {
			inst.Config.User = defaultUsers[inst.Type]
		}
		if inst.Type == model.EngineOracle && inst.Config.SID == "" && inst.Config.Database == "" {
			inst.Config.SID = "ORCL"
		}
	}
	return nil
}

// Enabled returns the subset of instances participating in a tick.
func (r *Registry) Enabled() []Instance {
	var out []Instance
	for _, inst := range r.Instances {
		if inst.Enabled {
			out = append(out, inst)
		}
	}
	return out
}

// applyEnvOverrides fills empty connection fields from <ENGINE>_* environment
// variables (MYSQL_HOST, POSTGRESQL_PORT, ORACLE_SID, ...).
func applyEnvOverrides(inst *Instance) {
	prefix := envPrefix(inst.Type)

	if v := os.Getenv(prefix + "_HOST"); v != "" && inst.Config.Host == "" {
		inst.Config.Host = v
	}
	if v := os.Getenv(prefix + "_PORT"); v != "" && inst.Config.Port == 0 {
		p, err := strconv.Atoi(v)
		if err != nil {
			log.Warnf("invalid %s_PORT value %q, ignore", prefix, v)
		} else {
			inst.Config.Port = p
		}
	}
	if v := os.Getenv(prefix + "_USER"); v != "" && inst.Config.User == "" {
		inst.Config.User = v
	}
	if v := os.Getenv(prefix + "_PASSWORD"); v != "" && inst.Config.Password == "" {
		inst.Config.Password = v
	}
	if v := os.Getenv(prefix + "_DATABASE"); v != "" && inst.Config.Database == "" {
		inst.Config.Database = v
	}
	if v := os.Getenv(prefix + "_SID"); v != "" && inst.Config.SID == "" {
		inst.Config.SID = v
	}
}

// ExampleJSON is printed when the registry has no instances configured.
const ExampleJSON = `{
  "concurrent_execution": true,
  "database_instances": [
    {
      "type": "mysql",
      "name": "mysql_prod",
      "enabled": true,
      "config": {
        "host": "localhost",
        "port": 3306,
        "user": "root",
        "password": "password",
        "database": "information_schema"
      }
    }
  ]
}`
