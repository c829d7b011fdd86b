package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dbops/fleetmon/internal/log"
	"github.com/dbops/fleetmon/internal/model"
	"github.com/dbops/fleetmon/internal/registry"
)

// Config describes the sink database receiving ingested snapshots.
type Config struct {
	DBType   model.EngineKind `json:"db_type"`
	Host     string           `json:"host"`
	Port     int              `json:"port"`
	User     string           `json:"user"`
	Password string           `json:"password"`
	Database string           `json:"database"`
	SID      string           `json:"sid,omitempty"`
}

// LoadConfig reads the sink configuration file and applies <ENGINE>_*
// environment overrides. Environment wins over the file, the file wins over
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read sink config: %w", err)
	}
	if err := json.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse sink config: %w", err)
	}

	if _, err := model.ParseEngineKind(string(cfg.DBType)); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = registry.DefaultPort(cfg.DBType)
	}
	if cfg.Database == "" {
		cfg.Database = "monitor"
	}
	if cfg.DBType == model.EngineOracle && cfg.SID == "" {
		cfg.SID = "ORCL"
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	prefix := strings.ToUpper(string(c.DBType))

	if v := os.Getenv(prefix + "_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv(prefix + "_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			log.Warnf("invalid %s_PORT value %q, ignore", prefix, v)
		} else {
			c.Port = p
		}
	}
	if v := os.Getenv(prefix + "_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv(prefix + "_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv(prefix + "_DATABASE"); v != "" {
		c.Database = v
	}
	if v := os.Getenv(prefix + "_SID"); v != "" {
		c.SID = v
	}
}

// Redacted returns a loggable copy with the password masked.
func (c *Config) Redacted() string {
	masked := *c
	if masked.Password != "" {
		masked.Password = "******"
	}
	b, _ := json.Marshal(masked)
	return string(b)
}
