package astra

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/ajwheeler/astra/internal/logs"
	"gopkg.in/yaml.v3"
)

// Config process-wide settings, usually read from a YAML file:
//
//	version: "0.2.6"
//	max_running_tasks: 4
//	database:
//	  driver: sqlite
//	  dsn: /data/astra.db
//	  create_tables: true
//	log:
//	  level: debug
//	  format: json
type Config struct {
	Version         string         `yaml:"version"`
	MaxRunningTasks int            `yaml:"max_running_tasks"`
	Database        DatabaseConfig `yaml:"database"`
	Log             LogConfig      `yaml:"log"`
}

// DatabaseConfig connection settings of the store. Driver is mysql or sqlite.
type DatabaseConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	CreateTables    bool     `yaml:"create_tables"`
}

// LogConfig Format is text (default) or json
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a time.Duration that unmarshals from YAML strings such as "30m"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ParseConfig parses YAML bytes into a Config
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, NewError(ErrCodeGeneral, "parse config failed", err)
	}
	if cfg.Database.Driver != "" {
		if _, ok := DialectOf(cfg.Database.Driver); !ok {
			return nil, NewError(ErrCodeGeneral, "unsupported database driver %q", cfg.Database.Driver)
		}
	}
	if _, ok := logs.ParseLevel(cfg.Log.Level); !ok {
		return nil, NewError(ErrCodeGeneral, "unknown log level %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "" && cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return nil, NewError(ErrCodeGeneral, "unknown log format %q", cfg.Log.Format)
	}
	return &cfg, nil
}

// LoadConfig reads and parses a YAML config file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError(ErrCodeGeneral, "read config %v failed", path, err)
	}
	return ParseConfig(data)
}

// Setup applies cfg to the process: logger, version, task pool size and, when a database is
// configured, the default store. The store is returned, nil without a database.
func Setup(ctx context.Context, cfg *Config) (*SQLStore, error) {
	level, _ := logs.ParseLevel(cfg.Log.Level)
	if cfg.Log.Format == "json" {
		l, err := logs.NewJSONLogger(level)
		if err != nil {
			return nil, NewError(ErrCodeGeneral, "create logger failed", err)
		}
		SetLogger(l)
	} else {
		SetLogger(logs.NewLogger(os.Stdout, level))
	}
	if cfg.Version != "" {
		SetVersion(cfg.Version)
	}
	if cfg.MaxRunningTasks > 0 {
		SetMaxRunningTasks(cfg.MaxRunningTasks)
	}
	if cfg.Database.Driver == "" {
		return nil, nil
	}

	dialect, ok := DialectOf(cfg.Database.Driver)
	if !ok {
		return nil, NewError(ErrCodeGeneral, "unsupported database driver %q", cfg.Database.Driver)
	}
	db, err := sql.Open(dialect.Name, cfg.Database.DSN)
	if err != nil {
		return nil, NewError(ErrCodeDbFail, "open %v database failed", dialect.Name, err)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	} else if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime))
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, NewError(ErrCodeDbFail, "connect %v database failed", dialect.Name, err)
	}
	SetDB(db, dialect)
	store := defaultStore.(*SQLStore)
	if cfg.Database.CreateTables {
		if err = store.CreateTables(ctx); err != nil {
			return nil, err
		}
	}
	logger.Info(ctx, "astra configured, driver:%v, version:%v", dialect.Name, Version())
	return store, nil
}
