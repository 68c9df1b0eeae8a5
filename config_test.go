package astra

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajwheeler/astra/status"
	"github.com/bmizerany/assert"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
version: "0.2.6"
max_running_tasks: 4
database:
  driver: mysql
  dsn: astra:secret@tcp(localhost:3306)/astra
  max_open_conns: 8
  conn_max_lifetime: 30m
log:
  level: debug
  format: json
`))
	assert.Equal(t, nil, err)
	assert.Equal(t, "0.2.6", cfg.Version)
	assert.Equal(t, 4, cfg.MaxRunningTasks)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 8, cfg.Database.MaxOpenConns)
	assert.Equal(t, Duration(30*time.Minute), cfg.Database.ConnMaxLifetime)
	assert.Equal(t, false, cfg.Database.CreateTables)
	assert.Equal(t, "json", cfg.Log.Format)

	cfg, err = ParseConfig([]byte("{}"))
	assert.Equal(t, nil, err)
	assert.Equal(t, "", cfg.Database.Driver)
}

func TestParseConfig_Invalid(t *testing.T) {
	cases := []string{
		"database:\n  driver: postgres\n",
		"log:\n  level: loud\n",
		"log:\n  format: xml\n",
		"database:\n  conn_max_lifetime: soon\n",
		"version: [",
	}
	for _, c := range cases {
		_, err := ParseConfig([]byte(c))
		assert.NotEqual(t, nil, err, c)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "astra.yml")
	assert.Equal(t, nil, os.WriteFile(path, []byte("version: \"1.0\"\n"), 0644))
	cfg, err := LoadConfig(path)
	assert.Equal(t, nil, err)
	assert.Equal(t, "1.0", cfg.Version)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.NotEqual(t, nil, err)
	assert.Equal(t, ErrCodeGeneral, ErrorCode(err))
}

func TestSetup_SQLite(t *testing.T) {
	oldLogger, oldVersion, oldStore := logger, version, defaultStore
	defer func() {
		logger, version, defaultStore = oldLogger, oldVersion, oldStore
	}()

	ctx := context.Background()
	cfg := &Config{
		Version:  "9.9.9",
		Database: DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "astra.db"), CreateTables: true},
		Log:      LogConfig{Level: "error"},
	}
	store, err := Setup(ctx, cfg)
	assert.Equal(t, nil, err)
	defer store.DB().Close()
	assert.Equal(t, Store(store), defaultStore)
	assert.Equal(t, "9.9.9", Version())
	assert.Equal(t, 1, store.DB().Stats().MaxOpenConnections)

	id, err := store.StatusID(ctx, string(status.RUNNING))
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(4), id)

	inst, err := NewTaskType("Configured").Build().New(nil)
	assert.Equal(t, nil, err)
	c, err := inst.Bootstrap(ctx)
	assert.Equal(t, nil, err)
	task, err := store.GetTask(ctx, c.Tasks[0].ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, "9.9.9", task.Version)
}

func TestSetup_NoDatabase(t *testing.T) {
	oldLogger := logger
	defer SetLogger(oldLogger)

	store, err := Setup(context.Background(), &Config{Log: LogConfig{Level: "warn"}})
	assert.Equal(t, nil, err)
	assert.Equal(t, (*SQLStore)(nil), store)
	assert.NotEqual(t, oldLogger, logger)
}
