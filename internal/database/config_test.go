package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridforge/griddb/internal/errs"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
host: db.example.org
port: 3307
user: grid
password: secret
database: jobs
pool:
  max_spares: 4
  grace_time: 5m
  max_retries: 2
  backoff: 1s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "db.example.org", cfg.Host)
	assert.Equal(t, 3307, cfg.Port)
	assert.Equal(t, "jobs", cfg.Database)
	assert.Equal(t, 4, cfg.Pool.MaxSpares)
	assert.Equal(t, 5*time.Minute, cfg.Pool.GraceTime)
	assert.Equal(t, 2, cfg.Pool.MaxRetries)
	assert.Equal(t, time.Second, cfg.Pool.Backoff)
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfigFile(t, "host: localhost\nuser: grid\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3306, cfg.Port)
	assert.Equal(t, 10, cfg.Pool.MaxSpares)
	assert.Equal(t, 600*time.Second, cfg.Pool.GraceTime)
	assert.Equal(t, 10, cfg.Pool.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Pool.Backoff)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "absent.yaml")
		}},
		{"malformed yaml", func(t *testing.T) string {
			return writeConfigFile(t, "host: [unterminated")
		}},
		{"missing host", func(t *testing.T) string {
			return writeConfigFile(t, "user: grid\n")
		}},
		{"missing user", func(t *testing.T) string {
			return writeConfigFile(t, "host: localhost\n")
		}},
		{"invalid duration", func(t *testing.T) string {
			return writeConfigFile(t, "host: localhost\nuser: grid\npool:\n  backoff: soon\n")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(tt.path(t))
			require.Error(t, err)
			assert.True(t, errs.IsConfiguration(err))
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("localhost", "grid", "secret", "jobs")
	assert.Equal(t, 3306, cfg.Port)
	assert.Equal(t, 10, cfg.Pool.MaxSpares)
	assert.Equal(t, "jobs", cfg.Database)
}
