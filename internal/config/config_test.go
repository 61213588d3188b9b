package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	v.Set("database.path", "/tmp/fees.db")

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, ModeLive, cfg.Mode)
	assert.Equal(t, "/tmp/fees.db", cfg.Database)
	assert.Equal(t, 4, cfg.Reconcile.Workers)
	assert.Equal(t, 30*time.Second, cfg.Reconcile.ConnectionTimeout)
	assert.Equal(t, 30, cfg.Reconcile.LookbackDays)
	assert.Equal(t, 60, cfg.Reconcile.CandidateDaysBack)
	assert.Equal(t, 7, cfg.Reconcile.CandidateDaysForward)
	assert.Equal(t, "sandbox", cfg.Plaid.Environment)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoad_SimulatedFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
mode: simulated
timezone: America/Sao_Paulo
database:
  path: ` + filepath.Join(dir, "fees.db") + `
simulated:
  fixtures_path: ` + filepath.Join(dir, "fixtures.json") + `
reconcile:
  workers: 2
  connection_timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, ModeSimulated, cfg.Mode)
	assert.Equal(t, 2, cfg.Reconcile.Workers)
	assert.Equal(t, 5*time.Second, cfg.Reconcile.ConnectionTimeout)
	assert.Equal(t, "America/Sao_Paulo", cfg.Location().String())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		mutate  func(*Config)
		wantErr error
		name    string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "mock" }, wantErr: common.ErrInvalidConfig},
		{name: "empty database", mutate: func(c *Config) { c.Database = " " }, wantErr: common.ErrMissingConfig},
		{name: "bad timezone", mutate: func(c *Config) { c.TimeZone = "Mars/Olympus" }, wantErr: common.ErrInvalidConfig},
		{name: "zero workers", mutate: func(c *Config) { c.Reconcile.Workers = 0 }, wantErr: common.ErrInvalidConfig},
		{name: "zero timeout", mutate: func(c *Config) { c.Reconcile.ConnectionTimeout = 0 }, wantErr: common.ErrInvalidConfig},
		{name: "simulated without fixtures", mutate: func(c *Config) { c.Mode = ModeSimulated }, wantErr: common.ErrMissingConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("FEES_TEST_DIR", "/srv/fees")

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, filepath.Join(home, "data/fees.db"), ExpandPath("~/data/fees.db"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, "/srv/fees/fees.db", ExpandPath("$FEES_TEST_DIR/fees.db"))
}
