// Package config provides configuration utilities for the application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/spf13/viper"
)

// Mode selects real provider clients or deterministic fakes.
type Mode string

// Supported modes.
const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)

// DefaultDatabasePath is used when database.path is unset.
const DefaultDatabasePath = "$HOME/.local/share/fees/fees.db"

// Config is the explicit configuration handed to constructors.
type Config struct {
	Plaid     PlaidConfig
	Google    GoogleConfig
	Simulated SimulatedConfig
	Mode      Mode
	Database  string
	TimeZone  string
	Logging   LoggingConfig
	Reconcile ReconcileConfig
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string
	Format string
}

// ReconcileConfig tunes the reconciliation pipeline.
type ReconcileConfig struct {
	Workers              int
	ConnectionTimeout    time.Duration
	LookbackDays         int
	CandidateDaysBack    int
	CandidateDaysForward int
	RequestsPerSecond    float64
}

// PlaidConfig holds live Plaid credentials.
type PlaidConfig struct {
	ClientID    string
	Secret      string
	Environment string
}

// GoogleConfig holds Google Calendar credentials.
type GoogleConfig struct {
	ServiceAccountPath string
	ClientID           string
	ClientSecret       string
	RefreshToken       string
}

// SimulatedConfig points at fixture data used in simulated mode.
type SimulatedConfig struct {
	FixturesPath string
}

// Default returns a Config with the documented defaults.
func Default() Config {
	return Config{
		Mode:     ModeLive,
		Database: DefaultDatabasePath,
		TimeZone: "UTC",
		Logging:  LoggingConfig{Level: "info", Format: "console"},
		Reconcile: ReconcileConfig{
			Workers:              4,
			ConnectionTimeout:    30 * time.Second,
			LookbackDays:         30,
			CandidateDaysBack:    60,
			CandidateDaysForward: 7,
			RequestsPerSecond:    5,
		},
		Plaid: PlaidConfig{Environment: "sandbox"},
	}
}

// SetDefaults registers the defaults on a viper instance.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("mode", string(d.Mode))
	v.SetDefault("database.path", d.Database)
	v.SetDefault("timezone", d.TimeZone)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("reconcile.workers", d.Reconcile.Workers)
	v.SetDefault("reconcile.connection_timeout", d.Reconcile.ConnectionTimeout)
	v.SetDefault("reconcile.lookback_days", d.Reconcile.LookbackDays)
	v.SetDefault("reconcile.candidate_days_back", d.Reconcile.CandidateDaysBack)
	v.SetDefault("reconcile.candidate_days_forward", d.Reconcile.CandidateDaysForward)
	v.SetDefault("reconcile.requests_per_second", d.Reconcile.RequestsPerSecond)
	v.SetDefault("plaid.environment", d.Plaid.Environment)
}

// Load builds a Config from viper and validates it.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	cfg := Config{
		Mode:     Mode(strings.ToLower(v.GetString("mode"))),
		Database: ExpandPath(v.GetString("database.path")),
		TimeZone: v.GetString("timezone"),
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Reconcile: ReconcileConfig{
			Workers:              v.GetInt("reconcile.workers"),
			ConnectionTimeout:    v.GetDuration("reconcile.connection_timeout"),
			LookbackDays:         v.GetInt("reconcile.lookback_days"),
			CandidateDaysBack:    v.GetInt("reconcile.candidate_days_back"),
			CandidateDaysForward: v.GetInt("reconcile.candidate_days_forward"),
			RequestsPerSecond:    v.GetFloat64("reconcile.requests_per_second"),
		},
		Plaid: PlaidConfig{
			ClientID:    v.GetString("plaid.client_id"),
			Secret:      v.GetString("plaid.secret"),
			Environment: v.GetString("plaid.environment"),
		},
		Google: GoogleConfig{
			ServiceAccountPath: ExpandPath(v.GetString("google.service_account_path")),
			ClientID:           v.GetString("google.client_id"),
			ClientSecret:       v.GetString("google.client_secret"),
			RefreshToken:       v.GetString("google.refresh_token"),
		},
		Simulated: SimulatedConfig{
			FixturesPath: ExpandPath(v.GetString("simulated.fixtures_path")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the core cannot run with.
// Provider credentials are checked lazily by the clients that need them.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLive, ModeSimulated:
	default:
		return fmt.Errorf("%w: mode must be live or simulated, got %q", common.ErrInvalidConfig, c.Mode)
	}
	if strings.TrimSpace(c.Database) == "" {
		return fmt.Errorf("%w: database.path", common.ErrMissingConfig)
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", common.ErrInvalidConfig, c.TimeZone, err)
	}
	if c.Reconcile.Workers <= 0 {
		return fmt.Errorf("%w: reconcile.workers must be positive", common.ErrInvalidConfig)
	}
	if c.Reconcile.ConnectionTimeout <= 0 {
		return fmt.Errorf("%w: reconcile.connection_timeout must be positive", common.ErrInvalidConfig)
	}
	if c.Reconcile.LookbackDays <= 0 || c.Reconcile.CandidateDaysBack <= 0 || c.Reconcile.CandidateDaysForward < 0 {
		return fmt.Errorf("%w: reconcile day windows must be positive", common.ErrInvalidConfig)
	}
	if c.Mode == ModeSimulated && c.Simulated.FixturesPath == "" {
		return fmt.Errorf("%w: simulated.fixtures_path is required in simulated mode", common.ErrMissingConfig)
	}
	return nil
}

// Location returns the configured default time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ExpandPath expands ~ and environment variables in a file path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	return os.ExpandEnv(path)
}
