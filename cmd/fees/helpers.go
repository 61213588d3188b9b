package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/bank"
	"github.com/Veraticus/the-fees-must-flow/internal/calendar"
	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/config"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/Veraticus/the-fees-must-flow/internal/ofx"
	"github.com/Veraticus/the-fees-must-flow/internal/plaid"
	"github.com/Veraticus/the-fees-must-flow/internal/reconcile"
	"github.com/Veraticus/the-fees-must-flow/internal/service"
	"github.com/Veraticus/the-fees-must-flow/internal/simplefin"
	"github.com/Veraticus/the-fees-must-flow/internal/storage"
	"github.com/spf13/viper"
)

// loadConfig builds the validated configuration from viper.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, common.NewUserError("Invalid configuration", err)
	}
	return cfg, nil
}

// initStorage opens the database and brings its schema up to date.
func initStorage(ctx context.Context, cfg config.Config) (service.Storage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// newBankRouter registers a source per provider available in the configured mode.
func newBankRouter(cfg config.Config) (*bank.Router, error) {
	router := bank.NewRouter()
	router.Register(model.ProviderOFX, ofx.NewSource())

	switch cfg.Mode {
	case config.ModeSimulated:
		src, err := bank.NewSimulatedSource(cfg.Simulated.FixturesPath)
		if err != nil {
			return nil, err
		}
		router.Register(model.ProviderSimulated, src)
	case config.ModeLive:
		router.Register(model.ProviderSimpleFIN, simplefin.NewClient(nil))
		client, err := newPlaidClient(cfg)
		if err != nil {
			// Plaid connections will fail individually; file sources still work.
			slog.Warn("plaid is not configured", "error", err)
			break
		}
		router.Register(model.ProviderPlaid, client)
	}
	return router, nil
}

func newPlaidClient(cfg config.Config) (*plaid.Client, error) {
	return plaid.NewClient(plaid.Config{
		ClientID:    cfg.Plaid.ClientID,
		Secret:      cfg.Plaid.Secret,
		Environment: cfg.Plaid.Environment,
	})
}

// newCalendar returns the calendar source for the configured mode.
func newCalendar(ctx context.Context, cfg config.Config) (calendar.Source, error) {
	if cfg.Mode == config.ModeSimulated {
		return calendar.NewFixtureSource(cfg.Simulated.FixturesPath)
	}
	return calendar.NewGoogleClient(ctx, calendar.Config{
		ServiceAccountPath: cfg.Google.ServiceAccountPath,
		ClientID:           cfg.Google.ClientID,
		ClientSecret:       cfg.Google.ClientSecret,
		RefreshToken:       cfg.Google.RefreshToken,
	})
}

func pipelineOptions(cfg config.ReconcileConfig, loc *time.Location) reconcile.Options {
	return reconcile.Options{
		Workers:              cfg.Workers,
		ConnectionTimeout:    cfg.ConnectionTimeout,
		LookbackDays:         cfg.LookbackDays,
		CandidateDaysBack:    cfg.CandidateDaysBack,
		CandidateDaysForward: cfg.CandidateDaysForward,
		RequestsPerSecond:    cfg.RequestsPerSecond,
		Location:             loc,
	}
}

// parseMonth parses YYYY-MM.
func parseMonth(s string) (int, time.Month, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, common.NewUserError(fmt.Sprintf("Month must look like 2024-03, got %q", s), err)
	}
	return t.Year(), t.Month(), nil
}

// parseAmount parses a decimal amount such as 200 or 200.50 into minor units.
func parseAmount(s string) (int64, error) {
	amount, err := model.MinorUnitsFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, common.NewUserError(fmt.Sprintf("Invalid amount %q", s), err)
	}
	return amount, nil
}

// parseDate parses YYYY-MM-DD in loc. An empty string yields the zero time.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, common.NewUserError(fmt.Sprintf("Date must look like 2024-03-05, got %q", s), err)
	}
	return t, nil
}

// parseDateTime parses YYYY-MM-DDTHH:MM in loc.
func parseDateTime(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02T15:04", s, loc)
	if err != nil {
		return time.Time{}, common.NewUserError(fmt.Sprintf("Date and time must look like 2024-03-05T10:00, got %q", s), err)
	}
	return t, nil
}

// currentUser names the operator recorded on periods and payments.
func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
