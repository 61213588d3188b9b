// Package calendar adapts calendar providers to the read-only event listing
// used when processing billing periods.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
	"github.com/Veraticus/the-fees-must-flow/internal/service"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Source lists the events of one calendar between start and end.
type Source interface {
	ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.CalendarEvent, error)
}

// Config holds Google Calendar credentials. Either a service account key or
// an OAuth2 client with a refresh token is required.
type Config struct {
	ServiceAccountPath string
	ClientID           string
	ClientSecret       string
	RefreshToken       string
}

// Validate checks that exactly one authentication method is configured.
func (c Config) Validate() error {
	hasOAuth := c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
	hasServiceAccount := c.ServiceAccountPath != ""

	if !hasOAuth && !hasServiceAccount {
		return fmt.Errorf("%w: no google calendar authentication configured", common.ErrMissingConfig)
	}
	if hasOAuth && hasServiceAccount {
		return fmt.Errorf("%w: use either OAuth2 or a service account for google calendar", common.ErrInvalidConfig)
	}
	return nil
}

// GoogleClient reads events through the Google Calendar API.
type GoogleClient struct {
	service   *gcal.Service
	logger    *slog.Logger
	retryOpts service.RetryOptions
}

// NewGoogleClient authenticates with cfg and creates a client.
func NewGoogleClient(ctx context.Context, cfg Config) (*GoogleClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tokenSource, err := tokenSourceFor(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return NewGoogleClientWithOptions(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, tokenSource)))
}

// NewGoogleClientWithOptions creates a client from raw API options.
func NewGoogleClientWithOptions(ctx context.Context, opts ...option.ClientOption) (*GoogleClient, error) {
	srv, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create calendar service: %w", err)
	}

	return &GoogleClient{
		service:   srv,
		logger:    slog.Default().With("component", "calendar"),
		retryOpts: common.DefaultRetryOptions(),
	}, nil
}

func tokenSourceFor(ctx context.Context, cfg Config) (oauth2.TokenSource, error) {
	if cfg.ServiceAccountPath != "" {
		jsonKey, err := os.ReadFile(cfg.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, gcal.CalendarReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		return jwtConfig.TokenSource(ctx), nil
	}

	client := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gcal.CalendarReadonlyScope},
	}
	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
		TokenType:    "Bearer",
	}
	return client.TokenSource(ctx, token), nil
}

// ListEvents returns single (expanded) events ordered by start time.
func (c *GoogleClient) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.CalendarEvent, error) {
	var events []model.CalendarEvent
	pageToken := ""

	for {
		var page *gcal.Events
		err := common.WithRetry(ctx, func() error {
			call := c.service.Events.List(calendarID).
				TimeMin(start.Format(time.RFC3339)).
				TimeMax(end.Format(time.RFC3339)).
				SingleEvents(true).
				OrderBy("startTime").
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}

			resp, err := call.Do()
			if err != nil {
				return classifyError(err)
			}
			page = resp
			return nil
		}, c.retryOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to list events for calendar %s: %w", calendarID, err)
		}

		for _, item := range page.Items {
			events = append(events, convertEvent(item))
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	c.logger.Debug("listed calendar events", "calendar", calendarID, "count", len(events))
	return events, nil
}

// classifyError marks throttling and server errors as retryable.
func classifyError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		retryable := apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
		return &common.RetryableError{
			Err:       fmt.Errorf("%w: calendar API status %d: %s", common.ErrProviderFailure, apiErr.Code, apiErr.Message),
			Retryable: retryable,
		}
	}
	return fmt.Errorf("%w: %w", common.ErrProviderFailure, err)
}

func convertEvent(item *gcal.Event) model.CalendarEvent {
	event := model.CalendarEvent{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Status:      item.Status,
	}
	event.Start = parseEventTime(item.Start)
	event.End = parseEventTime(item.End)

	for _, attendee := range item.Attendees {
		if attendee != nil && attendee.Email != "" {
			event.Attendees = append(event.Attendees, attendee.Email)
		}
	}
	return event
}

// parseEventTime returns nil for all-day entries, which only carry a date.
func parseEventTime(dt *gcal.EventDateTime) *time.Time {
	if dt == nil || dt.DateTime == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, dt.DateTime)
	if err != nil {
		return nil
	}
	return &t
}

var _ Source = (*GoogleClient)(nil)
