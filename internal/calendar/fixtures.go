package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/common"
	"github.com/Veraticus/the-fees-must-flow/internal/model"
)

type fixtureFile struct {
	Calendars map[string][]fixtureEvent `json:"calendars"`
}

type fixtureEvent struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Attendees   []string `json:"attendees"`
}

// FixtureSource serves calendar events from the simulated-mode fixtures file.
// Start and end are RFC 3339 timestamps; a bare date marks an all-day entry.
type FixtureSource struct {
	calendars map[string][]model.CalendarEvent
}

// NewFixtureSource loads the "calendars" section of a fixtures file.
func NewFixtureSource(path string) (*FixtureSource, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures builds a FixtureSource from fixture JSON.
func ParseFixtures(data []byte) (*FixtureSource, error) {
	var file fixtureFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: fixtures: %v", common.ErrInvalidConfig, err)
	}

	calendars := make(map[string][]model.CalendarEvent, len(file.Calendars))
	for calendarID, fixtures := range file.Calendars {
		events := make([]model.CalendarEvent, 0, len(fixtures))
		for _, f := range fixtures {
			events = append(events, model.CalendarEvent{
				ID:          f.ID,
				Title:       f.Title,
				Description: f.Description,
				Status:      f.Status,
				Start:       parseFixtureTime(f.Start),
				End:         parseFixtureTime(f.End),
				Attendees:   f.Attendees,
			})
		}
		calendars[calendarID] = events
	}
	return &FixtureSource{calendars: calendars}, nil
}

func parseFixtureTime(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

// ListEvents returns timed events starting within [start, end] and every
// all-day entry, ordered by start time.
func (f *FixtureSource) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var events []model.CalendarEvent
	for _, e := range f.calendars[calendarID] {
		if e.Start != nil && (e.Start.Before(start) || e.Start.After(end)) {
			continue
		}
		events = append(events, e)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Start == nil || events[j].Start == nil {
			return events[j].Start != nil
		}
		return events[i].Start.Before(*events[j].Start)
	})
	return events, nil
}

var _ Source = (*FixtureSource)(nil)
