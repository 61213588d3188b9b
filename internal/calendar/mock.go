package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/Veraticus/the-fees-must-flow/internal/model"
)

// MockClient is a mock implementation of Source for testing.
type MockClient struct {
	ListEventsFn func(ctx context.Context, calendarID string, start, end time.Time) ([]model.CalendarEvent, error)

	ListEventsCalls []ListEventsCall
	mu              sync.Mutex
}

// ListEventsCall records the parameters of a ListEvents call.
type ListEventsCall struct {
	Start      time.Time
	End        time.Time
	CalendarID string
}

// NewMockClient creates a new mock calendar.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// ListEvents implements Source.
func (m *MockClient) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.CalendarEvent, error) {
	m.mu.Lock()
	m.ListEventsCalls = append(m.ListEventsCalls, ListEventsCall{CalendarID: calendarID, Start: start, End: end})
	m.mu.Unlock()

	if m.ListEventsFn != nil {
		return m.ListEventsFn(ctx, calendarID, start, end)
	}
	return []model.CalendarEvent{}, nil
}

var _ Source = (*MockClient)(nil)
