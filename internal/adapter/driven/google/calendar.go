package google

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/YosefHayim/calbroker/internal/domain/model"
	"github.com/YosefHayim/calbroker/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CalendarClient = (*CalendarClient)(nil)

// CalendarClient implements the CalendarClient port over the Google Calendar
// API, bound to one user's access token.
type CalendarClient struct {
	svc *calendar.Service
}

// NewCalendarClient builds a calendar client from a credential the token
// pipeline has already guaranteed fresh. The access token is used as-is: by
// the time this runs, refresh has either happened or was not needed, so the
// token source is deliberately static.
func NewCalendarClient(ctx context.Context, cred *model.Credential) (driven.CalendarClient, error) {
	if cred == nil || cred.AccessToken == "" {
		return nil, fmt.Errorf("calendar client requires a credential with an access token")
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   cred.TokenType,
		Expiry:      cred.ExpiresAt,
	})

	svc, err := calendar.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &CalendarClient{svc: svc}, nil
}

// ListCalendars returns all calendars on the user's calendar list.
func (c *CalendarClient) ListCalendars(ctx context.Context) ([]model.CalendarInfo, error) {
	list, err := c.svc.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}

	out := make([]model.CalendarInfo, 0, len(list.Items))
	for _, item := range list.Items {
		out = append(out, model.CalendarInfo{
			ID:          item.Id,
			Summary:     item.Summary,
			Description: item.Description,
			TimeZone:    item.TimeZone,
			Primary:     item.Primary,
			AccessRole:  item.AccessRole,
		})
	}
	return out, nil
}

// GetCalendar returns a single calendar's metadata.
func (c *CalendarClient) GetCalendar(ctx context.Context, calendarID string) (*model.CalendarInfo, error) {
	cal, err := c.svc.Calendars.Get(calendarID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get calendar %s: %w", calendarID, err)
	}

	return &model.CalendarInfo{
		ID:          cal.Id,
		Summary:     cal.Summary,
		Description: cal.Description,
		TimeZone:    cal.TimeZone,
	}, nil
}

// ListEvents returns the single events in [from, to), expanded and ordered by
// start time.
func (c *CalendarClient) ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]model.EventInfo, error) {
	events, err := c.svc.Events.List(calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", calendarID, err)
	}

	out := make([]model.EventInfo, 0, len(events.Items))
	for _, item := range events.Items {
		out = append(out, mapEvent(item))
	}
	return out, nil
}

func mapEvent(item *calendar.Event) model.EventInfo {
	ev := model.EventInfo{
		ID:       item.Id,
		Summary:  item.Summary,
		Location: item.Location,
		Status:   item.Status,
	}

	if item.Start != nil {
		ev.Start, ev.AllDay = parseEventTime(item.Start)
	}
	if item.End != nil {
		ev.End, _ = parseEventTime(item.End)
	}
	return ev
}

// parseEventTime handles both timed events (DateTime) and all-day events (Date).
func parseEventTime(edt *calendar.EventDateTime) (time.Time, bool) {
	if edt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, false
		}
		return t, false
	}
	if edt.Date != "" {
		t, err := time.Parse("2006-01-02", edt.Date)
		if err != nil {
			return time.Time{}, true
		}
		return t, true
	}
	return time.Time{}, false
}
