package driven

import (
	"context"
	"time"

	"github.com/YosefHayim/calbroker/internal/domain/model"
)

// CalendarClient is the minimal surface of the provider's calendar API the
// service consumes. A client is bound to one user's credential.
type CalendarClient interface {
	ListCalendars(ctx context.Context) ([]model.CalendarInfo, error)
	GetCalendar(ctx context.Context, calendarID string) (*model.CalendarInfo, error)
	ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]model.EventInfo, error)
}

// CalendarClientFactory builds a CalendarClient from a credential the token
// pipeline has already guaranteed fresh. Constructed per request; never cached
// across principals.
type CalendarClientFactory func(ctx context.Context, cred *model.Credential) (CalendarClient, error)
