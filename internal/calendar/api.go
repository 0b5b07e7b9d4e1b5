package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"voice-receptionist/internal/tools"
)

// primaryCalendar is the connected account's default calendar.
const primaryCalendar = "primary"

type NewEvent struct {
	Start          time.Time
	End            time.Time
	Title          string
	Description    string
	AttendeeEmails []string
}

type EventRef struct {
	ID       string
	HTMLLink string
	Start    time.Time
	End      time.Time
}

// API is the subset of the calendar provider used by the tools.
type API interface {
	FreeBusy(ctx context.Context, start, end time.Time, timezone string) ([]tools.Interval, error)
	InsertEvent(ctx context.Context, ev NewEvent) (EventRef, error)
	DeleteEvent(ctx context.Context, eventID string) error
	PatchEventTime(ctx context.Context, eventID string, start, end time.Time) (EventRef, error)
}

// APIFactory builds an API client for an authorized HTTP client.
type APIFactory func(ctx context.Context, client *http.Client) (API, error)

// NewGoogleAPI is the APIFactory for Google Calendar v3.
func NewGoogleAPI(ctx context.Context, client *http.Client) (API, error) {
	svc, err := gcal.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("calendar: service: %w", err)
	}
	return &googleAPI{svc: svc}, nil
}

type googleAPI struct {
	svc *gcal.Service
}

func (g *googleAPI) FreeBusy(ctx context.Context, start, end time.Time, timezone string) ([]tools.Interval, error) {
	resp, err := g.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin:  start.Format(time.RFC3339),
		TimeMax:  end.Format(time.RFC3339),
		TimeZone: timezone,
		Items:    []*gcal.FreeBusyRequestItem{{Id: primaryCalendar}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	cal, ok := resp.Calendars[primaryCalendar]
	if !ok {
		return []tools.Interval{}, nil
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("calendar: freebusy: %s", cal.Errors[0].Reason)
	}
	out := make([]tools.Interval, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		s, err1 := time.Parse(time.RFC3339, p.Start)
		e, err2 := time.Parse(time.RFC3339, p.End)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, tools.Interval{Start: s, End: e})
	}
	return out, nil
}

func (g *googleAPI) InsertEvent(ctx context.Context, ev NewEvent) (EventRef, error) {
	e := &gcal.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339)},
	}
	for _, email := range ev.AttendeeEmails {
		e.Attendees = append(e.Attendees, &gcal.EventAttendee{Email: email})
	}
	created, err := g.svc.Events.Insert(primaryCalendar, e).Context(ctx).Do()
	if err != nil {
		return EventRef{}, err
	}
	return EventRef{ID: created.Id, HTMLLink: created.HtmlLink, Start: ev.Start, End: ev.End}, nil
}

func (g *googleAPI) DeleteEvent(ctx context.Context, eventID string) error {
	return g.svc.Events.Delete(primaryCalendar, eventID).Context(ctx).Do()
}

func (g *googleAPI) PatchEventTime(ctx context.Context, eventID string, start, end time.Time) (EventRef, error) {
	patched, err := g.svc.Events.Patch(primaryCalendar, eventID, &gcal.Event{
		Start: &gcal.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:   &gcal.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}).Context(ctx).Do()
	if err != nil {
		return EventRef{}, err
	}
	return EventRef{ID: patched.Id, HTMLLink: patched.HtmlLink, Start: start, End: end}, nil
}
