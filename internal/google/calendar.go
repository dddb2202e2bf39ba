package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"snapcal/internal/models"
	"snapcal/internal/submit"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const defaultCalendarID = "primary"

var localtimePath = "/etc/localtime"

// CalendarClient creates events through the Google Calendar API.
type CalendarClient struct {
	logger     *slog.Logger
	calendarID string
	location   *time.Location
	tzName     string
	options    []option.ClientOption
}

// NewClient creates a Google Calendar backend writing to calendarID. Event
// times are sent in loc with its IANA zone name. For the process-local zone the
// name comes from localZoneName; when that resolves nothing the field is left
// out and the RFC 3339 offset carries the zone. Extra options are appended to every service, which lets tests point the
// client at a local endpoint.
func NewClient(logger *slog.Logger, calendarID string, loc *time.Location, opts ...option.ClientOption) *CalendarClient {
	if calendarID == "" {
		calendarID = defaultCalendarID
	}
	if loc == nil {
		loc = time.UTC
	}
	tzName := loc.String()
	if tzName == "Local" {
		tzName = localZoneName()
	}
	return &CalendarClient{
		logger:     logger,
		calendarID: calendarID,
		location:   loc,
		tzName:     tzName,
		options:    opts,
	}
}

// localZoneName resolves the IANA name of the process-local zone from TZ, then
// from the /etc/localtime symlink. It returns "" when neither names a zone.
func localZoneName() string {
	if tz := strings.TrimPrefix(os.Getenv("TZ"), ":"); tz != "" && tz != "Local" {
		if _, err := time.LoadLocation(tz); err == nil {
			return tz
		}
	}
	target, err := os.Readlink(localtimePath)
	if err != nil {
		return ""
	}
	if _, name, ok := strings.Cut(target, "zoneinfo/"); ok {
		if _, err := time.LoadLocation(name); err == nil {
			return name
		}
	}
	return ""
}

// Insert creates ev on the calendar, authenticating with the bearer credential.
// A 401 answer is reported as submit.ErrUnauthorized.
func (c *CalendarClient) Insert(ctx context.Context, ev models.CandidateEvent, credential string) (submit.Remote, error) {
	service, err := c.service(ctx, credential)
	if err != nil {
		return submit.Remote{}, err
	}

	c.logger.Debug("Inserting event into Google Calendar", "calendarID", c.calendarID, "title", ev.Name)
	created, err := service.Events.Insert(c.calendarID, c.toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
			return submit.Remote{}, fmt.Errorf("%w: %s", submit.ErrUnauthorized, gerr.Message)
		}
		return submit.Remote{}, fmt.Errorf("failed to insert event: %w", err)
	}

	return submit.Remote{ID: created.Id, Link: created.HtmlLink}, nil
}

// service builds a Calendar service carrying credential as a static bearer token.
func (c *CalendarClient) service(ctx context.Context, credential string) (*calendar.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credential, TokenType: "Bearer"})
	opts := append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}, c.options...)

	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return service, nil
}

// toGoogleEvent converts a candidate to the Calendar API event body.
func (c *CalendarClient) toGoogleEvent(ev models.CandidateEvent) *calendar.Event {
	return &calendar.Event{
		Summary:     ev.Name,
		Description: ev.Description,
		Start: &calendar.EventDateTime{
			DateTime: ev.Start.In(c.location).Format(time.RFC3339),
			TimeZone: c.tzName,
		},
		End: &calendar.EventDateTime{
			DateTime: ev.End.In(c.location).Format(time.RFC3339),
			TimeZone: c.tzName,
		},
	}
}
