package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"snapcal/internal/ics"
	"snapcal/internal/models"
	"snapcal/internal/submit"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
)

// ICloudEndpoint is the CalDAV root for iCloud calendars.
const ICloudEndpoint = "https://caldav.icloud.com/"

// statusTransport adds the User-Agent header and remembers whether the server
// ever answered 401.
type statusTransport struct {
	Transport    http.RoundTripper
	unauthorized atomic.Bool
}

// RoundTrip adds required headers and records authentication failures.
func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "snapcal/1.0")
	resp, err := t.Transport.RoundTrip(req)
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		t.unauthorized.Store(true)
	}
	return resp, err
}

// Client is a submission backend for any CalDAV server (iCloud by default).
// The credential handed to Insert is the account's app-specific password.
type Client struct {
	logger       *slog.Logger
	endpoint     string
	username     string
	calendarName string
	transport    http.RoundTripper
	now          func() time.Time

	mu           sync.Mutex
	calendarPath string
}

// NewClient creates a CalDAV backend. Nothing is contacted until the first
// Insert, which also discovers the calendar named calendarName.
func NewClient(logger *slog.Logger, endpoint, username, calendarName string) *Client {
	if endpoint == "" {
		endpoint = ICloudEndpoint
	}
	return &Client{
		logger:       logger,
		endpoint:     endpoint,
		username:     username,
		calendarName: calendarName,
		transport:    http.DefaultTransport,
		now:          time.Now,
	}
}

// Insert stores ev as a new calendar object. The generated UID is the remote ID
// and the object URL is the link.
func (c *Client) Insert(ctx context.Context, ev models.CandidateEvent, credential string) (submit.Remote, error) {
	transport := &statusTransport{Transport: c.transport}
	httpClient := webdav.HTTPClientWithBasicAuth(&http.Client{Transport: transport}, c.username, credential)

	client, err := caldav.NewClient(httpClient, c.endpoint)
	if err != nil {
		return submit.Remote{}, fmt.Errorf("failed to create caldav client: %w", err)
	}

	calendarPath, err := c.findCalendar(ctx, client)
	if err != nil {
		return submit.Remote{}, classify(transport, fmt.Errorf("could not find calendar '%s': %w", c.calendarName, err))
	}

	uid := ics.GenerateUID()
	objectPath := path.Join(calendarPath, uid+".ics")
	c.logger.Debug("Storing event on CalDAV server", "eventTitle", ev.Name, "uid", uid)

	obj, err := client.PutCalendarObject(ctx, objectPath, ics.Single(uid, ev, c.now()))
	if err != nil {
		return submit.Remote{}, classify(transport, fmt.Errorf("failed to create event on CalDAV server: %w", err))
	}
	if obj != nil && obj.Path != "" {
		objectPath = obj.Path
	}

	c.logger.Info("Stored event on CalDAV server", "eventTitle", ev.Name)
	return submit.Remote{ID: uid, Link: c.objectURL(objectPath)}, nil
}

// findCalendar discovers the calendar with the configured name and caches its
// path for later submissions.
func (c *Client) findCalendar(ctx context.Context, client *caldav.Client) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calendarPath != "" {
		return c.calendarPath, nil
	}

	principalPath, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := client.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := client.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == c.calendarName {
			c.logger.Info("Found CalDAV calendar", "calendarName", cal.Name, "path", cal.Path)
			c.calendarPath = cal.Path
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", c.calendarName)
}

// objectURL resolves an object path against the endpoint.
func (c *Client) objectURL(objectPath string) string {
	base, err := url.Parse(c.endpoint)
	if err != nil {
		return objectPath
	}
	return base.ResolveReference(&url.URL{Path: objectPath}).String()
}

// classify wraps err with submit.ErrUnauthorized when the server sent a 401.
func classify(t *statusTransport, err error) error {
	if t.unauthorized.Load() {
		return fmt.Errorf("%w: %v", submit.ErrUnauthorized, err)
	}
	return err
}

// PasswordSession is a submit.SessionProvider returning a fixed app password.
type PasswordSession string

// Token returns the password, or submit.ErrNoSession when none is configured.
func (p PasswordSession) Token(context.Context) (string, error) {
	if p == "" {
		return "", submit.ErrNoSession
	}
	return string(p), nil
}
