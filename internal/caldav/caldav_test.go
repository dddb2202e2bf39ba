package caldav

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapcal/internal/models"
	"snapcal/internal/submit"
)

func sampleEvent() models.CandidateEvent {
	start := time.Date(2025, 3, 20, 10, 0, 0, 0, time.UTC)
	return models.CandidateEvent{Name: "Team Meeting", Start: start, End: start.Add(time.Hour)}
}

func TestClient_Insert_UnauthorizedIsClassified(t *testing.T) {
	var sawAuth atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok && user == "me@example.com" && pass == "wrong-password" {
			sawAuth.Store(true)
		}
		assert.Equal(t, "snapcal/1.0", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), srv.URL+"/", "me@example.com", "Home")
	_, err := c.Insert(context.Background(), sampleEvent(), "wrong-password")
	require.Error(t, err)
	assert.ErrorIs(t, err, submit.ErrUnauthorized)
	assert.True(t, sawAuth.Load())
}

func TestClient_Insert_ServerErrorIsNotUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), srv.URL+"/", "me@example.com", "Home")
	_, err := c.Insert(context.Background(), sampleEvent(), "pw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, submit.ErrUnauthorized)
}

func TestClient_ObjectURL(t *testing.T) {
	c := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), "", "u", "Home")
	assert.Equal(t, ICloudEndpoint, c.endpoint)
	assert.Equal(t, "https://caldav.icloud.com/123/calendars/home/abc.ics", c.objectURL("/123/calendars/home/abc.ics"))
}

func TestPasswordSession(t *testing.T) {
	_, err := PasswordSession("").Token(context.Background())
	assert.ErrorIs(t, err, submit.ErrNoSession)

	got, err := PasswordSession("app-pw").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "app-pw", got)
}
