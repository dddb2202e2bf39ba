package extraction

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapcal/internal/models"
)

var fixedNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Endpoint: srv.URL + "/v1/chat/completions",
		APIKey:   "sk-test",
		Location: time.UTC,
	})
	c.now = func() time.Time { return fixedNow }
	return c
}

// completion wraps content in a chat completion body.
func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id": "chatcmpl-1",
		"choices": []any{
			map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	return string(b)
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestClient_ExtractEvents_RequestShape(t *testing.T) {
	var got Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		respond(http.StatusOK, completion(`[]`))(w, r)
	})

	events, err := c.ExtractEvents(context.Background(), "Team Meeting Mar 20 10:00-11:00")
	require.NoError(t, err)
	assert.Empty(t, events)

	assert.Equal(t, defaultModel, got.Model)
	assert.InDelta(t, 0.3, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "JSON array")
	assert.Contains(t, got.Messages[0].Content, "null")
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "Team Meeting Mar 20 10:00-11:00", got.Messages[1].Content)
}

func TestClient_ExtractEvents_ArrayAssignsPositionalIDs(t *testing.T) {
	content := `[
		{"name": "Team Meeting", "description": "Weekly sync", "start": "2025-03-20T10:00:00Z", "end": "2025-03-20T11:00:00Z"},
		{"name": "Project Review", "description": null, "start": "2025-03-21T14:00:00+02:00", "end": "2025-03-21T15:30"}
	]`
	c := newTestClient(t, respond(http.StatusOK, completion(content)))

	events, err := c.ExtractEvents(context.Background(), "text")
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, 0, events[0].ID)
	assert.Equal(t, "Team Meeting", events[0].Name)
	assert.Equal(t, "Weekly sync", events[0].Description)
	assert.True(t, events[0].Start.Equal(time.Date(2025, 3, 20, 10, 0, 0, 0, time.UTC)))
	assert.True(t, events[0].End.Equal(time.Date(2025, 3, 20, 11, 0, 0, 0, time.UTC)))
	assert.True(t, events[0].TimesDetected())

	assert.Equal(t, 1, events[1].ID)
	assert.Equal(t, "", events[1].Description)
	assert.True(t, events[1].Start.Equal(time.Date(2025, 3, 21, 12, 0, 0, 0, time.UTC)))
	assert.True(t, events[1].End.Equal(time.Date(2025, 3, 21, 15, 30, 0, 0, time.UTC)))
}

func TestClient_ExtractEvents_SingleObjectNormalized(t *testing.T) {
	c := newTestClient(t, respond(http.StatusOK, completion(
		`{"name": "Bake Sale", "description": "Gym", "start": "2025-04-02", "end": null}`)))

	events, err := c.ExtractEvents(context.Background(), "text")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 0, events[0].ID)
	assert.Equal(t, "Bake Sale", events[0].Name)
	assert.True(t, events[0].Start.Equal(time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)))
	assert.True(t, events[0].StartParsed)
	assert.False(t, events[0].EndParsed)
	assert.True(t, events[0].End.Equal(fixedNow))
}

func TestClient_ExtractEvents_NullFieldsFallBack(t *testing.T) {
	c := newTestClient(t, respond(http.StatusOK, completion(
		`[{"name": null, "description": null, "start": "next tuesday", "end": null}, {}]`)))

	events, err := c.ExtractEvents(context.Background(), "text")
	require.NoError(t, err)
	require.Len(t, events, 2)
	for i, ev := range events {
		assert.Equal(t, i, ev.ID)
		assert.Equal(t, "", ev.Name)
		assert.Equal(t, "", ev.Description)
		assert.True(t, ev.Start.Equal(fixedNow))
		assert.True(t, ev.End.Equal(fixedNow))
		assert.False(t, ev.TimesDetected())
	}
}

func TestClient_ExtractEvents_FencedContent(t *testing.T) {
	c := newTestClient(t, respond(http.StatusOK, completion(
		"```json\n[{\"name\": \"Standup\", \"start\": \"2025-03-20T09:00:00Z\", \"end\": \"2025-03-20T09:15:00Z\"}]\n```")))

	events, err := c.ExtractEvents(context.Background(), "text")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Standup", events[0].Name)
}

func TestClient_ExtractEvents_ServiceError(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusTooManyRequests, http.StatusUnauthorized} {
		c := newTestClient(t, respond(status, `{"error": {"message": "boom"}}`))

		events, err := c.ExtractEvents(context.Background(), "text")
		require.Error(t, err)
		assert.Nil(t, events)

		var pe *models.PipelineError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, models.KindServiceError, pe.Kind)
		assert.Equal(t, status, pe.Status)
	}
}

func TestClient_ExtractEvents_MalformedResponse(t *testing.T) {
	bodies := map[string]string{
		"not json":        `<html>ok</html>`,
		"no choices":      `{"id": "x"}`,
		"empty choices":   `{"choices": []}`,
		"no message":      `{"choices": [{"index": 0}]}`,
		"null content":    `{"choices": [{"message": {"content": null}}]}`,
		"prose content":   completion("Sure! Here are your events."),
		"truncated array": completion(`[{"name": "A"`),
		"scalar content":  completion(`42`),
		"null payload":    completion(`null`),
		"bad field type":  completion(`[{"name": 7}]`),
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, respond(http.StatusOK, body))
			events, err := c.ExtractEvents(context.Background(), "text")
			require.Error(t, err)
			assert.Nil(t, events)
			assert.Equal(t, models.KindMalformedResponse, models.KindOf(err))
		})
	}
}

func TestClient_ExtractEvents_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.ExtractEvents(ctx, "text")
	var pe *models.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, models.KindServiceError, pe.Kind)
	assert.Equal(t, models.StatusTimeout, pe.Status)
}

func TestParseContent_NaiveTimesUseLocation(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	events, err := parseContent(`[{"name": "x", "start": "2025-03-20T10:00:00", "end": "2025-03-20 11:00"}]`, fixedNow, loc)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Start.Equal(time.Date(2025, 3, 20, 1, 0, 0, 0, time.UTC)))
	assert.True(t, events[0].End.Equal(time.Date(2025, 3, 20, 2, 0, 0, 0, time.UTC)))
}

func TestEventPayload_SingleFlag(t *testing.T) {
	var p eventPayload
	require.NoError(t, json.Unmarshal([]byte(`{"name": "a"}`), &p))
	assert.True(t, p.Single)
	assert.Len(t, p.Events, 1)

	require.NoError(t, json.Unmarshal([]byte(`[{"name": "a"}, {"name": "b"}]`), &p))
	assert.False(t, p.Single)
	assert.Len(t, p.Events, 2)
}
