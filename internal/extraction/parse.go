package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"snapcal/internal/models"
)

// rawEvent is one object of the model output; every field may be null.
type rawEvent struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Start       *string `json:"start"`
	End         *string `json:"end"`
}

// eventPayload is the model output, which arrives either as an array of events
// or as a single event object. UnmarshalJSON normalizes both to Events.
type eventPayload struct {
	Events []rawEvent
	Single bool
}

// UnmarshalJSON decodes either shape.
func (p *eventPayload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty payload")
	}

	switch trimmed[0] {
	case '[':
		var events []rawEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return err
		}
		p.Events = events
		p.Single = false
		return nil
	case '{':
		var ev rawEvent
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			return err
		}
		p.Events = []rawEvent{ev}
		p.Single = true
		return nil
	default:
		return fmt.Errorf("payload is neither an object nor an array")
	}
}

// timeLayouts are tried in order; layouts without an offset are read in the
// configured location.
var timeLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339Nano, true},
	{"2006-01-02T15:04Z07:00", true},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02 15:04", false},
	{"2006-01-02", false},
}

// parseContent converts the model's message content into candidate events.
// Missing or unparseable timestamps fall back to now and are flagged.
func parseContent(content string, now time.Time, loc *time.Location) ([]models.CandidateEvent, error) {
	var payload eventPayload
	if err := json.Unmarshal([]byte(stripFences(content)), &payload); err != nil {
		return nil, &models.PipelineError{
			Stage:   models.StageExtraction,
			Kind:    models.KindMalformedResponse,
			Message: "content is not a JSON event list",
			Err:     err,
		}
	}

	events := make([]models.CandidateEvent, 0, len(payload.Events))
	for i, raw := range payload.Events {
		start, startOK := parseTime(raw.Start, loc)
		end, endOK := parseTime(raw.End, loc)
		if !startOK {
			start = now
		}
		if !endOK {
			end = now
		}
		events = append(events, models.CandidateEvent{
			ID:          i,
			Name:        deref(raw.Name),
			Description: deref(raw.Description),
			Start:       start,
			End:         end,
			StartParsed: startOK,
			EndParsed:   endOK,
		})
	}
	return events, nil
}

func parseTime(v *string, loc *time.Location) (time.Time, bool) {
	if v == nil {
		return time.Time{}, false
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return time.Time{}, false
	}
	for _, l := range timeLayouts {
		var (
			t   time.Time
			err error
		)
		if l.zoned {
			t, err = time.Parse(l.layout, s)
		} else {
			t, err = time.ParseInLocation(l.layout, s, loc)
		}
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// stripFences unwraps a ```json ... ``` block if the model added one.
func stripFences(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
