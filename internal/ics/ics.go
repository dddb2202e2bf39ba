package ics

import (
	"fmt"
	"io"
	"iter"
	"time"

	"snapcal/internal/models"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

const productID = "-//snapcal//EN"

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}

// NewCalendar returns an empty VCALENDAR with the required properties.
func NewCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	return cal
}

// ToVEvent converts a candidate to a VEVENT component.
func ToVEvent(uid string, ev models.CandidateEvent, stamp time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, ev.Name)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, ev.Start.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, ev.End.UTC())

	if ev.Description != "" {
		ve.Props.SetText(ical.PropDescription, ev.Description)
	}
	return ve
}

// Single wraps one event in its own calendar object, as CalDAV stores them.
func Single(uid string, ev models.CandidateEvent, stamp time.Time) *ical.Calendar {
	cal := NewCalendar()
	cal.Children = append(cal.Children, ToVEvent(uid, ev, stamp))
	return cal
}

// Export writes events as one iCalendar document and returns how many were
// written.
func Export(w io.Writer, events iter.Seq[models.CandidateEvent], stamp time.Time) (int, error) {
	cal := NewCalendar()
	n := 0
	for ev := range events {
		cal.Children = append(cal.Children, ToVEvent(GenerateUID(), ev, stamp))
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("no events to export")
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return 0, fmt.Errorf("failed to encode events to iCal format: %w", err)
	}
	return n, nil
}
