package ics

import (
	"bytes"
	"slices"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapcal/internal/models"
)

func TestExport_RoundTripsThroughDecoder(t *testing.T) {
	start := time.Date(2025, 3, 20, 10, 0, 0, 0, time.UTC)
	events := []models.CandidateEvent{
		{ID: 0, Name: "Team Meeting", Description: "Weekly sync", Start: start, End: start.Add(time.Hour)},
		{ID: 1, Name: "Lunch", Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)},
	}

	var buf bytes.Buffer
	n, err := Export(&buf, slices.Values(events), start)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cal, err := ical.NewDecoder(&buf).Decode()
	require.NoError(t, err)
	vevents := cal.Events()
	require.Len(t, vevents, 2)

	summary, err := vevents[0].Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Team Meeting", summary)

	desc, err := vevents[0].Props.Text(ical.PropDescription)
	require.NoError(t, err)
	assert.Equal(t, "Weekly sync", desc)

	dtstart, err := vevents[0].DateTimeStart(time.UTC)
	require.NoError(t, err)
	assert.True(t, dtstart.Equal(start))

	assert.Nil(t, vevents[1].Props.Get(ical.PropDescription))

	uid0, _ := vevents[0].Props.Text(ical.PropUID)
	uid1, _ := vevents[1].Props.Text(ical.PropUID)
	assert.NotEqual(t, uid0, uid1)
}

func TestExport_Empty(t *testing.T) {
	var buf bytes.Buffer
	_, err := Export(&buf, slices.Values([]models.CandidateEvent(nil)), time.Now())
	assert.Error(t, err)
	assert.Zero(t, buf.Len())
}
