package store

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapcal/internal/models"
)

func candidates(names ...string) []models.CandidateEvent {
	start := time.Date(2025, 3, 20, 10, 0, 0, 0, time.UTC)
	out := make([]models.CandidateEvent, 0, len(names))
	for i, n := range names {
		out = append(out, models.CandidateEvent{
			ID:    i,
			Name:  n,
			Start: start.Add(time.Duration(i) * time.Hour),
			End:   start.Add(time.Duration(i)*time.Hour + 30*time.Minute),
		})
	}
	return out
}

func names(s *Store) []string {
	var out []string
	for ev := range s.List() {
		out = append(out, ev.Name)
	}
	return out
}

func TestStore_LoadReplacesContents(t *testing.T) {
	s := New()
	s.Load(1, candidates("a", "b", "c"))
	assert.Equal(t, []string{"a", "b", "c"}, names(s))
	assert.Equal(t, uint64(1), s.Run())

	s.Load(2, candidates("x"))
	assert.Equal(t, []string{"x"}, names(s))
	assert.Equal(t, 1, s.Len())

	key, ok := s.Key(0)
	require.True(t, ok)
	assert.Equal(t, models.RecordKey{Run: 2, Index: 0}, key)
}

func TestStore_Update(t *testing.T) {
	s := New()
	s.Load(1, candidates("a", "b"))

	edited, _ := s.Get(1)
	edited.Name = "renamed"
	edited.Description = "details"
	assert.True(t, s.Update(edited))

	got, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "details", got.Description)
	assert.Equal(t, []string{"a", "renamed"}, names(s))
}

func TestStore_UpdateAbsentIsNoop(t *testing.T) {
	s := New()
	s.Load(1, candidates("a"))

	assert.False(t, s.Update(models.CandidateEvent{ID: 7, Name: "ghost"}))
	assert.Equal(t, []string{"a"}, names(s))
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	once := New()
	once.Load(1, candidates("a", "b", "c"))
	once.Remove(1)

	twice := New()
	twice.Load(1, candidates("a", "b", "c"))
	twice.Remove(1)
	twice.Remove(1)

	assert.Equal(t, names(once), names(twice))
	assert.Equal(t, []string{"a", "c"}, names(twice))

	twice.Remove(42)
	assert.Equal(t, 2, twice.Len())
}

func TestStore_ListIsRestartable(t *testing.T) {
	s := New()
	s.Load(1, candidates("a", "b", "c"))

	seq := s.List()
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, first, second)

	s.Remove(0)
	third := slices.Collect(seq)
	require.Len(t, third, 2)
	assert.Equal(t, "b", third[0].Name)
}

func TestStore_ListToleratesMutationWhileRanging(t *testing.T) {
	s := New()
	s.Load(1, candidates("a", "b", "c"))

	var seen []string
	for ev := range s.List() {
		seen = append(seen, ev.Name)
		s.Remove(ev.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.Equal(t, 0, s.Len())
}

func TestStore_ListEarlyBreak(t *testing.T) {
	s := New()
	s.Load(1, candidates("a", "b", "c"))

	count := 0
	for range s.List() {
		count++
		break
	}
	assert.Equal(t, 1, count)
}
