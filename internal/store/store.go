package store

import (
	"iter"
	"slices"
	"sync"

	"snapcal/internal/models"
)

// record is a stored candidate under its run-scoped key.
type record struct {
	key   models.RecordKey
	event models.CandidateEvent
}

// Store holds the candidate events of the current extraction run in insertion
// order. The orchestrator is its only writer.
type Store struct {
	mu      sync.RWMutex
	run     uint64
	records []record
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Load replaces the whole contents with candidates from run. IDs are kept as
// extracted.
func (s *Store) Load(run uint64, candidates []models.CandidateEvent) {
	records := make([]record, 0, len(candidates))
	for _, c := range candidates {
		records = append(records, record{
			key:   models.RecordKey{Run: run, Index: c.ID},
			event: c,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = run
	s.records = records
}

// Update replaces the record whose ID matches ev.ID. It reports false, leaving
// the store untouched, when no such record exists.
func (s *Store) Update(ev models.CandidateEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(ev.ID)
	if i < 0 {
		return false
	}
	s.records[i].event = ev
	return true
}

// Remove deletes the record with the given ID. Removing an absent ID is a no-op.
func (s *Store) Remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(id); i >= 0 {
		s.records = slices.Delete(s.records, i, i+1)
	}
}

// Get returns the record with the given ID.
func (s *Store) Get(id int) (models.CandidateEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(id); i >= 0 {
		return s.records[i].event, true
	}
	return models.CandidateEvent{}, false
}

// Key returns the run-scoped key of the record with the given ID.
func (s *Store) Key(id int) (models.RecordKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(id); i >= 0 {
		return s.records[i].key, true
	}
	return models.RecordKey{}, false
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Run returns the run token the current contents belong to.
func (s *Store) Run() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run
}

// List returns the records in insertion order. The sequence is lazy and can be
// ranged over any number of times; each pass reads the contents as they are when
// the pass starts, so the store may be modified while ranging.
func (s *Store) List() iter.Seq[models.CandidateEvent] {
	return func(yield func(models.CandidateEvent) bool) {
		s.mu.RLock()
		snapshot := make([]models.CandidateEvent, len(s.records))
		for i, r := range s.records {
			snapshot[i] = r.event
		}
		s.mu.RUnlock()

		for _, ev := range snapshot {
			if !yield(ev) {
				return
			}
		}
	}
}

func (s *Store) indexOf(id int) int {
	for i, r := range s.records {
		if r.event.ID == id {
			return i
		}
	}
	return -1
}
