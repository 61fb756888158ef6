package evidence

import (
	"sort"
	"sync"

	"github.com/chronomap/chronomap/pkg/errors"
)

// Store is the durable keyed evidence store. Upsert is idempotent on
// (entity, source); reads are the simple operations downstream
// consumers get.
type Store interface {
	// Upsert inserts or replaces the record for its (entity, source) key.
	Upsert(r Record) error

	// ByEntity returns every record for one entity.
	ByEntity(entityID string) ([]Record, error)

	// ByYearRange returns records whose claimed year (or range) touches
	// [from, to].
	ByYearRange(from, to int) ([]Record, error)

	// ByConfidenceFloor returns records at or above the given confidence.
	ByConfidenceFloor(min float64) ([]Record, error)

	// Entities returns every entity id present, sorted.
	Entities() ([]string, error)

	// UpdateAllEstimates recomputes every entity's estimate in a batch.
	// Safe to re-run at any time.
	UpdateAllEstimates(priority PriorityFunc) (map[string]Estimate, error)

	// Estimate returns the last computed estimate for an entity.
	Estimate(entityID string) (Estimate, error)

	// Close releases the backing resources.
	Close() error
}

// memoryStore keeps everything in process. Used for tests and for runs
// configured without a store path.
type memoryStore struct {
	mu        sync.RWMutex
	records   map[string]map[string]Record // entity -> source -> record
	estimates map[string]Estimate
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{
		records:   make(map[string]map[string]Record),
		estimates: make(map[string]Estimate),
	}
}

func (s *memoryStore) Upsert(r Record) error {
	if err := r.Validate(); err != nil {
		return errors.NewEvidenceError("upsert", r.EntityID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bySource, ok := s.records[r.EntityID]
	if !ok {
		bySource = make(map[string]Record)
		s.records[r.EntityID] = bySource
	}
	bySource[r.SourceID] = r
	return nil
}

func (s *memoryStore) ByEntity(entityID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySource := s.records[entityID]
	out := make([]Record, 0, len(bySource))
	for _, r := range bySource {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func (s *memoryStore) ByYearRange(from, to int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, bySource := range s.records {
		for _, r := range bySource {
			if recordTouchesRange(r, from, to) {
				out = append(out, r)
			}
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *memoryStore) ByConfidenceFloor(min float64) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, bySource := range s.records {
		for _, r := range bySource {
			if r.Confidence >= min {
				out = append(out, r)
			}
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *memoryStore) Entities() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) UpdateAllEstimates(priority PriorityFunc) (map[string]Estimate, error) {
	ids, _ := s.Entities()

	out := make(map[string]Estimate, len(ids))
	for _, id := range ids {
		records, _ := s.ByEntity(id)
		est := BestEstimate(records, priority)
		est.EntityID = id
		out[id] = est
	}

	s.mu.Lock()
	s.estimates = out
	s.mu.Unlock()
	return out, nil
}

func (s *memoryStore) Estimate(entityID string) (Estimate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	est, ok := s.estimates[entityID]
	if !ok {
		return Estimate{}, errors.ErrNotFound
	}
	return est, nil
}

func (s *memoryStore) Close() error { return nil }

// recordTouchesRange reports whether a record's claimed years intersect
// [from, to].
func recordTouchesRange(r Record, from, to int) bool {
	switch r.Kind {
	case KindRange:
		return r.YearFrom <= to && r.YearTo >= from
	default:
		return r.Year >= from && r.Year <= to
	}
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].EntityID != records[j].EntityID {
			return records[i].EntityID < records[j].EntityID
		}
		return records[i].SourceID < records[j].SourceID
	})
}
