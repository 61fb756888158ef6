package merge

import "sync"

// MatchState enforces match exclusivity: every input feature folds
// into at most one merged entity. All claims go through the one
// mutex-guarded owner, so concurrent matchers can never double-claim.
type MatchState struct {
	mu      sync.Mutex
	claimed map[string]bool
}

// NewMatchState creates an empty claim set.
func NewMatchState() *MatchState {
	return &MatchState{claimed: make(map[string]bool)}
}

// Claimed reports whether a feature id has already been consumed.
func (s *MatchState) Claimed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimed[id]
}

// Claim atomically claims all ids, or none if any is already taken.
// Returns whether the claim succeeded.
func (s *MatchState) Claim(ids ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if s.claimed[id] {
			return false
		}
	}
	for _, id := range ids {
		s.claimed[id] = true
	}
	return true
}

// Filter returns the subset of ids not yet claimed.
func (s *MatchState) Filter(ids []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !s.claimed[id] {
			out = append(out, id)
		}
	}
	return out
}

// Count returns the number of claimed features.
func (s *MatchState) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claimed)
}
