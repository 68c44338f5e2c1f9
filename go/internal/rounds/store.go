package rounds

import (
	"sync"
	"time"

	"github.com/mcdev12/roundclient/go/internal/models"
)

// Store is the local registry of active rounds, keyed by round id.
// Only the lifecycle controller writes to it.
type Store struct {
	mu     sync.RWMutex
	rounds map[models.RoundID]*models.Round
}

func NewStore() *Store {
	return &Store{
		rounds: make(map[models.RoundID]*models.Round),
	}
}

// Insert adds the round or replaces the entry with the same id.
func (s *Store) Insert(round models.Round) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := round
	if r.Status == "" {
		r.Status = models.RoundStatusActive
	}
	s.rounds[r.ID] = &r
}

// InsertNew adds the round only if its id is not tracked yet.
func (s *Store) InsertNew(round models.Round) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rounds[round.ID]; ok {
		return false
	}
	r := round
	if r.Status == "" {
		r.Status = models.RoundStatusActive
	}
	s.rounds[r.ID] = &r
	return true
}

// Remove deletes the round; absent ids are ignored.
func (s *Store) Remove(id models.RoundID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rounds, id)
}

// Get returns a copy of the round.
func (s *Store) Get(id models.RoundID) (models.Round, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[id]
	if !ok {
		return models.Round{}, false
	}
	return *r, true
}

// All returns a snapshot of every tracked round in no particular order.
func (s *Store) All() []models.Round {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Round, 0, len(s.rounds))
	for _, r := range s.rounds {
		out = append(out, *r)
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rounds)
}

// BeginSettle moves a round from ACTIVE to SETTLING. It returns false when
// the round is absent or another trigger already moved it, in which case the
// caller must do nothing.
func (s *Store) BeginSettle(id models.RoundID) (models.Round, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[id]
	if !ok || r.Status != models.RoundStatusActive {
		return models.Round{}, false
	}
	r.Status = models.RoundStatusSettling
	return *r, true
}

// MarkSettled flags a SETTLING round as SETTLED ahead of its removal.
func (s *Store) MarkSettled(id models.RoundID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rounds[id]; ok && r.Status == models.RoundStatusSettling {
		r.Status = models.RoundStatusSettled
	}
}

// ReconcileResult describes how the local set differs from the server's.
type ReconcileResult struct {
	// Removed holds rounds tracked locally that the server no longer lists.
	Removed []models.Round
	// Missing holds ids the server lists that are not tracked locally.
	Missing []models.RoundID
}

// Reconcile drops local rounds absent from serverIDs and reports server ids
// that are unknown locally. Rounds already SETTLING are left in place: their
// in-flight settlement owns their removal. When listedAt is set, rounds whose
// countdown started after it are kept since the listing may predate them.
func (s *Store) Reconcile(serverIDs map[models.RoundID]struct{}, listedAt time.Time) ReconcileResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result ReconcileResult
	for id, r := range s.rounds {
		if _, ok := serverIDs[id]; ok {
			continue
		}
		if r.Status != models.RoundStatusActive {
			continue
		}
		if !listedAt.IsZero() && r.CountdownStartedAt.After(listedAt) {
			continue
		}
		result.Removed = append(result.Removed, *r)
		delete(s.rounds, id)
	}
	for id := range serverIDs {
		if _, ok := s.rounds[id]; !ok {
			result.Missing = append(result.Missing, id)
		}
	}
	return result
}
