package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/models"
)

type PlacementStore struct {
	mu   sync.Mutex
	rows map[string]models.Placement
}

func NewPlacementStore() *PlacementStore {
	return &PlacementStore{rows: map[string]models.Placement{}}
}

// CreatePlacement rejects a second non-terminal placement for the same maid.
func (s *PlacementStore) CreatePlacement(_ context.Context, p *models.Placement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[p.ID]; ok {
		return apperrors.ErrConcurrencyConflict
	}
	for _, row := range s.rows {
		if row.MaidID == p.MaidID && !row.Status.IsTerminal() {
			return &apperrors.CandidateUnavailableError{MaidID: p.MaidID, Status: "placement " + row.ID + " active"}
		}
	}
	s.rows[p.ID] = *p
	return nil
}

func (s *PlacementStore) GetPlacement(_ context.Context, id string) (*models.Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &row, nil
}

func (s *PlacementStore) UpdatePlacement(_ context.Context, p *models.Placement, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[p.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if row.Version != expectedVersion {
		return apperrors.ErrConcurrencyConflict
	}
	s.rows[p.ID] = *p
	return nil
}

// ListStaleTrials returns trial_started placements whose trial began before cutoff.
func (s *PlacementStore) ListStaleTrials(_ context.Context, cutoff time.Time, limit int) ([]models.Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Placement, 0)
	for _, row := range s.rows {
		if row.Status == models.StatusTrialStarted && row.TrialStartedAt != nil && row.TrialStartedAt.Before(cutoff) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrialStartedAt.Before(*out[j].TrialStartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
