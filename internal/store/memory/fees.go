package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/models"

	"github.com/shopspring/decimal"
)

type FeeStore struct {
	mu          sync.Mutex
	rows        map[string]models.FeeTransaction
	byPlacement map[string]string
}

func NewFeeStore() *FeeStore {
	return &FeeStore{
		rows:        map[string]models.FeeTransaction{},
		byPlacement: map[string]string{},
	}
}

func (s *FeeStore) CreateFee(_ context.Context, fee *models.FeeTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byPlacement[fee.PlacementID]; ok {
		return apperrors.ErrConcurrencyConflict
	}
	s.rows[fee.ID] = *fee
	s.byPlacement[fee.PlacementID] = fee.ID
	return nil
}

func (s *FeeStore) GetFeeByPlacement(_ context.Context, placementID string) (*models.FeeTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPlacement[placementID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	row := s.rows[id]
	return &row, nil
}

func (s *FeeStore) UpdateFee(_ context.Context, fee *models.FeeTransaction, expectedStatus models.FeeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[fee.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if row.FeeStatus != expectedStatus {
		return apperrors.ErrConcurrencyConflict
	}
	s.rows[fee.ID] = *fee
	return nil
}

// ListExpiredFees returns unflagged escrow entries whose horizon passed before now.
func (s *FeeStore) ListExpiredFees(_ context.Context, now time.Time, limit int) ([]models.FeeTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FeeTransaction, 0)
	for _, row := range s.rows {
		if row.FeeStatus == models.FeeEscrow && row.ReviewFlaggedAt == nil && row.EscrowUntil.Before(now) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EscrowUntil.Before(out[j].EscrowUntil) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EscrowedTotals sums amountCharged of escrow entries per agency.
func (s *FeeStore) EscrowedTotals(_ context.Context) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]decimal.Decimal{}
	for _, row := range s.rows {
		if row.FeeStatus != models.FeeEscrow {
			continue
		}
		out[row.AgencyID] = out[row.AgencyID].Add(row.AmountCharged)
	}
	return out, nil
}
