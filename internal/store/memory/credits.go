// Package memory holds in-process implementations of the record stores, used
// by the memory storage driver and by tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/models"
)

// Stores groups the record stores.
type Stores struct {
	Credits    *CreditStore
	Placements *PlacementStore
	Fees       *FeeStore
	Contacts   *ContactStore
}

func NewStores() *Stores {
	return &Stores{
		Credits:    NewCreditStore(),
		Placements: NewPlacementStore(),
		Fees:       NewFeeStore(),
		Contacts:   NewContactStore(),
	}
}

type CreditStore struct {
	mu       sync.Mutex
	rows     map[string]models.AgencyCredits
	entries  []models.LedgerEntry
	deposits map[string]int // reference -> index into entries
}

func NewCreditStore() *CreditStore {
	return &CreditStore{
		rows:     map[string]models.AgencyCredits{},
		deposits: map[string]int{},
	}
}

func (s *CreditStore) GetCredits(_ context.Context, agencyID string) (*models.AgencyCredits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[strings.TrimSpace(agencyID)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return row.Clone(), nil
}

func (s *CreditStore) SaveCredits(_ context.Context, credits *models.AgencyCredits, expectedVersion int64, entry *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.rows[credits.AgencyID]
	switch {
	case !ok && expectedVersion != 0:
		return apperrors.ErrConcurrencyConflict
	case ok && current.Version != expectedVersion:
		return apperrors.ErrConcurrencyConflict
	}

	if entry != nil && entry.Reference != "" {
		if _, dup := s.deposits[entry.Reference]; dup {
			return apperrors.ErrDuplicateReference
		}
	}

	row := *credits
	row.TransactionLog = nil
	s.rows[credits.AgencyID] = row

	if entry != nil {
		s.entries = append(s.entries, *entry)
		if entry.Reference != "" {
			s.deposits[entry.Reference] = len(s.entries) - 1
		}
	}
	return nil
}

func (s *CreditStore) FindDeposit(_ context.Context, reference string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.deposits[reference]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	entry := s.entries[idx]
	return &entry, nil
}

func (s *CreditStore) FindEntry(_ context.Context, id string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.ID == id {
			e := entry
			return &e, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

// ListEntries returns the newest limit entries of an agency, oldest first.
func (s *CreditStore) ListEntries(_ context.Context, agencyID string, limit int) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LedgerEntry, 0)
	for _, entry := range s.entries {
		if entry.AgencyID == agencyID {
			out = append(out, entry)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ListReserved returns every agency holding reserved credits.
func (s *CreditStore) ListReserved(_ context.Context) ([]models.AgencyCredits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AgencyCredits, 0)
	for _, row := range s.rows {
		if row.ReservedCredits.IsPositive() {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgencyID < out[j].AgencyID })
	return out, nil
}
