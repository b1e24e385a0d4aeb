package memory

import (
	"context"
	"sync"

	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/models"
)

type ContactStore struct {
	mu       sync.RWMutex
	contacts map[string]models.AgencyContact
}

func NewContactStore() *ContactStore {
	return &ContactStore{contacts: map[string]models.AgencyContact{}}
}

func (s *ContactStore) PutAgencyContact(c models.AgencyContact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.AgencyID] = c
}

func (s *ContactStore) GetAgencyContact(_ context.Context, agencyID string) (*models.AgencyContact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[agencyID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &c, nil
}
