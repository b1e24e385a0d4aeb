// internal/store/postgres/agencies.go
package postgres

import (
	"context"
	"database/sql"

	"placement-broker/internal/models"
)

// ContactStore reads agency notification contacts.
type ContactStore struct {
	db *sql.DB
}

func NewContactStore(db *sql.DB) *ContactStore {
	return &ContactStore{db: db}
}

func (s *ContactStore) GetAgencyContact(ctx context.Context, agencyID string) (*models.AgencyContact, error) {
	var c models.AgencyContact
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, notification_email, notification_phone
		FROM agencies WHERE id = $1`, agencyID).
		Scan(&c.AgencyID, &c.Name, &c.Email, &c.Phone)
	if err != nil {
		return nil, storeError("get agency contact", err)
	}
	return &c, nil
}
