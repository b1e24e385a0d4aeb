// internal/store/postgres/errors.go
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	apperrors "placement-broker/internal/common/errors"

	"github.com/lib/pq"
)

// storeError maps a database failure onto the store error contract.
// No rows, or an id the uuid columns cannot parse, becomes ErrNotFound;
// everything else is an ExternalStoreError, transient when retrying the
// same statement can succeed.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || malformedID(err) {
		return apperrors.ErrNotFound
	}
	return apperrors.NewExternalStoreError(op, err, isTransient(err))
}

func isTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08": // connection exception
			return true
		case pqErr.Code == "40001", pqErr.Code == "40P01": // serialization failure, deadlock
			return true
		case pqErr.Code == "57P01", pqErr.Code == "53300": // admin shutdown, too many connections
			return true
		}
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// malformedID reports invalid_text_representation, raised when a key that is
// not a uuid is compared against a uuid column. No such row can exist.
func malformedID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}

// uniqueViolation returns the violated constraint name, if err is one.
func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint, true
	}
	return "", false
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
