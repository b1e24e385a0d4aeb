// internal/availability/gate.go
package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/models"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the claim only when it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Gate keeps each maid's availability flag and the claim that pins a maid to
// at most one active placement. Both live in Redis; a missing status reads as
// available.
type Gate struct {
	rdb    *redis.Client
	prefix string
	logger logger.Logger
}

func NewGate(rdb *redis.Client, keyPrefix string, log logger.Logger) *Gate {
	if keyPrefix == "" {
		keyPrefix = "maid"
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Gate{
		rdb:    rdb,
		prefix: keyPrefix,
		logger: log.WithFields(map[string]interface{}{"component": "availability-gate"}),
	}
}

func (g *Gate) statusKey(maidID string) string {
	return fmt.Sprintf("%s:status:%s", g.prefix, maidID)
}

func (g *Gate) claimKey(maidID string) string {
	return fmt.Sprintf("%s:claim:%s", g.prefix, maidID)
}

func (g *Gate) SetStatus(ctx context.Context, maidID string, status models.MaidStatus) error {
	if err := validateMaidID(maidID); err != nil {
		return err
	}
	if !status.Valid() {
		return apperrors.NewValidationError("status", fmt.Sprintf("unknown maid status %q", status))
	}
	if err := g.rdb.Set(ctx, g.statusKey(maidID), string(status), 0).Err(); err != nil {
		return storeError("set maid status", err)
	}
	g.logger.Debug("maid status updated", map[string]interface{}{
		"maidId": maidID,
		"status": status,
	})
	return nil
}

// Get returns the status and the active claim of a maid.
func (g *Gate) Get(ctx context.Context, maidID string) (*models.MaidAvailability, error) {
	if err := validateMaidID(maidID); err != nil {
		return nil, err
	}

	pipe := g.rdb.Pipeline()
	statusCmd := pipe.Get(ctx, g.statusKey(maidID))
	claimCmd := pipe.Get(ctx, g.claimKey(maidID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, storeError("get maid availability", err)
	}

	out := &models.MaidAvailability{MaidID: maidID, Status: models.MaidAvailable}
	if status, err := statusCmd.Result(); err == nil {
		out.Status = models.MaidStatus(status)
	}
	if claim, err := claimCmd.Result(); err == nil {
		out.PlacementID = claim
	}
	return out, nil
}

// AssertAvailable fails with CandidateUnavailableError unless the maid is
// available and no placement holds a claim on the maid.
func (g *Gate) AssertAvailable(ctx context.Context, maidID string) error {
	state, err := g.Get(ctx, maidID)
	if err != nil {
		return err
	}
	if state.Status != models.MaidAvailable {
		return &apperrors.CandidateUnavailableError{MaidID: maidID, Status: string(state.Status)}
	}
	if state.PlacementID != "" {
		return &apperrors.CandidateUnavailableError{MaidID: maidID, Status: "claimed by placement " + state.PlacementID}
	}
	return nil
}

// Claim pins the maid to placementID. Of two concurrent claims exactly one wins.
// Re-claiming for the same placement is a no-op.
func (g *Gate) Claim(ctx context.Context, maidID, placementID string) error {
	if err := g.AssertAvailable(ctx, maidID); err != nil {
		var unavailable *apperrors.CandidateUnavailableError
		if !errors.As(err, &unavailable) {
			return err
		}
		if state, getErr := g.Get(ctx, maidID); getErr != nil || state.PlacementID != placementID {
			return err
		}
		return nil
	}

	ok, err := g.rdb.SetNX(ctx, g.claimKey(maidID), placementID, 0).Result()
	if err != nil {
		return storeError("claim maid", err)
	}
	if !ok {
		owner, _ := g.rdb.Get(ctx, g.claimKey(maidID)).Result()
		if owner == placementID {
			return nil
		}
		return &apperrors.CandidateUnavailableError{MaidID: maidID, Status: "claimed by placement " + owner}
	}

	g.logger.Info("maid claimed", map[string]interface{}{
		"maidId":      maidID,
		"placementId": placementID,
	})
	return nil
}

// Release drops the claim if placementID still owns it and reports whether it did.
func (g *Gate) Release(ctx context.Context, maidID, placementID string) (bool, error) {
	if err := validateMaidID(maidID); err != nil {
		return false, err
	}
	deleted, err := releaseScript.Run(ctx, g.rdb, []string{g.claimKey(maidID)}, placementID).Int()
	if err != nil {
		return false, storeError("release maid claim", err)
	}
	if deleted == 0 {
		g.logger.Warn("maid claim not held by placement", map[string]interface{}{
			"maidId":      maidID,
			"placementId": placementID,
		})
		return false, nil
	}
	return true, nil
}

func validateMaidID(maidID string) error {
	if strings.TrimSpace(maidID) == "" {
		return apperrors.NewValidationError("maidId", "must not be empty")
	}
	return nil
}

func storeError(op string, err error) error {
	// every Redis failure other than a script/protocol error is a connectivity problem
	var redisErr redis.Error
	transient := !errors.As(err, &redisErr)
	return apperrors.NewExternalStoreError(op, err, transient)
}
