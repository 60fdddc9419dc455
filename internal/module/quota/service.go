package quota

import (
	"context"

	"github.com/palettebot/server/internal/model"
	"github.com/palettebot/server/internal/shared/errors"
	"github.com/palettebot/server/internal/shared/logger"
)

// Service is the quota enforcer. Reserve gates a generation before any
// provider call; Commit charges the pool once the generation has reached a
// terminal state. The two are separate so that requests rejected before
// invocation (capability errors, unknown models) are never charged, while
// generations that started are charged even when they fail.
type Service struct {
	repo        Repository
	log         *logger.Logger
	initialFree int
}

// NewService creates a new quota service.
func NewService(repo Repository, log *logger.Logger, initialFree int) *Service {
	return &Service{
		repo:        repo,
		log:         log.With(logger.String("component", "quota")),
		initialFree: initialFree,
	}
}

// Resolve loads the user's quota row, creating it on first interaction.
func (s *Service) Resolve(ctx context.Context, userID int64) (*UserQuota, error) {
	return s.repo.GetOrCreate(ctx, userID, s.initialFree)
}

// Reserve checks that the user may start a generation on the given tier.
// It performs no mutation.
func (s *Service) Reserve(q *UserQuota, tier model.Tier) error {
	if tier == model.TierPaid {
		if !q.IsPaid() {
			return errors.QuotaExceeded("paid credits required")
		}
		return nil
	}
	if q.FreeCredits <= 0 && !q.IsPaid() {
		return errors.QuotaExceeded("free credits exhausted")
	}
	return nil
}

// Commit charges one generation to the user. The free pool is decremented
// only for free-tier generations; paid tier is a boolean entitlement and is
// never decremented. total_generated is always bumped.
func (s *Service) Commit(ctx context.Context, userID int64, tier model.Tier) error {
	if tier == model.TierFree {
		if err := s.repo.DecrementFree(ctx, userID); err != nil {
			return err
		}
	}
	if err := s.repo.IncrementGenerated(ctx, userID); err != nil {
		return err
	}
	s.log.Debug("quota committed",
		logger.Int64("user", userID),
		logger.String("tier", string(tier)),
	)
	return nil
}

// SetPreferredModel persists the user's model choice.
func (s *Service) SetPreferredModel(ctx context.Context, userID int64, modelID string) error {
	return s.repo.SetPreferredModel(ctx, userID, modelID)
}
