package billing

import (
	"context"
	"log/slog"
	"time"

	errors "github.com/storiesoff/backend/internal"
	billingmodel "github.com/storiesoff/backend/internal/core/datamodel/billing"
)

// Granter writes a user's subscription after a payment completes: the
// user_premium row and the matching user_limits tier. The two writes are not
// transactional; if the second fails the first stays and the error is
// surfaced so the gap can be reconciled, never swallowed.
type Granter struct {
	repo   RepositoryAPI
	logger *slog.Logger
	now    func() time.Time
}

func NewGranter(repo RepositoryAPI, logger *slog.Logger) *Granter {
	return &Granter{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Grant upserts the entitlement for userID. Re-granting overwrites the
// expiry (grant time + durationDays); an unexpired term is not extended.
func (g *Granter) Grant(ctx context.Context, userID, planType string, durationDays int) error {
	now := g.now().UTC()
	expiresAt := now.AddDate(0, 0, durationDays)

	premium := &billingmodel.UserPremium{
		UserID:    userID,
		PlanType:  planType,
		IsActive:  true,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.repo.UpsertPremium(ctx, premium); err != nil {
		g.logger.Error("failed to upsert subscription",
			"error", err,
			"user_id", userID,
			"plan_type", planType)
		return errors.NewPersistenceError("failed to update subscription", err)
	}

	limits := &billingmodel.UserLimits{
		UserID:           userID,
		SubscriptionType: planType,
		UpdatedAt:        now,
	}
	if err := g.repo.UpsertLimits(ctx, limits); err != nil {
		g.logger.Error("subscription updated but usage limits write failed",
			"error", err,
			"user_id", userID,
			"plan_type", planType)
		return errors.NewPersistenceError("failed to update usage limits", err)
	}

	g.logger.Info("entitlement granted",
		"user_id", userID,
		"plan_type", planType,
		"expires_at", expiresAt)

	return nil
}
