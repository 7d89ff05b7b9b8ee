package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	billingpkg "github.com/storiesoff/backend/internal/billing"
	"github.com/storiesoff/backend/internal/core/datamodel/billing"
)

type BillingRepository struct {
	db *gorm.DB
}

func NewBillingRepository(db *gorm.DB) billingpkg.RepositoryAPI {
	return &BillingRepository{
		db: db,
	}
}

// UpsertPending inserts the payment row keyed on the provider charge id. A
// retried initiation that produced the same charge updates the existing row
// instead of failing on the unique index.
func (r *BillingRepository) UpsertPending(ctx context.Context, p *billing.Payment) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider_payment_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "plan_id", "amount", "currency", "status", "email", "updated_at",
		}),
	}).Create(p).Error
}

func (r *BillingRepository) GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (*billing.Payment, error) {
	var p billing.Payment
	err := r.db.WithContext(ctx).Where("provider_payment_id = ?", providerPaymentID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkCompleted flips the row pending→completed. The status predicate makes
// the update conditional: when confirm and webhook race, exactly one caller
// sees a row affected and owns the entitlement grant.
func (r *BillingRepository) MarkCompleted(ctx context.Context, providerPaymentID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&billing.Payment{}).
		Where("provider_payment_id = ? AND status = ?", providerPaymentID, billing.StatusPending).
		Updates(map[string]interface{}{
			"status":     billing.StatusCompleted,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpsertPremium writes the entitlement, one row per user. Last write wins:
// plan_type and expires_at are overwritten, not extended.
func (r *BillingRepository) UpsertPremium(ctx context.Context, p *billing.UserPremium) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan_type", "is_active", "expires_at", "updated_at",
		}),
	}).Create(p).Error
}

func (r *BillingRepository) UpsertLimits(ctx context.Context, l *billing.UserLimits) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subscription_type", "updated_at",
		}),
	}).Create(l).Error
}
