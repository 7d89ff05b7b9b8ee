package billing

import (
	"time"
)

// Payment statuses. The status field is monotonic: a row moves from pending
// to completed exactly once and never back.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Subscription tiers.
const (
	PlanTypePremium = "premium"
	PlanTypeUltra   = "ultra"
)

// Payment is one purchase attempt. ProviderPaymentID is assigned by YooKassa
// when the charge is created and is the key both the confirm endpoint and the
// webhook use to find the row.
type Payment struct {
	ID                int64     `json:"id" gorm:"primaryKey"`
	UserID            string    `json:"user_id" gorm:"column:user_id;not null"`
	PlanID            string    `json:"plan_id" gorm:"column:plan_id;not null"`
	ProviderPaymentID string    `json:"payment_id" gorm:"column:provider_payment_id;uniqueIndex"`
	Amount            float64   `json:"amount" gorm:"column:amount;not null"`
	Currency          string    `json:"currency" gorm:"column:currency;not null"`
	Status            string    `json:"status" gorm:"column:status;default:pending"`
	Email             string    `json:"email" gorm:"column:email"`
	CreatedAt         time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) IsCompleted() bool {
	return p.Status == StatusCompleted
}

// UserPremium is the entitlement row, one per user. Re-granting overwrites
// plan_type and expires_at (last write wins), it does not extend the term.
type UserPremium struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"column:user_id;not null;uniqueIndex"`
	PlanType  string    `json:"plan_type" gorm:"column:plan_type;not null"`
	IsActive  bool      `json:"is_active" gorm:"column:is_active"`
	ExpiresAt time.Time `json:"expires_at" gorm:"column:expires_at"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (UserPremium) TableName() string {
	return "user_premium"
}

// UserLimits mirrors the entitlement tier for quota gating. Kept in sync with
// UserPremium on every grant.
type UserLimits struct {
	ID               int64     `json:"id" gorm:"primaryKey"`
	UserID           string    `json:"user_id" gorm:"column:user_id;not null;uniqueIndex"`
	SubscriptionType string    `json:"subscription_type" gorm:"column:subscription_type;not null"`
	UpdatedAt        time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (UserLimits) TableName() string {
	return "user_limits"
}
