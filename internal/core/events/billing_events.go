package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentCompleted       = "payment.completed"
	EventTypeEntitlementGrantFailed = "entitlement.grant_failed"
)

type PaymentCompletedEvent struct {
	BaseEvent
	PaymentID         int64   `json:"payment_id"`
	ProviderPaymentID string  `json:"provider_payment_id"`
	UserID            string  `json:"user_id"`
	PlanID            string  `json:"plan_id"`
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
}

func NewPaymentCompletedEvent(paymentID int64, providerPaymentID, userID, planID string, amount float64, currency string) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":          paymentID,
				"provider_payment_id": providerPaymentID,
				"user_id":             userID,
				"plan_id":             planID,
				"amount":              amount,
				"currency":            currency,
			},
		},
		PaymentID:         paymentID,
		ProviderPaymentID: providerPaymentID,
		UserID:            userID,
		PlanID:            planID,
		Amount:            amount,
		Currency:          currency,
	}
}

// EntitlementGrantFailedEvent fires when a payment row has already been
// marked completed but writing the entitlement failed. The user has paid
// without receiving the subscription, so this must reach whoever watches the
// logs; recovery is manual reconciliation.
type EntitlementGrantFailedEvent struct {
	BaseEvent
	ProviderPaymentID string `json:"provider_payment_id"`
	UserID            string `json:"user_id"`
	PlanID            string `json:"plan_id"`
	Reason            string `json:"reason"`
}

func NewEntitlementGrantFailedEvent(providerPaymentID, userID, planID, reason string) *EntitlementGrantFailedEvent {
	return &EntitlementGrantFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeEntitlementGrantFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"provider_payment_id": providerPaymentID,
				"user_id":             userID,
				"plan_id":             planID,
				"reason":              reason,
			},
		},
		ProviderPaymentID: providerPaymentID,
		UserID:            userID,
		PlanID:            planID,
		Reason:            reason,
	}
}
