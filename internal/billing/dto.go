package billing

import (
	"github.com/storiesoff/backend/internal/core/common/validation"
)

// CreatePaymentRequest is the body of POST /api/premium/payment.
type CreatePaymentRequest struct {
	UserID   string  `json:"userId"`
	PlanID   string  `json:"planId"`
	Email    string  `json:"email"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

func (r *CreatePaymentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("userId", r.UserID).Required()
	validator.Field("planId", r.PlanID).Required()
	validator.Field("email", r.Email).Required()
	validator.Field("amount", r.Amount).Required()
	validator.Field("currency", r.Currency).Required()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// CreatePaymentResponse returns the provider charge id and the hosted page
// the client must redirect the user to.
type CreatePaymentResponse struct {
	Success         bool   `json:"success"`
	PaymentID       string `json:"paymentId"`
	ConfirmationURL string `json:"confirmationUrl"`
}

type ConfirmPaymentResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// WebhookEvent is the YooKassa notification payload. Only the fields the
// lifecycle needs are decoded; everything else in the body is covered by the
// signature but ignored.
type WebhookEvent struct {
	Event  string `json:"event"`
	Object struct {
		ID       string            `json:"id"`
		Status   string            `json:"status"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}

type WebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
