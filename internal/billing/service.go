package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	errors "github.com/storiesoff/backend/internal"
	billingmodel "github.com/storiesoff/backend/internal/core/datamodel/billing"
	"github.com/storiesoff/backend/internal/core/events"
	"github.com/storiesoff/backend/internal/yookassa"
)

// RepositoryAPI is the payment record store. GetByProviderPaymentID returns
// (nil, nil) for a missing row; MarkCompleted is a conditional update that
// reports whether this call performed the pending→completed transition.
type RepositoryAPI interface {
	UpsertPending(ctx context.Context, p *billingmodel.Payment) error
	GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (*billingmodel.Payment, error)
	MarkCompleted(ctx context.Context, providerPaymentID string) (bool, error)
	UpsertPremium(ctx context.Context, p *billingmodel.UserPremium) error
	UpsertLimits(ctx context.Context, l *billingmodel.UserLimits) error
}

// GatewayAPI is the slice of the YooKassa client the lifecycle needs.
type GatewayAPI interface {
	CreatePayment(ctx context.Context, req *yookassa.CreatePaymentRequest) (*yookassa.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*yookassa.Payment, error)
}

type GranterAPI interface {
	Grant(ctx context.Context, userID, planType string, durationDays int) error
}

const webhookEventPaymentSucceeded = "payment.succeeded"

// Service drives the payment lifecycle: initiation against the provider,
// pull-based confirmation, and push-based webhook delivery. The confirm and
// webhook paths converge on completePayment, where the conditional store
// update guarantees the entitlement is granted exactly once per payment no
// matter which path observes success first, or whether both do concurrently.
type Service struct {
	repo          RepositoryAPI
	gateway       GatewayAPI
	granter       GranterAPI
	eventBus      *events.EventBus
	webhookSecret string
	returnURL     string
	logger        *slog.Logger
}

func NewService(repo RepositoryAPI, gateway GatewayAPI, granter GranterAPI, eventBus *events.EventBus, webhookSecret, returnURL string, logger *slog.Logger) *Service {
	return &Service{
		repo:          repo,
		gateway:       gateway,
		granter:       granter,
		eventBus:      eventBus,
		webhookSecret: webhookSecret,
		returnURL:     returnURL,
		logger:        logger,
	}
}

// Initiate validates the request, creates the remote charge and persists the
// pending payment row. Plan validation happens before any provider or store
// call. The row is upserted keyed on the provider charge id so a retried
// initiation that lands on the same charge does not duplicate rows.
func (s *Service) Initiate(ctx context.Context, req *CreatePaymentRequest) (*CreatePaymentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	plan, ok := LookupPlan(req.PlanID)
	if !ok {
		s.logger.Warn("payment initiation with unknown plan", "plan_id", req.PlanID, "user_id", req.UserID)
		return nil, errors.ErrInvalidPlan
	}

	tierTitle := "Premium"
	if plan.Tier == billingmodel.PlanTypeUltra {
		tierTitle = "Ultra"
	}

	charge, err := s.gateway.CreatePayment(ctx, &yookassa.CreatePaymentRequest{
		Amount: yookassa.Amount{
			Value:    strconv.FormatFloat(req.Amount, 'f', 2, 64),
			Currency: req.Currency,
		},
		Confirmation: yookassa.Confirmation{
			Type:      "redirect",
			ReturnURL: s.returnURL,
		},
		Capture:     true,
		Description: fmt.Sprintf("%s - StoriesOff %s", plan.Name, tierTitle),
		Metadata: map[string]string{
			"userId":   req.UserID,
			"planId":   req.PlanID,
			"duration": strconv.Itoa(plan.DurationDays),
		},
	})
	if err != nil {
		s.logger.Error("charge creation failed", "error", err, "user_id", req.UserID, "plan_id", req.PlanID)
		return nil, err
	}

	payment := &billingmodel.Payment{
		UserID:            req.UserID,
		PlanID:            req.PlanID,
		ProviderPaymentID: charge.ID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Status:            billingmodel.StatusPending,
		Email:             req.Email,
	}
	if err := s.repo.UpsertPending(ctx, payment); err != nil {
		s.logger.Error("failed to persist pending payment",
			"error", err,
			"provider_payment_id", charge.ID,
			"user_id", req.UserID)
		return nil, errors.NewPersistenceError("failed to create payment", err)
	}

	s.logger.Info("payment initiated",
		"provider_payment_id", charge.ID,
		"user_id", req.UserID,
		"plan_id", req.PlanID,
		"amount", req.Amount,
		"currency", req.Currency)

	return &CreatePaymentResponse{
		Success:         true,
		PaymentID:       charge.ID,
		ConfirmationURL: charge.ConfirmationURL(),
	}, nil
}

// Confirm is the pull path. The provider is re-queried for the charge's
// authoritative status; a client-supplied status is never trusted. A charge
// that has not succeeded yet is reported as PaymentNotCompleted and the
// caller polls again later.
func (s *Service) Confirm(ctx context.Context, providerPaymentID string) error {
	if providerPaymentID == "" {
		return errors.NewValidationError("Payment ID is required", errors.ErrCodeMissingFields)
	}

	payment, err := s.repo.GetByProviderPaymentID(ctx, providerPaymentID)
	if err != nil {
		return errors.NewPersistenceError("failed to look up payment", err)
	}
	if payment == nil {
		return errors.ErrPaymentNotFound
	}

	charge, err := s.gateway.GetPayment(ctx, providerPaymentID)
	if err != nil {
		return err
	}

	if charge.Status != yookassa.StatusSucceeded {
		s.logger.Info("confirm attempted on uncompleted charge",
			"provider_payment_id", providerPaymentID,
			"remote_status", charge.Status)
		return errors.ErrPaymentNotCompleted
	}

	if payment.IsCompleted() {
		// Webhook (or an earlier poll) already processed it.
		return nil
	}

	return s.completePayment(ctx, payment)
}

// HandleWebhook is the push path. The HMAC signature over the raw body is
// the sole authentication for this endpoint; the payload is trusted once it
// verifies. Redeliveries of an already-processed event are acknowledged
// without further writes.
func (s *Service) HandleWebhook(ctx context.Context, signature string, rawBody []byte) (*WebhookResponse, error) {
	if signature == "" {
		return nil, errors.NewValidationError("Missing signature", errors.ErrCodeMissingFields)
	}
	if !s.verifySignature(signature, rawBody) {
		s.logger.Warn("webhook with invalid signature rejected")
		return nil, errors.ErrInvalidSignature
	}

	var event WebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil, errors.NewValidationError("Invalid webhook payload", errors.ErrCodeValidationFailed).WithCause(err)
	}

	if event.Event != webhookEventPaymentSucceeded {
		s.logger.Info("webhook event ignored", "event", event.Event)
		return &WebhookResponse{Success: true, Message: "Event ignored"}, nil
	}

	providerPaymentID := event.Object.ID
	userID := event.Object.Metadata["userId"]
	if providerPaymentID == "" || userID == "" {
		return nil, errors.ErrMissingFields
	}

	payment, err := s.repo.GetByProviderPaymentID(ctx, providerPaymentID)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to look up payment", err)
	}
	if payment == nil {
		return nil, errors.ErrPaymentNotFound
	}

	if payment.IsCompleted() {
		return &WebhookResponse{Success: true, Message: "Payment already processed"}, nil
	}

	if err := s.completePayment(ctx, payment); err != nil {
		return nil, err
	}

	return &WebhookResponse{Success: true, Message: "Payment processed successfully"}, nil
}

func (s *Service) verifySignature(signature string, rawBody []byte) bool {
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// completePayment performs the single pending→completed transition and runs
// the granter. The conditional update decides the race between the confirm
// and webhook paths: only the caller whose update flipped the row grants the
// entitlement; everyone else returns success without writing.
func (s *Service) completePayment(ctx context.Context, payment *billingmodel.Payment) error {
	won, err := s.repo.MarkCompleted(ctx, payment.ProviderPaymentID)
	if err != nil {
		s.logger.Error("failed to mark payment completed",
			"error", err,
			"provider_payment_id", payment.ProviderPaymentID)
		return errors.NewPersistenceError("failed to update payment", err)
	}
	if !won {
		s.logger.Info("payment completed by concurrent path",
			"provider_payment_id", payment.ProviderPaymentID)
		return nil
	}

	plan, ok := LookupPlan(payment.PlanID)
	if !ok {
		// A stored row referencing a plan no longer in the catalog.
		s.logger.Error("completed payment references unknown plan",
			"provider_payment_id", payment.ProviderPaymentID,
			"plan_id", payment.PlanID)
		return errors.ErrInvalidPlan
	}

	if err := s.granter.Grant(ctx, payment.UserID, plan.Tier, plan.DurationDays); err != nil {
		// The payment row is already completed: the user has paid without
		// receiving the entitlement. Surfaced loudly for manual
		// reconciliation; there is no compensating rollback.
		s.logger.Error("payment completed but entitlement grant failed",
			"error", err,
			"provider_payment_id", payment.ProviderPaymentID,
			"user_id", payment.UserID,
			"plan_id", payment.PlanID)
		s.eventBus.Publish(ctx, events.NewEntitlementGrantFailedEvent(
			payment.ProviderPaymentID, payment.UserID, payment.PlanID, err.Error()))
		return err
	}

	s.eventBus.Publish(ctx, events.NewPaymentCompletedEvent(
		payment.ID, payment.ProviderPaymentID, payment.UserID, payment.PlanID, payment.Amount, payment.Currency))

	s.logger.Info("payment completed and entitlement granted",
		"provider_payment_id", payment.ProviderPaymentID,
		"user_id", payment.UserID,
		"plan_id", payment.PlanID,
		"plan_type", plan.Tier)

	return nil
}
