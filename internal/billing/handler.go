package billing

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/storiesoff/backend/internal"
	"github.com/storiesoff/backend/internal/transport"
)

// ServiceAPI is what the HTTP layer needs from the lifecycle service.
type ServiceAPI interface {
	Initiate(ctx context.Context, req *CreatePaymentRequest) (*CreatePaymentResponse, error)
	Confirm(ctx context.Context, providerPaymentID string) error
	HandleWebhook(ctx context.Context, signature string, rawBody []byte) (*WebhookResponse, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
	Logger  *slog.Logger
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
		Logger:      logger,
	}
}

// CreatePayment handles POST /api/premium/payment
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CreatePayment: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	resp, err := h.Service.Initiate(r.Context(), &req)
	if err != nil {
		h.Logger.Error("CreatePayment: service error", "error", err, "user_id", req.UserID, "plan_id", req.PlanID)
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// ConfirmPayment handles POST /api/premium/confirm/{paymentID}
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")
	if paymentID == "" {
		h.HandleError(w, errors.NewValidationError("Payment ID is required", errors.ErrCodeMissingFields))
		return
	}

	if err := h.Service.Confirm(r.Context(), paymentID); err != nil {
		h.Logger.Error("ConfirmPayment: service error", "error", err, "provider_payment_id", paymentID)
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ConfirmPaymentResponse{
		Success: true,
		Message: "Premium subscription activated successfully",
	})
}

// GetPlans handles GET /api/premium/plans
func (h *Handler) GetPlans(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, Plans())
}
