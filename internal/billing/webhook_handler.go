package billing

import (
	"io"
	"log/slog"
	"net/http"

	errors "github.com/storiesoff/backend/internal"
	"github.com/storiesoff/backend/internal/transport"
)

// webhookBodyLimit caps notification payloads; YooKassa events are small.
const webhookBodyLimit = 1 << 20

// WebhookHandler receives provider notifications. The X-Yookassa-Signature
// header is the only authentication on this endpoint, so the raw body must
// be read before any decoding and handed to the service untouched.
type WebhookHandler struct {
	*transport.BaseHandler
	Service ServiceAPI
	Logger  *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, service ServiceAPI, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		Service:     service,
		Logger:      logger,
	}
}

// HandleWebhook handles POST /api/premium/webhook
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		h.Logger.Error("failed to read webhook body", "error", err)
		h.HandleError(w, errors.NewValidationError("failed to read request body", errors.ErrCodeValidationFailed))
		return
	}

	signature := r.Header.Get("X-Yookassa-Signature")

	resp, err := h.Service.HandleWebhook(r.Context(), signature, rawBody)
	if err != nil {
		h.Logger.Error("webhook processing failed", "error", err)
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}
