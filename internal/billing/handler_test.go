package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	errors "github.com/storiesoff/backend/internal"
	billingPkg "github.com/storiesoff/backend/internal/billing"
	"github.com/storiesoff/backend/internal/transport"
)

type mockService struct {
	initiateResp *billingPkg.CreatePaymentResponse
	initiateErr  error
	confirmErr   error
	webhookResp  *billingPkg.WebhookResponse
	webhookErr   error

	confirmedID   string
	gotSignature  string
	gotRawBody    []byte
	initiateCalls int
}

func (m *mockService) Initiate(ctx context.Context, req *billingPkg.CreatePaymentRequest) (*billingPkg.CreatePaymentResponse, error) {
	m.initiateCalls++
	if m.initiateErr != nil {
		return nil, m.initiateErr
	}
	return m.initiateResp, nil
}

func (m *mockService) Confirm(ctx context.Context, providerPaymentID string) error {
	m.confirmedID = providerPaymentID
	return m.confirmErr
}

func (m *mockService) HandleWebhook(ctx context.Context, signature string, rawBody []byte) (*billingPkg.WebhookResponse, error) {
	m.gotSignature = signature
	m.gotRawBody = rawBody
	if m.webhookErr != nil {
		return nil, m.webhookErr
	}
	return m.webhookResp, nil
}

var _ = Describe("BillingHandler", func() {
	var (
		handler        *billingPkg.Handler
		webhookHandler *billingPkg.WebhookHandler
		service        *mockService
		router         *chi.Mux
	)

	BeforeEach(func() {
		service = &mockService{}
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		base := transport.NewBaseHandler(logger)
		handler = billingPkg.NewHandler(base, service, logger)
		webhookHandler = billingPkg.NewWebhookHandler(base, service, logger)

		router = chi.NewRouter()
		router.Post("/api/premium/payment", handler.CreatePayment)
		router.Post("/api/premium/confirm/{paymentID}", handler.ConfirmPayment)
		router.Get("/api/premium/plans", handler.GetPlans)
		router.Post("/api/premium/webhook", webhookHandler.HandleWebhook)
	})

	Describe("CreatePayment", func() {
		It("returns the provider payment id and confirmation URL", func() {
			service.initiateResp = &billingPkg.CreatePaymentResponse{
				Success:         true,
				PaymentID:       "yk-1",
				ConfirmationURL: "https://yookassa.ru/checkout/yk-1",
			}
			body := `{"userId":"u1","planId":"premium-monthly","email":"u@example.com","amount":299,"currency":"RUB"}`

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/premium/payment", bytes.NewBufferString(body)))

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp billingPkg.CreatePaymentResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.PaymentID).To(Equal("yk-1"))
			Expect(resp.ConfirmationURL).To(ContainSubstring("checkout"))
		})

		It("rejects a malformed body without touching the service", func() {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/premium/payment", bytes.NewBufferString("{not json")))

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(service.initiateCalls).To(BeZero())
		})

		It("maps service errors onto their HTTP status", func() {
			service.initiateErr = errors.ErrInvalidPlan
			body := `{"userId":"u1","planId":"bogus","email":"u@example.com","amount":299,"currency":"RUB"}`

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/premium/payment", bytes.NewBufferString(body)))

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("INVALID_PLAN"))
		})

		It("returns 502 when the provider is unavailable", func() {
			service.initiateErr = errors.ErrProviderUnavailable
			body := `{"userId":"u1","planId":"premium-monthly","email":"u@example.com","amount":299,"currency":"RUB"}`

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/premium/payment", bytes.NewBufferString(body)))

			Expect(rec.Code).To(Equal(http.StatusBadGateway))
		})
	})

	Describe("ConfirmPayment", func() {
		It("passes the path parameter to the service", func() {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/premium/confirm/yk-42", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(service.confirmedID).To(Equal("yk-42"))
			Expect(rec.Body.String()).To(ContainSubstring("Premium subscription activated successfully"))
		})

		It("returns 404 for an unknown payment", func() {
			service.confirmErr = errors.ErrPaymentNotFound

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/premium/confirm/yk-404", nil))

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("returns 400 while the charge is still pending", func() {
			service.confirmErr = errors.ErrPaymentNotCompleted

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/premium/confirm/yk-42", nil))

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("PAYMENT_NOT_COMPLETED"))
		})
	})

	Describe("GetPlans", func() {
		It("lists the catalog in stable order", func() {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/premium/plans", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			var plans []billingPkg.Plan
			Expect(json.Unmarshal(rec.Body.Bytes(), &plans)).To(Succeed())
			Expect(plans).To(HaveLen(4))
			Expect(plans[0].ID).To(Equal("premium-monthly"))
			Expect(plans[3].ID).To(Equal("ultra-yearly"))
			Expect(plans[0].DurationDays).To(Equal(30))
			Expect(plans[1].DurationDays).To(Equal(365))
		})

		It("does not expose the internal tier field", func() {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/premium/plans", nil))

			var raw []map[string]interface{}
			Expect(json.Unmarshal(rec.Body.Bytes(), &raw)).To(Succeed())
			Expect(raw[0]).ToNot(HaveKey("Tier"))
			Expect(raw[0]).To(HaveKey("duration"))
		})
	})

	Describe("Webhook endpoint", func() {
		It("hands the raw body and signature header to the service", func() {
			service.webhookResp = &billingPkg.WebhookResponse{Success: true, Message: "Payment processed successfully"}
			body := `{"event":"payment.succeeded","object":{"id":"yk-1","metadata":{"userId":"u1"}}}`

			req := httptest.NewRequest(http.MethodPost, "/api/premium/webhook", bytes.NewBufferString(body))
			req.Header.Set("X-Yookassa-Signature", "deadbeef")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(service.gotSignature).To(Equal("deadbeef"))
			Expect(string(service.gotRawBody)).To(Equal(body))
		})

		It("returns 400 when the service rejects the signature", func() {
			service.webhookErr = errors.ErrInvalidSignature

			req := httptest.NewRequest(http.MethodPost, "/api/premium/webhook", bytes.NewBufferString("{}"))
			req.Header.Set("X-Yookassa-Signature", "wrong")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("INVALID_SIGNATURE"))
		})
	})
})
