package billing_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	errors "github.com/storiesoff/backend/internal"
	billingPkg "github.com/storiesoff/backend/internal/billing"
	billingmodel "github.com/storiesoff/backend/internal/core/datamodel/billing"
	"github.com/storiesoff/backend/internal/core/events"
	"github.com/storiesoff/backend/internal/yookassa"
)

func TestBillingService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Billing Service Suite")
}

const testWebhookSecret = "test-webhook-secret"

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Mock repository with conditional-update semantics matching the real store
type mockRepository struct {
	mu       sync.Mutex
	payments map[string]*billingmodel.Payment

	upsertPendingErr error
	getErr           error
	markErr          error
	premiumErr       error
	limitsErr        error

	markCalls int
}

func newMockRepository() *mockRepository {
	return &mockRepository{payments: make(map[string]*billingmodel.Payment)}
}

func (m *mockRepository) UpsertPending(ctx context.Context, p *billingmodel.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertPendingErr != nil {
		return m.upsertPendingErr
	}
	p.ID = int64(len(m.payments) + 1)
	m.payments[p.ProviderPaymentID] = p
	return nil
}

func (m *mockRepository) GetByProviderPaymentID(ctx context.Context, providerPaymentID string) (*billingmodel.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.payments[providerPaymentID]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

// MarkCompleted flips pending to completed; only one caller wins the flip.
func (m *mockRepository) MarkCompleted(ctx context.Context, providerPaymentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markCalls++
	if m.markErr != nil {
		return false, m.markErr
	}
	p, ok := m.payments[providerPaymentID]
	if !ok || p.Status != billingmodel.StatusPending {
		return false, nil
	}
	p.Status = billingmodel.StatusCompleted
	return true, nil
}

func (m *mockRepository) UpsertPremium(ctx context.Context, p *billingmodel.UserPremium) error {
	return m.premiumErr
}

func (m *mockRepository) UpsertLimits(ctx context.Context, l *billingmodel.UserLimits) error {
	return m.limitsErr
}

type mockGateway struct {
	mu          sync.Mutex
	createResp  *yookassa.Payment
	createErr   error
	getResp     *yookassa.Payment
	getErr      error
	createCalls int
	getCalls    int
	lastCreate  *yookassa.CreatePaymentRequest
}

func (m *mockGateway) CreatePayment(ctx context.Context, req *yookassa.CreatePaymentRequest) (*yookassa.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.lastCreate = req
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.createResp, nil
}

func (m *mockGateway) GetPayment(ctx context.Context, paymentID string) (*yookassa.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.getResp, nil
}

type grantCall struct {
	userID       string
	planType     string
	durationDays int
}

type mockGranter struct {
	mu       sync.Mutex
	grants   []grantCall
	grantErr error
}

func (m *mockGranter) Grant(ctx context.Context, userID, planType string, durationDays int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grantErr != nil {
		return m.grantErr
	}
	m.grants = append(m.grants, grantCall{userID: userID, planType: planType, durationDays: durationDays})
	return nil
}

func (m *mockGranter) grantCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.grants)
}

var _ = Describe("BillingService", func() {
	var (
		service  *billingPkg.Service
		repo     *mockRepository
		gateway  *mockGateway
		granter  *mockGranter
		eventBus *events.EventBus
		logger   *slog.Logger
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		repo = newMockRepository()
		granter = &mockGranter{}
		eventBus = events.NewEventBus(logger)
		gateway = &mockGateway{
			createResp: &yookassa.Payment{
				ID:     "yk-charge-1",
				Status: yookassa.StatusPending,
				Confirmation: &yookassa.Confirmation{
					Type:            "redirect",
					ConfirmationURL: "https://yookassa.ru/checkout/yk-charge-1",
				},
			},
		}

		service = billingPkg.NewService(repo, gateway, granter, eventBus, testWebhookSecret, "https://app.example.com/return", logger)
	})

	validRequest := func() *billingPkg.CreatePaymentRequest {
		return &billingPkg.CreatePaymentRequest{
			UserID:   "user-1",
			PlanID:   "premium-monthly",
			Email:    "user@example.com",
			Amount:   299,
			Currency: "RUB",
		}
	}

	seedPending := func(providerPaymentID, userID, planID string) {
		repo.payments[providerPaymentID] = &billingmodel.Payment{
			ID:                1,
			UserID:            userID,
			PlanID:            planID,
			ProviderPaymentID: providerPaymentID,
			Amount:            299,
			Currency:          "RUB",
			Status:            billingmodel.StatusPending,
		}
	}

	Describe("Initiate", func() {
		Context("when the request is valid", func() {
			It("creates the charge and persists a pending record", func() {
				resp, err := service.Initiate(ctx, validRequest())

				Expect(err).ToNot(HaveOccurred())
				Expect(resp.Success).To(BeTrue())
				Expect(resp.PaymentID).To(Equal("yk-charge-1"))
				Expect(resp.ConfirmationURL).To(Equal("https://yookassa.ru/checkout/yk-charge-1"))

				stored := repo.payments["yk-charge-1"]
				Expect(stored).ToNot(BeNil())
				Expect(stored.Status).To(Equal(billingmodel.StatusPending))
				Expect(stored.UserID).To(Equal("user-1"))
				Expect(stored.PlanID).To(Equal("premium-monthly"))
			})

			It("sends plan metadata with the charge", func() {
				_, err := service.Initiate(ctx, validRequest())

				Expect(err).ToNot(HaveOccurred())
				Expect(gateway.lastCreate.Metadata).To(HaveKeyWithValue("userId", "user-1"))
				Expect(gateway.lastCreate.Metadata).To(HaveKeyWithValue("planId", "premium-monthly"))
				Expect(gateway.lastCreate.Metadata).To(HaveKeyWithValue("duration", "30"))
				Expect(gateway.lastCreate.Amount.Value).To(Equal("299.00"))
				Expect(gateway.lastCreate.Capture).To(BeTrue())
			})
		})

		Context("when required fields are missing", func() {
			It("rejects the request without calling the provider", func() {
				req := validRequest()
				req.Email = ""

				resp, err := service.Initiate(ctx, req)

				Expect(resp).To(BeNil())
				appErr, ok := errors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.StatusCode).To(Equal(400))
				Expect(gateway.createCalls).To(BeZero())
				Expect(repo.payments).To(BeEmpty())
			})
		})

		Context("when the plan is unknown", func() {
			It("fails before any provider or store call", func() {
				req := validRequest()
				req.PlanID = "mega-weekly"

				resp, err := service.Initiate(ctx, req)

				Expect(resp).To(BeNil())
				appErr, ok := errors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(errors.ErrCodeInvalidPlan))
				Expect(gateway.createCalls).To(BeZero())
				Expect(repo.payments).To(BeEmpty())
			})
		})

		Context("when the provider is down", func() {
			It("maps the failure to provider unavailable and writes nothing", func() {
				gateway.createErr = errors.NewProviderUnavailableError(fmt.Errorf("connection refused"))

				resp, err := service.Initiate(ctx, validRequest())

				Expect(resp).To(BeNil())
				appErr, ok := errors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(errors.ErrCodeProviderUnavailable))
				Expect(appErr.StatusCode).To(Equal(502))
				Expect(repo.payments).To(BeEmpty())
			})
		})

		Context("when persisting the pending record fails", func() {
			It("surfaces a persistence error", func() {
				repo.upsertPendingErr = fmt.Errorf("connection reset")

				resp, err := service.Initiate(ctx, validRequest())

				Expect(resp).To(BeNil())
				appErr, ok := errors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(errors.ErrCodePersistenceFailed))
			})
		})
	})

	Describe("Confirm", func() {
		BeforeEach(func() {
			seedPending("yk-charge-1", "user-1", "premium-monthly")
			gateway.getResp = &yookassa.Payment{ID: "yk-charge-1", Status: yookassa.StatusSucceeded}
		})

		Context("when the charge succeeded on the provider side", func() {
			It("completes the payment and grants the entitlement", func() {
				err := service.Confirm(ctx, "yk-charge-1")

				Expect(err).ToNot(HaveOccurred())
				Expect(repo.payments["yk-charge-1"].Status).To(Equal(billingmodel.StatusCompleted))
				Expect(granter.grants).To(HaveLen(1))
				Expect(granter.grants[0].userID).To(Equal("user-1"))
				Expect(granter.grants[0].planType).To(Equal(billingmodel.PlanTypePremium))
				Expect(granter.grants[0].durationDays).To(Equal(30))
			})

			It("publishes a completion event", func() {
				var completed int32
				var mu sync.Mutex
				eventBus.Subscribe(events.EventTypePaymentCompleted, func(ctx context.Context, event events.Event) error {
					mu.Lock()
					completed++
					mu.Unlock()
					return nil
				})

				Expect(service.Confirm(ctx, "yk-charge-1")).To(Succeed())

				Eventually(func() int32 {
					mu.Lock()
					defer mu.Unlock()
					return completed
				}).Should(Equal(int32(1)))
			})

			It("grants the ultra tier for a yearly ultra plan", func() {
				seedPending("yk-charge-2", "user-2", "ultra-yearly")
				gateway.getResp = &yookassa.Payment{ID: "yk-charge-2", Status: yookassa.StatusSucceeded}

				Expect(service.Confirm(ctx, "yk-charge-2")).To(Succeed())

				Expect(granter.grants).To(HaveLen(1))
				Expect(granter.grants[0].planType).To(Equal(billingmodel.PlanTypeUltra))
				Expect(granter.grants[0].durationDays).To(Equal(365))
			})
		})

		Context("when the payment id is unknown", func() {
			It("returns payment not found", func() {
				err := service.Confirm(ctx, "yk-charge-unknown")

				appErr, ok := errors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(errors.ErrCodePaymentNotFound))
				Expect(appErr.StatusCode).To(Equal(404))
			})
		})

		Context("when the charge is still pending on the provider side", func() {
			It("reports payment not completed and grants nothing", func() {
				gateway.getResp = &yookassa.Payment{ID: "yk-charge-1", Status: yookassa.StatusPending}

				err := service.Confirm(ctx, "yk-charge-1")

				appErr, ok := errors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(errors.ErrCodePaymentNotCompleted))
				Expect(appErr.StatusCode).To(Equal(400))
				Expect(granter.grantCount()).To(BeZero())
				Expect(repo.payments["yk-charge-1"].Status).To(Equal(billingmodel.StatusPending))
			})
		})

		Context("when the payment was already completed", func() {
			It("succeeds without granting again", func() {
				repo.payments["yk-charge-1"].Status = billingmodel.StatusCompleted

				Expect(service.Confirm(ctx, "yk-charge-1")).To(Succeed())
				Expect(granter.grantCount()).To(BeZero())
			})
		})

		Context("when the provider lookup fails", func() {
			It("propagates provider unavailable", func() {
				gateway.getErr = errors.NewProviderUnavailableError(fmt.Errorf("timeout"))

				err := service.Confirm(ctx, "yk-charge-1")

				appErr, ok := errors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(errors.ErrCodeProviderUnavailable))
			})
		})

		Context("when the entitlement grant fails after completion", func() {
			It("returns the error, keeps the row completed and publishes grant_failed", func() {
				granter.grantErr = errors.NewPersistenceError("limits write failed", fmt.Errorf("disk full"))

				var failed int32
				var mu sync.Mutex
				eventBus.Subscribe(events.EventTypeEntitlementGrantFailed, func(ctx context.Context, event events.Event) error {
					mu.Lock()
					failed++
					mu.Unlock()
					return nil
				})

				err := service.Confirm(ctx, "yk-charge-1")

				Expect(err).To(HaveOccurred())
				Expect(repo.payments["yk-charge-1"].Status).To(Equal(billingmodel.StatusCompleted))
				Eventually(func() int32 {
					mu.Lock()
					defer mu.Unlock()
					return failed
				}).Should(Equal(int32(1)))
			})
		})
	})

	Describe("HandleWebhook", func() {
		var body []byte

		BeforeEach(func() {
			seedPending("yk-charge-1", "user-1", "premium-monthly")
			body = []byte(`{"event":"payment.succeeded","object":{"id":"yk-charge-1","status":"succeeded","metadata":{"userId":"user-1","planId":"premium-monthly"}}}`)
		})

		Context("when the signature is valid", func() {
			It("completes the payment and grants the entitlement", func() {
				resp, err := service.HandleWebhook(ctx, signBody(body), body)

				Expect(err).ToNot(HaveOccurred())
				Expect(resp.Success).To(BeTrue())
				Expect(resp.Message).To(Equal("Payment processed successfully"))
				Expect(repo.payments["yk-charge-1"].Status).To(Equal(billingmodel.StatusCompleted))
				Expect(granter.grants).To(HaveLen(1))
			})

			It("acknowledges a redelivery without granting twice", func() {
				_, err := service.HandleWebhook(ctx, signBody(body), body)
				Expect(err).ToNot(HaveOccurred())

				resp, err := service.HandleWebhook(ctx, signBody(body), body)

				Expect(err).ToNot(HaveOccurred())
				Expect(resp.Message).To(Equal("Payment already processed"))
				Expect(granter.grantCount()).To(Equal(1))
			})

			It("ignores non-success events", func() {
				ignored := []byte(`{"event":"payment.canceled","object":{"id":"yk-charge-1","metadata":{"userId":"user-1"}}}`)

				resp, err := service.HandleWebhook(ctx, signBody(ignored), ignored)

				Expect(err).ToNot(HaveOccurred())
				Expect(resp.Message).To(Equal("Event ignored"))
				Expect(granter.grantCount()).To(BeZero())
				Expect(repo.payments["yk-charge-1"].Status).To(Equal(billingmodel.StatusPending))
			})
		})

		Context("when the signature is missing", func() {
			It("rejects the delivery", func() {
				resp, err := service.HandleWebhook(ctx, "", body)

				Expect(resp).To(BeNil())
				appErr, ok := errors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.StatusCode).To(Equal(400))
				Expect(granter.grantCount()).To(BeZero())
			})
		})

		Context("when the signature does not match the body", func() {
			It("rejects the delivery without reading the payload", func() {
				tampered := []byte(`{"event":"payment.succeeded","object":{"id":"yk-charge-1","metadata":{"userId":"attacker"}}}`)

				resp, err := service.HandleWebhook(ctx, signBody(body), tampered)

				Expect(resp).To(BeNil())
				appErr, ok := errors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(errors.ErrCodeInvalidSignature))
				Expect(granter.grantCount()).To(BeZero())
			})
		})

		Context("when the payload lacks the payment id or user id", func() {
			It("reports missing fields", func() {
				incomplete := []byte(`{"event":"payment.succeeded","object":{"id":"yk-charge-1","metadata":{}}}`)

				resp, err := service.HandleWebhook(ctx, signBody(incomplete), incomplete)

				Expect(resp).To(BeNil())
				appErr, ok := errors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(errors.ErrCodeMissingFields))
			})
		})

		Context("when no payment record matches", func() {
			It("reports payment not found", func() {
				unknown := []byte(`{"event":"payment.succeeded","object":{"id":"yk-charge-404","metadata":{"userId":"user-1"}}}`)

				resp, err := service.HandleWebhook(ctx, signBody(unknown), unknown)

				Expect(resp).To(BeNil())
				appErr, ok := errors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(errors.ErrCodePaymentNotFound))
			})
		})
	})

	Describe("concurrent confirm and webhook delivery", func() {
		It("grants the entitlement exactly once", func() {
			seedPending("yk-charge-1", "user-1", "premium-monthly")
			gateway.getResp = &yookassa.Payment{ID: "yk-charge-1", Status: yookassa.StatusSucceeded}
			body := []byte(`{"event":"payment.succeeded","object":{"id":"yk-charge-1","status":"succeeded","metadata":{"userId":"user-1","planId":"premium-monthly"}}}`)
			signature := signBody(body)

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					service.Confirm(ctx, "yk-charge-1")
				}()
				go func() {
					defer wg.Done()
					service.HandleWebhook(ctx, signature, body)
				}()
			}
			wg.Wait()

			Expect(granter.grantCount()).To(Equal(1))
			Expect(repo.payments["yk-charge-1"].Status).To(Equal(billingmodel.StatusCompleted))
		})
	})
})
