package billing_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	errors "github.com/storiesoff/backend/internal"
	billingPkg "github.com/storiesoff/backend/internal/billing"
	billingmodel "github.com/storiesoff/backend/internal/core/datamodel/billing"
)

// entitlementRepo records the upserts the granter performs.
type entitlementRepo struct {
	mu         sync.Mutex
	premium    map[string]*billingmodel.UserPremium
	limits     map[string]*billingmodel.UserLimits
	premiumErr error
	limitsErr  error
}

func newEntitlementRepo() *entitlementRepo {
	return &entitlementRepo{
		premium: make(map[string]*billingmodel.UserPremium),
		limits:  make(map[string]*billingmodel.UserLimits),
	}
}

func (r *entitlementRepo) UpsertPending(ctx context.Context, p *billingmodel.Payment) error {
	return nil
}

func (r *entitlementRepo) GetByProviderPaymentID(ctx context.Context, id string) (*billingmodel.Payment, error) {
	return nil, nil
}

func (r *entitlementRepo) MarkCompleted(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (r *entitlementRepo) UpsertPremium(ctx context.Context, p *billingmodel.UserPremium) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.premiumErr != nil {
		return r.premiumErr
	}
	r.premium[p.UserID] = p
	return nil
}

func (r *entitlementRepo) UpsertLimits(ctx context.Context, l *billingmodel.UserLimits) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limitsErr != nil {
		return r.limitsErr
	}
	r.limits[l.UserID] = l
	return nil
}

var _ = Describe("Granter", func() {
	var (
		repo    *entitlementRepo
		granter *billingPkg.Granter
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = newEntitlementRepo()
		granter = billingPkg.NewGranter(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	})

	Context("when both writes succeed", func() {
		It("activates the subscription with the expiry derived from the duration", func() {
			err := granter.Grant(ctx, "user-1", billingmodel.PlanTypePremium, 30)

			Expect(err).ToNot(HaveOccurred())
			premium := repo.premium["user-1"]
			Expect(premium).ToNot(BeNil())
			Expect(premium.IsActive).To(BeTrue())
			Expect(premium.PlanType).To(Equal(billingmodel.PlanTypePremium))
			Expect(premium.ExpiresAt).To(BeTemporally("~", time.Now().UTC().AddDate(0, 0, 30), time.Minute))
		})

		It("mirrors the tier into the usage limits", func() {
			Expect(granter.Grant(ctx, "user-1", billingmodel.PlanTypeUltra, 365)).To(Succeed())

			limits := repo.limits["user-1"]
			Expect(limits).ToNot(BeNil())
			Expect(limits.SubscriptionType).To(Equal(billingmodel.PlanTypeUltra))
		})

		It("overwrites an existing grant instead of extending it", func() {
			Expect(granter.Grant(ctx, "user-1", billingmodel.PlanTypePremium, 365)).To(Succeed())
			Expect(granter.Grant(ctx, "user-1", billingmodel.PlanTypeUltra, 30)).To(Succeed())

			premium := repo.premium["user-1"]
			Expect(premium.PlanType).To(Equal(billingmodel.PlanTypeUltra))
			Expect(premium.ExpiresAt).To(BeTemporally("~", time.Now().UTC().AddDate(0, 0, 30), time.Minute))
		})
	})

	Context("when the subscription write fails", func() {
		It("returns a persistence error and writes no limits", func() {
			repo.premiumErr = fmt.Errorf("deadlock detected")

			err := granter.Grant(ctx, "user-1", billingmodel.PlanTypePremium, 30)

			appErr, ok := errors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(errors.ErrCodePersistenceFailed))
			Expect(repo.limits).To(BeEmpty())
		})
	})

	Context("when the limits write fails after the subscription write", func() {
		It("surfaces the error and leaves the subscription in place", func() {
			repo.limitsErr = fmt.Errorf("connection lost")

			err := granter.Grant(ctx, "user-1", billingmodel.PlanTypePremium, 30)

			appErr, ok := errors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(errors.ErrCodePersistenceFailed))
			Expect(repo.premium).To(HaveKey("user-1"))
		})
	})
})
