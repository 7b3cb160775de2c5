package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/golang/mock/gomock"
	billingdomain "github.com/learnitin/api/internal/billing/domain"
	"github.com/learnitin/api/internal/billing/domain/mocks"
	"github.com/learnitin/api/internal/clock"
	"github.com/learnitin/api/internal/config"
	notificationdomain "github.com/learnitin/api/internal/notification/domain"
	notificationservice "github.com/learnitin/api/internal/notification/service"
	subscriptiondomain "github.com/learnitin/api/internal/subscription/domain"
	"github.com/learnitin/api/internal/subscription/repository"
	usagedomain "github.com/learnitin/api/internal/usage/domain"
	usagerepository "github.com/learnitin/api/internal/usage/repository"
	usageservice "github.com/learnitin/api/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testProduct = "premium_monthly"
	testToken   = "gp-token-0000000000000001"
	testUser    = int64(42)
)

type fixture struct {
	svc      subscriptiondomain.Service
	db       *gorm.DB
	clock    *clock.FakeClock
	verifier *mocks.MockVerifier
}

func TestGetOrCreateFreeSubscriptionIsIdempotent(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	first, err := f.svc.GetOrCreateFreeSubscription(ctx, testUser)
	require.NoError(t, err)
	second, err := f.svc.GetOrCreateFreeSubscription(ctx, testUser)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, subscriptiondomain.FreeProductID, first.ProductID)
	assert.Nil(t, first.PurchaseToken)
	assert.True(t, first.AutoRenew)
	assert.Equal(t, f.clock.Now().Add(30*24*time.Hour), first.ExpiryTime)

	assert.Len(t, f.rows(t, testUser), 1)
	assert.Equal(t, int64(1), f.count(t, &usagedomain.SubscriptionUsage{}, "subscription_id = ?", first.ID))
	assert.Equal(t, int64(1), f.count(t, &notificationdomain.Notification{}, "user_id = ?", testUser))
}

func TestGetOrCreateFreeSubscriptionReplacesStaleActive(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	first, err := f.svc.GetOrCreateFreeSubscription(ctx, testUser)
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)

	second, err := f.svc.GetOrCreateFreeSubscription(ctx, testUser)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	rows := f.rows(t, testUser)
	require.Len(t, rows, 2)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusExpired, rows[0].Status)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, rows[1].Status)
}

func TestVerifyAndSaveCreatesThenUpdates(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	sub := f.seedPremium(t, testUser, testToken)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, testToken, sub.Token())
	assert.Equal(t, int64(1), f.count(t, &usagedomain.SubscriptionUsage{}, "subscription_id = ?", sub.ID))

	f.verifier.EXPECT().Verify(gomock.Any(), testProduct, testToken).Return(billingdomain.VerificationResult{
		ExpiryTime:   f.clock.Now().Add(10 * 24 * time.Hour),
		AutoRenew:    false,
		PaymentState: billingdomain.PaymentStateDeferred,
	}, nil)

	updated, err := f.svc.VerifyAndSave(ctx, subscriptiondomain.VerifyRequest{
		UserID:        testUser + 1,
		ProductID:     testProduct,
		PurchaseToken: testToken,
	})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, updated.ID)
	assert.Equal(t, testUser+1, updated.UserID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, updated.Status)
	assert.False(t, updated.AutoRenew)

	assert.Empty(t, f.rows(t, testUser))
	assert.Len(t, f.rows(t, testUser+1), 1)
}

func TestVerifyAndSaveRejectsFreeProductAndPackageMismatch(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.VerifyAndSave(ctx, subscriptiondomain.VerifyRequest{UserID: testUser, ProductID: "free", PurchaseToken: "x"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidProduct)

	_, err = f.svc.VerifyAndSave(ctx, subscriptiondomain.VerifyRequest{
		UserID:        testUser,
		ProductID:     testProduct,
		PurchaseToken: testToken,
		PackageName:   "com.other.app",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrPackageMismatch)
}

func TestVerifyAndSaveVerificationErrorPersistsNothing(t *testing.T) {
	f := setupService(t)

	f.verifier.EXPECT().Verify(gomock.Any(), testProduct, testToken).
		Return(billingdomain.VerificationResult{}, &billingdomain.VerificationError{ProductID: testProduct, Err: context.DeadlineExceeded})

	_, err := f.svc.VerifyAndSave(context.Background(), subscriptiondomain.VerifyRequest{
		UserID:        testUser,
		ProductID:     testProduct,
		PurchaseToken: testToken,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, billingdomain.ErrVerification))
	assert.Empty(t, f.rows(t, testUser))
}

func TestRenewalCreatesNewRowAndExpiresOld(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	original := f.seedPremium(t, testUser, testToken)
	renewedExpiry := f.clock.Now().Add(60 * 24 * time.Hour)
	f.verifier.EXPECT().Verify(gomock.Any(), testProduct, testToken).Return(billingdomain.VerificationResult{
		ExpiryTime:   renewedExpiry,
		AutoRenew:    true,
		PaymentState: billingdomain.PaymentStateReceived,
	}, nil)

	renewed, err := f.svc.ProcessRenewal(ctx, subscriptiondomain.TransitionRequest{PurchaseToken: testToken})
	require.NoError(t, err)
	require.NotNil(t, renewed)
	assert.NotEqual(t, original.ID, renewed.ID)

	rows := f.rows(t, testUser)
	require.Len(t, rows, 2)
	assert.Equal(t, original.ID, rows[0].ID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusExpired, rows[0].Status)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, rows[1].Status)
	assert.True(t, renewedExpiry.Equal(rows[1].ExpiryTime))
	assert.Equal(t, testToken, rows[0].Token())
	assert.Equal(t, testToken, rows[1].Token())

	assert.Equal(t, int64(1), f.count(t, &usagedomain.SubscriptionUsage{}, "subscription_id = ?", renewed.ID))
	f.assertAtMostOneActive(t, testUser)
}

func TestRenewalVerificationFailureLeavesStateUntouched(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	original := f.seedPremium(t, testUser, testToken)
	f.verifier.EXPECT().Verify(gomock.Any(), testProduct, testToken).
		Return(billingdomain.VerificationResult{}, &billingdomain.VerificationError{ProductID: testProduct, Err: errors.New("unreachable")})

	_, err := f.svc.ProcessRenewal(ctx, subscriptiondomain.TransitionRequest{PurchaseToken: testToken})
	require.ErrorIs(t, err, billingdomain.ErrVerification)

	rows := f.rows(t, testUser)
	require.Len(t, rows, 1)
	assert.Equal(t, original.ID, rows[0].ID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, rows[0].Status)
}

func TestRenewalWithSameIdempotencyKeyAppliesOnce(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	f.seedPremium(t, testUser, testToken)
	f.verifier.EXPECT().Verify(gomock.Any(), testProduct, testToken).Return(billingdomain.VerificationResult{
		ExpiryTime:   f.clock.Now().Add(60 * 24 * time.Hour),
		AutoRenew:    true,
		PaymentState: billingdomain.PaymentStateReceived,
	}, nil).Times(1)

	req := subscriptiondomain.TransitionRequest{PurchaseToken: testToken, IdempotencyKey: "renew-key-1"}
	first, err := f.svc.ProcessRenewal(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.ProcessRenewal(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.rows(t, testUser), 2)
	assert.Equal(t, int64(1), f.count(t, &subscriptiondomain.Transition{}, "idempotency_key = ?", "renew-key-1"))
}

func TestCancellationPreservesAccessUntilExpiry(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	sub := f.seedPremium(t, testUser, testToken)

	canceled, err := f.svc.ProcessCancellation(ctx, subscriptiondomain.TransitionRequest{PurchaseToken: testToken})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, canceled.Status)
	assert.False(t, canceled.AutoRenew)

	active, err := f.svc.GetActiveSubscription(ctx, testUser)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, sub.ID, active.ID)
	assert.False(t, active.AutoRenew)

	_, err = f.svc.RequirePremium(ctx, testUser)
	assert.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)
	active, err = f.svc.GetActiveSubscription(ctx, testUser)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestRestoredPremiumOutranksNewerFreeRow(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	premium := f.seedPremium(t, testUser, testToken)
	f.clock.Advance(35 * 24 * time.Hour)

	current, err := f.svc.ResolveCurrent(ctx, testUser)
	require.NoError(t, err)
	require.True(t, current.IsFree())

	restored := f.seedPremium(t, testUser, testToken)
	require.Equal(t, premium.ID, restored.ID)
	require.Equal(t, subscriptiondomain.SubscriptionStatusActive, restored.Status)

	active, err := f.svc.GetActiveSubscription(ctx, testUser)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, premium.ID, active.ID)

	got, err := f.svc.RequirePremium(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, premium.ID, got.ID)
}

func TestCanceledPremiumOutranksActiveFreeRow(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.GetOrCreateFreeSubscription(ctx, testUser)
	require.NoError(t, err)
	premium := f.seedPremium(t, testUser, testToken)

	_, err = f.svc.ProcessCancellation(ctx, subscriptiondomain.TransitionRequest{PurchaseToken: testToken})
	require.NoError(t, err)

	active, err := f.svc.GetActiveSubscription(ctx, testUser)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, premium.ID, active.ID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, active.Status)

	_, err = f.svc.RequirePremium(ctx, testUser)
	assert.NoError(t, err)
}

func TestCancellationTwiceConverges(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	f.seedPremium(t, testUser, testToken)
	for i := 0; i < 2; i++ {
		sub, err := f.svc.ProcessCancellation(ctx, subscriptiondomain.TransitionRequest{PurchaseToken: testToken})
		require.NoError(t, err)
		assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, sub.Status)
	}
	assert.Len(t, f.rows(t, testUser), 1)
}

func TestInPlaceTransitions(t *testing.T) {
	tests := []struct {
		name          string
		run           func(subscriptiondomain.Service, context.Context, subscriptiondomain.TransitionRequest) (*subscriptiondomain.Subscription, error)
		wantStatus    subscriptiondomain.SubscriptionStatus
		wantAutoRenew bool
	}{
		{name: "expired", run: subscriptiondomain.Service.ProcessExpiration, wantStatus: subscriptiondomain.SubscriptionStatusExpired},
		{name: "revoked", run: subscriptiondomain.Service.ProcessRevocation, wantStatus: subscriptiondomain.SubscriptionStatusExpired},
		{name: "paused", run: subscriptiondomain.Service.ProcessPause, wantStatus: subscriptiondomain.SubscriptionStatusPaused, wantAutoRenew: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupService(t)
			ctx := context.Background()
			sub := f.seedPremium(t, testUser, testToken)

			got, err := tt.run(f.svc, ctx, subscriptiondomain.TransitionRequest{PurchaseToken: testToken})
			require.NoError(t, err)
			assert.Equal(t, sub.ID, got.ID)

			rows := f.rows(t, testUser)
			require.Len(t, rows, 1)
			assert.Equal(t, tt.wantStatus, rows[0].Status)
			assert.Equal(t, tt.wantAutoRenew, rows[0].AutoRenew)

			active, err := f.svc.GetActiveSubscription(ctx, testUser)
			require.NoError(t, err)
			assert.Nil(t, active)
		})
	}
}

func TestGracePeriodAndOnHoldDoNotMutate(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	sub := f.seedPremium(t, testUser, testToken)

	for _, run := range []func(context.Context, subscriptiondomain.TransitionRequest) (*subscriptiondomain.Subscription, error){
		f.svc.ProcessGracePeriod,
		f.svc.ProcessOnHold,
	} {
		got, err := run(ctx, subscriptiondomain.TransitionRequest{PurchaseToken: testToken})
		require.NoError(t, err)
		assert.Equal(t, sub.ID, got.ID)
	}

	rows := f.rows(t, testUser)
	require.Len(t, rows, 1)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, rows[0].Status)
	assert.True(t, rows[0].UpdatedAt.Equal(sub.UpdatedAt))
}

func TestResumeAppliesAuthorityState(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.seedPremium(t, testUser, testToken)

	_, err := f.svc.ProcessPause(ctx, subscriptiondomain.TransitionRequest{PurchaseToken: testToken})
	require.NoError(t, err)

	expiry := f.clock.Now().Add(20 * 24 * time.Hour)
	f.verifier.EXPECT().Verify(gomock.Any(), testProduct, testToken).Return(billingdomain.VerificationResult{
		ExpiryTime:   expiry,
		AutoRenew:    false,
		PaymentState: billingdomain.PaymentStateReceived,
	}, nil)

	resumed, err := f.svc.ProcessResume(ctx, subscriptiondomain.TransitionRequest{PurchaseToken: testToken})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, resumed.Status)
	assert.False(t, resumed.AutoRenew)
	assert.True(t, expiry.Equal(resumed.ExpiryTime))
}

func TestResumeExpiresOtherActiveRows(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.seedPremium(t, testUser, testToken)

	_, err := f.svc.ProcessPause(ctx, subscriptiondomain.TransitionRequest{PurchaseToken: testToken})
	require.NoError(t, err)
	free, err := f.svc.GetOrCreateFreeSubscription(ctx, testUser)
	require.NoError(t, err)
	require.True(t, free.IsFree())

	f.verifier.EXPECT().Verify(gomock.Any(), testProduct, testToken).Return(billingdomain.VerificationResult{
		ExpiryTime:   f.clock.Now().Add(5 * 24 * time.Hour),
		PaymentState: billingdomain.PaymentStateReceived,
	}, nil)
	_, err = f.svc.ProcessResume(ctx, subscriptiondomain.TransitionRequest{PurchaseToken: testToken})
	require.NoError(t, err)

	f.assertAtMostOneActive(t, testUser)
	active, err := f.svc.GetActiveSubscription(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, testProduct, active.ProductID)
}

func TestRecoveryForcesAutoRenew(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.seedPremium(t, testUser, testToken)

	f.verifier.EXPECT().Verify(gomock.Any(), testProduct, testToken).Return(billingdomain.VerificationResult{
		ExpiryTime:   f.clock.Now().Add(30 * 24 * time.Hour),
		AutoRenew:    false,
		PaymentState: billingdomain.PaymentStateReceived,
	}, nil)

	recovered, err := f.svc.ProcessRecovery(ctx, subscriptiondomain.TransitionRequest{PurchaseToken: testToken})
	require.NoError(t, err)
	assert.True(t, recovered.AutoRenew)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, recovered.Status)
}

func TestPurchaseUsesEventProduct(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	free, err := f.svc.GetOrCreateFreeSubscription(ctx, testUser)
	require.NoError(t, err)
	f.seedPremium(t, testUser, testToken)

	f.verifier.EXPECT().Verify(gomock.Any(), "premium_yearly", testToken).Return(billingdomain.VerificationResult{
		ExpiryTime:   f.clock.Now().Add(365 * 24 * time.Hour),
		AutoRenew:    true,
		PaymentState: billingdomain.PaymentStateFreeTrial,
	}, nil)

	purchased, err := f.svc.ProcessPurchase(ctx, subscriptiondomain.TransitionRequest{
		PurchaseToken: testToken,
		ProductID:     "premium_yearly",
	})
	require.NoError(t, err)
	assert.Equal(t, "premium_yearly", purchased.ProductID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, purchased.Status)

	f.assertAtMostOneActive(t, testUser)
	var stored subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&stored, "id = ?", free.ID).Error)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusExpired, stored.Status)
}

func TestTransitionsForUnknownTokenAreNoops(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.seedPremium(t, testUser, testToken)
	before := f.rows(t, testUser)

	runs := map[string]func(context.Context, subscriptiondomain.TransitionRequest) (*subscriptiondomain.Subscription, error){
		"purchase":     f.svc.ProcessPurchase,
		"renewal":      f.svc.ProcessRenewal,
		"cancellation": f.svc.ProcessCancellation,
		"expiration":   f.svc.ProcessExpiration,
		"pause":        f.svc.ProcessPause,
		"resume":       f.svc.ProcessResume,
		"revocation":   f.svc.ProcessRevocation,
		"grace":        f.svc.ProcessGracePeriod,
		"recovery":     f.svc.ProcessRecovery,
		"on_hold":      f.svc.ProcessOnHold,
	}
	for name, run := range runs {
		sub, err := run(ctx, subscriptiondomain.TransitionRequest{PurchaseToken: "unknown-token"})
		assert.NoError(t, err, name)
		assert.Nil(t, sub, name)

		sub, err = run(ctx, subscriptiondomain.TransitionRequest{})
		assert.NoError(t, err, name)
		assert.Nil(t, sub, name)
	}

	assert.Equal(t, before, f.rows(t, testUser))
	assert.Equal(t, int64(1), f.count(t, &subscriptiondomain.Transition{}, "1 = 1"))
}

func TestAtMostOneActiveAcrossSequence(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.GetOrCreateFreeSubscription(ctx, testUser)
	require.NoError(t, err)
	f.seedPremium(t, testUser, testToken)

	f.verifier.EXPECT().Verify(gomock.Any(), gomock.Any(), testToken).Return(billingdomain.VerificationResult{
		ExpiryTime:   f.clock.Now().Add(30 * 24 * time.Hour),
		AutoRenew:    true,
		PaymentState: billingdomain.PaymentStateReceived,
	}, nil).AnyTimes()

	steps := []func(context.Context, subscriptiondomain.TransitionRequest) (*subscriptiondomain.Subscription, error){
		f.svc.ProcessPurchase,
		f.svc.ProcessRenewal,
		f.svc.ProcessCancellation,
		f.svc.ProcessRecovery,
		f.svc.ProcessRenewal,
		f.svc.ProcessPause,
		f.svc.ProcessResume,
		f.svc.ProcessRenewal,
	}
	for i, step := range steps {
		_, err := step(ctx, subscriptiondomain.TransitionRequest{PurchaseToken: testToken, ProductID: testProduct})
		require.NoError(t, err, "step %d", i)
		f.assertAtMostOneActive(t, testUser)
	}
}

func TestResolveCurrentGraceWindow(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	sub := f.seedPremium(t, testUser, testToken)

	f.clock.Set(sub.ExpiryTime.Add(24 * time.Hour))
	current, err := f.svc.ResolveCurrent(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, current.ID, "premium row kept during grace")

	f.clock.Set(sub.ExpiryTime.Add(4 * 24 * time.Hour))
	current, err = f.svc.ResolveCurrent(ctx, testUser)
	require.NoError(t, err)
	assert.True(t, current.IsFree())
	f.assertAtMostOneActive(t, testUser)
}

func TestRequirePremium(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.RequirePremium(ctx, testUser)
	assert.ErrorIs(t, err, subscriptiondomain.ErrPremiumRequired)

	_, err = f.svc.GetOrCreateFreeSubscription(ctx, testUser)
	require.NoError(t, err)
	_, err = f.svc.RequirePremium(ctx, testUser)
	assert.ErrorIs(t, err, subscriptiondomain.ErrPremiumRequired)

	sub := f.seedPremium(t, testUser, testToken)
	got, err := f.svc.RequirePremium(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
}

func TestResyncRequiresOwnedRow(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()
	f.seedPremium(t, testUser, testToken)

	_, err := f.svc.Resync(ctx, testUser, "missing")
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
	_, err = f.svc.Resync(ctx, testUser+7, testToken)
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)

	f.verifier.EXPECT().Verify(gomock.Any(), testProduct, testToken).Return(billingdomain.VerificationResult{
		ExpiryTime:   f.clock.Now().Add(-time.Second),
		PaymentState: billingdomain.PaymentStateReceived,
	}, nil)
	sub, err := f.svc.Resync(ctx, testUser, testToken)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusExpired, sub.Status)
}

func TestListHistoryNewestFirst(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.GetOrCreateFreeSubscription(ctx, testUser)
	require.NoError(t, err)
	premium := f.seedPremium(t, testUser, testToken)

	resp, err := f.svc.ListHistory(ctx, subscriptiondomain.ListHistoryRequest{UserID: testUser, PageSize: 1})
	require.NoError(t, err)
	require.Len(t, resp.Subscriptions, 1)
	assert.Equal(t, premium.ID, resp.Subscriptions[0].ID)
	assert.True(t, resp.HasMore)

	next, err := f.svc.ListHistory(ctx, subscriptiondomain.ListHistoryRequest{UserID: testUser, PageSize: 1, PageToken: resp.NextPageToken})
	require.NoError(t, err)
	require.Len(t, next.Subscriptions, 1)
	assert.True(t, next.Subscriptions[0].IsFree())
}

func setupService(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error
	if err := db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.Transition{},
		&usagedomain.SubscriptionUsage{},
		&notificationdomain.Notification{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	cfg := config.Config{
		GooglePlay: config.GooglePlayConfig{PackageName: "com.learnitin.app"},
		Subscription: config.SubscriptionConfig{
			GracePeriodDays:  3,
			FreePlanDuration: 30 * 24 * time.Hour,
		},
	}

	usageSvc := usageservice.NewService(usageservice.ServiceParam{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  usagerepository.Provide(),
		Plans: config.NewStaticPlanConfigHolder(config.DefaultPlanConfig()),
	})
	notifier := notificationservice.NewService(notificationservice.ServiceParam{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
	})

	verifier := mocks.NewMockVerifier(gomock.NewController(t))

	svc := NewService(ServiceParam{
		DB:       db,
		Log:      log,
		Cfg:      cfg,
		GenID:    node,
		Clock:    clk,
		Repo:     repository.Provide(),
		Verifier: verifier,
		UsageSvc: usageSvc,
		Notifier: notifier,
	})

	return &fixture{svc: svc, db: db, clock: clk, verifier: verifier}
}

// seedPremium stores an ACTIVE premium row through the client verify path.
func (f *fixture) seedPremium(t *testing.T, userID int64, token string) *subscriptiondomain.Subscription {
	t.Helper()

	f.verifier.EXPECT().Verify(gomock.Any(), testProduct, token).Return(billingdomain.VerificationResult{
		ExpiryTime:   f.clock.Now().Add(30 * 24 * time.Hour),
		AutoRenew:    true,
		PaymentState: billingdomain.PaymentStateReceived,
	}, nil)

	sub, err := f.svc.VerifyAndSave(context.Background(), subscriptiondomain.VerifyRequest{
		UserID:        userID,
		ProductID:     testProduct,
		PurchaseToken: token,
		PackageName:   "com.learnitin.app",
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) rows(t *testing.T, userID int64) []subscriptiondomain.Subscription {
	t.Helper()
	var rows []subscriptiondomain.Subscription
	require.NoError(t, f.db.Where("user_id = ?", userID).Order("id ASC").Find(&rows).Error)
	return rows
}

func (f *fixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func (f *fixture) assertAtMostOneActive(t *testing.T, userID int64) {
	t.Helper()
	n := f.count(t, &subscriptiondomain.Subscription{}, "user_id = ? AND status = ?", userID, subscriptiondomain.SubscriptionStatusActive)
	assert.LessOrEqual(t, n, int64(1))
}
