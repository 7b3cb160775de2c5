package googleplay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	billingdomain "github.com/learnitin/api/internal/billing/domain"
	"github.com/learnitin/api/internal/clock"
	"github.com/learnitin/api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/androidpublisher/v3"
)

func TestToResult(t *testing.T) {
	expiry := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	state := int64(1)

	got, err := toResult(&androidpublisher.SubscriptionPurchase{
		ExpiryTimeMillis: expiry.UnixMilli(),
		AutoRenewing:     true,
		PaymentState:     &state,
		OrderId:          "GPA.1234",
	})
	require.NoError(t, err)
	assert.True(t, expiry.Equal(got.ExpiryTime))
	assert.True(t, got.AutoRenew)
	assert.Equal(t, billingdomain.PaymentStateReceived, got.PaymentState)
	assert.Equal(t, "GPA.1234", got.OrderID)
}

func TestToResultDefaultsMissingPaymentStateToPending(t *testing.T) {
	got, err := toResult(&androidpublisher.SubscriptionPurchase{ExpiryTimeMillis: 1})
	require.NoError(t, err)
	assert.Equal(t, billingdomain.PaymentStatePending, got.PaymentState)
}

func TestToResultRejectsMalformed(t *testing.T) {
	_, err := toResult(nil)
	assert.ErrorIs(t, err, ErrMalformedPurchase)

	_, err = toResult(&androidpublisher.SubscriptionPurchase{})
	assert.ErrorIs(t, err, ErrMalformedPurchase)
}

func TestLoadCredentials(t *testing.T) {
	_, err := loadCredentials("  ")
	assert.ErrorIs(t, err, ErrCredentialsMissing)

	raw, err := loadCredentials(`{"type":"service_account"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"service_account"}`, string(raw))

	path := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"service_account"}`), 0o600))
	raw, err = loadCredentials(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "service_account")

	_, err = loadCredentials(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestClientVerifyUsesFetcher(t *testing.T) {
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	state := int64(2)

	c := NewClient(config.GooglePlayConfig{PackageName: "com.learnitin.app"}, zap.NewNop(), nil)
	c.fetch = func(ctx context.Context, packageName, productID, token string) (*androidpublisher.SubscriptionPurchase, error) {
		assert.Equal(t, "com.learnitin.app", packageName)
		assert.Equal(t, "premium_monthly", productID)
		assert.Equal(t, "tok", token)
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return &androidpublisher.SubscriptionPurchase{ExpiryTimeMillis: expiry.UnixMilli(), PaymentState: &state}, nil
	}

	got, err := c.Verify(context.Background(), "premium_monthly", "tok")
	require.NoError(t, err)
	assert.True(t, expiry.Equal(got.ExpiryTime))
	assert.Equal(t, billingdomain.PaymentStateFreeTrial, got.PaymentState)
}

func TestClientVerifyWrapsErrors(t *testing.T) {
	upstream := errors.New("503 backend error")
	c := NewClient(config.GooglePlayConfig{}, zap.NewNop(), nil)
	c.fetch = func(context.Context, string, string, string) (*androidpublisher.SubscriptionPurchase, error) {
		return nil, upstream
	}

	_, err := c.Verify(context.Background(), "premium_monthly", "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, billingdomain.ErrVerification)
	assert.ErrorIs(t, err, upstream)

	var verr *billingdomain.VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "premium_monthly", verr.ProductID)

	_, err = c.Verify(context.Background(), "", "tok")
	assert.ErrorIs(t, err, ErrMalformedPurchase)
}

func TestClientWithoutCredentialsFails(t *testing.T) {
	c := NewClient(config.GooglePlayConfig{}, zap.NewNop(), nil)

	_, err := c.Verify(context.Background(), "premium_monthly", "tok")
	assert.ErrorIs(t, err, ErrCredentialsMissing)
	assert.ErrorIs(t, err, billingdomain.ErrVerification)
}

func TestMockVerifier(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	m := NewMockVerifier(clock.NewFakeClock(now), zap.NewNop())

	got, err := m.Verify(context.Background(), "premium_monthly", "tok")
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*24*time.Hour), got.ExpiryTime)
	assert.True(t, got.AutoRenew)
	assert.True(t, got.PaymentState.Confirmed())

	_, err = m.Verify(context.Background(), "premium_monthly", "")
	assert.ErrorIs(t, err, billingdomain.ErrVerification)
}

func TestNewVerifierSelectsImplementation(t *testing.T) {
	p := VerifierParams{Log: zap.NewNop(), Clock: clock.New()}

	p.Cfg.GooglePlay.Mock = true
	assert.IsType(t, &MockVerifier{}, NewVerifier(p))

	p.Cfg.GooglePlay.Mock = false
	assert.IsType(t, &Client{}, NewVerifier(p))
}
