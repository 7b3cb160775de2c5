package googleplay

import (
	"context"
	"strings"
	"time"

	billingdomain "github.com/learnitin/api/internal/billing/domain"
	"github.com/learnitin/api/internal/clock"
	"go.uber.org/zap"
)

const mockPeriod = 30 * 24 * time.Hour

// MockVerifier answers without network access: 30 days from now, auto-renewing, paid.
type MockVerifier struct {
	clock clock.Clock
	log   *zap.Logger
}

func NewMockVerifier(c clock.Clock, log *zap.Logger) *MockVerifier {
	return &MockVerifier{clock: c, log: log.Named("billing.mock")}
}

func (m *MockVerifier) Verify(ctx context.Context, productID, purchaseToken string) (billingdomain.VerificationResult, error) {
	if strings.TrimSpace(productID) == "" || strings.TrimSpace(purchaseToken) == "" {
		return billingdomain.VerificationResult{}, &billingdomain.VerificationError{ProductID: productID, Err: ErrMalformedPurchase}
	}

	m.log.Debug("mock verification",
		zap.String("product_id", productID),
		zap.String("token_prefix", billingdomain.TokenPrefix(purchaseToken)),
	)

	return billingdomain.VerificationResult{
		ExpiryTime:   m.clock.Now().Add(mockPeriod),
		AutoRenew:    true,
		PaymentState: billingdomain.PaymentStateReceived,
	}, nil
}
