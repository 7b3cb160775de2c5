package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerificationErrorMatchesSentinel(t *testing.T) {
	err := error(&VerificationError{ProductID: "premium_monthly", Err: context.DeadlineExceeded})

	assert.True(t, errors.Is(err, ErrVerification))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	var vErr *VerificationError
	assert.True(t, errors.As(err, &vErr))
	assert.Equal(t, "premium_monthly", vErr.ProductID)
}

func TestPaymentStateConfirmed(t *testing.T) {
	assert.True(t, PaymentStateReceived.Confirmed())
	assert.True(t, PaymentStateFreeTrial.Confirmed())
	assert.False(t, PaymentStatePending.Confirmed())
	assert.False(t, PaymentStateDeferred.Confirmed())
}
