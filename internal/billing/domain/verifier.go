// Package domain describes the contract with the external billing authority.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PaymentState mirrors the Play Developer API paymentState codes.
type PaymentState int64

const (
	PaymentStatePending   PaymentState = 0
	PaymentStateReceived  PaymentState = 1
	PaymentStateFreeTrial PaymentState = 2
	PaymentStateDeferred  PaymentState = 3
)

// Confirmed reports whether the authority considers the period paid for.
func (p PaymentState) Confirmed() bool {
	return p == PaymentStateReceived || p == PaymentStateFreeTrial
}

// VerificationResult is the authoritative state of one purchase token.
type VerificationResult struct {
	ExpiryTime   time.Time
	AutoRenew    bool
	PaymentState PaymentState
	OrderID      string
}

var ErrVerification = errors.New("verification_failed")

// VerificationError wraps any failure to obtain a usable answer from the authority.
type VerificationError struct {
	ProductID string
	Err       error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verify %s: %v", e.ProductID, e.Err)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

func (e *VerificationError) Is(target error) bool {
	return target == ErrVerification
}

//go:generate mockgen -source=verifier.go -destination=./mocks/mock_verifier.go -package=mocks
type Verifier interface {
	Verify(ctx context.Context, productID, purchaseToken string) (VerificationResult, error)
}

// TokenPrefix shortens a purchase token for log output.
func TokenPrefix(token string) string {
	const n = 12
	if len(token) <= n {
		return token
	}
	return token[:n] + "..."
}
