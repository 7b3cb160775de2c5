package domain

import (
	"context"
	"errors"
	"time"

	"github.com/learnitin/api/pkg/db/pagination"
)

type VerifyRequest struct {
	UserID        int64  `json:"-"`
	ProductID     string `json:"product_id"`
	PurchaseToken string `json:"purchase_token"`
	PackageName   string `json:"package_name"`
}

// TransitionRequest is what a billing notification hands to the state machine.
type TransitionRequest struct {
	PurchaseToken  string
	ProductID      string
	EventTime      time.Time
	IdempotencyKey string
}

type ListHistoryRequest struct {
	UserID    int64
	PageToken string
	PageSize  int
}

type ListHistoryResponse struct {
	pagination.PageInfo
	Subscriptions []Subscription `json:"subscriptions"`
}

// Service is the subscription state machine plus the entitlement gate.
//
// Transitions return (nil, nil) when no local row exists for the token; that is
// the retry signal for the webhook path, not a failure.
type Service interface {
	VerifyAndSave(ctx context.Context, req VerifyRequest) (*Subscription, error)
	Resync(ctx context.Context, userID int64, purchaseToken string) (*Subscription, error)

	GetActiveSubscription(ctx context.Context, userID int64) (*Subscription, error)
	GetOrCreateFreeSubscription(ctx context.Context, userID int64) (*Subscription, error)
	ResolveCurrent(ctx context.Context, userID int64) (*Subscription, error)
	RequirePremium(ctx context.Context, userID int64) (*Subscription, error)
	FindByToken(ctx context.Context, purchaseToken string) (*Subscription, error)
	ListHistory(ctx context.Context, req ListHistoryRequest) (ListHistoryResponse, error)

	ProcessPurchase(ctx context.Context, req TransitionRequest) (*Subscription, error)
	ProcessRenewal(ctx context.Context, req TransitionRequest) (*Subscription, error)
	ProcessCancellation(ctx context.Context, req TransitionRequest) (*Subscription, error)
	ProcessExpiration(ctx context.Context, req TransitionRequest) (*Subscription, error)
	ProcessPause(ctx context.Context, req TransitionRequest) (*Subscription, error)
	ProcessResume(ctx context.Context, req TransitionRequest) (*Subscription, error)
	ProcessRevocation(ctx context.Context, req TransitionRequest) (*Subscription, error)
	ProcessGracePeriod(ctx context.Context, req TransitionRequest) (*Subscription, error)
	ProcessRecovery(ctx context.Context, req TransitionRequest) (*Subscription, error)
	ProcessOnHold(ctx context.Context, req TransitionRequest) (*Subscription, error)
}

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidProduct       = errors.New("invalid_product")
	ErrInvalidPurchaseToken = errors.New("invalid_purchase_token")
	ErrPackageMismatch      = errors.New("package_name_mismatch")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrPremiumRequired      = errors.New("premium_required")
)
