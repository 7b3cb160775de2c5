package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Subject identifies whose quota is being consumed.
type Subject struct {
	SubscriptionID snowflake.ID
	Premium        bool
}

// FeatureSummary is the per-feature view of the current period.
type FeatureSummary struct {
	Feature   Feature `json:"feature"`
	Used      int     `json:"used"`
	Limit     int     `json:"limit"`
	Remaining int     `json:"remaining"`
}

type Summary struct {
	SubscriptionID snowflake.ID     `json:"subscription_id"`
	Year           int              `json:"year"`
	Month          int              `json:"month"`
	Features       []FeatureSummary `json:"features"`
}

type Service interface {
	GetOrCreate(ctx context.Context, subscriptionID snowflake.ID, year, month int) (*SubscriptionUsage, error)
	Current(ctx context.Context, subscriptionID snowflake.ID) (*SubscriptionUsage, error)
	Increment(ctx context.Context, subscriptionID snowflake.ID, feature Feature) (*SubscriptionUsage, error)
	// InitPeriod creates the ledger row for a freshly inserted subscription inside tx.
	InitPeriod(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) (*SubscriptionUsage, error)
	Consume(ctx context.Context, subject Subject, feature Feature) (*SubscriptionUsage, error)
	Remaining(ctx context.Context, subject Subject) (Summary, error)
}

var (
	ErrUnknownFeature      = errors.New("unknown_feature")
	ErrQuotaExceeded       = errors.New("quota_exceeded")
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrInvalidPeriod       = errors.New("invalid_period")
)
