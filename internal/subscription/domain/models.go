// Package domain contains the subscription record store models and the state machine contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/learnitin/api/internal/billing/domain"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusExpired  SubscriptionStatus = "EXPIRED"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
	SubscriptionStatusPaused   SubscriptionStatus = "PAUSED"
)

// FreeProductID is the reserved product of the non-billed tier.
const FreeProductID = "free"

// Subscription is one row of a user's subscription history. Purchase tokens
// repeat across renewal rows and are therefore not unique.
type Subscription struct {
	ID            snowflake.ID       `gorm:"primaryKey" json:"id"`
	UserID        int64              `gorm:"not null;index" json:"user_id"`
	ProductID     string             `gorm:"type:text;not null" json:"product_id"`
	PurchaseToken *string            `gorm:"type:varchar(512);index" json:"purchase_token,omitempty"`
	Status        SubscriptionStatus `gorm:"type:varchar(32);not null;index" json:"status"`
	ExpiryTime    time.Time          `gorm:"not null" json:"expiry_time"`
	AutoRenew     bool               `gorm:"not null;default:false" json:"auto_renew"`
	CreatedAt     time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

func (s *Subscription) IsFree() bool {
	return s.ProductID == FreeProductID
}

func (s *Subscription) IsPremium() bool {
	return !s.IsFree()
}

// IsActiveAt reports whether the row is ACTIVE and unexpired at now.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.ExpiryTime.After(now)
}

// IsEntitledAt also accepts canceled rows: cancellation only stops renewal,
// the paid period runs to expiry.
func (s *Subscription) IsEntitledAt(now time.Time) bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusCanceled:
		return s.ExpiryTime.After(now)
	default:
		return false
	}
}

func (s *Subscription) Token() string {
	if s.PurchaseToken == nil {
		return ""
	}
	return *s.PurchaseToken
}

// TransitionKind names what moved a subscription row.
type TransitionKind string

const (
	TransitionPurchased     TransitionKind = "purchased"
	TransitionRenewed       TransitionKind = "renewed"
	TransitionCanceled      TransitionKind = "canceled"
	TransitionExpired       TransitionKind = "expired"
	TransitionPaused        TransitionKind = "paused"
	TransitionResumed       TransitionKind = "resumed"
	TransitionRevoked       TransitionKind = "revoked"
	TransitionGracePeriod   TransitionKind = "grace_period"
	TransitionRecovered     TransitionKind = "recovered"
	TransitionOnHold        TransitionKind = "on_hold"
	TransitionVerified      TransitionKind = "verified"
	TransitionResynced      TransitionKind = "resynced"
	TransitionFreeProvision TransitionKind = "free_provisioned"
)

// Transition is the append-only audit log of applied state changes.
type Transition struct {
	ID             snowflake.ID        `gorm:"primaryKey" json:"id"`
	SubscriptionID snowflake.ID        `gorm:"not null;index" json:"subscription_id"`
	UserID         int64               `gorm:"not null;index" json:"user_id"`
	Kind           TransitionKind      `gorm:"type:text;not null" json:"kind"`
	FromStatus     *SubscriptionStatus `gorm:"type:text" json:"from_status,omitempty"`
	ToStatus       SubscriptionStatus  `gorm:"type:text;not null" json:"to_status"`
	IdempotencyKey *string             `gorm:"type:varchar(64);uniqueIndex" json:"idempotency_key,omitempty"`
	Metadata       datatypes.JSONMap   `json:"metadata,omitempty"`
	CreatedAt      time.Time           `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Transition) TableName() string { return "subscription_transitions" }

// DeriveStatus maps an authoritative billing answer onto a local status.
// Expiry wins over payment state.
func DeriveStatus(now, expiry time.Time, paymentState billingdomain.PaymentState) SubscriptionStatus {
	if expiry.Before(now) {
		return SubscriptionStatusExpired
	}
	if paymentState.Confirmed() {
		return SubscriptionStatusActive
	}
	return SubscriptionStatusCanceled
}
