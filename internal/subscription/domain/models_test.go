package domain

import (
	"testing"
	"time"

	billingdomain "github.com/learnitin/api/internal/billing/domain"
	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		expiry time.Time
		state  billingdomain.PaymentState
		want   SubscriptionStatus
	}{
		{name: "expired even when paid", expiry: now.Add(-time.Second), state: billingdomain.PaymentStateReceived, want: SubscriptionStatusExpired},
		{name: "paid", expiry: now.Add(24 * time.Hour), state: billingdomain.PaymentStateReceived, want: SubscriptionStatusActive},
		{name: "free trial", expiry: now.Add(24 * time.Hour), state: billingdomain.PaymentStateFreeTrial, want: SubscriptionStatusActive},
		{name: "pending", expiry: now.Add(24 * time.Hour), state: billingdomain.PaymentStatePending, want: SubscriptionStatusCanceled},
		{name: "deferred", expiry: now.Add(24 * time.Hour), state: billingdomain.PaymentStateDeferred, want: SubscriptionStatusCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(now, tt.expiry, tt.state))
		})
	}
}

func TestEntitlementPredicates(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		status       SubscriptionStatus
		expiry       time.Time
		wantActive   bool
		wantEntitled bool
	}{
		{SubscriptionStatusActive, future, true, true},
		{SubscriptionStatusActive, past, false, false},
		{SubscriptionStatusCanceled, future, false, true},
		{SubscriptionStatusCanceled, past, false, false},
		{SubscriptionStatusPaused, future, false, false},
		{SubscriptionStatusExpired, future, false, false},
	}

	for _, tt := range tests {
		sub := &Subscription{Status: tt.status, ExpiryTime: tt.expiry}
		assert.Equal(t, tt.wantActive, sub.IsActiveAt(now), "%s active", tt.status)
		assert.Equal(t, tt.wantEntitled, sub.IsEntitledAt(now), "%s entitled", tt.status)
	}
}

func TestFreeAndToken(t *testing.T) {
	token := "abc"
	free := &Subscription{ProductID: FreeProductID}
	paid := &Subscription{ProductID: "premium_monthly", PurchaseToken: &token}

	assert.True(t, free.IsFree())
	assert.False(t, free.IsPremium())
	assert.Empty(t, free.Token())
	assert.True(t, paid.IsPremium())
	assert.Equal(t, "abc", paid.Token())
}
