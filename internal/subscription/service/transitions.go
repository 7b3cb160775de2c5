package service

import (
	"context"
	"time"

	billingdomain "github.com/learnitin/api/internal/billing/domain"
	subscriptiondomain "github.com/learnitin/api/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProcessPurchase replaces the user's active row with a freshly verified one.
// The token must already be known from a client verify call.
func (s *Service) ProcessPurchase(ctx context.Context, req subscriptiondomain.TransitionRequest) (*subscriptiondomain.Subscription, error) {
	return s.runTransition(ctx, transitionSpec{
		kind:             subscriptiondomain.TransitionPurchased,
		verify:           true,
		productFromEvent: true,
		apply: func(ctx context.Context, tx *gorm.DB, cur *subscriptiondomain.Subscription, v billingdomain.VerificationResult, now time.Time) (*subscriptiondomain.Subscription, error) {
			productID := cur.ProductID
			if req.ProductID != "" {
				productID = req.ProductID
			}
			token := cur.Token()
			return s.createActive(ctx, tx, cur.UserID, productID, &token, v.ExpiryTime, v.AutoRenew, now)
		},
		notice: activatedNotice,
	}, req)
}

// ProcessRenewal appends a new ACTIVE row so billing history is kept.
func (s *Service) ProcessRenewal(ctx context.Context, req subscriptiondomain.TransitionRequest) (*subscriptiondomain.Subscription, error) {
	return s.runTransition(ctx, transitionSpec{
		kind:   subscriptiondomain.TransitionRenewed,
		verify: true,
		apply: func(ctx context.Context, tx *gorm.DB, cur *subscriptiondomain.Subscription, v billingdomain.VerificationResult, now time.Time) (*subscriptiondomain.Subscription, error) {
			token := cur.Token()
			return s.createActive(ctx, tx, cur.UserID, cur.ProductID, &token, v.ExpiryTime, v.AutoRenew, now)
		},
		notice: renewedNotice,
	}, req)
}

// ProcessCancellation stops auto-renew; access continues until expiry.
func (s *Service) ProcessCancellation(ctx context.Context, req subscriptiondomain.TransitionRequest) (*subscriptiondomain.Subscription, error) {
	return s.runTransition(ctx, transitionSpec{
		kind:   subscriptiondomain.TransitionCanceled,
		apply:  s.setStatus(subscriptiondomain.SubscriptionStatusCanceled, false),
		notice: canceledNotice,
	}, req)
}

func (s *Service) ProcessExpiration(ctx context.Context, req subscriptiondomain.TransitionRequest) (*subscriptiondomain.Subscription, error) {
	return s.runTransition(ctx, transitionSpec{
		kind:   subscriptiondomain.TransitionExpired,
		apply:  s.setStatus(subscriptiondomain.SubscriptionStatusExpired, false),
		notice: expiredNotice,
	}, req)
}

func (s *Service) ProcessPause(ctx context.Context, req subscriptiondomain.TransitionRequest) (*subscriptiondomain.Subscription, error) {
	return s.runTransition(ctx, transitionSpec{
		kind:   subscriptiondomain.TransitionPaused,
		apply:  s.setStatus(subscriptiondomain.SubscriptionStatusPaused, true),
		notice: pausedNotice,
	}, req)
}

// ProcessResume takes the authority's answer instead of assuming the pre-pause state.
func (s *Service) ProcessResume(ctx context.Context, req subscriptiondomain.TransitionRequest) (*subscriptiondomain.Subscription, error) {
	return s.runTransition(ctx, transitionSpec{
		kind:   subscriptiondomain.TransitionResumed,
		verify: true,
		apply: func(ctx context.Context, tx *gorm.DB, cur *subscriptiondomain.Subscription, v billingdomain.VerificationResult, now time.Time) (*subscriptiondomain.Subscription, error) {
			return s.applyVerification(ctx, tx, cur, v, now, false)
		},
		notice: resumedNotice,
	}, req)
}

// ProcessRevocation treats refunds and chargebacks like expiry.
func (s *Service) ProcessRevocation(ctx context.Context, req subscriptiondomain.TransitionRequest) (*subscriptiondomain.Subscription, error) {
	return s.runTransition(ctx, transitionSpec{
		kind:   subscriptiondomain.TransitionRevoked,
		apply:  s.setStatus(subscriptiondomain.SubscriptionStatusExpired, false),
		notice: revokedNotice,
	}, req)
}

func (s *Service) ProcessGracePeriod(ctx context.Context, req subscriptiondomain.TransitionRequest) (*subscriptiondomain.Subscription, error) {
	return s.observeOnly(ctx, subscriptiondomain.TransitionGracePeriod, req)
}

func (s *Service) ProcessRecovery(ctx context.Context, req subscriptiondomain.TransitionRequest) (*subscriptiondomain.Subscription, error) {
	return s.runTransition(ctx, transitionSpec{
		kind:   subscriptiondomain.TransitionRecovered,
		verify: true,
		apply: func(ctx context.Context, tx *gorm.DB, cur *subscriptiondomain.Subscription, v billingdomain.VerificationResult, now time.Time) (*subscriptiondomain.Subscription, error) {
			return s.applyVerification(ctx, tx, cur, v, now, true)
		},
		notice: recoveredNotice,
	}, req)
}

// ProcessOnHold behaves like a grace period: the row is left untouched.
func (s *Service) ProcessOnHold(ctx context.Context, req subscriptiondomain.TransitionRequest) (*subscriptiondomain.Subscription, error) {
	return s.observeOnly(ctx, subscriptiondomain.TransitionOnHold, req)
}

// setStatus builds an in-place mutation. keepAutoRenew leaves the flag as stored.
func (s *Service) setStatus(status subscriptiondomain.SubscriptionStatus, keepAutoRenew bool) func(context.Context, *gorm.DB, *subscriptiondomain.Subscription, billingdomain.VerificationResult, time.Time) (*subscriptiondomain.Subscription, error) {
	return func(ctx context.Context, tx *gorm.DB, cur *subscriptiondomain.Subscription, _ billingdomain.VerificationResult, now time.Time) (*subscriptiondomain.Subscription, error) {
		cur.Status = status
		if !keepAutoRenew {
			cur.AutoRenew = false
		}
		cur.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, cur); err != nil {
			return nil, err
		}
		return cur, nil
	}
}

func (s *Service) observeOnly(ctx context.Context, kind subscriptiondomain.TransitionKind, req subscriptiondomain.TransitionRequest) (*subscriptiondomain.Subscription, error) {
	sub, err := s.FindByToken(ctx, req.PurchaseToken)
	if err != nil {
		return nil, err
	}
	log := s.log.With(
		zap.String("transition", string(kind)),
		zap.String("token_prefix", billingdomain.TokenPrefix(req.PurchaseToken)),
	)
	if sub == nil {
		log.Warn("no local subscription for purchase token")
		s.metrics.RecordTransition(ctx, string(kind), "not_found")
		return nil, nil
	}

	log.Info("billing retry window reported; access unchanged",
		zap.Int64("user_id", sub.UserID),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("status", string(sub.Status)),
	)
	s.metrics.RecordTransition(ctx, string(kind), "observed")
	return sub, nil
}
