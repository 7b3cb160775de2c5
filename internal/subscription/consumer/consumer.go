package consumer

import (
	"context"
	"fmt"

	"github.com/learnitin/api/internal/events"
	subscriptiondomain "github.com/learnitin/api/internal/subscription/domain"
	"github.com/learnitin/api/pkg/log/ctxlogger"
	"go.uber.org/zap"
)

// Consumer applies billing notification events to the state machine.
type Consumer struct {
	log *zap.Logger
	svc subscriptiondomain.Service
}

func NewConsumer(log *zap.Logger, svc subscriptiondomain.Service) *Consumer {
	return &Consumer{
		log: log.Named("subscription.consumer"),
		svc: svc,
	}
}

// Register subscribes Handle for every subscription event kind.
func (c *Consumer) Register(bus *events.Bus) {
	for _, kind := range events.SubscriptionKinds {
		bus.Subscribe(kind, c.Handle)
	}
}

func (c *Consumer) Handle(ctx context.Context, event events.Event) error {
	var (
		sub *subscriptiondomain.Subscription
		err error
	)

	switch e := event.(type) {
	case events.SubscriptionPurchased:
		sub, err = c.svc.ProcessPurchase(ctx, request(e.SubscriptionNotification))
	case events.SubscriptionRenewed:
		sub, err = c.svc.ProcessRenewal(ctx, request(e.SubscriptionNotification))
	case events.SubscriptionCanceled:
		sub, err = c.svc.ProcessCancellation(ctx, request(e.SubscriptionNotification))
	case events.SubscriptionExpired:
		sub, err = c.svc.ProcessExpiration(ctx, request(e.SubscriptionNotification))
	case events.SubscriptionPaused:
		sub, err = c.svc.ProcessPause(ctx, request(e.SubscriptionNotification))
	case events.SubscriptionResumed:
		sub, err = c.svc.ProcessResume(ctx, request(e.SubscriptionNotification))
	case events.SubscriptionRevoked:
		sub, err = c.svc.ProcessRevocation(ctx, request(e.SubscriptionNotification))
	case events.SubscriptionGracePeriod:
		sub, err = c.svc.ProcessGracePeriod(ctx, request(e.SubscriptionNotification))
	case events.SubscriptionRecovered:
		sub, err = c.svc.ProcessRecovery(ctx, request(e.SubscriptionNotification))
	case events.SubscriptionOnHold:
		sub, err = c.svc.ProcessOnHold(ctx, request(e.SubscriptionNotification))
	default:
		ctxlogger.WithContext(ctx, c.log).Warn("unsupported event ignored", zap.String("kind", string(event.Kind())))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", event.Kind(), err)
	}

	log := ctxlogger.WithContext(ctx, c.log)
	if sub == nil {
		log.Warn("event had no matching subscription")
		return nil
	}
	log.Debug("event applied",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("status", string(sub.Status)),
	)
	return nil
}

func request(n events.SubscriptionNotification) subscriptiondomain.TransitionRequest {
	return subscriptiondomain.TransitionRequest{
		PurchaseToken:  n.PurchaseToken,
		ProductID:      n.ProductID,
		EventTime:      n.EventTime,
		IdempotencyKey: n.IdempotencyKey,
	}
}

