// Package webhook ingests Google Play real-time developer notifications.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	billingdomain "github.com/learnitin/api/internal/billing/domain"
	"github.com/learnitin/api/internal/config"
	"github.com/learnitin/api/internal/events"
	obsmetrics "github.com/learnitin/api/internal/observability/metrics"
	subscriptiondomain "github.com/learnitin/api/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrDecode = errors.New("webhook_decode_failed")

// Outcome describes what happened to an acknowledged notification.
type Outcome string

const (
	OutcomeDispatched      Outcome = "dispatched"
	OutcomeMalformed       Outcome = "malformed"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeTest            Outcome = "test"
	OutcomePackageMismatch Outcome = "package_mismatch"
)

type Result struct {
	Outcome   Outcome
	Kind      events.Kind
	MessageID string
}

// TokenLookup resolves the newest local row for a purchase token.
type TokenLookup interface {
	FindByToken(ctx context.Context, purchaseToken string) (*subscriptiondomain.Subscription, error)
}

type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	SubSvc  subscriptiondomain.Service
	Bus     *events.Bus
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	packageName string
	log         *zap.Logger
	lookup      TokenLookup
	publisher   Publisher
	metrics     *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return newService(p.Cfg.GooglePlay.PackageName, p.Log, p.SubSvc, p.Bus, p.Metrics)
}

func newService(packageName string, log *zap.Logger, lookup TokenLookup, publisher Publisher, metrics *obsmetrics.Metrics) *Service {
	return &Service{
		packageName: strings.TrimSpace(packageName),
		log:         log.Named("webhook.googleplay"),
		lookup:      lookup,
		publisher:   publisher,
		metrics:     metrics,
	}
}

// Ingest decodes and classifies one push body and publishes at most one event.
//
// Only two failures reach the caller: subscriptiondomain.ErrSubscriptionNotFound
// when no local row holds the token, and a dispatch error when the bus cannot
// take the event. Both tell the sender to retry. Everything else is acknowledged.
//
// Classification and the purchase token check run before the token lookup, so
// unrecognized notification types and blank tokens are acknowledged without a
// 404 even when no local row exists.
func (s *Service) Ingest(ctx context.Context, body []byte) (Result, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Message == nil {
		s.log.Warn("webhook envelope rejected", zap.Error(err))
		return s.ack(ctx, Result{Outcome: OutcomeMalformed}), nil
	}

	result := Result{MessageID: env.Message.MessageID}
	log := s.log.With(zap.String("message_id", env.Message.MessageID))

	notification, err := decodeData(env.Message.Data)
	if err != nil {
		log.Warn("webhook payload could not be decoded", zap.Error(err))
		result.Outcome = OutcomeMalformed
		return s.ack(ctx, result), nil
	}

	if s.packageName != "" && notification.PackageName != "" && notification.PackageName != s.packageName {
		log.Warn("webhook for another package ignored", zap.String("package_name", notification.PackageName))
		result.Outcome = OutcomePackageMismatch
		return s.ack(ctx, result), nil
	}

	sn := notification.SubscriptionNotification
	if sn == nil {
		switch {
		case len(notification.TestNotification) > 0:
			log.Info("test notification received")
			result.Outcome = OutcomeTest
		case len(notification.OneTimeProductNotification) > 0:
			log.Info("one-time product notification ignored")
			result.Outcome = OutcomeIgnored
		default:
			log.Warn("notification without a known payload ignored")
			result.Outcome = OutcomeIgnored
		}
		return s.ack(ctx, result), nil
	}

	kind, ok := Classify(int64(sn.NotificationType))
	if !ok {
		log.Info("unrecognized subscription notification type ignored", zap.Int64("notification_type", int64(sn.NotificationType)))
		result.Outcome = OutcomeIgnored
		return s.ack(ctx, result), nil
	}
	result.Kind = kind

	token := strings.TrimSpace(sn.PurchaseToken)
	if token == "" {
		log.Warn("subscription notification without purchase token", zap.String("kind", string(kind)))
		result.Outcome = OutcomeMalformed
		return s.ack(ctx, result), nil
	}
	log = log.With(zap.String("kind", string(kind)), zap.String("token_prefix", billingdomain.TokenPrefix(token)))

	sub, err := s.lookup.FindByToken(ctx, token)
	if err != nil {
		return result, fmt.Errorf("lookup purchase token: %w", err)
	}
	if sub == nil {
		log.Warn("no local subscription for purchase token; asking sender to retry")
		s.metrics.RecordWebhookNotification(ctx, string(kind), "not_found")
		return result, subscriptiondomain.ErrSubscriptionNotFound
	}

	payload := events.SubscriptionNotification{
		PurchaseToken: token,
		ProductID:     strings.TrimSpace(sn.SubscriptionID),
		PackageName:   notification.PackageName,
	}
	if millis := int64(notification.EventTimeMillis); millis > 0 {
		payload.EventTime = time.UnixMilli(millis).UTC()
		payload.IdempotencyKey = IdempotencyKey(token, kind, millis)
	}

	event, ok := events.NewSubscriptionEvent(kind, payload)
	if !ok {
		log.Error("no event payload for classified notification", zap.String("kind", string(kind)))
		result.Outcome = OutcomeIgnored
		return s.ack(ctx, result), nil
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Error("failed to dispatch subscription event", zap.Error(err))
		s.metrics.RecordWebhookNotification(ctx, string(kind), "dispatch_failed")
		return result, fmt.Errorf("dispatch %s: %w", kind, err)
	}

	log.Info("subscription notification dispatched", zap.String("subscription_id", sub.ID.String()))
	result.Outcome = OutcomeDispatched
	return s.ack(ctx, result), nil
}

func (s *Service) ack(ctx context.Context, result Result) Result {
	eventType := string(result.Kind)
	if eventType == "" {
		eventType = "unknown"
	}
	s.metrics.RecordWebhookNotification(ctx, eventType, string(result.Outcome))
	return result
}

// IdempotencyKey identifies one delivery of one notification for one purchase.
func IdempotencyKey(token string, kind events.Kind, eventTimeMillis int64) string {
	sum := sha256.Sum256([]byte(token + "|" + string(kind) + "|" + strconv.FormatInt(eventTimeMillis, 10)))
	return hex.EncodeToString(sum[:])
}
