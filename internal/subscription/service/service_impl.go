package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/learnitin/api/internal/billing/domain"
	"github.com/learnitin/api/internal/clock"
	"github.com/learnitin/api/internal/config"
	"github.com/learnitin/api/internal/lock"
	notificationdomain "github.com/learnitin/api/internal/notification/domain"
	obsmetrics "github.com/learnitin/api/internal/observability/metrics"
	subscriptiondomain "github.com/learnitin/api/internal/subscription/domain"
	usagedomain "github.com/learnitin/api/internal/usage/domain"
	"github.com/learnitin/api/pkg/db"
	"github.com/learnitin/api/pkg/db/option"
	"github.com/learnitin/api/pkg/db/pagination"
	"github.com/learnitin/api/pkg/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultUserLockTTL = 30 * time.Second

var errAlreadyApplied = errors.New("transition_already_applied")

type Service struct {
	db  *gorm.DB
	log *zap.Logger
	cfg config.Config

	genID            *snowflake.Node
	clock            clock.Clock
	repo             subscriptiondomain.Repository
	subscriptionRepo repository.Repository[subscriptiondomain.Subscription]

	verifier billingdomain.Verifier
	usagesvc usagedomain.Service
	notifier notificationdomain.Notifier
	locker   *lock.Locker
	metrics  *obsmetrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     subscriptiondomain.Repository
	Verifier billingdomain.Verifier
	UsageSvc usagedomain.Service

	Notifier notificationdomain.Notifier `optional:"true"`
	Locker   *lock.Locker                `optional:"true"`
	Metrics  *obsmetrics.Metrics         `optional:"true"`
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),
		cfg: p.Cfg,

		genID:            p.GenID,
		clock:            p.Clock,
		repo:             p.Repo,
		subscriptionRepo: repository.ProvideStore[subscriptiondomain.Subscription](p.DB),

		verifier: p.Verifier,
		usagesvc: p.UsageSvc,
		notifier: p.Notifier,
		locker:   p.Locker,
		metrics:  p.Metrics,
	}
}

// VerifyAndSave upserts the row for a client-reported purchase. It is the
// path that first creates a token's row, so it does not expire other rows.
func (s *Service) VerifyAndSave(ctx context.Context, req subscriptiondomain.VerifyRequest) (*subscriptiondomain.Subscription, error) {
	if req.UserID <= 0 {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" || productID == subscriptiondomain.FreeProductID {
		return nil, subscriptiondomain.ErrInvalidProduct
	}
	token := strings.TrimSpace(req.PurchaseToken)
	if token == "" {
		return nil, subscriptiondomain.ErrInvalidPurchaseToken
	}
	if err := s.checkPackage(req.PackageName); err != nil {
		return nil, err
	}

	verified, err := s.verifier.Verify(ctx, productID, token)
	if err != nil {
		s.metrics.RecordTransition(ctx, string(subscriptiondomain.TransitionVerified), "verification_failed")
		return nil, err
	}

	var (
		result *subscriptiondomain.Subscription
		from   *subscriptiondomain.SubscriptionStatus
	)
	err = s.withUserLock(ctx, req.UserID, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now()
			status := subscriptiondomain.DeriveStatus(now, verified.ExpiryTime, verified.PaymentState)

			existing, err := s.repo.FindLatestByTokenForUpdate(ctx, tx, token)
			if err != nil {
				return err
			}

			if existing != nil {
				prev := existing.Status
				from = &prev
				existing.UserID = req.UserID
				existing.Status = status
				existing.ExpiryTime = verified.ExpiryTime.UTC()
				existing.AutoRenew = verified.AutoRenew
				existing.UpdatedAt = now
				if err := s.repo.Update(ctx, tx, existing); err != nil {
					return err
				}
				result = existing
			} else {
				sub := &subscriptiondomain.Subscription{
					ID:            s.genID.Generate(),
					UserID:        req.UserID,
					ProductID:     productID,
					PurchaseToken: &token,
					Status:        status,
					ExpiryTime:    verified.ExpiryTime.UTC(),
					AutoRenew:     verified.AutoRenew,
					CreatedAt:     now,
					UpdatedAt:     now,
				}
				if err := s.repo.Insert(ctx, tx, sub); err != nil {
					return err
				}
				if _, err := s.usagesvc.InitPeriod(ctx, tx, sub.ID); err != nil {
					return err
				}
				result = sub
			}

			return s.recordTransition(ctx, tx, subscriptiondomain.TransitionVerified, result, from, "", map[string]any{
				"order_id": verified.OrderID,
			})
		})
	})
	if err != nil {
		s.metrics.RecordTransition(ctx, string(subscriptiondomain.TransitionVerified), "error")
		return nil, err
	}

	s.metrics.RecordTransition(ctx, string(subscriptiondomain.TransitionVerified), "applied")
	s.log.Info("purchase verified",
		zap.Int64("user_id", result.UserID),
		zap.String("subscription_id", result.ID.String()),
		zap.String("product_id", result.ProductID),
		zap.String("status", string(result.Status)),
		zap.String("token_prefix", billingdomain.TokenPrefix(token)),
	)
	if result.Status == subscriptiondomain.SubscriptionStatusActive && (from == nil || *from != subscriptiondomain.SubscriptionStatusActive) {
		s.notify(ctx, activatedNotice(result))
	}
	return result, nil
}

// Resync re-reads the authority's view of one of the caller's purchases.
func (s *Service) Resync(ctx context.Context, userID int64, purchaseToken string) (*subscriptiondomain.Subscription, error) {
	if userID <= 0 {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	token := strings.TrimSpace(purchaseToken)
	if token == "" {
		return nil, subscriptiondomain.ErrInvalidPurchaseToken
	}

	existing, err := s.repo.FindLatestByToken(ctx, s.db, token)
	if err != nil {
		return nil, err
	}
	if existing == nil || existing.UserID != userID {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	sub, err := s.runTransition(ctx, transitionSpec{
		kind:   subscriptiondomain.TransitionResynced,
		verify: true,
		apply: func(ctx context.Context, tx *gorm.DB, cur *subscriptiondomain.Subscription, v billingdomain.VerificationResult, now time.Time) (*subscriptiondomain.Subscription, error) {
			return s.applyVerification(ctx, tx, cur, v, now, false)
		},
	}, subscriptiondomain.TransitionRequest{PurchaseToken: token})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// GetActiveSubscription returns the row that currently grants entitlement, or nil.
// Canceled rows still inside their paid period count. A paid row outranks the
// free tier, then the later expiry wins.
func (s *Service) GetActiveSubscription(ctx context.Context, userID int64) (*subscriptiondomain.Subscription, error) {
	if userID <= 0 {
		return nil, subscriptiondomain.ErrInvalidUser
	}

	statuses := []subscriptiondomain.SubscriptionStatus{
		subscriptiondomain.SubscriptionStatusActive,
		subscriptiondomain.SubscriptionStatusCanceled,
	}
	items, err := s.repo.FindByUserAndStatuses(ctx, s.db, userID, statuses)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var best *subscriptiondomain.Subscription
	for i := range items {
		if !items[i].IsEntitledAt(now) {
			continue
		}
		if best == nil || outranks(&items[i], best) {
			best = &items[i]
		}
	}
	return best, nil
}

func outranks(a, b *subscriptiondomain.Subscription) bool {
	if a.IsPremium() != b.IsPremium() {
		return a.IsPremium()
	}
	if !a.ExpiryTime.Equal(b.ExpiryTime) {
		return a.ExpiryTime.After(b.ExpiryTime)
	}
	return a.Status == subscriptiondomain.SubscriptionStatusActive && b.Status != subscriptiondomain.SubscriptionStatusActive
}

// GetOrCreateFreeSubscription returns the active row when there is one and
// otherwise provisions the free tier.
func (s *Service) GetOrCreateFreeSubscription(ctx context.Context, userID int64) (*subscriptiondomain.Subscription, error) {
	active, err := s.GetActiveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return active, nil
	}

	var (
		result  *subscriptiondomain.Subscription
		created bool
	)
	err = s.withUserLock(ctx, userID, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now()

			actives, err := s.repo.FindActiveByUserForUpdate(ctx, tx, userID)
			if err != nil {
				return err
			}
			for i := range actives {
				if actives[i].IsActiveAt(now) {
					result = &actives[i]
					return nil
				}
			}

			sub, err := s.createActive(ctx, tx, userID, subscriptiondomain.FreeProductID, nil, now.Add(s.freePlanDuration()), true, now)
			if err != nil {
				return err
			}
			result = sub
			created = true
			return s.recordTransition(ctx, tx, subscriptiondomain.TransitionFreeProvision, sub, nil, "", nil)
		})
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.metrics.RecordTransition(ctx, string(subscriptiondomain.TransitionFreeProvision), "applied")
		s.log.Info("free subscription provisioned",
			zap.Int64("user_id", userID),
			zap.String("subscription_id", result.ID.String()),
		)
		s.notify(ctx, welcomeNotice(result))
	}
	return result, nil
}

// ResolveCurrent keeps an ACTIVE premium row whose expiry passed without a
// renewal notification for the configured grace window, then falls back to the free tier.
func (s *Service) ResolveCurrent(ctx context.Context, userID int64) (*subscriptiondomain.Subscription, error) {
	active, err := s.GetActiveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return active, nil
	}

	latest, err := s.repo.FindLatestByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if latest != nil && s.withinGrace(latest) {
		s.log.Debug("serving premium subscription inside grace window",
			zap.Int64("user_id", userID),
			zap.String("subscription_id", latest.ID.String()),
		)
		return latest, nil
	}

	return s.GetOrCreateFreeSubscription(ctx, userID)
}

// RequirePremium fails with ErrPremiumRequired unless the user holds an entitled paid row.
func (s *Service) RequirePremium(ctx context.Context, userID int64) (*subscriptiondomain.Subscription, error) {
	active, err := s.GetActiveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active == nil || active.IsFree() {
		return nil, subscriptiondomain.ErrPremiumRequired
	}
	return active, nil
}

func (s *Service) FindByToken(ctx context.Context, purchaseToken string) (*subscriptiondomain.Subscription, error) {
	token := strings.TrimSpace(purchaseToken)
	if token == "" {
		return nil, nil
	}
	return s.repo.FindLatestByToken(ctx, s.db, token)
}

func (s *Service) ListHistory(ctx context.Context, req subscriptiondomain.ListHistoryRequest) (subscriptiondomain.ListHistoryResponse, error) {
	if req.UserID <= 0 {
		return subscriptiondomain.ListHistoryResponse{}, subscriptiondomain.ErrInvalidUser
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	items, err := s.subscriptionRepo.Find(ctx,
		&subscriptiondomain.Subscription{UserID: req.UserID},
		option.ApplyPagination(page),
	)
	if err != nil {
		return subscriptiondomain.ListHistoryResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPage(items, page.Limit(), func(item *subscriptiondomain.Subscription) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})

	out := make([]subscriptiondomain.Subscription, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return subscriptiondomain.ListHistoryResponse{PageInfo: pageInfo, Subscriptions: out}, nil
}

func (s *Service) checkPackage(packageName string) error {
	expected := strings.TrimSpace(s.cfg.GooglePlay.PackageName)
	packageName = strings.TrimSpace(packageName)
	if expected == "" || packageName == "" {
		return nil
	}
	if packageName != expected {
		return subscriptiondomain.ErrPackageMismatch
	}
	return nil
}

func (s *Service) withinGrace(sub *subscriptiondomain.Subscription) bool {
	if sub.IsFree() || sub.Status != subscriptiondomain.SubscriptionStatusActive {
		return false
	}
	grace := time.Duration(max(s.cfg.Subscription.GracePeriodDays, 0)) * 24 * time.Hour
	return s.clock.Now().Before(sub.ExpiryTime.Add(grace))
}

func (s *Service) freePlanDuration() time.Duration {
	if d := s.cfg.Subscription.FreePlanDuration; d > 0 {
		return d
	}
	return 30 * 24 * time.Hour
}

// createActive expires the user's ACTIVE rows, inserts the new one and seeds its ledger.
func (s *Service) createActive(
	ctx context.Context,
	tx *gorm.DB,
	userID int64,
	productID string,
	token *string,
	expiry time.Time,
	autoRenew bool,
	now time.Time,
) (*subscriptiondomain.Subscription, error) {
	deactivated, err := s.repo.DeactivateActiveForUser(ctx, tx, userID, 0, now)
	if err != nil {
		return nil, err
	}
	if deactivated > 0 {
		s.log.Debug("deactivated previous subscriptions",
			zap.Int64("user_id", userID),
			zap.Int64("count", deactivated),
		)
	}

	sub := &subscriptiondomain.Subscription{
		ID:            s.genID.Generate(),
		UserID:        userID,
		ProductID:     productID,
		PurchaseToken: token,
		Status:        subscriptiondomain.SubscriptionStatusActive,
		ExpiryTime:    expiry.UTC(),
		AutoRenew:     autoRenew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, tx, sub); err != nil {
		return nil, err
	}
	if _, err := s.usagesvc.InitPeriod(ctx, tx, sub.ID); err != nil {
		return nil, err
	}
	return sub, nil
}

// applyVerification overwrites cur with the authority's answer. A row that
// becomes ACTIVE expires the user's other ACTIVE rows.
func (s *Service) applyVerification(
	ctx context.Context,
	tx *gorm.DB,
	cur *subscriptiondomain.Subscription,
	v billingdomain.VerificationResult,
	now time.Time,
	forceAutoRenew bool,
) (*subscriptiondomain.Subscription, error) {
	cur.ExpiryTime = v.ExpiryTime.UTC()
	cur.Status = subscriptiondomain.DeriveStatus(now, v.ExpiryTime, v.PaymentState)
	cur.AutoRenew = v.AutoRenew || forceAutoRenew
	cur.UpdatedAt = now

	if cur.Status == subscriptiondomain.SubscriptionStatusActive {
		if _, err := s.repo.DeactivateActiveForUser(ctx, tx, cur.UserID, cur.ID, now); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Update(ctx, tx, cur); err != nil {
		return nil, err
	}
	return cur, nil
}

func (s *Service) recordTransition(
	ctx context.Context,
	tx *gorm.DB,
	kind subscriptiondomain.TransitionKind,
	sub *subscriptiondomain.Subscription,
	from *subscriptiondomain.SubscriptionStatus,
	idempotencyKey string,
	metadata map[string]any,
) error {
	meta := datatypes.JSONMap{
		"product_id":  sub.ProductID,
		"expiry_time": sub.ExpiryTime.Format(time.RFC3339),
		"auto_renew":  sub.AutoRenew,
	}
	for k, v := range metadata {
		if v == nil || v == "" {
			continue
		}
		meta[k] = v
	}

	transition := &subscriptiondomain.Transition{
		ID:             s.genID.Generate(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Kind:           kind,
		FromStatus:     from,
		ToStatus:       sub.Status,
		Metadata:       meta,
		CreatedAt:      s.clock.Now(),
	}
	if idempotencyKey != "" {
		transition.IdempotencyKey = &idempotencyKey
	}
	return s.repo.InsertTransition(ctx, tx, transition)
}

// withUserLock serializes writers for one user across instances when redis is configured.
func (s *Service) withUserLock(ctx context.Context, userID int64, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}

	ttl := s.cfg.Subscription.UserLockTTL
	if ttl <= 0 {
		ttl = defaultUserLockTTL
	}
	key := fmt.Sprintf("subscription:user:%d", userID)

	lockCtx, cancel := context.WithTimeout(ctx, ttl)
	token, err := s.locker.Lock(lockCtx, key, ttl)
	cancel()
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("failed to release user lock", zap.String("key", key), zap.Error(err))
		}
	}()

	return fn(ctx)
}

// notify is best-effort; a committed transition is never undone by a failed notification.
func (s *Service) notify(ctx context.Context, req *notificationdomain.NotifyRequest) {
	if s.notifier == nil || req == nil {
		return
	}
	if err := s.notifier.Notify(ctx, *req); err != nil {
		s.log.Warn("failed to emit notification",
			zap.Int64("user_id", req.UserID),
			zap.String("title", req.Title),
			zap.Error(err),
		)
	}
}

type transitionSpec struct {
	kind   subscriptiondomain.TransitionKind
	verify bool
	// productFromEvent verifies against the notification's product id when present.
	productFromEvent bool
	apply            func(ctx context.Context, tx *gorm.DB, cur *subscriptiondomain.Subscription, v billingdomain.VerificationResult, now time.Time) (*subscriptiondomain.Subscription, error)
	notice           func(sub *subscriptiondomain.Subscription) *notificationdomain.NotifyRequest
}

// runTransition is the shared unit of work for token-addressed transitions:
// lookup, dedup, verify, then one transaction for every write.
func (s *Service) runTransition(ctx context.Context, spec transitionSpec, req subscriptiondomain.TransitionRequest) (*subscriptiondomain.Subscription, error) {
	ctx, span := otel.Tracer("learnitin/subscription").Start(ctx, "subscription.transition")
	span.SetAttributes(attribute.String("transition.kind", string(spec.kind)))
	defer span.End()

	kind := string(spec.kind)
	token := strings.TrimSpace(req.PurchaseToken)
	log := s.log.With(
		zap.String("transition", kind),
		zap.String("token_prefix", billingdomain.TokenPrefix(token)),
	)

	if token == "" {
		log.Warn("transition without purchase token ignored")
		s.metrics.RecordTransition(ctx, kind, "not_found")
		return nil, nil
	}

	existing, err := s.repo.FindLatestByToken(ctx, s.db, token)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		log.Warn("no local subscription for purchase token")
		s.metrics.RecordTransition(ctx, kind, "not_found")
		return nil, nil
	}

	if req.IdempotencyKey != "" {
		seen, err := s.repo.IdempotencyKeyExists(ctx, s.db, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if seen {
			log.Info("notification already applied")
			s.metrics.RecordTransition(ctx, kind, "duplicate")
			return existing, nil
		}
	}

	var verified billingdomain.VerificationResult
	if spec.verify {
		productID := existing.ProductID
		if spec.productFromEvent && strings.TrimSpace(req.ProductID) != "" {
			productID = strings.TrimSpace(req.ProductID)
		}
		verified, err = s.verifier.Verify(ctx, productID, token)
		if err != nil {
			span.RecordError(err)
			s.metrics.RecordTransition(ctx, kind, "verification_failed")
			return nil, err
		}
	}

	var result *subscriptiondomain.Subscription
	err = s.withUserLock(ctx, existing.UserID, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if req.IdempotencyKey != "" {
				seen, err := s.repo.IdempotencyKeyExists(ctx, tx, req.IdempotencyKey)
				if err != nil {
					return err
				}
				if seen {
					return errAlreadyApplied
				}
			}

			cur, err := s.repo.FindLatestByTokenForUpdate(ctx, tx, token)
			if err != nil {
				return err
			}
			if cur == nil {
				return nil
			}

			from := cur.Status
			previousID := cur.ID
			now := s.clock.Now()

			next, err := spec.apply(ctx, tx, cur, verified, now)
			if err != nil {
				return err
			}
			result = next

			meta := map[string]any{}
			if next.ID != previousID {
				meta["previous_subscription_id"] = previousID.String()
			}
			if !req.EventTime.IsZero() {
				meta["event_time"] = req.EventTime.UTC().Format(time.RFC3339)
			}
			if verified.OrderID != "" {
				meta["order_id"] = verified.OrderID
			}
			var fromPtr *subscriptiondomain.SubscriptionStatus
			if next.ID == previousID {
				fromPtr = &from
			}
			return s.recordTransition(ctx, tx, spec.kind, next, fromPtr, req.IdempotencyKey, meta)
		})
	})
	if errors.Is(err, errAlreadyApplied) || (err != nil && req.IdempotencyKey != "" && db.IsDuplicateKeyErr(err)) {
		log.Info("notification already applied")
		s.metrics.RecordTransition(ctx, kind, "duplicate")
		return s.repo.FindLatestByToken(ctx, s.db, token)
	}
	if err != nil {
		span.RecordError(err)
		log.Error("subscription transition failed", zap.Error(err))
		s.metrics.RecordTransition(ctx, kind, "error")
		return nil, err
	}
	if result == nil {
		s.metrics.RecordTransition(ctx, kind, "not_found")
		return nil, nil
	}

	s.metrics.RecordTransition(ctx, kind, "applied")
	log.Info("subscription transition applied",
		zap.Int64("user_id", result.UserID),
		zap.String("subscription_id", result.ID.String()),
		zap.String("status", string(result.Status)),
		zap.Time("expiry_time", result.ExpiryTime),
	)
	if spec.notice != nil {
		s.notify(ctx, spec.notice(result))
	}
	return result, nil
}
