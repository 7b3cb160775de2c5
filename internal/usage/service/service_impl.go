package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/learnitin/api/internal/clock"
	"github.com/learnitin/api/internal/config"
	obsmetrics "github.com/learnitin/api/internal/observability/metrics"
	usagedomain "github.com/learnitin/api/internal/usage/domain"
	"github.com/learnitin/api/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  usagedomain.Repository
	plans *config.PlanConfigHolder

	metrics *obsmetrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    usagedomain.Repository
	Plans   *config.PlanConfigHolder
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		plans:   p.Plans,
		metrics: p.Metrics,
	}
}

// GetOrCreate returns the ledger row for (year, month), resetting counters when the stored period differs.
func (s *Service) GetOrCreate(ctx context.Context, subscriptionID snowflake.ID, year, month int) (*usagedomain.SubscriptionUsage, error) {
	if subscriptionID == 0 {
		return nil, usagedomain.ErrInvalidSubscription
	}
	if year <= 0 || month < 1 || month > 12 {
		return nil, usagedomain.ErrInvalidPeriod
	}

	usage, err := s.repo.FindBySubscriptionID(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if usage == nil {
		return s.create(ctx, subscriptionID, year, month)
	}

	if usage.Rollover(year, month) {
		usage.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, s.db, usage); err != nil {
			return nil, err
		}
		s.log.Debug("usage period rolled over",
			zap.String("subscription_id", subscriptionID.String()),
			zap.Int("year", year),
			zap.Int("month", month),
		)
	}
	return usage, nil
}

// Current resolves the ledger row for the UTC month at call time.
func (s *Service) Current(ctx context.Context, subscriptionID snowflake.ID) (*usagedomain.SubscriptionUsage, error) {
	year, month := usagedomain.Period(s.clock.Now())
	return s.GetOrCreate(ctx, subscriptionID, year, month)
}

func (s *Service) Increment(ctx context.Context, subscriptionID snowflake.ID, feature usagedomain.Feature) (*usagedomain.SubscriptionUsage, error) {
	if !feature.Valid() {
		s.log.Error("increment called with unknown feature",
			zap.String("subscription_id", subscriptionID.String()),
			zap.String("feature", string(feature)),
		)
		return nil, usagedomain.ErrUnknownFeature
	}
	return s.apply(ctx, subscriptionID, feature, func(*usagedomain.SubscriptionUsage) error { return nil })
}

// Consume increments feature only when the subject's plan still allows it this period.
func (s *Service) Consume(ctx context.Context, subject usagedomain.Subject, feature usagedomain.Feature) (*usagedomain.SubscriptionUsage, error) {
	if !feature.Valid() {
		return nil, usagedomain.ErrUnknownFeature
	}
	limit := limitFor(s.limits(subject), feature)

	return s.apply(ctx, subject.SubscriptionID, feature, func(usage *usagedomain.SubscriptionUsage) error {
		if limit != config.Unlimited && usage.Used(feature) >= limit {
			return usagedomain.ErrQuotaExceeded
		}
		return nil
	})
}

func (s *Service) Remaining(ctx context.Context, subject usagedomain.Subject) (usagedomain.Summary, error) {
	usage, err := s.Current(ctx, subject.SubscriptionID)
	if err != nil {
		return usagedomain.Summary{}, err
	}

	limits := s.limits(subject)
	summary := usagedomain.Summary{
		SubscriptionID: usage.SubscriptionID,
		Year:           usage.Year,
		Month:          usage.Month,
		Features:       make([]usagedomain.FeatureSummary, 0, len(usagedomain.Features)),
	}
	for _, feature := range usagedomain.Features {
		used := usage.Used(feature)
		limit := limitFor(limits, feature)
		remaining := config.Unlimited
		if limit != config.Unlimited {
			remaining = max(limit-used, 0)
		}
		summary.Features = append(summary.Features, usagedomain.FeatureSummary{
			Feature:   feature,
			Used:      used,
			Limit:     limit,
			Remaining: remaining,
		})
	}
	return summary, nil
}

func (s *Service) InitPeriod(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) (*usagedomain.SubscriptionUsage, error) {
	if subscriptionID == 0 {
		return nil, usagedomain.ErrInvalidSubscription
	}
	now := s.clock.Now()
	year, month := usagedomain.Period(now)

	usage, err := s.repo.FindBySubscriptionIDForUpdate(ctx, tx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if usage != nil {
		if usage.Rollover(year, month) {
			usage.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, usage); err != nil {
				return nil, err
			}
		}
		return usage, nil
	}

	usage = s.newUsage(subscriptionID, year, month, now)
	if err := s.repo.Insert(ctx, tx, usage); err != nil {
		return nil, fmt.Errorf("init usage: %w", err)
	}
	return usage, nil
}

// apply runs the read-rollover-check-increment sequence under a row lock.
func (s *Service) apply(ctx context.Context, subscriptionID snowflake.ID, feature usagedomain.Feature, check func(*usagedomain.SubscriptionUsage) error) (*usagedomain.SubscriptionUsage, error) {
	// Make sure the row exists so the locked read below always finds it.
	if _, err := s.Current(ctx, subscriptionID); err != nil {
		return nil, err
	}

	var out *usagedomain.SubscriptionUsage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		usage, err := s.repo.FindBySubscriptionIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if usage == nil {
			return usagedomain.ErrInvalidSubscription
		}

		now := s.clock.Now()
		year, month := usagedomain.Period(now)
		usage.Rollover(year, month)

		if err := check(usage); err != nil {
			return err
		}
		if err := usage.Add(feature, 1); err != nil {
			return err
		}
		usage.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, usage); err != nil {
			return err
		}
		out = usage
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordUsageIncrement(ctx, string(feature))
	return out, nil
}

func (s *Service) create(ctx context.Context, subscriptionID snowflake.ID, year, month int) (*usagedomain.SubscriptionUsage, error) {
	usage := s.newUsage(subscriptionID, year, month, s.clock.Now())
	if err := s.repo.Insert(ctx, s.db, usage); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		// Lost the first-access race; use the winner's row.
		existing, findErr := s.repo.FindBySubscriptionID(ctx, s.db, subscriptionID)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, err
		}
		if existing.Rollover(year, month) {
			existing.UpdatedAt = s.clock.Now()
			if err := s.repo.Update(ctx, s.db, existing); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}
	return usage, nil
}

func (s *Service) newUsage(subscriptionID snowflake.ID, year, month int, now time.Time) *usagedomain.SubscriptionUsage {
	return &usagedomain.SubscriptionUsage{
		ID:             s.genID.Generate(),
		SubscriptionID: subscriptionID,
		Year:           year,
		Month:          month,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *Service) limits(subject usagedomain.Subject) config.PlanLimits {
	plans := config.DefaultPlanConfig()
	if s.plans != nil {
		plans = s.plans.Get()
	}
	if subject.Premium {
		return plans.Premium
	}
	return plans.Free
}

func limitFor(limits config.PlanLimits, feature usagedomain.Feature) int {
	switch feature {
	case usagedomain.FeatureJourney:
		return limits.LearningJourneys
	case usagedomain.FeatureLesson:
		return limits.Lessons
	case usagedomain.FeatureAudio:
		return limits.AudioLessons
	default:
		return 0
	}
}
