package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/learnitin/api/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*usagedomain.SubscriptionUsage, error) {
	var usage usagedomain.SubscriptionUsage
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, year, month, learning_journeys_used, lessons_used,
		 audio_lessons_used, created_at, updated_at
		 FROM subscription_usages WHERE subscription_id = ?`,
		subscriptionID,
	).Scan(&usage).Error
	if err != nil {
		return nil, err
	}
	if usage.ID == 0 {
		return nil, nil
	}
	return &usage, nil
}

// FindBySubscriptionIDForUpdate row-locks the ledger entry; dialects without row locks ignore the clause.
func (r *repo) FindBySubscriptionIDForUpdate(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*usagedomain.SubscriptionUsage, error) {
	var usage usagedomain.SubscriptionUsage
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("subscription_id = ?", subscriptionID).
		First(&usage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &usage, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, usage *usagedomain.SubscriptionUsage) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscription_usages (
			id, subscription_id, year, month, learning_journeys_used, lessons_used,
			audio_lessons_used, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		usage.ID,
		usage.SubscriptionID,
		usage.Year,
		usage.Month,
		usage.LearningJourneysUsed,
		usage.LessonsUsed,
		usage.AudioLessonsUsed,
		usage.CreatedAt,
		usage.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, usage *usagedomain.SubscriptionUsage) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscription_usages
		 SET year = ?,
		     month = ?,
		     learning_journeys_used = ?,
		     lessons_used = ?,
		     audio_lessons_used = ?,
		     updated_at = ?
		 WHERE id = ?`,
		usage.Year,
		usage.Month,
		usage.LearningJourneysUsed,
		usage.LessonsUsed,
		usage.AudioLessonsUsed,
		usage.UpdatedAt,
		usage.ID,
	).Error
}
