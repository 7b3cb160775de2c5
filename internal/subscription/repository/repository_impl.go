package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/learnitin/api/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, user_id, product_id, purchase_token, status, expiry_time, auto_renew,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.UserID,
		subscription.ProductID,
		subscription.PurchaseToken,
		subscription.Status,
		subscription.ExpiryTime,
		subscription.AutoRenew,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET user_id = ?,
		     status = ?,
		     expiry_time = ?,
		     auto_renew = ?,
		     updated_at = ?
		 WHERE id = ?`,
		subscription.UserID,
		subscription.Status,
		subscription.ExpiryTime,
		subscription.AutoRenew,
		subscription.UpdatedAt,
		subscription.ID,
	).Error
}

func (r *repo) FindLatestByToken(ctx context.Context, db *gorm.DB, token string) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, product_id, purchase_token, status, expiry_time, auto_renew,
		 created_at, updated_at
		 FROM subscriptions
		 WHERE purchase_token = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		token,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) FindLatestByTokenForUpdate(ctx context.Context, db *gorm.DB, token string) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("purchase_token = ?", token).
		Order("created_at DESC").
		Order("id DESC").
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) FindByUserAndStatuses(ctx context.Context, db *gorm.DB, userID int64, statuses []subscriptiondomain.SubscriptionStatus) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, product_id, purchase_token, status, expiry_time, auto_renew,
		 created_at, updated_at
		 FROM subscriptions
		 WHERE user_id = ? AND status IN ?
		 ORDER BY expiry_time DESC, created_at DESC, id DESC`,
		userID,
		statuses,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) FindActiveByUserForUpdate(ctx context.Context, db *gorm.DB, userID int64) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND status = ?", userID, subscriptiondomain.SubscriptionStatusActive).
		Order("created_at DESC").
		Order("id DESC").
		Find(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) FindLatestByUser(ctx context.Context, db *gorm.DB, userID int64) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, product_id, purchase_token, status, expiry_time, auto_renew,
		 created_at, updated_at
		 FROM subscriptions
		 WHERE user_id = ?
		 ORDER BY expiry_time DESC, id DESC
		 LIMIT 1`,
		userID,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) DeactivateActiveForUser(ctx context.Context, db *gorm.DB, userID int64, exceptID snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, updated_at = ?
		 WHERE user_id = ? AND status = ? AND id <> ?`,
		subscriptiondomain.SubscriptionStatusExpired,
		now,
		userID,
		subscriptiondomain.SubscriptionStatusActive,
		exceptID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) InsertTransition(ctx context.Context, db *gorm.DB, transition *subscriptiondomain.Transition) error {
	return db.WithContext(ctx).Create(transition).Error
}

func (r *repo) IdempotencyKeyExists(ctx context.Context, db *gorm.DB, key string) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM subscription_transitions WHERE idempotency_key = ?`,
		key,
	).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
