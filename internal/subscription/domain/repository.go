package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	// FindLatestByToken returns the newest row carrying token.
	FindLatestByToken(ctx context.Context, db *gorm.DB, token string) (*Subscription, error)
	FindLatestByTokenForUpdate(ctx context.Context, db *gorm.DB, token string) (*Subscription, error)
	FindByUserAndStatuses(ctx context.Context, db *gorm.DB, userID int64, statuses []SubscriptionStatus) ([]Subscription, error)
	FindActiveByUserForUpdate(ctx context.Context, db *gorm.DB, userID int64) ([]Subscription, error)
	// FindLatestByUser returns the row with the furthest expiry.
	FindLatestByUser(ctx context.Context, db *gorm.DB, userID int64) (*Subscription, error)
	// DeactivateActiveForUser expires every ACTIVE row of the user except exceptID (0 keeps none).
	DeactivateActiveForUser(ctx context.Context, db *gorm.DB, userID int64, exceptID snowflake.ID, now time.Time) (int64, error)

	InsertTransition(ctx context.Context, db *gorm.DB, transition *Transition) error
	IdempotencyKeyExists(ctx context.Context, db *gorm.DB, key string) (bool, error)
}
