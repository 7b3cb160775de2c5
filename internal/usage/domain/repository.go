package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*SubscriptionUsage, error)
	FindBySubscriptionIDForUpdate(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*SubscriptionUsage, error)
	Insert(ctx context.Context, db *gorm.DB, usage *SubscriptionUsage) error
	Update(ctx context.Context, db *gorm.DB, usage *SubscriptionUsage) error
}
