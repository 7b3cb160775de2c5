package repository

import (
	"context"

	"github.com/learnitin/api/pkg/db/option"
)

// Repository is a generic gorm-backed store for simple aggregates.
type Repository[T any] interface {
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	Create(ctx context.Context, resource *T) error
	Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
	UpdateWhere(ctx context.Context, query *T, values map[string]any, opts ...option.QueryOption) (int64, error)
}
