package domain

import (
	"context"
	"errors"

	"github.com/learnitin/api/pkg/db/pagination"
)

type NotifyRequest struct {
	UserID  int64
	Title   string
	Message string
	Type    NotificationType
	Data    map[string]any
}

type ListRequest struct {
	UserID     int64
	UnreadOnly bool
	PageToken  string
	PageSize   int
}

type ListResponse struct {
	pagination.PageInfo
	Notifications []Notification `json:"notifications"`
}

// Notifier is the fire-and-forget emission boundary used by transitions.
type Notifier interface {
	Notify(ctx context.Context, req NotifyRequest) error
}

type Service interface {
	Notifier
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	UnreadCount(ctx context.Context, userID int64) (int64, error)
	MarkRead(ctx context.Context, userID int64, id string) error
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
}

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidNotification  = errors.New("invalid_notification")
	ErrInvalidType          = errors.New("invalid_notification_type")
	ErrNotificationNotFound = errors.New("notification_not_found")
)
