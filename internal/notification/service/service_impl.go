package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/learnitin/api/internal/clock"
	notificationdomain "github.com/learnitin/api/internal/notification/domain"
	"github.com/learnitin/api/pkg/db/option"
	"github.com/learnitin/api/pkg/db/pagination"
	"github.com/learnitin/api/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  repository.Repository[notificationdomain.Notification]
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

func NewService(p ServiceParam) notificationdomain.Service {
	return &Service{
		log:   p.Log.Named("notification.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  repository.ProvideStore[notificationdomain.Notification](p.DB),
	}
}

func (s *Service) Notify(ctx context.Context, req notificationdomain.NotifyRequest) error {
	if req.UserID <= 0 {
		return notificationdomain.ErrInvalidUser
	}
	title := strings.TrimSpace(req.Title)
	message := strings.TrimSpace(req.Message)
	if title == "" || message == "" {
		return notificationdomain.ErrInvalidNotification
	}
	kind := req.Type
	if kind == "" {
		kind = notificationdomain.NotificationTypeInfo
	}
	if !kind.Valid() {
		return notificationdomain.ErrInvalidType
	}

	now := s.clock.Now()
	item := &notificationdomain.Notification{
		ID:        s.genID.Generate(),
		UserID:    req.UserID,
		Title:     title,
		Message:   message,
		Type:      kind,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(req.Data) > 0 {
		item.Data = datatypes.JSONMap(req.Data)
	}

	if err := s.repo.Create(ctx, item); err != nil {
		return err
	}

	s.log.Debug("notification stored",
		zap.Int64("user_id", req.UserID),
		zap.String("type", string(kind)),
		zap.String("title", title),
	)
	return nil
}

func (s *Service) List(ctx context.Context, req notificationdomain.ListRequest) (notificationdomain.ListResponse, error) {
	if req.UserID <= 0 {
		return notificationdomain.ListResponse{}, notificationdomain.ErrInvalidUser
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	options := []option.QueryOption{option.ApplyPagination(page)}
	if req.UnreadOnly {
		options = append(options, unreadOnly())
	}

	items, err := s.repo.Find(ctx, &notificationdomain.Notification{UserID: req.UserID}, options...)
	if err != nil {
		return notificationdomain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPage(items, page.Limit(), func(item *notificationdomain.Notification) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})

	out := make([]notificationdomain.Notification, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return notificationdomain.ListResponse{PageInfo: pageInfo, Notifications: out}, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, notificationdomain.ErrInvalidUser
	}
	return s.repo.Count(ctx, &notificationdomain.Notification{UserID: userID}, unreadOnly())
}

func (s *Service) MarkRead(ctx context.Context, userID int64, id string) error {
	if userID <= 0 {
		return notificationdomain.ErrInvalidUser
	}
	notificationID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || notificationID == 0 {
		return notificationdomain.ErrInvalidNotification
	}

	affected, err := s.repo.UpdateWhere(ctx,
		&notificationdomain.Notification{ID: notificationID, UserID: userID},
		map[string]any{"is_read": true, "updated_at": s.clock.Now()},
	)
	if err != nil {
		return err
	}
	if affected == 0 {
		return notificationdomain.ErrNotificationNotFound
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, notificationdomain.ErrInvalidUser
	}
	return s.repo.UpdateWhere(ctx,
		&notificationdomain.Notification{UserID: userID},
		map[string]any{"is_read": true, "updated_at": s.clock.Now()},
		unreadOnly(),
	)
}

func unreadOnly() option.QueryOption {
	return option.ApplyOperator(option.Condition{
		Field:    "is_read",
		Operator: option.EQ,
		Value:    false,
	})
}
