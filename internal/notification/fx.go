package notification

import (
	notificationdomain "github.com/learnitin/api/internal/notification/domain"
	"github.com/learnitin/api/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(service.NewService),
	fx.Provide(func(svc notificationdomain.Service) notificationdomain.Notifier { return svc }),
)
