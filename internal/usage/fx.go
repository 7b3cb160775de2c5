package usage

import (
	"github.com/learnitin/api/internal/usage/repository"
	"github.com/learnitin/api/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
