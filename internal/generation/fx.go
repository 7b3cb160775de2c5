package generation

import (
	"github.com/learnitin/api/internal/events"
	"go.uber.org/fx"
)

var Module = fx.Module("generation.service",
	fx.Provide(NewTracker),
	fx.Provide(NewLogGenerator),
	fx.Provide(NewService),
	fx.Invoke(func(bus *events.Bus, svc *Service) { svc.Register(bus) }),
)
