package subscription

import (
	"github.com/learnitin/api/internal/events"
	"github.com/learnitin/api/internal/subscription/consumer"
	"github.com/learnitin/api/internal/subscription/repository"
	"github.com/learnitin/api/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(consumer.NewConsumer),
	fx.Invoke(registerConsumer),
)

func registerConsumer(bus *events.Bus, c *consumer.Consumer) {
	c.Register(bus)
}
