package events

import (
	"context"

	"github.com/learnitin/api/internal/config"
	obsmetrics "github.com/learnitin/api/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(newBus),
	fx.Invoke(runBus),
)

type busParams struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func newBus(p busParams) *Bus {
	return NewBus(p.Cfg.Events, p.Log, p.Metrics)
}

func runBus(lc fx.Lifecycle, bus *Bus) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			bus.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return bus.Stop(ctx)
		},
	})
}
