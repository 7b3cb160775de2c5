package googleplay

import (
	billingdomain "github.com/learnitin/api/internal/billing/domain"
	"github.com/learnitin/api/internal/clock"
	"github.com/learnitin/api/internal/config"
	obsmetrics "github.com/learnitin/api/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("billing.googleplay",
	fx.Provide(NewVerifier),
)

type VerifierParams struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// NewVerifier selects the mock verifier when GOOGLE_PLAY_MOCK is set.
func NewVerifier(p VerifierParams) billingdomain.Verifier {
	if p.Cfg.GooglePlay.Mock {
		p.Log.Warn("google play verification running in mock mode")
		return NewMockVerifier(p.Clock, p.Log)
	}
	return NewClient(p.Cfg.GooglePlay, p.Log, p.Metrics)
}
