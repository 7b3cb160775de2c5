package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Unlimited marks a quota without an upper bound.
const Unlimited = -1

// PlanLimits caps monthly usage per resource kind.
type PlanLimits struct {
	LearningJourneys int `mapstructure:"learning_journeys" json:"learning_journeys"`
	Lessons          int `mapstructure:"lessons" json:"lessons"`
	AudioLessons     int `mapstructure:"audio_lessons" json:"audio_lessons"`
}

type PlanConfig struct {
	Free    PlanLimits `mapstructure:"free"`
	Premium PlanLimits `mapstructure:"premium"`
}

func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		Free: PlanLimits{
			LearningJourneys: 2,
			Lessons:          10,
			AudioLessons:     3,
		},
		Premium: PlanLimits{
			LearningJourneys: Unlimited,
			Lessons:          Unlimited,
			AudioLessons:     Unlimited,
		},
	}
}

// PlanConfigHolder serves the current plan quotas and swaps them when plans.yml changes.
type PlanConfigHolder struct {
	current atomic.Value // holds PlanConfig
}

// NewStaticPlanConfigHolder pins the given config without watching any file.
func NewStaticPlanConfigHolder(cfg PlanConfig) *PlanConfigHolder {
	holder := &PlanConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPlanConfigHolder(log *zap.Logger) (*PlanConfigHolder, error) {
	log = log.Named("plan.config")
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/learnitin/config")
	v.AddConfigPath("/etc/learnitin")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEARNITIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPlanConfig()
	v.SetDefault("plans.free.learning_journeys", defaults.Free.LearningJourneys)
	v.SetDefault("plans.free.lessons", defaults.Free.Lessons)
	v.SetDefault("plans.free.audio_lessons", defaults.Free.AudioLessons)
	v.SetDefault("plans.premium.learning_journeys", defaults.Premium.LearningJourneys)
	v.SetDefault("plans.premium.lessons", defaults.Premium.Lessons)
	v.SetDefault("plans.premium.audio_lessons", defaults.Premium.AudioLessons)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
		log.Info("plans config not found, using defaults")
	}

	cfg, err := decodePlans(v)
	if err != nil {
		return nil, err
	}
	if err := validatePlanConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPlanConfigHolder(cfg)
	if !watch {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePlans(v)
		if err != nil {
			log.Warn("plans reload failed", zap.Error(err))
			return
		}
		if err := validatePlanConfig(updated); err != nil {
			log.Warn("invalid plans config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("plans config reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

// decodePlans goes through AllSettings so nested defaults merge with partial files.
func decodePlans(v *viper.Viper) (PlanConfig, error) {
	var wrapper struct {
		Plans PlanConfig `mapstructure:"plans"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return PlanConfig{}, err
	}
	return wrapper.Plans, nil
}

func (h *PlanConfigHolder) Get() PlanConfig {
	return h.current.Load().(PlanConfig)
}

func validatePlanConfig(cfg PlanConfig) error {
	for name, limits := range map[string]PlanLimits{"free": cfg.Free, "premium": cfg.Premium} {
		if limits.LearningJourneys < Unlimited || limits.Lessons < Unlimited || limits.AudioLessons < Unlimited {
			return fmt.Errorf("plans.%s: limits must be >= -1", name)
		}
	}
	return nil
}
