// Package generation guards lesson audio generation: premium-only, one run per
// lesson at a time, paid for from the audio quota.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/learnitin/api/internal/clock"
	"github.com/learnitin/api/internal/events"
	notificationdomain "github.com/learnitin/api/internal/notification/domain"
	subscriptiondomain "github.com/learnitin/api/internal/subscription/domain"
	usagedomain "github.com/learnitin/api/internal/usage/domain"
	"github.com/learnitin/api/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrInFlight      = errors.New("generation_in_flight")
	ErrInvalidLesson = errors.New("invalid_lesson")
)

// ContentGenerator produces lesson audio. Implementations live outside this service.
type ContentGenerator interface {
	GenerateLessonAudio(ctx context.Context, lessonID string) error
}

type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type ServiceParam struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Tracker   *Tracker
	Bus       *events.Bus
	UsageSvc  usagedomain.Service
	Generator ContentGenerator
	Notifier  notificationdomain.Notifier `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	clock     clock.Clock
	tracker   *Tracker
	publisher Publisher
	usagesvc  usagedomain.Service
	generator ContentGenerator
	notifier  notificationdomain.Notifier
}

func NewService(p ServiceParam) *Service {
	return &Service{
		log:       p.Log.Named("generation.service"),
		clock:     p.Clock,
		tracker:   p.Tracker,
		publisher: p.Bus,
		usagesvc:  p.UsageSvc,
		generator: p.Generator,
		notifier:  p.Notifier,
	}
}

// RequestLessonAudio claims the lesson, charges one audio unit and queues the
// generation. sub must already have passed the premium gate.
func (s *Service) RequestLessonAudio(ctx context.Context, sub *subscriptiondomain.Subscription, lessonID string) error {
	lessonID = strings.TrimSpace(lessonID)
	if lessonID == "" {
		return ErrInvalidLesson
	}
	if sub == nil || sub.IsFree() {
		return subscriptiondomain.ErrPremiumRequired
	}

	if !s.tracker.TryStart(lessonID, sub.UserID, s.clock.Now()) {
		return ErrInFlight
	}

	subject := usagedomain.Subject{SubscriptionID: sub.ID, Premium: sub.IsPremium()}
	if _, err := s.usagesvc.Consume(ctx, subject, usagedomain.FeatureAudio); err != nil {
		s.tracker.Finish(lessonID)
		return err
	}

	if err := s.publisher.Publish(ctx, events.LessonAudioRequested{LessonID: lessonID, UserID: sub.UserID}); err != nil {
		s.tracker.Finish(lessonID)
		return fmt.Errorf("queue lesson audio: %w", err)
	}

	s.log.Info("lesson audio requested",
		zap.String("lesson_id", lessonID),
		zap.Int64("user_id", sub.UserID),
	)
	return nil
}

func (s *Service) InFlight(lessonID string) bool {
	return s.tracker.InFlight(strings.TrimSpace(lessonID))
}

// Register subscribes the audio worker on bus.
func (s *Service) Register(bus *events.Bus) {
	bus.Subscribe(events.KindLessonAudioRequested, s.Handle)
}

// Handle runs the generator for one request and always releases the lesson.
func (s *Service) Handle(ctx context.Context, event events.Event) error {
	req, ok := event.(events.LessonAudioRequested)
	if !ok {
		return nil
	}
	defer s.tracker.Finish(req.LessonID)

	log := ctxlogger.WithContext(ctx, s.log).With(zap.String("lesson_id", req.LessonID))

	if err := s.generator.GenerateLessonAudio(ctx, req.LessonID); err != nil {
		log.Error("lesson audio generation failed", zap.Error(err))
		s.notify(ctx, notificationdomain.NotifyRequest{
			UserID:  req.UserID,
			Title:   "Audio unavailable",
			Message: "We could not prepare the audio for this lesson. Please try again later.",
			Type:    notificationdomain.NotificationTypeError,
			Data:    map[string]any{"lesson_id": req.LessonID},
		})
		return err
	}

	log.Info("lesson audio generated")
	s.notify(ctx, notificationdomain.NotifyRequest{
		UserID:  req.UserID,
		Title:   "Audio ready",
		Message: "The audio for your lesson is ready to play.",
		Type:    notificationdomain.NotificationTypeSuccess,
		Data:    map[string]any{"lesson_id": req.LessonID},
	})
	return nil
}

func (s *Service) notify(ctx context.Context, req notificationdomain.NotifyRequest) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, req); err != nil {
		s.log.Warn("failed to emit notification", zap.Int64("user_id", req.UserID), zap.Error(err))
	}
}

// logGenerator is the default when no generator backend is wired.
type logGenerator struct {
	log *zap.Logger
}

func NewLogGenerator(log *zap.Logger) ContentGenerator {
	return &logGenerator{log: log.Named("generation.generator")}
}

func (g *logGenerator) GenerateLessonAudio(ctx context.Context, lessonID string) error {
	ctxlogger.WithContext(ctx, g.log).Info("no audio backend configured; skipping", zap.String("lesson_id", lessonID))
	return nil
}
