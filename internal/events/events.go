// Package events defines the in-process event union and the worker bus that dispatches it.
package events

import "time"

type Kind string

const (
	KindSubscriptionPurchased   Kind = "subscription.purchased"
	KindSubscriptionRenewed     Kind = "subscription.renewed"
	KindSubscriptionCanceled    Kind = "subscription.canceled"
	KindSubscriptionExpired     Kind = "subscription.expired"
	KindSubscriptionPaused      Kind = "subscription.paused"
	KindSubscriptionResumed     Kind = "subscription.resumed"
	KindSubscriptionRevoked     Kind = "subscription.revoked"
	KindSubscriptionGracePeriod Kind = "subscription.grace_period"
	KindSubscriptionRecovered   Kind = "subscription.recovered"
	KindSubscriptionOnHold      Kind = "subscription.on_hold"

	KindLessonAudioRequested Kind = "lesson.audio_requested"
)

// SubscriptionKinds lists the kinds that drive subscription transitions.
var SubscriptionKinds = []Kind{
	KindSubscriptionPurchased,
	KindSubscriptionRenewed,
	KindSubscriptionCanceled,
	KindSubscriptionExpired,
	KindSubscriptionPaused,
	KindSubscriptionResumed,
	KindSubscriptionRevoked,
	KindSubscriptionGracePeriod,
	KindSubscriptionRecovered,
	KindSubscriptionOnHold,
}

// Event is implemented only by the payload types in this package.
type Event interface {
	Kind() Kind
	sealed()
}

// SubscriptionNotification carries what a billing notification tells us about one purchase.
type SubscriptionNotification struct {
	PurchaseToken string
	ProductID     string
	PackageName   string
	EventTime     time.Time
	// IdempotencyKey is empty when the sender gave no event time.
	IdempotencyKey string
}

func (SubscriptionNotification) sealed() {}

type SubscriptionPurchased struct{ SubscriptionNotification }
type SubscriptionRenewed struct{ SubscriptionNotification }
type SubscriptionCanceled struct{ SubscriptionNotification }
type SubscriptionExpired struct{ SubscriptionNotification }
type SubscriptionPaused struct{ SubscriptionNotification }
type SubscriptionResumed struct{ SubscriptionNotification }
type SubscriptionRevoked struct{ SubscriptionNotification }
type SubscriptionGracePeriod struct{ SubscriptionNotification }
type SubscriptionRecovered struct{ SubscriptionNotification }
type SubscriptionOnHold struct{ SubscriptionNotification }

func (SubscriptionPurchased) Kind() Kind   { return KindSubscriptionPurchased }
func (SubscriptionRenewed) Kind() Kind     { return KindSubscriptionRenewed }
func (SubscriptionCanceled) Kind() Kind    { return KindSubscriptionCanceled }
func (SubscriptionExpired) Kind() Kind     { return KindSubscriptionExpired }
func (SubscriptionPaused) Kind() Kind      { return KindSubscriptionPaused }
func (SubscriptionResumed) Kind() Kind     { return KindSubscriptionResumed }
func (SubscriptionRevoked) Kind() Kind     { return KindSubscriptionRevoked }
func (SubscriptionGracePeriod) Kind() Kind { return KindSubscriptionGracePeriod }
func (SubscriptionRecovered) Kind() Kind   { return KindSubscriptionRecovered }
func (SubscriptionOnHold) Kind() Kind      { return KindSubscriptionOnHold }

// NewSubscriptionEvent wraps n in the payload type for kind.
func NewSubscriptionEvent(kind Kind, n SubscriptionNotification) (Event, bool) {
	switch kind {
	case KindSubscriptionPurchased:
		return SubscriptionPurchased{n}, true
	case KindSubscriptionRenewed:
		return SubscriptionRenewed{n}, true
	case KindSubscriptionCanceled:
		return SubscriptionCanceled{n}, true
	case KindSubscriptionExpired:
		return SubscriptionExpired{n}, true
	case KindSubscriptionPaused:
		return SubscriptionPaused{n}, true
	case KindSubscriptionResumed:
		return SubscriptionResumed{n}, true
	case KindSubscriptionRevoked:
		return SubscriptionRevoked{n}, true
	case KindSubscriptionGracePeriod:
		return SubscriptionGracePeriod{n}, true
	case KindSubscriptionRecovered:
		return SubscriptionRecovered{n}, true
	case KindSubscriptionOnHold:
		return SubscriptionOnHold{n}, true
	default:
		return nil, false
	}
}

// LessonAudioRequested asks for audio to be produced for one lesson.
type LessonAudioRequested struct {
	LessonID string
	UserID   int64
}

func (LessonAudioRequested) Kind() Kind { return KindLessonAudioRequested }
func (LessonAudioRequested) sealed()    {}
