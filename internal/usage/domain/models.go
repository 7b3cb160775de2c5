// Package domain contains the per-subscription monthly usage ledger.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Feature is one of the rate-limited resource kinds.
type Feature string

const (
	FeatureJourney Feature = "journey"
	FeatureLesson  Feature = "lesson"
	FeatureAudio   Feature = "audio"
)

// Features lists every metered feature in display order.
var Features = []Feature{FeatureJourney, FeatureLesson, FeatureAudio}

// ParseFeature accepts only the closed feature set.
func ParseFeature(value string) (Feature, error) {
	f := Feature(strings.ToLower(strings.TrimSpace(value)))
	if !f.Valid() {
		return "", ErrUnknownFeature
	}
	return f, nil
}

func (f Feature) Valid() bool {
	switch f {
	case FeatureJourney, FeatureLesson, FeatureAudio:
		return true
	default:
		return false
	}
}

// SubscriptionUsage holds the counters for one subscription's current period.
type SubscriptionUsage struct {
	ID                   snowflake.ID `gorm:"primaryKey" json:"id"`
	SubscriptionID       snowflake.ID `gorm:"not null;uniqueIndex" json:"subscription_id"`
	Year                 int          `gorm:"not null" json:"year"`
	Month                int          `gorm:"not null" json:"month"`
	LearningJourneysUsed int          `gorm:"not null;default:0" json:"learning_journeys_used"`
	LessonsUsed          int          `gorm:"not null;default:0" json:"lessons_used"`
	AudioLessonsUsed     int          `gorm:"not null;default:0" json:"audio_lessons_used"`
	CreatedAt            time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (SubscriptionUsage) TableName() string { return "subscription_usages" }

// Period returns the UTC calendar (year, month) containing t.
func Period(t time.Time) (int, int) {
	t = t.UTC()
	return t.Year(), int(t.Month())
}

// InPeriod reports whether the row already tracks (year, month).
func (u *SubscriptionUsage) InPeriod(year, month int) bool {
	return u.Year == year && u.Month == month
}

// Rollover zeroes every counter and moves the row to (year, month).
// It reports whether anything changed.
func (u *SubscriptionUsage) Rollover(year, month int) bool {
	if u.InPeriod(year, month) {
		return false
	}
	u.Year = year
	u.Month = month
	u.LearningJourneysUsed = 0
	u.LessonsUsed = 0
	u.AudioLessonsUsed = 0
	return true
}

// Used returns the counter for feature.
func (u *SubscriptionUsage) Used(feature Feature) int {
	switch feature {
	case FeatureJourney:
		return u.LearningJourneysUsed
	case FeatureLesson:
		return u.LessonsUsed
	case FeatureAudio:
		return u.AudioLessonsUsed
	default:
		return 0
	}
}

// Add bumps exactly one counter.
func (u *SubscriptionUsage) Add(feature Feature, delta int) error {
	switch feature {
	case FeatureJourney:
		u.LearningJourneysUsed += delta
	case FeatureLesson:
		u.LessonsUsed += delta
	case FeatureAudio:
		u.AudioLessonsUsed += delta
	default:
		return ErrUnknownFeature
	}
	return nil
}
