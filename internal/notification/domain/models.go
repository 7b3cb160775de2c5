// Package domain contains in-app notifications raised by subscription transitions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type NotificationType string

const (
	NotificationTypeInfo    NotificationType = "info"
	NotificationTypeSuccess NotificationType = "success"
	NotificationTypeWarning NotificationType = "warning"
	NotificationTypeError   NotificationType = "error"
	NotificationTypeSystem  NotificationType = "system"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTypeInfo, NotificationTypeSuccess, NotificationTypeWarning, NotificationTypeError, NotificationTypeSystem:
		return true
	default:
		return false
	}
}

type Notification struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID    int64             `gorm:"not null;index" json:"user_id"`
	Title     string            `gorm:"type:text;not null" json:"title"`
	Message   string            `gorm:"type:text;not null" json:"message"`
	Type      NotificationType  `gorm:"type:text;not null" json:"type"`
	IsRead    bool              `gorm:"not null;default:false" json:"is_read"`
	Data      datatypes.JSONMap `json:"data,omitempty"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Notification) TableName() string { return "notifications" }
