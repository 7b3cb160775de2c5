package service

import (
	"fmt"

	notificationdomain "github.com/learnitin/api/internal/notification/domain"
	subscriptiondomain "github.com/learnitin/api/internal/subscription/domain"
)

const dateLayout = "January 2, 2006"

func notice(sub *subscriptiondomain.Subscription, kind notificationdomain.NotificationType, title, message string) *notificationdomain.NotifyRequest {
	return &notificationdomain.NotifyRequest{
		UserID:  sub.UserID,
		Title:   title,
		Message: message,
		Type:    kind,
		Data: map[string]any{
			"subscription_id": sub.ID.String(),
			"product_id":      sub.ProductID,
			"status":          string(sub.Status),
		},
	}
}

func welcomeNotice(sub *subscriptiondomain.Subscription) *notificationdomain.NotifyRequest {
	return notice(sub, notificationdomain.NotificationTypeInfo,
		"Welcome to Learnitin",
		"Your free plan is active. Upgrade to premium for unlimited lessons and audio.")
}

func activatedNotice(sub *subscriptiondomain.Subscription) *notificationdomain.NotifyRequest {
	return notice(sub, notificationdomain.NotificationTypeSuccess,
		"Subscription activated",
		fmt.Sprintf("Your premium subscription is active until %s.", sub.ExpiryTime.Format(dateLayout)))
}

func renewedNotice(sub *subscriptiondomain.Subscription) *notificationdomain.NotifyRequest {
	return notice(sub, notificationdomain.NotificationTypeSuccess,
		"Subscription renewed",
		fmt.Sprintf("Your premium subscription renewed until %s.", sub.ExpiryTime.Format(dateLayout)))
}

func canceledNotice(sub *subscriptiondomain.Subscription) *notificationdomain.NotifyRequest {
	return notice(sub, notificationdomain.NotificationTypeWarning,
		"Subscription canceled",
		fmt.Sprintf("Your subscription will not renew. Premium access continues until %s.", sub.ExpiryTime.Format(dateLayout)))
}

func expiredNotice(sub *subscriptiondomain.Subscription) *notificationdomain.NotifyRequest {
	return notice(sub, notificationdomain.NotificationTypeWarning,
		"Subscription expired",
		"Your premium subscription has expired.")
}

func pausedNotice(sub *subscriptiondomain.Subscription) *notificationdomain.NotifyRequest {
	return notice(sub, notificationdomain.NotificationTypeInfo,
		"Subscription paused",
		"Your premium subscription is paused.")
}

func resumedNotice(sub *subscriptiondomain.Subscription) *notificationdomain.NotifyRequest {
	if sub.Status != subscriptiondomain.SubscriptionStatusActive {
		return nil
	}
	return notice(sub, notificationdomain.NotificationTypeSuccess,
		"Subscription resumed",
		fmt.Sprintf("Your premium subscription is active again until %s.", sub.ExpiryTime.Format(dateLayout)))
}

func revokedNotice(sub *subscriptiondomain.Subscription) *notificationdomain.NotifyRequest {
	return notice(sub, notificationdomain.NotificationTypeError,
		"Subscription revoked",
		"Your premium access was revoked after a refund or chargeback.")
}

func recoveredNotice(sub *subscriptiondomain.Subscription) *notificationdomain.NotifyRequest {
	if sub.Status != subscriptiondomain.SubscriptionStatusActive {
		return nil
	}
	return notice(sub, notificationdomain.NotificationTypeSuccess,
		"Payment recovered",
		"Your payment went through and premium access continues.")
}
