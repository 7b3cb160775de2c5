package webhook

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/learnitin/api/internal/events"
)

// Envelope is the Pub/Sub push body.
type Envelope struct {
	Message      *PubSubMessage `json:"message"`
	Subscription string         `json:"subscription"`
}

type PubSubMessage struct {
	Data        string `json:"data"`
	MessageID   string `json:"messageId"`
	PublishTime string `json:"publishTime"`
}

// DeveloperNotification is the decoded RTDN root object.
type DeveloperNotification struct {
	Version                    string                    `json:"version"`
	PackageName                string                    `json:"packageName"`
	EventTimeMillis            flexInt                   `json:"eventTimeMillis"`
	SubscriptionNotification   *SubscriptionNotification `json:"subscriptionNotification"`
	OneTimeProductNotification json.RawMessage           `json:"oneTimeProductNotification"`
	TestNotification           json.RawMessage           `json:"testNotification"`
}

type SubscriptionNotification struct {
	Version          string  `json:"version"`
	NotificationType flexInt `json:"notificationType"`
	PurchaseToken    string  `json:"purchaseToken"`
	SubscriptionID   string  `json:"subscriptionId"`
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return err
		}
		raw = strings.TrimSpace(unquoted)
		if raw == "" {
			*f = 0
			return nil
		}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %q", raw)
	}
	*f = flexInt(v)
	return nil
}

// RTDN subscription notification types.
const (
	TypeRecovered            = 1
	TypeRenewed              = 2
	TypeCanceled             = 3
	TypePurchased            = 4
	TypeOnHold               = 5
	TypeInGracePeriod        = 6
	TypeRestarted            = 7
	TypePriceChangeConfirmed = 8
	TypeDeferred             = 9
	TypePaused               = 10
	TypePauseScheduleChanged = 11
	TypeRevoked              = 12
	TypeExpired              = 13
)

var kindByType = map[int64]events.Kind{
	TypeRecovered:     events.KindSubscriptionRecovered,
	TypeRenewed:       events.KindSubscriptionRenewed,
	TypeCanceled:      events.KindSubscriptionCanceled,
	TypePurchased:     events.KindSubscriptionPurchased,
	TypeOnHold:        events.KindSubscriptionOnHold,
	TypeInGracePeriod: events.KindSubscriptionGracePeriod,
	TypeRestarted:     events.KindSubscriptionResumed,
	TypePaused:        events.KindSubscriptionPaused,
	TypeRevoked:       events.KindSubscriptionRevoked,
	TypeExpired:       events.KindSubscriptionExpired,
}

// Classify maps a notification type onto an event kind.
func Classify(notificationType int64) (events.Kind, bool) {
	kind, ok := kindByType[notificationType]
	return kind, ok
}

// decodeData turns the base64 message data into a developer notification.
func decodeData(data string) (*DeveloperNotification, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, fmt.Errorf("%w: empty message data", ErrDecode)
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
		}
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: payload is not utf-8", ErrDecode)
	}

	var n DeveloperNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrDecode, err)
	}
	return &n, nil
}
