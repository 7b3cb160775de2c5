package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/learnitin/api/internal/events"
	subscriptiondomain "github.com/learnitin/api/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPackage = "com.learnitin.app"

type fakeLookup struct {
	rows  map[string]*subscriptiondomain.Subscription
	err   error
	calls int
}

func (f *fakeLookup) FindByToken(_ context.Context, token string) (*subscriptiondomain.Subscription, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[token], nil
}

type fakePublisher struct {
	published []events.Event
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, event events.Event) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, event)
	return nil
}

func setup(t *testing.T) (*Service, *fakeLookup, *fakePublisher) {
	t.Helper()
	lookup := &fakeLookup{rows: map[string]*subscriptiondomain.Subscription{
		"known-token": {ID: 1, UserID: 7, ProductID: "premium_monthly", Status: subscriptiondomain.SubscriptionStatusActive},
	}}
	pub := &fakePublisher{}
	return newService(testPackage, zap.NewNop(), lookup, pub, nil), lookup, pub
}

func pushBody(t *testing.T, notification any) []byte {
	t.Helper()
	inner, err := json.Marshal(notification)
	require.NoError(t, err)
	return rawPushBody(t, base64.StdEncoding.EncodeToString(inner))
}

func rawPushBody(t *testing.T, data string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"data":        data,
			"messageId":   "msg-1",
			"publishTime": "2024-03-01T00:00:00Z",
		},
		"subscription": "projects/learnitin/subscriptions/play-rtdn",
	})
	require.NoError(t, err)
	return body
}

func subscriptionPayload(notificationType any, token string) map[string]any {
	return map[string]any{
		"version":         "1.0",
		"packageName":     testPackage,
		"eventTimeMillis": "1709251200000",
		"subscriptionNotification": map[string]any{
			"version":          "1.0",
			"notificationType": notificationType,
			"purchaseToken":    token,
			"subscriptionId":   "premium_monthly",
		},
	}
}

func TestIngestDispatchesEveryRecognizedType(t *testing.T) {
	cases := map[int]events.Kind{
		1:  events.KindSubscriptionRecovered,
		2:  events.KindSubscriptionRenewed,
		3:  events.KindSubscriptionCanceled,
		4:  events.KindSubscriptionPurchased,
		5:  events.KindSubscriptionOnHold,
		6:  events.KindSubscriptionGracePeriod,
		7:  events.KindSubscriptionResumed,
		10: events.KindSubscriptionPaused,
		12: events.KindSubscriptionRevoked,
		13: events.KindSubscriptionExpired,
	}

	for notificationType, want := range cases {
		svc, _, pub := setup(t)
		result, err := svc.Ingest(context.Background(), pushBody(t, subscriptionPayload(notificationType, "known-token")))
		require.NoError(t, err, notificationType)
		assert.Equal(t, OutcomeDispatched, result.Outcome)
		assert.Equal(t, want, result.Kind)
		require.Len(t, pub.published, 1)
		assert.Equal(t, want, pub.published[0].Kind())
	}
}

func TestIngestBuildsEventPayload(t *testing.T) {
	svc, _, pub := setup(t)

	result, err := svc.Ingest(context.Background(), pushBody(t, subscriptionPayload("2", "known-token")))
	require.NoError(t, err)
	assert.Equal(t, "msg-1", result.MessageID)

	require.Len(t, pub.published, 1)
	renewed, ok := pub.published[0].(events.SubscriptionRenewed)
	require.True(t, ok)
	assert.Equal(t, "known-token", renewed.PurchaseToken)
	assert.Equal(t, "premium_monthly", renewed.ProductID)
	assert.Equal(t, testPackage, renewed.PackageName)
	assert.True(t, time.UnixMilli(1709251200000).Equal(renewed.EventTime))
	assert.Equal(t, IdempotencyKey("known-token", events.KindSubscriptionRenewed, 1709251200000), renewed.IdempotencyKey)
	assert.Len(t, renewed.IdempotencyKey, 64)
}

func TestIngestWithoutEventTimeHasNoIdempotencyKey(t *testing.T) {
	svc, _, pub := setup(t)
	payload := subscriptionPayload(3, "known-token")
	delete(payload, "eventTimeMillis")

	_, err := svc.Ingest(context.Background(), pushBody(t, payload))
	require.NoError(t, err)
	require.Len(t, pub.published, 1)
	canceled := pub.published[0].(events.SubscriptionCanceled)
	assert.Empty(t, canceled.IdempotencyKey)
	assert.True(t, canceled.EventTime.IsZero())
}

func TestIngestUnknownTokenSignalsRetry(t *testing.T) {
	svc, _, pub := setup(t)

	_, err := svc.Ingest(context.Background(), pushBody(t, subscriptionPayload(2, "unknown-token")))
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
	assert.Empty(t, pub.published)
}

func TestIngestAcknowledgesMalformedInput(t *testing.T) {
	tests := map[string][]byte{
		"not json":       []byte("{"),
		"no message":     []byte(`{"subscription":"x"}`),
		"invalid base64": nil,
		"empty data":     nil,
		"invalid json":   nil,
		"invalid utf8":   nil,
	}
	tests["invalid base64"] = rawPushBody(t, "%%%not-base64%%%")
	tests["empty data"] = rawPushBody(t, "")
	tests["invalid json"] = rawPushBody(t, base64.StdEncoding.EncodeToString([]byte("not json")))
	tests["invalid utf8"] = rawPushBody(t, base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0xfd}))

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			svc, lookup, pub := setup(t)
			result, err := svc.Ingest(context.Background(), body)
			require.NoError(t, err)
			assert.Equal(t, OutcomeMalformed, result.Outcome)
			assert.Zero(t, lookup.calls)
			assert.Empty(t, pub.published)
		})
	}
}

func TestIngestIgnoresUnrecognizedAndNonSubscriptionPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    Outcome
	}{
		{name: "price change confirmed", payload: subscriptionPayload(8, "known-token"), want: OutcomeIgnored},
		{name: "future type", payload: subscriptionPayload(99, "unknown-token"), want: OutcomeIgnored},
		{name: "test notification", payload: map[string]any{"packageName": testPackage, "testNotification": map[string]any{"version": "1.0"}}, want: OutcomeTest},
		{name: "one-time product", payload: map[string]any{"packageName": testPackage, "oneTimeProductNotification": map[string]any{"sku": "coins"}}, want: OutcomeIgnored},
		{name: "empty root", payload: map[string]any{"packageName": testPackage}, want: OutcomeIgnored},
		{name: "other package", payload: func() map[string]any {
			p := subscriptionPayload(2, "known-token")
			p["packageName"] = "com.other.app"
			return p
		}(), want: OutcomePackageMismatch},
		{name: "missing token", payload: subscriptionPayload(2, ""), want: OutcomeMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, pub := setup(t)
			result, err := svc.Ingest(context.Background(), pushBody(t, tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Outcome)
			assert.Empty(t, pub.published)
		})
	}
}

func TestIngestSurfacesDispatchFailure(t *testing.T) {
	svc, _, pub := setup(t)
	pub.err = events.ErrQueueFull

	_, err := svc.Ingest(context.Background(), pushBody(t, subscriptionPayload(2, "known-token")))
	assert.ErrorIs(t, err, events.ErrQueueFull)
}

func TestIngestSurfacesLookupFailure(t *testing.T) {
	svc, lookup, _ := setup(t)
	lookup.err = errors.New("db down")

	_, err := svc.Ingest(context.Background(), pushBody(t, subscriptionPayload(2, "known-token")))
	require.Error(t, err)
	assert.NotErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestFlexIntAcceptsNumbersAndStrings(t *testing.T) {
	var n SubscriptionNotification
	require.NoError(t, json.Unmarshal([]byte(`{"notificationType":"12"}`), &n))
	assert.Equal(t, flexInt(12), n.NotificationType)
	require.NoError(t, json.Unmarshal([]byte(`{"notificationType":13}`), &n))
	assert.Equal(t, flexInt(13), n.NotificationType)
	assert.Error(t, json.Unmarshal([]byte(`{"notificationType":"twelve"}`), &n))
}

func TestIdempotencyKeyIsStable(t *testing.T) {
	a := IdempotencyKey("tok", events.KindSubscriptionRenewed, 1)
	assert.Equal(t, a, IdempotencyKey("tok", events.KindSubscriptionRenewed, 1))
	assert.NotEqual(t, a, IdempotencyKey("tok", events.KindSubscriptionRenewed, 2))
	assert.NotEqual(t, a, IdempotencyKey("tok", events.KindSubscriptionCanceled, 1))
}

func TestIngestAcksKindWithoutSubscriptionPayload(t *testing.T) {
	const unmappedType = 99
	kindByType[unmappedType] = events.KindLessonAudioRequested
	t.Cleanup(func() { delete(kindByType, unmappedType) })

	svc, _, pub := setup(t)
	result, err := svc.Ingest(context.Background(), pushBody(t, subscriptionPayload(unmappedType, "known-token")))

	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, result.Outcome)
	assert.Equal(t, events.KindLessonAudioRequested, result.Kind)
	assert.Empty(t, pub.published)
}
