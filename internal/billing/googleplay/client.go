package googleplay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	billingdomain "github.com/learnitin/api/internal/billing/domain"
	"github.com/learnitin/api/internal/config"
	obsmetrics "github.com/learnitin/api/internal/observability/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"
)

const providerName = "google_play"

var (
	ErrCredentialsMissing = errors.New("google_play_credentials_missing")
	ErrMalformedPurchase  = errors.New("malformed_purchase")
)

// fetchFunc retrieves the raw purchase; swapped in tests.
type fetchFunc func(ctx context.Context, packageName, productID, token string) (*androidpublisher.SubscriptionPurchase, error)

// Client verifies subscription purchases against the Android Publisher API.
type Client struct {
	cfg     config.GooglePlayConfig
	log     *zap.Logger
	metrics *obsmetrics.Metrics

	once    sync.Once
	initErr error
	fetch   fetchFunc
}

func NewClient(cfg config.GooglePlayConfig, log *zap.Logger, metrics *obsmetrics.Metrics) *Client {
	return &Client{
		cfg:     cfg,
		log:     log.Named("billing.googleplay"),
		metrics: metrics,
	}
}

// Verify implements domain.Verifier.
func (c *Client) Verify(ctx context.Context, productID, purchaseToken string) (billingdomain.VerificationResult, error) {
	ctx, span := otel.Tracer("learnitin/billing").Start(ctx, "googleplay.Verify")
	span.SetAttributes(attribute.String("product_id", productID))
	defer span.End()

	result, err := c.verify(ctx, productID, purchaseToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification failed")
		c.metrics.RecordBillingVerification(ctx, providerName, "error")
		c.log.Warn("purchase verification failed",
			zap.String("product_id", productID),
			zap.String("token_prefix", billingdomain.TokenPrefix(purchaseToken)),
			zap.Error(err),
		)
		return billingdomain.VerificationResult{}, &billingdomain.VerificationError{ProductID: productID, Err: err}
	}

	c.metrics.RecordBillingVerification(ctx, providerName, "ok")
	return result, nil
}

func (c *Client) verify(ctx context.Context, productID, purchaseToken string) (billingdomain.VerificationResult, error) {
	if strings.TrimSpace(productID) == "" || strings.TrimSpace(purchaseToken) == "" {
		return billingdomain.VerificationResult{}, ErrMalformedPurchase
	}

	c.once.Do(func() {
		if c.fetch == nil {
			c.fetch, c.initErr = c.newFetcher(ctx)
		}
	})
	if c.initErr != nil {
		return billingdomain.VerificationResult{}, c.initErr
	}

	timeout := c.cfg.VerifyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	purchase, err := c.fetch(callCtx, c.cfg.PackageName, productID, purchaseToken)
	if err != nil {
		return billingdomain.VerificationResult{}, err
	}
	return toResult(purchase)
}

func (c *Client) newFetcher(ctx context.Context) (fetchFunc, error) {
	raw, err := loadCredentials(c.cfg.CredentialsJSON)
	if err != nil {
		return nil, err
	}

	creds, err := google.CredentialsFromJSON(context.WithoutCancel(ctx), raw, androidpublisher.AndroidpublisherScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}

	svc, err := androidpublisher.NewService(context.WithoutCancel(ctx), option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("init android publisher: %w", err)
	}

	return func(ctx context.Context, packageName, productID, token string) (*androidpublisher.SubscriptionPurchase, error) {
		return svc.Purchases.Subscriptions.Get(packageName, productID, token).Context(ctx).Do()
	}, nil
}

// loadCredentials accepts either inline service account JSON or a path to it.
func loadCredentials(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrCredentialsMissing
	}
	if strings.HasPrefix(value, "{") {
		return []byte(value), nil
	}
	raw, err := os.ReadFile(value)
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	return raw, nil
}

func toResult(purchase *androidpublisher.SubscriptionPurchase) (billingdomain.VerificationResult, error) {
	if purchase == nil {
		return billingdomain.VerificationResult{}, ErrMalformedPurchase
	}
	if purchase.ExpiryTimeMillis <= 0 {
		return billingdomain.VerificationResult{}, fmt.Errorf("%w: missing expiryTimeMillis", ErrMalformedPurchase)
	}

	state := billingdomain.PaymentStatePending
	if purchase.PaymentState != nil {
		state = billingdomain.PaymentState(*purchase.PaymentState)
	}

	return billingdomain.VerificationResult{
		ExpiryTime:   time.UnixMilli(purchase.ExpiryTimeMillis).UTC(),
		AutoRenew:    purchase.AutoRenewing,
		PaymentState: state,
		OrderID:      purchase.OrderId,
	}, nil
}
