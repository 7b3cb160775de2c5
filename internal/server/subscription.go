package server

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/learnitin/api/internal/events"
	subscriptiondomain "github.com/learnitin/api/internal/subscription/domain"
	usagedomain "github.com/learnitin/api/internal/usage/domain"
	"github.com/learnitin/api/pkg/db/pagination"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type subscriptionResponse struct {
	*subscriptiondomain.Subscription
	Usage *usagedomain.SubscriptionUsage `json:"usage,omitempty"`
}

// HandleGooglePlayWebhook acknowledges a Pub/Sub push. Only an unknown purchase
// token (404) or a full dispatch queue (503) make the sender retry.
func (s *Server) HandleGooglePlayWebhook(c *gin.Context) {
	if expected := strings.TrimSpace(s.cfg.GooglePlay.WebhookToken); expected != "" {
		got := c.Query("token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.webhooks.Ingest(c.Request.Context(), payload)
	if err != nil {
		switch {
		case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
			AbortWithError(c, err)
		case errors.Is(err, events.ErrQueueFull), errors.Is(err, events.ErrBusClosed):
			AbortWithError(c, ErrServiceUnavailable)
		default:
			s.log.Error("webhook ingestion failed", zap.String("message_id", result.MessageID), zap.Error(err))
			AbortWithError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) VerifySubscription(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req subscriptiondomain.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sub, err := s.subscriptionSvc.VerifyAndSave(c.Request.Context(), subscriptiondomain.VerifyRequest{
		UserID:        userID,
		ProductID:     strings.TrimSpace(req.ProductID),
		PurchaseToken: strings.TrimSpace(req.PurchaseToken),
		PackageName:   strings.TrimSpace(req.PackageName),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.respondWithUsage(c, sub)
}

func (s *Server) ResyncSubscription(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	token := strings.TrimSpace(c.Query("purchase_token"))
	if token == "" {
		AbortWithError(c, newValidationError("purchase_token", "required", "purchase_token is required"))
		return
	}

	sub, err := s.subscriptionSvc.Resync(c.Request.Context(), userID, token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.respondWithUsage(c, sub)
}

// GetMySubscription returns the user's current subscription, provisioning the
// free tier on first access.
func (s *Server) GetMySubscription(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	sub, err := s.subscriptionSvc.ResolveCurrent(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.respondWithUsage(c, sub)
}

func (s *Server) GetMyUsage(c *gin.Context) {
	sub, ok := s.currentSubscription(c)
	if !ok {
		return
	}

	summary, err := s.usagesvc.Remaining(c.Request.Context(), subjectOf(sub))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) ConsumeMyUsage(c *gin.Context) {
	feature, err := usagedomain.ParseFeature(c.Param("feature"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sub, ok := s.currentSubscription(c)
	if !ok {
		return
	}

	usage, err := s.usagesvc.Consume(c.Request.Context(), subjectOf(sub), feature)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": usage})
}

func (s *Server) ListMySubscriptionHistory(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.ListHistory(c.Request.Context(), subscriptiondomain.ListHistoryRequest{
		UserID:    userID,
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Subscriptions,
		"page_info": resp.PageInfo,
	})
}

func (s *Server) currentSubscription(c *gin.Context) (*subscriptiondomain.Subscription, bool) {
	userID, ok := userIDFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return nil, false
	}

	sub, err := s.subscriptionSvc.ResolveCurrent(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	return sub, true
}

// respondWithUsage attaches the current period's ledger. A ledger failure does
// not hide the subscription itself.
func (s *Server) respondWithUsage(c *gin.Context, sub *subscriptiondomain.Subscription) {
	resp := subscriptionResponse{Subscription: sub}
	usage, err := s.usagesvc.Current(c.Request.Context(), sub.ID)
	if err != nil {
		s.log.Warn("failed to load usage for subscription",
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(err),
		)
	} else {
		resp.Usage = usage
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func subjectOf(sub *subscriptiondomain.Subscription) usagedomain.Subject {
	return usagedomain.Subject{SubscriptionID: sub.ID, Premium: sub.IsPremium()}
}
