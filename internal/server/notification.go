package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	notificationdomain "github.com/learnitin/api/internal/notification/domain"
	"github.com/learnitin/api/pkg/db/pagination"
)

type listNotificationsQuery struct {
	pagination.Pagination
	UnreadOnly string `form:"unread_only"`
}

func (s *Server) ListNotifications(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query listNotificationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	unreadOnly := false
	if raw := strings.TrimSpace(query.UnreadOnly); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			AbortWithError(c, newValidationError("unread_only", "invalid", "unread_only must be a boolean"))
			return
		}
		unreadOnly = parsed
	}

	resp, err := s.notificationSvc.List(c.Request.Context(), notificationdomain.ListRequest{
		UserID:     userID,
		UnreadOnly: unreadOnly,
		PageToken:  query.PageToken,
		PageSize:   query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Notifications,
		"page_info": resp.PageInfo,
	})
}

func (s *Server) UnreadNotificationCount(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	count, err := s.notificationSvc.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"unread_count": count}})
}

func (s *Server) MarkNotificationRead(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.notificationSvc.MarkRead(c.Request.Context(), userID, id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id, "is_read": true}})
}

func (s *Server) MarkAllNotificationsRead(c *gin.Context) {
	userID, ok := userIDFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	updated, err := s.notificationSvc.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"updated": updated}})
}
