package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequestLessonAudio queues audio generation for a lesson. PremiumRequired has
// already resolved the entitling subscription.
func (s *Server) RequestLessonAudio(c *gin.Context) {
	sub := subscriptionFrom(c)
	if sub == nil {
		AbortWithError(c, ErrForbidden)
		return
	}

	lessonID := c.Param("id")
	if err := s.audio.RequestLessonAudio(c.Request.Context(), sub, lessonID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status": "queued",
		"data":   gin.H{"lesson_id": lessonID},
	})
}
