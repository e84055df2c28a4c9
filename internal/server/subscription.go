package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/backoffice/internal/subscription/domain"
)

type cancelSubscriptionRequest struct {
	Immediate bool `json:"immediate"`
}

func (s *Server) CancelSubscription(c *gin.Context) {
	subID, ok := pathID(c, "id")
	if !ok {
		AbortWithError(c, newValidationError("id", "invalid_subscription", "invalid value"))
		return
	}

	var req cancelSubscriptionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.subscriptionSvc.Cancel(c.Request.Context(), subscriptiondomain.CancelRequest{
		SubscriptionID: subID,
		Immediate:      req.Immediate,
		RequestedBy:    actorFromHeader(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
