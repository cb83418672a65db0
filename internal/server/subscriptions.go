package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallcraft/commerce-core/internal/subscription/domain"
)

func (s *Server) CreatePlan(c *gin.Context) {
	var req subscriptiondomain.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	plan, err := s.subscriptionSvc.CreatePlan(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plan})
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req subscriptiondomain.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.subscriptionSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	id, ok := s.subscriptionID(c)
	if !ok {
		return
	}

	subscription, err := s.subscriptionSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscription})
}

func (s *Server) RenewSubscription(c *gin.Context) {
	id, ok := s.subscriptionID(c)
	if !ok {
		return
	}

	result, err := s.subscriptionSvc.Renew(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) PauseSubscription(c *gin.Context) {
	id, ok := s.subscriptionID(c)
	if !ok {
		return
	}

	var req subscriptiondomain.PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	subscription, err := s.subscriptionSvc.Pause(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscription})
}

func (s *Server) ResumeSubscription(c *gin.Context) {
	id, ok := s.subscriptionID(c)
	if !ok {
		return
	}

	subscription, err := s.subscriptionSvc.Resume(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscription})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	id, ok := s.subscriptionID(c)
	if !ok {
		return
	}

	var req subscriptiondomain.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	subscription, err := s.subscriptionSvc.Cancel(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscription})
}

func (s *Server) ChangeSubscriptionFrequency(c *gin.Context) {
	id, ok := s.subscriptionID(c)
	if !ok {
		return
	}

	var req subscriptiondomain.ChangeFrequencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	subscription, err := s.subscriptionSvc.ChangeFrequency(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscription})
}

func (s *Server) PurchaseSubscriptionAddOn(c *gin.Context) {
	id, ok := s.subscriptionID(c)
	if !ok {
		return
	}

	var req subscriptiondomain.PurchaseAddOnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.subscriptionSvc.PurchaseAddOn(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) subscriptionID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}
