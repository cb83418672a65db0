package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// signatureHeader carries the provider's HMAC over the raw body.
const signatureHeader = "X-Payment-Signature"

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	signature := strings.TrimSpace(c.GetHeader(signatureHeader))
	outcome, err := s.orchestrator.HandleWebhook(c.Request.Context(), payload, signature)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": outcome})
}
