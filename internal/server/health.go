package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CheckIntegrations probes the external systems. Degraded integrations
// report per-system, the endpoint itself answers 200 as long as this
// service is up.
func (s *Server) CheckIntegrations(c *gin.Context) {
	ctx := c.Request.Context()

	ledgerStatus := "ok"
	if err := s.ledgerSvc.TestConnection(ctx); err != nil {
		ledgerStatus = err.Error()
	}

	fulfillmentStatus := "ok"
	if err := s.fulfillmentSvc.TestConnection(ctx); err != nil {
		fulfillmentStatus = err.Error()
	}

	c.JSON(http.StatusOK, gin.H{
		"ledger":      ledgerStatus,
		"fulfillment": fulfillmentStatus,
	})
}
