package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	fulfillmentdomain "github.com/smallcraft/commerce-core/internal/fulfillment/domain"
	gatewaydomain "github.com/smallcraft/commerce-core/internal/gateway/domain"
	ledgerdomain "github.com/smallcraft/commerce-core/internal/ledger/domain"
	"github.com/smallcraft/commerce-core/internal/orchestrator"
	orderdomain "github.com/smallcraft/commerce-core/internal/order/domain"
	subscriptiondomain "github.com/smallcraft/commerce-core/internal/subscription/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrInternal           = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, orchestrator.ErrUnauthorized),
		errors.Is(err, gatewaydomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, subscriptiondomain.ErrInvalidStateTransition):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "invalid state transition",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, gatewaydomain.ErrGatewayUnavailable),
		errors.Is(err, ledgerdomain.ErrLedgerUnavailable),
		errors.Is(err, fulfillmentdomain.ErrFulfillmentUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, orchestrator.ErrUnknownReference),
		errors.Is(err, orderdomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrNotFound),
		errors.Is(err, subscriptiondomain.ErrPlanNotFound),
		errors.Is(err, subscriptiondomain.ErrInvoiceNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	}
	return false
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, orchestrator.ErrMalformedPayload),
		errors.Is(err, orderdomain.ErrInvalidRequest),
		errors.Is(err, orderdomain.ErrEmptyItems),
		errors.Is(err, subscriptiondomain.ErrInvalidRequest),
		errors.Is(err, subscriptiondomain.ErrInvalidPauseWindow),
		errors.Is(err, subscriptiondomain.ErrInvalidInterval),
		errors.Is(err, gatewaydomain.ErrInvalidRequest):
		return true
	}
	return false
}

// classifyErrorForLog maps an error to (type, code) for the request log.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "internal", payload.Type
	case status == http.StatusUnauthorized:
		return "auth", payload.Type
	default:
		return "client", payload.Type
	}
}
