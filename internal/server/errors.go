package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	chatdomain "github.com/atelierhq/atelier/internal/chat/domain"
	creditdomain "github.com/atelierhq/atelier/internal/credit/domain"
	gendomain "github.com/atelierhq/atelier/internal/generation/domain"
	pricingdomain "github.com/atelierhq/atelier/internal/pricing/domain"
	providerdomain "github.com/atelierhq/atelier/internal/provider/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
)

// ErrorHandlingMiddleware translates domain sentinels collected on the gin
// context into stable user-facing error codes. Allowance failures keep their
// identity all the way out so the client can tell "top up the organization"
// from "raise my quota" from "join an organization".
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
	case errors.Is(err, creditdomain.ErrInsufficientCredit):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credit",
			Message: "organization credit is insufficient",
		}
	case errors.Is(err, creditdomain.ErrQuotaExceeded):
		return http.StatusForbidden, errorPayload{
			Type:    "quota_exceeded",
			Message: "member quota exceeded",
		}
	case errors.Is(err, creditdomain.ErrUserOrganizationRequired):
		return http.StatusBadRequest, errorPayload{
			Type:    "user_organization_required",
			Message: "user has no organization",
		}
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, gendomain.ErrInvalidRequest),
		errors.Is(err, chatdomain.ErrInvalidRequest),
		errors.Is(err, creditdomain.ErrInvalidUser),
		errors.Is(err, creditdomain.ErrInvalidCredits),
		errors.Is(err, creditdomain.ErrInvalidPageToken),
		errors.Is(err, pricingdomain.ErrInvalidPrice):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: "invalid request",
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, providerdomain.ErrTimeout):
		return http.StatusGatewayTimeout, errorPayload{
			Type:    "timeout",
			Message: "provider job timed out",
		}
	case errors.Is(err, providerdomain.ErrInvalidCredentials):
		return http.StatusBadGateway, errorPayload{
			Type:    "invalid_provider_credentials",
			Message: "provider rejected the configured credentials",
		}
	case errors.Is(err, providerdomain.ErrProvider),
		errors.Is(err, providerdomain.ErrTransport),
		errors.Is(err, providerdomain.ErrProviderNotFound):
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_error",
			Message: "provider request failed",
		}
	case errors.Is(err, chatdomain.ErrNoCompleter):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "chat is not configured",
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
		errors.Is(err, gendomain.ErrBatchNotFound),
		errors.Is(err, gendomain.ErrGenerationNotFound),
		errors.Is(err, gendomain.ErrTaskNotFound),
		errors.Is(err, pricingdomain.ErrPriceNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
