package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/railzwaylabs/paygate/internal/billing/domain"
	paymentdomain "github.com/railzwaylabs/paygate/internal/payment/domain"
	"github.com/railzwaylabs/paygate/internal/tiersync"
)

// APIError is the JSON error body returned by every handler.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}

func (e *APIError) Error() string { return e.Code + ": " + e.Message }

var ErrNotFound = &APIError{Status: http.StatusNotFound, Code: "not_found"}

func invalidRequestError() error {
	return &APIError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "request body is malformed"}
}

func newValidationError(field, code, message string) error {
	return &APIError{Status: http.StatusBadRequest, Code: code, Message: message, Field: field}
}

type statusMapping struct {
	err    error
	status int
}

var apiStatuses = []statusMapping{
	{billingdomain.ErrInvalidRequest, http.StatusBadRequest},
	{billingdomain.ErrInvalidOrganization, http.StatusBadRequest},
	{paymentdomain.ErrInvalidConfig, http.StatusBadRequest},
	{paymentdomain.ErrInvalidPayload, http.StatusBadRequest},
	{tiersync.ErrInvalidRequest, http.StatusBadRequest},
	{paymentdomain.ErrSignatureInvalid, http.StatusUnauthorized},
	{billingdomain.ErrCustomerNotFound, http.StatusNotFound},
	{billingdomain.ErrSubscriptionNotFound, http.StatusNotFound},
	{billingdomain.ErrInvoiceNotFound, http.StatusNotFound},
	{billingdomain.ErrPaymentMethodNotFound, http.StatusNotFound},
	{billingdomain.ErrPlanNotFound, http.StatusNotFound},
	{paymentdomain.ErrProviderNotFound, http.StatusNotFound},
	{paymentdomain.ErrInvalidProvider, http.StatusNotFound},
	{paymentdomain.ErrEventNotFound, http.StatusNotFound},
	{billingdomain.ErrActiveSubscriptionExists, http.StatusConflict},
	{billingdomain.ErrInvalidTransition, http.StatusConflict},
	{billingdomain.ErrVersionConflict, http.StatusConflict},
	{paymentdomain.ErrProviderUnchanged, http.StatusConflict},
	{paymentdomain.ErrEventNotReplayable, http.StatusConflict},
	{tiersync.ErrKeyReused, http.StatusConflict},
	{tiersync.ErrVersionConflict, http.StatusConflict},
	{billingdomain.ErrPriceNotMapped, http.StatusUnprocessableEntity},
	{paymentdomain.ErrUnsupportedTransaction, http.StatusUnprocessableEntity},
	{paymentdomain.ErrNoProviderConfigured, http.StatusUnprocessableEntity},
	{tiersync.ErrUnknownTier, http.StatusUnprocessableEntity},
}

func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var perr *paymentdomain.ProviderError
	if errors.As(err, &perr) && !errors.Is(err, paymentdomain.ErrInvalidConfig) {
		status := http.StatusBadGateway
		if perr.Retryable {
			status = http.StatusServiceUnavailable
		}
		return &APIError{Status: status, Code: "provider_error", Message: perr.Error()}
	}

	for _, m := range apiStatuses {
		if errors.Is(err, m.err) {
			return &APIError{Status: m.status, Code: m.err.Error(), Message: err.Error()}
		}
	}
	return &APIError{Status: http.StatusInternalServerError, Code: "internal_error"}
}

// webhookStatus maps ingestion failures onto the small set of codes
// providers understand: anything not caused by the request itself is a 500,
// which makes the provider redeliver.
func webhookStatus(err error) int {
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, paymentdomain.ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, paymentdomain.ErrProviderNotFound), errors.Is(err, paymentdomain.ErrInvalidProvider):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// AbortWithError writes err as an APIError and stops the handler chain.
func AbortWithError(c *gin.Context, err error) {
	apiErr := toAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(apiErr.Status, gin.H{"error": apiErr})
}
