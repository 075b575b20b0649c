package handler

import (
	"net/http"

	"github.com/marchand/paygate/internal/domain"
)

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrInvalidRequest = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrInternalError  = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}
)

// kindToAppError maps the closed gateway error taxonomy onto HTTP responses.
// Authenticity and correlation failures answer with client-error codes so a
// well-behaved provider stops redelivering a notification it cannot sign.
var kindToAppError = map[domain.ErrorKind]*AppError{
	domain.KindInvalidAmount:        {http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be positive and within the currency's precision"},
	domain.KindUnsupportedCurrency:  {http.StatusBadRequest, "UNSUPPORTED_CURRENCY", "Currency is missing or not supported"},
	domain.KindNetworkError:         {http.StatusBadGateway, "PROVIDER_UNREACHABLE", "Payment provider could not be reached"},
	domain.KindTimeout:              {http.StatusGatewayTimeout, "PROVIDER_TIMEOUT", "Payment provider did not answer in time"},
	domain.KindProviderRejected:     {http.StatusUnprocessableEntity, "PAYMENT_REJECTED", "Payment was declined by the provider"},
	domain.KindAuthenticationFailed: {http.StatusUnauthorized, "AUTHENTICATION_FAILED", "Credentials or signature did not validate"},
	domain.KindUnknownTransaction:   {http.StatusNotFound, "UNKNOWN_TRANSACTION", "No transaction matches this notification"},
	domain.KindIllegalTransition:    {http.StatusConflict, "ILLEGAL_TRANSITION", "Transaction state does not permit this change"},
	domain.KindNoGatewayConfigured:  {http.StatusNotFound, "NO_GATEWAY_CONFIGURED", "No gateway is configured for this tenant"},
	domain.KindAmbiguousGateway:     {http.StatusConflict, "AMBIGUOUS_GATEWAY", "Multiple gateways configured without a default"},
}
