package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/marchand/paygate/internal/domain"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Error   *APIError `json:"error"`
}

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RetrySafe bool   `json:"retry_safe"`
	Details   any    `json:"details,omitempty"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondSuccess(w http.ResponseWriter, status int, data any) {
	RespondJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
	})
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: details,
		},
	})
}

// RespondGatewayError maps a typed gateway failure onto the HTTP surface.
// retrySafe is what the caller told us about the failed operation; only
// transport failures of an idempotent purchase carry it as true.
func RespondGatewayError(w http.ResponseWriter, err error, retrySafe bool) {
	kind, ok := domain.KindOf(err)
	if !ok {
		slog.Error("unhandled gateway error", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}
	appErr, ok := kindToAppError[kind]
	if !ok {
		slog.Error("unmapped gateway error kind", "kind", kind, "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}
	RespondJSON(w, appErr.Status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:      appErr.Code,
			Message:   appErr.Message,
			RetrySafe: retrySafe,
		},
	})
}
