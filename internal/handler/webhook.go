package handler

import (
	"net/http"

	"github.com/marchand/paygate/internal/domain"
	"github.com/marchand/paygate/internal/logging"
	"github.com/marchand/paygate/internal/registry"
)

// WebhookHandler delivers raw provider callbacks to the gateway that can
// authenticate them. It does not inspect the body beyond form decoding: the
// provider implementation owns signature checks and status mapping.
type WebhookHandler struct {
	registry *registry.Registry
}

func NewWebhookHandler(reg *registry.Registry) *WebhookHandler {
	return &WebhookHandler{registry: reg}
}

type ackResponse struct {
	Status    domain.Status `json:"status"`
	Reference string        `json:"reference,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// ReceiveProviderCallback handles POST /api/v1/webhooks/{tenant}/{provider}.
func (h *WebhookHandler) ReceiveProviderCallback(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	tenantID := r.PathValue("tenant")
	providerName := r.PathValue("provider")

	if err := r.ParseForm(); err != nil {
		log.Warn("unparseable callback body", "tenant", tenantID, "provider", providerName, "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	gw, err := h.registry.ResolveProvider(tenantID, providerName)
	if err != nil {
		log.Warn("callback for unconfigured gateway", "tenant", tenantID, "provider", providerName)
		RespondGatewayError(w, err, false)
		return
	}

	resp, err := gw.Acknowledge(r.Context(), r.PostForm)
	if err != nil {
		// Acknowledge already logged the failure with provider context.
		RespondGatewayError(w, err, false)
		return
	}

	RespondSuccess(w, http.StatusOK, ackResponse{
		Status:    resp.Status,
		Reference: resp.Reference,
		Message:   resp.Message,
	})
}
