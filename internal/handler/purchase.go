package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/marchand/paygate/internal/domain"
	"github.com/marchand/paygate/internal/logging"
	"github.com/marchand/paygate/internal/registry"
)

type PurchaseHandler struct {
	registry *registry.Registry
}

func NewPurchaseHandler(reg *registry.Registry) *PurchaseHandler {
	return &PurchaseHandler{registry: reg}
}

type purchaseRequest struct {
	Amount  string            `json:"amount"`
	Options map[string]string `json:"options"`
}

type purchaseResponse struct {
	Status    domain.Status `json:"status"`
	Reference string        `json:"reference,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// CreatePurchase handles POST /api/v1/tenants/{tenant}/purchase.
func (h *PurchaseHandler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	tenantID := r.PathValue("tenant")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	var req purchaseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		RespondAppError(w, ErrInvalidRequest, []map[string]string{{"field": "amount", "message": "must be a decimal number"}})
		return
	}

	opts, err := domain.BuildOptions(req.Options)
	if err != nil {
		RespondAppError(w, ErrInvalidRequest, []map[string]string{{"field": "options", "message": err.Error()}})
		return
	}

	gw, err := h.registry.Resolve(tenantID)
	if err != nil {
		RespondGatewayError(w, err, false)
		return
	}

	resp, err := gw.Purchase(r.Context(), amount, opts)
	if err != nil {
		log.Warn("purchase failed", "tenant", tenantID, "gateway", gw.Name(), "error", err)
		RespondGatewayError(w, err, domain.RetrySafe(err, opts))
		return
	}

	log.Info("purchase completed",
		"tenant", tenantID,
		"gateway", gw.Name(),
		"status", resp.Status,
		"reference", resp.Reference,
	)

	RespondSuccess(w, http.StatusCreated, purchaseResponse{
		Status:    resp.Status,
		Reference: resp.Reference,
		Message:   resp.Message,
	})
}
