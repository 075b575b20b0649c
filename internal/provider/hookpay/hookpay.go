// Package hookpay integrates the Hookpay processor: synchronous JSON charge
// requests, asynchronous form-encoded callbacks signed with a shared-secret
// HMAC.
package hookpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marchand/paygate/internal/domain"
	"github.com/marchand/paygate/internal/gateway"
	"github.com/marchand/paygate/internal/ledger"
	"github.com/marchand/paygate/internal/logging"
)

const Name = "hookpay"

type Config struct {
	BaseURL string
	Secret  string
	Timeout time.Duration
}

type Gateway struct {
	tenantID   string
	cfg        Config
	ledger     ledger.Ledger
	httpClient *http.Client
}

func New(tenantID string, cfg Config, led ledger.Ledger) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Gateway{
		tenantID: tenantID,
		cfg:      cfg,
		ledger:   led,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (g *Gateway) Name() string { return Name }

type chargeRequest struct {
	TransactionID  string `json:"transaction_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	OrderID        string `json:"order_id,omitempty"`
	Description    string `json:"description,omitempty"`
	ReturnURL      string `json:"return_url,omitempty"`
	CustomerEmail  string `json:"customer_email,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type chargeResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

func (g *Gateway) Purchase(ctx context.Context, amount decimal.Decimal, opts domain.Options) (*domain.GatewayResponse, error) {
	log := logging.FromContext(ctx)

	if err := gateway.ValidatePurchase(amount, opts); err != nil {
		return nil, fmt.Errorf("Purchase: %w", err)
	}
	currency, _ := opts.Currency()

	tx := &domain.Transaction{
		ID:       uuid.New(),
		TenantID: g.tenantID,
		Provider: Name,
		Amount:   amount,
		Currency: currency,
		Status:   domain.StatusCreated,
		Options:  opts,
	}
	if err := g.ledger.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("Purchase: %w", err)
	}

	body, status, err := g.submitCharge(ctx, tx, amount, opts)
	if err != nil {
		// The transaction stays Created: the outcome is unknown until the
		// provider confirms or a later acknowledgement reconciles it.
		return nil, fmt.Errorf("Purchase: %w", err)
	}

	// Credential failures are decided by the status code alone; the body may
	// not be JSON.
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("Purchase: %w", domain.NewError(domain.KindAuthenticationFailed, "provider refused credentials"))
	}

	var result chargeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("Purchase: %w", domain.WrapError(domain.KindNetworkError, "malformed provider response", err))
	}

	target, ok := mapChargeStatus(result.Status)
	if !ok {
		detail := fmt.Sprintf("unrecognized charge status %q", result.Status)
		return nil, fmt.Errorf("Purchase: %w", domain.NewError(domain.KindNetworkError, detail))
	}

	if target == domain.StatusRejected {
		if _, err := g.ledger.RecordPurchaseOutcome(ctx, tx.ID, result.Reference, domain.StatusFailed); err != nil {
			return nil, fmt.Errorf("Purchase: %w", err)
		}
		log.Info("charge rejected", "provider", Name, "transaction_id", tx.ID, "message", result.Message)
		resp := &domain.GatewayResponse{
			Status:     domain.StatusRejected,
			Reference:  result.Reference,
			Message:    result.Message,
			RawPayload: body,
		}
		return resp, fmt.Errorf("Purchase: %w", domain.NewError(domain.KindProviderRejected, result.Message))
	}

	if _, err := g.ledger.RecordPurchaseOutcome(ctx, tx.ID, result.Reference, domain.StatusAuthorized); err != nil {
		return nil, fmt.Errorf("Purchase: %w", err)
	}
	if target == domain.StatusCaptured {
		if _, err := g.ledger.RecordPurchaseOutcome(ctx, tx.ID, result.Reference, domain.StatusCaptured); err != nil {
			return nil, fmt.Errorf("Purchase: %w", err)
		}
	}

	log.Info("charge accepted",
		"provider", Name,
		"transaction_id", tx.ID,
		"reference", result.Reference,
		"status", target,
	)

	return &domain.GatewayResponse{
		Status:     target,
		Reference:  result.Reference,
		Message:    result.Message,
		RawPayload: body,
	}, nil
}

func (g *Gateway) submitCharge(ctx context.Context, tx *domain.Transaction, amount decimal.Decimal, opts domain.Options) ([]byte, int, error) {
	currency, _ := opts.Currency()
	payload := chargeRequest{
		TransactionID: tx.ID.String(),
		Amount:        amount.String(),
		Currency:      string(currency),
	}
	payload.OrderID, _ = opts.OrderID()
	payload.Description, _ = opts.Description()
	payload.CustomerEmail, _ = opts.CustomerEmail()
	payload.IdempotencyKey, _ = opts.IdempotencyKey()
	if u, ok := opts.ReturnURL(); ok {
		payload.ReturnURL = u.String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("submitCharge: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("submitCharge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, 0, gateway.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	logging.FromContext(ctx).Info("provider response received",
		"provider", Name,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, domain.WrapError(domain.KindNetworkError, "read provider response", err)
	}
	return respBody, resp.StatusCode, nil
}

func mapChargeStatus(status string) (domain.Status, bool) {
	switch status {
	case "authorized":
		return domain.StatusAuthorized, true
	case "captured":
		return domain.StatusCaptured, true
	case "declined":
		return domain.StatusRejected, true
	}
	return "", false
}

// Acknowledge handles a Hookpay callback. The body carries reference, event,
// nonce and signature fields; the signature is an HMAC-SHA256 over
// "reference|event|nonce" with the shared secret. Hookpay also echoes the
// transaction_id submitted with the charge, which correlates notifications
// for purchases whose synchronous response was lost in transport.
func (g *Gateway) Acknowledge(ctx context.Context, data map[string][]string) (*domain.GatewayResponse, error) {
	reference := gateway.First(data, "reference")
	event := gateway.First(data, "event")
	nonce := gateway.First(data, "nonce")
	signature := gateway.First(data, "signature")

	if reference == "" {
		return nil, fmt.Errorf("Acknowledge: %w", domain.NewError(domain.KindUnknownTransaction, "missing reference"))
	}

	corr := domain.Correlation{
		Reference: reference,
		Event:     domain.AckEvent(event),
		EventID:   nonce,
	}
	if v := gateway.First(data, "transaction_id"); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			corr.TransactionID = id
		}
	}

	raw := []byte(url.Values(data).Encode())

	resp, err := g.ledger.ApplyAcknowledgement(ctx, Name, corr, raw, func(tx domain.Transaction) (domain.Status, string, error) {
		if !verifySignature(g.cfg.Secret, reference, event, nonce, signature) {
			return "", "", domain.NewError(domain.KindAuthenticationFailed, "callback signature mismatch")
		}
		target, ok := domain.TargetStatus(corr.Event)
		if !ok {
			detail := fmt.Sprintf("unrecognized event %q", event)
			return "", "", domain.NewError(domain.KindIllegalTransition, detail)
		}
		return target, "acknowledged: " + event, nil
	})
	if err != nil {
		logAckFailure(ctx, reference, event, err)
		return resp, fmt.Errorf("Acknowledge: %w", err)
	}

	logging.FromContext(ctx).Info("acknowledgement applied",
		"provider", Name,
		"reference", reference,
		"event", event,
		"status", resp.Status,
	)
	return resp, nil
}

func verifySignature(secret, reference, event, nonce, signature string) bool {
	if signature == "" {
		return false
	}
	expected := Sign(secret, reference, event, nonce)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the callback signature Hookpay attaches to notifications.
// Exported for the stub provider and tests.
func Sign(secret, reference, event, nonce string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(reference + "|" + event + "|" + nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

func logAckFailure(ctx context.Context, reference, event string, err error) {
	log := logging.FromContext(ctx)
	if kind, ok := domain.KindOf(err); ok && kind == domain.KindIllegalTransition {
		// Expected for duplicated or out-of-order deliveries; a data
		// integrity signal, not a programming error.
		log.Warn("acknowledgement transition rejected", "provider", Name, "reference", reference, "event", event, "error", err)
		return
	}
	log.Error("acknowledgement failed", "provider", Name, "reference", reference, "event", event, "error", err)
}
