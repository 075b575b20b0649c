// Package tokenpay integrates the Tokenpay processor. Charges authenticate
// with a bearer API key; callbacks carry a single "token" field holding an
// HS256 JWT whose claims identify the transaction and the reported event.
package tokenpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marchand/paygate/internal/domain"
	"github.com/marchand/paygate/internal/gateway"
	"github.com/marchand/paygate/internal/ledger"
	"github.com/marchand/paygate/internal/logging"
)

const Name = "tokenpay"

type Config struct {
	BaseURL     string
	APIKey      string
	TokenSecret string
	Timeout     time.Duration
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

type paymentRequest struct {
	ExternalID string `json:"external_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Reference  string `json:"merchant_reference,omitempty"`
	Memo       string `json:"memo,omitempty"`
	RedirectTo string `json:"redirect_to,omitempty"`
	PayerEmail string `json:"payer_email,omitempty"`
	RequestKey string `json:"request_key,omitempty"`
}

type paymentResponse struct {
	Result    string `json:"result"` // accepted | settled | refused
	PaymentID string `json:"payment_id"`
	Detail    string `json:"detail"`
}

func (g *Gateway) Purchase(ctx context.Context, amount decimal.Decimal, opts domain.Options) (*domain.GatewayResponse, error) {
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

	payload := paymentRequest{
		ExternalID: tx.ID.String(),
		Amount:     amount.String(),
		Currency:   string(currency),
	}
	payload.Reference, _ = opts.OrderID()
	payload.Memo, _ = opts.Description()
	payload.PayerEmail, _ = opts.CustomerEmail()
	payload.RequestKey, _ = opts.IdempotencyKey()
	if u, ok := opts.ReturnURL(); ok {
		payload.RedirectTo = u.String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("Purchase: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Purchase: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	httpResp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Purchase: %w", gateway.ClassifyTransportError(err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("Purchase: %w", domain.WrapError(domain.KindNetworkError, "read provider response", err))
	}

	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("Purchase: %w", domain.NewError(domain.KindAuthenticationFailed, "provider refused API key"))
	}

	var result paymentResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("Purchase: %w", domain.WrapError(domain.KindNetworkError, "malformed provider response", err))
	}

	switch result.Result {
	case "refused":
		if _, err := g.ledger.RecordPurchaseOutcome(ctx, tx.ID, result.PaymentID, domain.StatusFailed); err != nil {
			return nil, fmt.Errorf("Purchase: %w", err)
		}
		resp := &domain.GatewayResponse{
			Status:     domain.StatusRejected,
			Reference:  result.PaymentID,
			Message:    result.Detail,
			RawPayload: respBody,
		}
		return resp, fmt.Errorf("Purchase: %w", domain.NewError(domain.KindProviderRejected, result.Detail))
	case "accepted", "settled":
	default:
		detail := fmt.Sprintf("unrecognized result %q", result.Result)
		return nil, fmt.Errorf("Purchase: %w", domain.NewError(domain.KindNetworkError, detail))
	}

	status := domain.StatusAuthorized
	if _, err := g.ledger.RecordPurchaseOutcome(ctx, tx.ID, result.PaymentID, domain.StatusAuthorized); err != nil {
		return nil, fmt.Errorf("Purchase: %w", err)
	}
	if result.Result == "settled" {
		if _, err := g.ledger.RecordPurchaseOutcome(ctx, tx.ID, result.PaymentID, domain.StatusCaptured); err != nil {
			return nil, fmt.Errorf("Purchase: %w", err)
		}
		status = domain.StatusCaptured
	}

	logging.FromContext(ctx).Info("payment accepted",
		"provider", Name,
		"transaction_id", tx.ID,
		"payment_id", result.PaymentID,
		"status", status,
	)

	return &domain.GatewayResponse{
		Status:     status,
		Reference:  result.PaymentID,
		Message:    result.Detail,
		RawPayload: respBody,
	}, nil
}

// AckClaims is what Tokenpay puts inside the callback JWT. ExternalID echoes
// the merchant-assigned id submitted with the payment, so notifications still
// correlate when the synchronous payment response was lost in transport.
type AckClaims struct {
	PaymentID  string `json:"payment_id"`
	ExternalID string `json:"external_id,omitempty"`
	Event      string `json:"event"`
	jwt.RegisteredClaims
}

// Acknowledge handles a Tokenpay callback. Correlation fields are read from
// the token without verifying it first, so deduplication and transaction
// lookup happen in the documented order; the signature is verified against
// the shared secret before any state is touched.
func (g *Gateway) Acknowledge(ctx context.Context, data map[string][]string) (*domain.GatewayResponse, error) {
	token := gateway.First(data, "token")
	if token == "" {
		return nil, fmt.Errorf("Acknowledge: %w", domain.NewError(domain.KindAuthenticationFailed, "missing token"))
	}

	var claims AckClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("Acknowledge: %w", domain.WrapError(domain.KindAuthenticationFailed, "unparseable token", err))
	}
	if claims.PaymentID == "" {
		return nil, fmt.Errorf("Acknowledge: %w", domain.NewError(domain.KindUnknownTransaction, "token missing payment_id"))
	}

	corr := domain.Correlation{
		Reference: claims.PaymentID,
		Event:     domain.AckEvent(claims.Event),
		EventID:   claims.ID,
	}
	if claims.ExternalID != "" {
		if id, err := uuid.Parse(claims.ExternalID); err == nil {
			corr.TransactionID = id
		}
	}

	resp, err := g.ledger.ApplyAcknowledgement(ctx, Name, corr, []byte(token), func(tx domain.Transaction) (domain.Status, string, error) {
		if err := g.verifyToken(token); err != nil {
			return "", "", err
		}
		target, ok := domain.TargetStatus(corr.Event)
		if !ok {
			detail := fmt.Sprintf("unrecognized event %q", claims.Event)
			return "", "", domain.NewError(domain.KindIllegalTransition, detail)
		}
		return target, "acknowledged: " + claims.Event, nil
	})
	if err != nil {
		logging.FromContext(ctx).Warn("acknowledgement rejected",
			"provider", Name,
			"payment_id", claims.PaymentID,
			"event", claims.Event,
			"error", err,
		)
		return resp, fmt.Errorf("Acknowledge: %w", err)
	}

	logging.FromContext(ctx).Info("acknowledgement applied",
		"provider", Name,
		"payment_id", claims.PaymentID,
		"event", claims.Event,
		"status", resp.Status,
	)
	return resp, nil
}

func (g *Gateway) verifyToken(token string) error {
	_, err := jwt.ParseWithClaims(token, &AckClaims{}, func(t *jwt.Token) (any, error) {
		return []byte(g.cfg.TokenSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.WrapError(domain.KindAuthenticationFailed, "callback token verification failed", err)
	}
	return nil
}

// SignAck issues a callback token the way Tokenpay does. Used by the stub
// provider and tests.
func SignAck(secret string, claims AckClaims) (string, error) {
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(time.Now().UTC())
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
