package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/marchand/paygate/internal/domain"
	"github.com/marchand/paygate/internal/registry"
)

// stubGateway lets each test script the gateway's answer without a provider
// round trip.
type stubGateway struct {
	name        string
	purchase    func(ctx context.Context, amount decimal.Decimal, opts domain.Options) (*domain.GatewayResponse, error)
	acknowledge func(ctx context.Context, data map[string][]string) (*domain.GatewayResponse, error)
}

func (s *stubGateway) Name() string { return s.name }

func (s *stubGateway) Purchase(ctx context.Context, amount decimal.Decimal, opts domain.Options) (*domain.GatewayResponse, error) {
	return s.purchase(ctx, amount, opts)
}

func (s *stubGateway) Acknowledge(ctx context.Context, data map[string][]string) (*domain.GatewayResponse, error) {
	return s.acknowledge(ctx, data)
}

func singleGatewayRegistry(tenant string, gw *stubGateway) *registry.Registry {
	return registry.NewBuilder().Register(tenant, gw).Build()
}

// envelope mirrors the API response shape for decoding in assertions.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return env
}

func doRequest(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}
