package hookpay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marchand/paygate/internal/domain"
	"github.com/marchand/paygate/internal/ledger"
)

const testSecret = "test-secret"

type stubProvider struct {
	server *httptest.Server
	calls  atomic.Int32

	status    int
	reference string
	result    string
	message   string
	delay     time.Duration
}

func newStubProvider(t *testing.T) *stubProvider {
	t.Helper()
	s := &stubProvider{
		status:    http.StatusOK,
		reference: "hp-ref-1",
		result:    "authorized",
		message:   "charge authorized",
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		w.WriteHeader(s.status)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":    s.result,
			"reference": s.reference,
			"message":   s.message,
		})
	}))
	t.Cleanup(s.server.Close)
	return s
}

func newTestGateway(t *testing.T, stub *stubProvider) (*Gateway, *ledger.Memory) {
	t.Helper()
	led := ledger.NewMemory()
	gw := New("acme", Config{
		BaseURL: stub.server.URL,
		Secret:  testSecret,
		Timeout: 2 * time.Second,
	}, led)
	return gw, led
}

func mustOptions(t *testing.T, pairs map[string]string) domain.Options {
	t.Helper()
	opts, err := domain.BuildOptions(pairs)
	require.NoError(t, err)
	return opts
}

func signedAck(reference, event, nonce string) map[string][]string {
	return map[string][]string{
		"reference": {reference},
		"event":     {event},
		"nonce":     {nonce},
		"signature": {Sign(testSecret, reference, event, nonce)},
	}
}

func TestPurchase_ValidationFailsBeforeNetwork(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		pairs    map[string]string
		wantKind domain.ErrorKind
	}{
		{"zero amount", "0", map[string]string{"currency": "USD"}, domain.KindInvalidAmount},
		{"negative amount", "-1.00", map[string]string{"currency": "USD"}, domain.KindInvalidAmount},
		{"excess precision", "10.005", map[string]string{"currency": "USD"}, domain.KindInvalidAmount},
		{"missing currency", "10.00", map[string]string{"order_id": "o-1"}, domain.KindUnsupportedCurrency},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stub := newStubProvider(t)
			gw, _ := newTestGateway(t, stub)

			_, err := gw.Purchase(context.Background(), decimal.RequireFromString(tc.amount), mustOptions(t, tc.pairs))

			require.Error(t, err)
			kind, ok := domain.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tc.wantKind, kind)
			assert.Equal(t, int32(0), stub.calls.Load(), "validation failures must not reach the network")
		})
	}
}

func TestPurchase_Authorized(t *testing.T) {
	stub := newStubProvider(t)
	gw, led := newTestGateway(t, stub)

	resp, err := gw.Purchase(context.Background(), decimal.RequireFromString("10.00"), mustOptions(t, map[string]string{
		"currency": "USD",
		"order_id": "o-1",
	}))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusAuthorized, resp.Status)
	assert.Equal(t, "hp-ref-1", resp.Reference)
	assert.Equal(t, int32(1), stub.calls.Load())

	tx, err := led.GetByReference(context.Background(), Name, "hp-ref-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAuthorized, tx.Status)
	assert.Equal(t, "acme", tx.TenantID)
	orderID, _ := tx.Options.OrderID()
	assert.Equal(t, "o-1", orderID)
}

func TestPurchase_ImmediateCapture(t *testing.T) {
	stub := newStubProvider(t)
	stub.result = "captured"
	gw, led := newTestGateway(t, stub)

	resp, err := gw.Purchase(context.Background(), decimal.RequireFromString("10.00"), mustOptions(t, map[string]string{"currency": "USD"}))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCaptured, resp.Status)

	tx, err := led.GetByReference(context.Background(), Name, "hp-ref-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCaptured, tx.Status)
}

func TestPurchase_Declined(t *testing.T) {
	stub := newStubProvider(t)
	stub.result = "declined"
	stub.message = "insufficient funds"
	gw, led := newTestGateway(t, stub)

	resp, err := gw.Purchase(context.Background(), decimal.RequireFromString("10.00"), mustOptions(t, map[string]string{"currency": "USD"}))

	assert.ErrorIs(t, err, domain.ErrProviderRejected)
	require.NotNil(t, resp)
	assert.Equal(t, domain.StatusRejected, resp.Status)

	tx, err := led.GetByReference(context.Background(), Name, "hp-ref-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, tx.Status)
}

func TestPurchase_AuthenticationFailed(t *testing.T) {
	stub := newStubProvider(t)
	stub.status = http.StatusUnauthorized
	gw, _ := newTestGateway(t, stub)

	_, err := gw.Purchase(context.Background(), decimal.RequireFromString("10.00"), mustOptions(t, map[string]string{"currency": "USD"}))
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
}

func TestPurchase_AuthenticationFailedPlainBody(t *testing.T) {
	// Some providers answer 401 with a plain-text body; the status code
	// alone decides the credential failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	led := ledger.NewMemory()
	gw := New("acme", Config{BaseURL: srv.URL, Secret: testSecret, Timeout: time.Second}, led)

	opts := mustOptions(t, map[string]string{"currency": "USD", "idempotency_key": "idem-1"})
	_, err := gw.Purchase(context.Background(), decimal.RequireFromString("10.00"), opts)

	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
	assert.False(t, domain.RetrySafe(err, opts), "credential failures are fatal, never retry-safe")
}

func TestPurchase_TimeoutLeavesTransactionPending(t *testing.T) {
	stub := newStubProvider(t)
	stub.delay = 300 * time.Millisecond
	led := ledger.NewMemory()
	gw := New("acme", Config{BaseURL: stub.server.URL, Secret: testSecret, Timeout: 50 * time.Millisecond}, led)

	opts := mustOptions(t, map[string]string{"currency": "USD", "idempotency_key": "idem-1"})
	_, err := gw.Purchase(context.Background(), decimal.RequireFromString("10.00"), opts)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.True(t, domain.RetrySafe(err, opts))

	// The transaction exists but was never marked Authorized: it waits for
	// reconciliation, not silently confirmed.
	_, refErr := led.GetByReference(context.Background(), Name, "hp-ref-1")
	assert.ErrorIs(t, refErr, domain.ErrUnknownTransaction)
}

func TestAcknowledge_ReconcilesTimedOutPurchase(t *testing.T) {
	ctx := context.Background()

	// The provider receives the charge and authorizes it, but answers after
	// the client deadline: the purchase fails with Timeout and no reference
	// is ever bound.
	transactionIDs := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TransactionID string `json:"transaction_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		transactionIDs <- req.TransactionID
		time.Sleep(300 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "authorized", "reference": "hp-ref-late"})
	}))
	t.Cleanup(srv.Close)

	led := ledger.NewMemory()
	gw := New("acme", Config{BaseURL: srv.URL, Secret: testSecret, Timeout: 50 * time.Millisecond}, led)

	_, err := gw.Purchase(ctx, decimal.RequireFromString("10.00"), mustOptions(t, map[string]string{"currency": "USD"}))
	assert.ErrorIs(t, err, domain.ErrTimeout)
	txID := <-transactionIDs

	// The provider's callback echoes the transaction_id submitted with the
	// charge; that is the only correlation the stranded transaction has.
	ack := signedAck("hp-ref-late", "captured", "n-late")
	ack["transaction_id"] = []string{txID}

	resp, err := gw.Acknowledge(ctx, ack)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCaptured, resp.Status)
	assert.Equal(t, "hp-ref-late", resp.Reference)

	tx, err := led.GetByReference(ctx, Name, "hp-ref-late")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCaptured, tx.Status)
	assert.Equal(t, "hp-ref-late", tx.Reference)

	// Redelivery replays the stored response without a second transition.
	replay, err := gw.Acknowledge(ctx, ack)
	require.NoError(t, err)
	assert.Equal(t, resp, replay)
}

func TestPurchase_NetworkErrorNotRetrySafeWithoutKey(t *testing.T) {
	led := ledger.NewMemory()
	gw := New("acme", Config{BaseURL: "http://127.0.0.1:1", Secret: testSecret, Timeout: time.Second}, led)

	opts := mustOptions(t, map[string]string{"currency": "USD"})
	_, err := gw.Purchase(context.Background(), decimal.RequireFromString("10.00"), opts)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetworkError)
	assert.False(t, domain.RetrySafe(err, opts))
}

func TestAcknowledge_CapturesAuthorizedTransaction(t *testing.T) {
	stub := newStubProvider(t)
	gw, led := newTestGateway(t, stub)
	ctx := context.Background()

	_, err := gw.Purchase(ctx, decimal.RequireFromString("10.00"), mustOptions(t, map[string]string{"currency": "USD", "order_id": "o-1"}))
	require.NoError(t, err)

	ack := signedAck("hp-ref-1", "captured", "n1")
	resp, err := gw.Acknowledge(ctx, ack)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCaptured, resp.Status)
	assert.Equal(t, "hp-ref-1", resp.Reference)

	tx, err := led.GetByReference(ctx, Name, "hp-ref-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCaptured, tx.Status)

	// Redelivering the exact payload replays the stored response and does
	// not touch the transaction again.
	replay, err := gw.Acknowledge(ctx, ack)
	require.NoError(t, err)
	assert.Equal(t, resp, replay)

	after, err := led.GetByReference(ctx, Name, "hp-ref-1")
	require.NoError(t, err)
	assert.Equal(t, tx.UpdatedAt, after.UpdatedAt)
}

func TestAcknowledge_UnknownReference(t *testing.T) {
	stub := newStubProvider(t)
	gw, _ := newTestGateway(t, stub)

	_, err := gw.Acknowledge(context.Background(), signedAck("no-such-ref", "captured", "n1"))
	assert.ErrorIs(t, err, domain.ErrUnknownTransaction)
}

func TestAcknowledge_BadSignature(t *testing.T) {
	stub := newStubProvider(t)
	gw, led := newTestGateway(t, stub)
	ctx := context.Background()

	_, err := gw.Purchase(ctx, decimal.RequireFromString("10.00"), mustOptions(t, map[string]string{"currency": "USD"}))
	require.NoError(t, err)

	tests := []struct {
		name string
		data map[string][]string
	}{
		{
			name: "missing signature",
			data: map[string][]string{"reference": {"hp-ref-1"}, "event": {"captured"}, "nonce": {"n1"}},
		},
		{
			name: "wrong signature",
			data: map[string][]string{"reference": {"hp-ref-1"}, "event": {"captured"}, "nonce": {"n1"}, "signature": {"deadbeef"}},
		},
		{
			name: "signature over different fields",
			data: map[string][]string{"reference": {"hp-ref-1"}, "event": {"captured"}, "nonce": {"n1"}, "signature": {Sign(testSecret, "hp-ref-1", "declined", "n1")}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := gw.Acknowledge(ctx, tc.data)
			assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)

			tx, err := led.GetByReference(ctx, Name, "hp-ref-1")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusAuthorized, tx.Status)
		})
	}
}

func TestAcknowledge_IllegalTransitionLeavesStateUntouched(t *testing.T) {
	stub := newStubProvider(t)
	gw, led := newTestGateway(t, stub)
	ctx := context.Background()

	_, err := gw.Purchase(ctx, decimal.RequireFromString("10.00"), mustOptions(t, map[string]string{"currency": "USD"}))
	require.NoError(t, err)

	_, err = gw.Acknowledge(ctx, signedAck("hp-ref-1", "captured", "n1"))
	require.NoError(t, err)

	// A "declined" arriving after capture must not cancel the transaction.
	resp, err := gw.Acknowledge(ctx, signedAck("hp-ref-1", "declined", "n2"))
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	require.NotNil(t, resp)
	assert.Equal(t, domain.StatusCaptured, resp.Status)

	tx, err := led.GetByReference(ctx, Name, "hp-ref-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCaptured, tx.Status)
}

func TestAcknowledge_DeclineCancelsAuthorized(t *testing.T) {
	stub := newStubProvider(t)
	gw, led := newTestGateway(t, stub)
	ctx := context.Background()

	_, err := gw.Purchase(ctx, decimal.RequireFromString("10.00"), mustOptions(t, map[string]string{"currency": "USD"}))
	require.NoError(t, err)

	resp, err := gw.Acknowledge(ctx, signedAck("hp-ref-1", "expired", "n1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, resp.Status)

	tx, err := led.GetByReference(ctx, Name, "hp-ref-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, tx.Status)
}

func TestAcknowledge_MissingReference(t *testing.T) {
	stub := newStubProvider(t)
	gw, _ := newTestGateway(t, stub)

	_, err := gw.Acknowledge(context.Background(), map[string][]string{"event": {"captured"}})
	assert.ErrorIs(t, err, domain.ErrUnknownTransaction)
}

func TestAcknowledge_RepeatedFormKeysUseFirstValue(t *testing.T) {
	stub := newStubProvider(t)
	gw, led := newTestGateway(t, stub)
	ctx := context.Background()

	_, err := gw.Purchase(ctx, decimal.RequireFromString("10.00"), mustOptions(t, map[string]string{"currency": "USD"}))
	require.NoError(t, err)

	// Providers may repeat keys (line items etc.); correlation uses the
	// first value of each correlating field.
	data := url.Values{}
	data.Add("reference", "hp-ref-1")
	data.Add("event", "captured")
	data.Add("nonce", "n1")
	data.Add("signature", Sign(testSecret, "hp-ref-1", "captured", "n1"))
	data.Add("item", "sku-1")
	data.Add("item", "sku-2")

	resp, err := gw.Acknowledge(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCaptured, resp.Status)

	tx, err := led.GetByReference(ctx, Name, "hp-ref-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCaptured, tx.Status)
}
