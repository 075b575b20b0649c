// Package gateway defines the contract every payment provider integration
// satisfies. A gateway represents an electronic payment terminal tied to a
// seller's merchant account: purchases execute synchronously against it, and
// providers later push asynchronous status acknowledgements back through it.
package gateway

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/marchand/paygate/internal/domain"
)

// PaymentGateway is implemented once per provider. Purchase performs exactly
// one outbound call with a bounded timeout and never retries internally.
// Acknowledge consumes a raw provider callback body as a multi-valued
// key/value map (keys may repeat) and is safe to invoke concurrently,
// including for redeliveries of the same notification.
type PaymentGateway interface {
	// Name identifies the provider, e.g. "hookpay". Stable; used for
	// correlation and registry lookup.
	Name() string

	// Purchase authorizes and captures amount against the gateway. The
	// options carry at minimum the currency; validation failures surface
	// before any network I/O.
	Purchase(ctx context.Context, amount decimal.Decimal, opts domain.Options) (*domain.GatewayResponse, error)

	// Acknowledge processes a provider-initiated status notification.
	// Redelivery of an already-processed notification returns the stored
	// response unchanged with no side effects.
	Acknowledge(ctx context.Context, data map[string][]string) (*domain.GatewayResponse, error)
}

// ValidatePurchase runs the shared pre-flight checks every provider performs
// before touching the network: a strictly positive amount within the
// currency's minor-unit precision, and a supported currency present in the
// options.
func ValidatePurchase(amount decimal.Decimal, opts domain.Options) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("ValidatePurchase: %w", domain.NewError(domain.KindInvalidAmount, "amount must be greater than zero"))
	}

	currency, ok := opts.Currency()
	if !ok {
		return fmt.Errorf("ValidatePurchase: %w", domain.NewError(domain.KindUnsupportedCurrency, "currency option is required"))
	}
	if !currency.Supported() {
		return fmt.Errorf("ValidatePurchase: %w", domain.NewError(domain.KindUnsupportedCurrency, string(currency)))
	}
	if !currency.FitsMinorUnits(amount) {
		detail := fmt.Sprintf("amount %s exceeds %s minor unit precision", amount, currency)
		return fmt.Errorf("ValidatePurchase: %w", domain.NewError(domain.KindInvalidAmount, detail))
	}

	return nil
}

// First returns the first value for key in a raw notification body, or ""
// when absent. Providers use it to pick correlating fields out of payloads
// that may carry repeated keys.
func First(data map[string][]string, key string) string {
	if vs := data[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}
