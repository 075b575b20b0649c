package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOptions(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]string
		wantErr error
	}{
		{
			name: "full valid set",
			raw: map[string]string{
				"currency":        "USD",
				"order_id":        "o-1",
				"return_url":      "https://shop.example/return",
				"description":     "order o-1",
				"customer_email":  "buyer@example.com",
				"idempotency_key": "idem-123",
			},
		},
		{
			name: "currency only",
			raw:  map[string]string{"currency": "EUR"},
		},
		{
			name: "empty bag is valid, currency checked at purchase time",
			raw:  map[string]string{},
		},
		{
			name:    "unknown key rejected",
			raw:     map[string]string{"currency": "USD", "card_number": "4111"},
			wantErr: ErrUnknownOptionKey,
		},
		{
			name:    "unsupported currency",
			raw:     map[string]string{"currency": "XYZ"},
			wantErr: ErrInvalidOption,
		},
		{
			name:    "relative return url rejected",
			raw:     map[string]string{"return_url": "/thanks"},
			wantErr: ErrInvalidOption,
		},
		{
			name:    "malformed email rejected",
			raw:     map[string]string{"customer_email": "not-an-email"},
			wantErr: ErrInvalidOption,
		},
		{
			name:    "empty idempotency key rejected",
			raw:     map[string]string{"idempotency_key": ""},
			wantErr: ErrInvalidOption,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts, err := BuildOptions(tc.raw)

			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, len(tc.raw), opts.Len())
			for k, v := range tc.raw {
				got, ok := opts.Get(OptionKey(k))
				assert.True(t, ok, "key %s", k)
				assert.Equal(t, v, got)
			}
		})
	}
}

func TestBuildOptions_UnsupportedCurrencyKind(t *testing.T) {
	_, err := BuildOptions(map[string]string{"currency": "XAU"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestOptions_TypedGetters(t *testing.T) {
	opts, err := BuildOptions(map[string]string{
		"currency":        "GBP",
		"return_url":      "https://shop.example/return?order=1",
		"customer_email":  "buyer@example.com",
		"idempotency_key": "idem-9",
	})
	require.NoError(t, err)

	currency, ok := opts.Currency()
	require.True(t, ok)
	assert.Equal(t, CurrencyGBP, currency)

	u, ok := opts.ReturnURL()
	require.True(t, ok)
	assert.Equal(t, "shop.example", u.Host)

	email, ok := opts.CustomerEmail()
	require.True(t, ok)
	assert.Equal(t, "buyer@example.com", email)

	key, ok := opts.IdempotencyKey()
	require.True(t, ok)
	assert.Equal(t, "idem-9", key)

	_, ok = opts.OrderID()
	assert.False(t, ok)
}

func TestOptions_PairsIsACopy(t *testing.T) {
	opts, err := BuildOptions(map[string]string{"currency": "USD"})
	require.NoError(t, err)

	pairs := opts.Pairs()
	pairs["currency"] = "EUR"

	currency, _ := opts.Currency()
	assert.Equal(t, CurrencyUSD, currency)
}
