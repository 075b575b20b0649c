package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marchand/paygate/internal/domain"
	"github.com/marchand/paygate/internal/ledger"
)

const TestTenant = "acme"

// MustOptions builds a validated option bag or fails the test.
func MustOptions(t *testing.T, pairs map[string]string) domain.Options {
	t.Helper()
	opts, err := domain.BuildOptions(pairs)
	if err != nil {
		t.Fatalf("build options: %v", err)
	}
	return opts
}

// SeedTransaction creates a transaction in the given state, bound to the
// given external reference when status is past Created.
func SeedTransaction(t *testing.T, led ledger.Ledger, provider, reference string, status domain.Status) *domain.Transaction {
	t.Helper()
	ctx := context.Background()

	tx := &domain.Transaction{
		ID:       uuid.New(),
		TenantID: TestTenant,
		Provider: provider,
		Amount:   decimal.RequireFromString("10.00"),
		Currency: domain.CurrencyUSD,
		Status:   domain.StatusCreated,
		Options:  MustOptions(t, map[string]string{"currency": "USD"}),
	}
	if err := led.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}

	for _, step := range pathTo(status) {
		if _, err := led.RecordPurchaseOutcome(ctx, tx.ID, reference, step); err != nil {
			t.Fatalf("seed transition to %s: %v", step, err)
		}
	}

	seeded, err := led.GetTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("reload seeded transaction: %v", err)
	}
	return seeded
}

func pathTo(status domain.Status) []domain.Status {
	switch status {
	case domain.StatusAuthorized:
		return []domain.Status{domain.StatusAuthorized}
	case domain.StatusCaptured:
		return []domain.Status{domain.StatusAuthorized, domain.StatusCaptured}
	case domain.StatusFailed:
		return []domain.Status{domain.StatusFailed}
	case domain.StatusCancelled:
		return []domain.Status{domain.StatusAuthorized, domain.StatusCancelled}
	}
	return nil
}
