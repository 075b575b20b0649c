// Package ledger tracks transaction state and deduplicates inbound
// acknowledgements. The ledger is the single writer for transactions and
// acknowledgement records.
package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/marchand/paygate/internal/domain"
)

// AckFunc validates and classifies a notification against the transaction it
// correlates to. It runs inside the per-transaction critical section with a
// snapshot of the transaction, performs the provider's authenticity check,
// and returns the status the transaction should move to plus a human-readable
// message. Returning an error aborts without mutating state.
type AckFunc func(tx domain.Transaction) (domain.Status, string, error)

// Ledger is satisfied by the in-memory store and the Postgres adapter.
//
// ApplyAcknowledgement implements the correlation/idempotency protocol:
//
//  1. Derive the dedup id from corr; if a record exists, return its stored
//     outcome unchanged with no side effects. Concurrent deliveries of the
//     identical notification are serialized so exactly one mutates state.
//  2. Look up the transaction by (provider, corr.Reference), falling back to
//     corr.TransactionID for transactions whose purchase call failed in
//     transport and never bound a reference; the reference is bound on the
//     first legal transition. None matching fails with UnknownTransaction and
//     leaves no record, so the notification can be redelivered after the
//     transaction appears.
//  3. Run apply under the transaction's lock. Authenticity failures leave no
//     record either. A legal transition is applied and recorded; an illegal
//     one is recorded for dedup purposes but fails with IllegalTransition and
//     leaves the transaction untouched.
//
// Acknowledgements for distinct transactions never contend on a shared lock.
type Ledger interface {
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByReference(ctx context.Context, provider, reference string) (*domain.Transaction, error)

	// RecordPurchaseOutcome binds the provider's external reference (when
	// non-empty) and moves the transaction to target, enforcing the state
	// machine.
	RecordPurchaseOutcome(ctx context.Context, id uuid.UUID, reference string, target domain.Status) (*domain.Transaction, error)

	ApplyAcknowledgement(ctx context.Context, provider string, corr domain.Correlation, raw []byte, apply AckFunc) (*domain.GatewayResponse, error)
}
