package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is the unit of work against a gateway. The ledger is its single
// writer: it is created when a purchase is invoked and mutated only by the
// purchase outcome or a correlated acknowledgement, never deleted.
type Transaction struct {
	ID        uuid.UUID
	TenantID  string
	Provider  string
	Amount    decimal.Decimal
	Currency  Currency
	Status    Status
	Options   Options
	Reference string // provider-assigned external reference, set on first successful response
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCaptured, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition encodes the transaction state machine:
//
//	Created    -> Authorized | Failed
//	Authorized -> Captured | Cancelled
//	Captured, Failed, Cancelled are terminal.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusCreated:
		return to == StatusAuthorized || to == StatusFailed
	case StatusAuthorized:
		return to == StatusCaptured || to == StatusCancelled
	}
	return false
}

// TransitionPath returns the sequence of statuses an acknowledgement moves the
// transaction through to reach target, or nil when no legal path exists. A
// transaction stranded in Created by a failed purchase call catches up here:
// a captured notification passes through Authorized, and a decline before any
// confirmed outcome fails the purchase.
func TransitionPath(from, target Status) []Status {
	switch {
	case CanTransition(from, target):
		return []Status{target}
	case from == StatusCreated && target == StatusCaptured:
		return []Status{StatusAuthorized, StatusCaptured}
	case from == StatusCreated && target == StatusCancelled:
		return []Status{StatusFailed}
	}
	return nil
}

// AckEvent is the canonical reported status extracted from a provider
// notification.
type AckEvent string

const (
	EventAuthorized AckEvent = "authorized"
	EventCaptured   AckEvent = "captured"
	EventDeclined   AckEvent = "declined"
	EventExpired    AckEvent = "expired"
)

// TargetStatus maps a reported event onto the state the transaction should
// move to. Whether that move is legal from the current state is decided by
// CanTransition.
func TargetStatus(event AckEvent) (Status, bool) {
	switch event {
	case EventAuthorized:
		return StatusAuthorized, true
	case EventCaptured:
		return StatusCaptured, true
	case EventDeclined, EventExpired:
		return StatusCancelled, true
	}
	return "", false
}

// Correlation is the structured, validated identity of an inbound
// notification, extracted by the provider's own rule from the raw payload.
// No downstream logic touches the raw multi-valued map.
//
// TransactionID is the merchant-assigned id the provider echoes back when its
// callback carries one. It is the fallback correlation rule: a purchase that
// failed in transport leaves the transaction without an external reference,
// and the echoed id is the only way a later notification can still find it.
type Correlation struct {
	Reference     string
	Event         AckEvent
	EventID       string // provider event id or nonce; may be empty
	TransactionID uuid.UUID
}

// DedupID derives the stable acknowledgement identifier. Two deliveries of
// the same notification hash to the same id; distinct events for the same
// transaction do not.
func (c Correlation) DedupID(provider string) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(c.Reference))
	h.Write([]byte{0})
	h.Write([]byte(c.Event))
	h.Write([]byte{0})
	h.Write([]byte(c.EventID))
	return hex.EncodeToString(h.Sum(nil))
}

// AcknowledgementRecord is the ledger's deduplication entry: the response the
// first processing of a notification produced, replayed unchanged for every
// redelivery.
type AcknowledgementRecord struct {
	ID            string
	TransactionID uuid.UUID
	Response      GatewayResponse
	ErrKind       ErrorKind // non-empty when the first processing failed (illegal transition)
	FirstSeen     time.Time
}
