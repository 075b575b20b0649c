package domain

// Status is the canonical, provider-agnostic outcome classification. Purchase
// and acknowledgement responses carry one of these; the same set drives the
// transaction state machine.
type Status string

const (
	StatusCreated    Status = "created"
	StatusAuthorized Status = "authorized"
	StatusCaptured   Status = "captured"
	StatusRejected   Status = "rejected"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// GatewayResponse is the result of any gateway operation. RawPayload is the
// provider's wire-level body, kept for audit and debugging only; business
// decisions are driven by Status alone.
type GatewayResponse struct {
	Status     Status
	Reference  string
	Message    string
	RawPayload []byte
}
