package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marchand/paygate/internal/domain"
)

var ErrDuplicateTransaction = errors.New("duplicate transaction id")

type refKey struct {
	provider  string
	reference string
}

// memTx carries its own lock so acknowledgements for distinct transactions
// never serialize behind each other.
type memTx struct {
	mu sync.Mutex
	tx domain.Transaction
}

// ackEntry is the in-flight or completed processing of one notification.
// done is closed once resp/err are final; concurrent deliveries of the same
// notification wait on it instead of processing again.
type ackEntry struct {
	done chan struct{}
	resp *domain.GatewayResponse
	err  error
}

// Memory is the in-process Ledger. It is the library default and what the
// provider tests run against.
type Memory struct {
	mu    sync.RWMutex
	txs   map[uuid.UUID]*memTx
	byRef map[refKey]uuid.UUID
	acks  map[string]*ackEntry
}

func NewMemory() *Memory {
	return &Memory{
		txs:   make(map[uuid.UUID]*memTx),
		byRef: make(map[refKey]uuid.UUID),
		acks:  make(map[string]*ackEntry),
	}
}

func (m *Memory) CreateTransaction(_ context.Context, tx *domain.Transaction) error {
	now := time.Now().UTC()
	cp := *tx
	if cp.Status == "" {
		cp.Status = domain.StatusCreated
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.txs[cp.ID]; exists {
		return fmt.Errorf("CreateTransaction: %s: %w", cp.ID, ErrDuplicateTransaction)
	}
	m.txs[cp.ID] = &memTx{tx: cp}
	if cp.Reference != "" {
		m.byRef[refKey{cp.Provider, cp.Reference}] = cp.ID
	}

	*tx = cp
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	m.mu.RLock()
	mt, ok := m.txs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("GetTransaction: %w", domain.NewError(domain.KindUnknownTransaction, id.String()))
	}

	mt.mu.Lock()
	cp := mt.tx
	mt.mu.Unlock()
	return &cp, nil
}

func (m *Memory) GetByReference(_ context.Context, provider, reference string) (*domain.Transaction, error) {
	m.mu.RLock()
	id, ok := m.byRef[refKey{provider, reference}]
	var mt *memTx
	if ok {
		mt = m.txs[id]
	}
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("GetByReference: %w", domain.NewError(domain.KindUnknownTransaction, reference))
	}

	mt.mu.Lock()
	cp := mt.tx
	mt.mu.Unlock()
	return &cp, nil
}

func (m *Memory) RecordPurchaseOutcome(_ context.Context, id uuid.UUID, reference string, target domain.Status) (*domain.Transaction, error) {
	m.mu.RLock()
	mt, ok := m.txs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("RecordPurchaseOutcome: %w", domain.NewError(domain.KindUnknownTransaction, id.String()))
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.tx.Status != target {
		if !domain.CanTransition(mt.tx.Status, target) {
			detail := fmt.Sprintf("%s -> %s", mt.tx.Status, target)
			return nil, fmt.Errorf("RecordPurchaseOutcome: %w", domain.NewError(domain.KindIllegalTransition, detail))
		}
		mt.tx.Status = target
		mt.tx.UpdatedAt = time.Now().UTC()
	}

	if reference != "" && mt.tx.Reference == "" {
		mt.tx.Reference = reference
		m.mu.Lock()
		m.byRef[refKey{mt.tx.Provider, reference}] = mt.tx.ID
		m.mu.Unlock()
	}

	cp := mt.tx
	return &cp, nil
}

func (m *Memory) ApplyAcknowledgement(ctx context.Context, provider string, corr domain.Correlation, raw []byte, apply AckFunc) (*domain.GatewayResponse, error) {
	id := corr.DedupID(provider)

	m.mu.Lock()
	if e, exists := m.acks[id]; exists {
		m.mu.Unlock()
		return waitAck(ctx, e)
	}
	e := &ackEntry{done: make(chan struct{})}
	m.acks[id] = e
	m.mu.Unlock()

	resp, keep, err := m.processAck(provider, corr, raw, apply)
	e.resp, e.err = resp, err
	if !keep {
		// Transient outcome (unknown transaction, failed authenticity):
		// drop the reservation so a later delivery is re-evaluated.
		m.mu.Lock()
		delete(m.acks, id)
		m.mu.Unlock()
	}
	close(e.done)
	return respCopy(resp), err
}

func (m *Memory) processAck(provider string, corr domain.Correlation, raw []byte, apply AckFunc) (*domain.GatewayResponse, bool, error) {
	m.mu.RLock()
	txID, ok := m.byRef[refKey{provider, corr.Reference}]
	if !ok && corr.TransactionID != uuid.Nil {
		// Fallback correlation: the purchase call failed in transport and no
		// reference was ever bound, but the provider echoed the merchant id.
		if cand, found := m.txs[corr.TransactionID]; found && cand.tx.Provider == provider {
			txID, ok = corr.TransactionID, true
		}
	}
	var mt *memTx
	if ok {
		mt = m.txs[txID]
	}
	m.mu.RUnlock()
	if !ok {
		return nil, false, fmt.Errorf("ApplyAcknowledgement: %w", domain.NewError(domain.KindUnknownTransaction, corr.Reference))
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.tx.Reference != "" && mt.tx.Reference != corr.Reference {
		// The merchant id matched but the transaction is already bound to a
		// different reference; this notification is not for it.
		return nil, false, fmt.Errorf("ApplyAcknowledgement: %w", domain.NewError(domain.KindUnknownTransaction, corr.Reference))
	}

	target, msg, err := apply(mt.tx)
	if err != nil {
		return nil, false, fmt.Errorf("ApplyAcknowledgement: %w", err)
	}

	if path := domain.TransitionPath(mt.tx.Status, target); path != nil {
		mt.tx.Status = path[len(path)-1]
		mt.tx.UpdatedAt = time.Now().UTC()
		if mt.tx.Reference == "" && corr.Reference != "" {
			mt.tx.Reference = corr.Reference
			m.mu.Lock()
			m.byRef[refKey{provider, corr.Reference}] = mt.tx.ID
			m.mu.Unlock()
		}
		resp := &domain.GatewayResponse{
			Status:     mt.tx.Status,
			Reference:  mt.tx.Reference,
			Message:    msg,
			RawPayload: raw,
		}
		return resp, true, nil
	}

	// Out-of-order or duplicate-event notification: record it so replays
	// answer consistently, but report the transition as illegal and leave
	// the transaction untouched.
	detail := fmt.Sprintf("%s -> %s", mt.tx.Status, target)
	resp := &domain.GatewayResponse{
		Status:     mt.tx.Status,
		Reference:  mt.tx.Reference,
		Message:    "transition not permitted: " + detail,
		RawPayload: raw,
	}
	return resp, true, fmt.Errorf("ApplyAcknowledgement: %w", domain.NewError(domain.KindIllegalTransition, detail))
}

func waitAck(ctx context.Context, e *ackEntry) (*domain.GatewayResponse, error) {
	select {
	case <-e.done:
		return respCopy(e.resp), e.err
	case <-ctx.Done():
		return nil, fmt.Errorf("ApplyAcknowledgement: %w", ctx.Err())
	}
}

func respCopy(resp *domain.GatewayResponse) *domain.GatewayResponse {
	if resp == nil {
		return nil
	}
	cp := *resp
	return &cp
}
