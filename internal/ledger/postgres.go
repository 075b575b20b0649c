package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/marchand/paygate/internal/domain"
)

// Postgres is the durable Ledger. Per-transaction serialization comes from
// row locks (SELECT ... FOR UPDATE); atomic check-and-insert of
// acknowledgement records comes from the primary key on the dedup id.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	now := time.Now().UTC()
	if tx.Status == "" {
		tx.Status = domain.StatusCreated
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	if tx.UpdatedAt.IsZero() {
		tx.UpdatedAt = tx.CreatedAt
	}

	opts, err := json.Marshal(tx.Options.Pairs())
	if err != nil {
		return fmt.Errorf("CreateTransaction: marshal options: %w", err)
	}

	_, err = p.db.ExecContext(ctx,
		`INSERT INTO transactions (id, tenant_id, provider, amount, currency, status, options, reference, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tx.ID, tx.TenantID, tx.Provider, tx.Amount, tx.Currency, tx.Status, opts, tx.Reference, tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("CreateTransaction: %s: %w", tx.ID, ErrDuplicateTransaction)
		}
		return fmt.Errorf("CreateTransaction: %w", err)
	}
	return nil
}

func (p *Postgres) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, err := scanTransaction(p.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, provider, amount, currency, status, options, reference, created_at, updated_at
		FROM transactions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetTransaction: %w", domain.NewError(domain.KindUnknownTransaction, id.String()))
	}
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	return tx, nil
}

func (p *Postgres) GetByReference(ctx context.Context, provider, reference string) (*domain.Transaction, error) {
	tx, err := scanTransaction(p.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, provider, amount, currency, status, options, reference, created_at, updated_at
		FROM transactions WHERE provider = $1 AND reference = $2`, provider, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetByReference: %w", domain.NewError(domain.KindUnknownTransaction, reference))
	}
	if err != nil {
		return nil, fmt.Errorf("GetByReference: %w", err)
	}
	return tx, nil
}

func (p *Postgres) RecordPurchaseOutcome(ctx context.Context, id uuid.UUID, reference string, target domain.Status) (*domain.Transaction, error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("RecordPurchaseOutcome: begin tx: %w", err)
	}
	defer dbTx.Rollback()

	tx, err := scanTransaction(dbTx.QueryRowContext(ctx,
		`SELECT id, tenant_id, provider, amount, currency, status, options, reference, created_at, updated_at
		FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("RecordPurchaseOutcome: %w", domain.NewError(domain.KindUnknownTransaction, id.String()))
	}
	if err != nil {
		return nil, fmt.Errorf("RecordPurchaseOutcome: %w", err)
	}

	if tx.Status != target {
		if !domain.CanTransition(tx.Status, target) {
			detail := fmt.Sprintf("%s -> %s", tx.Status, target)
			return nil, fmt.Errorf("RecordPurchaseOutcome: %w", domain.NewError(domain.KindIllegalTransition, detail))
		}
		tx.Status = target
		tx.UpdatedAt = time.Now().UTC()
	}
	if reference != "" && tx.Reference == "" {
		tx.Reference = reference
	}

	_, err = dbTx.ExecContext(ctx,
		`UPDATE transactions SET status = $2, reference = $3, updated_at = $4 WHERE id = $1`,
		tx.ID, tx.Status, tx.Reference, tx.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("RecordPurchaseOutcome: update: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("RecordPurchaseOutcome: commit: %w", err)
	}
	return tx, nil
}

func (p *Postgres) ApplyAcknowledgement(ctx context.Context, provider string, corr domain.Correlation, raw []byte, apply AckFunc) (*domain.GatewayResponse, error) {
	id := corr.DedupID(provider)

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ApplyAcknowledgement: begin tx: %w", err)
	}
	defer dbTx.Rollback()

	if rec, err := p.getAckRecord(ctx, dbTx, id); err != nil {
		return nil, fmt.Errorf("ApplyAcknowledgement: %w", err)
	} else if rec != nil {
		return replay(rec)
	}

	tx, err := scanTransaction(dbTx.QueryRowContext(ctx,
		`SELECT id, tenant_id, provider, amount, currency, status, options, reference, created_at, updated_at
		FROM transactions WHERE provider = $1 AND reference = $2 FOR UPDATE`, provider, corr.Reference))
	if errors.Is(err, sql.ErrNoRows) && corr.TransactionID != uuid.Nil {
		// Fallback correlation by the merchant id the provider echoed back:
		// a purchase that failed in transport never bound a reference.
		tx, err = scanTransaction(dbTx.QueryRowContext(ctx,
			`SELECT id, tenant_id, provider, amount, currency, status, options, reference, created_at, updated_at
			FROM transactions WHERE id = $1 AND provider = $2 AND reference = '' FOR UPDATE`, corr.TransactionID, provider))
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ApplyAcknowledgement: %w", domain.NewError(domain.KindUnknownTransaction, corr.Reference))
	}
	if err != nil {
		return nil, fmt.Errorf("ApplyAcknowledgement: %w", err)
	}

	target, msg, err := apply(*tx)
	if err != nil {
		return nil, fmt.Errorf("ApplyAcknowledgement: %w", err)
	}

	rec := &domain.AcknowledgementRecord{
		ID:            id,
		TransactionID: tx.ID,
		FirstSeen:     time.Now().UTC(),
	}

	path := domain.TransitionPath(tx.Status, target)
	legal := path != nil
	if legal {
		tx.Status = path[len(path)-1]
		if tx.Reference == "" && corr.Reference != "" {
			tx.Reference = corr.Reference
		}
		rec.Response = domain.GatewayResponse{
			Status:     tx.Status,
			Reference:  tx.Reference,
			Message:    msg,
			RawPayload: raw,
		}
	} else {
		detail := fmt.Sprintf("%s -> %s", tx.Status, target)
		rec.ErrKind = domain.KindIllegalTransition
		rec.Response = domain.GatewayResponse{
			Status:     tx.Status,
			Reference:  tx.Reference,
			Message:    "transition not permitted: " + detail,
			RawPayload: raw,
		}
	}

	res, err := dbTx.ExecContext(ctx,
		`INSERT INTO acknowledgements (id, transaction_id, response_status, response_reference, message, raw_payload, err_kind, first_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.TransactionID, rec.Response.Status, rec.Response.Reference, rec.Response.Message, rec.Response.RawPayload, string(rec.ErrKind), rec.FirstSeen,
	)
	if err != nil {
		return nil, fmt.Errorf("ApplyAcknowledgement: insert record: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("ApplyAcknowledgement: rows affected: %w", err)
	} else if n == 0 {
		// A concurrent delivery of the identical notification won the
		// insert while we held the row lock on a stale snapshot. Read its
		// record back and replay it.
		dbTx.Rollback()
		stored, err := p.getAckRecord(ctx, nil, id)
		if err != nil {
			return nil, fmt.Errorf("ApplyAcknowledgement: %w", err)
		}
		if stored == nil {
			return nil, fmt.Errorf("ApplyAcknowledgement: lost insert race but record missing")
		}
		return replay(stored)
	}

	if legal {
		_, err = dbTx.ExecContext(ctx,
			`UPDATE transactions SET status = $2, reference = $3, updated_at = $4 WHERE id = $1`,
			tx.ID, tx.Status, tx.Reference, rec.FirstSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("ApplyAcknowledgement: update transaction: %w", err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("ApplyAcknowledgement: commit: %w", err)
	}

	resp := rec.Response
	if rec.ErrKind != "" {
		return &resp, fmt.Errorf("ApplyAcknowledgement: %w", domain.NewError(rec.ErrKind, resp.Message))
	}
	return &resp, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *Postgres) getAckRecord(ctx context.Context, q queryRower, id string) (*domain.AcknowledgementRecord, error) {
	if q == nil {
		q = p.db
	}
	var rec domain.AcknowledgementRecord
	var errKind string
	err := q.QueryRowContext(ctx,
		`SELECT id, transaction_id, response_status, response_reference, message, raw_payload, err_kind, first_seen
		FROM acknowledgements WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.TransactionID, &rec.Response.Status, &rec.Response.Reference, &rec.Response.Message, &rec.Response.RawPayload, &errKind, &rec.FirstSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getAckRecord: %w", err)
	}
	rec.ErrKind = domain.ErrorKind(errKind)
	return &rec, nil
}

func replay(rec *domain.AcknowledgementRecord) (*domain.GatewayResponse, error) {
	resp := rec.Response
	if rec.ErrKind != "" {
		return &resp, fmt.Errorf("ApplyAcknowledgement: %w", domain.NewError(rec.ErrKind, resp.Message))
	}
	return &resp, nil
}

func scanTransaction(row *sql.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	var opts []byte
	err := row.Scan(&tx.ID, &tx.TenantID, &tx.Provider, &tx.Amount, &tx.Currency, &tx.Status, &opts, &tx.Reference, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}

	var pairs map[string]string
	if err := json.Unmarshal(opts, &pairs); err != nil {
		return nil, fmt.Errorf("scanTransaction: options: %w", err)
	}
	options, err := domain.BuildOptions(pairs)
	if err != nil {
		return nil, fmt.Errorf("scanTransaction: options: %w", err)
	}
	tx.Options = options

	return &tx, nil
}

func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return false
}
