package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gerai-pos/gerai/internal/platform/db"
	"github.com/gerai-pos/gerai/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional ledger operations.
type TxRepository interface {
	GetPartyBalanceForUpdate(ctx context.Context, orgID int64, kind PartyKind, partyID int64) (decimal.Decimal, error)
	UpdatePartyBalance(ctx context.Context, orgID int64, kind PartyKind, partyID int64, balance decimal.Decimal) error
	InsertEntry(ctx context.Context, entry Entry) (int64, error)
	ListPendingSaleEntriesForUpdate(ctx context.Context, orgID, customerID int64) ([]Entry, error)
	UpdateEntryStatus(ctx context.Context, entryID int64, status EntryStatus) error
	HasEntryForReference(ctx context.Context, orgID int64, kind PartyKind, entryType EntryType, ref shared.Reference) (bool, error)
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an existing transaction for cross-module workflows.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx wraps the callback in a repeatable-read transaction with a lock
// timeout.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func partyTable(kind PartyKind) string {
	if kind == PartySupplier {
		return "suppliers"
	}
	return "customers"
}

// GetPartyBalanceForUpdate locks the party's master row. Every writer to a
// party's balance chain passes through this lock.
func (t *txRepo) GetPartyBalanceForUpdate(ctx context.Context, orgID int64, kind PartyKind, partyID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.QueryRow(ctx,
		`SELECT balance FROM `+partyTable(kind)+` WHERE org_id = $1 AND id = $2 FOR UPDATE`,
		orgID, partyID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("ledger: %s %d: %w", kind, partyID, shared.ErrNotFound)
		}
		return decimal.Zero, fmt.Errorf("ledger: lock party balance: %w", err)
	}
	return balance, nil
}

func (t *txRepo) UpdatePartyBalance(ctx context.Context, orgID int64, kind PartyKind, partyID int64, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE `+partyTable(kind)+` SET balance = $3, updated_at = now() WHERE org_id = $1 AND id = $2`,
		orgID, partyID, balance)
	if err != nil {
		return fmt.Errorf("ledger: update party balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: %s %d: %w", kind, partyID, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepo) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	var kind *string
	var refID *int64
	if !e.Reference.IsZero() {
		k := string(e.Reference.Kind)
		kind, refID = &k, &e.Reference.ID
	}
	var status *string
	if e.Status != "" {
		s := string(e.Status)
		status = &s
	}
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (org_id, party_kind, party_id, entry_type, debit, credit, balance_after, reference_kind, reference_id, transaction_date, due_date, status, note, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		e.OrgID, string(e.PartyKind), e.PartyID, string(e.Type),
		e.Debit, e.Credit, e.BalanceAfter, kind, refID,
		e.TransactionDate, e.DueDate, status, e.Note, e.ActorID, e.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert entry: %w", err)
	}
	return id, nil
}

// ListPendingSaleEntriesForUpdate returns the customer's unsettled sale
// entries in FIFO allocation order and locks them against a concurrent
// allocator.
func (t *txRepo) ListPendingSaleEntriesForUpdate(ctx context.Context, orgID, customerID int64) ([]Entry, error) {
	rows, err := t.tx.Query(ctx, entryColumns+`
		FROM ledger_entries
		WHERE org_id = $1 AND party_kind = 'customer' AND party_id = $2
		  AND entry_type = 'sale' AND status = 'pending'
		ORDER BY transaction_date ASC, id ASC
		FOR UPDATE`,
		orgID, customerID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list pending sales: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (t *txRepo) UpdateEntryStatus(ctx context.Context, entryID int64, status EntryStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE ledger_entries SET status = $2 WHERE id = $1`,
		entryID, string(status))
	if err != nil {
		return fmt.Errorf("ledger: update entry status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: entry %d: %w", entryID, shared.ErrNotFound)
	}
	return nil
}

// HasEntryForReference reports whether an entry of the given type already
// references the document. Matching on the type matters: a purchase may carry
// payment credits before its payable debit exists.
func (t *txRepo) HasEntryForReference(ctx context.Context, orgID int64, kind PartyKind, entryType EntryType, ref shared.Reference) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE org_id = $1 AND party_kind = $2 AND entry_type = $3 AND reference_kind = $4 AND reference_id = $5
		)`,
		orgID, string(kind), string(entryType), string(ref.Kind), ref.ID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ledger: entry for reference: %w", err)
	}
	return exists, nil
}

// Read-side queries outside any transaction.

func (r *Repository) ListEntries(ctx context.Context, orgID int64, filter EntryFilter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, entryColumns+`
		FROM ledger_entries
		WHERE org_id = $1 AND party_kind = $2 AND ($3 = 0 OR party_id = $3)
		ORDER BY id DESC
		LIMIT $4`,
		orgID, string(filter.PartyKind), filter.PartyID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r *Repository) LatestEntry(ctx context.Context, orgID int64, kind PartyKind, partyID int64) (Entry, error) {
	row := r.pool.QueryRow(ctx, entryColumns+`
		FROM ledger_entries
		WHERE org_id = $1 AND party_kind = $2 AND party_id = $3
		ORDER BY id DESC
		LIMIT 1`,
		orgID, string(kind), partyID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, fmt.Errorf("ledger: no entries for %s %d: %w", kind, partyID, shared.ErrNotFound)
		}
		return Entry{}, fmt.Errorf("ledger: latest entry: %w", err)
	}
	return entry, nil
}

func (r *Repository) MasterBalance(ctx context.Context, orgID int64, kind PartyKind, partyID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT balance FROM `+partyTable(kind)+` WHERE org_id = $1 AND id = $2`,
		orgID, partyID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("ledger: %s %d: %w", kind, partyID, shared.ErrNotFound)
		}
		return decimal.Zero, fmt.Errorf("ledger: master balance: %w", err)
	}
	return balance, nil
}

const entryColumns = `
		SELECT id, org_id, party_kind, party_id, entry_type, debit, credit, balance_after, reference_kind, reference_id, transaction_date, due_date, status, note, actor_id, created_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var partyKind, entryType string
	var refKind, status *string
	var refID *int64
	err := row.Scan(
		&e.ID, &e.OrgID, &partyKind, &e.PartyID, &entryType,
		&e.Debit, &e.Credit, &e.BalanceAfter, &refKind, &refID,
		&e.TransactionDate, &e.DueDate, &status, &e.Note, &e.ActorID, &e.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.PartyKind = PartyKind(partyKind)
	e.Type = EntryType(entryType)
	if refKind != nil && refID != nil {
		e.Reference = shared.Reference{Kind: shared.ReferenceKind(*refKind), ID: *refID}
	}
	if status != nil {
		e.Status = EntryStatus(*status)
	}
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
