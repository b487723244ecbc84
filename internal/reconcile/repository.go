package reconcile

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads reconciliation snapshots from PostgreSQL. All queries are
// plain reads; the engine never takes locks or writes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) StockSnapshots(ctx context.Context) ([]StockSnapshot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT org_id, variant_id, store_id, quantity FROM stock_levels`)
	if err != nil {
		return nil, fmt.Errorf("reconcile: stock snapshots: %w", err)
	}
	defer rows.Close()

	var out []StockSnapshot
	for rows.Next() {
		var s StockSnapshot
		if err := rows.Scan(&s.OrgID, &s.VariantID, &s.StoreID, &s.Quantity); err != nil {
			return nil, fmt.Errorf("reconcile: scan stock snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) MovementSteps(ctx context.Context, orgID, variantID, storeID int64) ([]MovementStep, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, from_quantity, to_quantity
		FROM stock_movements
		WHERE org_id = $1 AND variant_id = $2 AND store_id = $3
		ORDER BY id`,
		orgID, variantID, storeID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: movement steps: %w", err)
	}
	defer rows.Close()

	var out []MovementStep
	for rows.Next() {
		var step MovementStep
		if err := rows.Scan(&step.ID, &step.From, &step.To); err != nil {
			return nil, fmt.Errorf("reconcile: scan movement step: %w", err)
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

func (r *Repository) PartySnapshots(ctx context.Context) ([]PartySnapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT org_id, 'customer', id, balance FROM customers
		UNION ALL
		SELECT org_id, 'supplier', id, balance FROM suppliers`)
	if err != nil {
		return nil, fmt.Errorf("reconcile: party snapshots: %w", err)
	}
	defer rows.Close()

	var out []PartySnapshot
	for rows.Next() {
		var p PartySnapshot
		if err := rows.Scan(&p.OrgID, &p.Kind, &p.PartyID, &p.Balance); err != nil {
			return nil, fmt.Errorf("reconcile: scan party snapshot: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) EntryChain(ctx context.Context, orgID int64, kind string, partyID int64) (ChainResult, error) {
	var chain ChainResult
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(debit - credit), 0),
		       COALESCE((SELECT balance_after FROM ledger_entries
		                 WHERE org_id = $1 AND party_kind = $2 AND party_id = $3
		                 ORDER BY id DESC LIMIT 1), 0)
		FROM ledger_entries
		WHERE org_id = $1 AND party_kind = $2 AND party_id = $3`,
		orgID, kind, partyID).Scan(&count, &chain.Folded, &chain.LatestAfter)
	if err != nil {
		return ChainResult{}, fmt.Errorf("reconcile: entry chain: %w", err)
	}
	chain.HasEntries = count > 0
	return chain, nil
}

func (r *Repository) BatchViolations(ctx context.Context) ([]BatchViolation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT org_id, id, number, quantity_received,
		       quantity_remaining + quantity_sold + quantity_damaged + quantity_returned
		FROM product_batches
		WHERE quantity_received <> quantity_remaining + quantity_sold + quantity_damaged + quantity_returned`)
	if err != nil {
		return nil, fmt.Errorf("reconcile: batch violations: %w", err)
	}
	defer rows.Close()

	var out []BatchViolation
	for rows.Next() {
		var v BatchViolation
		if err := rows.Scan(&v.OrgID, &v.BatchID, &v.Number, &v.Received, &v.Counted); err != nil {
			return nil, fmt.Errorf("reconcile: scan batch violation: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
