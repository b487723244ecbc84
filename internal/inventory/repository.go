package inventory

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

// TxRepository exposes the transactional operations the service composes
// under one commit.
type TxRepository interface {
	EnsureStockLevelForUpdate(ctx context.Context, orgID, variantID, storeID int64) (StockLevel, error)
	UpdateStockLevel(ctx context.Context, level StockLevel) error
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	NextBatchSuffix(ctx context.Context, orgID int64, prefix string) (int, error)
	GetBatchForUpdate(ctx context.Context, orgID, batchID int64) (Batch, error)
	UpdateBatchCounters(ctx context.Context, batch Batch) error
	VariantExists(ctx context.Context, orgID, variantID int64) (bool, error)
	UpdateVariantCost(ctx context.Context, orgID, variantID int64, cost decimal.Decimal) error
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an existing transaction. Workflows in other packages
// use it to run stock operations inside their own commit.
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

// EnsureStockLevelForUpdate locks the level row, creating it at zero first
// when the variant has never moved in this store. The insert tolerates a
// concurrent creator; whoever wins, the subsequent select blocks on their
// lock.
func (t *txRepo) EnsureStockLevelForUpdate(ctx context.Context, orgID, variantID, storeID int64) (StockLevel, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_levels (org_id, variant_id, store_id, quantity, reserved_quantity, reorder_level, last_movement_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, now(), now())
		ON CONFLICT (org_id, variant_id, store_id) DO NOTHING`,
		orgID, variantID, storeID)
	if err != nil {
		return StockLevel{}, fmt.Errorf("inventory: ensure stock level: %w", err)
	}

	var level StockLevel
	err = t.tx.QueryRow(ctx, `
		SELECT id, org_id, variant_id, store_id, quantity, reserved_quantity, reorder_level, last_movement_at, updated_at
		FROM stock_levels
		WHERE org_id = $1 AND variant_id = $2 AND store_id = $3
		FOR UPDATE`,
		orgID, variantID, storeID).Scan(
		&level.ID, &level.OrgID, &level.VariantID, &level.StoreID,
		&level.Quantity, &level.ReservedQuantity, &level.ReorderLevel,
		&level.LastMovementAt, &level.UpdatedAt)
	if err != nil {
		return StockLevel{}, fmt.Errorf("inventory: lock stock level: %w", err)
	}
	return level, nil
}

func (t *txRepo) UpdateStockLevel(ctx context.Context, level StockLevel) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE stock_levels
		SET quantity = $2, reserved_quantity = $3, reorder_level = $4, last_movement_at = $5, updated_at = now()
		WHERE id = $1`,
		level.ID, level.Quantity, level.ReservedQuantity, level.ReorderLevel, level.LastMovementAt)
	if err != nil {
		return fmt.Errorf("inventory: update stock level: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("inventory: stock level %d: %w", level.ID, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var kind *string
	var refID *int64
	if !m.Reference.IsZero() {
		k := string(m.Reference.Kind)
		kind, refID = &k, &m.Reference.ID
	}
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO stock_movements (org_id, variant_id, store_id, batch_id, movement_type, quantity, from_quantity, to_quantity, reference_kind, reference_id, unit_cost, actor_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		m.OrgID, m.VariantID, m.StoreID, m.BatchID, string(m.Type),
		m.Quantity, m.FromQuantity, m.ToQuantity, kind, refID,
		m.UnitCost, m.ActorID, m.Note, m.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inventory: insert movement: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO product_batches (org_id, variant_id, store_id, number, purchase_id, supplier_id, purchase_date, expiry_date, unit_cost, quantity_received, quantity_remaining, quantity_sold, quantity_damaged, quantity_returned, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		b.OrgID, b.VariantID, b.StoreID, b.Number, b.PurchaseID, b.SupplierID,
		b.PurchaseDate, b.ExpiryDate, b.UnitCost,
		b.QuantityReceived, b.QuantityRemaining, b.QuantitySold, b.QuantityDamaged, b.QuantityReturned,
		b.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inventory: insert batch: %w", err)
	}
	return id, nil
}

// NextBatchSuffix returns one past the highest numeric suffix already issued
// under the prefix.
func (t *txRepo) NextBatchSuffix(ctx context.Context, orgID int64, prefix string) (int, error) {
	var next int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(substring(number from '(\d+)$')::int), 0) + 1
		FROM product_batches
		WHERE org_id = $1 AND number LIKE $2 || '-%'`,
		orgID, prefix).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("inventory: next batch suffix: %w", err)
	}
	return next, nil
}

func (t *txRepo) GetBatchForUpdate(ctx context.Context, orgID, batchID int64) (Batch, error) {
	b, err := scanBatch(t.tx.QueryRow(ctx, batchColumns+`
		FROM product_batches
		WHERE org_id = $1 AND id = $2
		FOR UPDATE`,
		orgID, batchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, fmt.Errorf("inventory: batch %d: %w", batchID, shared.ErrNotFound)
		}
		return Batch{}, fmt.Errorf("inventory: lock batch: %w", err)
	}
	return b, nil
}

func (t *txRepo) UpdateBatchCounters(ctx context.Context, b Batch) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE product_batches
		SET quantity_remaining = $2, quantity_sold = $3, quantity_damaged = $4, quantity_returned = $5
		WHERE id = $1`,
		b.ID, b.QuantityRemaining, b.QuantitySold, b.QuantityDamaged, b.QuantityReturned)
	if err != nil {
		return fmt.Errorf("inventory: update batch counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("inventory: batch %d: %w", b.ID, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepo) VariantExists(ctx context.Context, orgID, variantID int64) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM product_variants WHERE org_id = $1 AND id = $2 AND deleted_at IS NULL)`,
		orgID, variantID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("inventory: variant exists: %w", err)
	}
	return ok, nil
}

func (t *txRepo) UpdateVariantCost(ctx context.Context, orgID, variantID int64, cost decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE product_variants SET cost_price = $3, updated_at = now()
		WHERE org_id = $1 AND id = $2`,
		orgID, variantID, cost)
	if err != nil {
		return fmt.Errorf("inventory: update variant cost: %w", err)
	}
	return nil
}

// Read-side queries outside any transaction.

func (r *Repository) GetStockLevel(ctx context.Context, orgID, variantID, storeID int64) (StockLevel, error) {
	var level StockLevel
	err := r.pool.QueryRow(ctx, `
		SELECT id, org_id, variant_id, store_id, quantity, reserved_quantity, reorder_level, last_movement_at, updated_at
		FROM stock_levels
		WHERE org_id = $1 AND variant_id = $2 AND store_id = $3`,
		orgID, variantID, storeID).Scan(
		&level.ID, &level.OrgID, &level.VariantID, &level.StoreID,
		&level.Quantity, &level.ReservedQuantity, &level.ReorderLevel,
		&level.LastMovementAt, &level.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockLevel{}, fmt.Errorf("inventory: stock level: %w", shared.ErrNotFound)
		}
		return StockLevel{}, fmt.Errorf("inventory: get stock level: %w", err)
	}
	return level, nil
}

func (r *Repository) ListMovements(ctx context.Context, orgID int64, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, org_id, variant_id, store_id, batch_id, movement_type, quantity, from_quantity, to_quantity, reference_kind, reference_id, unit_cost, actor_id, note, created_at
		FROM stock_movements
		WHERE org_id = $1
		  AND ($2 = 0 OR variant_id = $2)
		  AND ($3 = 0 OR store_id = $3)
		ORDER BY id DESC
		LIMIT $4`,
		orgID, filter.VariantID, filter.StoreID, limit)
	if err != nil {
		return nil, fmt.Errorf("inventory: list movements: %w", err)
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var m Movement
		var movementType string
		var refKind *string
		var refID *int64
		if err := rows.Scan(
			&m.ID, &m.OrgID, &m.VariantID, &m.StoreID, &m.BatchID,
			&movementType, &m.Quantity, &m.FromQuantity, &m.ToQuantity,
			&refKind, &refID, &m.UnitCost, &m.ActorID, &m.Note, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("inventory: scan movement: %w", err)
		}
		m.Type = MovementType(movementType)
		if refKind != nil && refID != nil {
			m.Reference = shared.Reference{Kind: shared.ReferenceKind(*refKind), ID: *refID}
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *Repository) ListBatches(ctx context.Context, orgID, variantID, storeID int64) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, batchColumns+`
		FROM product_batches
		WHERE org_id = $1
		  AND ($2 = 0 OR variant_id = $2)
		  AND ($3 = 0 OR store_id = $3)
		ORDER BY purchase_date DESC, id DESC`,
		orgID, variantID, storeID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("inventory: scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *Repository) ListBelowReorder(ctx context.Context, orgID, storeID int64) ([]StockLevel, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, org_id, variant_id, store_id, quantity, reserved_quantity, reorder_level, last_movement_at, updated_at
		FROM stock_levels
		WHERE org_id = $1
		  AND ($2 = 0 OR store_id = $2)
		  AND reorder_level > 0
		  AND quantity <= reorder_level
		ORDER BY quantity ASC`,
		orgID, storeID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list below reorder: %w", err)
	}
	defer rows.Close()

	var levels []StockLevel
	for rows.Next() {
		var level StockLevel
		if err := rows.Scan(
			&level.ID, &level.OrgID, &level.VariantID, &level.StoreID,
			&level.Quantity, &level.ReservedQuantity, &level.ReorderLevel,
			&level.LastMovementAt, &level.UpdatedAt); err != nil {
			return nil, fmt.Errorf("inventory: scan stock level: %w", err)
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

const batchColumns = `
		SELECT id, org_id, variant_id, store_id, number, purchase_id, supplier_id, purchase_date, expiry_date, unit_cost, quantity_received, quantity_remaining, quantity_sold, quantity_damaged, quantity_returned, created_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(
		&b.ID, &b.OrgID, &b.VariantID, &b.StoreID, &b.Number,
		&b.PurchaseID, &b.SupplierID, &b.PurchaseDate, &b.ExpiryDate, &b.UnitCost,
		&b.QuantityReceived, &b.QuantityRemaining, &b.QuantitySold, &b.QuantityDamaged, &b.QuantityReturned,
		&b.CreatedAt)
	return b, err
}
