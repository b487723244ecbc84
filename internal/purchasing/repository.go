package purchasing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gerai-pos/gerai/internal/inventory"
	"github.com/gerai-pos/gerai/internal/ledger"
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

// TxRepository exposes the purchase tables plus transaction-scoped views of
// the inventory and ledger repositories, so the receiving workflow writes
// all three under one commit.
type TxRepository interface {
	CreatePurchase(ctx context.Context, purchase Purchase) (int64, error)
	SetPurchaseNumber(ctx context.Context, id int64, number string) error
	InsertLine(ctx context.Context, line Line) error
	GetPurchaseForUpdate(ctx context.Context, orgID, id int64) (Purchase, error)
	GetLinesForUpdate(ctx context.Context, purchaseID int64) ([]Line, error)
	UpdateLineReceived(ctx context.Context, lineID, received int64) error
	UpdateStatus(ctx context.Context, id int64, status Status) error
	UpdatePurchaseOnReceive(ctx context.Context, purchase Purchase) error
	UpdatePurchasePayment(ctx context.Context, id int64, amountPaid decimal.Decimal, status PaymentStatus) error
	Stock() inventory.TxRepository
	Ledger() ledger.TxRepository
}

type txRepo struct {
	tx     pgx.Tx
	stock  inventory.TxRepository
	ledger ledger.TxRepository
}

// WithTx wraps the callback in a repeatable-read transaction with a lock
// timeout.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			tx:     tx,
			stock:  inventory.NewTxRepository(tx),
			ledger: ledger.NewTxRepository(tx),
		})
	})
}

func (t *txRepo) Stock() inventory.TxRepository { return t.stock }

func (t *txRepo) Ledger() ledger.TxRepository { return t.ledger }

func (t *txRepo) CreatePurchase(ctx context.Context, p Purchase) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchases (org_id, store_id, supplier_id, number, status, payment_status, total, amount_paid, note, created_by, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, 0), '', $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		p.OrgID, p.StoreID, p.SupplierID, string(p.Status), string(p.PaymentStatus),
		p.Total, p.AmountPaid, p.Note, p.CreatedBy, p.CreatedAt, p.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("purchasing: create purchase: %w", err)
	}
	return id, nil
}

func (t *txRepo) SetPurchaseNumber(ctx context.Context, id int64, number string) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchases SET number = $2 WHERE id = $1`, id, number)
	if err != nil {
		return fmt.Errorf("purchasing: set purchase number: %w", err)
	}
	return nil
}

func (t *txRepo) InsertLine(ctx context.Context, line Line) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO purchase_lines (purchase_id, variant_id, quantity_ordered, quantity_received, unit_cost, expiry_date)
		VALUES ($1, $2, $3, 0, $4, $5)`,
		line.PurchaseID, line.VariantID, line.QuantityOrdered, line.UnitCost, line.ExpiryDate)
	if err != nil {
		return fmt.Errorf("purchasing: insert line: %w", err)
	}
	return nil
}

func (t *txRepo) GetPurchaseForUpdate(ctx context.Context, orgID, id int64) (Purchase, error) {
	p, err := scanPurchase(t.tx.QueryRow(ctx, purchaseColumns+`
		FROM purchases
		WHERE org_id = $1 AND id = $2
		FOR UPDATE`,
		orgID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, fmt.Errorf("purchasing: purchase %d: %w", id, shared.ErrNotFound)
		}
		return Purchase{}, fmt.Errorf("purchasing: lock purchase: %w", err)
	}
	return p, nil
}

func (t *txRepo) GetLinesForUpdate(ctx context.Context, purchaseID int64) ([]Line, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, purchase_id, variant_id, quantity_ordered, quantity_received, unit_cost, expiry_date
		FROM purchase_lines
		WHERE purchase_id = $1
		ORDER BY id
		FOR UPDATE`,
		purchaseID)
	if err != nil {
		return nil, fmt.Errorf("purchasing: lock lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.PurchaseID, &line.VariantID,
			&line.QuantityOrdered, &line.QuantityReceived, &line.UnitCost, &line.ExpiryDate); err != nil {
			return nil, fmt.Errorf("purchasing: scan line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (t *txRepo) UpdateLineReceived(ctx context.Context, lineID, received int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchase_lines SET quantity_received = $2 WHERE id = $1 AND $2 <= quantity_ordered`,
		lineID, received)
	if err != nil {
		return fmt.Errorf("purchasing: update line received: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchasing: line %d would exceed ordered quantity: %w", lineID, shared.ErrInvalidTransition)
	}
	return nil
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchases SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("purchasing: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchasing: purchase %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepo) UpdatePurchaseOnReceive(ctx context.Context, p Purchase) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE purchases
		SET status = $2, received_at = $3, received_by = $4, updated_at = now()
		WHERE id = $1`,
		p.ID, string(p.Status), p.ReceivedAt, p.ReceivedBy)
	if err != nil {
		return fmt.Errorf("purchasing: update purchase on receive: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchasing: purchase %d: %w", p.ID, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepo) UpdatePurchasePayment(ctx context.Context, id int64, amountPaid decimal.Decimal, status PaymentStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchases SET amount_paid = $2, payment_status = $3, updated_at = now() WHERE id = $1`,
		id, amountPaid, string(status))
	if err != nil {
		return fmt.Errorf("purchasing: update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchasing: purchase %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// Read-side queries outside any transaction.

func (r *Repository) GetPurchase(ctx context.Context, orgID, id int64) (Purchase, []Line, error) {
	p, err := scanPurchase(r.pool.QueryRow(ctx, purchaseColumns+`
		FROM purchases WHERE org_id = $1 AND id = $2`,
		orgID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, nil, fmt.Errorf("purchasing: purchase %d: %w", id, shared.ErrNotFound)
		}
		return Purchase{}, nil, fmt.Errorf("purchasing: get purchase: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, purchase_id, variant_id, quantity_ordered, quantity_received, unit_cost, expiry_date
		FROM purchase_lines WHERE purchase_id = $1 ORDER BY id`,
		id)
	if err != nil {
		return Purchase{}, nil, fmt.Errorf("purchasing: get lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.PurchaseID, &line.VariantID,
			&line.QuantityOrdered, &line.QuantityReceived, &line.UnitCost, &line.ExpiryDate); err != nil {
			return Purchase{}, nil, fmt.Errorf("purchasing: scan line: %w", err)
		}
		lines = append(lines, line)
	}
	return p, lines, rows.Err()
}

func (r *Repository) ListPurchases(ctx context.Context, orgID int64, filter ListFilter) ([]Purchase, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, purchaseColumns+`
		FROM purchases
		WHERE org_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY id DESC
		LIMIT $3`,
		orgID, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("purchasing: list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("purchasing: scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

const purchaseColumns = `
		SELECT id, org_id, store_id, COALESCE(supplier_id, 0), number, status, payment_status, total, amount_paid, note, received_at, received_by, created_by, created_at, updated_at`

func scanPurchase(row pgx.Row) (Purchase, error) {
	var p Purchase
	var status, paymentStatus string
	err := row.Scan(
		&p.ID, &p.OrgID, &p.StoreID, &p.SupplierID, &p.Number,
		&status, &paymentStatus, &p.Total, &p.AmountPaid, &p.Note,
		&p.ReceivedAt, &p.ReceivedBy, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Purchase{}, err
	}
	p.Status = Status(status)
	p.PaymentStatus = PaymentStatus(paymentStatus)
	return p, nil
}
