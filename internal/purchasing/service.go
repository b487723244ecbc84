package purchasing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gerai-pos/gerai/internal/inventory"
	"github.com/gerai-pos/gerai/internal/ledger"
	"github.com/gerai-pos/gerai/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchase(ctx context.Context, orgID, id int64) (Purchase, []Line, error)
	ListPurchases(ctx context.Context, orgID int64, filter ListFilter) ([]Purchase, error)
}

// StockPort is the slice of the inventory service the receiving workflow
// composes with inside its transaction.
type StockPort interface {
	ReceiveBatch(ctx context.Context, tx inventory.TxRepository, scope shared.Scope, input inventory.BatchInput) (inventory.Batch, error)
	ApplyAdjustment(ctx context.Context, tx inventory.TxRepository, scope shared.Scope, input inventory.AdjustInput) (inventory.StockLevel, inventory.Movement, error)
}

// LedgerPort posts payable entries inside the receiving transaction.
type LedgerPort interface {
	PostEntryTx(ctx context.Context, tx ledger.TxRepository, scope shared.Scope, input ledger.PostInput) (ledger.Entry, error)
}

// Service runs the purchase lifecycle. Receiving is the interesting part:
// batches, stock movements, line updates, status transition and payable
// posting all commit or roll back as one transaction.
type Service struct {
	repo   RepositoryPort
	stock  StockPort
	ledger LedgerPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, stock StockPort, ledgerSvc LedgerPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, stock: stock, ledger: ledgerSvc, logger: logger}
}

// Create stores a draft purchase with its lines and a computed total. A
// purchase may be created already paid; it will then never generate a
// payable entry.
func (s *Service) Create(ctx context.Context, scope shared.Scope, input CreateInput) (Purchase, error) {
	if err := scope.Validate(); err != nil {
		return Purchase{}, err
	}
	if err := input.validate(); err != nil {
		return Purchase{}, err
	}

	paymentStatus := input.PaymentStatus
	if paymentStatus == "" {
		paymentStatus = PaymentUnpaid
	}
	now := time.Now().UTC()
	purchase := Purchase{
		OrgID:         scope.OrgID,
		StoreID:       input.StoreID,
		SupplierID:    input.SupplierID,
		Status:        StatusDraft,
		PaymentStatus: paymentStatus,
		Total:         input.total(),
		AmountPaid:    decimal.Zero,
		Note:          input.Note,
		CreatedBy:     scope.ActorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if paymentStatus == PaymentPaid {
		purchase.AmountPaid = purchase.Total
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreatePurchase(ctx, purchase)
		if err != nil {
			return err
		}
		purchase.ID = id
		purchase.Number = fmt.Sprintf("PO-%s-%d", now.Format("20060102"), id)
		if err := tx.SetPurchaseNumber(ctx, id, purchase.Number); err != nil {
			return err
		}
		for _, line := range input.Lines {
			if err := tx.InsertLine(ctx, Line{
				PurchaseID:      id,
				VariantID:       line.VariantID,
				QuantityOrdered: line.Quantity,
				UnitCost:        line.UnitCost,
				ExpiryDate:      line.ExpiryDate,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}
	return purchase, nil
}

// MarkOrdered moves a draft purchase to ordered.
func (s *Service) MarkOrdered(ctx context.Context, scope shared.Scope, purchaseID int64) (Purchase, error) {
	return s.transition(ctx, scope, purchaseID, StatusOrdered, StatusDraft)
}

// Cancel voids a purchase that has not received anything yet.
func (s *Service) Cancel(ctx context.Context, scope shared.Scope, purchaseID int64) (Purchase, error) {
	return s.transition(ctx, scope, purchaseID, StatusCancelled, StatusDraft, StatusOrdered)
}

func (s *Service) transition(ctx context.Context, scope shared.Scope, purchaseID int64, to Status, from ...Status) (Purchase, error) {
	if err := scope.Validate(); err != nil {
		return Purchase{}, err
	}
	var purchase Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		purchase, err = tx.GetPurchaseForUpdate(ctx, scope.OrgID, purchaseID)
		if err != nil {
			return err
		}
		allowed := false
		for _, status := range from {
			if purchase.Status == status {
				allowed = true
			}
		}
		if !allowed {
			return fmt.Errorf("purchasing: cannot move purchase %d from %s to %s: %w",
				purchaseID, purchase.Status, to, shared.ErrInvalidTransition)
		}
		purchase.Status = to
		return tx.UpdateStatus(ctx, purchaseID, to)
	})
	if err != nil {
		return Purchase{}, err
	}
	return purchase, nil
}

// Receive executes the receiving workflow in a single transaction. Per line
// it receives min(remaining, override): a batch is created, the stock
// increase is booked against it, and the line's received quantity advances.
// Lines with nothing remaining are skipped, which makes re-receiving an
// already satisfied purchase a no-op. After the lines the status is
// recomputed and, when money is owed, the payable entry is posted exactly
// once.
func (s *Service) Receive(ctx context.Context, scope shared.Scope, input ReceiveInput) (Purchase, error) {
	if err := scope.Validate(); err != nil {
		return Purchase{}, err
	}

	var purchase Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		purchase, err = tx.GetPurchaseForUpdate(ctx, scope.OrgID, input.PurchaseID)
		if err != nil {
			return err
		}
		if purchase.Status == StatusDraft || purchase.Status == StatusCancelled {
			return fmt.Errorf("purchasing: cannot receive a %s purchase: %w", purchase.Status, shared.ErrInvalidTransition)
		}

		lines, err := tx.GetLinesForUpdate(ctx, input.PurchaseID)
		if err != nil {
			return err
		}

		receivedAny := false
		for _, line := range lines {
			toReceive := line.Remaining()
			if override, ok := input.QuantityOverride[line.ID]; ok {
				if override < 0 {
					return fmt.Errorf("purchasing: negative override for line %d: %w", line.ID, shared.ErrValidation)
				}
				if override < toReceive {
					toReceive = override
				}
			}
			if toReceive == 0 {
				continue
			}
			if err := s.receiveLine(ctx, tx, scope, &purchase, line, toReceive); err != nil {
				return err
			}
			receivedAny = true
		}

		lines, err = tx.GetLinesForUpdate(ctx, input.PurchaseID)
		if err != nil {
			return err
		}
		purchase.Status = recalcStatus(purchase.Status, lines)
		if receivedAny {
			now := time.Now().UTC()
			purchase.ReceivedAt = &now
			purchase.ReceivedBy = &scope.ActorID
		}
		if err := tx.UpdatePurchaseOnReceive(ctx, purchase); err != nil {
			return err
		}

		return s.postPayableOnce(ctx, tx, scope, purchase)
	})
	if err != nil {
		return Purchase{}, err
	}
	return purchase, nil
}

func (s *Service) receiveLine(ctx context.Context, tx TxRepository, scope shared.Scope, purchase *Purchase, line Line, toReceive int64) error {
	var supplierID *int64
	if purchase.SupplierID != 0 {
		supplierID = &purchase.SupplierID
	}
	batch, err := s.stock.ReceiveBatch(ctx, tx.Stock(), scope, inventory.BatchInput{
		VariantID:    line.VariantID,
		StoreID:      purchase.StoreID,
		PurchaseID:   &purchase.ID,
		SupplierID:   supplierID,
		PurchaseDate: time.Now().UTC(),
		ExpiryDate:   line.ExpiryDate,
		UnitCost:     line.UnitCost,
		Quantity:     toReceive,
	})
	if err != nil {
		return err
	}

	_, _, err = s.stock.ApplyAdjustment(ctx, tx.Stock(), scope, inventory.AdjustInput{
		VariantID: line.VariantID,
		StoreID:   purchase.StoreID,
		Quantity:  toReceive,
		Type:      inventory.MovementPurchase,
		Reference: shared.Reference{Kind: shared.ReferencePurchase, ID: purchase.ID},
		UnitCost:  line.UnitCost,
		BatchID:   &batch.ID,
	})
	if err != nil {
		return err
	}

	if err := tx.UpdateLineReceived(ctx, line.ID, line.QuantityReceived+toReceive); err != nil {
		return err
	}
	if line.UnitCost.IsPositive() {
		if err := tx.Stock().UpdateVariantCost(ctx, scope.OrgID, line.VariantID, line.UnitCost); err != nil {
			return err
		}
	}
	return nil
}

// postPayableOnce appends the payable debit for the purchase total, guarded
// so repeated receipts post it at most once. A purchase paid in full at
// receipt never owed money and creates no payable.
func (s *Service) postPayableOnce(ctx context.Context, tx TxRepository, scope shared.Scope, purchase Purchase) error {
	if purchase.SupplierID == 0 || !purchase.Total.IsPositive() {
		return nil
	}
	if purchase.PaymentStatus == PaymentPaid {
		return nil
	}
	if purchase.Status != StatusPartial && purchase.Status != StatusReceived {
		return nil
	}
	ref := shared.Reference{Kind: shared.ReferencePurchase, ID: purchase.ID}
	exists, err := tx.Ledger().HasEntryForReference(ctx, scope.OrgID, ledger.PartySupplier, ledger.EntryPurchase, ref)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = s.ledger.PostEntryTx(ctx, tx.Ledger(), scope, ledger.PostInput{
		PartyKind: ledger.PartySupplier,
		PartyID:   purchase.SupplierID,
		Type:      ledger.EntryPurchase,
		Debit:     purchase.Total,
		Reference: ref,
		Note:      "purchase " + purchase.Number,
	})
	return err
}

// recalcStatus derives the header status from line fulfilment. A purchase
// with nothing received keeps its current status.
func recalcStatus(current Status, lines []Line) Status {
	allReceived := true
	anyReceived := false
	for _, line := range lines {
		if line.QuantityReceived > 0 {
			anyReceived = true
		}
		if line.QuantityReceived < line.QuantityOrdered {
			allReceived = false
		}
	}
	switch {
	case allReceived && len(lines) > 0:
		return StatusReceived
	case anyReceived:
		return StatusPartial
	default:
		return current
	}
}

// RecordPayment applies a payment to the purchase under its row lock,
// advances paymentStatus from the cumulative amount paid, and posts the
// matching payable credit.
func (s *Service) RecordPayment(ctx context.Context, scope shared.Scope, input PaymentInput) (Purchase, error) {
	if err := scope.Validate(); err != nil {
		return Purchase{}, err
	}
	if !input.Amount.IsPositive() {
		return Purchase{}, fmt.Errorf("purchasing: payment amount must be positive: %w", shared.ErrValidation)
	}

	var purchase Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		purchase, err = tx.GetPurchaseForUpdate(ctx, scope.OrgID, input.PurchaseID)
		if err != nil {
			return err
		}
		if purchase.Status == StatusCancelled {
			return fmt.Errorf("purchasing: cannot pay a cancelled purchase: %w", shared.ErrInvalidTransition)
		}
		paid := purchase.AmountPaid.Add(input.Amount)
		if paid.GreaterThan(purchase.Total) {
			return fmt.Errorf("purchasing: payment of %s exceeds outstanding %s: %w",
				input.Amount, purchase.Total.Sub(purchase.AmountPaid), shared.ErrInvalidTransition)
		}
		purchase.AmountPaid = paid
		switch {
		case paid.Equal(purchase.Total):
			purchase.PaymentStatus = PaymentPaid
		case paid.IsPositive():
			purchase.PaymentStatus = PaymentPartial
		}
		if err := tx.UpdatePurchasePayment(ctx, purchase.ID, purchase.AmountPaid, purchase.PaymentStatus); err != nil {
			return err
		}

		if purchase.SupplierID == 0 {
			return nil
		}
		_, err = s.ledger.PostEntryTx(ctx, tx.Ledger(), scope, ledger.PostInput{
			PartyKind: ledger.PartySupplier,
			PartyID:   purchase.SupplierID,
			Type:      ledger.EntryPayment,
			Credit:    input.Amount,
			Reference: shared.Reference{Kind: shared.ReferencePurchase, ID: purchase.ID},
			Note:      paymentNote(input),
		})
		return err
	})
	if err != nil {
		return Purchase{}, err
	}
	return purchase, nil
}

// GetPurchase returns the header and lines.
func (s *Service) GetPurchase(ctx context.Context, scope shared.Scope, purchaseID int64) (Purchase, []Line, error) {
	return s.repo.GetPurchase(ctx, scope.OrgID, purchaseID)
}

// ListPurchases returns headers, newest first.
func (s *Service) ListPurchases(ctx context.Context, scope shared.Scope, filter ListFilter) ([]Purchase, error) {
	return s.repo.ListPurchases(ctx, scope.OrgID, filter)
}

func paymentNote(input PaymentInput) string {
	if input.Method == "" {
		return input.Note
	}
	if input.Note == "" {
		return "via " + input.Method
	}
	return input.Note + " (via " + input.Method + ")"
}
