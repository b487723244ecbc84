package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/gerai-pos/gerai/internal/shared"
)

// ReceiveBatch registers a new lot inside an existing transaction and
// returns it with its generated batch number. It records the lot only;
// callers pair it with ApplyAdjustment so the stock increase and the lot
// land atomically.
func (s *Service) ReceiveBatch(ctx context.Context, tx TxRepository, scope shared.Scope, input BatchInput) (Batch, error) {
	if input.Quantity <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	if input.VariantID == 0 || input.StoreID == 0 {
		return Batch{}, fmt.Errorf("inventory: variant and store required: %w", shared.ErrValidation)
	}
	purchaseDate := input.PurchaseDate
	if purchaseDate.IsZero() {
		purchaseDate = time.Now().UTC()
	}

	number, err := s.nextBatchNumber(ctx, tx, scope.OrgID, input.StoreID, input.VariantID, purchaseDate)
	if err != nil {
		return Batch{}, err
	}

	batch := Batch{
		OrgID:             scope.OrgID,
		VariantID:         input.VariantID,
		StoreID:           input.StoreID,
		Number:            number,
		PurchaseID:        input.PurchaseID,
		SupplierID:        input.SupplierID,
		PurchaseDate:      purchaseDate,
		ExpiryDate:        input.ExpiryDate,
		UnitCost:          input.UnitCost,
		QuantityReceived:  input.Quantity,
		QuantityRemaining: input.Quantity,
		CreatedAt:         time.Now().UTC(),
	}
	batchID, err := tx.InsertBatch(ctx, batch)
	if err != nil {
		return Batch{}, err
	}
	batch.ID = batchID
	return batch, nil
}

// RegisterBatch records a manually entered lot and books the matching stock
// increase in one transaction. Receiving against a purchase goes through the
// purchasing workflow instead, which calls ReceiveBatch within its own
// transaction.
func (s *Service) RegisterBatch(ctx context.Context, scope shared.Scope, input BatchInput) (Batch, Movement, error) {
	if err := scope.Validate(); err != nil {
		return Batch{}, Movement{}, err
	}
	var batch Batch
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, err = s.ReceiveBatch(ctx, tx, scope, input)
		if err != nil {
			return err
		}
		ref := shared.Reference{}
		if input.PurchaseID != nil {
			ref = shared.Reference{Kind: shared.ReferencePurchase, ID: *input.PurchaseID}
		}
		_, movement, err = s.ApplyAdjustment(ctx, tx, scope, AdjustInput{
			VariantID: input.VariantID,
			StoreID:   input.StoreID,
			Quantity:  input.Quantity,
			Type:      MovementPurchase,
			Reference: ref,
			UnitCost:  input.UnitCost,
			BatchID:   &batch.ID,
		})
		return err
	})
	if err != nil {
		return Batch{}, Movement{}, err
	}
	return batch, movement, nil
}

// RecordBatchConsumption deducts quantity from a specific lot inside an
// existing transaction. The lot counters and the stock level change under
// the same commit; over-consuming a lot is rejected, never clamped, because
// the lot counters are bookkeeping rather than physical truth.
func (s *Service) RecordBatchConsumption(ctx context.Context, tx TxRepository, scope shared.Scope, input ConsumeInput) (Batch, Movement, error) {
	if input.Quantity <= 0 {
		return Batch{}, Movement{}, ErrInvalidQuantity
	}
	movementType, err := input.Kind.MovementType()
	if err != nil {
		return Batch{}, Movement{}, err
	}

	batch, err := tx.GetBatchForUpdate(ctx, scope.OrgID, input.BatchID)
	if err != nil {
		return Batch{}, Movement{}, err
	}
	if input.Quantity > batch.QuantityRemaining {
		return Batch{}, Movement{}, fmt.Errorf("inventory: batch %s holds %d, requested %d: %w",
			batch.Number, batch.QuantityRemaining, input.Quantity, shared.ErrInsufficientBatchQuantity)
	}

	batch.QuantityRemaining -= input.Quantity
	switch input.Kind {
	case ConsumeSold:
		batch.QuantitySold += input.Quantity
	case ConsumeDamaged:
		batch.QuantityDamaged += input.Quantity
	case ConsumeReturned:
		batch.QuantityReturned += input.Quantity
	}
	if err := tx.UpdateBatchCounters(ctx, batch); err != nil {
		return Batch{}, Movement{}, err
	}

	_, movement, err := s.ApplyAdjustment(ctx, tx, scope, AdjustInput{
		VariantID: batch.VariantID,
		StoreID:   batch.StoreID,
		Quantity:  -input.Quantity,
		Type:      movementType,
		Reference: input.Reference,
		UnitCost:  batch.UnitCost,
		BatchID:   &batch.ID,
		Note:      input.Note,
	})
	if err != nil {
		return Batch{}, Movement{}, err
	}
	return batch, movement, nil
}

// Consume is RecordBatchConsumption in its own transaction, for direct API
// calls that are not part of a larger workflow.
func (s *Service) Consume(ctx context.Context, scope shared.Scope, input ConsumeInput) (Batch, Movement, error) {
	if err := scope.Validate(); err != nil {
		return Batch{}, Movement{}, err
	}
	var batch Batch
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, movement, err = s.RecordBatchConsumption(ctx, tx, scope, input)
		return err
	})
	if err != nil {
		return Batch{}, Movement{}, err
	}
	return batch, movement, nil
}

// ListBatches returns lots for a variant, newest first.
func (s *Service) ListBatches(ctx context.Context, scope shared.Scope, variantID, storeID int64) ([]Batch, error) {
	return s.repo.ListBatches(ctx, scope.OrgID, variantID, storeID)
}

// nextBatchNumber builds B<yyyymmdd>-<store>-<variant>-<seq>, bumping the
// sequence past whatever already exists for that prefix. Generation runs
// inside the caller's transaction, so two concurrent receipts for the same
// variant serialise on the stock-level row lock before they get here.
func (s *Service) nextBatchNumber(ctx context.Context, tx TxRepository, orgID, storeID, variantID int64, purchaseDate time.Time) (string, error) {
	prefix := fmt.Sprintf("B%s-%d-%d", purchaseDate.Format("20060102"), storeID, variantID)
	suffix, err := tx.NextBatchSuffix(ctx, orgID, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%03d", prefix, suffix), nil
}
