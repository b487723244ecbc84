package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/gerai-pos/gerai/internal/observability"
	"github.com/gerai-pos/gerai/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockLevel(ctx context.Context, orgID, variantID, storeID int64) (StockLevel, error)
	ListMovements(ctx context.Context, orgID int64, filter MovementFilter) ([]Movement, error)
	ListBatches(ctx context.Context, orgID, variantID, storeID int64) ([]Batch, error)
	ListBelowReorder(ctx context.Context, orgID, storeID int64) ([]StockLevel, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the stock adjustment service: the single writer of StockLevel
// and Movement rows. Every quantity change in the system, whatever its
// origin, goes through ApplyAdjustment under a row lock on the level.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	metrics     *observability.Metrics
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, metrics: metrics}
}

// Adjust applies one signed quantity change in its own transaction.
//
// A decrease past zero is clamped: the level lands on zero and the movement
// row records the requested delta next to the actual from/to values. This is
// deliberate policy, not error recovery; callers that must reject shortfalls
// pre-check availability before calling.
func (s *Service) Adjust(ctx context.Context, scope shared.Scope, input AdjustInput) (StockLevel, Movement, error) {
	if err := scope.Validate(); err != nil {
		return StockLevel{}, Movement{}, err
	}
	if err := validateAdjust(input); err != nil {
		return StockLevel{}, Movement{}, err
	}

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "inventory"); err != nil {
			return StockLevel{}, Movement{}, err
		}
		insertedKey = true
	}

	var level StockLevel
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		level, movement, err = s.ApplyAdjustment(ctx, tx, scope, input)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return StockLevel{}, Movement{}, err
	}
	s.recordAudit(ctx, scope, "stock:adjust", input, movement)
	return level, movement, nil
}

// IncreaseStock is Adjust restricted to positive deltas.
func (s *Service) IncreaseStock(ctx context.Context, scope shared.Scope, input AdjustInput) (StockLevel, Movement, error) {
	if input.Quantity <= 0 {
		return StockLevel{}, Movement{}, ErrInvalidQuantity
	}
	return s.Adjust(ctx, scope, input)
}

// DecreaseStock is Adjust restricted to negative deltas; callers pass a
// positive quantity.
func (s *Service) DecreaseStock(ctx context.Context, scope shared.Scope, input AdjustInput) (StockLevel, Movement, error) {
	if input.Quantity <= 0 {
		return StockLevel{}, Movement{}, ErrInvalidQuantity
	}
	input.Quantity = -input.Quantity
	return s.Adjust(ctx, scope, input)
}

// TransferStock moves stock between two stores as a decrease at the source
// and an increase at the destination inside one transaction; a failure on
// either leg leaves neither applied. Unlike plain decreases, a transfer of
// more than the source holds is rejected rather than clamped, so stock is
// never created at the destination out of nothing.
func (s *Service) TransferStock(ctx context.Context, scope shared.Scope, input TransferInput) (out Movement, in Movement, err error) {
	if err := scope.Validate(); err != nil {
		return Movement{}, Movement{}, err
	}
	if input.Quantity <= 0 {
		return Movement{}, Movement{}, ErrInvalidQuantity
	}
	if input.SrcStoreID == 0 || input.DstStoreID == 0 || input.VariantID == 0 {
		return Movement{}, Movement{}, fmt.Errorf("inventory: variant and both stores required: %w", shared.ErrValidation)
	}
	if input.SrcStoreID == input.DstStoreID {
		return Movement{}, Movement{}, fmt.Errorf("inventory: source and destination store must differ: %w", shared.ErrValidation)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		src, err := tx.EnsureStockLevelForUpdate(ctx, scope.OrgID, input.VariantID, input.SrcStoreID)
		if err != nil {
			return err
		}
		if src.Quantity < input.Quantity {
			return ErrInsufficientAvailable
		}
		_, out, err = s.ApplyAdjustment(ctx, tx, scope, AdjustInput{
			VariantID: input.VariantID,
			StoreID:   input.SrcStoreID,
			Quantity:  -input.Quantity,
			Type:      MovementTransfer,
			Reference: input.Reference,
			UnitCost:  input.UnitCost,
			Note:      input.Note,
		})
		if err != nil {
			return err
		}
		_, in, err = s.ApplyAdjustment(ctx, tx, scope, AdjustInput{
			VariantID: input.VariantID,
			StoreID:   input.DstStoreID,
			Quantity:  input.Quantity,
			Type:      MovementTransfer,
			Reference: input.Reference,
			UnitCost:  input.UnitCost,
			Note:      input.Note,
		})
		return err
	})
	if err != nil {
		return Movement{}, Movement{}, err
	}
	s.recordAudit(ctx, scope, "stock:transfer", AdjustInput{VariantID: input.VariantID, StoreID: input.SrcStoreID, Quantity: input.Quantity}, out)
	return out, in, nil
}

// ApplyAdjustment runs the locked read-modify-write inside an existing
// transaction. Higher-level workflows (purchase receiving, batch
// consumption) compose with it so their writes land atomically with the
// stock change; the tx parameter makes the lock scope explicit.
func (s *Service) ApplyAdjustment(ctx context.Context, tx TxRepository, scope shared.Scope, input AdjustInput) (StockLevel, Movement, error) {
	if err := validateAdjust(input); err != nil {
		return StockLevel{}, Movement{}, err
	}
	ok, err := tx.VariantExists(ctx, scope.OrgID, input.VariantID)
	if err != nil {
		return StockLevel{}, Movement{}, err
	}
	if !ok {
		return StockLevel{}, Movement{}, fmt.Errorf("inventory: variant %d: %w", input.VariantID, shared.ErrNotFound)
	}

	level, err := tx.EnsureStockLevelForUpdate(ctx, scope.OrgID, input.VariantID, input.StoreID)
	if err != nil {
		return StockLevel{}, Movement{}, err
	}

	from := level.Quantity
	to := from + input.Quantity
	if to < 0 {
		to = 0
		s.metrics.AdjustmentClamped()
	}

	now := time.Now().UTC()
	level.Quantity = to
	if level.ReservedQuantity > to {
		level.ReservedQuantity = to
	}
	level.LastMovementAt = now
	if err := tx.UpdateStockLevel(ctx, level); err != nil {
		return StockLevel{}, Movement{}, err
	}

	movement := Movement{
		OrgID:        scope.OrgID,
		VariantID:    input.VariantID,
		StoreID:      input.StoreID,
		BatchID:      input.BatchID,
		Type:         input.Type,
		Quantity:     input.Quantity,
		FromQuantity: from,
		ToQuantity:   to,
		Reference:    input.Reference,
		UnitCost:     input.UnitCost,
		ActorID:      scope.ActorID,
		Note:         input.Note,
		CreatedAt:    now,
	}
	movementID, err := tx.InsertMovement(ctx, movement)
	if err != nil {
		return StockLevel{}, Movement{}, err
	}
	movement.ID = movementID
	s.metrics.MovementPosted(string(input.Type))
	return level, movement, nil
}

// Reserve holds back part of the available quantity under the same row lock
// the adjustment path uses. Fails when the reservation exceeds what is
// available; reservations never touch the movement log because the on-hand
// quantity does not change.
func (s *Service) Reserve(ctx context.Context, scope shared.Scope, input ReserveInput) (StockLevel, error) {
	return s.mutateReservation(ctx, scope, input, true)
}

// Release returns reserved quantity to the available pool. Releasing more
// than is reserved clamps at zero.
func (s *Service) Release(ctx context.Context, scope shared.Scope, input ReserveInput) (StockLevel, error) {
	return s.mutateReservation(ctx, scope, input, false)
}

func (s *Service) mutateReservation(ctx context.Context, scope shared.Scope, input ReserveInput, reserve bool) (StockLevel, error) {
	if err := scope.Validate(); err != nil {
		return StockLevel{}, err
	}
	if input.Quantity <= 0 {
		return StockLevel{}, ErrInvalidQuantity
	}
	var level StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		level, err = tx.EnsureStockLevelForUpdate(ctx, scope.OrgID, input.VariantID, input.StoreID)
		if err != nil {
			return err
		}
		if reserve {
			if input.Quantity > level.Available() {
				return ErrInsufficientAvailable
			}
			level.ReservedQuantity += input.Quantity
		} else {
			level.ReservedQuantity -= input.Quantity
			if level.ReservedQuantity < 0 {
				level.ReservedQuantity = 0
			}
		}
		return tx.UpdateStockLevel(ctx, level)
	})
	if err != nil {
		return StockLevel{}, err
	}
	return level, nil
}

// GetStockLevel returns the current ledger row for one variant/store pair.
func (s *Service) GetStockLevel(ctx context.Context, scope shared.Scope, variantID, storeID int64) (StockLevel, error) {
	return s.repo.GetStockLevel(ctx, scope.OrgID, variantID, storeID)
}

// ListMovements returns the movement log, newest first.
func (s *Service) ListMovements(ctx context.Context, scope shared.Scope, filter MovementFilter) ([]Movement, error) {
	return s.repo.ListMovements(ctx, scope.OrgID, filter)
}

// ListBelowReorder lists levels at or under their reorder threshold; the
// alerting service polls this read-only.
func (s *Service) ListBelowReorder(ctx context.Context, scope shared.Scope, storeID int64) ([]StockLevel, error) {
	return s.repo.ListBelowReorder(ctx, scope.OrgID, storeID)
}

func (s *Service) recordAudit(ctx context.Context, scope shared.Scope, action string, input AdjustInput, movement Movement) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		OrgID:    scope.OrgID,
		ActorID:  scope.ActorID,
		Action:   action,
		Entity:   "stock_movement",
		EntityID: fmt.Sprintf("%d", movement.ID),
		Meta: map[string]any{
			"variant_id": input.VariantID,
			"store_id":   input.StoreID,
			"quantity":   input.Quantity,
			"from":       movement.FromQuantity,
			"to":         movement.ToQuantity,
		},
	})
}

func validateAdjust(input AdjustInput) error {
	if input.VariantID == 0 || input.StoreID == 0 {
		return fmt.Errorf("inventory: variant and store required: %w", shared.ErrValidation)
	}
	if input.Quantity == 0 {
		return ErrInvalidQuantity
	}
	if !input.Type.Valid() {
		return fmt.Errorf("inventory: unknown movement type %q: %w", input.Type, shared.ErrValidation)
	}
	return input.Reference.Validate()
}
