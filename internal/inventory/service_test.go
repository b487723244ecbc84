package inventory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gerai-pos/gerai/internal/shared"
)

type memoryRepo struct {
	levels          map[string]StockLevel
	movements       []Movement
	batches         map[int64]Batch
	missingVariants map[int64]bool
	variantCosts    map[int64]decimal.Decimal
	nextID          int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		levels:          make(map[string]StockLevel),
		batches:         make(map[int64]Batch),
		missingVariants: make(map[int64]bool),
		variantCosts:    make(map[int64]decimal.Decimal),
	}
}

func levelKey(orgID, variantID, storeID int64) string {
	return fmt.Sprintf("%d:%d:%d", orgID, variantID, storeID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetStockLevel(ctx context.Context, orgID, variantID, storeID int64) (StockLevel, error) {
	if level, ok := r.levels[levelKey(orgID, variantID, storeID)]; ok {
		return level, nil
	}
	return StockLevel{}, shared.ErrNotFound
}

func (r *memoryRepo) ListMovements(ctx context.Context, orgID int64, filter MovementFilter) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.OrgID != orgID {
			continue
		}
		if filter.VariantID != 0 && m.VariantID != filter.VariantID {
			continue
		}
		if filter.StoreID != 0 && m.StoreID != filter.StoreID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *memoryRepo) ListBatches(ctx context.Context, orgID, variantID, storeID int64) ([]Batch, error) {
	var out []Batch
	for _, b := range r.batches {
		if b.OrgID == orgID && (variantID == 0 || b.VariantID == variantID) && (storeID == 0 || b.StoreID == storeID) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListBelowReorder(ctx context.Context, orgID, storeID int64) ([]StockLevel, error) {
	var out []StockLevel
	for _, level := range r.levels {
		if level.OrgID == orgID && level.ReorderLevel > 0 && level.Quantity <= level.ReorderLevel {
			if storeID == 0 || level.StoreID == storeID {
				out = append(out, level)
			}
		}
	}
	return out, nil
}

func (tx *memoryTx) EnsureStockLevelForUpdate(ctx context.Context, orgID, variantID, storeID int64) (StockLevel, error) {
	key := levelKey(orgID, variantID, storeID)
	if level, ok := tx.repo.levels[key]; ok {
		return level, nil
	}
	tx.repo.nextID++
	level := StockLevel{ID: tx.repo.nextID, OrgID: orgID, VariantID: variantID, StoreID: storeID}
	tx.repo.levels[key] = level
	return level, nil
}

func (tx *memoryTx) UpdateStockLevel(ctx context.Context, level StockLevel) error {
	tx.repo.levels[levelKey(level.OrgID, level.VariantID, level.StoreID)] = level
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	tx.repo.movements = append(tx.repo.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	tx.repo.nextID++
	b.ID = tx.repo.nextID
	tx.repo.batches[b.ID] = b
	return b.ID, nil
}

func (tx *memoryTx) NextBatchSuffix(ctx context.Context, orgID int64, prefix string) (int, error) {
	max := 0
	for _, b := range tx.repo.batches {
		if b.OrgID != orgID || !strings.HasPrefix(b.Number, prefix+"-") {
			continue
		}
		if n, err := strconv.Atoi(b.Number[strings.LastIndex(b.Number, "-")+1:]); err == nil && n > max {
			max = n
		}
	}
	return max + 1, nil
}

func (tx *memoryTx) GetBatchForUpdate(ctx context.Context, orgID, batchID int64) (Batch, error) {
	if b, ok := tx.repo.batches[batchID]; ok && b.OrgID == orgID {
		return b, nil
	}
	return Batch{}, shared.ErrNotFound
}

func (tx *memoryTx) UpdateBatchCounters(ctx context.Context, b Batch) error {
	stored, ok := tx.repo.batches[b.ID]
	if !ok {
		return shared.ErrNotFound
	}
	stored.QuantityRemaining = b.QuantityRemaining
	stored.QuantitySold = b.QuantitySold
	stored.QuantityDamaged = b.QuantityDamaged
	stored.QuantityReturned = b.QuantityReturned
	tx.repo.batches[b.ID] = stored
	return nil
}

func (tx *memoryTx) VariantExists(ctx context.Context, orgID, variantID int64) (bool, error) {
	return !tx.repo.missingVariants[variantID], nil
}

func (tx *memoryTx) UpdateVariantCost(ctx context.Context, orgID, variantID int64, cost decimal.Decimal) error {
	tx.repo.variantCosts[variantID] = cost
	return nil
}

var testScope = shared.Scope{OrgID: 1, StoreID: 1, ActorID: 9}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, nil, nil, nil)
}

func TestAdjustCreatesLevelLazily(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	level, movement, err := svc.Adjust(ctx, testScope, AdjustInput{
		VariantID: 10, StoreID: 1, Quantity: 7, Type: MovementAdjustment,
	})
	require.NoError(t, err)
	require.EqualValues(t, 7, level.Quantity)
	require.EqualValues(t, 0, movement.FromQuantity)
	require.EqualValues(t, 7, movement.ToQuantity)
	require.EqualValues(t, 7, movement.Quantity)
	require.False(t, level.LastMovementAt.IsZero())
}

func TestDecreaseClampsAtZero(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, _, err := svc.Adjust(ctx, testScope, AdjustInput{VariantID: 10, StoreID: 1, Quantity: 5, Type: MovementAdjustment})
	require.NoError(t, err)

	level, movement, err := svc.DecreaseStock(ctx, testScope, AdjustInput{VariantID: 10, StoreID: 1, Quantity: 8, Type: MovementSale})
	require.NoError(t, err)
	require.EqualValues(t, 0, level.Quantity)
	require.EqualValues(t, -8, movement.Quantity)
	require.EqualValues(t, 5, movement.FromQuantity)
	require.EqualValues(t, 0, movement.ToQuantity)
}

func TestDecreaseShrinksReservation(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, _, err := svc.Adjust(ctx, testScope, AdjustInput{VariantID: 10, StoreID: 1, Quantity: 10, Type: MovementAdjustment})
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, testScope, ReserveInput{VariantID: 10, StoreID: 1, Quantity: 5})
	require.NoError(t, err)

	level, _, err := svc.DecreaseStock(ctx, testScope, AdjustInput{VariantID: 10, StoreID: 1, Quantity: 8, Type: MovementSale})
	require.NoError(t, err)
	require.EqualValues(t, 2, level.Quantity)
	require.EqualValues(t, 2, level.ReservedQuantity)
}

func TestMovementChainIsContiguous(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	deltas := []int64{10, -3, 5, -20, 4}
	for _, d := range deltas {
		_, _, err := svc.Adjust(ctx, testScope, AdjustInput{VariantID: 10, StoreID: 1, Quantity: d, Type: MovementAdjustment})
		require.NoError(t, err)
	}

	movements, err := svc.ListMovements(ctx, testScope, MovementFilter{VariantID: 10, StoreID: 1})
	require.NoError(t, err)
	require.Len(t, movements, len(deltas))
	for i := 1; i < len(movements); i++ {
		require.Equal(t, movements[i-1].ToQuantity, movements[i].FromQuantity)
	}

	level, err := svc.GetStockLevel(ctx, testScope, 10, 1)
	require.NoError(t, err)
	require.Equal(t, movements[len(movements)-1].ToQuantity, level.Quantity)
}

func TestAdjustRejectsUnknownVariant(t *testing.T) {
	repo := newMemoryRepo()
	repo.missingVariants[99] = true
	svc := newTestService(repo)

	_, _, err := svc.Adjust(context.Background(), testScope, AdjustInput{VariantID: 99, StoreID: 1, Quantity: 1, Type: MovementAdjustment})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAdjustValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, _, err := svc.Adjust(ctx, testScope, AdjustInput{VariantID: 10, StoreID: 1, Quantity: 0, Type: MovementAdjustment})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, _, err = svc.Adjust(ctx, testScope, AdjustInput{VariantID: 10, StoreID: 1, Quantity: 1, Type: "melted"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = svc.Adjust(ctx, shared.Scope{}, AdjustInput{VariantID: 10, StoreID: 1, Quantity: 1, Type: MovementAdjustment})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransfer(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, _, err := svc.Adjust(ctx, testScope, AdjustInput{VariantID: 10, StoreID: 1, Quantity: 20, Type: MovementPurchase})
	require.NoError(t, err)

	out, in, err := svc.TransferStock(ctx, testScope, TransferInput{VariantID: 10, SrcStoreID: 1, DstStoreID: 2, Quantity: 5})
	require.NoError(t, err)
	require.EqualValues(t, 15, out.ToQuantity)
	require.EqualValues(t, 5, in.ToQuantity)
	require.Equal(t, MovementTransfer, out.Type)
	require.Equal(t, MovementTransfer, in.Type)

	src, err := svc.GetStockLevel(ctx, testScope, 10, 1)
	require.NoError(t, err)
	require.EqualValues(t, 15, src.Quantity)
	dst, err := svc.GetStockLevel(ctx, testScope, 10, 2)
	require.NoError(t, err)
	require.EqualValues(t, 5, dst.Quantity)
}

func TestTransferRejectsShortfall(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, _, err := svc.Adjust(ctx, testScope, AdjustInput{VariantID: 10, StoreID: 1, Quantity: 3, Type: MovementPurchase})
	require.NoError(t, err)

	_, _, err = svc.TransferStock(ctx, testScope, TransferInput{VariantID: 10, SrcStoreID: 1, DstStoreID: 2, Quantity: 5})
	require.ErrorIs(t, err, ErrInsufficientAvailable)

	src, err := svc.GetStockLevel(ctx, testScope, 10, 1)
	require.NoError(t, err)
	require.EqualValues(t, 3, src.Quantity)
	_, err = svc.GetStockLevel(ctx, testScope, 10, 2)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestTransferRequiresDistinctStores(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, _, err := svc.TransferStock(context.Background(), testScope, TransferInput{VariantID: 10, SrcStoreID: 1, DstStoreID: 1, Quantity: 5})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReserveAndRelease(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, _, err := svc.Adjust(ctx, testScope, AdjustInput{VariantID: 10, StoreID: 1, Quantity: 10, Type: MovementPurchase})
	require.NoError(t, err)

	level, err := svc.Reserve(ctx, testScope, ReserveInput{VariantID: 10, StoreID: 1, Quantity: 6})
	require.NoError(t, err)
	require.EqualValues(t, 6, level.ReservedQuantity)
	require.EqualValues(t, 4, level.Available())

	_, err = svc.Reserve(ctx, testScope, ReserveInput{VariantID: 10, StoreID: 1, Quantity: 5})
	require.ErrorIs(t, err, ErrInsufficientAvailable)

	level, err = svc.Release(ctx, testScope, ReserveInput{VariantID: 10, StoreID: 1, Quantity: 100})
	require.NoError(t, err)
	require.EqualValues(t, 0, level.ReservedQuantity)

	movements, err := svc.ListMovements(ctx, testScope, MovementFilter{VariantID: 10})
	require.NoError(t, err)
	require.Len(t, movements, 1)
}

func TestRegisterBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	date := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	batch, movement, err := svc.RegisterBatch(ctx, testScope, BatchInput{
		VariantID: 10, StoreID: 1, Quantity: 50, PurchaseDate: date,
		UnitCost: decimal.RequireFromString("12.50"),
	})
	require.NoError(t, err)
	require.Equal(t, "B20260314-1-10-001", batch.Number)
	require.EqualValues(t, 50, batch.QuantityRemaining)
	require.Equal(t, MovementPurchase, movement.Type)
	require.Equal(t, batch.ID, *movement.BatchID)

	second, _, err := svc.RegisterBatch(ctx, testScope, BatchInput{
		VariantID: 10, StoreID: 1, Quantity: 30, PurchaseDate: date,
		UnitCost: decimal.RequireFromString("13.00"),
	})
	require.NoError(t, err)
	require.Equal(t, "B20260314-1-10-002", second.Number)

	level, err := svc.GetStockLevel(ctx, testScope, 10, 1)
	require.NoError(t, err)
	require.EqualValues(t, 80, level.Quantity)
}

func TestConsumeBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	batch, _, err := svc.RegisterBatch(ctx, testScope, BatchInput{VariantID: 10, StoreID: 1, Quantity: 10})
	require.NoError(t, err)

	updated, movement, err := svc.Consume(ctx, testScope, ConsumeInput{BatchID: batch.ID, Quantity: 4, Kind: ConsumeSold})
	require.NoError(t, err)
	require.EqualValues(t, 6, updated.QuantityRemaining)
	require.EqualValues(t, 4, updated.QuantitySold)
	require.Equal(t, MovementSale, movement.Type)
	require.EqualValues(t, -4, movement.Quantity)

	level, err := svc.GetStockLevel(ctx, testScope, 10, 1)
	require.NoError(t, err)
	require.EqualValues(t, 6, level.Quantity)

	_, _, err = svc.Consume(ctx, testScope, ConsumeInput{BatchID: batch.ID, Quantity: 2, Kind: ConsumeDamaged})
	require.NoError(t, err)

	_, _, err = svc.Consume(ctx, testScope, ConsumeInput{BatchID: batch.ID, Quantity: 5, Kind: ConsumeSold})
	require.ErrorIs(t, err, shared.ErrInsufficientBatchQuantity)

	level, err = svc.GetStockLevel(ctx, testScope, 10, 1)
	require.NoError(t, err)
	require.EqualValues(t, 4, level.Quantity)
}

func TestConsumeRejectsUnknownKind(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	batch, _, err := svc.RegisterBatch(ctx, testScope, BatchInput{VariantID: 10, StoreID: 1, Quantity: 10})
	require.NoError(t, err)

	_, _, err = svc.Consume(ctx, testScope, ConsumeInput{BatchID: batch.ID, Quantity: 1, Kind: "evaporated"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestListBelowReorder(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, _, err := svc.Adjust(ctx, testScope, AdjustInput{VariantID: 10, StoreID: 1, Quantity: 2, Type: MovementPurchase})
	require.NoError(t, err)
	key := levelKey(1, 10, 1)
	level := repo.levels[key]
	level.ReorderLevel = 5
	repo.levels[key] = level

	low, err := svc.ListBelowReorder(ctx, testScope, 1)
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.EqualValues(t, 10, low[0].VariantID)
}
