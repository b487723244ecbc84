package purchasing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gerai-pos/gerai/internal/inventory"
	"github.com/gerai-pos/gerai/internal/ledger"
	"github.com/gerai-pos/gerai/internal/shared"
)

// fakeStockTx implements inventory.TxRepository in memory.
type fakeStockTx struct {
	levels    map[string]inventory.StockLevel
	movements []inventory.Movement
	batches   map[int64]inventory.Batch
	costs     map[int64]decimal.Decimal
	nextID    int64
}

func newFakeStockTx() *fakeStockTx {
	return &fakeStockTx{
		levels:  make(map[string]inventory.StockLevel),
		batches: make(map[int64]inventory.Batch),
		costs:   make(map[int64]decimal.Decimal),
	}
}

func stockKey(orgID, variantID, storeID int64) string {
	return fmt.Sprintf("%d:%d:%d", orgID, variantID, storeID)
}

func (f *fakeStockTx) EnsureStockLevelForUpdate(ctx context.Context, orgID, variantID, storeID int64) (inventory.StockLevel, error) {
	key := stockKey(orgID, variantID, storeID)
	if level, ok := f.levels[key]; ok {
		return level, nil
	}
	f.nextID++
	level := inventory.StockLevel{ID: f.nextID, OrgID: orgID, VariantID: variantID, StoreID: storeID}
	f.levels[key] = level
	return level, nil
}

func (f *fakeStockTx) UpdateStockLevel(ctx context.Context, level inventory.StockLevel) error {
	f.levels[stockKey(level.OrgID, level.VariantID, level.StoreID)] = level
	return nil
}

func (f *fakeStockTx) InsertMovement(ctx context.Context, m inventory.Movement) (int64, error) {
	f.nextID++
	m.ID = f.nextID
	f.movements = append(f.movements, m)
	return m.ID, nil
}

func (f *fakeStockTx) InsertBatch(ctx context.Context, b inventory.Batch) (int64, error) {
	f.nextID++
	b.ID = f.nextID
	f.batches[b.ID] = b
	return b.ID, nil
}

func (f *fakeStockTx) NextBatchSuffix(ctx context.Context, orgID int64, prefix string) (int, error) {
	max := 0
	for _, b := range f.batches {
		if b.OrgID != orgID || !strings.HasPrefix(b.Number, prefix+"-") {
			continue
		}
		if n, err := strconv.Atoi(b.Number[strings.LastIndex(b.Number, "-")+1:]); err == nil && n > max {
			max = n
		}
	}
	return max + 1, nil
}

func (f *fakeStockTx) GetBatchForUpdate(ctx context.Context, orgID, batchID int64) (inventory.Batch, error) {
	if b, ok := f.batches[batchID]; ok && b.OrgID == orgID {
		return b, nil
	}
	return inventory.Batch{}, shared.ErrNotFound
}

func (f *fakeStockTx) UpdateBatchCounters(ctx context.Context, b inventory.Batch) error {
	f.batches[b.ID] = b
	return nil
}

func (f *fakeStockTx) VariantExists(ctx context.Context, orgID, variantID int64) (bool, error) {
	return true, nil
}

func (f *fakeStockTx) UpdateVariantCost(ctx context.Context, orgID, variantID int64, cost decimal.Decimal) error {
	f.costs[variantID] = cost
	return nil
}

// fakeLedgerTx implements ledger.TxRepository in memory.
type fakeLedgerTx struct {
	balances map[string]decimal.Decimal
	entries  []ledger.Entry
	nextID   int64
}

func newFakeLedgerTx() *fakeLedgerTx {
	return &fakeLedgerTx{balances: make(map[string]decimal.Decimal)}
}

func ledgerKey(orgID int64, kind ledger.PartyKind, partyID int64) string {
	return fmt.Sprintf("%d:%s:%d", orgID, kind, partyID)
}

func (f *fakeLedgerTx) seedParty(orgID int64, kind ledger.PartyKind, partyID int64) {
	f.balances[ledgerKey(orgID, kind, partyID)] = decimal.Zero
}

func (f *fakeLedgerTx) GetPartyBalanceForUpdate(ctx context.Context, orgID int64, kind ledger.PartyKind, partyID int64) (decimal.Decimal, error) {
	if bal, ok := f.balances[ledgerKey(orgID, kind, partyID)]; ok {
		return bal, nil
	}
	return decimal.Zero, shared.ErrNotFound
}

func (f *fakeLedgerTx) UpdatePartyBalance(ctx context.Context, orgID int64, kind ledger.PartyKind, partyID int64, balance decimal.Decimal) error {
	f.balances[ledgerKey(orgID, kind, partyID)] = balance
	return nil
}

func (f *fakeLedgerTx) InsertEntry(ctx context.Context, e ledger.Entry) (int64, error) {
	f.nextID++
	e.ID = f.nextID
	f.entries = append(f.entries, e)
	return e.ID, nil
}

func (f *fakeLedgerTx) ListPendingSaleEntriesForUpdate(ctx context.Context, orgID, customerID int64) ([]ledger.Entry, error) {
	return nil, nil
}

func (f *fakeLedgerTx) UpdateEntryStatus(ctx context.Context, entryID int64, status ledger.EntryStatus) error {
	for i := range f.entries {
		if f.entries[i].ID == entryID {
			f.entries[i].Status = status
			return nil
		}
	}
	return shared.ErrNotFound
}

func (f *fakeLedgerTx) HasEntryForReference(ctx context.Context, orgID int64, kind ledger.PartyKind, entryType ledger.EntryType, ref shared.Reference) (bool, error) {
	for _, e := range f.entries {
		if e.OrgID == orgID && e.PartyKind == kind && e.Type == entryType && e.Reference == ref {
			return true, nil
		}
	}
	return false, nil
}

// fakeRepo implements RepositoryPort and TxRepository in memory.
type fakeRepo struct {
	purchases map[int64]Purchase
	lines     map[int64][]Line
	stock     *fakeStockTx
	ledger    *fakeLedgerTx
	nextID    int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		purchases: make(map[int64]Purchase),
		lines:     make(map[int64][]Line),
		stock:     newFakeStockTx(),
		ledger:    newFakeLedgerTx(),
	}
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *fakeRepo) Stock() inventory.TxRepository { return r.stock }
func (r *fakeRepo) Ledger() ledger.TxRepository   { return r.ledger }

func (r *fakeRepo) CreatePurchase(ctx context.Context, p Purchase) (int64, error) {
	r.nextID++
	p.ID = r.nextID
	r.purchases[p.ID] = p
	return p.ID, nil
}

func (r *fakeRepo) SetPurchaseNumber(ctx context.Context, id int64, number string) error {
	p := r.purchases[id]
	p.Number = number
	r.purchases[id] = p
	return nil
}

func (r *fakeRepo) InsertLine(ctx context.Context, line Line) error {
	r.nextID++
	line.ID = r.nextID
	r.lines[line.PurchaseID] = append(r.lines[line.PurchaseID], line)
	return nil
}

func (r *fakeRepo) GetPurchaseForUpdate(ctx context.Context, orgID, id int64) (Purchase, error) {
	if p, ok := r.purchases[id]; ok && p.OrgID == orgID {
		return p, nil
	}
	return Purchase{}, shared.ErrNotFound
}

func (r *fakeRepo) GetLinesForUpdate(ctx context.Context, purchaseID int64) ([]Line, error) {
	out := make([]Line, len(r.lines[purchaseID]))
	copy(out, r.lines[purchaseID])
	return out, nil
}

func (r *fakeRepo) UpdateLineReceived(ctx context.Context, lineID, received int64) error {
	for purchaseID, lines := range r.lines {
		for i := range lines {
			if lines[i].ID == lineID {
				if received > lines[i].QuantityOrdered {
					return shared.ErrInvalidTransition
				}
				lines[i].QuantityReceived = received
				r.lines[purchaseID] = lines
				return nil
			}
		}
	}
	return shared.ErrNotFound
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	p, ok := r.purchases[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.Status = status
	r.purchases[id] = p
	return nil
}

func (r *fakeRepo) UpdatePurchaseOnReceive(ctx context.Context, p Purchase) error {
	stored, ok := r.purchases[p.ID]
	if !ok {
		return shared.ErrNotFound
	}
	stored.Status = p.Status
	stored.ReceivedAt = p.ReceivedAt
	stored.ReceivedBy = p.ReceivedBy
	r.purchases[p.ID] = stored
	return nil
}

func (r *fakeRepo) UpdatePurchasePayment(ctx context.Context, id int64, amountPaid decimal.Decimal, status PaymentStatus) error {
	p, ok := r.purchases[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.AmountPaid = amountPaid
	p.PaymentStatus = status
	r.purchases[id] = p
	return nil
}

func (r *fakeRepo) GetPurchase(ctx context.Context, orgID, id int64) (Purchase, []Line, error) {
	p, err := r.GetPurchaseForUpdate(ctx, orgID, id)
	if err != nil {
		return Purchase{}, nil, err
	}
	lines, _ := r.GetLinesForUpdate(ctx, id)
	return p, lines, nil
}

func (r *fakeRepo) ListPurchases(ctx context.Context, orgID int64, filter ListFilter) ([]Purchase, error) {
	var out []Purchase
	for _, p := range r.purchases {
		if p.OrgID == orgID && (filter.Status == "" || p.Status == filter.Status) {
			out = append(out, p)
		}
	}
	return out, nil
}

var testScope = shared.Scope{OrgID: 1, StoreID: 1, ActorID: 9}

func newTestService(repo *fakeRepo) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stock := inventory.NewService(nil, nil, nil, nil)
	ledgerSvc := ledger.NewService(nil, logger, nil)
	return NewService(repo, stock, ledgerSvc, logger)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createOrderedPurchase(t *testing.T, svc *Service, input CreateInput) Purchase {
	t.Helper()
	purchase, err := svc.Create(context.Background(), testScope, input)
	require.NoError(t, err)
	purchase, err = svc.MarkOrdered(context.Background(), testScope, purchase.ID)
	require.NoError(t, err)
	return purchase
}

func TestReceiveFullPurchase(t *testing.T) {
	repo := newFakeRepo()
	repo.ledger.seedParty(1, ledger.PartySupplier, 3)
	svc := newTestService(repo)
	ctx := context.Background()

	purchase := createOrderedPurchase(t, svc, CreateInput{
		StoreID: 1, SupplierID: 3,
		Lines: []LineInput{{VariantID: 10, Quantity: 100, UnitCost: dec("50")}},
	})
	require.True(t, purchase.Total.Equal(dec("5000")))

	received, err := svc.Receive(ctx, testScope, ReceiveInput{PurchaseID: purchase.ID})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, received.Status)
	require.NotNil(t, received.ReceivedAt)
	require.EqualValues(t, 9, *received.ReceivedBy)

	require.Len(t, repo.stock.batches, 1)
	for _, b := range repo.stock.batches {
		require.EqualValues(t, 100, b.QuantityRemaining)
		require.Equal(t, purchase.ID, *b.PurchaseID)
	}
	require.Len(t, repo.stock.movements, 1)
	m := repo.stock.movements[0]
	require.EqualValues(t, 0, m.FromQuantity)
	require.EqualValues(t, 100, m.ToQuantity)
	require.Equal(t, inventory.MovementPurchase, m.Type)
	require.Equal(t, shared.Reference{Kind: shared.ReferencePurchase, ID: purchase.ID}, m.Reference)

	require.Len(t, repo.ledger.entries, 1)
	entry := repo.ledger.entries[0]
	require.Equal(t, ledger.EntryPurchase, entry.Type)
	require.True(t, entry.Debit.Equal(dec("5000")))
	require.True(t, entry.BalanceAfter.Equal(dec("5000")))

	require.True(t, repo.stock.costs[10].Equal(dec("50")))
}

func TestReceiveIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	repo.ledger.seedParty(1, ledger.PartySupplier, 3)
	svc := newTestService(repo)
	ctx := context.Background()

	purchase := createOrderedPurchase(t, svc, CreateInput{
		StoreID: 1, SupplierID: 3,
		Lines: []LineInput{{VariantID: 10, Quantity: 20, UnitCost: dec("10")}},
	})

	_, err := svc.Receive(ctx, testScope, ReceiveInput{PurchaseID: purchase.ID})
	require.NoError(t, err)
	batches := len(repo.stock.batches)
	movements := len(repo.stock.movements)
	entries := len(repo.ledger.entries)

	again, err := svc.Receive(ctx, testScope, ReceiveInput{PurchaseID: purchase.ID})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, again.Status)
	require.Len(t, repo.stock.batches, batches)
	require.Len(t, repo.stock.movements, movements)
	require.Len(t, repo.ledger.entries, entries)
}

func TestReceivePartialWithOverride(t *testing.T) {
	repo := newFakeRepo()
	repo.ledger.seedParty(1, ledger.PartySupplier, 3)
	svc := newTestService(repo)
	ctx := context.Background()

	purchase := createOrderedPurchase(t, svc, CreateInput{
		StoreID: 1, SupplierID: 3,
		Lines: []LineInput{{VariantID: 10, Quantity: 10, UnitCost: dec("5")}},
	})
	lines, _ := repo.GetLinesForUpdate(ctx, purchase.ID)
	lineID := lines[0].ID

	partial, err := svc.Receive(ctx, testScope, ReceiveInput{
		PurchaseID:       purchase.ID,
		QuantityOverride: map[int64]int64{lineID: 4},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPartial, partial.Status)
	require.Len(t, repo.ledger.entries, 1)

	full, err := svc.Receive(ctx, testScope, ReceiveInput{PurchaseID: purchase.ID})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, full.Status)

	lines, _ = repo.GetLinesForUpdate(ctx, purchase.ID)
	require.EqualValues(t, 10, lines[0].QuantityReceived)
	require.Len(t, repo.stock.batches, 2)
	require.Len(t, repo.ledger.entries, 1, "payable must be posted exactly once")

	level := repo.stock.levels[stockKey(1, 10, 1)]
	require.EqualValues(t, 10, level.Quantity)
}

func TestReceivePaidPurchaseCreatesNoPayable(t *testing.T) {
	repo := newFakeRepo()
	repo.ledger.seedParty(1, ledger.PartySupplier, 3)
	svc := newTestService(repo)

	purchase := createOrderedPurchase(t, svc, CreateInput{
		StoreID: 1, SupplierID: 3, PaymentStatus: PaymentPaid,
		Lines: []LineInput{{VariantID: 10, Quantity: 5, UnitCost: dec("100")}},
	})

	received, err := svc.Receive(context.Background(), testScope, ReceiveInput{PurchaseID: purchase.ID})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, received.Status)
	require.Empty(t, repo.ledger.entries)
	require.Len(t, repo.stock.batches, 1)
}

func TestReceiveWithoutSupplierCreatesNoPayable(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	purchase := createOrderedPurchase(t, svc, CreateInput{
		StoreID: 1,
		Lines:   []LineInput{{VariantID: 10, Quantity: 5, UnitCost: dec("100")}},
	})

	_, err := svc.Receive(context.Background(), testScope, ReceiveInput{PurchaseID: purchase.ID})
	require.NoError(t, err)
	require.Empty(t, repo.ledger.entries)
}

func TestReceiveDraftRejected(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	purchase, err := svc.Create(context.Background(), testScope, CreateInput{
		StoreID: 1,
		Lines:   []LineInput{{VariantID: 10, Quantity: 5}},
	})
	require.NoError(t, err)

	_, err = svc.Receive(context.Background(), testScope, ReceiveInput{PurchaseID: purchase.ID})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Empty(t, repo.stock.movements)
}

func TestCancelAfterOrderingAllowedOnceOnly(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	purchase := createOrderedPurchase(t, svc, CreateInput{
		StoreID: 1,
		Lines:   []LineInput{{VariantID: 10, Quantity: 5}},
	})

	cancelled, err := svc.Cancel(ctx, testScope, purchase.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.Cancel(ctx, testScope, purchase.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.Receive(ctx, testScope, ReceiveInput{PurchaseID: purchase.ID})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestRecordPayment(t *testing.T) {
	repo := newFakeRepo()
	repo.ledger.seedParty(1, ledger.PartySupplier, 3)
	svc := newTestService(repo)
	ctx := context.Background()

	purchase := createOrderedPurchase(t, svc, CreateInput{
		StoreID: 1, SupplierID: 3,
		Lines: []LineInput{{VariantID: 10, Quantity: 10, UnitCost: dec("100")}},
	})
	_, err := svc.Receive(ctx, testScope, ReceiveInput{PurchaseID: purchase.ID})
	require.NoError(t, err)

	paid, err := svc.RecordPayment(ctx, testScope, PaymentInput{PurchaseID: purchase.ID, Amount: dec("400"), Method: "cash"})
	require.NoError(t, err)
	require.Equal(t, PaymentPartial, paid.PaymentStatus)
	require.True(t, paid.AmountPaid.Equal(dec("400")))

	paid, err = svc.RecordPayment(ctx, testScope, PaymentInput{PurchaseID: purchase.ID, Amount: dec("600")})
	require.NoError(t, err)
	require.Equal(t, PaymentPaid, paid.PaymentStatus)

	_, err = svc.RecordPayment(ctx, testScope, PaymentInput{PurchaseID: purchase.ID, Amount: dec("1")})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	// payable 1000 debit, then credits 400 + 600
	balance := repo.ledger.balances[ledgerKey(1, ledger.PartySupplier, 3)]
	require.True(t, balance.IsZero(), "balance %s", balance)
}

func TestPaymentBeforeReceiptStillPostsPayable(t *testing.T) {
	repo := newFakeRepo()
	repo.ledger.seedParty(1, ledger.PartySupplier, 3)
	svc := newTestService(repo)
	ctx := context.Background()

	purchase := createOrderedPurchase(t, svc, CreateInput{
		StoreID: 1, SupplierID: 3,
		Lines: []LineInput{{VariantID: 10, Quantity: 10, UnitCost: dec("100")}},
	})

	// Prepayment on the ordered purchase, before anything arrives.
	paid, err := svc.RecordPayment(ctx, testScope, PaymentInput{PurchaseID: purchase.ID, Amount: dec("400")})
	require.NoError(t, err)
	require.Equal(t, PaymentPartial, paid.PaymentStatus)
	require.Len(t, repo.ledger.entries, 1)
	require.Equal(t, ledger.EntryPayment, repo.ledger.entries[0].Type)

	received, err := svc.Receive(ctx, testScope, ReceiveInput{PurchaseID: purchase.ID})
	require.NoError(t, err)
	require.Equal(t, StatusReceived, received.Status)

	// The prepayment credit must not suppress the payable debit.
	require.Len(t, repo.ledger.entries, 2)
	payable := repo.ledger.entries[1]
	require.Equal(t, ledger.EntryPurchase, payable.Type)
	require.True(t, payable.Debit.Equal(dec("1000")))

	balance := repo.ledger.balances[ledgerKey(1, ledger.PartySupplier, 3)]
	require.True(t, balance.Equal(dec("600")), "balance %s", balance)

	// Re-receiving still posts nothing new.
	_, err = svc.Receive(ctx, testScope, ReceiveInput{PurchaseID: purchase.ID})
	require.NoError(t, err)
	require.Len(t, repo.ledger.entries, 2)
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newFakeRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, testScope, CreateInput{StoreID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, testScope, CreateInput{
		StoreID: 1,
		Lines:   []LineInput{{VariantID: 10, Quantity: 0}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, testScope, CreateInput{
		StoreID: 1, PaymentStatus: PaymentPartial,
		Lines: []LineInput{{VariantID: 10, Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}
