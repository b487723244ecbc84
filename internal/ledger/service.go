package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gerai-pos/gerai/internal/observability"
	"github.com/gerai-pos/gerai/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListEntries(ctx context.Context, orgID int64, filter EntryFilter) ([]Entry, error)
	LatestEntry(ctx context.Context, orgID int64, kind PartyKind, partyID int64) (Entry, error)
	MasterBalance(ctx context.Context, orgID int64, kind PartyKind, partyID int64) (decimal.Decimal, error)
}

// Service maintains the customer and supplier running-balance ledgers. All
// postings go through PostEntryTx so the party-row lock is the single
// serialization point for a party's balance chain.
type Service struct {
	repo    RepositoryPort
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, logger: logger, metrics: metrics}
}

// PostEntry appends one entry in its own transaction.
func (s *Service) PostEntry(ctx context.Context, scope shared.Scope, input PostInput) (Entry, error) {
	if err := scope.Validate(); err != nil {
		return Entry{}, err
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.PostEntryTx(ctx, tx, scope, input)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// PostEntryTx appends one entry inside an existing transaction. It locks the
// party's master balance row, extends the balance chain with
// balanceAfter = balance + debit - credit, and persists the entry and the
// new master balance under the same commit. The purchase receiving workflow
// calls this so payable posting lands atomically with the receipt.
func (s *Service) PostEntryTx(ctx context.Context, tx TxRepository, scope shared.Scope, input PostInput) (Entry, error) {
	if err := input.validate(); err != nil {
		return Entry{}, err
	}

	balance, err := tx.GetPartyBalanceForUpdate(ctx, scope.OrgID, input.PartyKind, input.PartyID)
	if err != nil {
		return Entry{}, err
	}
	balanceAfter := balance.Add(input.Debit).Sub(input.Credit)

	transactionDate := input.TransactionDate
	if transactionDate.IsZero() {
		transactionDate = time.Now().UTC()
	}
	entry := Entry{
		OrgID:           scope.OrgID,
		PartyKind:       input.PartyKind,
		PartyID:         input.PartyID,
		Type:            input.Type,
		Debit:           input.Debit,
		Credit:          input.Credit,
		BalanceAfter:    balanceAfter,
		Reference:       input.Reference,
		TransactionDate: transactionDate,
		DueDate:         input.DueDate,
		Status:          input.Status,
		Note:            input.Note,
		ActorID:         scope.ActorID,
		CreatedAt:       time.Now().UTC(),
	}
	entryID, err := tx.InsertEntry(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = entryID

	if err := tx.UpdatePartyBalance(ctx, scope.OrgID, input.PartyKind, input.PartyID, balanceAfter); err != nil {
		return Entry{}, err
	}
	s.metrics.LedgerEntryPosted(string(input.PartyKind), string(input.Type))
	return entry, nil
}

// RecordCreditSale appends a pending receivable debit for a sale on credit.
func (s *Service) RecordCreditSale(ctx context.Context, scope shared.Scope, input CreditSaleInput) (Entry, error) {
	if !input.Amount.IsPositive() {
		return Entry{}, fmt.Errorf("ledger: sale amount must be positive: %w", shared.ErrValidation)
	}
	return s.PostEntry(ctx, scope, PostInput{
		PartyKind:       PartyCustomer,
		PartyID:         input.CustomerID,
		Type:            EntrySale,
		Debit:           input.Amount,
		Reference:       shared.Reference{Kind: shared.ReferenceSale, ID: input.SaleID},
		TransactionDate: input.TransactionDate,
		DueDate:         input.DueDate,
		Status:          StatusPending,
		Note:            input.Note,
	})
}

// RecordCustomerPayment posts a receivable credit and settles pending sale
// entries oldest transaction first. An entry flips to completed only when
// the payment covers its full debit; a partially covered entry stays
// pending, with the shortfall carried by the balance rather than a flag.
func (s *Service) RecordCustomerPayment(ctx context.Context, scope shared.Scope, input PaymentInput) (Entry, error) {
	if err := scope.Validate(); err != nil {
		return Entry{}, err
	}
	if !input.Amount.IsPositive() {
		return Entry{}, fmt.Errorf("ledger: payment amount must be positive: %w", shared.ErrValidation)
	}

	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.PostEntryTx(ctx, tx, scope, PostInput{
			PartyKind:       PartyCustomer,
			PartyID:         input.PartyID,
			Type:            EntryPayment,
			Credit:          input.Amount,
			Reference:       input.Reference,
			TransactionDate: input.TransactionDate,
			Status:          StatusCompleted,
			Note:            noteWithMethod(input.Note, input.Method),
		})
		if err != nil {
			return err
		}
		return s.allocatePayment(ctx, tx, scope, input.PartyID, input.Amount)
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// allocatePayment walks the customer's pending sale entries in ascending
// transactionDate order, marking each completed while the remaining payment
// still covers its debit in full.
func (s *Service) allocatePayment(ctx context.Context, tx TxRepository, scope shared.Scope, customerID int64, amount decimal.Decimal) error {
	pending, err := tx.ListPendingSaleEntriesForUpdate(ctx, scope.OrgID, customerID)
	if err != nil {
		return err
	}
	remaining := amount
	for _, entry := range pending {
		if remaining.LessThan(entry.Debit) {
			break
		}
		if err := tx.UpdateEntryStatus(ctx, entry.ID, StatusCompleted); err != nil {
			return err
		}
		remaining = remaining.Sub(entry.Debit)
	}
	return nil
}

// RecordSupplierPayment posts a payable credit for money paid out.
func (s *Service) RecordSupplierPayment(ctx context.Context, scope shared.Scope, input PaymentInput) (Entry, error) {
	if !input.Amount.IsPositive() {
		return Entry{}, fmt.Errorf("ledger: payment amount must be positive: %w", shared.ErrValidation)
	}
	return s.PostEntry(ctx, scope, PostInput{
		PartyKind:       PartySupplier,
		PartyID:         input.PartyID,
		Type:            EntryPayment,
		Credit:          input.Amount,
		Reference:       input.Reference,
		TransactionDate: input.TransactionDate,
		Note:            noteWithMethod(input.Note, input.Method),
	})
}

// RecordSupplierReturn posts a payable credit for goods sent back.
func (s *Service) RecordSupplierReturn(ctx context.Context, scope shared.Scope, input ReturnInput) (Entry, error) {
	if !input.Amount.IsPositive() {
		return Entry{}, fmt.Errorf("ledger: return amount must be positive: %w", shared.ErrValidation)
	}
	return s.PostEntry(ctx, scope, PostInput{
		PartyKind:       PartySupplier,
		PartyID:         input.SupplierID,
		Type:            EntryReturn,
		Credit:          input.Amount,
		Reference:       input.Reference,
		TransactionDate: input.TransactionDate,
		Note:            input.Note,
	})
}

// CurrentBalance is the balanceAfter of the party's most recently inserted
// entry; a party with no entries owes nothing. The stored master balance is
// cross-checked and a divergence is logged, not repaired: the reconciliation
// job owns detection, a human owns the fix.
func (s *Service) CurrentBalance(ctx context.Context, scope shared.Scope, kind PartyKind, partyID int64) (decimal.Decimal, error) {
	entry, err := s.repo.LatestEntry(ctx, scope.OrgID, kind, partyID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	master, err := s.repo.MasterBalance(ctx, scope.OrgID, kind, partyID)
	if err == nil && !master.Equal(entry.BalanceAfter) {
		s.logger.Warn("ledger balance diverged from entry chain",
			"party_kind", kind, "party_id", partyID,
			"master", master.String(), "chain", entry.BalanceAfter.String())
	}
	return entry.BalanceAfter, nil
}

// ListEntries returns entries for a party, newest first.
func (s *Service) ListEntries(ctx context.Context, scope shared.Scope, filter EntryFilter) ([]Entry, error) {
	return s.repo.ListEntries(ctx, scope.OrgID, filter)
}

func noteWithMethod(note, method string) string {
	if method == "" {
		return note
	}
	if note == "" {
		return "via " + method
	}
	return note + " (via " + method + ")"
}
