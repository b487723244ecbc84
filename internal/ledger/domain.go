package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gerai-pos/gerai/internal/shared"
)

// PartyKind selects which ledger an entry belongs to.
type PartyKind string

const (
	PartyCustomer PartyKind = "customer"
	PartySupplier PartyKind = "supplier"
)

// Valid reports whether the party kind is known.
func (k PartyKind) Valid() bool {
	return k == PartyCustomer || k == PartySupplier
}

// EntryType enumerates ledger entry types. The receivable ledger uses
// sale/payment/credit_note/opening_balance/adjustment, the payable ledger
// purchase/payment/return.
type EntryType string

const (
	EntrySale           EntryType = "sale"
	EntryPayment        EntryType = "payment"
	EntryCreditNote     EntryType = "credit_note"
	EntryOpeningBalance EntryType = "opening_balance"
	EntryAdjustment     EntryType = "adjustment"
	EntryPurchase       EntryType = "purchase"
	EntryReturn         EntryType = "return"
)

// EntryStatus tracks settlement of receivable entries. Payable entries carry
// no status.
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusCompleted EntryStatus = "completed"
	StatusOverdue   EntryStatus = "overdue"
	StatusCancelled EntryStatus = "cancelled"
)

// Entry is one append-only running-balance row. BalanceAfter continues the
// party's chain in insertion order; reversal is a new entry, never an edit.
type Entry struct {
	ID              int64
	OrgID           int64
	PartyKind       PartyKind
	PartyID         int64
	Type            EntryType
	Debit           decimal.Decimal
	Credit          decimal.Decimal
	BalanceAfter    decimal.Decimal
	Reference       shared.Reference
	TransactionDate time.Time
	DueDate         *time.Time
	Status          EntryStatus
	Note            string
	ActorID         int64
	CreatedAt       time.Time
}

// PostInput describes one entry to append.
type PostInput struct {
	PartyKind       PartyKind
	PartyID         int64
	Type            EntryType
	Debit           decimal.Decimal
	Credit          decimal.Decimal
	Reference       shared.Reference
	TransactionDate time.Time
	DueDate         *time.Time
	Status          EntryStatus
	Note            string
}

// CreditSaleInput records a sale on customer credit.
type CreditSaleInput struct {
	CustomerID      int64
	Amount          decimal.Decimal
	SaleID          int64
	TransactionDate time.Time
	DueDate         *time.Time
	Note            string
}

// PaymentInput records money received from a customer or paid to a supplier.
type PaymentInput struct {
	PartyID         int64
	Amount          decimal.Decimal
	Method          string
	Reference       shared.Reference
	TransactionDate time.Time
	Note            string
}

// ReturnInput records goods returned to a supplier, reducing the payable.
type ReturnInput struct {
	SupplierID      int64
	Amount          decimal.Decimal
	Reference       shared.Reference
	TransactionDate time.Time
	Note            string
}

// EntryFilter filters entry listings.
type EntryFilter struct {
	PartyKind PartyKind
	PartyID   int64
	Limit     int
}

// debitTypes and creditTypes pin each entry type to one side per ledger;
// adjustments may land on either side.
var debitTypes = map[PartyKind]map[EntryType]bool{
	PartyCustomer: {EntrySale: true, EntryOpeningBalance: true, EntryAdjustment: true},
	PartySupplier: {EntryPurchase: true, EntryAdjustment: true},
}

var creditTypes = map[PartyKind]map[EntryType]bool{
	PartyCustomer: {EntryPayment: true, EntryCreditNote: true, EntryAdjustment: true},
	PartySupplier: {EntryPayment: true, EntryReturn: true, EntryAdjustment: true},
}

func (in PostInput) validate() error {
	if !in.PartyKind.Valid() {
		return fmt.Errorf("ledger: unknown party kind %q: %w", in.PartyKind, shared.ErrValidation)
	}
	if in.PartyID == 0 {
		return fmt.Errorf("ledger: party required: %w", shared.ErrValidation)
	}
	debitSet := in.Debit.IsPositive()
	creditSet := in.Credit.IsPositive()
	if in.Debit.IsNegative() || in.Credit.IsNegative() {
		return fmt.Errorf("ledger: amounts must not be negative: %w", shared.ErrValidation)
	}
	if debitSet == creditSet {
		return fmt.Errorf("ledger: exactly one of debit or credit must be positive: %w", shared.ErrValidation)
	}
	if debitSet && !debitTypes[in.PartyKind][in.Type] {
		return fmt.Errorf("ledger: %s entry of type %q cannot be a debit: %w", in.PartyKind, in.Type, shared.ErrValidation)
	}
	if creditSet && !creditTypes[in.PartyKind][in.Type] {
		return fmt.Errorf("ledger: %s entry of type %q cannot be a credit: %w", in.PartyKind, in.Type, shared.ErrValidation)
	}
	if err := in.Reference.Validate(); err != nil {
		return err
	}
	if in.PartyKind == PartySupplier && in.Status != "" {
		return fmt.Errorf("ledger: payable entries carry no status: %w", shared.ErrValidation)
	}
	return nil
}
