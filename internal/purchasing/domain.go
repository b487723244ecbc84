package purchasing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gerai-pos/gerai/internal/shared"
)

// Status tracks a purchase through its lifecycle.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusOrdered   Status = "ordered"
	StatusPartial   Status = "partial"
	StatusReceived  Status = "received"
	StatusCancelled Status = "cancelled"
)

// PaymentStatus tracks how much of the purchase total has been paid.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// Purchase is the header of one supplier order. SupplierID zero means a
// walk-in purchase with no supplier account; such purchases never touch the
// payable ledger.
type Purchase struct {
	ID            int64
	OrgID         int64
	StoreID       int64
	SupplierID    int64
	Number        string
	Status        Status
	PaymentStatus PaymentStatus
	Total         decimal.Decimal
	AmountPaid    decimal.Decimal
	Note          string
	ReceivedAt    *time.Time
	ReceivedBy    *int64
	CreatedBy     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Line is one ordered variant. QuantityReceived never exceeds
// QuantityOrdered.
type Line struct {
	ID               int64
	PurchaseID       int64
	VariantID        int64
	QuantityOrdered  int64
	QuantityReceived int64
	UnitCost         decimal.Decimal
	ExpiryDate       *time.Time
}

// Remaining is the quantity still outstanding on the line.
func (l Line) Remaining() int64 {
	return l.QuantityOrdered - l.QuantityReceived
}

// LineInput describes one line of a new purchase.
type LineInput struct {
	VariantID  int64
	Quantity   int64
	UnitCost   decimal.Decimal
	ExpiryDate *time.Time
}

// CreateInput describes a new purchase.
type CreateInput struct {
	StoreID       int64
	SupplierID    int64
	Lines         []LineInput
	PaymentStatus PaymentStatus
	Note          string
}

// ReceiveInput runs the receiving workflow. QuantityOverride caps how much
// is received per line id; absent lines receive their full remaining
// quantity.
type ReceiveInput struct {
	PurchaseID       int64
	QuantityOverride map[int64]int64
}

// PaymentInput records money paid against the purchase.
type PaymentInput struct {
	PurchaseID int64
	Amount     decimal.Decimal
	Method     string
	Note       string
}

// ListFilter filters purchase listings.
type ListFilter struct {
	Status Status
	Limit  int
}

func (in CreateInput) validate() error {
	if in.StoreID == 0 {
		return fmt.Errorf("purchasing: store required: %w", shared.ErrValidation)
	}
	if len(in.Lines) == 0 {
		return fmt.Errorf("purchasing: at least one line required: %w", shared.ErrValidation)
	}
	for _, line := range in.Lines {
		if line.VariantID == 0 {
			return fmt.Errorf("purchasing: line variant required: %w", shared.ErrValidation)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("purchasing: line quantity must be positive: %w", shared.ErrValidation)
		}
		if line.UnitCost.IsNegative() {
			return fmt.Errorf("purchasing: line unit cost must not be negative: %w", shared.ErrValidation)
		}
	}
	switch in.PaymentStatus {
	case "", PaymentUnpaid, PaymentPaid:
	default:
		return fmt.Errorf("purchasing: payment status %q not allowed at creation: %w", in.PaymentStatus, shared.ErrValidation)
	}
	return nil
}

// total sums quantity times unit cost across lines.
func (in CreateInput) total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range in.Lines {
		total = total.Add(line.UnitCost.Mul(decimal.NewFromInt(line.Quantity)))
	}
	return total
}
