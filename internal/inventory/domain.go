package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gerai-pos/gerai/internal/shared"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	MovementPurchase   MovementType = "purchase"
	MovementSale       MovementType = "sale"
	MovementAdjustment MovementType = "adjustment"
	MovementTransfer   MovementType = "transfer"
	MovementDamage     MovementType = "damage"
	MovementReturn     MovementType = "return"
)

// Valid reports whether the movement type is known.
func (t MovementType) Valid() bool {
	switch t {
	case MovementPurchase, MovementSale, MovementAdjustment, MovementTransfer, MovementDamage, MovementReturn:
		return true
	}
	return false
}

// StockLevel is the per-variant-per-store stock ledger row. It is created
// lazily on first movement and mutated only by the adjustment service.
type StockLevel struct {
	ID               int64
	OrgID            int64
	VariantID        int64
	StoreID          int64
	Quantity         int64
	ReservedQuantity int64
	ReorderLevel     int64
	LastMovementAt   time.Time
	UpdatedAt        time.Time
}

// Available is the quantity not held by reservations. Never negative:
// reserved is kept <= quantity by the adjustment service.
func (l StockLevel) Available() int64 {
	return l.Quantity - l.ReservedQuantity
}

// Movement is the immutable audit record of one quantity change. Quantity is
// the signed delta the caller requested; FromQuantity/ToQuantity are the
// ledger values actually observed, so a clamped decrease is visible as
// To != From+Quantity.
type Movement struct {
	ID           int64
	OrgID        int64
	VariantID    int64
	StoreID      int64
	BatchID      *int64
	Type         MovementType
	Quantity     int64
	FromQuantity int64
	ToQuantity   int64
	Reference    shared.Reference
	UnitCost     decimal.Decimal
	ActorID      int64
	Note         string
	CreatedAt    time.Time
}

// Batch is a physical lot received from one purchase line (or a manual
// entry). quantityReceived is immutable once set; only the consumption
// counters move afterwards.
type Batch struct {
	ID                int64
	OrgID             int64
	VariantID         int64
	StoreID           int64
	Number            string
	PurchaseID        *int64
	SupplierID        *int64
	PurchaseDate      time.Time
	ExpiryDate        *time.Time
	UnitCost          decimal.Decimal
	QuantityReceived  int64
	QuantityRemaining int64
	QuantitySold      int64
	QuantityDamaged   int64
	QuantityReturned  int64
	CreatedAt         time.Time
}

// ConsumeKind names how batch stock leaves the lot.
type ConsumeKind string

const (
	ConsumeSold     ConsumeKind = "sold"
	ConsumeDamaged  ConsumeKind = "damaged"
	ConsumeReturned ConsumeKind = "returned"
)

// MovementType maps the consumption onto the movement log vocabulary.
func (k ConsumeKind) MovementType() (MovementType, error) {
	switch k {
	case ConsumeSold:
		return MovementSale, nil
	case ConsumeDamaged:
		return MovementDamage, nil
	case ConsumeReturned:
		return MovementReturn, nil
	}
	return "", fmt.Errorf("inventory: unknown consume kind %q: %w", k, shared.ErrValidation)
}

// AdjustInput describes one quantity change routed through the adjustment
// service.
type AdjustInput struct {
	VariantID      int64
	StoreID        int64
	Quantity       int64 // signed, non-zero
	Type           MovementType
	Reference      shared.Reference
	UnitCost       decimal.Decimal
	BatchID        *int64
	Note           string
	IdempotencyKey string
}

// TransferInput moves stock between two stores of the same organization.
type TransferInput struct {
	VariantID  int64
	SrcStoreID int64
	DstStoreID int64
	Quantity   int64 // positive
	UnitCost   decimal.Decimal
	Reference  shared.Reference
	Note       string
}

// ReserveInput holds back part of the available quantity, e.g. for an order
// awaiting payment.
type ReserveInput struct {
	VariantID int64
	StoreID   int64
	Quantity  int64 // positive
}

// BatchInput describes a lot to register.
type BatchInput struct {
	VariantID    int64
	StoreID      int64
	PurchaseID   *int64
	SupplierID   *int64
	PurchaseDate time.Time
	ExpiryDate   *time.Time
	UnitCost     decimal.Decimal
	Quantity     int64 // positive
}

// ConsumeInput reports consumption out of a specific batch.
type ConsumeInput struct {
	BatchID   int64
	Quantity  int64 // positive
	Kind      ConsumeKind
	Reference shared.Reference
	Note      string
}

// MovementFilter filters the movement log.
type MovementFilter struct {
	VariantID int64
	StoreID   int64
	Limit     int
}

var (
	// ErrInvalidQuantity indicates a zero or wrongly-signed quantity.
	ErrInvalidQuantity = fmt.Errorf("inventory: invalid quantity: %w", shared.ErrValidation)
	// ErrInsufficientAvailable occurs when a reservation exceeds the
	// unreserved quantity.
	ErrInsufficientAvailable = fmt.Errorf("inventory: reserve exceeds available quantity: %w", shared.ErrInvalidTransition)
)
