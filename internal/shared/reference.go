package shared

import "fmt"

// ReferenceKind enumerates the document types a movement or ledger entry can
// point back to. Readers resolve the id against the matching table; there are
// no free-form type strings.
type ReferenceKind string

const (
	ReferenceSale       ReferenceKind = "sale"
	ReferencePurchase   ReferenceKind = "purchase"
	ReferenceTransfer   ReferenceKind = "transfer"
	ReferenceAdjustment ReferenceKind = "adjustment"
	ReferenceReturn     ReferenceKind = "return"
)

// Reference links a row to the document that caused it. The zero value means
// "no reference" and is valid for manual adjustments.
type Reference struct {
	Kind ReferenceKind
	ID   int64
}

// IsZero reports whether the reference is absent.
func (r Reference) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

// Validate rejects half-filled references.
func (r Reference) Validate() error {
	if r.IsZero() {
		return nil
	}
	switch r.Kind {
	case ReferenceSale, ReferencePurchase, ReferenceTransfer, ReferenceAdjustment, ReferenceReturn:
	default:
		return fmt.Errorf("%w: unknown reference kind %q", ErrValidation, r.Kind)
	}
	if r.ID == 0 {
		return fmt.Errorf("%w: reference id required", ErrValidation)
	}
	return nil
}

func (r Reference) String() string {
	if r.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}
