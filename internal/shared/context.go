package shared

import (
	"context"
	"fmt"
)

// Scope identifies the tenant and actor on whose behalf an operation runs.
// It is passed explicitly through every service call; there is no ambient
// "current organization" state anywhere in the core.
type Scope struct {
	OrgID   int64
	StoreID int64
	ActorID int64
}

// Validate checks the minimum fields a mutating operation needs.
func (s Scope) Validate() error {
	if s.OrgID == 0 {
		return fmt.Errorf("%w: organization required", ErrValidation)
	}
	return nil
}

type scopeContextKey struct{}

// ContextWithScope stores the request scope in context. Handlers put it
// there; services still receive Scope as an explicit parameter.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the scope from context.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey{}).(Scope)
	return scope, ok
}
