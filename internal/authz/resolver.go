package authz

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ResolverFunc derives the processus a referenced entity belongs to. Module
// adapters register one per action whose inbound reference is not a processus
// itself (e.g. "create amendment" arrives with a record id).
type ResolverFunc func(ctx context.Context, ref uuid.UUID) (uuid.UUID, error)

// ResolverTable maps (module, action) to the extraction function used to
// anchor the permission check. A declarative table replaces per-action
// resolver subclassing and keeps each extraction rule independently testable.
type ResolverTable struct {
	entries map[capKey]ResolverFunc
}

// NewResolverTable returns an empty table.
func NewResolverTable() *ResolverTable {
	return &ResolverTable{entries: make(map[capKey]ResolverFunc)}
}

// Register installs the resolver for (module, action). Re-registering is a
// programming error and panics at boot rather than silently overriding.
func (t *ResolverTable) Register(module Module, action ActionCode, fn ResolverFunc) {
	key := capKey{module: module, action: action}
	if _, exists := t.entries[key]; exists {
		panic(fmt.Sprintf("authz: resolver already registered for %s/%s", module, action))
	}
	t.entries[key] = fn
}

// Resolve derives the processus for (module, action, ref). A missing resolver
// or a failing lookup yields uuid.Nil, which the permission service treats as
// an unresolved processus and denies.
func (t *ResolverTable) Resolve(ctx context.Context, module Module, action ActionCode, ref uuid.UUID) (uuid.UUID, error) {
	if t == nil {
		return uuid.Nil, fmt.Errorf("authz: no resolver table")
	}
	fn, ok := t.entries[capKey{module: module, action: action}]
	if !ok {
		return uuid.Nil, fmt.Errorf("authz: no resolver for %s/%s", module, action)
	}
	return fn(ctx, ref)
}
