// Package authz implements the process-scoped authorization engine. A
// decision combines three layers: a static capability table mapping
// (module, action) to required roles, the caller's active role assignments
// for one processus, and optional record-state predicates. Every ambiguous
// or failing path resolves to a deny.
package authz

import (
	"time"

	"github.com/google/uuid"
)

// Module identifies a business module registering actions with the engine.
type Module string

// Business modules known to the platform.
const (
	ModuleRiskMap          Module = "risk-map"
	ModuleCorrectivePlan   Module = "corrective-plan"
	ModuleScorecard        Module = "scorecard"
	ModulePeriodicActivity Module = "periodic-activity"
	ModuleAuthz            Module = "authz"
)

// ActionCode identifies one action within a module, e.g. "validate".
type ActionCode string

// ActionViewAudit guards the transition and decision timelines.
const ActionViewAudit ActionCode = "view-audit"

// RoleCode identifies a process-scoped role grant.
type RoleCode string

// Platform role codes.
const (
	RoleAdmin     RoleCode = "admin"
	RoleValidator RoleCode = "validator"
	RoleEditor    RoleCode = "editor"
	RoleViewer    RoleCode = "viewer"
)

// User is the engine's view of the authenticated actor. Identity is supplied
// upstream; the engine only authorizes.
type User struct {
	ID          int64
	IsStaff     bool
	IsSuperuser bool
}

// IsSuperAdmin reports whether the user bypasses all process-scoped checks.
// Both flags are required.
func (u User) IsSuperAdmin() bool {
	return u.IsStaff && u.IsSuperuser
}

// Decision is the outcome of a permission evaluation. Reason strings are
// safe to surface to the caller: they never reference data outside the
// caller's own processus scope.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow builds a granting decision.
func Allow(reason string) Decision {
	return Decision{Allowed: true, Reason: reason}
}

// Deny builds a refusing decision.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// DeniedError carries a refused decision across an error return.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return "permission denied: " + e.Reason
}

// Err returns nil for an allow and a *DeniedError for a deny, so services
// can thread refusals through ordinary error plumbing.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Reason: d.Reason}
}

// Engine deny reasons for the static evaluation steps.
const (
	ReasonSuperAdmin          = "super-admin"
	ReasonProcessusUnresolved = "processus unresolved"
	ReasonActionNotConfigured = "action not configured"
	ReasonInsufficientRole    = "insufficient role"
	ReasonLookupFailed        = "permission lookup failed"
	ReasonRoleAllowed         = "role allowed"
)

// Assignment grants one role to one user for one processus.
type Assignment struct {
	UserID      int64
	ProcessusID uuid.UUID
	Role        RoleCode
	GrantedBy   int64
	Active      bool
	GrantedAt   time.Time
}

// Scope describes which processus a user may see. All=true is reserved for
// super-admins and means "no processus filtering"; an empty Processus slice
// with All=false means zero access.
type Scope struct {
	All       bool
	Processus []uuid.UUID
}

// RecordView is the engine-facing read model of a versioned record. Module
// adapters project their own entities into this shape so predicates never
// touch domain-specific fields.
type RecordView struct {
	ID          uuid.UUID
	ProcessusID uuid.UUID
	Stage       int
	IsValidated bool
	CreatedBy   int64
	// HasPredecessor and PredecessorValidated describe the previous stage in
	// the amendment chain, when one exists.
	HasPredecessor       bool
	PredecessorValidated bool
	// HasSuccessor reports whether a later stage exists in the chain,
	// regardless of that stage's own validation state.
	HasSuccessor bool
}

type capKey struct {
	module Module
	action ActionCode
}
