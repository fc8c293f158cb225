// Package processus manages the registry of business processes every scoped
// permission and versioned record hangs off.
package processus

import (
	"time"

	"github.com/google/uuid"
)

// Processus is one business process.
type Processus struct {
	ID          uuid.UUID
	Numero      string
	Nom         string
	Description string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateInput carries the fields for a new processus. Numero is assigned by
// the service, never by the caller.
type CreateInput struct {
	Nom         string
	Description string
}

// UpdateInput carries the mutable fields.
type UpdateInput struct {
	Nom         string
	Description string
	IsActive    bool
}
