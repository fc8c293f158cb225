// Package roles exposes the catalog of assignable role codes.
package roles

import (
	"time"

	"github.com/meridian-compliance/meridian/internal/authz"
)

// Role represents one assignable role.
type Role struct {
	Code        authz.RoleCode
	Name        string
	Description string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
