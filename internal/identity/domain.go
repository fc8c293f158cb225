// Package identity resolves the authenticated account behind each request
// and exposes the directory of platform accounts. Credentials live in the
// upstream SSO; this module only consumes established sessions.
package identity

import (
	"time"

	"github.com/meridian-compliance/meridian/internal/authz"
)

// User represents a platform account.
type User struct {
	ID          int64
	Email       string
	Name        string
	IsStaff     bool
	IsSuperuser bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Authz projects the account into the shape the permission engine consumes.
func (u User) Authz() authz.User {
	return authz.User{ID: u.ID, IsStaff: u.IsStaff, IsSuperuser: u.IsSuperuser}
}
