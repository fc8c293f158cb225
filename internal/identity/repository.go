package identity

import "context"

// RepositoryPort defines data access methods for accounts.
type RepositoryPort interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
}
