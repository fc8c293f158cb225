package identity

import (
	"context"
	"errors"

	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

// Service handles account lookups for the rest of the platform.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Resolve returns the account behind a session identifier. Inactive accounts
// resolve to not-found so a disabled user loses access immediately.
func (s *Service) Resolve(ctx context.Context, id int64) (*User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, httpx.ErrNotFound
	}
	return user, nil
}

// ListUsers returns all accounts.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// FindByEmail returns the account registered under email.
func (s *Service) FindByEmail(ctx context.Context, email string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return nil, httpx.ErrNotFound
		}
		return nil, err
	}
	return user, nil
}
