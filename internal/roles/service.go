package roles

import "context"

// Service handles role catalog lookups.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// ActiveCodes returns the codes currently assignable.
func (s *Service) ActiveCodes(ctx context.Context) (map[string]struct{}, error) {
	all, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	codes := make(map[string]struct{}, len(all))
	for _, role := range all {
		if role.IsActive {
			codes[string(role.Code)] = struct{}{}
		}
	}
	return codes, nil
}
