package authz

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// DecisionRecorder receives one entry per permission evaluation. The audit
// module implements it; failures there must never block a decision.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, entry DecisionEntry)
}

// DecisionEntry describes one evaluated permission check.
type DecisionEntry struct {
	UserID      int64
	Module      Module
	Action      ActionCode
	ProcessusID uuid.UUID
	RecordID    uuid.UUID
	Allowed     bool
	Reason      string
	CacheHit    bool
	Elapsed     time.Duration
	At          time.Time
}

// DecisionMetrics counts decisions by outcome.
type DecisionMetrics interface {
	ObserveDecision(module, action string, allowed bool)
}

// Service is the permission decision engine. It holds no per-call mutable
// state; the capability table, predicate registry and resolver table are
// read-only after boot, so one Service is shared by all requests.
type Service struct {
	store        AssignmentStore
	capabilities *CapabilityTable
	predicates   *PredicateRegistry
	resolvers    *ResolverTable
	cache        *DecisionCache
	recorder     DecisionRecorder
	metrics      DecisionMetrics
	logger       *slog.Logger
	group        singleflight.Group
	now          func() time.Time
}

// ServiceParams groups the service dependencies. Cache, Recorder and Metrics
// are optional; Store, Capabilities and Logger are not.
type ServiceParams struct {
	Store        AssignmentStore
	Capabilities *CapabilityTable
	Predicates   *PredicateRegistry
	Resolvers    *ResolverTable
	Cache        *DecisionCache
	Recorder     DecisionRecorder
	Metrics      DecisionMetrics
	Logger       *slog.Logger
	Now          func() time.Time
}

// NewService constructs the permission service.
func NewService(params ServiceParams) *Service {
	if params.Predicates == nil {
		params.Predicates = NewPredicateRegistry()
	}
	if params.Resolvers == nil {
		params.Resolvers = NewResolverTable()
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Service{
		store:        params.Store,
		capabilities: params.Capabilities,
		predicates:   params.Predicates,
		resolvers:    params.Resolvers,
		cache:        params.Cache,
		recorder:     params.Recorder,
		metrics:      params.Metrics,
		logger:       params.Logger,
		now:          params.Now,
	}
}

// CanPerform decides whether user may perform action on the module within
// the given processus, optionally inspecting a specific record. The check
// order is fixed: super-admin bypass, processus resolution, static role
// check, contextual predicates. No path ever defaults to allow on error.
func (s *Service) CanPerform(ctx context.Context, user User, module Module, processusID uuid.UUID, action ActionCode, record *RecordView) Decision {
	start := s.now()
	cacheHit := false

	decision := func() Decision {
		if user.IsSuperAdmin() {
			return Allow(ReasonSuperAdmin)
		}
		if processusID == uuid.Nil {
			return Deny(ReasonProcessusUnresolved)
		}

		static, hit := s.staticDecision(ctx, user, module, processusID, action)
		cacheHit = hit
		if !static.Allowed {
			return static
		}

		return s.predicates.Evaluate(ctx, CheckInput{
			User:        user,
			Module:      module,
			Action:      action,
			ProcessusID: processusID,
			Record:      record,
		})
	}()

	s.observe(ctx, user, module, processusID, action, record, decision, cacheHit, s.now().Sub(start))
	return decision
}

// CanPerformRef resolves the processus from an entity reference via the
// resolver table, then decides. Resolution failure is a deny, not an error.
func (s *Service) CanPerformRef(ctx context.Context, user User, module Module, action ActionCode, ref uuid.UUID, record *RecordView) Decision {
	if user.IsSuperAdmin() {
		// Skip resolution entirely; the bypass must stay the cheapest path.
		return s.CanPerform(ctx, user, module, uuid.Nil, action, record)
	}
	processusID, err := s.resolvers.Resolve(ctx, module, action, ref)
	if err != nil || processusID == uuid.Nil {
		if err != nil {
			s.logger.Warn("authz: processus resolution failed",
				slog.String("module", string(module)),
				slog.String("action", string(action)),
				slog.Any("error", err))
		}
		d := Deny(ReasonProcessusUnresolved)
		s.observe(ctx, user, module, uuid.Nil, action, record, d, false, 0)
		return d
	}
	return s.CanPerform(ctx, user, module, processusID, action, record)
}

// staticDecision evaluates the capability table and role assignments,
// consulting the decision cache. Identical concurrent computations are
// collapsed through singleflight.
func (s *Service) staticDecision(ctx context.Context, user User, module Module, processusID uuid.UUID, action ActionCode) (Decision, bool) {
	if d, ok := s.cache.Get(ctx, user.ID, module, processusID, action); ok {
		return d, true
	}

	key := fmt.Sprintf("%d|%s|%s|%s", user.ID, module, processusID, action)
	v, err, _ := s.group.Do(key, func() (any, error) {
		d := s.computeStatic(ctx, user, module, processusID, action)
		s.cache.Set(ctx, user.ID, module, processusID, action, d)
		return d, nil
	})
	if err != nil {
		// computeStatic never returns an error; keep the deny anyway.
		return Deny(ReasonLookupFailed), false
	}
	return v.(Decision), false
}

func (s *Service) computeStatic(ctx context.Context, user User, module Module, processusID uuid.UUID, action ActionCode) Decision {
	required, ok := s.capabilities.Lookup(module, action)
	if !ok {
		s.logger.Warn("authz: action not configured",
			slog.String("module", string(module)),
			slog.String("action", string(action)))
		return Deny(ReasonActionNotConfigured)
	}

	have, err := s.store.RolesFor(ctx, user.ID, processusID)
	if err != nil {
		s.logger.Error("authz: roles lookup failed",
			slog.Int64("user", user.ID),
			slog.String("processus", processusID.String()),
			slog.Any("error", err))
		return Deny(ReasonLookupFailed)
	}
	for _, role := range have {
		if _, ok := required[role]; ok {
			return Allow(ReasonRoleAllowed)
		}
	}
	return Deny(ReasonInsufficientRole)
}

// ScopeFor returns the processus scope visible to the user. Super-admins see
// everything; everyone else sees exactly the processus they hold a role on.
func (s *Service) ScopeFor(ctx context.Context, user User) (Scope, error) {
	if user.IsSuperAdmin() {
		return Scope{All: true}, nil
	}
	ids, err := s.store.ProcessusScopeFor(ctx, user.ID)
	if err != nil {
		return Scope{}, err
	}
	return Scope{Processus: ids}, nil
}

// PermissionsFor returns the static grant outcome for every configured
// action of a module, for introspection endpoints.
func (s *Service) PermissionsFor(ctx context.Context, user User, module Module, processusID uuid.UUID) map[ActionCode]bool {
	result := make(map[ActionCode]bool)
	for _, action := range s.capabilities.Actions(module) {
		d := s.CanPerform(ctx, user, module, processusID, action, nil)
		result[action] = d.Allowed
	}
	return result
}

// Assign grants a process-scoped role and invalidates the grantee's cached
// decisions.
func (s *Service) Assign(ctx context.Context, a Assignment) error {
	if err := s.store.Assign(ctx, a); err != nil {
		return err
	}
	s.dropCached(ctx, a.UserID)
	return nil
}

// Revoke removes a grant and invalidates the cached decisions.
func (s *Service) Revoke(ctx context.Context, userID int64, processusID uuid.UUID, role RoleCode) error {
	if err := s.store.Revoke(ctx, userID, processusID, role); err != nil {
		return err
	}
	s.dropCached(ctx, userID)
	return nil
}

// AssignmentsFor lists the user's active assignments.
func (s *Service) AssignmentsFor(ctx context.Context, userID int64) ([]Assignment, error) {
	return s.store.AssignmentsFor(ctx, userID)
}

func (s *Service) dropCached(ctx context.Context, userID int64) {
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		s.logger.Warn("authz: cache invalidation failed",
			slog.Int64("user", userID),
			slog.Any("error", err))
	}
}

func (s *Service) observe(ctx context.Context, user User, module Module, processusID uuid.UUID, action ActionCode, record *RecordView, d Decision, cacheHit bool, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveDecision(string(module), string(action), d.Allowed)
	}
	if s.recorder == nil {
		return
	}
	entry := DecisionEntry{
		UserID:      user.ID,
		Module:      module,
		Action:      action,
		ProcessusID: processusID,
		Allowed:     d.Allowed,
		Reason:      d.Reason,
		CacheHit:    cacheHit,
		Elapsed:     elapsed,
		At:          s.now(),
	}
	if record != nil {
		entry.RecordID = record.ID
	}
	s.recorder.RecordDecision(ctx, entry)
}
