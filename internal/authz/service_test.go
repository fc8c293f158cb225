package authz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	roles    map[string][]RoleCode
	lookups  int
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{roles: make(map[string][]RoleCode)}
}

func grantKey(userID int64, processusID uuid.UUID) string {
	return fmt.Sprintf("%d|%s", userID, processusID)
}

func (s *fakeStore) grant(userID int64, processusID uuid.UUID, role RoleCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := grantKey(userID, processusID)
	s.roles[k] = append(s.roles[k], role)
}

func (s *fakeStore) Assign(ctx context.Context, a Assignment) error {
	s.grant(a.UserID, a.ProcessusID, a.Role)
	return nil
}

func (s *fakeStore) Revoke(ctx context.Context, userID int64, processusID uuid.UUID, role RoleCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := grantKey(userID, processusID)
	var kept []RoleCode
	for _, r := range s.roles[k] {
		if r != role {
			kept = append(kept, r)
		}
	}
	s.roles[k] = kept
	return nil
}

func (s *fakeStore) RolesFor(ctx context.Context, userID int64, processusID uuid.UUID) ([]RoleCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.failWith != nil {
		return nil, s.failWith
	}
	return s.roles[grantKey(userID, processusID)], nil
}

func (s *fakeStore) AssignmentsFor(ctx context.Context, userID int64) ([]Assignment, error) {
	return nil, nil
}

func (s *fakeStore) ProcessusScopeFor(ctx context.Context, userID int64) ([]uuid.UUID, error) {
	return nil, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []DecisionEntry
}

func (r *fakeRecorder) RecordDecision(ctx context.Context, entry DecisionEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *fakeRecorder) last(t *testing.T) DecisionEntry {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.entries)
	return r.entries[len(r.entries)-1]
}

func testGrants() []Grant {
	return []Grant{
		{Module: ModuleRiskMap, Action: "view", Roles: []RoleCode{RoleViewer, RoleEditor, RoleAdmin}},
		{Module: ModuleRiskMap, Action: "validate", Roles: []RoleCode{RoleValidator, RoleAdmin}},
	}
}

func newTestService(t *testing.T, store AssignmentStore, opts ...func(*ServiceParams)) *Service {
	t.Helper()
	capabilities, err := NewCapabilityTable(testGrants())
	require.NoError(t, err)
	params := ServiceParams{Store: store, Capabilities: capabilities}
	for _, opt := range opts {
		opt(&params)
	}
	return NewService(params)
}

func newTestCache(t *testing.T, ttl time.Duration) (*DecisionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewDecisionCache(client, ttl), mr
}

func TestSuperAdminBypassesEverything(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	admin := User{ID: 1, IsStaff: true, IsSuperuser: true}

	// No processus, no configured action, no assignment: still allowed.
	d := svc.CanPerform(context.Background(), admin, ModuleRiskMap, uuid.Nil, "anything", nil)
	require.True(t, d.Allowed)
	require.Equal(t, ReasonSuperAdmin, d.Reason)
}

func TestStaffAloneIsNotSuperAdmin(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	d := svc.CanPerform(context.Background(), User{ID: 2, IsStaff: true}, ModuleRiskMap, uuid.New(), "view", nil)
	require.False(t, d.Allowed)
	require.Equal(t, ReasonInsufficientRole, d.Reason)
}

func TestUnresolvedProcessusDenies(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	d := svc.CanPerform(context.Background(), User{ID: 3}, ModuleRiskMap, uuid.Nil, "view", nil)
	require.False(t, d.Allowed)
	require.Equal(t, ReasonProcessusUnresolved, d.Reason)
}

func TestUnconfiguredActionDenies(t *testing.T) {
	store := newFakeStore()
	processusID := uuid.New()
	store.grant(4, processusID, RoleAdmin)
	svc := newTestService(t, store)

	d := svc.CanPerform(context.Background(), User{ID: 4}, ModuleRiskMap, processusID, "no-such-action", nil)
	require.False(t, d.Allowed)
	require.Equal(t, ReasonActionNotConfigured, d.Reason)
}

func TestRoleCheckAgainstAssignments(t *testing.T) {
	store := newFakeStore()
	processusID := uuid.New()
	store.grant(5, processusID, RoleViewer)
	svc := newTestService(t, store)
	ctx := context.Background()
	user := User{ID: 5}

	require.True(t, svc.CanPerform(ctx, user, ModuleRiskMap, processusID, "view", nil).Allowed)

	d := svc.CanPerform(ctx, user, ModuleRiskMap, processusID, "validate", nil)
	require.False(t, d.Allowed)
	require.Equal(t, ReasonInsufficientRole, d.Reason)

	// The same role on another processus grants nothing here.
	d = svc.CanPerform(ctx, user, ModuleRiskMap, uuid.New(), "view", nil)
	require.False(t, d.Allowed)
}

func TestLookupFailureDeniesClosed(t *testing.T) {
	store := newFakeStore()
	store.failWith = errors.New("connection refused")
	svc := newTestService(t, store)

	d := svc.CanPerform(context.Background(), User{ID: 6}, ModuleRiskMap, uuid.New(), "view", nil)
	require.False(t, d.Allowed)
	require.Equal(t, ReasonLookupFailed, d.Reason)
}

func TestPredicatesRunOnlyAfterStaticAllow(t *testing.T) {
	store := newFakeStore()
	processusID := uuid.New()
	store.grant(7, processusID, RoleValidator)
	predicateCalls := 0

	capabilities, err := NewCapabilityTable(testGrants())
	require.NoError(t, err)
	predicates := NewPredicateRegistry()
	predicates.Register(ModuleRiskMap, "validate", func(ctx context.Context, in CheckInput) Decision {
		predicateCalls++
		return MustNotBeValidated(ctx, in)
	})
	svc := NewService(ServiceParams{Store: store, Capabilities: capabilities, Predicates: predicates})
	ctx := context.Background()

	record := &RecordView{ID: uuid.New(), ProcessusID: processusID, IsValidated: true}
	d := svc.CanPerform(ctx, User{ID: 7}, ModuleRiskMap, processusID, "validate", record)
	require.False(t, d.Allowed)
	require.Equal(t, "record already validated", d.Reason)
	require.Equal(t, 1, predicateCalls)

	// A static deny never reaches the predicate layer.
	d = svc.CanPerform(ctx, User{ID: 8}, ModuleRiskMap, processusID, "validate", record)
	require.False(t, d.Allowed)
	require.Equal(t, ReasonInsufficientRole, d.Reason)
	require.Equal(t, 1, predicateCalls)

	// Without a record the predicate layer passes through.
	record.IsValidated = false
	d = svc.CanPerform(ctx, User{ID: 7}, ModuleRiskMap, processusID, "validate", record)
	require.True(t, d.Allowed)
}

func TestDecisionCacheAvoidsRepeatLookups(t *testing.T) {
	store := newFakeStore()
	processusID := uuid.New()
	store.grant(9, processusID, RoleViewer)
	cache, mr := newTestCache(t, 5*time.Second)
	svc := newTestService(t, store, func(p *ServiceParams) { p.Cache = cache })
	ctx := context.Background()
	user := User{ID: 9}

	require.True(t, svc.CanPerform(ctx, user, ModuleRiskMap, processusID, "view", nil).Allowed)
	require.True(t, svc.CanPerform(ctx, user, ModuleRiskMap, processusID, "view", nil).Allowed)
	require.Equal(t, 1, store.lookups)

	// TTL expiry forces a recompute.
	mr.FastForward(6 * time.Second)
	require.True(t, svc.CanPerform(ctx, user, ModuleRiskMap, processusID, "view", nil).Allowed)
	require.Equal(t, 2, store.lookups)
}

func TestAssignInvalidatesCachedDenials(t *testing.T) {
	store := newFakeStore()
	processusID := uuid.New()
	cache, _ := newTestCache(t, time.Minute)
	svc := newTestService(t, store, func(p *ServiceParams) { p.Cache = cache })
	ctx := context.Background()
	user := User{ID: 10}

	// Warm the cache with a denial.
	require.False(t, svc.CanPerform(ctx, user, ModuleRiskMap, processusID, "view", nil).Allowed)

	require.NoError(t, svc.Assign(ctx, Assignment{UserID: user.ID, ProcessusID: processusID, Role: RoleViewer}))
	require.True(t, svc.CanPerform(ctx, user, ModuleRiskMap, processusID, "view", nil).Allowed)

	require.NoError(t, svc.Revoke(ctx, user.ID, processusID, RoleViewer))
	require.False(t, svc.CanPerform(ctx, user, ModuleRiskMap, processusID, "view", nil).Allowed)
}

func TestCanPerformRefResolvesProcessus(t *testing.T) {
	store := newFakeStore()
	processusID := uuid.New()
	recordID := uuid.New()
	store.grant(11, processusID, RoleViewer)

	capabilities, err := NewCapabilityTable(testGrants())
	require.NoError(t, err)
	resolvers := NewResolverTable()
	resolvers.Register(ModuleRiskMap, "view", func(ctx context.Context, ref uuid.UUID) (uuid.UUID, error) {
		if ref == recordID {
			return processusID, nil
		}
		return uuid.Nil, errors.New("unknown record")
	})
	svc := NewService(ServiceParams{Store: store, Capabilities: capabilities, Resolvers: resolvers})
	ctx := context.Background()

	require.True(t, svc.CanPerformRef(ctx, User{ID: 11}, ModuleRiskMap, "view", recordID, nil).Allowed)

	// Resolution failure is a deny, not an error.
	d := svc.CanPerformRef(ctx, User{ID: 11}, ModuleRiskMap, "view", uuid.New(), nil)
	require.False(t, d.Allowed)
	require.Equal(t, ReasonProcessusUnresolved, d.Reason)

	// No resolver registered for the action: same deny.
	d = svc.CanPerformRef(ctx, User{ID: 11}, ModuleRiskMap, "validate", recordID, nil)
	require.False(t, d.Allowed)
	require.Equal(t, ReasonProcessusUnresolved, d.Reason)
}

func TestEveryDecisionIsRecorded(t *testing.T) {
	store := newFakeStore()
	processusID := uuid.New()
	store.grant(12, processusID, RoleViewer)
	recorder := &fakeRecorder{}
	svc := newTestService(t, store, func(p *ServiceParams) { p.Recorder = recorder })
	ctx := context.Background()

	svc.CanPerform(ctx, User{ID: 12}, ModuleRiskMap, processusID, "view", nil)
	entry := recorder.last(t)
	require.True(t, entry.Allowed)
	require.Equal(t, int64(12), entry.UserID)
	require.Equal(t, ModuleRiskMap, entry.Module)

	svc.CanPerform(ctx, User{ID: 12}, ModuleRiskMap, processusID, "validate", nil)
	entry = recorder.last(t)
	require.False(t, entry.Allowed)
	require.Equal(t, ReasonInsufficientRole, entry.Reason)
}

func TestPermissionsForOutlinesModule(t *testing.T) {
	store := newFakeStore()
	processusID := uuid.New()
	store.grant(13, processusID, RoleViewer)
	svc := newTestService(t, store)

	perms := svc.PermissionsFor(context.Background(), User{ID: 13}, ModuleRiskMap, processusID)
	require.Equal(t, map[ActionCode]bool{"view": true, "validate": false}, perms)
}

func TestScopeFor(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	scope, err := svc.ScopeFor(context.Background(), User{ID: 1, IsStaff: true, IsSuperuser: true})
	require.NoError(t, err)
	require.True(t, scope.All)

	scope, err = svc.ScopeFor(context.Background(), User{ID: 14})
	require.NoError(t, err)
	require.False(t, scope.All)
	require.Empty(t, scope.Processus)
}
