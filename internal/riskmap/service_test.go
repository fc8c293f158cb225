package riskmap

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-compliance/meridian/internal/authz"
	"github.com/meridian-compliance/meridian/internal/lifecycle"
	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

type memoryAssignments struct {
	roles map[string][]authz.RoleCode
}

func newMemoryAssignments() *memoryAssignments {
	return &memoryAssignments{roles: make(map[string][]authz.RoleCode)}
}

func assignmentKey(userID int64, processusID uuid.UUID) string {
	return fmt.Sprintf("%d|%s", userID, processusID)
}

func (s *memoryAssignments) Assign(ctx context.Context, a authz.Assignment) error {
	key := assignmentKey(a.UserID, a.ProcessusID)
	s.roles[key] = append(s.roles[key], a.Role)
	return nil
}

func (s *memoryAssignments) Revoke(ctx context.Context, userID int64, processusID uuid.UUID, role authz.RoleCode) error {
	key := assignmentKey(userID, processusID)
	var kept []authz.RoleCode
	for _, r := range s.roles[key] {
		if r != role {
			kept = append(kept, r)
		}
	}
	s.roles[key] = kept
	return nil
}

func (s *memoryAssignments) RolesFor(ctx context.Context, userID int64, processusID uuid.UUID) ([]authz.RoleCode, error) {
	return s.roles[assignmentKey(userID, processusID)], nil
}

func (s *memoryAssignments) AssignmentsFor(ctx context.Context, userID int64) ([]authz.Assignment, error) {
	return nil, nil
}

func (s *memoryAssignments) ProcessusScopeFor(ctx context.Context, userID int64) ([]uuid.UUID, error) {
	return nil, nil
}

type memoryRiskRepo struct {
	titles  map[uuid.UUID]string
	details map[uuid.UUID][]DetailRow
}

func newMemoryRiskRepo() *memoryRiskRepo {
	return &memoryRiskRepo{
		titles:  make(map[uuid.UUID]string),
		details: make(map[uuid.UUID][]DetailRow),
	}
}

func (r *memoryRiskRepo) SetTitle(ctx context.Context, recordID uuid.UUID, title string) error {
	r.titles[recordID] = title
	return nil
}

func (r *memoryRiskRepo) Title(ctx context.Context, recordID uuid.UUID) (string, error) {
	return r.titles[recordID], nil
}

func (r *memoryRiskRepo) InsertDetail(ctx context.Context, d DetailRow) error {
	r.details[d.RecordID] = append(r.details[d.RecordID], d)
	return nil
}

func (r *memoryRiskRepo) UpdateDetail(ctx context.Context, d DetailRow) error {
	for i, existing := range r.details[d.RecordID] {
		if existing.ID == d.ID {
			d.Evaluations = existing.Evaluations
			d.ActionPlans = existing.ActionPlans
			r.details[d.RecordID][i] = d
			return nil
		}
	}
	return httpx.ErrNotFound
}

func (r *memoryRiskRepo) DeleteDetail(ctx context.Context, recordID, detailID uuid.UUID) error {
	rows := r.details[recordID]
	for i, d := range rows {
		if d.ID == detailID {
			r.details[recordID] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return httpx.ErrNotFound
}

func (r *memoryRiskRepo) GetDetail(ctx context.Context, recordID, detailID uuid.UUID) (*DetailRow, error) {
	for i := range r.details[recordID] {
		if r.details[recordID][i].ID == detailID {
			return &r.details[recordID][i], nil
		}
	}
	return nil, httpx.ErrNotFound
}

func (r *memoryRiskRepo) ListDetails(ctx context.Context, recordID uuid.UUID) ([]DetailRow, error) {
	return r.details[recordID], nil
}

func (r *memoryRiskRepo) InsertEvaluation(ctx context.Context, e Evaluation) error {
	for recordID, rows := range r.details {
		for i := range rows {
			if rows[i].ID == e.DetailID {
				r.details[recordID][i].Evaluations = append(r.details[recordID][i].Evaluations, e)
				return nil
			}
		}
	}
	return httpx.ErrNotFound
}

func (r *memoryRiskRepo) InsertActionPlan(ctx context.Context, p ActionPlan) error {
	for recordID, rows := range r.details {
		for i := range rows {
			if rows[i].ID == p.DetailID {
				r.details[recordID][i].ActionPlans = append(r.details[recordID][i].ActionPlans, p)
				return nil
			}
		}
	}
	return httpx.ErrNotFound
}

func (r *memoryRiskRepo) CloneInto(ctx context.Context, fromRecordID, toRecordID uuid.UUID) error {
	r.titles[toRecordID] = r.titles[fromRecordID]
	for _, d := range r.details[fromRecordID] {
		clone := d
		clone.ID = uuid.New()
		clone.RecordID = toRecordID
		r.details[toRecordID] = append(r.details[toRecordID], clone)
	}
	return nil
}

type fixture struct {
	service     *Service
	assignments *memoryAssignments
	processusID uuid.UUID
	editor      authz.User
	validator   authz.User
	admin       authz.User
	viewer      authz.User
	superAdmin  authz.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	capabilities, err := authz.NewCapabilityTable(Grants())
	require.NoError(t, err)
	predicates := authz.NewPredicateRegistry()
	RegisterPredicates(predicates)

	assignments := newMemoryAssignments()
	perms := authz.NewService(authz.ServiceParams{
		Store:        assignments,
		Capabilities: capabilities,
		Predicates:   predicates,
	})
	chains := lifecycle.NewController(lifecycle.ControllerParams{Repo: lifecycle.NewMemoryRepository()})
	service := NewService(newMemoryRiskRepo(), perms, chains, nil)

	f := &fixture{
		service:     service,
		assignments: assignments,
		processusID: uuid.New(),
		editor:      authz.User{ID: 10},
		validator:   authz.User{ID: 20},
		admin:       authz.User{ID: 30},
		viewer:      authz.User{ID: 40},
		superAdmin:  authz.User{ID: 99, IsStaff: true, IsSuperuser: true},
	}
	grant := func(userID int64, role authz.RoleCode) {
		require.NoError(t, assignments.Assign(context.Background(), authz.Assignment{
			UserID: userID, ProcessusID: f.processusID, Role: role,
		}))
	}
	grant(f.editor.ID, authz.RoleEditor)
	grant(f.validator.ID, authz.RoleValidator)
	grant(f.admin.ID, authz.RoleAdmin)
	grant(f.viewer.ID, authz.RoleViewer)
	return f
}

func (f *fixture) completeMap(t *testing.T) *RiskMap {
	t.Helper()
	ctx := context.Background()
	m, err := f.service.Create(ctx, f.editor, f.processusID, 2026, "Operational risks")
	require.NoError(t, err)
	d, err := f.service.AddDetail(ctx, f.editor, m.ID, DetailInput{Activity: "Invoicing", Risk: "Late payment", Causes: "Manual follow-up"})
	require.NoError(t, err)
	_, err = f.service.AddEvaluation(ctx, f.editor, m.ID, d.ID, EvaluationInput{Frequency: 3, Gravity: 4})
	require.NoError(t, err)
	_, err = f.service.AddActionPlan(ctx, f.editor, m.ID, d.ID, ActionPlanInput{
		Action: "Automate dunning", Owner: "CFO", Deadline: time.Now().AddDate(0, 3, 0),
	})
	require.NoError(t, err)
	return m
}

func requireDenied(t *testing.T, err error, reason string) {
	t.Helper()
	require.Error(t, err)
	denied, ok := err.(*authz.DeniedError)
	require.True(t, ok, "expected a permission denial, got %v", err)
	if reason != "" {
		require.Equal(t, reason, denied.Reason)
	}
}

func requireKind(t *testing.T, err error, kind lifecycle.FailureKind) {
	t.Helper()
	te, ok := lifecycle.AsTransition(err)
	require.True(t, ok, "expected a transition refusal, got %v", err)
	require.Equal(t, kind, te.Kind)
}

func TestCreateRequiresEditorRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, f.viewer, f.processusID, 2026, "Map")
	requireDenied(t, err, authz.ReasonInsufficientRole)

	_, err = f.service.Create(ctx, authz.User{ID: 77}, f.processusID, 2026, "Map")
	requireDenied(t, err, authz.ReasonInsufficientRole)

	m, err := f.service.Create(ctx, f.editor, f.processusID, 2026, "Map")
	require.NoError(t, err)
	require.Equal(t, "Map", m.Title)
	require.Equal(t, lifecycle.StageInitial, m.Stage)
}

func TestSuperAdminBypassesAssignments(t *testing.T) {
	f := newFixture(t)
	m, err := f.service.Create(context.Background(), f.superAdmin, uuid.New(), 2026, "Unassigned processus")
	require.NoError(t, err)
	require.NotNil(t, m)
}

func TestValidateRequiresValidatorRole(t *testing.T) {
	f := newFixture(t)
	m := f.completeMap(t)
	ctx := context.Background()

	_, err := f.service.Validate(ctx, f.editor, m.ID)
	requireDenied(t, err, authz.ReasonInsufficientRole)

	validated, err := f.service.Validate(ctx, f.validator, m.ID)
	require.NoError(t, err)
	require.True(t, validated.IsValidated)
}

func TestValidateIncompleteMapListsEveryGap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.service.Create(ctx, f.editor, f.processusID, 2026, "Map")
	require.NoError(t, err)
	_, err = f.service.AddDetail(ctx, f.editor, m.ID, DetailInput{Activity: "Payroll", Risk: "Wrong rate"})
	require.NoError(t, err)

	_, err = f.service.Validate(ctx, f.validator, m.ID)
	te, ok := lifecycle.AsTransition(err)
	require.True(t, ok)
	require.Equal(t, lifecycle.KindIncompleteChildren, te.Kind)
	// The row lacks both an evaluation and an action plan.
	require.Len(t, te.Missing, 2)
}

func TestDetailEditsLockOnValidation(t *testing.T) {
	f := newFixture(t)
	m := f.completeMap(t)
	ctx := context.Background()
	_, err := f.service.Validate(ctx, f.validator, m.ID)
	require.NoError(t, err)

	_, err = f.service.AddDetail(ctx, f.editor, m.ID, DetailInput{Activity: "New", Risk: "New"})
	requireKind(t, err, lifecycle.KindAlreadyValidated)

	// Re-scoring stays open after validation.
	details, err := f.service.repo.ListDetails(ctx, m.ID)
	require.NoError(t, err)
	_, err = f.service.AddEvaluation(ctx, f.editor, m.ID, details[0].ID, EvaluationInput{Frequency: 2, Gravity: 2})
	require.NoError(t, err)
}

func TestAmendClonesDetailTree(t *testing.T) {
	f := newFixture(t)
	m := f.completeMap(t)
	ctx := context.Background()
	_, err := f.service.Validate(ctx, f.validator, m.ID)
	require.NoError(t, err)

	amendment, err := f.service.Amend(ctx, f.editor, m.ID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StageAmendment1, amendment.Stage)
	require.Equal(t, "Operational risks", amendment.Title)

	_, details, err := f.service.Get(ctx, f.viewer, amendment.ID)
	require.NoError(t, err)
	require.Len(t, details, 1)
	require.Len(t, details[0].Evaluations, 1)
	require.Len(t, details[0].ActionPlans, 1)

	// The predecessor is frozen, even for its own creator.
	_, err = f.service.AddEvaluation(ctx, f.editor, m.ID, details[0].ID, EvaluationInput{Frequency: 1, Gravity: 1})
	requireKind(t, err, lifecycle.KindRecordLocked)
}

func TestAmendRequiresChainCreator(t *testing.T) {
	f := newFixture(t)
	m := f.completeMap(t)
	ctx := context.Background()
	_, err := f.service.Validate(ctx, f.validator, m.ID)
	require.NoError(t, err)

	other := authz.User{ID: 55}
	require.NoError(t, f.assignments.Assign(ctx, authz.Assignment{
		UserID: other.ID, ProcessusID: f.processusID, Role: authz.RoleEditor,
	}))
	_, err = f.service.Amend(ctx, other, m.ID)
	requireDenied(t, err, "")
}

func TestAmendRequiresValidatedPredecessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, err := f.service.Create(ctx, f.editor, f.processusID, 2026, "Map")
	require.NoError(t, err)

	_, err = f.service.Amend(ctx, f.editor, m.ID)
	requireDenied(t, err, "")
}

func TestUnvalidateIsAdminOnly(t *testing.T) {
	f := newFixture(t)
	m := f.completeMap(t)
	ctx := context.Background()
	_, err := f.service.Validate(ctx, f.validator, m.ID)
	require.NoError(t, err)

	_, err = f.service.Unvalidate(ctx, f.validator, m.ID)
	requireDenied(t, err, authz.ReasonInsufficientRole)

	reopened, err := f.service.Unvalidate(ctx, f.admin, m.ID)
	require.NoError(t, err)
	require.False(t, reopened.IsValidated)

	// Children stay locked after unvalidation.
	_, err = f.service.AddDetail(ctx, f.editor, m.ID, DetailInput{Activity: "X", Risk: "Y"})
	requireKind(t, err, lifecycle.KindAlreadyValidated)
}

func TestViewRequiresAnyRole(t *testing.T) {
	f := newFixture(t)
	m := f.completeMap(t)
	ctx := context.Background()

	_, _, err := f.service.Get(ctx, f.viewer, m.ID)
	require.NoError(t, err)

	_, _, err = f.service.Get(ctx, authz.User{ID: 88}, m.ID)
	requireDenied(t, err, authz.ReasonInsufficientRole)
}

func TestListScopedToProcessus(t *testing.T) {
	f := newFixture(t)
	f.completeMap(t)
	ctx := context.Background()

	maps, err := f.service.List(ctx, f.viewer, f.processusID, 2026)
	require.NoError(t, err)
	require.Len(t, maps, 1)

	// A role on one processus grants nothing on another.
	_, err = f.service.List(ctx, f.viewer, uuid.New(), 2026)
	requireDenied(t, err, authz.ReasonInsufficientRole)
}
