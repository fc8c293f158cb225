package activities

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

type memoryProgramRepo struct {
	titles map[uuid.UUID]string
	rows   map[uuid.UUID][]Activity
}

func newMemoryProgramRepo() *memoryProgramRepo {
	return &memoryProgramRepo{
		titles: make(map[uuid.UUID]string),
		rows:   make(map[uuid.UUID][]Activity),
	}
}

func (r *memoryProgramRepo) SetTitle(ctx context.Context, recordID uuid.UUID, title string) error {
	r.titles[recordID] = title
	return nil
}

func (r *memoryProgramRepo) Title(ctx context.Context, recordID uuid.UUID) (string, error) {
	return r.titles[recordID], nil
}

func (r *memoryProgramRepo) InsertActivity(ctx context.Context, a Activity) error {
	r.rows[a.RecordID] = append(r.rows[a.RecordID], a)
	return nil
}

func (r *memoryProgramRepo) UpdateActivity(ctx context.Context, a Activity) error {
	for i, existing := range r.rows[a.RecordID] {
		if existing.ID == a.ID {
			a.Entries = existing.Entries
			r.rows[a.RecordID][i] = a
			return nil
		}
	}
	return httpx.ErrNotFound
}

func (r *memoryProgramRepo) DeleteActivity(ctx context.Context, recordID, activityID uuid.UUID) error {
	rows := r.rows[recordID]
	for i, a := range rows {
		if a.ID == activityID {
			r.rows[recordID] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return httpx.ErrNotFound
}

func (r *memoryProgramRepo) GetActivity(ctx context.Context, recordID, activityID uuid.UUID) (*Activity, error) {
	for i := range r.rows[recordID] {
		if r.rows[recordID][i].ID == activityID {
			return &r.rows[recordID][i], nil
		}
	}
	return nil, httpx.ErrNotFound
}

func (r *memoryProgramRepo) ListActivities(ctx context.Context, recordID uuid.UUID) ([]Activity, error) {
	return r.rows[recordID], nil
}

func (r *memoryProgramRepo) InsertEntry(ctx context.Context, e MonthEntry) error {
	for recordID := range r.rows {
		for i := range r.rows[recordID] {
			if r.rows[recordID][i].ID != e.ActivityID {
				continue
			}
			for _, existing := range r.rows[recordID][i].Entries {
				if existing.Month == e.Month {
					return httpx.ErrDuplicate
				}
			}
			r.rows[recordID][i].Entries = append(r.rows[recordID][i].Entries, e)
			return nil
		}
	}
	return httpx.ErrNotFound
}

func (r *memoryProgramRepo) CloneInto(ctx context.Context, fromRecordID, toRecordID uuid.UUID) error {
	r.titles[toRecordID] = r.titles[fromRecordID]
	for _, a := range r.rows[fromRecordID] {
		clone := a
		clone.ID = uuid.New()
		clone.RecordID = toRecordID
		clone.Entries = nil
		r.rows[toRecordID] = append(r.rows[toRecordID], clone)
	}
	return nil
}

type fixture struct {
	service     *Service
	processusID uuid.UUID
	editor      authz.User
	validator   authz.User
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

	f := &fixture{
		service:     NewService(newMemoryProgramRepo(), perms, chains, nil),
		processusID: uuid.New(),
		editor:      authz.User{ID: 10},
		validator:   authz.User{ID: 20},
	}
	require.NoError(t, assignments.Assign(context.Background(), authz.Assignment{
		UserID: f.editor.ID, ProcessusID: f.processusID, Role: authz.RoleEditor,
	}))
	require.NoError(t, assignments.Assign(context.Background(), authz.Assignment{
		UserID: f.validator.ID, ProcessusID: f.processusID, Role: authz.RoleValidator,
	}))
	return f
}

func (f *fixture) completeProgram(t *testing.T) (*Program, *Activity) {
	t.Helper()
	ctx := context.Background()
	p, err := f.service.Create(ctx, f.editor, f.processusID, 2026, "Annual control program")
	require.NoError(t, err)
	a, err := f.service.AddActivity(ctx, f.editor, p.ID, ActivityInput{
		Description: "Review supplier contracts", Frequency: "quarterly", Units: []string{"Legal"},
	})
	require.NoError(t, err)
	return p, a
}

func requireDenied(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var denied *authz.DeniedError
	require.ErrorAs(t, err, &denied)
}

func requireKind(t *testing.T, err error, kind lifecycle.FailureKind) {
	t.Helper()
	te, ok := lifecycle.AsTransition(err)
	require.True(t, ok, "expected a transition refusal, got %v", err)
	require.Equal(t, kind, te.Kind)
}

func TestValidateRequiresCompleteRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.service.Create(ctx, f.editor, f.processusID, 2026, "Program")
	require.NoError(t, err)
	_, err = f.service.Validate(ctx, f.validator, p.ID)
	requireKind(t, err, lifecycle.KindIncompleteChildren)

	// A row without frequency or responsible unit reports both gaps.
	_, err = f.service.AddActivity(ctx, f.editor, p.ID, ActivityInput{Description: "Inventory count"})
	require.NoError(t, err)
	_, err = f.service.Validate(ctx, f.validator, p.ID)
	te, ok := lifecycle.AsTransition(err)
	require.True(t, ok)
	require.Equal(t, lifecycle.KindIncompleteChildren, te.Kind)
	require.Len(t, te.Missing, 2)
}

func TestMonthlyTrackingOpensOnValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, a := f.completeProgram(t)

	// Tracking a draft program is refused.
	_, err := f.service.RecordMonth(ctx, f.editor, p.ID, a.ID, MonthEntryInput{Month: time.January, Done: true})
	requireDenied(t, err)

	_, err = f.service.Validate(ctx, f.validator, p.ID)
	require.NoError(t, err)

	// Program structure is frozen, monthly tracking is open.
	_, err = f.service.AddActivity(ctx, f.editor, p.ID, ActivityInput{
		Description: "New", Frequency: "monthly", Units: []string{"Ops"},
	})
	requireKind(t, err, lifecycle.KindAlreadyValidated)

	e, err := f.service.RecordMonth(ctx, f.editor, p.ID, a.ID, MonthEntryInput{Month: time.January, Done: true})
	require.NoError(t, err)
	require.Equal(t, f.editor.ID, e.RecordedBy)
}

func TestOneEntryPerMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, a := f.completeProgram(t)
	_, err := f.service.Validate(ctx, f.validator, p.ID)
	require.NoError(t, err)

	_, err = f.service.RecordMonth(ctx, f.editor, p.ID, a.ID, MonthEntryInput{Month: time.March, Done: false, Note: "postponed"})
	require.NoError(t, err)
	_, err = f.service.RecordMonth(ctx, f.editor, p.ID, a.ID, MonthEntryInput{Month: time.March, Done: true})
	require.ErrorIs(t, err, httpx.ErrDuplicate)

	// Other months stay open.
	_, err = f.service.RecordMonth(ctx, f.editor, p.ID, a.ID, MonthEntryInput{Month: time.April, Done: true})
	require.NoError(t, err)
}

func TestAmendClonesRowsDropsEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, a := f.completeProgram(t)
	_, err := f.service.Validate(ctx, f.validator, p.ID)
	require.NoError(t, err)
	_, err = f.service.RecordMonth(ctx, f.editor, p.ID, a.ID, MonthEntryInput{Month: time.February, Done: true})
	require.NoError(t, err)

	amendment, err := f.service.Amend(ctx, f.editor, p.ID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StageAmendment1, amendment.Stage)
	require.Equal(t, "Annual control program", amendment.Title)

	_, rows, err := f.service.Get(ctx, f.editor, amendment.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Empty(t, rows[0].Entries)

	// The superseded program refuses further tracking.
	_, err = f.service.RecordMonth(ctx, f.editor, p.ID, a.ID, MonthEntryInput{Month: time.May, Done: true})
	requireKind(t, err, lifecycle.KindRecordLocked)
}
