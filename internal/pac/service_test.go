package pac

import (
	"context"
	"errors"
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

func (s *memoryAssignments) key(userID int64, processusID uuid.UUID) string {
	return fmt.Sprintf("%d|%s", userID, processusID)
}

func (s *memoryAssignments) Assign(ctx context.Context, a authz.Assignment) error {
	k := s.key(a.UserID, a.ProcessusID)
	s.roles[k] = append(s.roles[k], a.Role)
	return nil
}

func (s *memoryAssignments) Revoke(ctx context.Context, userID int64, processusID uuid.UUID, role authz.RoleCode) error {
	k := s.key(userID, processusID)
	var kept []authz.RoleCode
	for _, r := range s.roles[k] {
		if r != role {
			kept = append(kept, r)
		}
	}
	s.roles[k] = kept
	return nil
}

func (s *memoryAssignments) RolesFor(ctx context.Context, userID int64, processusID uuid.UUID) ([]authz.RoleCode, error) {
	return s.roles[s.key(userID, processusID)], nil
}

func (s *memoryAssignments) AssignmentsFor(ctx context.Context, userID int64) ([]authz.Assignment, error) {
	return nil, nil
}

func (s *memoryAssignments) ProcessusScopeFor(ctx context.Context, userID int64) ([]uuid.UUID, error) {
	return nil, nil
}

type memoryPlanRepo struct {
	origins      map[uuid.UUID]string
	treatments   map[uuid.UUID][]Treatment
	setOriginErr error
}

func newMemoryPlanRepo() *memoryPlanRepo {
	return &memoryPlanRepo{
		origins:    make(map[uuid.UUID]string),
		treatments: make(map[uuid.UUID][]Treatment),
	}
}

func (r *memoryPlanRepo) SetOrigin(ctx context.Context, recordID uuid.UUID, origin string) error {
	if r.setOriginErr != nil {
		return r.setOriginErr
	}
	r.origins[recordID] = origin
	return nil
}

func (r *memoryPlanRepo) Origin(ctx context.Context, recordID uuid.UUID) (string, error) {
	return r.origins[recordID], nil
}

func (r *memoryPlanRepo) InsertTreatment(ctx context.Context, tr Treatment) error {
	r.treatments[tr.RecordID] = append(r.treatments[tr.RecordID], tr)
	return nil
}

func (r *memoryPlanRepo) UpdateTreatment(ctx context.Context, tr Treatment) error {
	for i, existing := range r.treatments[tr.RecordID] {
		if existing.ID == tr.ID {
			tr.FollowUps = existing.FollowUps
			r.treatments[tr.RecordID][i] = tr
			return nil
		}
	}
	return httpx.ErrNotFound
}

func (r *memoryPlanRepo) DeleteTreatment(ctx context.Context, recordID, treatmentID uuid.UUID) error {
	rows := r.treatments[recordID]
	for i, tr := range rows {
		if tr.ID == treatmentID {
			r.treatments[recordID] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return httpx.ErrNotFound
}

func (r *memoryPlanRepo) GetTreatment(ctx context.Context, recordID, treatmentID uuid.UUID) (*Treatment, error) {
	for i := range r.treatments[recordID] {
		if r.treatments[recordID][i].ID == treatmentID {
			return &r.treatments[recordID][i], nil
		}
	}
	return nil, httpx.ErrNotFound
}

func (r *memoryPlanRepo) ListTreatments(ctx context.Context, recordID uuid.UUID) ([]Treatment, error) {
	return r.treatments[recordID], nil
}

func (r *memoryPlanRepo) InsertFollowUp(ctx context.Context, fu FollowUp) error {
	for recordID, rows := range r.treatments {
		for i := range rows {
			if rows[i].ID == fu.Treatment {
				r.treatments[recordID][i].FollowUps = append(r.treatments[recordID][i].FollowUps, fu)
				return nil
			}
		}
	}
	return httpx.ErrNotFound
}

func (r *memoryPlanRepo) CloneInto(ctx context.Context, fromRecordID, toRecordID uuid.UUID) error {
	r.origins[toRecordID] = r.origins[fromRecordID]
	for _, tr := range r.treatments[fromRecordID] {
		clone := tr
		clone.ID = uuid.New()
		clone.RecordID = toRecordID
		clone.FollowUps = nil
		r.treatments[toRecordID] = append(r.treatments[toRecordID], clone)
	}
	return nil
}

type fixture struct {
	service     *Service
	repo        *memoryPlanRepo
	chains      *lifecycle.Controller
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
	repo := newMemoryPlanRepo()

	f := &fixture{
		service:     NewService(repo, perms, chains, nil),
		repo:        repo,
		chains:      chains,
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

func (f *fixture) planWithTreatment(t *testing.T) (*Plan, *Treatment) {
	t.Helper()
	ctx := context.Background()
	p, err := f.service.Create(ctx, f.editor, f.processusID, 2026, "Audit finding 12")
	require.NoError(t, err)
	tr, err := f.service.AddTreatment(ctx, f.editor, p.ID, TreatmentInput{
		Action: "Segregate duties in procurement", Type: TreatmentCorrective,
		Owner: "Head of procurement", Deadline: time.Now().AddDate(0, 6, 0),
	})
	require.NoError(t, err)
	return p, tr
}

func requireKind(t *testing.T, err error, kind lifecycle.FailureKind) {
	t.Helper()
	te, ok := lifecycle.AsTransition(err)
	require.True(t, ok, "expected a transition refusal, got %v", err)
	require.Equal(t, kind, te.Kind)
}

func TestFollowUpsRequireValidatedPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, tr := f.planWithTreatment(t)

	// Draft plan: treatments editable, follow-ups refused.
	_, err := f.service.AddFollowUp(ctx, f.editor, p.ID, tr.ID, FollowUpInput{Note: "started", ProgressPC: 10})
	requireKind(t, err, lifecycle.KindNotValidated)

	_, err = f.service.Validate(ctx, f.validator, p.ID)
	require.NoError(t, err)

	// Validated plan: the rule inverts.
	fu, err := f.service.AddFollowUp(ctx, f.editor, p.ID, tr.ID, FollowUpInput{Note: "halfway", ProgressPC: 50})
	require.NoError(t, err)
	require.Equal(t, f.editor.ID, fu.RecordedBy)

	_, err = f.service.AddTreatment(ctx, f.editor, p.ID, TreatmentInput{
		Action: "More", Type: TreatmentPreventive, Owner: "X", Deadline: time.Now(),
	})
	requireKind(t, err, lifecycle.KindAlreadyValidated)
}

func TestValidateRequiresCompleteTreatments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.service.Create(ctx, f.editor, f.processusID, 2026, "Finding")
	require.NoError(t, err)

	// No treatment at all.
	_, err = f.service.Validate(ctx, f.validator, p.ID)
	requireKind(t, err, lifecycle.KindIncompleteChildren)
}

func TestCreateSurvivesOriginWriteFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.setOriginErr = errors.New("header store unavailable")

	// The plan comes back without its origin instead of stranding the chain.
	p, err := f.service.Create(ctx, f.editor, f.processusID, 2026, "Finding")
	require.NoError(t, err)
	require.Empty(t, p.Origin)

	// The record is real: it occupies the slot and accepts treatments.
	_, err = f.chains.Get(ctx, string(ModuleName), p.ID)
	require.NoError(t, err)
	_, err = f.service.Create(ctx, f.editor, f.processusID, 2026, "Finding")
	requireKind(t, err, lifecycle.KindAlreadyExists)

	f.repo.setOriginErr = nil
	_, err = f.service.AddTreatment(ctx, f.editor, p.ID, TreatmentInput{
		Action: "Review access rights", Type: TreatmentCorrective,
		Owner: "IT security", Deadline: time.Now().AddDate(0, 3, 0),
	})
	require.NoError(t, err)
}

func TestAmendKeepsTreatmentsDropsFollowUps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, tr := f.planWithTreatment(t)
	_, err := f.service.Validate(ctx, f.validator, p.ID)
	require.NoError(t, err)
	_, err = f.service.AddFollowUp(ctx, f.editor, p.ID, tr.ID, FollowUpInput{Note: "done", ProgressPC: 100})
	require.NoError(t, err)

	amendment, err := f.service.Amend(ctx, f.editor, p.ID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StageAmendment1, amendment.Stage)
	require.Equal(t, "Audit finding 12", amendment.Origin)

	_, treatments, err := f.service.Get(ctx, f.editor, amendment.ID)
	require.NoError(t, err)
	require.Len(t, treatments, 1)
	require.Empty(t, treatments[0].FollowUps)

	// The superseded plan refuses further follow-ups.
	_, err = f.service.AddFollowUp(ctx, f.editor, p.ID, tr.ID, FollowUpInput{Note: "late", ProgressPC: 100})
	requireKind(t, err, lifecycle.KindRecordLocked)
}

func TestSecondAmendmentIsTheLast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _ := f.planWithTreatment(t)
	_, err := f.service.Validate(ctx, f.validator, p.ID)
	require.NoError(t, err)

	am1, err := f.service.Amend(ctx, f.editor, p.ID)
	require.NoError(t, err)
	_, err = f.service.Validate(ctx, f.validator, am1.ID)
	require.NoError(t, err)

	am2, err := f.service.Amend(ctx, f.editor, am1.ID)
	require.NoError(t, err)
	_, err = f.service.Validate(ctx, f.validator, am2.ID)
	require.NoError(t, err)

	_, err = f.service.Amend(ctx, f.editor, am2.ID)
	requireKind(t, err, lifecycle.KindMaxAmendmentsReached)
}
