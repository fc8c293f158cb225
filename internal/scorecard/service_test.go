package scorecard

import (
	"context"
	"fmt"
	"testing"

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

type memoryCardRepo struct {
	names      map[uuid.UUID]string
	objectives map[uuid.UUID][]Objective
}

func newMemoryCardRepo() *memoryCardRepo {
	return &memoryCardRepo{
		names:      make(map[uuid.UUID]string),
		objectives: make(map[uuid.UUID][]Objective),
	}
}

func (r *memoryCardRepo) SetName(ctx context.Context, recordID uuid.UUID, name string) error {
	r.names[recordID] = name
	return nil
}

func (r *memoryCardRepo) Name(ctx context.Context, recordID uuid.UUID) (string, error) {
	return r.names[recordID], nil
}

func (r *memoryCardRepo) InsertObjective(ctx context.Context, o Objective) error {
	r.objectives[o.RecordID] = append(r.objectives[o.RecordID], o)
	return nil
}

func (r *memoryCardRepo) UpdateObjective(ctx context.Context, o Objective) error {
	for i, existing := range r.objectives[o.RecordID] {
		if existing.ID == o.ID {
			o.Indicators = existing.Indicators
			r.objectives[o.RecordID][i] = o
			return nil
		}
	}
	return httpx.ErrNotFound
}

func (r *memoryCardRepo) DeleteObjective(ctx context.Context, recordID, objectiveID uuid.UUID) error {
	rows := r.objectives[recordID]
	for i, o := range rows {
		if o.ID == objectiveID {
			r.objectives[recordID] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return httpx.ErrNotFound
}

func (r *memoryCardRepo) ListObjectives(ctx context.Context, recordID uuid.UUID) ([]Objective, error) {
	return r.objectives[recordID], nil
}

func (r *memoryCardRepo) InsertIndicator(ctx context.Context, recordID uuid.UUID, in Indicator) error {
	for i := range r.objectives[recordID] {
		if r.objectives[recordID][i].ID == in.ObjectiveID {
			r.objectives[recordID][i].Indicators = append(r.objectives[recordID][i].Indicators, in)
			return nil
		}
	}
	return httpx.ErrNotFound
}

func (r *memoryCardRepo) UpdateIndicator(ctx context.Context, recordID uuid.UUID, in Indicator) error {
	for i := range r.objectives[recordID] {
		for j, existing := range r.objectives[recordID][i].Indicators {
			if existing.ID == in.ID {
				in.Observations = existing.Observations
				r.objectives[recordID][i].Indicators[j] = in
				return nil
			}
		}
	}
	return httpx.ErrNotFound
}

func (r *memoryCardRepo) DeleteIndicator(ctx context.Context, recordID, indicatorID uuid.UUID) error {
	for i := range r.objectives[recordID] {
		rows := r.objectives[recordID][i].Indicators
		for j, in := range rows {
			if in.ID == indicatorID {
				r.objectives[recordID][i].Indicators = append(rows[:j], rows[j+1:]...)
				return nil
			}
		}
	}
	return httpx.ErrNotFound
}

func (r *memoryCardRepo) GetIndicator(ctx context.Context, recordID, indicatorID uuid.UUID) (*Indicator, error) {
	for i := range r.objectives[recordID] {
		for j := range r.objectives[recordID][i].Indicators {
			if r.objectives[recordID][i].Indicators[j].ID == indicatorID {
				return &r.objectives[recordID][i].Indicators[j], nil
			}
		}
	}
	return nil, httpx.ErrNotFound
}

func (r *memoryCardRepo) InsertObservation(ctx context.Context, ob Observation) error {
	for recordID := range r.objectives {
		for i := range r.objectives[recordID] {
			for j := range r.objectives[recordID][i].Indicators {
				if r.objectives[recordID][i].Indicators[j].ID == ob.IndicatorID {
					in := &r.objectives[recordID][i].Indicators[j]
					in.Observations = append(in.Observations, ob)
					return nil
				}
			}
		}
	}
	return httpx.ErrNotFound
}

func (r *memoryCardRepo) CloneInto(ctx context.Context, fromRecordID, toRecordID uuid.UUID) error {
	r.names[toRecordID] = r.names[fromRecordID]
	for _, o := range r.objectives[fromRecordID] {
		clone := o
		clone.ID = uuid.New()
		clone.RecordID = toRecordID
		clone.Indicators = make([]Indicator, len(o.Indicators))
		for i, in := range o.Indicators {
			c := in
			c.ID = uuid.New()
			c.ObjectiveID = clone.ID
			c.Observations = nil
			clone.Indicators[i] = c
		}
		r.objectives[toRecordID] = append(r.objectives[toRecordID], clone)
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
		service:     NewService(newMemoryCardRepo(), perms, chains, nil),
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

func (f *fixture) completeCard(t *testing.T) (*Scorecard, *Indicator) {
	t.Helper()
	ctx := context.Background()
	c, err := f.service.Create(ctx, f.editor, f.processusID, 2026, "Quality objectives")
	require.NoError(t, err)
	o, err := f.service.AddObjective(ctx, f.editor, c.ID, ObjectiveInput{Label: "Reduce rework"})
	require.NoError(t, err)
	in, err := f.service.AddIndicator(ctx, f.editor, c.ID, o.ID, IndicatorInput{
		Label: "Rework rate", Unit: "%", Target: 2, Frequency: "monthly",
	})
	require.NoError(t, err)
	return c, in
}

func requireKind(t *testing.T, err error, kind lifecycle.FailureKind) {
	t.Helper()
	te, ok := lifecycle.AsTransition(err)
	require.True(t, ok, "expected a transition refusal, got %v", err)
	require.Equal(t, kind, te.Kind)
}

func TestValidateRequiresCompleteIndicators(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.service.Create(ctx, f.editor, f.processusID, 2026, "Card")
	require.NoError(t, err)
	_, err = f.service.Validate(ctx, f.validator, c.ID)
	requireKind(t, err, lifecycle.KindIncompleteChildren)

	o, err := f.service.AddObjective(ctx, f.editor, c.ID, ObjectiveInput{Label: "Goal"})
	require.NoError(t, err)
	_, err = f.service.Validate(ctx, f.validator, c.ID)
	te, ok := lifecycle.AsTransition(err)
	require.True(t, ok)
	require.Equal(t, lifecycle.KindIncompleteChildren, te.Kind)
	require.Len(t, te.Missing, 1)
	require.Equal(t, "no indicator", te.Missing[0].Reason)

	// An indicator without target and frequency reports both gaps.
	_, err = f.service.AddIndicator(ctx, f.editor, c.ID, o.ID, IndicatorInput{Label: "Rate"})
	require.NoError(t, err)
	_, err = f.service.Validate(ctx, f.validator, c.ID)
	te, ok = lifecycle.AsTransition(err)
	require.True(t, ok)
	require.Len(t, te.Missing, 2)
}

func TestObservationsStayOpenAfterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, in := f.completeCard(t)

	_, err := f.service.Validate(ctx, f.validator, c.ID)
	require.NoError(t, err)

	// Structure is frozen, measurement is not.
	_, err = f.service.AddObjective(ctx, f.editor, c.ID, ObjectiveInput{Label: "New goal"})
	requireKind(t, err, lifecycle.KindAlreadyValidated)

	ob, err := f.service.RecordObservation(ctx, f.editor, c.ID, in.ID, ObservationInput{Value: 1.8, Note: "under target"})
	require.NoError(t, err)
	require.Equal(t, f.editor.ID, ob.RecordedBy)
}

func TestAmendClonesStructureDropsObservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, in := f.completeCard(t)
	_, err := f.service.Validate(ctx, f.validator, c.ID)
	require.NoError(t, err)
	_, err = f.service.RecordObservation(ctx, f.editor, c.ID, in.ID, ObservationInput{Value: 2.5})
	require.NoError(t, err)

	amendment, err := f.service.Amend(ctx, f.editor, c.ID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StageAmendment1, amendment.Stage)
	require.Equal(t, "Quality objectives", amendment.Name)

	_, objectives, err := f.service.Get(ctx, f.editor, amendment.ID)
	require.NoError(t, err)
	require.Len(t, objectives, 1)
	require.Len(t, objectives[0].Indicators, 1)
	require.Empty(t, objectives[0].Indicators[0].Observations)

	// The superseded card refuses new measurements.
	_, err = f.service.RecordObservation(ctx, f.editor, c.ID, in.ID, ObservationInput{Value: 3})
	requireKind(t, err, lifecycle.KindRecordLocked)
}

func TestIndicatorEditsLockOnValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, in := f.completeCard(t)
	_, err := f.service.Validate(ctx, f.validator, c.ID)
	require.NoError(t, err)

	_, err = f.service.UpdateIndicator(ctx, f.editor, c.ID, in.ID, IndicatorInput{
		Label: "Rework rate", Unit: "%", Target: 5, Frequency: "monthly",
	})
	requireKind(t, err, lifecycle.KindAlreadyValidated)
}
