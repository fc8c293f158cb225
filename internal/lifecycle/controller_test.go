package lifecycle

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type capturedEvent struct {
	action   string
	recordID uuid.UUID
}

type memorySink struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (s *memorySink) RecordEvent(ctx context.Context, e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, capturedEvent{action: e.Action, recordID: e.RecordID})
}

const testModule = "risk-map"

func newTestController(t *testing.T, binding ModuleBinding) (*Controller, *MemoryRepository, *memorySink) {
	t.Helper()
	repo := NewMemoryRepository()
	sink := &memorySink{}
	c := NewController(ControllerParams{Repo: repo, Events: sink})
	c.Bind(testModule, binding)
	return c, repo, sink
}

func mustCreateInitial(t *testing.T, c *Controller, processusID uuid.UUID, period int, createdBy int64) Record {
	t.Helper()
	rec, err := c.CreateInitial(context.Background(), testModule, processusID, period, createdBy)
	require.NoError(t, err)
	return rec
}

func mustValidate(t *testing.T, c *Controller, id uuid.UUID, validatorID int64) Record {
	t.Helper()
	rec, err := c.Validate(context.Background(), testModule, id, validatorID)
	require.NoError(t, err)
	return rec
}

func requireRefusal(t *testing.T, err error, kind FailureKind) *TransitionError {
	t.Helper()
	require.Error(t, err)
	te, ok := AsTransition(err)
	require.True(t, ok, "expected a transition refusal, got %v", err)
	require.Equal(t, kind, te.Kind)
	return te
}

func TestCreateInitialOncePerSlot(t *testing.T) {
	c, _, sink := newTestController(t, ModuleBinding{})
	processus := uuid.New()

	rec := mustCreateInitial(t, c, processus, 2026, 10)
	require.Equal(t, StageInitial, rec.Stage)
	require.Nil(t, rec.InitialRef)
	require.Equal(t, "DRAFT_INITIAL", rec.State())

	_, err := c.CreateInitial(context.Background(), testModule, processus, 2026, 10)
	requireRefusal(t, err, KindAlreadyExists)

	// Different period and different creator both open fresh chains.
	_, err = c.CreateInitial(context.Background(), testModule, processus, 2027, 10)
	require.NoError(t, err)
	_, err = c.CreateInitial(context.Background(), testModule, processus, 2026, 11)
	require.NoError(t, err)

	require.Len(t, sink.events, 3)
	require.Equal(t, "create_initial", sink.events[0].action)
}

func TestCreateAmendmentRequiresValidatedPredecessor(t *testing.T) {
	c, _, _ := newTestController(t, ModuleBinding{})
	rec := mustCreateInitial(t, c, uuid.New(), 2026, 10)

	_, err := c.CreateAmendment(context.Background(), testModule, rec.ID, 10)
	requireRefusal(t, err, KindPredecessorNotValidated)

	mustValidate(t, c, rec.ID, 20)
	am1, err := c.CreateAmendment(context.Background(), testModule, rec.ID, 10)
	require.NoError(t, err)
	require.Equal(t, StageAmendment1, am1.Stage)
	require.NotNil(t, am1.InitialRef)
	require.Equal(t, rec.ID, *am1.InitialRef)
	require.False(t, am1.IsValidated)
}

func TestCreateAmendmentChainCap(t *testing.T) {
	c, _, _ := newTestController(t, ModuleBinding{})
	ctx := context.Background()
	initial := mustCreateInitial(t, c, uuid.New(), 2026, 10)
	mustValidate(t, c, initial.ID, 20)

	am1, err := c.CreateAmendment(ctx, testModule, initial.ID, 10)
	require.NoError(t, err)
	mustValidate(t, c, am1.ID, 20)

	am2, err := c.CreateAmendment(ctx, testModule, am1.ID, 10)
	require.NoError(t, err)
	require.Equal(t, StageAmendment2, am2.Stage)
	// Both amendments reference the chain's INITIAL, never each other.
	require.Equal(t, initial.ID, *am2.InitialRef)

	mustValidate(t, c, am2.ID, 20)
	_, err = c.CreateAmendment(ctx, testModule, am2.ID, 10)
	requireRefusal(t, err, KindMaxAmendmentsReached)
}

func TestCreateAmendmentDuplicateStage(t *testing.T) {
	c, _, _ := newTestController(t, ModuleBinding{})
	ctx := context.Background()
	initial := mustCreateInitial(t, c, uuid.New(), 2026, 10)
	mustValidate(t, c, initial.ID, 20)

	_, err := c.CreateAmendment(ctx, testModule, initial.ID, 10)
	require.NoError(t, err)
	_, err = c.CreateAmendment(ctx, testModule, initial.ID, 10)
	requireRefusal(t, err, KindAlreadyExists)
}

func TestCreateAmendmentByOtherUserOccupiesChainSlot(t *testing.T) {
	c, _, _ := newTestController(t, ModuleBinding{
		Policy: ChildPolicy{Rules: map[string]ChildRule{
			"add-followup": RulePostValidationAllowed,
		}},
	})
	ctx := context.Background()
	initial := mustCreateInitial(t, c, uuid.New(), 2026, 10)
	mustValidate(t, c, initial.ID, 20)

	// Someone other than the chain's creator raises the amendment.
	am1, err := c.CreateAmendment(ctx, testModule, initial.ID, 11)
	require.NoError(t, err)
	require.Equal(t, int64(11), am1.CreatedBy)
	require.Equal(t, initial.ID, *am1.InitialRef)

	// The stage stays unique per chain, whoever asks next.
	_, err = c.CreateAmendment(ctx, testModule, initial.ID, 12)
	requireRefusal(t, err, KindAlreadyExists)
	_, err = c.CreateAmendment(ctx, testModule, initial.ID, 10)
	requireRefusal(t, err, KindAlreadyExists)

	// And the cross-user successor still freezes the initial outright.
	err = c.GuardChildMutation(ctx, testModule, initial.ID, "add-followup")
	requireRefusal(t, err, KindRecordLocked)
	_, err = c.Unvalidate(ctx, testModule, initial.ID, 20)
	requireRefusal(t, err, KindRecordLocked)
}

func TestCreateAmendmentClonesChildren(t *testing.T) {
	var clonedFrom, clonedTo uuid.UUID
	c, _, _ := newTestController(t, ModuleBinding{
		CloneChildren: func(ctx context.Context, fromID, toID uuid.UUID) error {
			clonedFrom, clonedTo = fromID, toID
			return nil
		},
	})
	initial := mustCreateInitial(t, c, uuid.New(), 2026, 10)
	mustValidate(t, c, initial.ID, 20)

	am1, err := c.CreateAmendment(context.Background(), testModule, initial.ID, 10)
	require.NoError(t, err)
	require.Equal(t, initial.ID, clonedFrom)
	require.Equal(t, am1.ID, clonedTo)
}

func TestValidateRefusesIncompleteChildren(t *testing.T) {
	missing := []FieldError{
		{ChildID: "a", Label: "Risk A", Reason: "net score missing"},
		{ChildID: "b", Label: "Risk B", Reason: "owner missing"},
	}
	c, _, _ := newTestController(t, ModuleBinding{
		Completeness: func(ctx context.Context, recordID uuid.UUID) ([]FieldError, error) {
			return missing, nil
		},
	})
	rec := mustCreateInitial(t, c, uuid.New(), 2026, 10)

	_, err := c.Validate(context.Background(), testModule, rec.ID, 20)
	te := requireRefusal(t, err, KindIncompleteChildren)
	// Every incomplete entry is reported, not just the first.
	require.Len(t, te.Missing, 2)
	require.Equal(t, "Risk B", te.Missing[1].Label)
}

func TestValidateExactlyOneWinner(t *testing.T) {
	c, _, _ := newTestController(t, ModuleBinding{})
	rec := mustCreateInitial(t, c, uuid.New(), 2026, 10)

	const callers = 16
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Validate(context.Background(), testModule, rec.ID, int64(100+i))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		te, ok := AsTransition(err)
		require.True(t, ok)
		require.Equal(t, KindAlreadyValidated, te.Kind)
	}
	require.Equal(t, 1, wins)
}

func TestValidateAlreadyValidated(t *testing.T) {
	c, _, _ := newTestController(t, ModuleBinding{})
	rec := mustCreateInitial(t, c, uuid.New(), 2026, 10)
	mustValidate(t, c, rec.ID, 20)

	_, err := c.Validate(context.Background(), testModule, rec.ID, 21)
	requireRefusal(t, err, KindAlreadyValidated)
}

func TestUnvalidateKeepsChildrenLocked(t *testing.T) {
	c, repo, _ := newTestController(t, ModuleBinding{})
	ctx := context.Background()
	rec := mustCreateInitial(t, c, uuid.New(), 2026, 10)
	mustValidate(t, c, rec.ID, 20)

	unv, err := c.Unvalidate(ctx, testModule, rec.ID, 1)
	require.NoError(t, err)
	require.False(t, unv.IsValidated)

	// validated_at survives as the ever-validated marker.
	stored, err := repo.Get(ctx, testModule, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ValidatedAt)

	// Structural child edits stay refused even though the flag is clear.
	err = c.GuardChildMutation(ctx, testModule, rec.ID, "update-entry")
	requireRefusal(t, err, KindAlreadyValidated)

	// The record itself can be validated again.
	_, err = c.Validate(ctx, testModule, rec.ID, 20)
	require.NoError(t, err)
}

func TestUnvalidateRequiresValidatedRecord(t *testing.T) {
	c, _, _ := newTestController(t, ModuleBinding{})
	rec := mustCreateInitial(t, c, uuid.New(), 2026, 10)

	_, err := c.Unvalidate(context.Background(), testModule, rec.ID, 1)
	requireRefusal(t, err, KindNotValidated)
}

func TestSuccessorFreezeIsAbsolute(t *testing.T) {
	c, _, _ := newTestController(t, ModuleBinding{
		Policy: ChildPolicy{Rules: map[string]ChildRule{
			"add-followup": RulePostValidationAllowed,
		}},
	})
	ctx := context.Background()
	initial := mustCreateInitial(t, c, uuid.New(), 2026, 10)
	mustValidate(t, c, initial.ID, 20)
	_, err := c.CreateAmendment(ctx, testModule, initial.ID, 10)
	require.NoError(t, err)

	// The freeze beats even a post-validation whitelist entry.
	err = c.GuardChildMutation(ctx, testModule, initial.ID, "add-followup")
	requireRefusal(t, err, KindRecordLocked)

	// And the frozen record can no longer be unvalidated or revalidated.
	_, err = c.Unvalidate(ctx, testModule, initial.ID, 1)
	requireRefusal(t, err, KindRecordLocked)
}

func TestGuardChildMutationRules(t *testing.T) {
	c, _, _ := newTestController(t, ModuleBinding{
		Policy: ChildPolicy{Rules: map[string]ChildRule{
			"add-reevaluation": RulePostValidationAllowed,
			"add-followup":     RuleRequiresValidation,
		}},
	})
	ctx := context.Background()
	rec := mustCreateInitial(t, c, uuid.New(), 2026, 10)

	// Draft: default edits pass, validation-gated ops refuse.
	require.NoError(t, c.GuardChildMutation(ctx, testModule, rec.ID, "update-entry"))
	require.NoError(t, c.GuardChildMutation(ctx, testModule, rec.ID, "add-reevaluation"))
	err := c.GuardChildMutation(ctx, testModule, rec.ID, "add-followup")
	requireRefusal(t, err, KindNotValidated)

	mustValidate(t, c, rec.ID, 20)

	// Validated: the situation inverts for the default rule.
	err = c.GuardChildMutation(ctx, testModule, rec.ID, "update-entry")
	requireRefusal(t, err, KindAlreadyValidated)
	require.NoError(t, c.GuardChildMutation(ctx, testModule, rec.ID, "add-reevaluation"))
	require.NoError(t, c.GuardChildMutation(ctx, testModule, rec.ID, "add-followup"))
}

func TestGetUnknownRecord(t *testing.T) {
	c, _, _ := newTestController(t, ModuleBinding{})
	_, err := c.Get(context.Background(), testModule, uuid.New())
	requireRefusal(t, err, KindNotFound)
}

func TestChainOfReturnsStageOrder(t *testing.T) {
	c, _, _ := newTestController(t, ModuleBinding{})
	ctx := context.Background()
	initial := mustCreateInitial(t, c, uuid.New(), 2026, 10)
	mustValidate(t, c, initial.ID, 20)
	am1, err := c.CreateAmendment(ctx, testModule, initial.ID, 10)
	require.NoError(t, err)

	chain, err := c.ChainOf(ctx, testModule, am1.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, StageInitial, chain[0].Stage)
	require.Equal(t, StageAmendment1, chain[1].Stage)
}

func TestUnboundModuleIsAnError(t *testing.T) {
	c := NewController(ControllerParams{Repo: NewMemoryRepository()})
	_, err := c.CreateInitial(context.Background(), "unbound", uuid.New(), 2026, 1)
	require.Error(t, err)
}
