package pac

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-compliance/meridian/internal/authz"
	"github.com/meridian-compliance/meridian/internal/lifecycle"
)

// ModuleName identifies corrective plans to the engines.
const ModuleName = authz.ModuleCorrectivePlan

// Actions corrective plans declare in the capability table.
const (
	ActionCreate      authz.ActionCode = "create"
	ActionAmend       authz.ActionCode = "amend"
	ActionUpdate      authz.ActionCode = "update"
	ActionValidate    authz.ActionCode = "validate"
	ActionUnvalidate  authz.ActionCode = "unvalidate"
	ActionView        authz.ActionCode = "view"
	ActionAddFollowUp authz.ActionCode = "add-followup"
)

// Child operations the lifecycle guard rules on. Follow-ups invert the usual
// rule: they are legal only once the plan is validated, because tracking
// execution of a draft plan is meaningless.
const (
	opUpdateEntry = "update-entry"
	opAddFollowUp = "add-followup"
)

// Grants declares the role requirements for every plan action.
func Grants() []authz.Grant {
	editors := []authz.RoleCode{authz.RoleEditor, authz.RoleAdmin}
	validators := []authz.RoleCode{authz.RoleValidator, authz.RoleAdmin}
	everyone := []authz.RoleCode{authz.RoleViewer, authz.RoleEditor, authz.RoleValidator, authz.RoleAdmin}
	return []authz.Grant{
		{Module: ModuleName, Action: ActionCreate, Roles: editors},
		{Module: ModuleName, Action: ActionAmend, Roles: editors},
		{Module: ModuleName, Action: ActionUpdate, Roles: editors},
		{Module: ModuleName, Action: ActionValidate, Roles: validators},
		{Module: ModuleName, Action: ActionUnvalidate, Roles: []authz.RoleCode{authz.RoleAdmin}},
		{Module: ModuleName, Action: ActionView, Roles: everyone},
		{Module: ModuleName, Action: ActionAddFollowUp, Roles: editors},
	}
}

// RegisterPredicates installs the record-contextual rules.
func RegisterPredicates(reg *authz.PredicateRegistry) {
	reg.Register(ModuleName, ActionUpdate,
		authz.RecordBelongsToProcessus, authz.MustNotBeValidated, authz.NoSuperiorAmendment)
	reg.Register(ModuleName, ActionAmend,
		authz.RecordBelongsToProcessus, authz.MustBeValidated, authz.MustBeCreator, authz.NoSuperiorAmendment)
	reg.Register(ModuleName, ActionValidate,
		authz.RecordBelongsToProcessus, authz.MustNotBeValidated, authz.NoSuperiorAmendment)
	reg.Register(ModuleName, ActionUnvalidate,
		authz.RecordBelongsToProcessus, authz.MustBeValidated, authz.NoSuperiorAmendment)
	reg.Register(ModuleName, ActionAddFollowUp,
		authz.RecordBelongsToProcessus, authz.MustBeValidated, authz.NoSuperiorAmendment)
}

// RegisterResolvers maps record references back to their processus.
func RegisterResolvers(table *authz.ResolverTable, chains *lifecycle.Controller) {
	resolver := chains.ResolverFor(string(ModuleName))
	for _, action := range []authz.ActionCode{
		ActionAmend, ActionUpdate, ActionValidate, ActionUnvalidate, ActionView, ActionAddFollowUp,
	} {
		table.Register(ModuleName, action, authz.ResolverFunc(resolver))
	}
}

// Service owns corrective plan mutations.
type Service struct {
	repo   RepositoryPort
	perms  *authz.Service
	chains *lifecycle.Controller
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance and binds the module to the lifecycle
// controller.
func NewService(repo RepositoryPort, perms *authz.Service, chains *lifecycle.Controller, logger *slog.Logger) *Service {
	s := &Service{repo: repo, perms: perms, chains: chains, logger: logger, now: time.Now}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	chains.Bind(string(ModuleName), lifecycle.ModuleBinding{
		Policy: lifecycle.ChildPolicy{Rules: map[string]lifecycle.ChildRule{
			opAddFollowUp: lifecycle.RuleRequiresValidation,
		}},
		Completeness:  s.completeness,
		CloneChildren: repo.CloneInto,
	})
	return s
}

// Create opens a new plan chain for (processus, period).
func (s *Service) Create(ctx context.Context, user authz.User, processusID uuid.UUID, period int, origin string) (*Plan, error) {
	if err := s.perms.CanPerform(ctx, user, ModuleName, processusID, ActionCreate, nil).Err(); err != nil {
		return nil, err
	}
	rec, err := s.chains.CreateInitial(ctx, string(ModuleName), processusID, period, user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetOrigin(ctx, rec.ID, origin); err != nil {
		// The record is already committed; refusing now would strand the
		// chain, since a retried Create hits the slot conflict. Hand the
		// plan back without its origin and log the miss.
		s.logger.Warn("pac: set origin after create failed",
			slog.String("record", rec.ID.String()), slog.Any("error", err))
		return &Plan{Record: rec}, nil
	}
	return &Plan{Record: rec, Origin: origin}, nil
}

// Amend opens the next stage from a validated plan.
func (s *Service) Amend(ctx context.Context, user authz.User, recordID uuid.UUID) (*Plan, error) {
	_, view, err := s.chains.View(ctx, string(ModuleName), recordID)
	if err != nil {
		return nil, err
	}
	if err := s.perms.CanPerform(ctx, user, ModuleName, view.ProcessusID, ActionAmend, &view).Err(); err != nil {
		return nil, err
	}
	rec, err := s.chains.CreateAmendment(ctx, string(ModuleName), recordID, user.ID)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, rec)
}

// Validate closes the plan's content; follow-up tracking opens here.
func (s *Service) Validate(ctx context.Context, user authz.User, recordID uuid.UUID) (*Plan, error) {
	_, view, err := s.chains.View(ctx, string(ModuleName), recordID)
	if err != nil {
		return nil, err
	}
	if err := s.perms.CanPerform(ctx, user, ModuleName, view.ProcessusID, ActionValidate, &view).Err(); err != nil {
		return nil, err
	}
	rec, err := s.chains.Validate(ctx, string(ModuleName), recordID, user.ID)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, rec)
}

// Unvalidate reopens the plan header for correction.
func (s *Service) Unvalidate(ctx context.Context, user authz.User, recordID uuid.UUID) (*Plan, error) {
	_, view, err := s.chains.View(ctx, string(ModuleName), recordID)
	if err != nil {
		return nil, err
	}
	if err := s.perms.CanPerform(ctx, user, ModuleName, view.ProcessusID, ActionUnvalidate, &view).Err(); err != nil {
		return nil, err
	}
	rec, err := s.chains.Unvalidate(ctx, string(ModuleName), recordID, user.ID)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, rec)
}

// Get returns one plan with its treatments.
func (s *Service) Get(ctx context.Context, user authz.User, recordID uuid.UUID) (*Plan, []Treatment, error) {
	rec, view, err := s.chains.View(ctx, string(ModuleName), recordID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.perms.CanPerform(ctx, user, ModuleName, view.ProcessusID, ActionView, &view).Err(); err != nil {
		return nil, nil, err
	}
	plan, err := s.load(ctx, rec)
	if err != nil {
		return nil, nil, err
	}
	treatments, err := s.repo.ListTreatments(ctx, recordID)
	if err != nil {
		return nil, nil, err
	}
	return plan, treatments, nil
}

// List returns a processus's plans, every period when period is zero.
func (s *Service) List(ctx context.Context, user authz.User, processusID uuid.UUID, period int) ([]Plan, error) {
	if err := s.perms.CanPerform(ctx, user, ModuleName, processusID, ActionView, nil).Err(); err != nil {
		return nil, err
	}
	records, err := s.chains.List(ctx, string(ModuleName), processusID, period)
	if err != nil {
		return nil, err
	}
	plans := make([]Plan, 0, len(records))
	for _, rec := range records {
		plan, err := s.load(ctx, rec)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}
	return plans, nil
}

// AddTreatment adds one corrective measure to a draft plan.
func (s *Service) AddTreatment(ctx context.Context, user authz.User, recordID uuid.UUID, input TreatmentInput) (*Treatment, error) {
	if err := s.guardAndCheck(ctx, user, recordID, opUpdateEntry, ActionUpdate); err != nil {
		return nil, err
	}
	tr := Treatment{
		ID:        uuid.New(),
		RecordID:  recordID,
		Action:    input.Action,
		Type:      input.Type,
		Owner:     input.Owner,
		Deadline:  input.Deadline,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertTreatment(ctx, tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// UpdateTreatment edits one measure on a draft plan.
func (s *Service) UpdateTreatment(ctx context.Context, user authz.User, recordID, treatmentID uuid.UUID, input TreatmentInput) (*Treatment, error) {
	if err := s.guardAndCheck(ctx, user, recordID, opUpdateEntry, ActionUpdate); err != nil {
		return nil, err
	}
	tr, err := s.repo.GetTreatment(ctx, recordID, treatmentID)
	if err != nil {
		return nil, err
	}
	tr.Action = input.Action
	tr.Type = input.Type
	tr.Owner = input.Owner
	tr.Deadline = input.Deadline
	if err := s.repo.UpdateTreatment(ctx, *tr); err != nil {
		return nil, err
	}
	return tr, nil
}

// DeleteTreatment removes one measure from a draft plan.
func (s *Service) DeleteTreatment(ctx context.Context, user authz.User, recordID, treatmentID uuid.UUID) error {
	if err := s.guardAndCheck(ctx, user, recordID, opUpdateEntry, ActionUpdate); err != nil {
		return err
	}
	return s.repo.DeleteTreatment(ctx, recordID, treatmentID)
}

// AddFollowUp records execution progress. Legal only on a validated plan.
func (s *Service) AddFollowUp(ctx context.Context, user authz.User, recordID, treatmentID uuid.UUID, input FollowUpInput) (*FollowUp, error) {
	if err := s.guardAndCheck(ctx, user, recordID, opAddFollowUp, ActionAddFollowUp); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetTreatment(ctx, recordID, treatmentID); err != nil {
		return nil, err
	}
	fu := FollowUp{
		ID:         uuid.New(),
		Treatment:  treatmentID,
		Note:       input.Note,
		ProgressPC: input.ProgressPC,
		RecordedBy: user.ID,
		RecordedAt: s.now(),
	}
	if err := s.repo.InsertFollowUp(ctx, fu); err != nil {
		return nil, err
	}
	return &fu, nil
}

func (s *Service) guardAndCheck(ctx context.Context, user authz.User, recordID uuid.UUID, op string, action authz.ActionCode) error {
	if err := s.chains.GuardChildMutation(ctx, string(ModuleName), recordID, op); err != nil {
		return err
	}
	_, view, err := s.chains.View(ctx, string(ModuleName), recordID)
	if err != nil {
		return err
	}
	return s.perms.CanPerform(ctx, user, ModuleName, view.ProcessusID, action, &view).Err()
}

// completeness blocks validation until the plan holds at least one fully
// specified treatment.
func (s *Service) completeness(ctx context.Context, recordID uuid.UUID) ([]lifecycle.FieldError, error) {
	treatments, err := s.repo.ListTreatments(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if len(treatments) == 0 {
		return []lifecycle.FieldError{{ChildID: recordID.String(), Label: "plan", Reason: "no treatment"}}, nil
	}
	var missing []lifecycle.FieldError
	for _, tr := range treatments {
		if tr.Action == "" {
			missing = append(missing, lifecycle.FieldError{ChildID: tr.ID.String(), Label: tr.Owner, Reason: "action text missing"})
		}
		if tr.Type == "" {
			missing = append(missing, lifecycle.FieldError{ChildID: tr.ID.String(), Label: tr.Action, Reason: "treatment type missing"})
		}
		if tr.Deadline.IsZero() {
			missing = append(missing, lifecycle.FieldError{ChildID: tr.ID.String(), Label: tr.Action, Reason: "deadline missing"})
		}
	}
	return missing, nil
}

func (s *Service) load(ctx context.Context, rec lifecycle.Record) (*Plan, error) {
	origin, err := s.repo.Origin(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return &Plan{Record: rec, Origin: origin}, nil
}
