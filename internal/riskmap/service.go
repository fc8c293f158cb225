package riskmap

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-compliance/meridian/internal/authz"
	"github.com/meridian-compliance/meridian/internal/lifecycle"
)

// ModuleName identifies risk maps to the engines.
const ModuleName = authz.ModuleRiskMap

// Actions risk maps declare in the capability table.
const (
	ActionCreate          authz.ActionCode = "create"
	ActionAmend           authz.ActionCode = "amend"
	ActionUpdate          authz.ActionCode = "update"
	ActionValidate        authz.ActionCode = "validate"
	ActionUnvalidate      authz.ActionCode = "unvalidate"
	ActionView            authz.ActionCode = "view"
	ActionAddReevaluation authz.ActionCode = "add-reevaluation"
)

// Child operations the lifecycle guard rules on.
const (
	opUpdateEntry     = "update-entry"
	opAddReevaluation = "add-reevaluation"
)

// Grants declares the role requirements for every risk map action.
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
		{Module: ModuleName, Action: ActionAddReevaluation, Roles: editors},
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
	reg.Register(ModuleName, ActionAddReevaluation,
		authz.RecordBelongsToProcessus, authz.NoSuperiorAmendment)
}

// RegisterResolvers maps record references back to their processus.
func RegisterResolvers(table *authz.ResolverTable, chains *lifecycle.Controller) {
	resolver := chains.ResolverFor(string(ModuleName))
	for _, action := range []authz.ActionCode{
		ActionAmend, ActionUpdate, ActionValidate, ActionUnvalidate, ActionView, ActionAddReevaluation,
	} {
		table.Register(ModuleName, action, authz.ResolverFunc(resolver))
	}
}

// Service owns risk map mutations. Every write asks the lifecycle guard and
// the permission engine before touching storage.
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
			opAddReevaluation: lifecycle.RulePostValidationAllowed,
		}},
		Completeness:  s.completeness,
		CloneChildren: repo.CloneInto,
	})
	return s
}

// Create opens a new risk map chain for (processus, period).
func (s *Service) Create(ctx context.Context, user authz.User, processusID uuid.UUID, period int, title string) (*RiskMap, error) {
	if err := s.perms.CanPerform(ctx, user, ModuleName, processusID, ActionCreate, nil).Err(); err != nil {
		return nil, err
	}
	rec, err := s.chains.CreateInitial(ctx, string(ModuleName), processusID, period, user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetTitle(ctx, rec.ID, title); err != nil {
		// The record is already committed; refusing now would strand the
		// chain, since a retried Create hits the slot conflict.
		s.logger.Warn("riskmap: set title after create failed",
			slog.String("record", rec.ID.String()), slog.Any("error", err))
		return &RiskMap{Record: rec}, nil
	}
	return &RiskMap{Record: rec, Title: title}, nil
}

// Amend opens the next stage from a validated map.
func (s *Service) Amend(ctx context.Context, user authz.User, recordID uuid.UUID) (*RiskMap, error) {
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
	title, err := s.repo.Title(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return &RiskMap{Record: rec, Title: title}, nil
}

// Validate closes the map: one winner under concurrency, refused while any
// detail row is incomplete.
func (s *Service) Validate(ctx context.Context, user authz.User, recordID uuid.UUID) (*RiskMap, error) {
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

// Unvalidate reopens the map header for correction without unlocking its
// structural children.
func (s *Service) Unvalidate(ctx context.Context, user authz.User, recordID uuid.UUID) (*RiskMap, error) {
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

// Get returns one map with its detail rows.
func (s *Service) Get(ctx context.Context, user authz.User, recordID uuid.UUID) (*RiskMap, []DetailRow, error) {
	rec, view, err := s.chains.View(ctx, string(ModuleName), recordID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.perms.CanPerform(ctx, user, ModuleName, view.ProcessusID, ActionView, &view).Err(); err != nil {
		return nil, nil, err
	}
	m, err := s.load(ctx, rec)
	if err != nil {
		return nil, nil, err
	}
	details, err := s.repo.ListDetails(ctx, recordID)
	if err != nil {
		return nil, nil, err
	}
	return m, details, nil
}

// List returns a processus's maps, every period when period is zero.
func (s *Service) List(ctx context.Context, user authz.User, processusID uuid.UUID, period int) ([]RiskMap, error) {
	if err := s.perms.CanPerform(ctx, user, ModuleName, processusID, ActionView, nil).Err(); err != nil {
		return nil, err
	}
	records, err := s.chains.List(ctx, string(ModuleName), processusID, period)
	if err != nil {
		return nil, err
	}
	maps := make([]RiskMap, 0, len(records))
	for _, rec := range records {
		m, err := s.load(ctx, rec)
		if err != nil {
			return nil, err
		}
		maps = append(maps, *m)
	}
	return maps, nil
}

// AddDetail adds one risk row to a draft map.
func (s *Service) AddDetail(ctx context.Context, user authz.User, recordID uuid.UUID, input DetailInput) (*DetailRow, error) {
	if err := s.guardAndCheck(ctx, user, recordID, opUpdateEntry, ActionUpdate); err != nil {
		return nil, err
	}
	d := DetailRow{
		ID:        uuid.New(),
		RecordID:  recordID,
		Activity:  input.Activity,
		Risk:      input.Risk,
		Causes:    input.Causes,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertDetail(ctx, d); err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDetail edits one risk row on a draft map.
func (s *Service) UpdateDetail(ctx context.Context, user authz.User, recordID, detailID uuid.UUID, input DetailInput) (*DetailRow, error) {
	if err := s.guardAndCheck(ctx, user, recordID, opUpdateEntry, ActionUpdate); err != nil {
		return nil, err
	}
	d, err := s.repo.GetDetail(ctx, recordID, detailID)
	if err != nil {
		return nil, err
	}
	d.Activity = input.Activity
	d.Risk = input.Risk
	d.Causes = input.Causes
	if err := s.repo.UpdateDetail(ctx, *d); err != nil {
		return nil, err
	}
	return d, nil
}

// DeleteDetail removes one risk row from a draft map.
func (s *Service) DeleteDetail(ctx context.Context, user authz.User, recordID, detailID uuid.UUID) error {
	if err := s.guardAndCheck(ctx, user, recordID, opUpdateEntry, ActionUpdate); err != nil {
		return err
	}
	return s.repo.DeleteDetail(ctx, recordID, detailID)
}

// AddEvaluation scores a risk. Re-scoring stays legal after validation; the
// map keeps its full scoring history.
func (s *Service) AddEvaluation(ctx context.Context, user authz.User, recordID, detailID uuid.UUID, input EvaluationInput) (*Evaluation, error) {
	if err := s.guardAndCheck(ctx, user, recordID, opAddReevaluation, ActionAddReevaluation); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetDetail(ctx, recordID, detailID); err != nil {
		return nil, err
	}
	e := Evaluation{
		ID:          uuid.New(),
		DetailID:    detailID,
		Frequency:   input.Frequency,
		Gravity:     input.Gravity,
		Criticality: input.Frequency * input.Gravity,
		EvaluatedBy: user.ID,
		EvaluatedAt: s.now(),
	}
	if err := s.repo.InsertEvaluation(ctx, e); err != nil {
		return nil, err
	}
	return &e, nil
}

// AddActionPlan commits a mitigation on a draft map.
func (s *Service) AddActionPlan(ctx context.Context, user authz.User, recordID, detailID uuid.UUID, input ActionPlanInput) (*ActionPlan, error) {
	if err := s.guardAndCheck(ctx, user, recordID, opUpdateEntry, ActionUpdate); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetDetail(ctx, recordID, detailID); err != nil {
		return nil, err
	}
	p := ActionPlan{
		ID:       uuid.New(),
		DetailID: detailID,
		Action:   input.Action,
		Owner:    input.Owner,
		Deadline: input.Deadline,
	}
	if err := s.repo.InsertActionPlan(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// guardAndCheck runs the lifecycle guard first, then the permission engine,
// in that order for every child mutation.
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

// completeness blocks validation until every detail row carries at least one
// evaluation and one owned, dated action plan.
func (s *Service) completeness(ctx context.Context, recordID uuid.UUID) ([]lifecycle.FieldError, error) {
	details, err := s.repo.ListDetails(ctx, recordID)
	if err != nil {
		return nil, err
	}
	var missing []lifecycle.FieldError
	for _, d := range details {
		if d.Activity == "" {
			missing = append(missing, lifecycle.FieldError{ChildID: d.ID.String(), Label: d.Risk, Reason: "activity missing"})
		}
		if !hasScoredEvaluation(d.Evaluations) {
			missing = append(missing, lifecycle.FieldError{ChildID: d.ID.String(), Label: d.Risk, Reason: "no scored evaluation"})
		}
		if !hasOwnedPlan(d.ActionPlans) {
			missing = append(missing, lifecycle.FieldError{ChildID: d.ID.String(), Label: d.Risk, Reason: "no action plan with owner and deadline"})
		}
	}
	return missing, nil
}

func hasScoredEvaluation(evals []Evaluation) bool {
	for _, e := range evals {
		if e.Frequency > 0 && e.Gravity > 0 && e.Criticality > 0 {
			return true
		}
	}
	return false
}

func hasOwnedPlan(plans []ActionPlan) bool {
	for _, p := range plans {
		if p.Owner != "" && !p.Deadline.IsZero() {
			return true
		}
	}
	return false
}

func (s *Service) load(ctx context.Context, rec lifecycle.Record) (*RiskMap, error) {
	title, err := s.repo.Title(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return &RiskMap{Record: rec, Title: title}, nil
}
