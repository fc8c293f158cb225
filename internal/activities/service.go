package activities

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-compliance/meridian/internal/authz"
	"github.com/meridian-compliance/meridian/internal/lifecycle"
)

// ModuleName identifies activity programs to the engines.
const ModuleName = authz.ModulePeriodicActivity

// Actions activity programs declare in the capability table.
const (
	ActionCreate      authz.ActionCode = "create"
	ActionAmend       authz.ActionCode = "amend"
	ActionUpdate      authz.ActionCode = "update"
	ActionValidate    authz.ActionCode = "validate"
	ActionUnvalidate  authz.ActionCode = "unvalidate"
	ActionView        authz.ActionCode = "view"
	ActionRecordMonth authz.ActionCode = "record-month"
)

// Child operations the lifecycle guard rules on. Monthly tracking stays
// open after validation: the program freezes, execution does not.
const (
	opUpdateEntry = "update-entry"
	opRecordMonth = "record-month"
)

// Grants declares the role requirements for every program action.
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
		{Module: ModuleName, Action: ActionRecordMonth, Roles: editors},
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
	reg.Register(ModuleName, ActionRecordMonth,
		authz.RecordBelongsToProcessus, authz.MustBeValidated, authz.NoSuperiorAmendment)
}

// RegisterResolvers maps record references back to their processus.
func RegisterResolvers(table *authz.ResolverTable, chains *lifecycle.Controller) {
	resolver := chains.ResolverFor(string(ModuleName))
	for _, action := range []authz.ActionCode{
		ActionAmend, ActionUpdate, ActionValidate, ActionUnvalidate, ActionView, ActionRecordMonth,
	} {
		table.Register(ModuleName, action, authz.ResolverFunc(resolver))
	}
}

// Service owns activity program mutations.
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
			opRecordMonth: lifecycle.RulePostValidationAllowed,
		}},
		Completeness:  s.completeness,
		CloneChildren: repo.CloneInto,
	})
	return s
}

// Create opens a new program chain for (processus, period).
func (s *Service) Create(ctx context.Context, user authz.User, processusID uuid.UUID, period int, title string) (*Program, error) {
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
		s.logger.Warn("activities: set title after create failed",
			slog.String("record", rec.ID.String()), slog.Any("error", err))
		return &Program{Record: rec}, nil
	}
	return &Program{Record: rec, Title: title}, nil
}

// Amend opens the next stage from a validated program.
func (s *Service) Amend(ctx context.Context, user authz.User, recordID uuid.UUID) (*Program, error) {
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

// Validate freezes the yearly program; monthly tracking opens here.
func (s *Service) Validate(ctx context.Context, user authz.User, recordID uuid.UUID) (*Program, error) {
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

// Unvalidate reopens the program header for correction.
func (s *Service) Unvalidate(ctx context.Context, user authz.User, recordID uuid.UUID) (*Program, error) {
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

// Get returns one program with its activity rows.
func (s *Service) Get(ctx context.Context, user authz.User, recordID uuid.UUID) (*Program, []Activity, error) {
	rec, view, err := s.chains.View(ctx, string(ModuleName), recordID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.perms.CanPerform(ctx, user, ModuleName, view.ProcessusID, ActionView, &view).Err(); err != nil {
		return nil, nil, err
	}
	program, err := s.load(ctx, rec)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.repo.ListActivities(ctx, recordID)
	if err != nil {
		return nil, nil, err
	}
	return program, rows, nil
}

// List returns a processus's programs, every period when period is zero.
func (s *Service) List(ctx context.Context, user authz.User, processusID uuid.UUID, period int) ([]Program, error) {
	if err := s.perms.CanPerform(ctx, user, ModuleName, processusID, ActionView, nil).Err(); err != nil {
		return nil, err
	}
	records, err := s.chains.List(ctx, string(ModuleName), processusID, period)
	if err != nil {
		return nil, err
	}
	programs := make([]Program, 0, len(records))
	for _, rec := range records {
		program, err := s.load(ctx, rec)
		if err != nil {
			return nil, err
		}
		programs = append(programs, *program)
	}
	return programs, nil
}

// AddActivity adds one recurring activity row to a draft program.
func (s *Service) AddActivity(ctx context.Context, user authz.User, recordID uuid.UUID, input ActivityInput) (*Activity, error) {
	if err := s.guardAndCheck(ctx, user, recordID, opUpdateEntry, ActionUpdate); err != nil {
		return nil, err
	}
	a := Activity{
		ID:          uuid.New(),
		RecordID:    recordID,
		Description: input.Description,
		Frequency:   input.Frequency,
		Units:       input.Units,
		CreatedAt:   s.now(),
	}
	if err := s.repo.InsertActivity(ctx, a); err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateActivity edits one row on a draft program.
func (s *Service) UpdateActivity(ctx context.Context, user authz.User, recordID, activityID uuid.UUID, input ActivityInput) (*Activity, error) {
	if err := s.guardAndCheck(ctx, user, recordID, opUpdateEntry, ActionUpdate); err != nil {
		return nil, err
	}
	a, err := s.repo.GetActivity(ctx, recordID, activityID)
	if err != nil {
		return nil, err
	}
	a.Description = input.Description
	a.Frequency = input.Frequency
	a.Units = input.Units
	if err := s.repo.UpdateActivity(ctx, *a); err != nil {
		return nil, err
	}
	return a, nil
}

// DeleteActivity removes one row from a draft program.
func (s *Service) DeleteActivity(ctx context.Context, user authz.User, recordID, activityID uuid.UUID) error {
	if err := s.guardAndCheck(ctx, user, recordID, opUpdateEntry, ActionUpdate); err != nil {
		return err
	}
	return s.repo.DeleteActivity(ctx, recordID, activityID)
}

// RecordMonth marks an activity's outcome for one month. Stays legal after
// validation; refuses a second entry for the same month.
func (s *Service) RecordMonth(ctx context.Context, user authz.User, recordID, activityID uuid.UUID, input MonthEntryInput) (*MonthEntry, error) {
	if err := s.guardAndCheck(ctx, user, recordID, opRecordMonth, ActionRecordMonth); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetActivity(ctx, recordID, activityID); err != nil {
		return nil, err
	}
	e := MonthEntry{
		ID:         uuid.New(),
		ActivityID: activityID,
		Month:      input.Month,
		Done:       input.Done,
		Note:       input.Note,
		RecordedBy: user.ID,
		RecordedAt: s.now(),
	}
	if err := s.repo.InsertEntry(ctx, e); err != nil {
		return nil, err
	}
	return &e, nil
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

// completeness blocks validation until every activity row carries a
// description, a frequency and at least one responsible unit.
func (s *Service) completeness(ctx context.Context, recordID uuid.UUID) ([]lifecycle.FieldError, error) {
	rows, err := s.repo.ListActivities(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []lifecycle.FieldError{{ChildID: recordID.String(), Label: "program", Reason: "no activity"}}, nil
	}
	var missing []lifecycle.FieldError
	for _, a := range rows {
		if a.Description == "" {
			missing = append(missing, lifecycle.FieldError{ChildID: a.ID.String(), Label: a.Frequency, Reason: "description missing"})
		}
		if a.Frequency == "" {
			missing = append(missing, lifecycle.FieldError{ChildID: a.ID.String(), Label: a.Description, Reason: "frequency missing"})
		}
		if len(a.Units) == 0 {
			missing = append(missing, lifecycle.FieldError{ChildID: a.ID.String(), Label: a.Description, Reason: "no responsible unit"})
		}
	}
	return missing, nil
}

func (s *Service) load(ctx context.Context, rec lifecycle.Record) (*Program, error) {
	title, err := s.repo.Title(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return &Program{Record: rec, Title: title}, nil
}
