package scorecard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-compliance/meridian/internal/authz"
	"github.com/meridian-compliance/meridian/internal/lifecycle"
)

// ModuleName identifies scorecards to the engines.
const ModuleName = authz.ModuleScorecard

// Actions scorecards declare in the capability table.
const (
	ActionCreate            authz.ActionCode = "create"
	ActionAmend             authz.ActionCode = "amend"
	ActionUpdate            authz.ActionCode = "update"
	ActionValidate          authz.ActionCode = "validate"
	ActionUnvalidate        authz.ActionCode = "unvalidate"
	ActionView              authz.ActionCode = "view"
	ActionRecordObservation authz.ActionCode = "record-observation"
)

// Child operations the lifecycle guard rules on. Observations stay open
// after validation: measuring against a frozen target is the whole point.
const (
	opUpdateEntry       = "update-entry"
	opRecordObservation = "record-observation"
)

// Grants declares the role requirements for every scorecard action.
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
		{Module: ModuleName, Action: ActionRecordObservation, Roles: editors},
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
	reg.Register(ModuleName, ActionRecordObservation,
		authz.RecordBelongsToProcessus, authz.NoSuperiorAmendment)
}

// RegisterResolvers maps record references back to their processus.
func RegisterResolvers(table *authz.ResolverTable, chains *lifecycle.Controller) {
	resolver := chains.ResolverFor(string(ModuleName))
	for _, action := range []authz.ActionCode{
		ActionAmend, ActionUpdate, ActionValidate, ActionUnvalidate, ActionView, ActionRecordObservation,
	} {
		table.Register(ModuleName, action, authz.ResolverFunc(resolver))
	}
}

// Service owns scorecard mutations.
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
			opRecordObservation: lifecycle.RulePostValidationAllowed,
		}},
		Completeness:  s.completeness,
		CloneChildren: repo.CloneInto,
	})
	return s
}

// Create opens a new scorecard chain for (processus, period).
func (s *Service) Create(ctx context.Context, user authz.User, processusID uuid.UUID, period int, name string) (*Scorecard, error) {
	if err := s.perms.CanPerform(ctx, user, ModuleName, processusID, ActionCreate, nil).Err(); err != nil {
		return nil, err
	}
	rec, err := s.chains.CreateInitial(ctx, string(ModuleName), processusID, period, user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetName(ctx, rec.ID, name); err != nil {
		// The record is already committed; refusing now would strand the
		// chain, since a retried Create hits the slot conflict.
		s.logger.Warn("scorecard: set name after create failed",
			slog.String("record", rec.ID.String()), slog.Any("error", err))
		return &Scorecard{Record: rec}, nil
	}
	return &Scorecard{Record: rec, Name: name}, nil
}

// Amend opens the next stage from a validated scorecard.
func (s *Service) Amend(ctx context.Context, user authz.User, recordID uuid.UUID) (*Scorecard, error) {
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

// Validate freezes objectives and targets; observation recording opens here.
func (s *Service) Validate(ctx context.Context, user authz.User, recordID uuid.UUID) (*Scorecard, error) {
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

// Unvalidate reopens the scorecard header for correction.
func (s *Service) Unvalidate(ctx context.Context, user authz.User, recordID uuid.UUID) (*Scorecard, error) {
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

// Get returns one scorecard with its objective tree.
func (s *Service) Get(ctx context.Context, user authz.User, recordID uuid.UUID) (*Scorecard, []Objective, error) {
	rec, view, err := s.chains.View(ctx, string(ModuleName), recordID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.perms.CanPerform(ctx, user, ModuleName, view.ProcessusID, ActionView, &view).Err(); err != nil {
		return nil, nil, err
	}
	card, err := s.load(ctx, rec)
	if err != nil {
		return nil, nil, err
	}
	objectives, err := s.repo.ListObjectives(ctx, recordID)
	if err != nil {
		return nil, nil, err
	}
	return card, objectives, nil
}

// List returns a processus's scorecards, every period when period is zero.
func (s *Service) List(ctx context.Context, user authz.User, processusID uuid.UUID, period int) ([]Scorecard, error) {
	if err := s.perms.CanPerform(ctx, user, ModuleName, processusID, ActionView, nil).Err(); err != nil {
		return nil, err
	}
	records, err := s.chains.List(ctx, string(ModuleName), processusID, period)
	if err != nil {
		return nil, err
	}
	cards := make([]Scorecard, 0, len(records))
	for _, rec := range records {
		card, err := s.load(ctx, rec)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *card)
	}
	return cards, nil
}

// AddObjective adds one performance goal to a draft scorecard.
func (s *Service) AddObjective(ctx context.Context, user authz.User, recordID uuid.UUID, input ObjectiveInput) (*Objective, error) {
	if err := s.guardAndCheck(ctx, user, recordID, opUpdateEntry, ActionUpdate); err != nil {
		return nil, err
	}
	o := Objective{
		ID:        uuid.New(),
		RecordID:  recordID,
		Label:     input.Label,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertObjective(ctx, o); err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateObjective edits one goal on a draft scorecard.
func (s *Service) UpdateObjective(ctx context.Context, user authz.User, recordID, objectiveID uuid.UUID, input ObjectiveInput) (*Objective, error) {
	if err := s.guardAndCheck(ctx, user, recordID, opUpdateEntry, ActionUpdate); err != nil {
		return nil, err
	}
	o := Objective{ID: objectiveID, RecordID: recordID, Label: input.Label}
	if err := s.repo.UpdateObjective(ctx, o); err != nil {
		return nil, err
	}
	return &o, nil
}

// DeleteObjective removes one goal, cascading to its indicators.
func (s *Service) DeleteObjective(ctx context.Context, user authz.User, recordID, objectiveID uuid.UUID) error {
	if err := s.guardAndCheck(ctx, user, recordID, opUpdateEntry, ActionUpdate); err != nil {
		return err
	}
	return s.repo.DeleteObjective(ctx, recordID, objectiveID)
}

// AddIndicator adds one measurable line under an objective.
func (s *Service) AddIndicator(ctx context.Context, user authz.User, recordID, objectiveID uuid.UUID, input IndicatorInput) (*Indicator, error) {
	if err := s.guardAndCheck(ctx, user, recordID, opUpdateEntry, ActionUpdate); err != nil {
		return nil, err
	}
	in := Indicator{
		ID:          uuid.New(),
		ObjectiveID: objectiveID,
		Label:       input.Label,
		Unit:        input.Unit,
		Target:      input.Target,
		Frequency:   input.Frequency,
	}
	if err := s.repo.InsertIndicator(ctx, recordID, in); err != nil {
		return nil, err
	}
	return &in, nil
}

// UpdateIndicator edits one line on a draft scorecard.
func (s *Service) UpdateIndicator(ctx context.Context, user authz.User, recordID, indicatorID uuid.UUID, input IndicatorInput) (*Indicator, error) {
	if err := s.guardAndCheck(ctx, user, recordID, opUpdateEntry, ActionUpdate); err != nil {
		return nil, err
	}
	in, err := s.repo.GetIndicator(ctx, recordID, indicatorID)
	if err != nil {
		return nil, err
	}
	in.Label = input.Label
	in.Unit = input.Unit
	in.Target = input.Target
	in.Frequency = input.Frequency
	if err := s.repo.UpdateIndicator(ctx, recordID, *in); err != nil {
		return nil, err
	}
	return in, nil
}

// DeleteIndicator removes one line from a draft scorecard.
func (s *Service) DeleteIndicator(ctx context.Context, user authz.User, recordID, indicatorID uuid.UUID) error {
	if err := s.guardAndCheck(ctx, user, recordID, opUpdateEntry, ActionUpdate); err != nil {
		return err
	}
	return s.repo.DeleteIndicator(ctx, recordID, indicatorID)
}

// RecordObservation measures an indicator. Stays legal after validation.
func (s *Service) RecordObservation(ctx context.Context, user authz.User, recordID, indicatorID uuid.UUID, input ObservationInput) (*Observation, error) {
	if err := s.guardAndCheck(ctx, user, recordID, opRecordObservation, ActionRecordObservation); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetIndicator(ctx, recordID, indicatorID); err != nil {
		return nil, err
	}
	ob := Observation{
		ID:          uuid.New(),
		IndicatorID: indicatorID,
		Value:       input.Value,
		Note:        input.Note,
		RecordedBy:  user.ID,
		RecordedAt:  s.now(),
	}
	if err := s.repo.InsertObservation(ctx, ob); err != nil {
		return nil, err
	}
	return &ob, nil
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

// completeness blocks validation until every objective carries at least one
// indicator and every indicator has a target and a frequency.
func (s *Service) completeness(ctx context.Context, recordID uuid.UUID) ([]lifecycle.FieldError, error) {
	objectives, err := s.repo.ListObjectives(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if len(objectives) == 0 {
		return []lifecycle.FieldError{{ChildID: recordID.String(), Label: "scorecard", Reason: "no objective"}}, nil
	}
	var missing []lifecycle.FieldError
	for _, o := range objectives {
		if len(o.Indicators) == 0 {
			missing = append(missing, lifecycle.FieldError{ChildID: o.ID.String(), Label: o.Label, Reason: "no indicator"})
			continue
		}
		for _, in := range o.Indicators {
			label := fmt.Sprintf("%s / %s", o.Label, in.Label)
			if in.Target == 0 {
				missing = append(missing, lifecycle.FieldError{ChildID: in.ID.String(), Label: label, Reason: "target missing"})
			}
			if in.Frequency == "" {
				missing = append(missing, lifecycle.FieldError{ChildID: in.ID.String(), Label: label, Reason: "frequency missing"})
			}
		}
	}
	return missing, nil
}

func (s *Service) load(ctx context.Context, rec lifecycle.Record) (*Scorecard, error) {
	name, err := s.repo.Name(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return &Scorecard{Record: rec, Name: name}, nil
}
