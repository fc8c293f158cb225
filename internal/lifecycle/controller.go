package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-compliance/meridian/internal/platform/httpx"
)

// RepositoryPort is the persistence surface the controller drives. An
// INITIAL slot is keyed by (module, processus, period, creator); once the
// chain exists, amendment slots belong to the chain itself, not to whoever
// creates them. Stages within a chain are unique, enforced both here and by
// the database.
type RepositoryPort interface {
	Get(ctx context.Context, module string, id uuid.UUID) (Record, error)
	Chain(ctx context.Context, module string, chainID uuid.UUID) ([]Record, error)
	ListByProcessus(ctx context.Context, module string, processusID uuid.UUID, period int) ([]Record, error)
	InitialTaken(ctx context.Context, module string, processusID uuid.UUID, period int, createdBy int64) (bool, error)
	StageTaken(ctx context.Context, module string, chainID uuid.UUID, stage Stage) (bool, error)
	Successor(ctx context.Context, module string, rec Record) (*Record, error)
	Insert(ctx context.Context, rec Record) error
	MarkValidated(ctx context.Context, module string, id uuid.UUID, validatorID int64, at time.Time) (bool, error)
	MarkUnvalidated(ctx context.Context, module string, id uuid.UUID) (bool, error)
}

// CompletenessFunc inspects a record's owned entries and returns one
// FieldError per entry that blocks validation. An empty slice means the
// record is complete.
type CompletenessFunc func(ctx context.Context, recordID uuid.UUID) ([]FieldError, error)

// CloneFunc copies a predecessor's owned entries onto a freshly created
// amendment so editing starts from the validated baseline.
type CloneFunc func(ctx context.Context, fromID, toID uuid.UUID) error

// ModuleBinding is what a module adapter registers with the controller.
type ModuleBinding struct {
	Policy        ChildPolicy
	Completeness  CompletenessFunc
	CloneChildren CloneFunc
}

// Event is one lifecycle transition handed to the audit sink.
type Event struct {
	Module   string
	RecordID uuid.UUID
	Action   string
	ActorID  int64
	Detail   string
	At       time.Time
}

// EventSink receives transition events. Implementations must not fail the
// transition; persistence errors are their own problem to log.
type EventSink interface {
	RecordEvent(ctx context.Context, e Event)
}

type multiSink []EventSink

func (m multiSink) RecordEvent(ctx context.Context, e Event) {
	for _, s := range m {
		s.RecordEvent(ctx, e)
	}
}

// MultiSink fans one transition event out to several sinks.
func MultiSink(sinks ...EventSink) EventSink {
	return multiSink(sinks)
}

// Controller enforces the stage machine for every registered module.
type Controller struct {
	repo     RepositoryPort
	bindings map[string]ModuleBinding
	events   EventSink
	logger   *slog.Logger
	now      func() time.Time
}

// ControllerParams collects the controller's dependencies. Events and Logger
// are optional.
type ControllerParams struct {
	Repo   RepositoryPort
	Events EventSink
	Logger *slog.Logger
	Now    func() time.Time
}

func NewController(p ControllerParams) *Controller {
	c := &Controller{
		repo:     p.Repo,
		bindings: make(map[string]ModuleBinding),
		events:   p.Events,
		logger:   p.Logger,
		now:      p.Now,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Bind registers a module's policy and callbacks. Binding the same module
// twice is a wiring bug.
func (c *Controller) Bind(module string, b ModuleBinding) {
	if _, dup := c.bindings[module]; dup {
		panic(fmt.Sprintf("lifecycle: module %q bound twice", module))
	}
	c.bindings[module] = b
}

func (c *Controller) binding(module string) (ModuleBinding, error) {
	b, ok := c.bindings[module]
	if !ok {
		return ModuleBinding{}, fmt.Errorf("lifecycle: module %q not bound", module)
	}
	return b, nil
}

// Get fetches one record, mapping repository misses to KindNotFound.
func (c *Controller) Get(ctx context.Context, module string, id uuid.UUID) (Record, error) {
	rec, err := c.repo.Get(ctx, module, id)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return Record{}, refused(KindNotFound, "record %s not found", id)
		}
		return Record{}, fmt.Errorf("lifecycle: get record: %w", err)
	}
	return rec, nil
}

// ChainOf returns the full chain a record belongs to, in stage order.
func (c *Controller) ChainOf(ctx context.Context, module string, id uuid.UUID) ([]Record, error) {
	rec, err := c.Get(ctx, module, id)
	if err != nil {
		return nil, err
	}
	chain, err := c.repo.Chain(ctx, module, rec.ChainID())
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load chain: %w", err)
	}
	return chain, nil
}

// List returns a processus's records for module, every period when period
// is zero.
func (c *Controller) List(ctx context.Context, module string, processusID uuid.UUID, period int) ([]Record, error) {
	records, err := c.repo.ListByProcessus(ctx, module, processusID, period)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list by processus: %w", err)
	}
	return records, nil
}

// CreateInitial opens a new chain for (processus, period, creator). At most
// one INITIAL may exist per slot; the database constraint backs the check.
func (c *Controller) CreateInitial(ctx context.Context, module string, processusID uuid.UUID, period int, createdBy int64) (Record, error) {
	if _, err := c.binding(module); err != nil {
		return Record{}, err
	}
	taken, err := c.repo.InitialTaken(ctx, module, processusID, period, createdBy)
	if err != nil {
		return Record{}, fmt.Errorf("lifecycle: probe initial slot: %w", err)
	}
	if taken {
		return Record{}, refused(KindAlreadyExists, "an initial record already exists for this processus and period")
	}

	rec := Record{
		ID:          uuid.New(),
		Module:      module,
		ProcessusID: processusID,
		Period:      period,
		Stage:       StageInitial,
		CreatedBy:   createdBy,
		CreatedAt:   c.now(),
	}
	if err := c.repo.Insert(ctx, rec); err != nil {
		if errors.Is(err, httpx.ErrDuplicate) {
			return Record{}, refused(KindAlreadyExists, "an initial record already exists for this processus and period")
		}
		return Record{}, fmt.Errorf("lifecycle: insert initial: %w", err)
	}
	c.emit(ctx, Event{Module: module, RecordID: rec.ID, Action: "create_initial", ActorID: createdBy, At: rec.CreatedAt})
	return rec, nil
}

// CreateAmendment opens the next stage of an existing chain. The predecessor
// must be validated and the chain below its cap. Creating the amendment
// freezes the predecessor: the freeze is derived from the successor's
// existence, so it takes effect atomically with the insert.
func (c *Controller) CreateAmendment(ctx context.Context, module string, predecessorID uuid.UUID, createdBy int64) (Record, error) {
	b, err := c.binding(module)
	if err != nil {
		return Record{}, err
	}
	pred, err := c.Get(ctx, module, predecessorID)
	if err != nil {
		return Record{}, err
	}
	if !pred.IsValidated {
		return Record{}, refused(KindPredecessorNotValidated, "%s must be validated before amending", pred.Stage)
	}
	next, ok := pred.Stage.Next()
	if !ok {
		return Record{}, refused(KindMaxAmendmentsReached, "chain already holds its final amendment")
	}
	// The slot is keyed by the chain, not the amender: someone other than
	// the chain's creator may raise the amendment, but never a second one.
	chainID := pred.ChainID()
	taken, err := c.repo.StageTaken(ctx, module, chainID, next)
	if err != nil {
		return Record{}, fmt.Errorf("lifecycle: probe amendment slot: %w", err)
	}
	if taken {
		return Record{}, refused(KindAlreadyExists, "%s already exists for this chain", next)
	}

	rec := Record{
		ID:          uuid.New(),
		Module:      module,
		ProcessusID: pred.ProcessusID,
		Period:      pred.Period,
		Stage:       next,
		InitialRef:  &chainID,
		CreatedBy:   createdBy,
		CreatedAt:   c.now(),
	}
	if err := c.repo.Insert(ctx, rec); err != nil {
		if errors.Is(err, httpx.ErrDuplicate) {
			return Record{}, refused(KindAlreadyExists, "%s already exists for this chain", next)
		}
		return Record{}, fmt.Errorf("lifecycle: insert amendment: %w", err)
	}
	if b.CloneChildren != nil {
		if err := b.CloneChildren(ctx, pred.ID, rec.ID); err != nil {
			return Record{}, fmt.Errorf("lifecycle: clone children onto %s: %w", rec.ID, err)
		}
	}
	c.emit(ctx, Event{Module: module, RecordID: rec.ID, Action: "create_amendment", ActorID: createdBy, Detail: next.String(), At: rec.CreatedAt})
	return rec, nil
}

// Validate flips the record's one-way validation gate. Under concurrent
// calls exactly one wins; losers get KindAlreadyValidated. Validation is
// refused while owned entries are incomplete, and the refusal lists every
// incomplete entry.
func (c *Controller) Validate(ctx context.Context, module string, id uuid.UUID, validatorID int64) (Record, error) {
	b, err := c.binding(module)
	if err != nil {
		return Record{}, err
	}
	rec, err := c.Get(ctx, module, id)
	if err != nil {
		return Record{}, err
	}
	if err := c.checkNotFrozen(ctx, module, rec); err != nil {
		return Record{}, err
	}
	if rec.IsValidated {
		return Record{}, refused(KindAlreadyValidated, "record is already validated")
	}
	if b.Completeness != nil {
		missing, err := b.Completeness(ctx, rec.ID)
		if err != nil {
			return Record{}, fmt.Errorf("lifecycle: completeness check: %w", err)
		}
		if len(missing) > 0 {
			return Record{}, &TransitionError{
				Kind:    KindIncompleteChildren,
				Detail:  fmt.Sprintf("%d entries are incomplete", len(missing)),
				Missing: missing,
			}
		}
	}

	at := c.now()
	won, err := c.repo.MarkValidated(ctx, module, rec.ID, validatorID, at)
	if err != nil {
		return Record{}, fmt.Errorf("lifecycle: mark validated: %w", err)
	}
	if !won {
		return Record{}, refused(KindAlreadyValidated, "record was validated concurrently")
	}
	rec.IsValidated = true
	rec.ValidatedBy = &validatorID
	rec.ValidatedAt = &at
	c.emit(ctx, Event{Module: module, RecordID: rec.ID, Action: "validate", ActorID: validatorID, At: at})
	return rec, nil
}

// Unvalidate clears the validated flag so the record can be corrected and
// validated again. It does not reopen structural child edits: the original
// validation timestamp is kept and the default child rule checks it.
func (c *Controller) Unvalidate(ctx context.Context, module string, id uuid.UUID, actorID int64) (Record, error) {
	if _, err := c.binding(module); err != nil {
		return Record{}, err
	}
	rec, err := c.Get(ctx, module, id)
	if err != nil {
		return Record{}, err
	}
	if err := c.checkNotFrozen(ctx, module, rec); err != nil {
		return Record{}, err
	}
	if !rec.IsValidated {
		return Record{}, refused(KindNotValidated, "record is not validated")
	}

	won, err := c.repo.MarkUnvalidated(ctx, module, rec.ID)
	if err != nil {
		return Record{}, fmt.Errorf("lifecycle: mark unvalidated: %w", err)
	}
	if !won {
		return Record{}, refused(KindNotValidated, "record was unvalidated concurrently")
	}
	rec.IsValidated = false
	rec.ValidatedBy = nil
	c.emit(ctx, Event{Module: module, RecordID: rec.ID, Action: "unvalidate", ActorID: actorID, At: c.now()})
	return rec, nil
}

// GuardChildMutation decides whether op may touch the children of recordID.
// The successor freeze is absolute and checked before any policy rule: once
// an amendment exists above a record, nothing under it moves.
func (c *Controller) GuardChildMutation(ctx context.Context, module string, recordID uuid.UUID, op string) error {
	b, err := c.binding(module)
	if err != nil {
		return err
	}
	rec, err := c.Get(ctx, module, recordID)
	if err != nil {
		return err
	}
	if err := c.checkNotFrozen(ctx, module, rec); err != nil {
		return err
	}

	switch b.Policy.RuleFor(op) {
	case RulePostValidationAllowed:
		return nil
	case RuleRequiresValidation:
		if !rec.IsValidated {
			return refused(KindNotValidated, "%s requires a validated record", op)
		}
		return nil
	default:
		if rec.EverValidated() {
			return refused(KindAlreadyValidated, "%s is only allowed before validation", op)
		}
		return nil
	}
}

func (c *Controller) checkNotFrozen(ctx context.Context, module string, rec Record) error {
	succ, err := c.repo.Successor(ctx, module, rec)
	if err != nil {
		return fmt.Errorf("lifecycle: probe successor: %w", err)
	}
	if succ != nil {
		return refused(KindRecordLocked, "record is frozen by %s", succ.Stage)
	}
	return nil
}

func (c *Controller) emit(ctx context.Context, e Event) {
	if c.events == nil {
		return
	}
	c.events.RecordEvent(ctx, e)
}
