package lifecycle

import "fmt"

// FailureKind classifies why a transition was refused. Handlers map kinds to
// HTTP statuses; services branch on them without parsing messages.
type FailureKind string

const (
	// KindAlreadyExists means a record already occupies the target
	// (processus, period, stage) slot for the creator's chain.
	KindAlreadyExists FailureKind = "already_exists"
	// KindPredecessorNotValidated means an amendment was requested while
	// the version one stage below is still a draft.
	KindPredecessorNotValidated FailureKind = "predecessor_not_validated"
	// KindMaxAmendmentsReached means the chain is at its final stage.
	KindMaxAmendmentsReached FailureKind = "max_amendments_reached"
	// KindAlreadyValidated means validation raced and another caller won,
	// or the record was validated earlier.
	KindAlreadyValidated FailureKind = "already_validated"
	// KindIncompleteChildren means validation was refused because owned
	// entries fail the module's completeness check.
	KindIncompleteChildren FailureKind = "incomplete_children"
	// KindRecordLocked means the record is frozen by a successor
	// amendment; no mutation may touch it or its children.
	KindRecordLocked FailureKind = "record_locked"
	// KindNotValidated means the operation requires a validated record.
	KindNotValidated FailureKind = "not_validated"
	// KindNotFound means the referenced record does not exist.
	KindNotFound FailureKind = "not_found"
	// KindStageOutOfRange means a stage parameter fell outside the three
	// reachable positions.
	KindStageOutOfRange FailureKind = "stage_out_of_range"
)

// FieldError names one incomplete child entry in a refused validation.
type FieldError struct {
	ChildID string `json:"child_id"`
	Label   string `json:"label"`
	Reason  string `json:"reason"`
}

// TransitionError is the typed refusal returned by every controller
// operation. Missing is populated only for KindIncompleteChildren and lists
// every failing child, not just the first.
type TransitionError struct {
	Kind    FailureKind
	Detail  string
	Missing []FieldError
}

func (e *TransitionError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is lets callers match with errors.Is against a bare kind sentinel.
func (e *TransitionError) Is(target error) bool {
	t, ok := target.(*TransitionError)
	return ok && t.Kind == e.Kind && t.Detail == ""
}

func refused(kind FailureKind, format string, args ...any) *TransitionError {
	return &TransitionError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// AsTransition unwraps err into a *TransitionError when possible.
func AsTransition(err error) (*TransitionError, bool) {
	te, ok := err.(*TransitionError)
	return te, ok
}
