// Package lifecycle owns the stage/validation state machine shared by every
// versioned compliance artifact: one initial version plus at most two
// amendments, each passing a one-way validation gate.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage is a record's position in its amendment chain. The progression is
// monotonic and capped at two amendments.
type Stage int

// Chain stages in order.
const (
	StageInitial Stage = iota
	StageAmendment1
	StageAmendment2
)

// MaxStage is the last reachable stage.
const MaxStage = StageAmendment2

var stageNames = map[Stage]string{
	StageInitial:    "INITIAL",
	StageAmendment1: "AMENDMENT_1",
	StageAmendment2: "AMENDMENT_2",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STAGE(%d)", int(s))
}

// Valid reports whether the stage is one of the three reachable positions.
func (s Stage) Valid() bool {
	return s >= StageInitial && s <= MaxStage
}

// Next returns the following stage; ok is false at the chain cap.
func (s Stage) Next() (Stage, bool) {
	if s >= MaxStage {
		return s, false
	}
	return s + 1, true
}

// Prev returns the preceding stage; ok is false for the initial stage.
func (s Stage) Prev() (Stage, bool) {
	if s <= StageInitial {
		return s, false
	}
	return s - 1, true
}

// ParseStage converts the wire name back into a Stage.
func ParseStage(name string) (Stage, error) {
	for stage, n := range stageNames {
		if n == name {
			return stage, nil
		}
	}
	return 0, fmt.Errorf("lifecycle: unknown stage %q", name)
}

// Record is the chain-level view of a versioned compliance artifact. Module
// adapters own the entity's domain fields; the engine only sees this shape.
type Record struct {
	ID          uuid.UUID
	Module      string
	ProcessusID uuid.UUID
	Period      int
	Stage       Stage
	// InitialRef points to the chain's INITIAL record and is nil for the
	// INITIAL itself. It never points to an intermediate amendment; the
	// write boundary enforces that, not just a database constraint.
	InitialRef  *uuid.UUID
	IsValidated bool
	ValidatedBy *int64
	ValidatedAt *time.Time
	CreatedBy   int64
	CreatedAt   time.Time
}

// ChainID returns the identifier of the chain's INITIAL record.
func (r Record) ChainID() uuid.UUID {
	if r.InitialRef != nil {
		return *r.InitialRef
	}
	return r.ID
}

// EverValidated reports whether the record has passed validation at least
// once. An admin unvalidate clears IsValidated but keeps the timestamp, so
// structural edits stay locked until the record is validated again.
func (r Record) EverValidated() bool {
	return r.ValidatedAt != nil
}

// State renders the composite public state, one of the six reachable
// (stage, validated) combinations.
func (r Record) State() string {
	prefix := "DRAFT_"
	if r.IsValidated {
		prefix = "VALIDATED_"
	}
	return prefix + r.Stage.String()
}
