// Package audit persists the platform's two trails: lifecycle transition
// events on versioned records and every authorization decision the engine
// renders.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one row of the transition trail.
type Entry struct {
	ID       int64
	Module   string
	RecordID uuid.UUID
	Action   string
	ActorID  int64
	Detail   string
	At       time.Time
}

// DecisionLog is one row of the authorization trail.
type DecisionLog struct {
	ID          int64
	UserID      int64
	Module      string
	Action      string
	ProcessusID uuid.UUID
	RecordID    *uuid.UUID
	Allowed     bool
	Reason      string
	CacheHit    bool
	ElapsedUS   int64
	At          time.Time
}

// TimelineFilter narrows a timeline listing. Zero values are ignored.
type TimelineFilter struct {
	Module   string
	RecordID uuid.UUID
	ActorID  int64
	From     time.Time
	To       time.Time
	Page     int
	PerPage  int
}
