// Package riskmap manages risk maps: one versioned map per processus and
// year, holding detail rows that each carry risk evaluations and action
// plans.
package riskmap

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-compliance/meridian/internal/lifecycle"
)

// RiskMap is one versioned risk map.
type RiskMap struct {
	lifecycle.Record
	Title string
}

// DetailRow is one mapped risk.
type DetailRow struct {
	ID          uuid.UUID
	RecordID    uuid.UUID
	Activity    string
	Risk        string
	Causes      string
	CreatedAt   time.Time
	Evaluations []Evaluation
	ActionPlans []ActionPlan
}

// Evaluation scores a risk. Criticality is derived, not entered.
type Evaluation struct {
	ID          uuid.UUID
	DetailID    uuid.UUID
	Frequency   int
	Gravity     int
	Criticality int
	EvaluatedBy int64
	EvaluatedAt time.Time
}

// ActionPlan is one mitigation commitment on a risk.
type ActionPlan struct {
	ID       uuid.UUID
	DetailID uuid.UUID
	Action   string
	Owner    string
	Deadline time.Time
}

// DetailInput carries the fields for a new or updated detail row.
type DetailInput struct {
	Activity string
	Risk     string
	Causes   string
}

// EvaluationInput carries a new scoring.
type EvaluationInput struct {
	Frequency int
	Gravity   int
}

// ActionPlanInput carries a new mitigation commitment.
type ActionPlanInput struct {
	Action   string
	Owner    string
	Deadline time.Time
}
