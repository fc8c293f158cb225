// Package scorecard manages versioned performance scorecards: objectives
// broken down into measurable indicators, each carrying a target and a
// measurement frequency, with observed values recorded once the scorecard
// is validated.
package scorecard

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-compliance/meridian/internal/lifecycle"
)

// Scorecard is one versioned scorecard.
type Scorecard struct {
	lifecycle.Record
	Name string
}

// Objective groups indicators under one performance goal.
type Objective struct {
	ID         uuid.UUID
	RecordID   uuid.UUID
	Label      string
	CreatedAt  time.Time
	Indicators []Indicator
}

// Indicator is one measurable line under an objective. Target and Frequency
// are required before the scorecard can be validated.
type Indicator struct {
	ID           uuid.UUID
	ObjectiveID  uuid.UUID
	Label        string
	Unit         string
	Target       float64
	Frequency    string
	Observations []Observation
}

// Observation is one measured value against an indicator. Observations only
// exist on validated scorecards.
type Observation struct {
	ID          uuid.UUID
	IndicatorID uuid.UUID
	Value       float64
	Note        string
	RecordedBy  int64
	RecordedAt  time.Time
}

// ObjectiveInput carries the fields for a new or updated objective.
type ObjectiveInput struct {
	Label string
}

// IndicatorInput carries the fields for a new or updated indicator.
type IndicatorInput struct {
	Label     string
	Unit      string
	Target    float64
	Frequency string
}

// ObservationInput carries one measured value.
type ObservationInput struct {
	Value float64
	Note  string
}
