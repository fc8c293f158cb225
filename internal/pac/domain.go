// Package pac manages corrective action plans: one versioned plan per
// processus and year, holding treatments whose execution is tracked by
// follow-up entries recorded after the plan is validated.
package pac

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-compliance/meridian/internal/lifecycle"
)

// Plan is one versioned corrective action plan.
type Plan struct {
	lifecycle.Record
	Origin string
}

// TreatmentType classifies a corrective measure.
type TreatmentType string

const (
	TreatmentCorrective TreatmentType = "corrective"
	TreatmentPreventive TreatmentType = "preventive"
)

// Treatment is one corrective measure on a plan.
type Treatment struct {
	ID        uuid.UUID
	RecordID  uuid.UUID
	Action    string
	Type      TreatmentType
	Owner     string
	Deadline  time.Time
	CreatedAt time.Time
	FollowUps []FollowUp
}

// FollowUp tracks execution progress on a treatment. Follow-ups only exist
// on validated plans.
type FollowUp struct {
	ID         uuid.UUID
	Treatment  uuid.UUID
	Note       string
	ProgressPC int
	RecordedBy int64
	RecordedAt time.Time
}

// TreatmentInput carries the fields for a new or updated treatment.
type TreatmentInput struct {
	Action   string
	Type     TreatmentType
	Owner    string
	Deadline time.Time
}

// FollowUpInput carries one progress note.
type FollowUpInput struct {
	Note       string
	ProgressPC int
}
