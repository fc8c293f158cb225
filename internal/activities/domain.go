// Package activities manages versioned periodic activity programs: the
// recurring control activities a processus commits to for a year, tracked
// month by month once the program is validated.
package activities

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-compliance/meridian/internal/lifecycle"
)

// Program is one versioned activity program.
type Program struct {
	lifecycle.Record
	Title string
}

// Activity is one recurring activity row. Description, frequency and at
// least one responsible unit are required before validation.
type Activity struct {
	ID          uuid.UUID
	RecordID    uuid.UUID
	Description string
	Frequency   string
	Units       []string
	CreatedAt   time.Time
	Entries     []MonthEntry
}

// MonthEntry records whether an activity ran in a given month. At most one
// entry per (activity, month); entries only exist on validated programs.
type MonthEntry struct {
	ID         uuid.UUID
	ActivityID uuid.UUID
	Month      time.Month
	Done       bool
	Note       string
	RecordedBy int64
	RecordedAt time.Time
}

// ActivityInput carries the fields for a new or updated activity row.
type ActivityInput struct {
	Description string
	Frequency   string
	Units       []string
}

// MonthEntryInput carries one monthly outcome.
type MonthEntryInput struct {
	Month time.Month
	Done  bool
	Note  string
}
