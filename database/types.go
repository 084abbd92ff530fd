package database

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"sponsorengage/studysync/cpms"
)

// ErrNotFound is returned when a keyed read matches no row.
var ErrNotFound = errors.New("record not found")

// UpdateState tags an UpdateRecord as the pre-change or post-change half of
// a transaction.
type UpdateState string

const (
	StateBefore UpdateState = "Before"
	StateAfter  UpdateState = "After"
)

// UpdateType records how the edit reached CPMS: written through
// immediately (Direct) or queued for review (Proposed).
type UpdateType string

const (
	TypeDirect   UpdateType = "Direct"
	TypeProposed UpdateType = "Proposed"
)

// Study is the locally persisted study record. Externally-owned fields are
// overwritten on every successful CPMS fetch; locally-owned fields are
// never touched by synchronization.
type Study struct {
	ID     int64
	CPMSID int64

	// Externally-owned
	ShortTitle             string
	ExternalStatus         string
	Status                 string // internal mapping of ExternalStatus
	PlannedOpeningDate     *time.Time
	ActualOpeningDate      *time.Time
	PlannedClosureDate     *time.Time
	ActualClosureDate      *time.Time
	EstimatedReopeningDate *time.Time
	UKRecruitmentTarget    *int32
	TotalRecruitmentToDate *int32
	ManagingAdministration string
	OrderingToken          cpms.OrderingToken

	// Locally-owned
	OrganisationID int64
	DueAssessment  *bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EvaluationCategory mirrors one CPMS performance indicator for a study.
// Rows are keyed on (study_id, indicator_value) so repeat syncs upsert in
// place; categories no longer present upstream are delete-flagged rather
// than removed.
type EvaluationCategory struct {
	ID                     int64
	StudyID                int64
	IndicatorType          string
	IndicatorValue         string
	SampleSize             *int32
	TotalRecruitmentToDate *int32
	ExpectedReopeningDate  *time.Time
	IsDeleted              bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// UpdateRecord is one immutable half of an audit transaction. Every
// accepted edit writes exactly two rows sharing a TransactionID: one
// Before and one After. Rows are never updated or deleted.
type UpdateRecord struct {
	ID            uuid.UUID
	StudyID       int64
	TransactionID uuid.UUID
	State         UpdateState
	Type          UpdateType

	// OrderingToken is set on Direct rows only: the last-known token on the
	// Before row, the token CPMS issued for the change on the After row.
	OrderingToken cpms.OrderingToken

	// Status holds the external status. It is nil on the After row of a
	// Proposed transaction: the accepted status is unknown until CPMS
	// reviews the change.
	Status *string

	PlannedOpeningDate     *time.Time
	ActualOpeningDate      *time.Time
	PlannedClosureDate     *time.Time
	ActualClosureDate      *time.Time
	EstimatedReopeningDate *time.Time
	UKRecruitmentTarget    *int32
	Comment                *string

	CreatedBy int64
	CreatedAt time.Time
}

// TransactionRef identifies one ledger transaction for history ranking
// without hydrating its rows.
type TransactionRef struct {
	TransactionID uuid.UUID
	CreatedAt     time.Time
}
