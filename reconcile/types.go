package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sponsorengage/studysync/cpms"
	"sponsorengage/studysync/database"
	"sponsorengage/studysync/ledger"
)

// ExternalClient is the CPMS contract this service consumes.
type ExternalClient interface {
	FetchStudy(ctx context.Context, cpmsID int64, changeLogSince time.Time, maxChangeLogItems int) (*cpms.StudyEnvelope, error)
	ValidateUpdate(ctx context.Context, cpmsID int64, candidate cpms.UpdateCandidate) (cpms.Route, error)
	ApplyUpdate(ctx context.Context, cpmsID int64, candidate cpms.UpdateCandidate, currentToken cpms.OrderingToken) (*cpms.ApplyResult, error)
}

// Store is the persistence contract this service consumes.
type Store interface {
	GetStudy(ctx context.Context, studyID int64) (*database.Study, error)
	UpdateExternalFields(ctx context.Context, studyID int64, record cpms.StudyRecord, internalStatus string) error
	ReconcileCategories(ctx context.Context, studyID int64, categories []cpms.EvaluationCategory) error
	ListCategories(ctx context.Context, studyID int64) ([]database.EvaluationCategory, error)
	SetDueAssessment(ctx context.Context, studyID int64, due bool) error
}

// Ledger records accepted edits.
type Ledger interface {
	Record(ctx context.Context, txn ledger.Transaction) (uuid.UUID, error)
}

// StudyView is the best-available study state for one request. When CPMS
// could not be reached the view degrades to the last persisted state and
// ExternalUnavailable is set; the read itself still succeeds.
type StudyView struct {
	Study               database.Study
	Categories          []database.EvaluationCategory
	ChangeLog           []cpms.ChangeLogEntry
	ExternalUnavailable bool
}

// EditRequest is a sponsor contact's candidate change, in the internal
// status vocabulary.
type EditRequest struct {
	Status                 string
	PlannedOpeningDate     *time.Time
	ActualOpeningDate      *time.Time
	PlannedClosureDate     *time.Time
	ActualClosureDate      *time.Time
	EstimatedReopeningDate *time.Time
	UKRecruitmentTarget    *int32
	Comment                string
	ActorID                int64
}

// EditOutcome tells the caller how an accepted edit was handled. Applied
// is true when CPMS wrote the change through immediately and false when it
// was queued for review. Warning is set when the CPMS write succeeded but
// a local write afterwards did not; the edit stands either way.
type EditOutcome struct {
	Applied bool
	Warning string
}
