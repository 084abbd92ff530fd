package cpms

import "time"

// Route is the CPMS pre-flight decision for a candidate update: either the
// change can be written through immediately, or it must be queued for
// manual review by the managing administration.
type Route string

const (
	RouteDirect   Route = "Direct"
	RouteProposed Route = "Proposed"
)

// StudyRecord is the authoritative study state as CPMS holds it.
type StudyRecord struct {
	ID                     int64                `json:"id"`
	ShortName              string               `json:"shortName"`
	Status                 string               `json:"status"`
	PlannedOpeningDate     *time.Time           `json:"plannedOpeningDate"`
	ActualOpeningDate      *time.Time           `json:"actualOpeningDate"`
	PlannedClosureDate     *time.Time           `json:"plannedClosureDate"`
	ActualClosureDate      *time.Time           `json:"actualClosureDate"`
	EstimatedReopeningDate *time.Time           `json:"estimatedReopeningDate"`
	UKRecruitmentTarget    *int32               `json:"ukRecruitmentTarget"`
	TotalRecruitmentToDate *int32               `json:"totalRecruitmentToDate"`
	ManagingAdministration string               `json:"managingAdministration"`
	ChangeToken            OrderingToken        `json:"changeToken"`
	EvaluationCategories   []EvaluationCategory `json:"evaluationCategories"`
}

// EvaluationCategory is one performance indicator CPMS has raised against
// the study (for example a missed milestone or a recruitment shortfall).
type EvaluationCategory struct {
	IndicatorType          string     `json:"indicatorType"`
	IndicatorValue         string     `json:"indicatorValue"`
	SampleSize             *int32     `json:"sampleSize"`
	TotalRecruitmentToDate *int32     `json:"totalRecruitmentToDate"`
	ExpectedReopeningDate  *time.Time `json:"expectedReopeningDate"`
}

// FieldChange is one field-level delta inside a CPMS change-log entry.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// ChangeLogEntry is one row of the CPMS-side audit trail. Read-only and
// never persisted locally.
type ChangeLogEntry struct {
	Token     OrderingToken `json:"changeToken"`
	Timestamp time.Time     `json:"timestamp"`
	Changes   []FieldChange `json:"changes"`
}

// StudyEnvelope bundles a fetched record with its change log.
type StudyEnvelope struct {
	Record    StudyRecord      `json:"record"`
	ChangeLog []ChangeLogEntry `json:"changeLog"`
}

// UpdateCandidate is the externally-owned portion of a local edit, already
// translated to the CPMS status vocabulary.
type UpdateCandidate struct {
	Status                 string     `json:"status"`
	PlannedOpeningDate     *time.Time `json:"plannedOpeningDate"`
	ActualOpeningDate      *time.Time `json:"actualOpeningDate"`
	PlannedClosureDate     *time.Time `json:"plannedClosureDate"`
	ActualClosureDate      *time.Time `json:"actualClosureDate"`
	EstimatedReopeningDate *time.Time `json:"estimatedReopeningDate"`
	UKRecruitmentTarget    *int32     `json:"ukRecruitmentTarget"`
	Note                   string     `json:"note,omitempty"`
}

// ApplyResult is returned when CPMS accepts a Direct update.
type ApplyResult struct {
	Record StudyRecord   `json:"record"`
	Token  OrderingToken `json:"changeToken"`
}
