// Package ledger writes the append-only audit trail of study mutations.
// Every accepted edit, whether applied directly in CPMS or queued for
// review, is recorded as exactly one Before/After pair of immutable rows.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sponsorengage/studysync/cpms"
	"sponsorengage/studysync/database"
)

// Store is the persistence contract the ledger writes through.
type Store interface {
	InsertUpdatePair(ctx context.Context, before database.UpdateRecord, after database.UpdateRecord) error
}

// Values holds the field values of one side of a transaction.
type Values struct {
	Status                 *string
	PlannedOpeningDate     *time.Time
	ActualOpeningDate      *time.Time
	PlannedClosureDate     *time.Time
	ActualClosureDate      *time.Time
	EstimatedReopeningDate *time.Time
	UKRecruitmentTarget    *int32
	Comment                *string
}

// Transaction describes one logical edit to be recorded.
type Transaction struct {
	StudyID int64
	Type    database.UpdateType
	ActorID int64
	Before  Values
	After   Values

	// BeforeToken is the last-known CPMS ordering token at edit time;
	// AfterToken is the token CPMS issued for the change. Both are set on
	// Direct transactions only.
	BeforeToken cpms.OrderingToken
	AfterToken  cpms.OrderingToken
}

type Service struct {
	store Store
	log   *logrus.Logger
}

func NewService(store Store, log *logrus.Logger) *Service {
	return &Service{store: store, log: log}
}

// Record appends the Before/After pair for one transaction and returns the
// transaction id. Date-shaped values are normalized to midnight UTC before
// storage so later diff comparisons are exact. For a Proposed transaction
// the After status is left unset: the accepted status is unknown until
// CPMS reviews the change.
func (s *Service) Record(ctx context.Context, txn Transaction) (uuid.UUID, error) {
	if txn.Type != database.TypeDirect && txn.Type != database.TypeProposed {
		return uuid.Nil, fmt.Errorf("unknown transaction type %q", txn.Type)
	}

	transactionID := uuid.New()
	createdAt := time.Now().UTC()

	before := buildRecord(txn, transactionID, database.StateBefore, txn.Before, txn.BeforeToken, createdAt)
	after := buildRecord(txn, transactionID, database.StateAfter, txn.After, txn.AfterToken, createdAt)

	if txn.Type == database.TypeProposed {
		after.Status = nil
		before.OrderingToken = nil
		after.OrderingToken = nil
	}

	if err := s.store.InsertUpdatePair(ctx, before, after); err != nil {
		return uuid.Nil, fmt.Errorf("record transaction for study %d: %w", txn.StudyID, err)
	}

	s.log.WithFields(logrus.Fields{
		"studyId":       txn.StudyID,
		"transactionId": transactionID,
		"type":          txn.Type,
	}).Info("recorded update transaction")
	return transactionID, nil
}

func buildRecord(txn Transaction, transactionID uuid.UUID, state database.UpdateState, values Values, token cpms.OrderingToken, createdAt time.Time) database.UpdateRecord {
	return database.UpdateRecord{
		ID:                     uuid.New(),
		StudyID:                txn.StudyID,
		TransactionID:          transactionID,
		State:                  state,
		Type:                   txn.Type,
		OrderingToken:          token,
		Status:                 values.Status,
		PlannedOpeningDate:     NormalizeDate(values.PlannedOpeningDate),
		ActualOpeningDate:      NormalizeDate(values.ActualOpeningDate),
		PlannedClosureDate:     NormalizeDate(values.PlannedClosureDate),
		ActualClosureDate:      NormalizeDate(values.ActualClosureDate),
		EstimatedReopeningDate: NormalizeDate(values.EstimatedReopeningDate),
		UKRecruitmentTarget:    values.UKRecruitmentTarget,
		Comment:                values.Comment,
		CreatedBy:              txn.ActorID,
		CreatedAt:              createdAt,
	}
}

// NormalizeDate truncates a date-shaped value to midnight UTC, the
// canonical representation used for stored ledger values.
func NormalizeDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	normalized := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &normalized
}
