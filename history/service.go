// Package history merges the CPMS change log and the local update ledger
// into one time-ordered, capped, field-level change view of a study.
package history

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sponsorengage/studysync/cpms"
	"sponsorengage/studysync/database"
	"sponsorengage/studysync/diff"
	"sponsorengage/studysync/identity"
)

// MaxItems caps the merged history at the most recent entries across both
// sources.
const MaxItems = 10

// Item is one entry of the merged history. ID is either a local
// transaction id or a CPMS ordering token, depending on where the entry
// came from. Items are computed per read and never persisted.
type Item struct {
	ID           string             `json:"id"`
	ModifiedDate time.Time          `json:"modifiedDate"`
	Description  string             `json:"description"`
	Changes      []diff.FieldChange `json:"changes"`
}

// History is the assembled view. ExternalUnavailable signals that the CPMS
// change log could not be fetched and only local entries are present.
type History struct {
	Items               []Item `json:"items"`
	ExternalUnavailable bool   `json:"externalUnavailable"`
}

// Store is the ledger-read contract the assembler consumes.
type Store interface {
	RecentProposedTransactions(ctx context.Context, studyID int64, limit int) ([]database.TransactionRef, error)
	TransactionRecords(ctx context.Context, transactionID uuid.UUID) (*database.UpdateRecord, *database.UpdateRecord, error)
	FindDirectAfterByToken(ctx context.Context, studyID int64, token cpms.OrderingToken) (*database.UpdateRecord, error)
}

type Service struct {
	store    Store
	identity identity.Resolver
	log      *logrus.Logger
}

func NewService(store Store, resolver identity.Resolver, log *logrus.Logger) *Service {
	return &Service{store: store, identity: resolver, log: log}
}

// candidate is one rankable entry before hydration.
type candidate struct {
	local         bool
	transactionID uuid.UUID
	entry         cpms.ChangeLogEntry
	occurredAt    time.Time
}

// Assemble builds the merged history for a study. Ranking runs before any
// per-item hydration so only the at-most-MaxItems survivors are looked up.
// changeLog is the CPMS change log from the current read;
// externalUnavailable marks that the fetch failed upstream, in which case
// the result holds local entries only and is flagged, never an error.
func (s *Service) Assemble(ctx context.Context, study database.Study, changeLog []cpms.ChangeLogEntry, externalUnavailable bool) (*History, error) {
	refs, err := s.store.RecentProposedTransactions(ctx, study.ID, MaxItems)
	if err != nil {
		return nil, fmt.Errorf("rank local transactions for study %d: %w", study.ID, err)
	}

	candidates := make([]candidate, 0, len(refs)+len(changeLog))
	for _, ref := range refs {
		candidates = append(candidates, candidate{
			local:         true,
			transactionID: ref.TransactionID,
			occurredAt:    ref.CreatedAt,
		})
	}
	for _, entry := range changeLog {
		candidates = append(candidates, candidate{
			entry:      entry,
			occurredAt: entry.Timestamp,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].occurredAt.After(candidates[j].occurredAt)
	})
	if len(candidates) > MaxItems {
		candidates = candidates[:MaxItems]
	}

	items := make([]Item, 0, len(candidates))
	for _, cand := range candidates {
		var (
			item *Item
			err  error
		)
		if cand.local {
			item, err = s.hydrateLocal(ctx, cand)
		} else {
			item, err = s.hydrateExternal(ctx, study, cand.entry)
		}
		if err != nil {
			s.log.WithField("studyId", study.ID).Warnf("hydrating history entry failed: %v", err)
			continue
		}
		items = append(items, *item)
	}

	// Hydration can swap a candidate's ranking timestamp for the more
	// precise one on its records, so order once more before returning.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ModifiedDate.After(items[j].ModifiedDate)
	})

	return &History{Items: items, ExternalUnavailable: externalUnavailable}, nil
}

// hydrateLocal renders one ledger transaction as a history item.
func (s *Service) hydrateLocal(ctx context.Context, cand candidate) (*Item, error) {
	before, after, err := s.store.TransactionRecords(ctx, cand.transactionID)
	if err != nil {
		return nil, err
	}
	return &Item{
		ID:           cand.transactionID.String(),
		ModifiedDate: after.CreatedAt,
		Description:  s.describeActor(ctx, after),
		Changes:      diff.FindChanges(FieldSnapshot(before), FieldSnapshot(after)),
	}, nil
}

// hydrateExternal renders one CPMS change-log entry. When a local Direct
// After row carries the same ordering token, the change was made through
// this application and its per-field diff and actor identity are reused;
// otherwise the change was made directly in CPMS and is attributed to the
// managing administration.
func (s *Service) hydrateExternal(ctx context.Context, study database.Study, entry cpms.ChangeLogEntry) (*Item, error) {
	after, err := s.store.FindDirectAfterByToken(ctx, study.ID, entry.Token)
	if err != nil {
		return nil, err
	}

	if after != nil {
		before, paired, err := s.store.TransactionRecords(ctx, after.TransactionID)
		if err != nil {
			return nil, err
		}
		return &Item{
			ID:           entry.Token.String(),
			ModifiedDate: entry.Timestamp,
			Description:  s.describeActor(ctx, paired),
			Changes:      diff.FindChanges(FieldSnapshot(before), FieldSnapshot(paired)),
		}, nil
	}

	changes := make([]diff.FieldChange, 0, len(entry.Changes))
	for _, change := range entry.Changes {
		changes = append(changes, diff.FieldChange{
			Name: change.Field,
			Old:  change.Before,
			New:  change.After,
		})
	}
	return &Item{
		ID:           entry.Token.String(),
		ModifiedDate: entry.Timestamp,
		Description:  fmt.Sprintf("Change made by %s", identity.AdminLabel(study.ManagingAdministration)),
		Changes:      changes,
	}, nil
}

func (s *Service) describeActor(ctx context.Context, after *database.UpdateRecord) string {
	email, err := s.identity.UserEmail(ctx, after.CreatedBy)
	if err != nil {
		s.log.Warnf("resolving actor %d failed: %v", after.CreatedBy, err)
		email = "unknown user"
	}
	if after.Type == database.TypeProposed {
		return fmt.Sprintf("Change submitted by %s", email)
	}
	return fmt.Sprintf("Change made by %s", email)
}

// FieldSnapshot flattens an update record's tracked fields to their
// canonical string forms for diffing. Unset fields are omitted so they
// compare as empty. The free-text comment is transaction metadata, not a
// tracked field, and is excluded.
func FieldSnapshot(record *database.UpdateRecord) map[string]string {
	snapshot := make(map[string]string)
	if record.Status != nil {
		snapshot["Status"] = *record.Status
	}
	putDate := func(name string, value *time.Time) {
		if value != nil {
			snapshot[name] = value.Format("2006-01-02")
		}
	}
	putDate("PlannedOpeningDate", record.PlannedOpeningDate)
	putDate("ActualOpeningDate", record.ActualOpeningDate)
	putDate("PlannedClosureDate", record.PlannedClosureDate)
	putDate("ActualClosureDate", record.ActualClosureDate)
	putDate("EstimatedReopeningDate", record.EstimatedReopeningDate)
	if record.UKRecruitmentTarget != nil {
		snapshot["UKRecruitmentTarget"] = strconv.FormatInt(int64(*record.UKRecruitmentTarget), 10)
	}
	return snapshot
}
