package history_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sponsorengage/studysync/cpms"
	"sponsorengage/studysync/database"
	"sponsorengage/studysync/history"
	"sponsorengage/studysync/ledger"
)

type fakeStore struct {
	refs    []database.TransactionRef
	refsErr error
	txns    map[uuid.UUID][2]*database.UpdateRecord
	byToken map[string]*database.UpdateRecord
}

func (f *fakeStore) RecentProposedTransactions(ctx context.Context, studyID int64, limit int) ([]database.TransactionRef, error) {
	if f.refsErr != nil {
		return nil, f.refsErr
	}
	refs := f.refs
	if len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

func (f *fakeStore) TransactionRecords(ctx context.Context, transactionID uuid.UUID) (*database.UpdateRecord, *database.UpdateRecord, error) {
	pair, ok := f.txns[transactionID]
	if !ok {
		return nil, nil, database.ErrNotFound
	}
	return pair[0], pair[1], nil
}

func (f *fakeStore) FindDirectAfterByToken(ctx context.Context, studyID int64, token cpms.OrderingToken) (*database.UpdateRecord, error) {
	return f.byToken[token.String()], nil
}

type fakeResolver struct{}

func (fakeResolver) UserEmail(ctx context.Context, userID int64) (string, error) {
	return fmt.Sprintf("user%d@sponsor.example.org", userID), nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func strPtr(s string) *string { return &s }

func day(n int) time.Time {
	return time.Date(2024, 5, n, 12, 0, 0, 0, time.UTC)
}

// proposedPair builds a Before/After pair for one proposed transaction
// changing the planned closure date.
func proposedPair(studyID int64, createdAt time.Time, closure string) (uuid.UUID, [2]*database.UpdateRecord) {
	transactionID := uuid.New()
	oldClosure := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	newClosure, _ := time.Parse("2006-01-02", closure)
	before := &database.UpdateRecord{
		ID: uuid.New(), StudyID: studyID, TransactionID: transactionID,
		State: database.StateBefore, Type: database.TypeProposed,
		Status:             strPtr("OpenWithRecruitment"),
		PlannedClosureDate: &oldClosure,
		CreatedBy:          3, CreatedAt: createdAt,
	}
	after := &database.UpdateRecord{
		ID: uuid.New(), StudyID: studyID, TransactionID: transactionID,
		State: database.StateAfter, Type: database.TypeProposed,
		PlannedClosureDate: &newClosure,
		CreatedBy:          3, CreatedAt: createdAt,
	}
	return transactionID, [2]*database.UpdateRecord{before, after}
}

func TestAssembleMergesRanksAndCaps(t *testing.T) {
	store := &fakeStore{txns: map[uuid.UUID][2]*database.UpdateRecord{}, byToken: map[string]*database.UpdateRecord{}}

	// 8 local proposed transactions, one per day 1..8
	for n := 1; n <= 8; n++ {
		id, pair := proposedPair(7, day(n), "2025-06-30")
		store.txns[id] = pair
		store.refs = append(store.refs, database.TransactionRef{TransactionID: id, CreatedAt: day(n)})
	}

	// 5 external change entries on days 1, 3, 5, 7, 9
	var changeLog []cpms.ChangeLogEntry
	for _, n := range []int{1, 3, 5, 7, 9} {
		changeLog = append(changeLog, cpms.ChangeLogEntry{
			Token:     cpms.OrderingToken{0xC0, byte(n)},
			Timestamp: day(n).Add(time.Hour),
			Changes:   []cpms.FieldChange{{Field: "Status", Before: "InSetup", After: "OpenToRecruitment"}},
		})
	}

	service := history.NewService(store, fakeResolver{}, quietLogger())
	merged, err := service.Assemble(context.Background(), database.Study{ID: 7, ManagingAdministration: "England"}, changeLog, false)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if len(merged.Items) != history.MaxItems {
		t.Fatalf("expected %d items, got %d", history.MaxItems, len(merged.Items))
	}
	for i := 1; i < len(merged.Items); i++ {
		if merged.Items[i].ModifiedDate.After(merged.Items[i-1].ModifiedDate) {
			t.Errorf("items not in non-increasing date order at %d", i)
		}
	}
	// The newest entry overall is the external day-9 change; the oldest
	// candidates (local days 1-2, external day 1) fall off the cap.
	if merged.Items[0].ID != (cpms.OrderingToken{0xC0, 9}).String() {
		t.Errorf("newest item = %q, want external day-9 entry", merged.Items[0].ID)
	}
	cutoff := day(3)
	for _, item := range merged.Items {
		if item.ModifiedDate.Before(cutoff) {
			t.Errorf("item %q older than the cap cutoff survived", item.ID)
		}
	}
}

func TestAssembleNeverExceedsCap(t *testing.T) {
	store := &fakeStore{txns: map[uuid.UUID][2]*database.UpdateRecord{}, byToken: map[string]*database.UpdateRecord{}}
	for n := 1; n <= 10; n++ {
		id, pair := proposedPair(7, day(n), "2025-06-30")
		store.txns[id] = pair
		store.refs = append(store.refs, database.TransactionRef{TransactionID: id, CreatedAt: day(n)})
	}
	var changeLog []cpms.ChangeLogEntry
	for n := 11; n <= 20; n++ {
		changeLog = append(changeLog, cpms.ChangeLogEntry{
			Token:     cpms.OrderingToken{0xC0, byte(n)},
			Timestamp: day(n),
		})
	}

	service := history.NewService(store, fakeResolver{}, quietLogger())
	merged, err := service.Assemble(context.Background(), database.Study{ID: 7}, changeLog, false)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(merged.Items) > history.MaxItems {
		t.Errorf("cap exceeded: %d items", len(merged.Items))
	}
}

func TestAssembleLocalHydrationDiffsPairs(t *testing.T) {
	store := &fakeStore{txns: map[uuid.UUID][2]*database.UpdateRecord{}, byToken: map[string]*database.UpdateRecord{}}
	id, pair := proposedPair(7, day(4), "2025-09-30")
	store.txns[id] = pair
	store.refs = []database.TransactionRef{{TransactionID: id, CreatedAt: day(4)}}

	service := history.NewService(store, fakeResolver{}, quietLogger())
	merged, err := service.Assemble(context.Background(), database.Study{ID: 7}, nil, false)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(merged.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(merged.Items))
	}

	item := merged.Items[0]
	if item.Description != "Change submitted by user3@sponsor.example.org" {
		t.Errorf("description = %q", item.Description)
	}
	for _, change := range item.Changes {
		if change.Old == change.New {
			t.Errorf("field %q with equal before/after values must be omitted", change.Name)
		}
	}
	var sawClosure bool
	for _, change := range item.Changes {
		if change.Name == "PlannedClosureDate" {
			sawClosure = true
			if change.Old != "2025-01-31" || change.New != "2025-09-30" {
				t.Errorf("closure change = %+v", change)
			}
		}
	}
	if !sawClosure {
		t.Error("expected a PlannedClosureDate change")
	}
}

func TestAssembleExternalEntryMatchingLocalDirect(t *testing.T) {
	token, _ := cpms.ParseOrderingToken("0xAB12")
	transactionID := uuid.New()
	closure := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	before := &database.UpdateRecord{
		ID: uuid.New(), StudyID: 7, TransactionID: transactionID,
		State: database.StateBefore, Type: database.TypeDirect,
		Status:    strPtr("OpenWithRecruitment"),
		CreatedBy: 5, CreatedAt: day(6),
	}
	after := &database.UpdateRecord{
		ID: uuid.New(), StudyID: 7, TransactionID: transactionID,
		State: database.StateAfter, Type: database.TypeDirect,
		Status:             strPtr("SuspendedFromOpenWithRecruitment"),
		PlannedClosureDate: &closure,
		OrderingToken:      token,
		CreatedBy:          5, CreatedAt: day(6),
	}
	store := &fakeStore{
		txns:    map[uuid.UUID][2]*database.UpdateRecord{transactionID: {before, after}},
		byToken: map[string]*database.UpdateRecord{token.String(): after},
	}

	// CPMS spells the same token with different casing; the match must
	// still be found because comparison happens on bytes.
	entryToken, _ := cpms.ParseOrderingToken("0xab12")
	changeLog := []cpms.ChangeLogEntry{{Token: entryToken, Timestamp: day(6).Add(time.Minute)}}

	service := history.NewService(store, fakeResolver{}, quietLogger())
	merged, err := service.Assemble(context.Background(), database.Study{ID: 7, ManagingAdministration: "England"}, changeLog, false)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(merged.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(merged.Items))
	}

	item := merged.Items[0]
	if item.Description != "Change made by user5@sponsor.example.org" {
		t.Errorf("description = %q, want the local actor, not the admin fallback", item.Description)
	}
	if len(item.Changes) == 0 {
		t.Error("expected the local pair's field diff to be reused")
	}
}

func TestAssembleExternalEntryWithoutLocalMatch(t *testing.T) {
	store := &fakeStore{txns: map[uuid.UUID][2]*database.UpdateRecord{}, byToken: map[string]*database.UpdateRecord{}}
	changeLog := []cpms.ChangeLogEntry{{
		Token:     cpms.OrderingToken{0xC0, 0x01},
		Timestamp: day(2),
		Changes:   []cpms.FieldChange{{Field: "UKRecruitmentTarget", Before: "200", After: "250"}},
	}}

	service := history.NewService(store, fakeResolver{}, quietLogger())
	merged, err := service.Assemble(context.Background(), database.Study{ID: 7, ManagingAdministration: "England"}, changeLog, false)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(merged.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(merged.Items))
	}

	item := merged.Items[0]
	if item.Description != "Change made by England Admin" {
		t.Errorf("description = %q", item.Description)
	}
	if len(item.Changes) != 1 || item.Changes[0].Name != "UKRecruitmentTarget" {
		t.Errorf("expected the entry's own field diff, got %+v", item.Changes)
	}
}

func TestAssembleFlagsExternalUnavailable(t *testing.T) {
	store := &fakeStore{txns: map[uuid.UUID][2]*database.UpdateRecord{}, byToken: map[string]*database.UpdateRecord{}}
	id, pair := proposedPair(7, day(4), "2025-09-30")
	store.txns[id] = pair
	store.refs = []database.TransactionRef{{TransactionID: id, CreatedAt: day(4)}}

	service := history.NewService(store, fakeResolver{}, quietLogger())
	merged, err := service.Assemble(context.Background(), database.Study{ID: 7}, nil, true)
	if err != nil {
		t.Fatalf("Assemble must not fail when the change log is unavailable: %v", err)
	}
	if !merged.ExternalUnavailable {
		t.Error("expected ExternalUnavailable flag")
	}
	if len(merged.Items) != 1 {
		t.Errorf("expected local items only, got %d", len(merged.Items))
	}
}

// Guards the shape the assembler depends on: a ledger value written through
// the ledger service lands in the snapshot form the differ expects.
func TestFieldSnapshotUsesCanonicalForms(t *testing.T) {
	closure := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)
	target := int32(250)
	record := &database.UpdateRecord{
		Status:              strPtr("OpenToRecruitment"),
		PlannedClosureDate:  ledger.NormalizeDate(&closure),
		UKRecruitmentTarget: &target,
	}
	snapshot := history.FieldSnapshot(record)
	if snapshot["PlannedClosureDate"] != "2025-09-30" {
		t.Errorf("date form = %q", snapshot["PlannedClosureDate"])
	}
	if snapshot["UKRecruitmentTarget"] != "250" {
		t.Errorf("target form = %q", snapshot["UKRecruitmentTarget"])
	}
	if _, ok := snapshot["ActualOpeningDate"]; ok {
		t.Error("unset fields must be omitted from the snapshot")
	}
}
