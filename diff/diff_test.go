package diff_test

import (
	"reflect"
	"testing"

	"sponsorengage/studysync/diff"
)

func TestFindChanges(t *testing.T) {
	prev := map[string]string{
		"Status":             "OpenWithRecruitment",
		"PlannedClosureDate": "2025-06-30",
		"ActualOpeningDate":  "2024-01-15",
	}
	curr := map[string]string{
		"Status":              "SuspendedFromOpenWithRecruitment",
		"PlannedClosureDate":  "2025-06-30",
		"UKRecruitmentTarget": "250",
	}

	changes := diff.FindChanges(prev, curr)

	expected := []diff.FieldChange{
		{Name: "ActualOpeningDate", Old: "2024-01-15", New: ""},
		{Name: "Status", Old: "OpenWithRecruitment", New: "SuspendedFromOpenWithRecruitment"},
		{Name: "UKRecruitmentTarget", Old: "", New: "250"},
	}
	if !reflect.DeepEqual(changes, expected) {
		t.Errorf("FindChanges = %+v, want %+v", changes, expected)
	}
}

func TestFindChangesOmitsEqualFields(t *testing.T) {
	snapshot := map[string]string{
		"Status":             "OpenToRecruitment",
		"PlannedOpeningDate": "2024-03-01",
	}
	if changes := diff.FindChanges(snapshot, snapshot); len(changes) != 0 {
		t.Errorf("expected no changes for identical snapshots, got %+v", changes)
	}
}

func TestFindChangesEmptySnapshots(t *testing.T) {
	if changes := diff.FindChanges(nil, nil); len(changes) != 0 {
		t.Errorf("expected no changes for empty snapshots, got %+v", changes)
	}
	changes := diff.FindChanges(nil, map[string]string{"Status": "InSetup"})
	if len(changes) != 1 || changes[0].New != "InSetup" {
		t.Errorf("unexpected changes for added field: %+v", changes)
	}
}
