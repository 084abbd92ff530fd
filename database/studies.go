package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"sponsorengage/studysync/cpms"
)

const studyColumns = `
	study_id, cpms_id, short_title, external_status, status,
	planned_opening_date, actual_opening_date, planned_closure_date,
	actual_closure_date, estimated_reopening_date, uk_recruitment_target,
	total_recruitment_to_date, managing_administration, ordering_token,
	organisation_id, due_assessment, created_at, updated_at
`

func scanStudy(row pgx.Row) (*Study, error) {
	var (
		study                                                                         Study
		plannedOpening, actualOpening, plannedClosure, actualClosure, estimatedReopen pgtype.Timestamp
		target, total                                                                 pgtype.Int4
		due                                                                           pgtype.Bool
		token                                                                         []byte
	)
	err := row.Scan(
		&study.ID, &study.CPMSID, &study.ShortTitle, &study.ExternalStatus, &study.Status,
		&plannedOpening, &actualOpening, &plannedClosure,
		&actualClosure, &estimatedReopen, &target,
		&total, &study.ManagingAdministration, &token,
		&study.OrganisationID, &due, &study.CreatedAt, &study.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	study.PlannedOpeningDate = timestampToPtr(plannedOpening)
	study.ActualOpeningDate = timestampToPtr(actualOpening)
	study.PlannedClosureDate = timestampToPtr(plannedClosure)
	study.ActualClosureDate = timestampToPtr(actualClosure)
	study.EstimatedReopeningDate = timestampToPtr(estimatedReopen)
	study.UKRecruitmentTarget = int4ToPtr(target)
	study.TotalRecruitmentToDate = int4ToPtr(total)
	study.OrderingToken = cpms.OrderingToken(token)
	study.DueAssessment = boolToPtr(due)
	return &study, nil
}

// GetStudy loads one study by its local id.
func (db *Database) GetStudy(ctx context.Context, studyID int64) (*Study, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+studyColumns+` FROM studies WHERE study_id = $1`, studyID)
	study, err := scanStudy(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get study query failed: %w", err)
	}
	return study, nil
}

// ListStudies returns a page of studies, optionally filtered by a
// case-insensitive title search, plus the unfiltered-page total.
func (db *Database) ListStudies(ctx context.Context, search string, limit int, offset int) ([]Study, int64, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+studyColumns+`
		FROM studies
		WHERE ($1 = '' OR short_title ILIKE '%' || $1 || '%')
		ORDER BY short_title
		LIMIT $2 OFFSET $3
	`, search, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list studies query failed: %w", err)
	}
	defer rows.Close()

	var studies []Study
	for rows.Next() {
		study, err := scanStudy(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan study failed: %w", err)
		}
		studies = append(studies, *study)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list studies rows failed: %w", err)
	}

	var total int64
	err = db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM studies
		WHERE ($1 = '' OR short_title ILIKE '%' || $1 || '%')
	`, search).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count studies query failed: %w", err)
	}

	return studies, total, nil
}

// ListStudyIDs returns every local study id, for backfill sync runs.
func (db *Database) ListStudyIDs(ctx context.Context) ([]int64, error) {
	rows, err := db.Pool.Query(ctx, `SELECT study_id FROM studies ORDER BY study_id`)
	if err != nil {
		return nil, fmt.Errorf("list study ids query failed: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan study id failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateExternalFields overwrites the externally-owned columns of a study
// with a freshly fetched CPMS record. Locally-owned columns are untouched.
func (db *Database) UpdateExternalFields(ctx context.Context, studyID int64, record cpms.StudyRecord, internalStatus string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE studies
		SET short_title = $1,
			external_status = $2,
			status = $3,
			planned_opening_date = $4,
			actual_opening_date = $5,
			planned_closure_date = $6,
			actual_closure_date = $7,
			estimated_reopening_date = $8,
			uk_recruitment_target = $9,
			total_recruitment_to_date = $10,
			managing_administration = $11,
			ordering_token = $12,
			updated_at = NOW()
		WHERE study_id = $13
	`,
		record.ShortName,
		record.Status,
		internalStatus,
		ptrToTimestamp(record.PlannedOpeningDate),
		ptrToTimestamp(record.ActualOpeningDate),
		ptrToTimestamp(record.PlannedClosureDate),
		ptrToTimestamp(record.ActualClosureDate),
		ptrToTimestamp(record.EstimatedReopeningDate),
		ptrToInt4(record.UKRecruitmentTarget),
		ptrToInt4(record.TotalRecruitmentToDate),
		record.ManagingAdministration,
		[]byte(record.ChangeToken),
		studyID,
	)
	if err != nil {
		return fmt.Errorf("update external fields failed: %w", err)
	}
	return nil
}

// SetDueAssessment persists the recomputed due-assessment flag.
func (db *Database) SetDueAssessment(ctx context.Context, studyID int64, due bool) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE studies SET due_assessment = $1, updated_at = NOW() WHERE study_id = $2
	`, due, studyID)
	if err != nil {
		return fmt.Errorf("set due assessment failed: %w", err)
	}
	return nil
}
