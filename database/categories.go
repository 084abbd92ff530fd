package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"sponsorengage/studysync/cpms"
)

// ReconcileCategories brings the local evaluation-category rows for a study
// in line with the set CPMS currently reports. Categories absent upstream
// are delete-flagged (never removed, so past assessments keep their
// context); present ones are upserted on (study_id, indicator_value) so
// repeat syncs are idempotent.
func (db *Database) ReconcileCategories(ctx context.Context, studyID int64, categories []cpms.EvaluationCategory) (err error) {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer db.rollbackOrCommit(ctx, tx, &err)

	values := make([]string, 0, len(categories))
	for _, category := range categories {
		values = append(values, category.IndicatorValue)
	}

	_, err = tx.Exec(ctx, `
		UPDATE evaluation_categories
		SET is_deleted = TRUE, updated_at = NOW()
		WHERE study_id = $1 AND NOT (indicator_value = ANY($2)) AND NOT is_deleted
	`, studyID, values)
	if err != nil {
		return fmt.Errorf("delete-flag categories failed: %w", err)
	}

	for _, category := range categories {
		_, err = tx.Exec(ctx, `
			INSERT INTO evaluation_categories
				(study_id, indicator_type, indicator_value, sample_size,
				 total_recruitment_to_date, expected_reopening_date)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (study_id, indicator_value)
			DO UPDATE SET
				indicator_type = EXCLUDED.indicator_type,
				sample_size = EXCLUDED.sample_size,
				total_recruitment_to_date = EXCLUDED.total_recruitment_to_date,
				expected_reopening_date = EXCLUDED.expected_reopening_date,
				is_deleted = FALSE,
				updated_at = NOW()
		`,
			studyID,
			category.IndicatorType,
			category.IndicatorValue,
			ptrToInt4(category.SampleSize),
			ptrToInt4(category.TotalRecruitmentToDate),
			ptrToTimestamp(category.ExpectedReopeningDate),
		)
		if err != nil {
			return fmt.Errorf("upsert category %q failed: %w", category.IndicatorValue, err)
		}
	}

	return nil
}

// ListCategories returns the live (not delete-flagged) categories for a study.
func (db *Database) ListCategories(ctx context.Context, studyID int64) ([]EvaluationCategory, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT category_id, study_id, indicator_type, indicator_value,
			sample_size, total_recruitment_to_date, expected_reopening_date,
			is_deleted, created_at, updated_at
		FROM evaluation_categories
		WHERE study_id = $1 AND NOT is_deleted
		ORDER BY indicator_value
	`, studyID)
	if err != nil {
		return nil, fmt.Errorf("list categories query failed: %w", err)
	}
	defer rows.Close()

	var categories []EvaluationCategory
	for rows.Next() {
		var (
			category      EvaluationCategory
			sample, total pgtype.Int4
			reopen        pgtype.Timestamp
		)
		err := rows.Scan(
			&category.ID, &category.StudyID, &category.IndicatorType, &category.IndicatorValue,
			&sample, &total, &reopen,
			&category.IsDeleted, &category.CreatedAt, &category.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan category failed: %w", err)
		}
		category.SampleSize = int4ToPtr(sample)
		category.TotalRecruitmentToDate = int4ToPtr(total)
		category.ExpectedReopeningDate = timestampToPtr(reopen)
		categories = append(categories, category)
	}
	return categories, rows.Err()
}
