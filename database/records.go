package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"sponsorengage/studysync/cpms"
)

const updateRecordColumns = `
	record_id, study_id, transaction_id, state, type, ordering_token, status,
	planned_opening_date, actual_opening_date, planned_closure_date,
	actual_closure_date, estimated_reopening_date, uk_recruitment_target,
	comment, created_by, created_at
`

func scanUpdateRecord(row pgx.Row) (*UpdateRecord, error) {
	var (
		record                                                                        UpdateRecord
		recordID, transactionID                                                       pgtype.UUID
		token                                                                         []byte
		recordStatus, comment                                                         pgtype.Text
		plannedOpening, actualOpening, plannedClosure, actualClosure, estimatedReopen pgtype.Timestamp
		target                                                                        pgtype.Int4
	)
	err := row.Scan(
		&recordID, &record.StudyID, &transactionID, &record.State, &record.Type, &token, &recordStatus,
		&plannedOpening, &actualOpening, &plannedClosure,
		&actualClosure, &estimatedReopen, &target,
		&comment, &record.CreatedBy, &record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.ID = pgtypeToUUID(recordID)
	record.TransactionID = pgtypeToUUID(transactionID)
	record.OrderingToken = cpms.OrderingToken(token)
	record.Status = textToPtr(recordStatus)
	record.PlannedOpeningDate = timestampToPtr(plannedOpening)
	record.ActualOpeningDate = timestampToPtr(actualOpening)
	record.PlannedClosureDate = timestampToPtr(plannedClosure)
	record.ActualClosureDate = timestampToPtr(actualClosure)
	record.EstimatedReopeningDate = timestampToPtr(estimatedReopen)
	record.UKRecruitmentTarget = int4ToPtr(target)
	record.Comment = textToPtr(comment)
	return &record, nil
}

func (db *Database) insertUpdateRecord(ctx context.Context, tx pgx.Tx, record UpdateRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO update_records (`+updateRecordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		uuidToPgtype(record.ID),
		record.StudyID,
		uuidToPgtype(record.TransactionID),
		string(record.State),
		string(record.Type),
		[]byte(record.OrderingToken),
		ptrToText(record.Status),
		ptrToTimestamp(record.PlannedOpeningDate),
		ptrToTimestamp(record.ActualOpeningDate),
		ptrToTimestamp(record.PlannedClosureDate),
		ptrToTimestamp(record.ActualClosureDate),
		ptrToTimestamp(record.EstimatedReopeningDate),
		ptrToInt4(record.UKRecruitmentTarget),
		ptrToText(record.Comment),
		record.CreatedBy,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert update record failed: %w", err)
	}
	return nil
}

// InsertUpdatePair appends the Before/After rows of one transaction as a
// single atomic batch. Either both rows land or neither does.
func (db *Database) InsertUpdatePair(ctx context.Context, before UpdateRecord, after UpdateRecord) (err error) {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer db.rollbackOrCommit(ctx, tx, &err)

	if err = db.insertUpdateRecord(ctx, tx, before); err != nil {
		return err
	}
	if err = db.insertUpdateRecord(ctx, tx, after); err != nil {
		return err
	}
	return nil
}

// RecentProposedTransactions returns refs to the most recent Proposed
// transactions for a study, newest first, without hydrating their rows.
func (db *Database) RecentProposedTransactions(ctx context.Context, studyID int64, limit int) ([]TransactionRef, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT transaction_id, MAX(created_at) AS created_at
		FROM update_records
		WHERE study_id = $1 AND type = $2
		GROUP BY transaction_id
		ORDER BY created_at DESC
		LIMIT $3
	`, studyID, string(TypeProposed), limit)
	if err != nil {
		return nil, fmt.Errorf("recent proposed transactions query failed: %w", err)
	}
	defer rows.Close()

	var refs []TransactionRef
	for rows.Next() {
		var (
			ref TransactionRef
			id  pgtype.UUID
		)
		if err := rows.Scan(&id, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction ref failed: %w", err)
		}
		ref.TransactionID = pgtypeToUUID(id)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// TransactionRecords loads the Before/After pair of one transaction.
func (db *Database) TransactionRecords(ctx context.Context, transactionID uuid.UUID) (before *UpdateRecord, after *UpdateRecord, err error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+updateRecordColumns+`
		FROM update_records
		WHERE transaction_id = $1
	`, uuidToPgtype(transactionID))
	if err != nil {
		return nil, nil, fmt.Errorf("transaction records query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		record, err := scanUpdateRecord(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scan update record failed: %w", err)
		}
		switch record.State {
		case StateBefore:
			before = record
		case StateAfter:
			after = record
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if before == nil || after == nil {
		return nil, nil, fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	return before, after, nil
}

// FindDirectAfterByToken looks up the After row of a Direct transaction
// stamped with the given CPMS ordering token. Tokens are compared as raw
// bytes. A missing row is not an error: it means the change originated
// outside this application.
func (db *Database) FindDirectAfterByToken(ctx context.Context, studyID int64, token cpms.OrderingToken) (*UpdateRecord, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+updateRecordColumns+`
		FROM update_records
		WHERE study_id = $1 AND ordering_token = $2 AND state = $3 AND type = $4
	`, studyID, []byte(token), string(StateAfter), string(TypeDirect))
	record, err := scanUpdateRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find direct record by token failed: %w", err)
	}
	return record, nil
}
