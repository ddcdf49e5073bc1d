package models

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	dErrors "consentsync/pkg/domain-errors"
)

// Row is the raw shape returned by the remote consent query. Every column is
// nullable because the remote schema does not guarantee otherwise.
type Row struct {
	ID          sql.NullString
	Subject     sql.NullString
	PurposeID   sql.NullString
	PurposeName sql.NullString
	Notes       sql.NullString
	CreatedAt   sql.NullTime
	Archived    sql.NullBool
	ArchivedAt  sql.NullTime
}

// FromRow maps one remote row to a Record. A failure is a CodeTransform
// error describing the offending column.
func FromRow(row Row) (Record, error) {
	id, err := parseColumnUUID("id", row.ID)
	if err != nil {
		return Record{}, err
	}
	if !row.Subject.Valid || row.Subject.String == "" {
		return Record{}, transformErr(id, "subject is missing")
	}
	purposeID, err := parseColumnUUID("purpose_id", row.PurposeID)
	if err != nil {
		return Record{}, err
	}
	if !row.CreatedAt.Valid {
		return Record{}, transformErr(id, "created_at is missing")
	}

	rec := Record{
		ID:          id,
		Subject:     row.Subject.String,
		PurposeID:   purposeID,
		PurposeName: row.PurposeName.String,
		Notes:       row.Notes.String,
		CreatedAt:   row.CreatedAt.Time.UTC(),
		Archived:    row.Archived.Valid && row.Archived.Bool,
	}
	if rec.Archived && row.ArchivedAt.Valid {
		at := row.ArchivedAt.Time.UTC()
		rec.ArchivedAt = &at
	}
	return rec, nil
}

// MapRows maps a batch fetched for partition p. Rows that fail to map, or that
// belong to the other partition, are returned as errors and left out; they
// never fail the batch.
func MapRows(rows []Row, p Partition) ([]Record, []error) {
	records := make([]Record, 0, len(rows))
	var dropped []error
	for i, row := range rows {
		rec, err := FromRow(row)
		if err != nil {
			dropped = append(dropped, fmt.Errorf("row %d: %w", i, err))
			continue
		}
		if rec.Partition() != p {
			dropped = append(dropped, fmt.Errorf("row %d: %w", i,
				transformErr(rec.ID, fmt.Sprintf("expected %s partition, got %s", p, rec.Partition()))))
			continue
		}
		records = append(records, rec)
	}
	return records, dropped
}

func parseColumnUUID(column string, v sql.NullString) (uuid.UUID, error) {
	if !v.Valid || v.String == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeTransform, column+" is missing")
	}
	id, err := uuid.Parse(v.String)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeTransform, column+" is not a uuid")
	}
	return id, nil
}

func transformErr(id uuid.UUID, reason string) error {
	return dErrors.New(dErrors.CodeTransform, fmt.Sprintf("consent %s: %s", id, reason))
}
