// Package history persists lab reports and serves the per-patient result
// history that trend computation runs over.
package history

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labinsight/platform/internal/report"
	"github.com/labinsight/platform/internal/shared/errors"
	"github.com/labinsight/platform/internal/shared/types"
)

// Store implements report persistence and history retrieval on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a PostgreSQL-backed history store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// UpsertPatient creates the patient row if missing and returns its ID.
// Identity fields are refreshed on conflict.
func (s *Store) UpsertPatient(ctx context.Context, p report.Patient) (types.ID, error) {
	query := `
		INSERT INTO patients (id, external_id, name, sex, dob)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			sex = EXCLUDED.sex,
			dob = EXCLUDED.dob
		RETURNING id`

	var id types.ID
	err := s.pool.QueryRow(ctx, query, types.NewID(), p.ExternalID, p.Name, p.Sex, nullString(p.DOB)).Scan(&id)
	if err != nil {
		return "", errors.Wrap(err, "failed to upsert patient")
	}
	return id, nil
}

// UpsertReport persists a report and its results. A re-submission for the
// same patient and date replaces the previous rows (last write wins).
func (s *Store) UpsertReport(ctx context.Context, patientID types.ID, r report.Report) (types.ID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO reports (id, patient_id, report_date, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (patient_id, report_date) DO UPDATE SET source = EXCLUDED.source
		RETURNING id`

	var reportID types.ID
	if err := tx.QueryRow(ctx, query, types.NewID(), patientID, r.ReportDate.Time, "api").Scan(&reportID); err != nil {
		return "", errors.Wrap(err, "failed to upsert report")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM test_results WHERE report_id = $1`, reportID); err != nil {
		return "", errors.Wrap(err, "failed to clear previous results")
	}

	insert := `
		INSERT INTO test_results (report_id, code, name, value, unit, normal_range_low, normal_range_high, flag)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, t := range r.Tests {
		if _, err := tx.Exec(ctx, insert,
			reportID, t.Code, t.Name, t.Value, t.Unit, t.NormalRangeLow, t.NormalRangeHigh, string(t.Flag),
		); err != nil {
			return "", errors.Wrap(err, "failed to insert test result")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", errors.Wrap(err, "failed to commit transaction")
	}
	return reportID, nil
}

// PersistReport upserts the patient and the report in one call.
func (s *Store) PersistReport(ctx context.Context, r report.Report) (types.ID, error) {
	patientID, err := s.UpsertPatient(ctx, r.Patient)
	if err != nil {
		return "", err
	}
	return s.UpsertReport(ctx, patientID, r)
}

// FetchHistory returns all result rows from the patient's most recent
// reports, newest first. limitReports bounds the number of REPORTS, not
// rows, so a wide panel never truncates an older report.
func (s *Store) FetchHistory(ctx context.Context, externalID string, limitReports int) ([]report.HistoryRow, error) {
	query := `
		SELECT r.report_date, tr.code, tr.name, tr.value, tr.unit,
		       tr.normal_range_low, tr.normal_range_high
		FROM patients p
		JOIN reports r ON r.patient_id = p.id
		JOIN test_results tr ON tr.report_id = r.id
		JOIN (
			SELECT r2.id
			FROM reports r2
			JOIN patients p2 ON p2.id = r2.patient_id
			WHERE p2.external_id = $1
			ORDER BY r2.report_date DESC
			LIMIT $2
		) latest ON latest.id = r.id
		WHERE p.external_id = $1
		ORDER BY r.report_date DESC, tr.code`

	rows, err := s.pool.Query(ctx, query, externalID, limitReports)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch history")
	}
	defer rows.Close()

	var out []report.HistoryRow
	for rows.Next() {
		var (
			h          report.HistoryRow
			reportDate time.Time
		)
		if err := rows.Scan(&reportDate, &h.Code, &h.Name, &h.Value, &h.Unit,
			&h.NormalRangeLow, &h.NormalRangeHigh); err != nil {
			return nil, errors.Wrap(err, "failed to scan history row")
		}
		h.ReportDate = report.Date{Time: reportDate}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read history rows")
	}
	return out, nil
}

// PatientIDByExternalID resolves a patient's internal ID.
func (s *Store) PatientIDByExternalID(ctx context.Context, externalID string) (types.ID, error) {
	var id types.ID
	err := s.pool.QueryRow(ctx, `SELECT id FROM patients WHERE external_id = $1`, externalID).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", errors.NotFound("patient", externalID)
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to look up patient")
	}
	return id, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
