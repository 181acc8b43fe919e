// Package lis pulls finalized results from a legacy laboratory information
// system (SQL Server) and backfills them into the local history store so
// trend analysis can see results that never arrived through the API.
package lis

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/rs/zerolog"

	"github.com/labinsight/platform/internal/pipeline"
	"github.com/labinsight/platform/internal/report"
)

// Config holds LIS adapter configuration
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"ssl_mode"`

	PatientTable string        `json:"patient_table"`
	ResultTable  string        `json:"result_table"`
	PollInterval time.Duration `json:"poll_interval"`
}

// DefaultConfig returns default LIS configuration
func DefaultConfig() Config {
	return Config{
		Port:         1433,
		SSLMode:      "disable",
		PatientTable: "dbo.Patients",
		ResultTable:  "dbo.LabResults",
		PollInterval: 5 * time.Minute,
	}
}

// Adapter imports LIS results into the history store
type Adapter struct {
	db     *sql.DB
	config Config
	store  pipeline.HistoryStore
	log    zerolog.Logger

	running  bool
	mu       sync.RWMutex
	cancel   context.CancelFunc
	lastPoll time.Time
	wg       sync.WaitGroup
}

// New creates a new LIS adapter
func New(cfg Config, store pipeline.HistoryStore, log zerolog.Logger) *Adapter {
	return &Adapter{config: cfg, store: store, log: log}
}

// Start initializes the database connection and starts polling
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("adapter already running")
	}

	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		a.config.Host,
		a.config.Port,
		a.config.Database,
		a.config.User,
		a.config.Password,
	)
	if a.config.SSLMode != "disable" {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	a.db = db
	a.running = true
	a.lastPoll = time.Now().Add(-a.config.PollInterval)

	pollCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	if a.config.PollInterval <= 0 {
		// One-shot backfill of the full result history.
		go func() {
			defer a.wg.Done()
			if err := a.importSince(pollCtx, time.Time{}); err != nil {
				a.log.Error().Err(err).Msg("lis import failed")
			}
		}()
	} else {
		go a.pollLoop(pollCtx)
	}

	return nil
}

// Stop stops the adapter and closes connections
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if a.db != nil {
		a.db.Close()
	}

	a.running = false
	return nil
}

// Health checks database connectivity
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return fmt.Errorf("adapter not running")
	}

	return a.db.PingContext(ctx)
}

// IsConnected returns connection status
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running && a.db != nil
}

func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			lastPoll := a.lastPoll
			a.lastPoll = time.Now()
			a.mu.Unlock()

			if err := a.importSince(ctx, lastPoll); err != nil {
				a.log.Error().Err(err).Msg("lis import failed")
			}
		}
	}
}

// resultRow is one finalized result row from the LIS.
type resultRow struct {
	externalID string
	name       string
	sex        sql.NullString
	dob        sql.NullTime

	reportedAt time.Time
	code       string
	testName   string
	value      float64
	unit       sql.NullString
	refMin     sql.NullFloat64
	refMax     sql.NullFloat64
	flag       sql.NullString
}

// importSince fetches finalized results reported since the last poll and
// persists them grouped into one report per patient per reported date.
func (a *Adapter) importSince(ctx context.Context, since time.Time) error {
	rows, err := a.fetchResults(ctx, since)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	reports := groupReports(rows)
	for i := range reports {
		if _, err := a.store.PersistReport(ctx, reports[i]); err != nil {
			a.log.Warn().
				Err(err).
				Str("patient", reports[i].Patient.ExternalID).
				Msg("lis report persistence failed")
			continue
		}
	}

	a.log.Info().
		Int("results", len(rows)).
		Int("reports", len(reports)).
		Msg("lis import completed")
	return nil
}

func (a *Adapter) fetchResults(ctx context.Context, since time.Time) ([]resultRow, error) {
	if !a.IsConnected() {
		return nil, fmt.Errorf("adapter not connected")
	}

	query := fmt.Sprintf(`
		SELECT
			p.ExternalID,
			p.FullName,
			p.Sex,
			p.DateOfBirth,
			l.ReportedAt,
			l.TestCode,
			l.TestName,
			l.Value,
			l.Unit,
			l.ReferenceMin,
			l.ReferenceMax,
			l.Flag
		FROM %s l
		INNER JOIN %s p ON l.PatientID = p.PatientID
		WHERE l.ReportedAt > @since
		  AND l.Status = 'final'
		ORDER BY p.ExternalID, l.ReportedAt ASC
	`, a.config.ResultTable, a.config.PatientTable)

	dbRows, err := a.db.QueryContext(ctx, query, sql.Named("since", since))
	if err != nil {
		return nil, fmt.Errorf("failed to query lab results: %w", err)
	}
	defer dbRows.Close()

	var results []resultRow
	for dbRows.Next() {
		var r resultRow
		err := dbRows.Scan(
			&r.externalID,
			&r.name,
			&r.sex,
			&r.dob,
			&r.reportedAt,
			&r.code,
			&r.testName,
			&r.value,
			&r.unit,
			&r.refMin,
			&r.refMax,
			&r.flag,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lab result: %w", err)
		}
		results = append(results, r)
	}
	return results, dbRows.Err()
}

// groupReports folds per-test rows into one report per patient per reported
// date, preserving the input ordering.
func groupReports(rows []resultRow) []report.Report {
	type key struct {
		externalID string
		date       string
	}

	index := make(map[key]int)
	var reports []report.Report

	for _, r := range rows {
		date := report.NewDate(r.reportedAt.Year(), r.reportedAt.Month(), r.reportedAt.Day())
		k := key{externalID: r.externalID, date: date.String()}

		i, ok := index[k]
		if !ok {
			rep := report.Report{
				Patient: report.Patient{
					ExternalID: r.externalID,
					Name:       r.name,
					Sex:        mapSex(r.sex),
				},
				ReportDate: date,
			}
			if r.dob.Valid {
				rep.Patient.DOB = r.dob.Time.Format("2006-01-02")
			}
			reports = append(reports, rep)
			i = len(reports) - 1
			index[k] = i
		}

		t := report.TestReading{
			Code:  r.code,
			Name:  r.testName,
			Value: r.value,
		}
		if r.unit.Valid {
			t.Unit = r.unit.String
		}
		if r.refMin.Valid {
			t.NormalRangeLow = report.Float64Ptr(r.refMin.Float64)
		}
		if r.refMax.Valid {
			t.NormalRangeHigh = report.Float64Ptr(r.refMax.Float64)
		}
		if r.flag.Valid {
			t.Flag = mapFlag(r.flag.String)
		}
		reports[i].Tests = append(reports[i].Tests, t)
	}

	return reports
}

// mapSex maps the LIS sex code to the canonical M/F/U values.
func mapSex(code sql.NullString) string {
	if !code.Valid {
		return "U"
	}
	switch code.String {
	case "M", "m", "1":
		return "M"
	case "F", "f", "Z", "z", "2":
		return "F"
	default:
		return "U"
	}
}

// mapFlag maps the LIS interpretation flag to the canonical flag values.
func mapFlag(flag string) report.Flag {
	switch flag {
	case "L", "l", "LL":
		return report.FlagLow
	case "H", "h", "HH":
		return report.FlagHigh
	case "N", "n", "":
		return report.FlagNormal
	default:
		return report.FlagUnknown
	}
}
