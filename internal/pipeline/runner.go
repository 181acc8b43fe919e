package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/labinsight/platform/internal/audit"
	"github.com/labinsight/platform/internal/knowledge"
	"github.com/labinsight/platform/internal/narrative"
	"github.com/labinsight/platform/internal/privacy"
	"github.com/labinsight/platform/internal/report"
	"github.com/labinsight/platform/internal/shared/errors"
	"github.com/labinsight/platform/internal/shared/metrics"
	"github.com/labinsight/platform/internal/shared/types"
	"github.com/labinsight/platform/internal/specialist"
)

// HistoryStore is the persistence surface the pipeline needs.
type HistoryStore interface {
	PersistReport(ctx context.Context, r report.Report) (types.ID, error)
	FetchHistory(ctx context.Context, externalID string, limitReports int) ([]report.HistoryRow, error)
}

// Config tunes the run-level knobs.
type Config struct {
	HistoryReports     int
	LongTrendMinPoints int
	LongTrendEpsilon   float64
	LocalTopK          int
	WebMaxResults      int
	AuditTimeout       time.Duration
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		HistoryReports:     5,
		LongTrendMinPoints: 3,
		LongTrendEpsilon:   0.1,
		LocalTopK:          2,
		WebMaxResults:      3,
		AuditTimeout:       10 * time.Second,
	}
}

// Runner executes the analysis workflow. All collaborators except the
// narrative generator and specialist recommender are optional; missing ones
// degrade the run rather than failing it.
type Runner struct {
	store       HistoryStore
	local       knowledge.Retriever
	web         knowledge.Retriever
	generator   narrative.Generator
	specialists *specialist.Recommender
	sink        audit.Sink
	cfg         Config
	log         zerolog.Logger
}

// NewRunner wires a Runner. A nil sink falls back to a no-op.
func NewRunner(
	store HistoryStore,
	local, web knowledge.Retriever,
	generator narrative.Generator,
	specialists *specialist.Recommender,
	sink audit.Sink,
	cfg Config,
	log zerolog.Logger,
) *Runner {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Runner{
		store:       store,
		local:       local,
		web:         web,
		generator:   generator,
		specialists: specialists,
		sink:        sink,
		cfg:         cfg,
		log:         log,
	}
}

type stage struct {
	name string
	run  func(ctx context.Context, s *State) (*Delta, error)
}

func (r *Runner) stages() []stage {
	return []stage{
		{"persist", r.persist},
		{"anonymize", r.anonymize},
		{"normalize", r.normalizeUnits},
		{"abnormal_filter", r.filterAbnormal},
		{"trend", r.computeTrends},
		{"enrich", r.enrich},
		{"specialist", r.recommendSpecialists},
		{"analysis", r.buildAnalysis},
		{"correlation", r.correlate},
		{"planner", r.plan},
		{"medication", r.analyzeMedications},
		{"dietary", r.planDiet},
		{"critic", r.critique},
		{"summarizer", r.summarize},
		{"safety", r.enforceSafety},
		{"citation_enforcer", r.enforceCitations},
		{"verify", r.verifyNumbers},
		{"restore", r.restoreIdentity},
	}
}

// Run executes one analysis from input to result. Identity restoration is
// guaranteed even when a stage aborts the run.
func (r *Runner) Run(ctx context.Context, in *Input) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, errors.Validation(err.Error(), nil)
	}

	s := NewState(in)
	runLog := r.log.With().Str("run_id", s.RunID.String()).Logger()
	runLog.Info().Str("patient", s.Patient.ExternalID).Msg("analysis run started")

	// The masked name must never survive past the run, whatever happens in
	// the stages below.
	defer func() {
		if s.OriginalName != "" && s.Patient.Name == privacy.Placeholder {
			s.FinalReport = privacy.Restore(&s.Patient, s.OriginalName, s.FinalReport)
		}
	}()

	for _, st := range r.stages() {
		start := time.Now()
		delta, err := st.run(ctx, s)
		metrics.RecordStage(st.name, time.Since(start))

		if err != nil {
			runLog.Error().Err(err).Str("stage", st.name).Msg("stage failed, aborting run")
			metrics.RecordRun("failed")
			return nil, errors.Wrap(err, "stage "+st.name+" failed")
		}
		s.Apply(delta)
	}

	r.recordAudit(s)

	metrics.RecordRun("completed")
	runLog.Info().Int("abnormal", len(s.Abnormal)).Int("citations", s.Ledger.Len()).Msg("analysis run completed")

	return &Result{
		RunID:              s.RunID,
		FinalReport:        s.FinalReport,
		Analysis:           s.Analysis,
		Citations:          s.Ledger.Citations(),
		SeriesByCode:       s.Series,
		Correlations:       s.Correlations,
		ActionPlan:         s.ActionPlan,
		MedicationAnalysis: s.MedicationAnalysis,
		DietaryPlan:        s.DietaryPlan,
		Logs:               s.Logs,
	}, nil
}

// recordAudit appends the run's audit entry without blocking the response.
func (r *Runner) recordAudit(s *State) {
	entry := audit.NewRunEntry(s.Patient.ExternalID, s.Current.ReportDate, s.Trends, s.Enriched)
	log := r.log

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.AuditTimeout)
		defer cancel()

		if err := r.sink.Append(ctx, entry); err != nil {
			log.Warn().Err(err).Msg("audit append failed")
			metrics.RecordAuditAppend("failed")
			return
		}
		metrics.RecordAuditAppend("ok")
	}()
}
