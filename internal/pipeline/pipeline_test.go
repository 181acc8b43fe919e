package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labinsight/platform/internal/audit"
	"github.com/labinsight/platform/internal/knowledge"
	"github.com/labinsight/platform/internal/report"
	"github.com/labinsight/platform/internal/shared/types"
	"github.com/labinsight/platform/internal/specialist"
)

type fakeStore struct {
	history    []report.HistoryRow
	persisted  []report.Report
	persistErr error
	fetchErr   error
}

func (f *fakeStore) PersistReport(_ context.Context, r report.Report) (types.ID, error) {
	if f.persistErr != nil {
		return "", f.persistErr
	}
	f.persisted = append(f.persisted, r)
	return types.NewID(), nil
}

func (f *fakeStore) FetchHistory(_ context.Context, _ string, _ int) ([]report.HistoryRow, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.history, nil
}

type fakeRetriever struct {
	sources []knowledge.Source
	err     error
	queries []string
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, _ int) ([]knowledge.Source, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.sources, nil
}

// fakeGenerator answers every prompt with a fixed narrative and records the
// prompts it saw.
type fakeGenerator struct {
	narrative string
	err       error
	prompts   []string
}

func (f *fakeGenerator) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.narrative, nil
}

type captureSink struct {
	entries chan *audit.RunEntry
}

func (c *captureSink) Append(_ context.Context, e *audit.RunEntry) error {
	c.entries <- e
	return nil
}

func sampleInput() *Input {
	current := &report.Report{
		Patient:    report.Patient{ExternalID: "P-001", Name: "Jane Doe", Sex: "F", DOB: "1980-04-02"},
		ReportDate: report.NewDate(2025, 11, 1),
		Tests: []report.TestReading{
			{Code: "HGB", Name: "Hemoglobin", Value: 8.1, Unit: "g/dL", Flag: report.FlagLow},
			{Code: "WBC", Name: "White Blood Cells", Value: 7.0, Unit: "10^9/L", Flag: report.FlagNormal},
		},
	}
	previous := &report.Report{
		Patient:    current.Patient,
		ReportDate: report.NewDate(2025, 8, 1),
		Tests: []report.TestReading{
			{Code: "HGB", Name: "Hemoglobin", Value: 10.5, Unit: "g/dL", Flag: report.FlagLow},
		},
	}
	return &Input{CurrentReport: current, PreviousReport: previous}
}

func historyRows() []report.HistoryRow {
	return []report.HistoryRow{
		{ReportDate: report.NewDate(2025, 11, 1), Code: "HGB", Name: "Hemoglobin", Value: report.Float64Ptr(8.1), Unit: "g/dL",
			NormalRangeLow: report.Float64Ptr(12.0), NormalRangeHigh: report.Float64Ptr(15.5)},
		{ReportDate: report.NewDate(2025, 8, 1), Code: "HGB", Name: "Hemoglobin", Value: report.Float64Ptr(10.5), Unit: "g/dL",
			NormalRangeLow: report.Float64Ptr(12.0), NormalRangeHigh: report.Float64Ptr(15.5)},
		{ReportDate: report.NewDate(2025, 5, 1), Code: "HGB", Name: "Hemoglobin", Value: report.Float64Ptr(12.1), Unit: "g/dL",
			NormalRangeLow: report.Float64Ptr(12.0), NormalRangeHigh: report.Float64Ptr(15.5)},
	}
}

func newTestRunner(store HistoryStore, local, web knowledge.Retriever, gen *fakeGenerator, sink audit.Sink) *Runner {
	return NewRunner(store, local, web, gen, specialist.NewRecommender(nil), sink, DefaultConfig(), zerolog.Nop())
}

func TestRunHappyPath(t *testing.T) {
	store := &fakeStore{history: historyRows()}
	local := &fakeRetriever{sources: []knowledge.Source{{Title: "Anemia guideline", URL: "local://anemia#chunk=0", Snippet: "low hemoglobin"}}}
	web := &fakeRetriever{sources: []knowledge.Source{{Title: "Anemia overview", URL: "https://medlineplus.gov/anemia", Snippet: "causes of anemia"}}}
	gen := &fakeGenerator{narrative: "Patient_X has Hemoglobin of 8.1 which is low (Ref 1)."}
	sink := &captureSink{entries: make(chan *audit.RunEntry, 1)}

	r := newTestRunner(store, local, web, gen, sink)
	res, err := r.Run(context.Background(), sampleInput())
	require.NoError(t, err)

	// Identity restored everywhere.
	assert.NotContains(t, res.FinalReport, "Patient_X")
	assert.Contains(t, res.FinalReport, "Jane Doe")

	// Canonical references block appended for the cited ref only.
	assert.Contains(t, res.FinalReport, "### References")
	assert.Contains(t, res.FinalReport, "1. Anemia guideline")

	// Integrity section appended; 8.1 appears verbatim so no warnings.
	assert.Contains(t, res.FinalReport, "Data Integrity Verification Log")
	assert.Contains(t, res.FinalReport, "No numerical inconsistencies detected")

	// One abnormal test, classified and enriched.
	require.Len(t, res.Analysis, 1)
	row := res.Analysis[0]
	assert.Equal(t, "HGB", row.Code)
	assert.Equal(t, report.SeverityFollowUp, row.EscalationLevel)
	assert.Equal(t, report.DirectionDown, row.Direction)
	assert.Equal(t, report.TrendWorsening, row.ClinicalTrend)
	assert.Equal(t, []string{"Hematologist", "Internal Medicine"}, row.Specialists)
	require.NotNil(t, row.PreviousValue)
	assert.Equal(t, 10.5, *row.PreviousValue)
	assert.Equal(t, report.DirectionDown, row.DirectionLong)

	// Both retrievals registered, IDs monotonic from 1.
	require.Len(t, res.Citations, 2)
	assert.Equal(t, 1, res.Citations[0].RefID)
	assert.Equal(t, "local", res.Citations[0].SourceType)
	assert.Equal(t, "web", res.Citations[1].SourceType)

	// Both reports persisted.
	assert.Len(t, store.persisted, 2)

	// Masked name never reached a collaborator.
	for _, p := range gen.prompts {
		assert.NotContains(t, p, "Jane Doe")
	}
	for _, q := range append(local.queries, web.queries...) {
		assert.NotContains(t, q, "Jane Doe")
	}

	// Audit entry recorded asynchronously.
	select {
	case entry := <-sink.entries:
		assert.Equal(t, "P-001", entry.PatientExternalID)
		assert.Equal(t, 1, entry.AbnormalTestsCount)
	case <-time.After(2 * time.Second):
		t.Fatal("audit entry never appended")
	}
}

func TestRunRejectsMissingInput(t *testing.T) {
	r := newTestRunner(nil, nil, nil, &fakeGenerator{narrative: "x"}, nil)

	_, err := r.Run(context.Background(), &Input{})
	require.Error(t, err)

	_, err = r.Run(context.Background(), &Input{CurrentReport: &report.Report{}})
	require.Error(t, err)
}

func TestRunGeneratorFailureDegradesToPlaceholder(t *testing.T) {
	store := &fakeStore{history: historyRows()}
	gen := &fakeGenerator{err: errors.New("model unavailable")}

	r := newTestRunner(store, nil, nil, gen, nil)
	res, err := r.Run(context.Background(), sampleInput())
	require.NoError(t, err)

	assert.Contains(t, res.FinalReport, "could not be generated")
	// Only one abnormal test, so correlation short-circuits before the generator.
	assert.Equal(t, "Not enough abnormal tests to determine correlations.", res.Correlations)
	assert.Equal(t, "Could not generate action plan.", res.ActionPlan)
	// Structured outputs still present.
	require.Len(t, res.Analysis, 1)
}

func TestRunWithoutHistoryStoreSkipsTrends(t *testing.T) {
	gen := &fakeGenerator{narrative: "Hemoglobin 8.1 low."}

	r := newTestRunner(nil, nil, nil, gen, nil)
	res, err := r.Run(context.Background(), sampleInput())
	require.NoError(t, err)

	require.Len(t, res.Analysis, 1)
	assert.Equal(t, report.TrendUnknown, res.Analysis[0].ClinicalTrend)
	assert.Nil(t, res.Analysis[0].PreviousValue)

	joined := strings.Join(res.Logs, "\n")
	assert.Contains(t, joined, "no history store configured")
	assert.Contains(t, joined, "trend: no history available")
}

func TestRunHistoryFetchFailureDegrades(t *testing.T) {
	store := &fakeStore{fetchErr: errors.New("connection refused")}
	gen := &fakeGenerator{narrative: "Hemoglobin 8.1 low."}

	r := newTestRunner(store, nil, nil, gen, nil)
	res, err := r.Run(context.Background(), sampleInput())
	require.NoError(t, err)

	joined := strings.Join(res.Logs, "\n")
	assert.Contains(t, joined, "history fetch failed")
	require.Len(t, res.Analysis, 1)
}

func TestRunRetrievalFailureKeepsSeverity(t *testing.T) {
	local := &fakeRetriever{err: errors.New("typesense down")}
	web := &fakeRetriever{err: errors.New("quota exceeded")}
	gen := &fakeGenerator{narrative: "Hemoglobin 8.1 low."}

	r := newTestRunner(&fakeStore{}, local, web, gen, nil)
	res, err := r.Run(context.Background(), sampleInput())
	require.NoError(t, err)

	require.Len(t, res.Analysis, 1)
	assert.Equal(t, report.SeverityFollowUp, res.Analysis[0].EscalationLevel)
	assert.Empty(t, res.Citations)
	// No citations, so no references block.
	assert.NotContains(t, res.FinalReport, "### References")
}

func TestRunCriticDisabled(t *testing.T) {
	gen := &fakeGenerator{narrative: "Hemoglobin 8.1 low."}
	in := sampleInput()
	in.DisableCritic = true

	r := newTestRunner(nil, nil, nil, gen, nil)
	_, err := r.Run(context.Background(), in)
	require.NoError(t, err)

	for _, p := range gen.prompts {
		assert.NotContains(t, p, "Senior Medical Critic")
	}
}

func TestRunFullLedgerFallbackWhenNarrativeCitesNothing(t *testing.T) {
	local := &fakeRetriever{sources: []knowledge.Source{{Title: "Guideline A", URL: "local://a#chunk=0"}}}
	gen := &fakeGenerator{narrative: "Hemoglobin 8.1 is low, no markers here."}

	r := newTestRunner(&fakeStore{}, local, nil, gen, nil)
	res, err := r.Run(context.Background(), sampleInput())
	require.NoError(t, err)

	assert.Contains(t, res.FinalReport, "1. Guideline A")
	assert.Contains(t, strings.Join(res.Logs, "\n"), "fallback")
}

func TestDeltaApply(t *testing.T) {
	s := NewState(sampleInput())

	text := "hello"
	s.Apply(&Delta{FinalReport: &text, Logs: []string{"a"}})
	s.Apply(&Delta{Logs: []string{"b"}})
	s.Apply(nil)

	assert.Equal(t, "hello", s.FinalReport)
	assert.Equal(t, []string{"a", "b"}, s.Logs)

	// Nil fields leave prior values untouched.
	abnormal := []report.TestReading{{Code: "HGB"}}
	s.Apply(&Delta{Abnormal: &abnormal})
	s.Apply(&Delta{Logs: []string{"c"}})
	assert.Len(t, s.Abnormal, 1)
	assert.Equal(t, "hello", s.FinalReport)
}

func TestRunMedicationContext(t *testing.T) {
	gen := &fakeGenerator{narrative: "Hemoglobin 8.1 low."}
	in := sampleInput()
	in.Medications = []string{"Lisinopril", "Metformin"}
	in.MedicalHistory = "Type 2 diabetes"

	r := newTestRunner(nil, nil, nil, gen, nil)
	res, err := r.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "Hemoglobin 8.1 low.", strings.SplitN(res.FinalReport, "\n", 2)[0])

	var sawMeds bool
	for _, p := range gen.prompts {
		if strings.Contains(p, "Lisinopril, Metformin") {
			sawMeds = true
		}
	}
	assert.True(t, sawMeds, "medication prompt should carry the med list")
	assert.NotEqual(t, "No medications provided or no abnormal tests to check.", res.MedicationAnalysis)
}
