// Package pipeline runs the staged analysis workflow over a lab report:
// persistence, privacy masking, normalization, trends, escalation, knowledge
// retrieval, narrative generation, citation enforcement, verification, and
// auditing.
package pipeline

import (
	"fmt"

	"github.com/labinsight/platform/internal/citation"
	"github.com/labinsight/platform/internal/report"
	"github.com/labinsight/platform/internal/shared/types"
)

// Input is everything a caller provides for one analysis run.
type Input struct {
	CurrentReport  *report.Report `json:"current_report"`
	PreviousReport *report.Report `json:"previous_report,omitempty"`
	Medications    []string       `json:"medications,omitempty"`
	MedicalHistory string         `json:"medical_history,omitempty"`
	DisableCritic  bool           `json:"disable_critic,omitempty"`
}

// Validate rejects input the pipeline cannot start from.
func (in *Input) Validate() error {
	if in.CurrentReport == nil {
		return fmt.Errorf("current_report is required")
	}
	return in.CurrentReport.Validate()
}

// State is the shared run state threaded through every stage. Stages never
// mutate it directly; they return a Delta the runner merges in.
type State struct {
	RunID types.ID

	Current  *report.Report
	Previous *report.Report

	// Patient is the working identity copy. Masked after the anonymize
	// stage, restored before the run returns.
	Patient      report.Patient
	OriginalName string

	Medications    []string
	MedicalHistory string
	DisableCritic  bool

	Abnormal []report.TestReading
	Trends   map[string]*report.TrendRecord
	Series   map[string][]report.SeriesPoint
	Enriched []report.EnrichedTest
	Analysis []report.AnalysisRow

	Ledger *citation.Ledger

	// HistoryAvailable is set once the run's reports are persisted; trend
	// computation only runs against stored history.
	HistoryAvailable bool

	Correlations       string
	ActionPlan         string
	MedicationAnalysis string
	DietaryPlan        string
	Critique           string

	FinalReport string
	Logs        []string
}

// NewState initializes run state from validated input.
func NewState(in *Input) *State {
	return &State{
		RunID:          types.NewID(),
		Current:        in.CurrentReport,
		Previous:       in.PreviousReport,
		Patient:        in.CurrentReport.Patient,
		Medications:    in.Medications,
		MedicalHistory: in.MedicalHistory,
		DisableCritic:  in.DisableCritic,
		Ledger:         citation.NewLedger(),
	}
}

// Delta is a partial state update returned by a stage. Nil fields leave the
// state untouched; Logs always append.
type Delta struct {
	Patient      *report.Patient
	OriginalName *string

	Current  *report.Report
	Previous *report.Report

	Abnormal *[]report.TestReading
	Trends   *map[string]*report.TrendRecord
	Series   *map[string][]report.SeriesPoint
	Enriched *[]report.EnrichedTest
	Analysis *[]report.AnalysisRow

	Correlations       *string
	ActionPlan         *string
	MedicationAnalysis *string
	DietaryPlan        *string
	Critique           *string

	FinalReport *string

	HistoryAvailable *bool

	Logs []string
}

// Apply merges a delta into the state.
func (s *State) Apply(d *Delta) {
	if d == nil {
		return
	}
	if d.Patient != nil {
		s.Patient = *d.Patient
	}
	if d.OriginalName != nil {
		s.OriginalName = *d.OriginalName
	}
	if d.Current != nil {
		s.Current = d.Current
	}
	if d.Previous != nil {
		s.Previous = d.Previous
	}
	if d.Abnormal != nil {
		s.Abnormal = *d.Abnormal
	}
	if d.Trends != nil {
		s.Trends = *d.Trends
	}
	if d.Series != nil {
		s.Series = *d.Series
	}
	if d.Enriched != nil {
		s.Enriched = *d.Enriched
	}
	if d.Analysis != nil {
		s.Analysis = *d.Analysis
	}
	if d.Correlations != nil {
		s.Correlations = *d.Correlations
	}
	if d.ActionPlan != nil {
		s.ActionPlan = *d.ActionPlan
	}
	if d.MedicationAnalysis != nil {
		s.MedicationAnalysis = *d.MedicationAnalysis
	}
	if d.DietaryPlan != nil {
		s.DietaryPlan = *d.DietaryPlan
	}
	if d.Critique != nil {
		s.Critique = *d.Critique
	}
	if d.FinalReport != nil {
		s.FinalReport = *d.FinalReport
	}
	if d.HistoryAvailable != nil {
		s.HistoryAvailable = *d.HistoryAvailable
	}
	s.Logs = append(s.Logs, d.Logs...)
}

// Result is what a completed run returns to the caller.
type Result struct {
	RunID              types.ID                        `json:"run_id"`
	FinalReport        string                          `json:"final_report"`
	Analysis           []report.AnalysisRow            `json:"analysis"`
	Citations          []report.Citation               `json:"citations"`
	SeriesByCode       map[string][]report.SeriesPoint `json:"series_by_code"`
	Correlations       string                          `json:"correlations"`
	ActionPlan         string                          `json:"action_plan"`
	MedicationAnalysis string                          `json:"medication_analysis"`
	DietaryPlan        string                          `json:"dietary_plan"`
	Logs               []string                        `json:"logs"`
}