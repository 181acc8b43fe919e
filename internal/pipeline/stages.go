package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/labinsight/platform/internal/citation"
	"github.com/labinsight/platform/internal/escalation"
	"github.com/labinsight/platform/internal/knowledge"
	"github.com/labinsight/platform/internal/normalize"
	"github.com/labinsight/platform/internal/privacy"
	"github.com/labinsight/platform/internal/report"
	"github.com/labinsight/platform/internal/shared/metrics"
	"github.com/labinsight/platform/internal/trend"
	"github.com/labinsight/platform/internal/verify"
)

const citationSnippetMaxLen = 200

// unavailableNarrative is the placeholder used whenever the narrative
// collaborator fails. The run still completes with structured results.
const unavailableNarrative = "The report summary could not be generated. Please consult your clinician with the structured results below."

// persist stores the current (and previous, if given) report. A storage
// failure degrades the run to no-history mode instead of aborting it.
func (r *Runner) persist(ctx context.Context, s *State) (*Delta, error) {
	d := &Delta{Logs: []string{"persist: storing reports"}}

	if r.store == nil {
		d.Logs = append(d.Logs, "persist: no history store configured, continuing without history")
		return d, nil
	}

	if _, err := r.store.PersistReport(ctx, *s.Current); err != nil {
		r.log.Warn().Err(err).Msg("report persistence failed, continuing without history")
		d.Logs = append(d.Logs, fmt.Sprintf("persist: failed (%v), continuing without history", err))
		return d, nil
	}
	if s.Previous != nil {
		if _, err := r.store.PersistReport(ctx, *s.Previous); err != nil {
			r.log.Warn().Err(err).Msg("previous report persistence failed")
			d.Logs = append(d.Logs, fmt.Sprintf("persist: previous report failed (%v)", err))
		}
	}

	available := true
	d.HistoryAvailable = &available
	d.Logs = append(d.Logs, "persist: done")
	return d, nil
}

// anonymize masks the patient's name before anything leaves the process.
func (r *Runner) anonymize(_ context.Context, s *State) (*Delta, error) {
	p := s.Patient
	original := privacy.Mask(&p)

	d := &Delta{Patient: &p}
	if original != "" {
		d.OriginalName = &original
		d.Logs = []string{fmt.Sprintf("anonymize: name masked as '%s'", privacy.Placeholder)}
	} else {
		d.Logs = []string{"anonymize: no patient name to mask"}
	}
	return d, nil
}

// normalizeUnits cleans units, ranges, and flags on both reports.
func (r *Runner) normalizeUnits(_ context.Context, s *State) (*Delta, error) {
	d := &Delta{Logs: []string{"normalize: start"}}

	d.Logs = append(d.Logs, normalize.Report(s.Current)...)
	if s.Previous != nil {
		d.Logs = append(d.Logs, normalize.Report(s.Previous)...)
	}

	d.Logs = append(d.Logs, "normalize: done")
	return d, nil
}

// filterAbnormal keeps every current reading whose flag is not Normal.
func (r *Runner) filterAbnormal(_ context.Context, s *State) (*Delta, error) {
	var abnormal []report.TestReading
	for _, t := range s.Current.Tests {
		if t.Flag != report.FlagNormal {
			abnormal = append(abnormal, t)
		}
	}

	return &Delta{
		Abnormal: &abnormal,
		Logs:     []string{fmt.Sprintf("abnormal_filter: found %d abnormal tests", len(abnormal))},
	}, nil
}

// computeTrends derives short, long, and clinical trends from persisted
// history. Without a usable history store the stage is skipped.
func (r *Runner) computeTrends(ctx context.Context, s *State) (*Delta, error) {
	if r.store == nil || !s.HistoryAvailable {
		return &Delta{Logs: []string{"trend: no history available, skipping"}}, nil
	}

	rows, err := r.store.FetchHistory(ctx, s.Patient.ExternalID, r.cfg.HistoryReports)
	if err != nil {
		r.log.Warn().Err(err).Msg("history fetch failed, skipping trends")
		return &Delta{Logs: []string{fmt.Sprintf("trend: history fetch failed (%v), skipping", err)}}, nil
	}

	trends := trend.ComputeTrends(rows, s.Current.ReportDate)
	series := trend.SeriesByCode(rows)

	for code, tr := range trends {
		if tr == nil {
			continue
		}
		tr.LongTrend = trend.ComputeLongTrend(series[code], r.cfg.LongTrendMinPoints, r.cfg.LongTrendEpsilon)
		tr.ClinicalTrend = trend.ClinicalLabel(code, tr.PrevValue, tr.LastValue, tr.NormalRangeLow, tr.NormalRangeHigh)
	}

	return &Delta{
		Trends: &trends,
		Series: &series,
		Logs:   []string{fmt.Sprintf("trend: trends=%d codes, series=%d codes", len(trends), len(series))},
	}, nil
}

// enrich classifies severity and retrieves knowledge for each abnormal
// test, registering every retrieved source in the citation ledger.
func (r *Runner) enrich(ctx context.Context, s *State) (*Delta, error) {
	logs := []string{"enrich: applying escalation rules and fetching knowledge"}
	var enriched []report.EnrichedTest

	for _, t := range s.Abnormal {
		severity := escalation.Classify(t.Code, t.Value, s.Patient.Sex, t.NormalRangeLow, t.NormalRangeHigh)

		localSources := r.retrieve(ctx, r.local, "local", knowledge.LocalQuery(t.Name, t.Value), r.cfg.LocalTopK, &logs)
		webQuery := knowledge.WebQuery(t.Name, t.Value, severity == report.SeverityUrgent)
		webSources := r.retrieve(ctx, r.web, "web", webQuery, r.cfg.WebMaxResults, &logs)

		combined := knowledge.CombineContexts(knowledge.BuildContext(localSources), knowledge.BuildContext(webSources))

		refIDs := s.Ledger.Register(t.Code, truncateSnippets(localSources), "local")
		refIDs = append(refIDs, s.Ledger.Register(t.Code, truncateSnippets(webSources), "web")...)
		metrics.RecordCitations(len(refIDs))

		enriched = append(enriched, report.EnrichedTest{
			Test:             t,
			Severity:         severity,
			KnowledgeContext: combined,
			Trend:            s.Trends[strings.ToUpper(t.Code)],
			RefIDs:           refIDs,
		})

		logs = append(logs, fmt.Sprintf("enrich: %s: %d local + %d web sources", t.Name, len(localSources), len(webSources)))
	}

	logs = append(logs, fmt.Sprintf("enrich: enriched %d tests", len(enriched)))
	return &Delta{Enriched: &enriched, Logs: logs}, nil
}

// retrieve is the degradation wrapper around one retriever call.
func (r *Runner) retrieve(ctx context.Context, ret knowledge.Retriever, sourceType, query string, limit int, logs *[]string) []knowledge.Source {
	if ret == nil {
		return nil
	}
	sources, err := ret.Retrieve(ctx, query, limit)
	if err != nil {
		r.log.Warn().Err(err).Str("source", sourceType).Msg("knowledge retrieval failed")
		metrics.RecordRetrievalFailure(sourceType)
		*logs = append(*logs, fmt.Sprintf("enrich: %s retrieval failed (%v)", sourceType, err))
		return nil
	}
	return sources
}

func truncateSnippets(sources []knowledge.Source) []knowledge.Source {
	out := make([]knowledge.Source, len(sources))
	copy(out, sources)
	for i := range out {
		if len(out[i].Snippet) > citationSnippetMaxLen {
			out[i].Snippet = out[i].Snippet[:citationSnippetMaxLen]
		}
	}
	return out
}

// recommendSpecialists attaches specialist roles to each enriched test.
func (r *Runner) recommendSpecialists(ctx context.Context, s *State) (*Delta, error) {
	enriched := make([]report.EnrichedTest, len(s.Enriched))
	copy(enriched, s.Enriched)
	for i := range enriched {
		enriched[i].Specialists = r.specialists.Recommend(ctx, enriched[i].Test.Code)
	}
	return &Delta{
		Enriched: &enriched,
		Logs:     []string{fmt.Sprintf("specialist: added specialists for %d tests", len(enriched))},
	}, nil
}

// buildAnalysis flattens abnormal tests, trends, series, and decisions into
// per-test rows.
func (r *Runner) buildAnalysis(_ context.Context, s *State) (*Delta, error) {
	enrichedByCode := make(map[string]report.EnrichedTest, len(s.Enriched))
	for _, et := range s.Enriched {
		enrichedByCode[strings.ToUpper(et.Test.Code)] = et
	}

	var rows []report.AnalysisRow
	for _, t := range s.Abnormal {
		code := strings.ToUpper(t.Code)

		row := report.AnalysisRow{
			Code:            code,
			Name:            t.Name,
			Unit:            t.Unit,
			CurrentValue:    t.Value,
			CurrentFlag:     t.Flag,
			Direction:       report.DirectionStable,
			ClinicalTrend:   report.TrendUnknown,
			EscalationLevel: report.SeverityRoutine,
			Specialists:     []string{},
		}

		if tr := s.Trends[code]; tr != nil {
			row.PreviousValue = tr.PrevValue
			row.PreviousUnit = tr.PrevUnit
			prevDate := tr.PrevDate
			row.PreviousDate = &prevDate
			row.LastValue = tr.LastValue
			row.LastUnit = tr.LastUnit
			lastDate := tr.LastDate
			row.LastDate = &lastDate
			row.Direction = tr.Direction
			row.ClinicalTrend = tr.ClinicalTrend
			if tr.LongTrend != nil {
				row.DirectionLong = tr.LongTrend.Direction
				net := tr.LongTrend.NetChange
				row.NetChange = &net
				row.PointsUsed = tr.LongTrend.PointsUsed
			}
		}

		if series := s.Series[code]; len(series) > 0 {
			last5 := series
			if len(last5) > 5 {
				last5 = last5[len(last5)-5:]
			}
			row.SeriesLast5 = last5
		}

		if et, ok := enrichedByCode[code]; ok {
			row.EscalationLevel = et.Severity
			if len(et.Specialists) > 0 {
				row.Specialists = et.Specialists
			}
		}

		rows = append(rows, row)
	}

	return &Delta{Analysis: &rows, Logs: []string{fmt.Sprintf("analysis: built %d rows", len(rows))}}, nil
}

// correlate asks the generator for cross-test physiological links.
func (r *Runner) correlate(ctx context.Context, s *State) (*Delta, error) {
	if len(s.Abnormal) < 2 {
		out := "Not enough abnormal tests to determine correlations."
		return &Delta{Correlations: &out, Logs: []string{"correlation: <2 abnormal tests, skipping"}}, nil
	}

	out, err := r.generator.Complete(ctx, correlationPrompt(s.Patient.Sex, s.Abnormal))
	if err != nil {
		r.log.Warn().Err(err).Msg("correlation generation failed")
		out = "Could not determine correlations."
		return &Delta{Correlations: &out, Logs: []string{fmt.Sprintf("correlation: error %v", err)}}, nil
	}
	return &Delta{Correlations: &out, Logs: []string{"correlation: generated"}}, nil
}

// plan produces the patient-facing next-steps checklist.
func (r *Runner) plan(ctx context.Context, s *State) (*Delta, error) {
	if len(s.Abnormal) == 0 {
		out := "No abnormal results found. Standard screening recommended."
		return &Delta{ActionPlan: &out, Logs: []string{"planner: no abnormal tests, default plan"}}, nil
	}

	out, err := r.generator.Complete(ctx, plannerPrompt(s.Patient, s.Abnormal, s.Correlations))
	if err != nil {
		r.log.Warn().Err(err).Msg("action plan generation failed")
		out = "Could not generate action plan."
		return &Delta{ActionPlan: &out, Logs: []string{fmt.Sprintf("planner: error %v", err)}}, nil
	}
	return &Delta{ActionPlan: &out, Logs: []string{"planner: generated"}}, nil
}

// analyzeMedications checks abnormal results against the medication list.
func (r *Runner) analyzeMedications(ctx context.Context, s *State) (*Delta, error) {
	if len(s.Medications) == 0 || len(s.Abnormal) == 0 {
		out := "No medications provided or no abnormal tests to check."
		return &Delta{MedicationAnalysis: &out, Logs: []string{"medication: skipping (no meds or no abnormalities)"}}, nil
	}

	out, err := r.generator.Complete(ctx, medicationPrompt(s.Medications, s.Abnormal))
	if err != nil {
		r.log.Warn().Err(err).Msg("medication analysis failed")
		out = "Could not analyze medications."
		return &Delta{MedicationAnalysis: &out, Logs: []string{fmt.Sprintf("medication: error %v", err)}}, nil
	}
	return &Delta{MedicationAnalysis: &out, Logs: []string{"medication: generated"}}, nil
}

// planDiet produces the 3-day meal plan from the analysis rows.
func (r *Runner) planDiet(ctx context.Context, s *State) (*Delta, error) {
	var summaries []string
	for _, row := range s.Analysis {
		if row.CurrentFlag != "" && row.CurrentFlag != report.FlagNormal {
			summaries = append(summaries, fmt.Sprintf("%s: %g (%s)", row.Name, row.CurrentValue, row.CurrentFlag))
		}
	}

	abnormalText := "None"
	if len(summaries) > 0 {
		abnormalText = strings.Join(summaries, "\n")
	}
	medsText := "None"
	if len(s.Medications) > 0 {
		medsText = strings.Join(s.Medications, ", ")
	}
	historyText := "None"
	if s.MedicalHistory != "" {
		historyText = s.MedicalHistory
	}

	if abnormalText == "None" && medsText == "None" && historyText == "None" {
		out := "No specific abnormal findings or context provided. A general balanced diet is recommended."
		return &Delta{DietaryPlan: &out, Logs: []string{"dietary: nothing to tailor, generic advice"}}, nil
	}

	out, err := r.generator.Complete(ctx, dietaryPrompt(abnormalText, historyText, medsText))
	if err != nil {
		r.log.Warn().Err(err).Msg("dietary plan generation failed")
		out = "Could not generate dietary plan."
		return &Delta{DietaryPlan: &out, Logs: []string{fmt.Sprintf("dietary: error %v", err)}}, nil
	}
	return &Delta{DietaryPlan: &out, Logs: []string{"dietary: generated"}}, nil
}

// critique runs the adversarial review unless disabled for ablation.
func (r *Runner) critique(ctx context.Context, s *State) (*Delta, error) {
	if s.DisableCritic {
		out := ""
		return &Delta{Critique: &out, Logs: []string{"critic: disabled by ablation flag"}}, nil
	}
	if len(s.Abnormal) == 0 {
		out := "No abnormal tests to critique."
		return &Delta{Critique: &out, Logs: []string{"critic: nothing to critique"}}, nil
	}

	out, err := r.generator.Complete(ctx, criticPrompt(s.Patient, s.Medications, s.MedicalHistory, s.Abnormal))
	if err != nil {
		r.log.Warn().Err(err).Msg("critique generation failed")
		out = "Could not generate critique."
		return &Delta{Critique: &out, Logs: []string{fmt.Sprintf("critic: error %v", err)}}, nil
	}
	return &Delta{Critique: &out, Logs: []string{"critic: critique generated"}}, nil
}

// summarize generates the main narrative with inline citations.
func (r *Runner) summarize(ctx context.Context, s *State) (*Delta, error) {
	out, err := r.generator.Complete(ctx, summarizerPrompt(s))
	if err != nil {
		r.log.Error().Err(err).Msg("narrative generation failed")
		metrics.RecordNarrativeFailure()
		out = unavailableNarrative
		return &Delta{FinalReport: &out, Logs: []string{fmt.Sprintf("summarizer: error %v, placeholder used", err)}}, nil
	}
	return &Delta{FinalReport: &out, Logs: []string{"summarizer: narrative generated"}}, nil
}

// enforceSafety rewrites the narrative through the safety filter. Unfiltered
// text is never returned: a filter failure collapses to the placeholder.
func (r *Runner) enforceSafety(ctx context.Context, s *State) (*Delta, error) {
	if s.FinalReport == unavailableNarrative {
		return &Delta{Logs: []string{"safety: placeholder narrative, nothing to filter"}}, nil
	}

	out, err := r.generator.Complete(ctx, safetyPrompt(s.FinalReport))
	if err != nil {
		r.log.Error().Err(err).Msg("safety rewrite failed")
		metrics.RecordNarrativeFailure()
		out = unavailableNarrative
		return &Delta{FinalReport: &out, Logs: []string{fmt.Sprintf("safety: error %v, placeholder used", err)}}, nil
	}
	return &Delta{FinalReport: &out, Logs: []string{"safety: safety-filtered report generated"}}, nil
}

// enforceCitations replaces any model-written references trailer with the
// canonical ledger-backed block.
func (r *Runner) enforceCitations(_ context.Context, s *State) (*Delta, error) {
	out, warnings := citation.Enforce(s.FinalReport, s.Ledger.Citations())

	logs := []string{"citation_enforcer: start"}
	logs = append(logs, warnings...)
	for _, w := range warnings {
		if strings.Contains(w, "WARNING") {
			metrics.RecordIntegrityWarning("citation")
		}
	}
	logs = append(logs, "citation_enforcer: done")

	return &Delta{FinalReport: &out, Logs: logs}, nil
}

// verifyNumbers cross-checks the narrative's numbers against the source
// readings and appends the integrity section.
func (r *Runner) verifyNumbers(_ context.Context, s *State) (*Delta, error) {
	res := verify.ReportValues(s.FinalReport, s.Abnormal)

	logs := []string{"verify: running self-correction check"}
	if len(res.Mismatches) > 0 {
		logs = append(logs, fmt.Sprintf("verify: found %d mismatches", len(res.Mismatches)))
		for range res.Mismatches {
			metrics.RecordIntegrityWarning("value_mismatch")
		}
	} else {
		logs = append(logs, "verify: integrity check passed")
	}

	out := s.FinalReport + verify.Section(res)
	return &Delta{FinalReport: &out, Logs: logs}, nil
}

// restoreIdentity puts the real name back into the state and narrative.
func (r *Runner) restoreIdentity(_ context.Context, s *State) (*Delta, error) {
	if s.OriginalName == "" {
		return &Delta{Logs: []string{"restore: nothing to restore"}}, nil
	}

	p := s.Patient
	out := privacy.Restore(&p, s.OriginalName, s.FinalReport)
	return &Delta{
		Patient:     &p,
		FinalReport: &out,
		Logs:        []string{"restore: identity restored in state and narrative"},
	}, nil
}
