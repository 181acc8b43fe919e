// Package report defines the domain model for lab reports and the derived
// analysis artifacts produced by the pipeline.
package report

import (
	"fmt"
	"strings"
	"time"
)

// DateFormat is the wire format for report and result dates.
const DateFormat = "2006-01-02"

// Date is a calendar date (no time component) serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

// ParseDate parses a YYYY-MM-DD string into a Date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateFormat, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

// NewDate builds a Date from year, month, day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	return d.Format(DateFormat)
}

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

// Equal reports whether d and other are the same calendar date.
func (d Date) Equal(other Date) bool {
	return d.Format(DateFormat) == other.Format(DateFormat)
}

// MarshalJSON serializes the date as "YYYY-MM-DD".
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(DateFormat) + `"`), nil
}

// UnmarshalJSON parses "YYYY-MM-DD".
func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool {
	return d.Time.IsZero()
}

// Flag classifies a test value against its reference range.
type Flag string

const (
	FlagLow     Flag = "Low"
	FlagHigh    Flag = "High"
	FlagNormal  Flag = "Normal"
	FlagUnknown Flag = "Unknown"
)

// Severity is the escalation triage tier assigned per test.
type Severity string

const (
	SeverityRoutine  Severity = "Routine"
	SeverityFollowUp Severity = "Follow-up"
	SeverityUrgent   Severity = "Urgent"
)

// Direction is the numeric short/long-term trend direction.
type Direction string

const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionStable Direction = "stable"
)

// ClinicalTrend is the qualitative trend label derived from proximity to the
// normal range across two time points.
type ClinicalTrend string

const (
	TrendImproving ClinicalTrend = "Improving"
	TrendWorsening ClinicalTrend = "Worsening"
	TrendStable    ClinicalTrend = "Stable"
	TrendUnknown   ClinicalTrend = "Unknown"
)

// Patient identity. The name is mutable during a run (privacy masking) and
// must be restored bit-for-bit before the run's result is returned.
type Patient struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Sex        string `json:"sex"` // "M", "F", or "U"
	DOB        string `json:"dob"`
}

// TestReading is one measured lab value. Immutable once ingested except for
// the one-time unit/range normalization pass.
type TestReading struct {
	Code            string   `json:"code"`
	Name            string   `json:"name"`
	Value           float64  `json:"value"`
	Unit            string   `json:"unit"`
	NormalRangeLow  *float64 `json:"normal_range_low,omitempty"`
	NormalRangeHigh *float64 `json:"normal_range_high,omitempty"`
	Flag            Flag     `json:"flag"`
}

// Report is one dated set of test readings for a patient.
type Report struct {
	Patient    Patient       `json:"patient"`
	ReportDate Date          `json:"report_date"`
	Tests      []TestReading `json:"tests"`
}

// Validate checks the fields required before a run may start.
func (r *Report) Validate() error {
	if r == nil {
		return fmt.Errorf("report is required")
	}
	if r.Patient.ExternalID == "" {
		return fmt.Errorf("patient.external_id is required")
	}
	if r.ReportDate.IsZero() {
		return fmt.Errorf("report_date is required")
	}
	if len(r.Tests) == 0 {
		return fmt.Errorf("tests are required")
	}
	return nil
}

// SeriesPoint is one historical observation, ordered oldest to newest
// within a per-code series.
type SeriesPoint struct {
	Date  Date    `json:"date"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
	Name  string  `json:"name,omitempty"`
}

// LongTrend summarizes direction over the last K series points.
type LongTrend struct {
	Direction  Direction `json:"direction_long"`
	NetChange  float64   `json:"net_change"`
	FromDate   Date      `json:"from_date"`
	ToDate     Date      `json:"to_date"`
	PointsUsed int       `json:"points_used"`
}

// TrendRecord is the per-code trend derived from persisted history.
// It is created fresh each run and never mutated afterwards.
type TrendRecord struct {
	Code          string        `json:"code"`
	Name          string        `json:"name"`
	PrevValue     *float64      `json:"prev_value"`
	PrevUnit      string        `json:"prev_unit"`
	PrevDate      Date          `json:"prev_date"`
	LastValue     *float64      `json:"last_value"`
	LastUnit      string        `json:"last_unit"`
	LastDate      Date          `json:"last_date"`
	Direction     Direction     `json:"direction_short"`
	ClinicalTrend ClinicalTrend `json:"clinical_trend"`
	LongTrend     *LongTrend    `json:"long_trend,omitempty"`

	NormalRangeLow  *float64 `json:"normal_range_low,omitempty"`
	NormalRangeHigh *float64 `json:"normal_range_high,omitempty"`
}

// Citation is one retrieved evidence snippet with its run-scoped reference ID.
// Citations are append-only within a run and never renumbered.
type Citation struct {
	RefID      int    `json:"ref_id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Snippet    string `json:"snippet"`
	SourceType string `json:"source_type"` // "local" or "web"
}

// EnrichedTest pairs an abnormal reading with everything derived for it.
type EnrichedTest struct {
	Test             TestReading  `json:"test"`
	Severity         Severity     `json:"severity"`
	KnowledgeContext string       `json:"knowledge_context"`
	Trend            *TrendRecord `json:"trend,omitempty"`
	RefIDs           []int        `json:"ref_ids"`
	Specialists      []string     `json:"specialists,omitempty"`
}

// AnalysisRow is the flattened per-test view assembled for display.
type AnalysisRow struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Unit string `json:"unit"`

	CurrentValue float64 `json:"current_value"`
	CurrentFlag  Flag    `json:"current_flag"`

	PreviousValue *float64 `json:"previous_value,omitempty"`
	PreviousUnit  string   `json:"previous_unit,omitempty"`
	PreviousDate  *Date    `json:"previous_date,omitempty"`

	LastValue *float64 `json:"last_value,omitempty"`
	LastUnit  string   `json:"last_unit,omitempty"`
	LastDate  *Date    `json:"last_date,omitempty"`

	Direction     Direction     `json:"direction"`
	ClinicalTrend ClinicalTrend `json:"clinical_trend"`
	DirectionLong Direction     `json:"direction_long,omitempty"`
	NetChange     *float64      `json:"net_change,omitempty"`
	PointsUsed    int           `json:"points_used,omitempty"`

	SeriesLast5 []SeriesPoint `json:"series_last_5,omitempty"`

	EscalationLevel Severity `json:"escalation_level"`
	Specialists     []string `json:"specialists"`
}

// HistoryRow is one persisted test result row joined with its report date,
// as returned by the history store ordered newest first.
type HistoryRow struct {
	ReportDate      Date
	Code            string
	Name            string
	Value           *float64
	Unit            string
	NormalRangeLow  *float64
	NormalRangeHigh *float64
}

// Float64Ptr returns a pointer to v. Convenience for optional numeric fields.
func Float64Ptr(v float64) *float64 {
	return &v
}
