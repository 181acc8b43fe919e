package verify

import (
	"strings"
	"testing"

	"github.com/labinsight/platform/internal/report"
)

func reading(name string, value float64) report.TestReading {
	return report.TestReading{Name: name, Value: value}
}

func TestReportValuesVerbatimMatch(t *testing.T) {
	text := "Your Hemoglobin came back at 8.1 g/dL, which is below range."
	res := ReportValues(text, []report.TestReading{reading("Hemoglobin", 8.1)})

	if len(res.Matches) != 1 || res.Matches[0] != "Hemoglobin (8.1)" {
		t.Errorf("matches = %v", res.Matches)
	}
	if len(res.Mismatches) != 0 {
		t.Errorf("mismatches = %v", res.Mismatches)
	}
}

func TestReportValuesIntegerCollapse(t *testing.T) {
	// Source has 12.0, prose says 12.
	text := "TSH stands at 12 today."
	res := ReportValues(text, []report.TestReading{reading("TSH", 12.0)})

	if len(res.Matches) != 1 {
		t.Fatalf("expected match, got %+v", res)
	}
	if res.Matches[0] != "TSH (12)" {
		t.Errorf("match = %q", res.Matches[0])
	}
}

func TestReportValuesNamePresentValueWrong(t *testing.T) {
	text := "Hemoglobin is around 9.5 which needs attention."
	res := ReportValues(text, []report.TestReading{reading("Hemoglobin", 8.1)})

	if len(res.Mismatches) != 1 {
		t.Fatalf("expected mismatch, got %+v", res)
	}
	if !strings.Contains(res.Mismatches[0], "8.1") {
		t.Errorf("mismatch should name the source value: %s", res.Mismatches[0])
	}
}

func TestReportValuesNameAbsentIsSkipped(t *testing.T) {
	text := "Overall the panel looks concerning."
	res := ReportValues(text, []report.TestReading{reading("Hemoglobin", 8.1)})

	if len(res.Matches) != 0 || len(res.Mismatches) != 0 {
		t.Errorf("omitted test must not be flagged: %+v", res)
	}
}

func TestReportValuesCaseInsensitiveName(t *testing.T) {
	text := "your HEMOGLOBIN of 8.1 is low."
	res := ReportValues(text, []report.TestReading{reading("Hemoglobin", 8.1)})

	if len(res.Matches) != 1 {
		t.Errorf("expected case-insensitive name match, got %+v", res)
	}
}

func TestSectionPassed(t *testing.T) {
	s := Section(Result{Matches: []string{"Hemoglobin (8.1)"}})
	if !strings.Contains(s, "No numerical inconsistencies detected") {
		t.Errorf("missing pass status:\n%s", s)
	}
	if !strings.Contains(s, "Hemoglobin (8.1)") {
		t.Errorf("missing verified match:\n%s", s)
	}
}

func TestSectionWarnings(t *testing.T) {
	s := Section(Result{Mismatches: []string{"TSH: source value '6.8' not found in text."}})
	if !strings.Contains(s, "Potential Data Integrity Warnings") {
		t.Errorf("missing warning header:\n%s", s)
	}
	if !strings.Contains(s, "- TSH: source value '6.8' not found in text.") {
		t.Errorf("missing warning line:\n%s", s)
	}
}
