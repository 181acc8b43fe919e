package lis

import (
	"database/sql"
	"testing"
	"time"

	"github.com/labinsight/platform/internal/report"
)

func ns(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

func TestGroupReports(t *testing.T) {
	d1 := time.Date(2025, 11, 1, 9, 30, 0, 0, time.UTC)
	d2 := time.Date(2025, 11, 8, 8, 0, 0, 0, time.UTC)

	rows := []resultRow{
		{externalID: "P-001", name: "Jane Doe", sex: ns("F"), reportedAt: d1,
			code: "HGB", testName: "Hemoglobin", value: 8.1, unit: ns("g/dL"),
			refMin: sql.NullFloat64{Float64: 12.0, Valid: true},
			refMax: sql.NullFloat64{Float64: 15.5, Valid: true},
			flag:   ns("L")},
		{externalID: "P-001", name: "Jane Doe", sex: ns("F"), reportedAt: d1,
			code: "WBC", testName: "White Blood Cells", value: 7.0, unit: ns("10^9/L"), flag: ns("N")},
		{externalID: "P-001", name: "Jane Doe", sex: ns("F"), reportedAt: d2,
			code: "HGB", testName: "Hemoglobin", value: 8.9, unit: ns("g/dL"), flag: ns("L")},
		{externalID: "P-002", name: "John Roe", sex: ns("1"), reportedAt: d1,
			code: "TSH", testName: "Thyroid Stimulating Hormone", value: 11.2, unit: ns("µIU/mL"), flag: ns("HH")},
	}

	reports := groupReports(rows)
	if len(reports) != 3 {
		t.Fatalf("reports = %d, want 3", len(reports))
	}

	first := reports[0]
	if first.Patient.ExternalID != "P-001" || first.Patient.Sex != "F" {
		t.Errorf("patient = %+v", first.Patient)
	}
	if first.ReportDate.String() != "2025-11-01" {
		t.Errorf("report_date = %s", first.ReportDate)
	}
	if len(first.Tests) != 2 {
		t.Fatalf("tests = %d, want 2", len(first.Tests))
	}
	hgb := first.Tests[0]
	if hgb.Flag != report.FlagLow || hgb.NormalRangeLow == nil || *hgb.NormalRangeLow != 12.0 {
		t.Errorf("hgb = %+v", hgb)
	}

	// Same patient, later date is a separate report.
	if reports[1].ReportDate.String() != "2025-11-08" || len(reports[1].Tests) != 1 {
		t.Errorf("second report = %+v", reports[1])
	}

	third := reports[2]
	if third.Patient.ExternalID != "P-002" || third.Patient.Sex != "M" {
		t.Errorf("third patient = %+v", third.Patient)
	}
	if third.Tests[0].Flag != report.FlagHigh {
		t.Errorf("flag = %s, want High", third.Tests[0].Flag)
	}
}

func TestMapSex(t *testing.T) {
	cases := []struct {
		in   sql.NullString
		want string
	}{
		{ns("M"), "M"},
		{ns("z"), "F"},
		{ns("2"), "F"},
		{ns("X"), "U"},
		{sql.NullString{}, "U"},
	}
	for _, tc := range cases {
		if got := mapSex(tc.in); got != tc.want {
			t.Errorf("mapSex(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMapFlag(t *testing.T) {
	cases := []struct {
		in   string
		want report.Flag
	}{
		{"L", report.FlagLow},
		{"HH", report.FlagHigh},
		{"", report.FlagNormal},
		{"A", report.FlagUnknown},
	}
	for _, tc := range cases {
		if got := mapFlag(tc.in); got != tc.want {
			t.Errorf("mapFlag(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
