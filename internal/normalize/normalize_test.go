package normalize

import (
	"testing"

	"github.com/labinsight/platform/internal/report"
)

func TestUnitAliases(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"uIU/mL", "µIU/mL"},
		{"μIU/mL", "µIU/mL"},
		{"g/dl", "g/dL"},
		{"g/l", "g/L"},
		{"g/dL", "g/dL"},
		{"  g/dl ", "g/dL"},
		{"mmol/L", "mmol/L"},
	}
	for _, tt := range tests {
		if got := Unit(tt.in); got != tt.want {
			t.Errorf("Unit(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestComputeFlag(t *testing.T) {
	low, high := report.Float64Ptr(12.0), report.Float64Ptr(15.5)

	tests := []struct {
		name  string
		value float64
		low   *float64
		high  *float64
		want  report.Flag
	}{
		{"below range", 10.5, low, high, report.FlagLow},
		{"above range", 16.2, low, high, report.FlagHigh},
		{"inside range", 13.0, low, high, report.FlagNormal},
		{"at low bound", 12.0, low, high, report.FlagNormal},
		{"at high bound", 15.5, low, high, report.FlagNormal},
		{"missing low", 13.0, nil, high, report.FlagUnknown},
		{"missing high", 13.0, low, nil, report.FlagUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeFlag(tt.value, tt.low, tt.high); got != tt.want {
				t.Errorf("ComputeFlag() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConvertUnitHemoglobin(t *testing.T) {
	got, unit, changed := ConvertUnit("HGB", 105.0, "g/L", "g/dL")
	if !changed {
		t.Fatal("expected conversion to apply")
	}
	if got != 10.5 || unit != "g/dL" {
		t.Errorf("got %g %s, want 10.5 g/dL", got, unit)
	}

	_, _, changed = ConvertUnit("HGB", 10.5, "g/dL", "mmol/L")
	if changed {
		t.Error("expected no conversion rule for g/dL -> mmol/L")
	}
}

func TestReadingReplacesSexRangeAndRecomputesFlag(t *testing.T) {
	reading := report.TestReading{
		Code:            "HGB",
		Name:            "Hemoglobin",
		Value:           13.0,
		Unit:            "g/dL",
		NormalRangeLow:  report.Float64Ptr(11.0),
		NormalRangeHigh: report.Float64Ptr(16.0),
		Flag:            report.FlagNormal,
	}

	logs := Reading(&reading, "M")

	if *reading.NormalRangeLow != 13.5 || *reading.NormalRangeHigh != 17.5 {
		t.Errorf("range = (%g,%g), want (13.5,17.5)", *reading.NormalRangeLow, *reading.NormalRangeHigh)
	}
	// 13.0 is below the male lower bound once the range is corrected.
	if reading.Flag != report.FlagLow {
		t.Errorf("flag = %s, want Low", reading.Flag)
	}
	if len(logs) != 2 {
		t.Errorf("expected 2 log lines, got %d: %v", len(logs), logs)
	}
}

func TestReadingConvertsToCanonicalUnit(t *testing.T) {
	reading := report.TestReading{
		Code:  "HGB",
		Name:  "Hemoglobin",
		Value: 105.0,
		Unit:  "g/l",
		Flag:  report.FlagUnknown,
	}

	Reading(&reading, "F")

	if reading.Value != 10.5 {
		t.Errorf("value = %g, want 10.5", reading.Value)
	}
	if reading.Unit != "g/dL" {
		t.Errorf("unit = %s, want g/dL", reading.Unit)
	}
	// Female range applied, so 10.5 flags Low.
	if reading.Flag != report.FlagLow {
		t.Errorf("flag = %s, want Low", reading.Flag)
	}
}

func TestReadingFillsMissingName(t *testing.T) {
	reading := report.TestReading{Code: "TSH", Value: 2.1, Unit: "µIU/mL"}
	Reading(&reading, "F")
	if reading.Name != "TSH" {
		t.Errorf("name = %q, want TSH", reading.Name)
	}
}

func TestReadingUnknownCodeLeavesRangeAlone(t *testing.T) {
	reading := report.TestReading{
		Code:            "NA",
		Name:            "Sodium",
		Value:           140.0,
		Unit:            "mmol/L",
		NormalRangeLow:  report.Float64Ptr(135.0),
		NormalRangeHigh: report.Float64Ptr(145.0),
		Flag:            report.FlagNormal,
	}

	logs := Reading(&reading, "M")

	if len(logs) != 0 {
		t.Errorf("expected no changes, got %v", logs)
	}
	if *reading.NormalRangeLow != 135.0 {
		t.Errorf("range low changed to %g", *reading.NormalRangeLow)
	}
}
