// Package normalize cleans incoming test readings: unit aliases, canonical
// unit conversion, sex-specific reference ranges, and flag recomputation.
package normalize

import (
	"fmt"
	"strings"

	"github.com/labinsight/platform/internal/report"
)

// sexRanges holds adult reference ranges keyed by test code and sex.
var sexRanges = map[string]map[string][2]float64{
	"HGB": {
		"F": {12.0, 15.5},
		"M": {13.5, 17.5},
	},
	"TSH": {
		"F": {0.4, 4.0},
		"M": {0.4, 4.0},
	},
	"WBC": {
		"F": {4.0, 11.0},
		"M": {4.0, 11.0},
	},
	"PLT": {
		"F": {150.0, 450.0},
		"M": {150.0, 450.0},
	},
}

// canonicalUnits is the preferred unit per test code.
var canonicalUnits = map[string]string{
	"HGB": "g/dL",
	"TSH": "µIU/mL",
}

type conversionKey struct {
	code string
	from string
	to   string
}

var unitConversions = map[conversionKey]func(float64) float64{
	{"HGB", "g/L", "g/dL"}:     func(v float64) float64 { return v / 10.0 },
	{"HGB", "g/dL", "g/L"}:     func(v float64) float64 { return v * 10.0 },
	{"TSH", "mIU/L", "µIU/mL"}: func(v float64) float64 { return v },
	{"TSH", "µIU/mL", "mIU/L"}: func(v float64) float64 { return v },
}

// unitAliases maps formatting variants onto a single spelling.
var unitAliases = map[string]string{
	"uIU/mL": "µIU/mL",
	"μIU/mL": "µIU/mL",
	"g/dl":   "g/dL",
	"g/l":    "g/L",
}

// Unit collapses alias spellings of a unit string.
func Unit(unit string) string {
	u := strings.TrimSpace(unit)
	if canonical, ok := unitAliases[u]; ok {
		return canonical
	}
	return u
}

// ComputeFlag classifies a value against a reference range. Missing bounds
// yield Unknown.
func ComputeFlag(value float64, low, high *float64) report.Flag {
	if low == nil || high == nil {
		return report.FlagUnknown
	}
	if value < *low {
		return report.FlagLow
	}
	if value > *high {
		return report.FlagHigh
	}
	return report.FlagNormal
}

// SexRange returns the configured reference range for a test code and sex,
// or ok=false when none is known.
func SexRange(code, sex string) (low, high float64, ok bool) {
	bySex, found := sexRanges[strings.ToUpper(strings.TrimSpace(code))]
	if !found {
		return 0, 0, false
	}
	r, found := bySex[strings.ToUpper(strings.TrimSpace(sex))]
	if !found {
		return 0, 0, false
	}
	return r[0], r[1], true
}

// ConvertUnit converts value between units for a test code when a rule
// exists. Returns the input unchanged otherwise.
func ConvertUnit(code string, value float64, fromUnit, toUnit string) (float64, string, bool) {
	if fn, ok := unitConversions[conversionKey{code, fromUnit, toUnit}]; ok {
		return fn(value), toUnit, true
	}
	return value, fromUnit, false
}

// Reading normalizes one test reading in place and returns log lines
// describing every change made. The order is fixed: unit alias, canonical
// unit conversion, sex range replacement, flag recompute.
func Reading(t *report.TestReading, sex string) []string {
	var logs []string

	code := strings.ToUpper(strings.TrimSpace(t.Code))

	unit := Unit(t.Unit)
	if unit != t.Unit {
		logs = append(logs, fmt.Sprintf("unit_normalization: %s unit alias '%s' -> '%s'", code, t.Unit, unit))
		t.Unit = unit
	}

	if canonical, ok := canonicalUnits[code]; ok && unit != "" && unit != canonical {
		newVal, newUnit, changed := ConvertUnit(code, t.Value, unit, canonical)
		if changed {
			logs = append(logs, fmt.Sprintf("unit_normalization: %s converted %g %s -> %g %s", code, t.Value, unit, newVal, newUnit))
			t.Value = newVal
			t.Unit = newUnit
		}
	}

	if low, high, ok := SexRange(code, sex); ok {
		if t.NormalRangeLow == nil || t.NormalRangeHigh == nil ||
			*t.NormalRangeLow != low || *t.NormalRangeHigh != high {
			logs = append(logs, fmt.Sprintf("range_normalization: %s range (%s,%s) -> (%g,%g) for sex=%s",
				code, fmtBound(t.NormalRangeLow), fmtBound(t.NormalRangeHigh), low, high, sex))
			t.NormalRangeLow = report.Float64Ptr(low)
			t.NormalRangeHigh = report.Float64Ptr(high)
		}
	}

	newFlag := ComputeFlag(t.Value, t.NormalRangeLow, t.NormalRangeHigh)
	if newFlag != t.Flag {
		logs = append(logs, fmt.Sprintf("flag_recompute: %s flag '%s' -> '%s'", code, t.Flag, newFlag))
		t.Flag = newFlag
	}

	if t.Name == "" {
		t.Name = code
	}

	return logs
}

// Report normalizes every reading in a report and returns the combined log.
func Report(r *report.Report) []string {
	var logs []string
	for i := range r.Tests {
		logs = append(logs, Reading(&r.Tests[i], r.Patient.Sex)...)
	}
	return logs
}

func fmtBound(v *float64) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%g", *v)
}
