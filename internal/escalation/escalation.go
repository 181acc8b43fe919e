// Package escalation assigns a triage severity to each abnormal lab value.
// Rules are heuristic cutoffs, not clinical guidelines.
package escalation

import (
	"strings"

	"github.com/labinsight/platform/internal/report"
)

// Rule classifies one test value. sex is "M", "F", or "U".
type Rule func(value float64, sex string) report.Severity

// registry maps a test code to its specific rule. Codes without an entry
// fall through to the generic outlier heuristic.
var registry = map[string]Rule{
	"HGB": classifyHemoglobin,
	"TSH": func(value float64, _ string) report.Severity { return classifyTSH(value) },
}

func classifyHemoglobin(value float64, sex string) report.Severity {
	normalLow := 12.0
	if sex == "M" {
		normalLow = 13.0
	}
	switch {
	case value < 7.0:
		return report.SeverityUrgent
	case value < normalLow:
		return report.SeverityFollowUp
	default:
		return report.SeverityRoutine
	}
}

func classifyTSH(value float64) report.Severity {
	if value >= 10.0 {
		return report.SeverityFollowUp
	}
	return report.SeverityRoutine
}

// Classify picks the severity for a test value. A per-code rule wins if one
// exists; otherwise extreme deviations from the reference range escalate
// (beyond 3x the upper or below half the lower bound is urgent, beyond
// 1.5x or below 0.8x warrants follow-up). The default is always Routine;
// this function never fails.
func Classify(code string, value float64, sex string, rangeLow, rangeHigh *float64) report.Severity {
	if rule, ok := registry[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return rule(value, sex)
	}

	if rangeLow != nil && rangeHigh != nil {
		low, high := *rangeLow, *rangeHigh
		switch {
		case value > 3.0*high:
			return report.SeverityUrgent
		case low > 0 && value < 0.5*low:
			return report.SeverityUrgent
		case value > 1.5*high:
			return report.SeverityFollowUp
		case low > 0 && value < 0.8*low:
			return report.SeverityFollowUp
		}
	}

	return report.SeverityRoutine
}

// ClassifyReading is a convenience wrapper over Classify for a full reading.
func ClassifyReading(t report.TestReading, sex string) report.Severity {
	return Classify(t.Code, t.Value, sex, t.NormalRangeLow, t.NormalRangeHigh)
}
