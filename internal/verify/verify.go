// Package verify cross-checks the numbers a narrative mentions against the
// source readings they were generated from.
package verify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/labinsight/platform/internal/report"
)

// Result lists which source values the narrative reproduces and which it
// names without the correct number.
type Result struct {
	Matches    []string `json:"matches"`
	Mismatches []string `json:"mismatches"`
}

// ReportValues checks every reading against the narrative text. A reading
// whose name never appears is skipped; a reading whose name appears but
// whose value does not (verbatim or with a trailing .0 collapsed) is a
// mismatch. Verification is advisory and never blocks a run.
func ReportValues(text string, tests []report.TestReading) Result {
	var res Result
	textLower := strings.ToLower(text)

	for _, t := range tests {
		name := strings.ToLower(t.Name)
		if name == "" {
			continue
		}
		if !strings.Contains(textLower, name) {
			continue
		}

		valStr := formatValue(t.Value)
		if strings.Contains(text, valStr) {
			res.Matches = append(res.Matches, fmt.Sprintf("%s (%s)", t.Name, valStr))
			continue
		}

		// 12.0 in the source may appear as 12 in prose.
		if t.Value == float64(int64(t.Value)) {
			intStr := strconv.FormatInt(int64(t.Value), 10)
			if strings.Contains(text, intStr) {
				res.Matches = append(res.Matches, fmt.Sprintf("%s (%s)", t.Name, valStr))
				continue
			}
		}

		res.Mismatches = append(res.Mismatches, fmt.Sprintf("%s: source value '%s' not found in text.", t.Name, valStr))
	}

	return res
}

// Section renders the verification outcome as the markdown block appended
// to the final narrative.
func Section(res Result) string {
	lines := []string{
		"---",
		"### Data Integrity Verification Log",
		"*(Automated Self-Correction Layer)*",
	}

	if len(res.Matches) > 0 {
		lines = append(lines, fmt.Sprintf("**Verified Matches:** %s", strings.Join(res.Matches, ", ")))
	}

	if len(res.Mismatches) > 0 {
		lines = append(lines, "\n**Potential Data Integrity Warnings:**")
		for _, m := range res.Mismatches {
			lines = append(lines, "- "+m)
		}
	} else {
		lines = append(lines, "\n**Status:** No numerical inconsistencies detected.")
	}

	return "\n\n" + strings.Join(lines, "\n")
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
