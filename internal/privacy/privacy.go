// Package privacy masks patient identity before any text leaves the process
// and restores it before results are returned.
package privacy

import (
	"strings"

	"github.com/labinsight/platform/internal/report"
)

// Placeholder replaces the patient's name in everything sent to external
// collaborators (retrieval queries, narrative prompts).
const Placeholder = "Patient_X"

// Mask replaces the patient's name with the placeholder and returns the
// original so the caller can restore it later. Masking an already-masked or
// empty name is a no-op that returns an empty original.
func Mask(p *report.Patient) (original string) {
	if p.Name == "" || p.Name == Placeholder {
		return ""
	}
	original = p.Name
	p.Name = Placeholder
	return original
}

// Restore puts the original name back onto the patient and rewrites any
// placeholder occurrences in text. Safe to call more than once: restoring
// with an empty original or an already-restored patient changes nothing.
func Restore(p *report.Patient, original string, text string) string {
	if original == "" {
		return text
	}
	p.Name = original
	return strings.ReplaceAll(text, Placeholder, original)
}
