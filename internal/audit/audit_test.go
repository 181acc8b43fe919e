package audit

import (
	"testing"

	"github.com/labinsight/platform/internal/report"
)

func sampleEntry() *RunEntry {
	enriched := []report.EnrichedTest{
		{
			Test:     report.TestReading{Code: "HGB", Name: "Hemoglobin", Flag: report.FlagLow},
			Severity: report.SeverityFollowUp,
			RefIDs:   []int{1, 2},
		},
		{
			Test:     report.TestReading{Code: "TSH", Name: "TSH", Flag: report.FlagHigh},
			Severity: report.SeverityRoutine,
			RefIDs:   []int{3},
		},
	}
	return NewRunEntry("P-001", report.NewDate(2025, 11, 1), nil, enriched)
}

func TestNewRunEntry(t *testing.T) {
	entry := sampleEntry()

	if entry.AbnormalTestsCount != 2 {
		t.Errorf("count = %d, want 2", entry.AbnormalTestsCount)
	}
	if len(entry.Escalations) != 2 || entry.Escalations[0].Severity != report.SeverityFollowUp {
		t.Errorf("escalations = %+v", entry.Escalations)
	}
	if len(entry.KnowledgeSources) != 2 || len(entry.KnowledgeSources[0].RefIDs) != 2 {
		t.Errorf("sources = %+v", entry.KnowledgeSources)
	}
	if entry.ID.IsZero() {
		t.Error("entry should get an ID")
	}
}

func TestComputeHashDeterministic(t *testing.T) {
	entry := sampleEntry()
	entry.Sequence = 7
	entry.PrevHash = "abc"

	h1 := entry.ComputeHash()
	h2 := entry.ComputeHash()
	if h1 != h2 {
		t.Error("hash must be deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}
}

func TestComputeHashChainsPosition(t *testing.T) {
	entry := sampleEntry()
	entry.Sequence = 1
	h1 := entry.ComputeHash()

	entry.PrevHash = h1
	entry.Sequence = 2
	h2 := entry.ComputeHash()

	if h1 == h2 {
		t.Error("hash must change with chain position")
	}
}
