// Package audit records one append-only entry per analysis run in KurrentDB.
// Entries are hash-chained so tampering with history is detectable.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/labinsight/platform/internal/report"
	"github.com/labinsight/platform/internal/shared/types"
)

// EscalationRecord captures the severity assigned to one abnormal test.
type EscalationRecord struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Flag     report.Flag     `json:"flag"`
	Severity report.Severity `json:"severity"`
}

// SourceRecord captures the evidence attached to one abnormal test.
type SourceRecord struct {
	Code    string            `json:"code"`
	Name    string            `json:"name"`
	RefIDs  []int             `json:"ref_ids"`
	Sources []report.Citation `json:"sources"`
}

// RunEntry is the audit record for a single analysis run.
type RunEntry struct {
	ID                 types.ID                        `json:"id"`
	PatientExternalID  string                          `json:"patient_external_id"`
	ReportDate         report.Date                     `json:"report_date"`
	AbnormalTestsCount int                             `json:"abnormal_tests_count"`
	Trends             map[string]*report.TrendRecord  `json:"trends"`
	Escalations        []EscalationRecord              `json:"escalations"`
	KnowledgeSources   []SourceRecord                  `json:"knowledge_sources"`
	CreatedAt          time.Time                       `json:"created_at"`

	// Hash chain fields, filled in by the sink on append.
	Sequence int64  `json:"sequence"`
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// NewRunEntry assembles an audit entry from run outputs.
func NewRunEntry(externalID string, reportDate report.Date, trends map[string]*report.TrendRecord, enriched []report.EnrichedTest) *RunEntry {
	entry := &RunEntry{
		ID:                 types.NewID(),
		PatientExternalID:  externalID,
		ReportDate:         reportDate,
		AbnormalTestsCount: len(enriched),
		Trends:             trends,
		CreatedAt:          time.Now().UTC(),
	}

	for _, et := range enriched {
		entry.Escalations = append(entry.Escalations, EscalationRecord{
			Code:     et.Test.Code,
			Name:     et.Test.Name,
			Flag:     et.Test.Flag,
			Severity: et.Severity,
		})
		entry.KnowledgeSources = append(entry.KnowledgeSources, SourceRecord{
			Code:   et.Test.Code,
			Name:   et.Test.Name,
			RefIDs: et.RefIDs,
		})
	}
	return entry
}

// ComputeHash hashes the entry's content together with its chain position.
// Hash itself is excluded from the input.
func (e *RunEntry) ComputeHash() string {
	payload := struct {
		ID                 types.ID           `json:"id"`
		PatientExternalID  string             `json:"patient_external_id"`
		ReportDate         string             `json:"report_date"`
		AbnormalTestsCount int                `json:"abnormal_tests_count"`
		Escalations        []EscalationRecord `json:"escalations"`
		Sequence           int64              `json:"sequence"`
		PrevHash           string             `json:"prev_hash"`
	}{
		ID:                 e.ID,
		PatientExternalID:  e.PatientExternalID,
		ReportDate:         e.ReportDate.String(),
		AbnormalTestsCount: e.AbnormalTestsCount,
		Escalations:        e.Escalations,
		Sequence:           e.Sequence,
		PrevHash:           e.PrevHash,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", payload))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
