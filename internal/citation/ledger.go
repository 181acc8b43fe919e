// Package citation tracks evidence references issued during an analysis run
// and enforces that the final narrative only cites real ones.
package citation

import (
	"sort"

	"github.com/labinsight/platform/internal/knowledge"
	"github.com/labinsight/platform/internal/report"
)

// Ledger assigns run-scoped reference IDs to retrieved sources. IDs are
// monotonically increasing starting at 1 and are never reused or renumbered
// within a run. Not safe for concurrent use; each run owns one ledger.
type Ledger struct {
	citations []report.Citation
	byTest    map[string][]int
	next      int
}

// NewLedger starts an empty ledger for a single run.
func NewLedger() *Ledger {
	return &Ledger{
		byTest: make(map[string][]int),
		next:   1,
	}
}

// Register issues reference IDs for a batch of sources retrieved for one
// test code and returns the IDs in issue order.
func (l *Ledger) Register(testCode string, sources []knowledge.Source, sourceType string) []int {
	ids := make([]int, 0, len(sources))
	for _, s := range sources {
		c := report.Citation{
			RefID:      l.next,
			Title:      s.Title,
			URL:        s.URL,
			Snippet:    s.Snippet,
			SourceType: sourceType,
		}
		l.next++
		l.citations = append(l.citations, c)
		ids = append(ids, c.RefID)
	}
	if len(ids) > 0 {
		l.byTest[testCode] = append(l.byTest[testCode], ids...)
	}
	return ids
}

// Citations returns all issued citations in issue order.
func (l *Ledger) Citations() []report.Citation {
	out := make([]report.Citation, len(l.citations))
	copy(out, l.citations)
	return out
}

// IDsForTest returns the reference IDs issued for a test code.
func (l *Ledger) IDsForTest(testCode string) []int {
	ids := l.byTest[testCode]
	out := make([]int, len(ids))
	copy(out, ids)
	return out
}

// ValidIDs returns the set of every ID the ledger has issued, sorted.
func (l *Ledger) ValidIDs() []int {
	ids := make([]int, 0, len(l.citations))
	for _, c := range l.citations {
		ids = append(ids, c.RefID)
	}
	sort.Ints(ids)
	return ids
}

// Len reports how many citations have been issued.
func (l *Ledger) Len() int {
	return len(l.citations)
}
