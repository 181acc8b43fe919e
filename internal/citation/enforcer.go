package citation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/labinsight/platform/internal/report"
)

const referencesMarker = "### References"

var refPattern = regexp.MustCompile(`(?i)Ref\s+(\d+)`)

// ExtractUsedRefIDs pulls every "Ref N" marker from text, deduplicated and
// sorted ascending.
func ExtractUsedRefIDs(text string) []int {
	seen := make(map[int]struct{})
	for _, m := range refPattern.FindAllStringSubmatch(text, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		seen[id] = struct{}{}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// RemoveReferencesSection strips everything from the first "### References"
// marker to the end of the text, leaving the body intact.
func RemoveReferencesSection(text string) string {
	if idx := strings.Index(text, referencesMarker); idx >= 0 {
		return strings.TrimRight(text[:idx], " \t\n")
	}
	return strings.TrimRight(text, " \t\n")
}

// BuildReferencesBlock renders the canonical references section in ledger
// order. When onlyIDs is non-empty, citations outside it are filtered out;
// a filter that removes everything yields an empty string.
func BuildReferencesBlock(citations []report.Citation, onlyIDs []int) string {
	if len(citations) == 0 {
		return ""
	}

	var allowed map[int]struct{}
	if len(onlyIDs) > 0 {
		allowed = make(map[int]struct{}, len(onlyIDs))
		for _, id := range onlyIDs {
			allowed[id] = struct{}{}
		}
	}

	lines := []string{"\n" + referencesMarker}
	for _, c := range citations {
		if allowed != nil {
			if _, ok := allowed[c.RefID]; !ok {
				continue
			}
		}
		title := c.Title
		if title == "" {
			title = "Source"
		}
		if c.URL != "" {
			lines = append(lines, fmt.Sprintf("%d. %s – %s", c.RefID, title, c.URL))
		} else {
			lines = append(lines, fmt.Sprintf("%d. %s", c.RefID, title))
		}
	}

	if len(lines) == 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}

// ValidateRefIDs returns warning lines for any used ID the ledger never
// issued. Validation never alters the narrative.
func ValidateRefIDs(usedIDs []int, citations []report.Citation) []string {
	valid := make(map[int]struct{}, len(citations))
	for _, c := range citations {
		valid[c.RefID] = struct{}{}
	}

	var missing []int
	for _, id := range usedIDs {
		if _, ok := valid[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) == 0 {
		return nil
	}
	return []string{fmt.Sprintf("citation_enforcer: WARNING - report cites missing Ref IDs: %v", missing)}
}

// Enforce rewrites a narrative's references section: any model-written
// trailer is discarded, the in-text "Ref N" markers are validated against
// the ledger, and the canonical block for the cited IDs is appended. When
// the body cites nothing, the full ledger is appended so evidence is never
// silently dropped. Returns the rewritten narrative and any warning lines.
func Enforce(narrative string, citations []report.Citation) (string, []string) {
	body := RemoveReferencesSection(narrative)
	used := ExtractUsedRefIDs(body)
	logs := ValidateRefIDs(used, citations)

	if len(used) == 0 && len(citations) > 0 {
		for _, c := range citations {
			used = append(used, c.RefID)
		}
		logs = append(logs, "citation_enforcer: no inline refs found, appending all citations as fallback")
	}

	block := BuildReferencesBlock(citations, used)
	return strings.TrimSpace(body + block), logs
}
