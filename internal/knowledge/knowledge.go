// Package knowledge retrieves medical reference material for abnormal lab
// results from a curated local corpus and trusted web sources.
package knowledge

import (
	"context"
	"fmt"
	"strings"
)

// Source is one retrieved evidence snippet. Local and web retrieval produce
// the same shape so downstream citation handling is uniform.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Retriever looks up reference material for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]Source, error)
}

// BuildContext renders sources into the numbered block handed to the
// narrative generator.
func BuildContext(sources []Source) string {
	chunks := make([]string, 0, len(sources))
	for i, s := range sources {
		chunks = append(chunks, fmt.Sprintf("[%d] %s\n%s\nSource: %s\n", i+1, s.Title, s.Snippet, s.URL))
	}
	return strings.Join(chunks, "\n\n")
}

// LocalQuery builds the curated-corpus query for one abnormal result. The
// patient is never named in retrieval queries.
func LocalQuery(testName string, value float64) string {
	return fmt.Sprintf("%s %g clinical guidelines", testName, value)
}

// WebQuery builds the web search query for one abnormal result. Urgent
// results steer the search toward escalation guidance.
func WebQuery(testName string, value float64, urgent bool) string {
	q := fmt.Sprintf("%s high value %g causes and treatment", testName, value)
	if urgent {
		q += " urgent guidelines"
	}
	return q
}

// CombineContexts merges the local and web retrieval blocks in the order
// they are presented to the narrative generator.
func CombineContexts(local, web string) string {
	return fmt.Sprintf("**Local Guidelines:**\n%s\n\n**Web Search:**\n%s", local, web)
}
