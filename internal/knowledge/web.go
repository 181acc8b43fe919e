package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// TrustedDomains restricts web retrieval to vetted medical publishers.
var TrustedDomains = []string{
	"nih.gov",
	"cdc.gov",
	"mayoclinic.org",
	"clevelandclinic.org",
	"medlineplus.gov",
	"who.int",
}

// WebRetriever queries a Tavily-compatible search API, rate limited so a
// burst of abnormal results cannot exhaust the provider quota.
type WebRetriever struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebRetriever builds a retriever against a search endpoint. ratePerSec
// caps outgoing requests; zero or negative disables limiting.
func NewWebRetriever(baseURL, apiKey string, ratePerSec float64) *WebRetriever {
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &WebRetriever{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(limit, 1),
	}
}

type webSearchRequest struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	MaxResults     int      `json:"max_results"`
	SearchDepth    string   `json:"search_depth"`
	IncludeDomains []string `json:"include_domains"`
	IncludeAnswer  bool     `json:"include_answer"`
	IncludeImages  bool     `json:"include_images"`
}

type webSearchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Retrieve runs one search restricted to the trusted domain list.
func (r *WebRetriever) Retrieve(ctx context.Context, query string, limit int) ([]Source, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(webSearchRequest{
		APIKey:         r.apiKey,
		Query:          query,
		MaxResults:     limit,
		SearchDepth:    "basic",
		IncludeDomains: TrustedDomains,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search: unexpected status %d", resp.StatusCode)
	}

	var parsed webSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	sources := make([]Source, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.URL == "" {
			continue
		}
		title := res.Title
		if title == "" {
			title = "Unknown source"
		}
		sources = append(sources, Source{Title: title, URL: res.URL, Snippet: res.Content})
	}
	return sources, nil
}
