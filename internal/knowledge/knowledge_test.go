package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildContext(t *testing.T) {
	sources := []Source{
		{Title: "Anemia overview", URL: "https://medlineplus.gov/anemia", Snippet: "Low hemoglobin causes fatigue."},
		{Title: "Iron deficiency", URL: "https://nih.gov/iron", Snippet: "Iron stores deplete first."},
	}

	ctx := BuildContext(sources)

	if !strings.Contains(ctx, "[1] Anemia overview") {
		t.Errorf("missing first chunk:\n%s", ctx)
	}
	if !strings.Contains(ctx, "[2] Iron deficiency") {
		t.Errorf("missing second chunk:\n%s", ctx)
	}
	if !strings.Contains(ctx, "Source: https://medlineplus.gov/anemia") {
		t.Errorf("missing source line:\n%s", ctx)
	}
}

func TestQueries(t *testing.T) {
	if got := LocalQuery("Hemoglobin", 8.1); got != "Hemoglobin 8.1 clinical guidelines" {
		t.Errorf("LocalQuery = %q", got)
	}
	if got := WebQuery("Hemoglobin", 8.1, false); got != "Hemoglobin high value 8.1 causes and treatment" {
		t.Errorf("WebQuery = %q", got)
	}
	if got := WebQuery("Hemoglobin", 6.5, true); !strings.HasSuffix(got, " urgent guidelines") {
		t.Errorf("urgent query missing suffix: %q", got)
	}
}

func TestWebRetrieverRequestShape(t *testing.T) {
	var captured webSearchRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %s, want /search", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"title": "Anemia", "url": "https://medlineplus.gov/anemia", "content": "snippet one"},
				{"title": "", "url": "https://nih.gov/x", "content": "snippet two"},
				{"title": "No URL", "url": "", "content": "dropped"},
			},
		})
	}))
	defer srv.Close()

	r := NewWebRetriever(srv.URL, "test-key", 0)
	sources, err := r.Retrieve(context.Background(), "hemoglobin low", 3)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}

	if captured.APIKey != "test-key" {
		t.Errorf("api key = %q", captured.APIKey)
	}
	if captured.MaxResults != 3 || captured.SearchDepth != "basic" {
		t.Errorf("request params: %+v", captured)
	}
	if len(captured.IncludeDomains) != len(TrustedDomains) {
		t.Errorf("include_domains = %v", captured.IncludeDomains)
	}
	if captured.IncludeAnswer || captured.IncludeImages {
		t.Errorf("answer/images must be off: %+v", captured)
	}

	if len(sources) != 2 {
		t.Fatalf("expected url-less result dropped, got %d sources", len(sources))
	}
	if sources[1].Title != "Unknown source" {
		t.Errorf("missing-title fallback = %q", sources[1].Title)
	}
}

func TestWebRetrieverErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := NewWebRetriever(srv.URL, "k", 0)
	if _, err := r.Retrieve(context.Background(), "q", 2); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}

func TestCombineContexts(t *testing.T) {
	got := CombineContexts("local block", "web block")
	if !strings.HasPrefix(got, "**Local Guidelines:**\nlocal block") {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(got, "**Web Search:**\nweb block") {
		t.Errorf("got %q", got)
	}
}
