package narrative

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCompleteSendsChatRequest(t *testing.T) {
	var captured chatRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "generated narrative"}},
			},
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, APIKey: "secret", Model: "gpt-4o-mini", MaxTokens: 256, Temperature: 0.2})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	out, err := c.Complete(context.Background(), "Summarize the panel.")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "generated narrative" {
		t.Errorf("out = %q", out)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth = %q", gotAuth)
	}
	if captured.Model != "gpt-4o-mini" || captured.MaxTokens != 256 {
		t.Errorf("request = %+v", captured)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", captured.Messages)
	}
}

func TestCompleteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{Endpoint: srv.URL})
	if _, err := c.Complete(context.Background(), "p"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c, _ := NewClient(Config{Endpoint: srv.URL})
	if _, err := c.Complete(context.Background(), "p"); err == nil {
		t.Fatal("expected error on empty choices")
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error")
	}
}
