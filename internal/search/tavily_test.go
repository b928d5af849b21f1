package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSearch(t *testing.T) {
	t.Parallel()

	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"url":"http://a.onion","title":"A","content":"alpha","score":0.9},
			{"url":"https://b.example","title":"B","content":"beta","score":0.5},
			{"url":"http://c.onion","title":"C","content":"gamma","score":0.1}
		]}`))
	}))
	defer srv.Close()

	p := NewTavilyProvider("key", WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))
	results, err := p.Search(context.Background(), "market forum", 2)
	if err != nil {
		t.Fatal(err)
	}
	if got.Query != "market forum" || got.MaxResults != 2 || got.APIKey != "key" || got.SearchDepth != "advanced" {
		t.Errorf("request = %+v", got)
	}
	if len(results) != 2 || results[0].URL != "http://a.onion" || results[0].Score != 0.9 {
		t.Errorf("results = %+v", results)
	}
}

func TestSearchErrors(t *testing.T) {
	t.Parallel()

	if _, err := NewTavilyProvider("").Search(context.Background(), "q", 1); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("error = %v, want ErrNoAPIKey", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewTavilyProvider("k", WithEndpoint(srv.URL)).Search(context.Background(), "q", 1)
	if err == nil || !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error = %v", err)
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer bad.Close()
	if _, err := NewTavilyProvider("k", WithEndpoint(bad.URL)).Search(context.Background(), "q", 1); err == nil {
		t.Error("expected decode error")
	}
}

func TestExtractSearchTerms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"http://hidden.wiki-links.onion/index", "wiki links dark web onion service"},
		{"https://www.my_big_market_place.onion", "my big market place"},
		{"http://abc.onion", "abc dark web onion service"},
	}
	for _, tt := range tests {
		if got := ExtractSearchTerms(tt.in); got != tt.want {
			t.Errorf("ExtractSearchTerms(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if NewTavilyProvider("k").ExtractSearchTerms("http://abc.onion") != "abc dark web onion service" {
		t.Error("method should delegate to ExtractSearchTerms")
	}
}
