package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPSearcherSearchDecodesResults(t *testing.T) {
	var gotQuery, gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"title":"The Office","media_type":"tv","channel_id":12,"content_id":"abc","season":1,"episode":2}]}`))
	}))
	defer ts.Close()

	s := NewHTTPSearcher(ts.URL, "secret-key", time.Second)
	matches, err := s.Search(context.Background(), Query{Title: "The Office", MediaType: "tv", Season: 1, Episode: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
	for _, want := range []string{"title=The+Office", "media_type=tv", "season=1", "episode=2"} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("expected query %q to contain %q", gotQuery, want)
		}
	}
	if len(matches) != 1 || matches[0].Title != "The Office" || matches[0].ChannelID != 12 {
		t.Fatalf("unexpected matches: %+v", matches)
	}
}

func TestHTTPSearcherSearchRequiresTitle(t *testing.T) {
	s := NewHTTPSearcher("http://unused.example", "", time.Second)
	if _, err := s.Search(context.Background(), Query{}); err == nil {
		t.Fatalf("expected an error when title is empty")
	}
}

func TestHTTPSearcherSearchNon2xxIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	s := NewHTTPSearcher(ts.URL, "", time.Second)
	if _, err := s.Search(context.Background(), Query{Title: "x"}); err == nil {
		t.Fatalf("expected an error for a non-2xx response")
	}
}

func TestHTTPSearcherSearchMalformedJSONIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer ts.Close()

	s := NewHTTPSearcher(ts.URL, "", time.Second)
	if _, err := s.Search(context.Background(), Query{Title: "x"}); err == nil {
		t.Fatalf("expected an error for a malformed response body")
	}
}
