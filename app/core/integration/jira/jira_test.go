package jira

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dockit/app/pkg/types"
)

func connectedIntegration(t *testing.T, mux *http.ServeMux) *Integration {
	t.Helper()
	mux.HandleFunc("/rest/api/2/myself", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"accountId":"abc"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	j := New(Config{BaseURL: srv.URL, Email: "dev@example.com", APIToken: "token"})
	if err := j.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return j
}

func TestConnectRequiresCredentials(t *testing.T) {
	j := New(Config{BaseURL: "https://example.atlassian.net"})
	err := j.Connect(context.Background())
	if !errors.Is(err, types.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if j.IsConnected() {
		t.Fatal("integration should not report connected")
	}
}

func TestConnectRejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	j := New(Config{BaseURL: srv.URL, Email: "dev@example.com", APIToken: "bad"})
	if err := j.Connect(context.Background()); !errors.Is(err, types.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestFetchNotConnected(t *testing.T) {
	j := New(Config{BaseURL: "https://example.atlassian.net", Email: "dev@example.com", APIToken: "token"})
	if _, err := j.FetchNewItems(context.Background(), nil); !errors.Is(err, types.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestFetchMapsIssuesOldestFirst(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		if user != "dev@example.com" || pass != "token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"issues":[
			{"id":"10002","key":"PROJ-8","fields":{"summary":"Later issue","description":"","updated":"2025-03-02T09:00:00.000+0000","reporter":{"displayName":"Bob"}}},
			{"id":"10001","key":"PROJ-7","fields":{"summary":"Fix login","description":"Users locked out","updated":"2025-03-01T10:30:00.000+0000","reporter":{"displayName":"Alice"}}}
		]}`)
	})
	j := connectedIntegration(t, mux)

	items, err := j.FetchNewItems(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchNewItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	first := items[0]
	if first.ID != "PROJ-7" {
		t.Fatalf("expected oldest issue first, got %s", first.ID)
	}
	if first.Content != "Fix login\n\nUsers locked out" {
		t.Fatalf("unexpected content %q", first.Content)
	}
	if first.Sender != "Alice" {
		t.Fatalf("unexpected sender %q", first.Sender)
	}
	if first.Source != types.SourceJira {
		t.Fatalf("unexpected source %v", first.Source)
	}
	want := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	if !first.Timestamp.Equal(want) {
		t.Fatalf("unexpected timestamp %v", first.Timestamp)
	}
	if first.RawMetadata["key"] != "PROJ-7" {
		t.Fatalf("unexpected metadata %v", first.RawMetadata)
	}
}

func TestFetchSinceFiltersStrictlyAfter(t *testing.T) {
	var gotJQL string
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		gotJQL = r.URL.Query().Get("jql")
		fmt.Fprint(w, `{"issues":[
			{"id":"1","key":"PROJ-1","fields":{"summary":"At cutoff","updated":"2025-03-01T10:00:00.000+0000","reporter":{"displayName":"A"}}},
			{"id":"2","key":"PROJ-2","fields":{"summary":"After cutoff","updated":"2025-03-01T10:00:30.000+0000","reporter":{"displayName":"B"}}}
		]}`)
	})
	j := connectedIntegration(t, mux)

	since := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	items, err := j.FetchNewItems(context.Background(), &since)
	if err != nil {
		t.Fatalf("FetchNewItems: %v", err)
	}
	if len(items) != 1 || items[0].ID != "PROJ-2" {
		t.Fatalf("expected only the strictly-newer issue, got %v", items)
	}
	if gotJQL == "" || gotJQL == defaultJQL {
		t.Fatalf("expected updated clause in JQL, got %q", gotJQL)
	}
}

func TestFetchRateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	j := connectedIntegration(t, mux)

	if _, err := j.FetchNewItems(context.Background(), nil); !errors.Is(err, types.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestFetchMalformedResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>maintenance</html>`)
	})
	j := connectedIntegration(t, mux)

	if _, err := j.FetchNewItems(context.Background(), nil); !errors.Is(err, types.ErrParsing) {
		t.Fatalf("expected ErrParsing, got %v", err)
	}
}

func TestDeepLink(t *testing.T) {
	j := New(Config{BaseURL: "https://example.atlassian.net/", Email: "e", APIToken: "t"})
	if got := j.DeepLink("PROJ-7"); got != "https://example.atlassian.net/browse/PROJ-7" {
		t.Fatalf("unexpected deep link %q", got)
	}
	if got := j.DeepLink(""); got != "" {
		t.Fatalf("expected empty link for empty id, got %q", got)
	}
}
