package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dockit/app/pkg/types"
)

func connectedIntegration(t *testing.T, handler http.HandlerFunc) (*Integration, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth.test", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "team": "acme", "user": "bot"})
	})
	if handler != nil {
		mux.HandleFunc("/conversations.history", handler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	integ := New(Config{
		BotToken:  "xoxb-test",
		Workspace: "acme",
		Channels:  []string{"C123"},
		APIRoot:   server.URL,
	})
	if err := integ.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	return integ, server
}

func TestConnectRejectsBadToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error": "invalid_auth"})
	}))
	defer server.Close()

	integ := New(Config{BotToken: "bad", APIRoot: server.URL})
	err := integ.Connect(context.Background())
	if !errors.Is(err, types.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got: %v", err)
	}
	if integ.IsConnected() {
		t.Fatal("failed connect must not mark connected")
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/auth.test", func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	integ := New(Config{BotToken: "xoxb-test", APIRoot: server.URL})
	for i := 0; i < 3; i++ {
		if err := integ.Connect(context.Background()); err != nil {
			t.Fatalf("connect %d failed: %v", i, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one auth.test call, got %d", calls)
	}
}

func TestFetchNewItems(t *testing.T) {
	integ, _ := connectedIntegration(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("channel"); got != "C123" {
			t.Errorf("unexpected channel: %s", got)
		}
		if got := r.URL.Query().Get("oldest"); got != "1700000000.000000" {
			t.Errorf("unexpected oldest: %s", got)
		}
		if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "Bearer ") {
			t.Errorf("missing bearer auth: %q", auth)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": true,
			"messages": []map[string]interface{}{
				{"type": "message", "user": "U2", "text": "newer message", "ts": "1700000200.000100"},
				{"type": "message", "subtype": "channel_join", "user": "U9", "text": "joined", "ts": "1700000150.000000"},
				{"type": "message", "user": "U1", "text": "older message", "ts": "1700000100.000500"},
			},
		})
	})

	since := time.Unix(1700000000, 0).UTC()
	items, err := integ.FetchNewItems(context.Background(), &since)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items (subtype skipped), got %d", len(items))
	}
	if items[0].Content != "older message" || items[1].Content != "newer message" {
		t.Fatalf("expected oldest-first order, got: %q, %q", items[0].Content, items[1].Content)
	}
	if items[0].ID != "C123/1700000100.000500" {
		t.Fatalf("unexpected item id: %s", items[0].ID)
	}
	if items[0].Source != types.SourceSlack {
		t.Fatalf("unexpected source: %s", items[0].Source)
	}
	if items[0].Timestamp.Unix() != 1700000100 {
		t.Fatalf("unexpected timestamp: %v", items[0].Timestamp)
	}
}

func TestFetchRateLimited(t *testing.T) {
	integ, _ := connectedIntegration(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := integ.FetchNewItems(context.Background(), nil)
	if !errors.Is(err, types.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got: %v", err)
	}
}

func TestFetchUndecodablePayload(t *testing.T) {
	integ, _ := connectedIntegration(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>gateway error</html>"))
	})

	_, err := integ.FetchNewItems(context.Background(), nil)
	if !errors.Is(err, types.ErrParsing) {
		t.Fatalf("expected ErrParsing, got: %v", err)
	}
}

func TestDeepLink(t *testing.T) {
	integ := New(Config{Workspace: "acme"})
	link := integ.DeepLink("C123/1700000100.000500")
	if link != "https://acme.slack.com/archives/C123/p1700000100000500" {
		t.Fatalf("unexpected deep link: %s", link)
	}
	if integ.DeepLink("garbage") != "" {
		t.Fatal("expected empty link for malformed id")
	}
	if New(Config{}).DeepLink("C123/1700000100.000500") != "" {
		t.Fatal("expected empty link without a workspace")
	}
}
