package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"hubgrep/internal/services/crawl/domain"
)

func TestFetchBlock_DecodesAndValidates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{
			"uid": "b-7",
			"from_id": 1,
			"to_id": 100,
			"callback_url": "https://indexer.example.com/cb",
			"hosting_service": {"type": "gitea", "api_url": "https://codeberg.org"}
		}`)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	b, err := c.FetchBlock(context.Background(), srv.URL+"/block")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if b.UID != "b-7" || b.HostingService.Type != "gitea" {
		t.Fatalf("block = %+v", b)
	}
}

func TestFetchBlock_RejectsMalformedBlock(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// no uid, no hosting_service type
		_, _ = io.WriteString(w, `{"from_id": 1}`)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	if _, err := c.FetchBlock(context.Background(), srv.URL+"/block"); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestClient_EscalatesAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, MaxErrors: 3})
	for i := 0; i < 2; i++ {
		_, err := c.FetchBlock(context.Background(), srv.URL+"/block")
		if err == nil {
			t.Fatal("expected failure")
		}
		if errors.Is(err, ErrUnreachable) {
			t.Fatalf("failure %d escalated too early", i+1)
		}
	}
	_, err := c.FetchBlock(context.Background(), srv.URL+"/block")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable on failure 3", err)
	}
}

func TestClient_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"uid": "b", "hosting_service": {"type": "gitea", "api_url": "https://x.org"}}`)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, MaxErrors: 2})

	fail.Store(true)
	if _, err := c.FetchBlock(context.Background(), srv.URL+"/block"); err == nil {
		t.Fatal("expected failure")
	}

	fail.Store(false)
	if _, err := c.FetchBlock(context.Background(), srv.URL+"/block"); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	fail.Store(true)
	_, err := c.FetchBlock(context.Background(), srv.URL+"/block")
	if errors.Is(err, ErrUnreachable) {
		t.Fatal("success must reset the consecutive counter")
	}
}

func TestPushResults_PutsJSONArray(t *testing.T) {
	t.Parallel()

	var gotMethod, gotAuth string
	var gotBody []domain.Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, APIKey: "key123"})
	records := []domain.Record{{"full_name": "a/x"}, {"full_name": "b/y"}}
	if err := c.PushResults(context.Background(), srv.URL+"/cb", records); err != nil {
		t.Fatalf("push: %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Fatalf("method = %s, want PUT", gotMethod)
	}
	if gotAuth != "Basic key123" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if len(gotBody) != 2 || gotBody[0]["full_name"] != "a/x" {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestHosters_ListsRegisteredServices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/hosters" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `[{"id":1,"type":"gitea","api_url":"https://codeberg.org"}]`)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	hosters, err := c.Hosters(context.Background())
	if err != nil {
		t.Fatalf("hosters: %v", err)
	}
	if len(hosters) != 1 || hosters[0].Type != "gitea" || hosters[0].ID != 1 {
		t.Fatalf("hosters = %+v", hosters)
	}
}

func TestBlockURLs(t *testing.T) {
	t.Parallel()

	c := New(Options{BaseURL: "https://indexer.example.com"})
	if got := c.BlockURL(7); got != "https://indexer.example.com/api/v1/hosters/7/block" {
		t.Fatalf("block url = %q", got)
	}
	if got := c.LoadBalancedBlockURL("gitea"); got != "https://indexer.example.com/api/v1/hosters/gitea/loadbalanced_block" {
		t.Fatalf("loadbalanced url = %q", got)
	}
}
