package client_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmerrifield20/qbittorrent-mcp/pkg/client"
)

// searchBackend registers a search job that reports "Running" for the
// first runningPolls status calls and "Stopped" afterwards.
func searchBackend(t *testing.T, runningPolls int32, results int) (*stubBackend, *atomic.Value) {
	t.Helper()
	b := newStubBackend(t)
	var polls atomic.Int32
	var startForm atomic.Value

	b.handle("/api/v2/search/start", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm() //nolint:errcheck
		startForm.Store(r.PostForm)
		writeJSON(w, map[string]any{"id": 42})
	})
	b.handle("/api/v2/search/status", func(w http.ResponseWriter, r *http.Request) {
		status := "Stopped"
		if polls.Add(1) <= runningPolls {
			status = "Running"
		}
		writeJSON(w, []any{map[string]any{"id": 42, "status": status, "total": results}})
	})
	b.handle("/api/v2/search/results", func(w http.ResponseWriter, r *http.Request) {
		items := make([]any, 0, results)
		for i := 0; i < results; i++ {
			items = append(items, map[string]any{
				"fileName":   fmt.Sprintf("Some.Show.S02E%02d.1080p.WEB.x264", i+1),
				"fileUrl":    fmt.Sprintf("https://tracker.example/dl/%d", i),
				"fileSize":   1 << 30,
				"nbSeeders":  100 - i,
				"nbLeechers": i,
				"siteUrl":    "https://tracker.example",
				"descrLink":  fmt.Sprintf("https://tracker.example/t/%d", i),
			})
		}
		status := "Stopped"
		if polls.Load() <= runningPolls {
			status = "Running"
		}
		writeJSON(w, map[string]any{"results": items, "status": status, "total": results})
	})
	b.handle("/api/v2/search/stop", func(w http.ResponseWriter, r *http.Request) {})
	b.handle("/api/v2/search/delete", func(w http.ResponseWriter, r *http.Request) {})
	return b, &startForm
}

func TestSearchTorrents_collectsResultsAndCleansUp(t *testing.T) {
	b, startForm := searchBackend(t, 2, 3)
	c := b.client(t, client.WithSearchPolling(10*time.Millisecond, 2*time.Second))

	res, err := c.SearchTorrents(context.Background(), client.SearchRequest{Query: "some show"})
	if err != nil {
		t.Fatalf("SearchTorrents: %v", err)
	}
	if res.ID != 42 || res.Status != "Stopped" {
		t.Errorf("unexpected job state: id=%d status=%s", res.ID, res.Status)
	}
	if len(res.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res.Results))
	}
	first := res.Results[0]
	if first.Seeders != 100 || first.FileURL != "https://tracker.example/dl/0" {
		t.Errorf("unexpected first result: %+v", first)
	}
	if first.Season != 2 || first.Episode != 1 {
		t.Errorf("release name not parsed: season=%d episode=%d", first.Season, first.Episode)
	}

	form := startForm.Load().(url.Values)
	if form["pattern"][0] != "some show" || form["plugins"][0] != "all" || form["category"][0] != "all" {
		t.Errorf("unexpected start form: %v", form)
	}
	if b.callCount("/api/v2/search/status") != 3 {
		t.Errorf("expected 3 status polls, got %d", b.callCount("/api/v2/search/status"))
	}
	if b.callCount("/api/v2/search/stop") != 1 || b.callCount("/api/v2/search/delete") != 1 {
		t.Error("search job was not cleaned up")
	}
}

func TestSearchTorrents_returnsPartialResultsWhenBudgetRunsOut(t *testing.T) {
	b, _ := searchBackend(t, 1<<30, 2)
	c := b.client(t, client.WithSearchPolling(10*time.Millisecond, 80*time.Millisecond))

	res, err := c.SearchTorrents(context.Background(), client.SearchRequest{Query: "ubuntu", Limit: 10})
	if err != nil {
		t.Fatalf("SearchTorrents: %v", err)
	}
	if res.Status != "Running" {
		t.Errorf("expected Running status, got %s", res.Status)
	}
	if len(res.Results) != 2 {
		t.Errorf("expected the 2 available results, got %d", len(res.Results))
	}
	if b.callCount("/api/v2/search/delete") != 1 {
		t.Error("search job was not deleted")
	}
}

func TestSearchTorrents_stopsPollingOnceLimitReached(t *testing.T) {
	b, _ := searchBackend(t, 1<<30, 5)
	c := b.client(t, client.WithSearchPolling(10*time.Millisecond, 5*time.Second))

	start := time.Now()
	res, err := c.SearchTorrents(context.Background(), client.SearchRequest{Query: "ubuntu", Limit: 3})
	if err != nil {
		t.Fatalf("SearchTorrents: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("search kept polling after enough results were available")
	}
	if len(res.Results) != 3 {
		t.Errorf("results must be truncated to the limit, got %d", len(res.Results))
	}
}

func TestSearchTorrents_cleansUpAfterCancellation(t *testing.T) {
	b, _ := searchBackend(t, 1<<30, 0)
	c := b.client(t, client.WithSearchPolling(10*time.Millisecond, 10*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res, err := c.SearchTorrents(ctx, client.SearchRequest{Query: "ubuntu"})
	if err == nil {
		t.Fatalf("expected an error after the caller's deadline, got %+v", res)
	}
	if !errors.Is(err, context.DeadlineExceeded) || !client.IsTransportError(err) {
		t.Errorf("expected a transport error wrapping DeadlineExceeded, got %v", err)
	}
	if b.callCount("/api/v2/search/results") != 0 {
		t.Error("results must not be fetched once the caller's deadline fired")
	}
	if b.callCount("/api/v2/search/stop") != 1 || b.callCount("/api/v2/search/delete") != 1 {
		t.Error("abandoned search job must still be stopped and deleted")
	}
}

func TestSearchTorrents_callerCancelBeatsBudget(t *testing.T) {
	b, _ := searchBackend(t, 1<<30, 0)
	c := b.client(t, client.WithSearchPolling(50*time.Millisecond, 10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(120*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.SearchTorrents(ctx, client.SearchRequest{Query: "ubuntu"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation did not interrupt polling")
	}
	if b.callCount("/api/v2/search/delete") != 1 {
		t.Error("search job was not deleted")
	}
}
