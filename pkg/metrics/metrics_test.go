package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.Fetch("nhtsa", "ok")
	r.Documents("nhtsa", 3)
	r.Chunks("fzj80_tsb", 3)
	r.Stage("build", time.Second)
	r.EmbedBatch(time.Millisecond)
	r.CollectionSize("fzj80_tsb", 1)
	r.Routed("engine")
}

func TestCounters(t *testing.T) {
	r := New()
	r.Fetch("ih8mud", "ok")
	r.Fetch("ih8mud", "ok")
	r.Fetch("ih8mud", "failed")
	r.Documents("fsm", 10)
	r.Documents("fsm", 0)
	r.Chunks("fzj80_engine", 4)

	if got := testutil.ToFloat64(r.fetchRequests.WithLabelValues("ih8mud", "ok")); got != 2 {
		t.Fatalf("fetch ok = %v", got)
	}
	if got := testutil.ToFloat64(r.documents.WithLabelValues("fsm")); got != 10 {
		t.Fatalf("documents = %v", got)
	}
	if got := testutil.ToFloat64(r.chunks.WithLabelValues("fzj80_engine")); got != 4 {
		t.Fatalf("chunks = %v", got)
	}
}

func TestHandlerExposition(t *testing.T) {
	r := New()
	r.CollectionSize("fzj80_parts", 12)
	r.Stage("process", 3*time.Second)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	for _, want := range []string{
		`kb_collection_chunks{collection="fzj80_parts"} 12`,
		`kb_stage_duration_seconds_count{stage="process"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in exposition", want)
		}
	}
}

func TestEndpoint(t *testing.T) {
	r := New()
	r.Routed("tsb")
	var logs strings.Builder
	log := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv := httptest.NewServer(r.endpoint(log))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `kb_retrieval_routed_total{category="tsb"} 1`) {
		t.Errorf("metrics body missing routed counter:\n%s", body)
	}

	resp, err = http.Post(srv.URL+"/metrics", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed || resp.Header.Get("Allow") != "GET, HEAD" {
		t.Errorf("POST = %d, Allow %q", resp.StatusCode, resp.Header.Get("Allow"))
	}
	if !strings.Contains(logs.String(), "path=/healthz status=200") {
		t.Errorf("request not logged:\n%s", logs.String())
	}
}

func TestGuardRecoversPanic(t *testing.T) {
	var logs strings.Builder
	log := slog.New(slog.NewTextHandler(&logs, nil))
	h := guard(log, http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("collector exploded") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d", rec.Code)
	}
	if !strings.Contains(logs.String(), "collector exploded") {
		t.Errorf("panic not logged: %s", logs.String())
	}
}
