package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/axlelore-kb/pkg/fn"
	"github.com/WessleyAI/axlelore-kb/pkg/resilience"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts.Host = srv.URL
	opts.HTTPClient = srv.Client()
	return New(opts)
}

func TestNewDefaults(t *testing.T) {
	c := New(Options{})
	if c.host != DefaultHost || c.Model() != DefaultModel || c.EmbedModel() != DefaultEmbedModel {
		t.Fatalf("defaults = %s %s %s", c.host, c.model, c.embed)
	}
	if c.fallback != "" {
		t.Fatalf("fallback = %q", c.fallback)
	}
}

func TestEmbed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req embedReq
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "all-minilm" {
			t.Errorf("model = %s", req.Model)
		}
		out := embedResp{}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		json.NewEncoder(w).Encode(out)
	}, Options{})

	vecs, err := c.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 || vecs[2][0] != 2 {
		t.Fatalf("vecs = %v", vecs)
	}
}

func TestEmbed_Empty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}, Options{})
	vecs, err := c.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("got %v, %v", vecs, err)
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"embeddings":[[1,2]]}`)
	}, Options{})
	if _, err := c.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestEmbed_BreakerOpens(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}, Options{Breaker: resilience.NewBreaker(resilience.BreakerOpts{Failures: 2, Cooldown: time.Minute})})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := c.Embed(ctx, []string{"x"})
		var se *StatusError
		if !errors.As(err, &se) || se.Code != 500 {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if _, err := c.Embed(ctx, []string{"x"}); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("server calls = %d", calls)
	}
}

func TestComplete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateReq
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream || req.System != "be brief" {
			t.Errorf("request %+v", req)
		}
		if req.Options["num_predict"].(float64) != 1024 {
			t.Errorf("options %v", req.Options)
		}
		json.NewEncoder(w).Encode(generateResp{Response: "torque to 65 ft-lb", Done: true, EvalCount: 7})
	}, Options{})

	got, err := c.Complete(context.Background(), "head bolt torque?", "be brief", GenerateOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "torque to 65 ft-lb" || got.TokensUsed != 7 || got.Model != DefaultModel {
		t.Fatalf("got %+v", got)
	}
}

func TestComplete_Fallback(t *testing.T) {
	var models []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateReq
		json.NewDecoder(r.Body).Decode(&req)
		models = append(models, req.Model)
		if req.Model == "big" {
			http.Error(w, "out of memory", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(generateResp{Response: "ok", Done: true})
	}, Options{Model: "big", FallbackModel: "small"})

	got, err := c.Complete(context.Background(), "q", "", GenerateOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Model != "small" || len(models) != 2 {
		t.Fatalf("got %+v after %v", got, models)
	}
}

func TestComplete_AllFail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}, Options{Model: "big", FallbackModel: "small"})

	_, err := c.Complete(context.Background(), "q", "", GenerateOpts{})
	if !errors.Is(err, fn.ErrAllFailed) {
		t.Fatalf("expected ErrAllFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "big") || !strings.Contains(err.Error(), "small") {
		t.Fatalf("error lost a stage: %v", err)
	}
}

func TestStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		for _, tok := range []string{"Check ", "the ", "fuses."} {
			json.NewEncoder(w).Encode(generateResp{Response: tok})
		}
		json.NewEncoder(w).Encode(generateResp{Done: true})
	}, Options{})

	tokens, errs := c.Stream(context.Background(), "q", "", GenerateOpts{})
	var sb strings.Builder
	for tok := range tokens {
		sb.WriteString(tok)
	}
	if err := <-errs; err != nil {
		t.Fatal(err)
	}
	if sb.String() != "Check the fuses." {
		t.Fatalf("streamed %q", sb.String())
	}
}

func TestStream_Error(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}, Options{})
	tokens, errs := c.Stream(context.Background(), "q", "", GenerateOpts{})
	for range tokens {
		t.Error("no tokens expected")
	}
	if err := <-errs; err == nil {
		t.Fatal("expected error")
	}
}

func TestHealthy(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"models":[{"name":"all-minilm:latest"},{"name":"mistral:7b-instruct-q4_K_M"}]}`)
	}, Options{})
	models, err := c.Healthy(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0] != "all-minilm:latest" {
		t.Fatalf("models = %v", models)
	}
}

func TestHealthy_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := New(Options{Host: srv.URL})
	if _, err := c.Healthy(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
