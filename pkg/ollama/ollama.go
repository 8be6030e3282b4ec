// Package ollama is a client for the Ollama HTTP API: batch embeddings,
// completions with a fallback model, token streaming and a health probe.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/WessleyAI/axlelore-kb/pkg/resilience"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Defaults.
const (
	DefaultHost          = "http://localhost:11434"
	DefaultModel         = "mistral:7b-instruct-q4_K_M"
	DefaultFallbackModel = "tinyllama:1.1b-chat-q4_K_M"
	DefaultEmbedModel    = "all-minilm"
	DefaultTimeout       = 120 * time.Second
)

// Options configures a Client.
type Options struct {
	Host          string
	Model         string
	FallbackModel string // empty disables the fallback
	EmbedModel    string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Breaker       *resilience.Breaker
	Logger        *slog.Logger
}

// Client talks to one Ollama server.
type Client struct {
	host     string
	model    string
	fallback string
	embed    string
	http     *http.Client
	breaker  *resilience.Breaker
	log      *slog.Logger
}

// New creates a client. Zero options fall back to the defaults; a nil
// breaker gets resilience.DefaultBreakerOpts.
func New(opts Options) *Client {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.EmbedModel == "" {
		opts.EmbedModel = DefaultEmbedModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Breaker == nil {
		bo := resilience.DefaultBreakerOpts
		log := opts.Logger
		bo.OnStateChange = func(from, to resilience.State) {
			log.Warn("ollama breaker", "from", from, "to", to, "host", opts.Host)
		}
		opts.Breaker = resilience.NewBreaker(bo)
	}
	return &Client{
		host:     strings.TrimRight(opts.Host, "/"),
		model:    opts.Model,
		fallback: opts.FallbackModel,
		embed:    opts.EmbedModel,
		http:     opts.HTTPClient,
		breaker:  opts.Breaker,
		log:      opts.Logger,
	}
}

// EmbedModel is the model used for embeddings.
func (c *Client) EmbedModel() string { return c.embed }

// Model is the primary completion model.
func (c *Client) Model() string { return c.model }

// StatusError is a non-200 reply.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama %s: status %d: %s", e.Path, e.Code, e.Body)
}

// post sends a JSON body and returns the response for the caller to
// close. Non-200 replies become a *StatusError.
func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama %s: marshal: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &StatusError{Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

// Healthy reports whether the server answers /api/tags, and the models
// it has pulled.
func (c *Client) Healthy(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Path: "/api/tags", Code: resp.StatusCode}
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("ollama tags decode: %w", err)
	}
	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}
