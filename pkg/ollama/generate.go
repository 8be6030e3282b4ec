package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/WessleyAI/axlelore-kb/pkg/fn"
)

// GenerateOpts tunes one completion. Zero values use Temperature 0.7 and
// MaxTokens 1024.
type GenerateOpts struct {
	Temperature float64
	MaxTokens   int
}

func (o GenerateOpts) withDefaults() GenerateOpts {
	if o.Temperature == 0 {
		o.Temperature = 0.7
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 1024
	}
	return o
}

// Completion is the result of a non-streaming generation.
type Completion struct {
	Content    string
	TokensUsed int
	Model      string
}

type generateReq struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResp struct {
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count"`
	Error     string `json:"error"`
}

// Complete runs a non-streaming generation on the primary model, then on
// the fallback model when the primary fails. The error keeps both
// failures.
func (c *Client) Complete(ctx context.Context, prompt, system string, opts GenerateOpts) (Completion, error) {
	opts = opts.withDefaults()
	steps := []fn.Step[Completion]{{
		Name: c.model,
		Run:  func(ctx context.Context) fn.Result[Completion] { return c.generate(ctx, c.model, prompt, system, opts) },
	}}
	if c.fallback != "" && c.fallback != c.model {
		steps = append(steps, fn.Step[Completion]{
			Name: c.fallback,
			Run:  func(ctx context.Context) fn.Result[Completion] { return c.generate(ctx, c.fallback, prompt, system, opts) },
		})
	}
	res, trace := fn.FirstOk(ctx, steps...)
	if len(trace.Failures()) > 0 && res.IsOk() {
		c.log.Warn("primary model failed, used fallback", "trace", trace.String())
	}
	return res.Unwrap()
}

func (c *Client) generate(ctx context.Context, model, prompt, system string, opts GenerateOpts) fn.Result[Completion] {
	resp, err := c.post(ctx, "/api/generate", generateReq{
		Model:  model,
		Prompt: prompt,
		System: system,
		Options: map[string]any{
			"temperature": opts.Temperature,
			"num_predict": opts.MaxTokens,
		},
	})
	if err != nil {
		return fn.Err[Completion](err)
	}
	defer resp.Body.Close()
	var out generateResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fn.Err[Completion](fmt.Errorf("ollama generate decode: %w", err))
	}
	if out.Error != "" {
		return fn.Err[Completion](errors.New("ollama generate: " + out.Error))
	}
	return fn.Ok(Completion{Content: out.Response, TokensUsed: out.EvalCount, Model: model})
}

// Stream generates on the primary model and yields response fragments as
// they arrive. Both channels are closed when the stream ends; at most one
// error is sent.
func (c *Client) Stream(ctx context.Context, prompt, system string, opts GenerateOpts) (<-chan string, <-chan error) {
	opts = opts.withDefaults()
	tokens := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(tokens)
		defer close(errs)
		resp, err := c.post(ctx, "/api/generate", generateReq{
			Model:   c.model,
			Prompt:  prompt,
			System:  system,
			Stream:  true,
			Options: map[string]any{"temperature": opts.Temperature},
		})
		if err != nil {
			errs <- err
			return
		}
		if err := readStream(ctx, resp, tokens); err != nil {
			errs <- err
		}
	}()
	return tokens, errs
}

// readStream decodes newline-delimited generate replies until done.
func readStream(ctx context.Context, resp *http.Response, tokens chan<- string) error {
	defer resp.Body.Close()
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var part generateResp
		if err := json.Unmarshal(line, &part); err != nil {
			return fmt.Errorf("ollama stream decode: %w", err)
		}
		if part.Error != "" {
			return errors.New("ollama stream: " + part.Error)
		}
		if part.Response != "" {
			select {
			case tokens <- part.Response:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if part.Done {
			return nil
		}
	}
	return sc.Err()
}
