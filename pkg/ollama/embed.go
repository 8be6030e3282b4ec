package ollama

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/WessleyAI/axlelore-kb/pkg/fn"
	"github.com/WessleyAI/axlelore-kb/pkg/resilience"
)

// Embedder turns texts into fixed-size vectors, one per text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

var _ Embedder = (*Client)(nil)

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed embeds a batch through /api/embed behind the circuit breaker.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	r := resilience.Guard(ctx, c.breaker, func(ctx context.Context) fn.Result[[][]float32] {
		resp, err := c.post(ctx, "/api/embed", embedReq{Model: c.embed, Input: texts})
		if err != nil {
			return fn.Err[[][]float32](err)
		}
		defer resp.Body.Close()
		var out embedResp
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fn.Err[[][]float32](fmt.Errorf("ollama embed decode: %w", err))
		}
		if len(out.Embeddings) != len(texts) {
			return fn.Errf[[][]float32]("ollama embed: got %d vectors for %d texts", len(out.Embeddings), len(texts))
		}
		return fn.Ok(out.Embeddings)
	})
	return r.Unwrap()
}
