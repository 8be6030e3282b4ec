// Package retrieval picks the collections a query should search, merges
// their nearest neighbours and formats them for prompt injection.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/engine/semantic"
	"github.com/WessleyAI/axlelore-kb/engine/vehicle"
	"github.com/WessleyAI/axlelore-kb/pkg/metrics"
	"github.com/WessleyAI/axlelore-kb/pkg/ollama"
)

// Defaults.
const (
	DefaultTopK      = 5
	DefaultThreshold = 0.7
	// SignatureLength is the text prefix two results must share to count
	// as duplicates.
	SignatureLength = 200
	cacheSize       = 512
)

var tracer = otel.Tracer("engine/retrieval")

// Searcher is the subset of *semantic.VectorStore the router needs.
type Searcher interface {
	Count(ctx context.Context, collection string) (int, error)
	Search(ctx context.Context, collection string, vector []float32, k int) ([]semantic.Hit, error)
}

// Profiles resolves vehicle profiles; *vehicle.Registry implements it.
type Profiles interface {
	Get(ctx context.Context, vehicle string) (*vehicle.Profile, error)
}

// Options tunes one retrieval. Zero values use the defaults; a nil
// Threshold is unset, while a threshold of 0 keeps every hit.
type Options struct {
	Categories []domain.Category // skips keyword routing when set
	TopK       int
	Threshold  *float64
}

// Threshold returns v as an explicit Options.Threshold.
func Threshold(v float64) *float64 { return &v }

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.Threshold == nil {
		o.Threshold = Threshold(DefaultThreshold)
	}
	return o
}

// Chunk is one retrieved chunk with its similarity.
type Chunk struct {
	Text     string
	Source   string
	SourceID string
	Category domain.Category
	Score    float64
	Metadata map[string]any
}

// RouterOpts configures a Router.
type RouterOpts struct {
	Defaults Options
	Metrics  *metrics.Registry
	Logger   *slog.Logger
}

// Router answers retrieval queries for any supported vehicle.
type Router struct {
	profiles Profiles
	store    Searcher
	embed    ollama.Embedder
	defaults Options
	cache    *lru.Cache[string, []float32]
	metrics  *metrics.Registry
	log      *slog.Logger
}

// NewRouter creates a router. Query embeddings are cached by query text.
func NewRouter(profiles Profiles, store Searcher, embed ollama.Embedder, opts RouterOpts) *Router {
	cache, _ := lru.New[string, []float32](cacheSize)
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		profiles: profiles,
		store:    store,
		embed:    embed,
		defaults: opts.Defaults,
		cache:    cache,
		metrics:  opts.Metrics,
		log:      log.With("component", "retrieval"),
	}
}

// RouteQuery returns the categories a query should search for vehicle.
func (r *Router) RouteQuery(ctx context.Context, query, vehicle string) ([]domain.Category, error) {
	p, err := r.profiles.Get(ctx, vehicle)
	if err != nil {
		return nil, err
	}
	return p.Route(query), nil
}

func (r *Router) merge(opts Options) Options {
	if opts.Categories == nil {
		opts.Categories = r.defaults.Categories
	}
	if opts.TopK <= 0 {
		opts.TopK = r.defaults.TopK
	}
	if opts.Threshold == nil {
		opts.Threshold = r.defaults.Threshold
	}
	return opts.withDefaults()
}

// Retrieve returns up to TopK chunks above Threshold, best first. Empty
// collections are not searched and a failing collection is skipped.
func (r *Router) Retrieve(ctx context.Context, query, vehicle string, opts Options) ([]Chunk, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()
	opts = r.merge(opts)

	categories := opts.Categories
	if len(categories) == 0 {
		var err error
		if categories, err = r.RouteQuery(ctx, query, vehicle); err != nil {
			return nil, err
		}
	}
	span.SetAttributes(attribute.String("vehicle", vehicle), attribute.Int("categories", len(categories)))

	vec, err := r.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}

	var found []Chunk
	for _, c := range categories {
		r.metrics.Routed(string(c))
		name := domain.CollectionName(vehicle, c)
		n, err := r.store.Count(ctx, name)
		if err != nil {
			r.log.Warn("collection count failed", "collection", name, "error", err)
			continue
		}
		if n == 0 {
			continue
		}
		hits, err := r.store.Search(ctx, name, vec, opts.TopK)
		if err != nil {
			r.log.Warn("collection search failed", "collection", name, "error", err)
			continue
		}
		for _, h := range hits {
			score := h.Similarity()
			if score < *opts.Threshold {
				continue
			}
			found = append(found, Chunk{
				Text:     h.Text,
				Source:   h.Source,
				SourceID: h.SourceID,
				Category: c,
				Score:    score,
				Metadata: h.Metadata,
			})
		}
	}
	return rank(found, opts.TopK), nil
}

// rank sorts by score, drops results whose text starts like a better one
// and truncates to k.
func rank(chunks []Chunk, k int) []Chunk {
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
	seen := make(map[string]bool, len(chunks))
	out := make([]Chunk, 0, min(k, len(chunks)))
	for _, c := range chunks {
		sig := signature(c.Text)
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, c)
		if len(out) == k {
			break
		}
	}
	return out
}

func signature(text string) string {
	if len(text) <= SignatureLength {
		return text
	}
	return text[:SignatureLength]
}

func (r *Router) queryVector(ctx context.Context, query string) ([]float32, error) {
	if v, ok := r.cache.Get(query); ok {
		return v, nil
	}
	vecs, err := r.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: %d vectors", len(vecs))
	}
	r.cache.Add(query, vecs[0])
	return vecs[0], nil
}

// Context is the assembled retrieval result for one query.
type Context struct {
	Chunks         []Chunk
	VehicleContext string
	Formatted      string
}

// Assemble retrieves chunks and formats them, together with the owner's
// vehicle details when vc is not nil.
func (r *Router) Assemble(ctx context.Context, query, vehicleType string, vc *vehicle.Context, opts Options) (Context, error) {
	chunks, err := r.Retrieve(ctx, query, vehicleType, opts)
	if err != nil {
		return Context{}, err
	}
	out := Context{Chunks: chunks}
	if vc != nil {
		p, err := r.profiles.Get(ctx, vehicleType)
		if err != nil {
			return Context{}, err
		}
		out.VehicleContext = p.Prompt(*vc)
	}
	out.Formatted = Format(out)
	return out, nil
}

// Format renders the vehicle block and the numbered knowledge entries.
func Format(c Context) string {
	var parts []string
	if c.VehicleContext != "" {
		parts = append(parts, "=== Your Vehicle ===\n"+c.VehicleContext)
	}
	if len(c.Chunks) > 0 {
		parts = append(parts, "=== Relevant Information ===")
		for i, ch := range c.Chunks {
			parts = append(parts, fmt.Sprintf("\n[%d] Source: %s\n%s", i+1, ch.Source, ch.Text))
		}
	}
	return strings.Join(parts, "\n\n")
}
