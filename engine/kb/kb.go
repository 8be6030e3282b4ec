// Package kb builds the per-vehicle knowledge base: it chunks canonical
// documents, embeds them in batches, upserts them into one collection per
// category and exports the result as a knowledge pack.
package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/WessleyAI/axlelore-kb/engine/chunk"
	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/engine/normalize"
	"github.com/WessleyAI/axlelore-kb/engine/semantic"
	"github.com/WessleyAI/axlelore-kb/pkg/fn"
	"github.com/WessleyAI/axlelore-kb/pkg/lazy"
	"github.com/WessleyAI/axlelore-kb/pkg/metrics"
	"github.com/WessleyAI/axlelore-kb/pkg/ollama"
)

// DefaultBatchSize is the number of chunks embedded and upserted per call.
const DefaultBatchSize = 100

// DefaultSearchCategories are searched when Search gets no categories.
var DefaultSearchCategories = []domain.Category{
	domain.CategoryEngine, domain.CategoryDrivetrain, domain.CategoryChassis,
	domain.CategoryElectrical, domain.CategoryGeneral,
}

var tracer = otel.Tracer("engine/kb")

// VectorStore is the subset of *semantic.VectorStore the builder needs.
type VectorStore interface {
	Collections(ctx context.Context) ([]string, error)
	EnsureCollections(ctx context.Context, dims int, names ...string) error
	Upsert(ctx context.Context, collection string, records []semantic.Record) error
	Count(ctx context.Context, collection string) (int, error)
	Search(ctx context.Context, collection string, vector []float32, k int) ([]semantic.Hit, error)
}

// Recorder receives the documents of every indexed file, for lineage.
type Recorder interface {
	Record(ctx context.Context, vehicle string, docs []domain.Document) error
}

// Options configures a Builder.
type Options struct {
	// Dims is the embedding size. Zero probes the embedder once.
	Dims           int
	BatchSize      int
	EmbeddingModel string
	// PersistDir is the vector store's data directory, archived by Export.
	PersistDir string
	Chunker    *chunk.Registry
	Lineage    Recorder
	Metrics    *metrics.Registry
	Logger     *slog.Logger
	Now        func() time.Time
}

// Builder writes chunks into the vector store.
type Builder struct {
	store   VectorStore
	embed   ollama.Embedder
	opts    Options
	dims    *lazy.Value[int]
	log     *slog.Logger
	chunker *chunk.Registry
}

// New creates a builder over store and embedder.
func New(store VectorStore, embed ollama.Embedder, opts Options) *Builder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Chunker == nil {
		opts.Chunker = chunk.NewRegistry(chunk.DefaultOptions())
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b := &Builder{
		store:   store,
		embed:   embed,
		opts:    opts,
		log:     opts.Logger.With("component", "kb"),
		chunker: opts.Chunker,
	}
	b.dims = lazy.New(func(ctx context.Context) (int, error) {
		if opts.Dims > 0 {
			return opts.Dims, nil
		}
		vecs, err := embed.Embed(ctx, []string{"dimension probe"})
		if err != nil {
			return 0, fmt.Errorf("probe embedding size: %w", err)
		}
		if len(vecs) != 1 || len(vecs[0]) == 0 {
			return 0, errors.New("probe embedding size: empty vector")
		}
		return len(vecs[0]), nil
	})
	return b
}

// EnsureCollections creates the vehicle's collection for every category.
func (b *Builder) EnsureCollections(ctx context.Context, vehicle string) error {
	if err := domain.ValidateVehicleType(vehicle); err != nil {
		return err
	}
	dims, err := b.dims.Get(ctx)
	if err != nil {
		return err
	}
	names := make([]string, len(domain.Categories))
	for i, c := range domain.Categories {
		names[i] = domain.CollectionName(vehicle, c)
	}
	if err := b.store.EnsureCollections(ctx, dims, names...); err != nil {
		return err
	}
	b.log.Debug("collections ready", "vehicle", vehicle, "count", len(names), "dims", dims)
	return nil
}

// AddChunks embeds and upserts chunks into the vehicle's collection for
// category, BatchSize at a time. It returns how many were stored before
// any error.
func (b *Builder) AddChunks(ctx context.Context, vehicle string, category domain.Category, chunks []domain.Chunk) (int, error) {
	collection := domain.CollectionName(vehicle, category)
	ctx, span := tracer.Start(ctx, "kb.AddChunks")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("chunks", len(chunks)))

	added := 0
	for _, batch := range fn.Chunk(chunks, b.opts.BatchSize) {
		texts := fn.Map(batch, func(c domain.Chunk) string { return c.Text })
		start := time.Now()
		vecs, err := b.embed.Embed(ctx, texts)
		b.opts.Metrics.EmbedBatch(time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return added, fmt.Errorf("embed %s batch at %d: %w", collection, added, err)
		}
		if len(vecs) != len(batch) {
			return added, fmt.Errorf("embed %s batch at %d: %d vectors for %d chunks", collection, added, len(vecs), len(batch))
		}
		records := make([]semantic.Record, len(batch))
		for i, c := range batch {
			records[i] = semantic.Record{
				ChunkID:  c.ID,
				Vector:   vecs[i],
				Text:     c.Text,
				Source:   string(c.Source),
				SourceID: c.SourceID,
				Category: string(c.Category),
				Metadata: domain.ScalarMetadata(c.Metadata),
			}
		}
		if err := b.store.Upsert(ctx, collection, records); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return added, err
		}
		added += len(batch)
		b.opts.Metrics.Chunks(collection, len(batch))
		b.log.Info("chunks added", "collection", collection, "done", added, "total", len(chunks))
	}
	return added, nil
}

// FileReport is the outcome of indexing one JSONL file.
type FileReport struct {
	Path      string
	Documents int
	Chunks    int
	Skipped   int // malformed lines and chunks with an unknown category
	Err       error
}

// BuildReport summarizes BuildFromJSONL.
type BuildReport struct {
	Files       []FileReport
	ByCategory  map[domain.Category]int
	TotalChunks int
}

// BuildFromJSONL chunks every document of every file and routes each
// chunk to its category collection. A failing file is reported and
// counted as zero; the others still build.
func (b *Builder) BuildFromJSONL(ctx context.Context, vehicle string, paths []string) (BuildReport, error) {
	rep := BuildReport{ByCategory: map[domain.Category]int{}}
	if err := b.EnsureCollections(ctx, vehicle); err != nil {
		return rep, err
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		fr := b.buildFile(ctx, vehicle, path, rep.ByCategory)
		if fr.Err != nil {
			b.log.Warn("file build failed", "file", path, "error", fr.Err)
		}
		rep.Files = append(rep.Files, fr)
		rep.TotalChunks += fr.Chunks
	}
	return rep, nil
}

func (b *Builder) buildFile(ctx context.Context, vehicle, path string, byCategory map[domain.Category]int) FileReport {
	ctx, span := tracer.Start(ctx, "kb.BuildFile")
	defer span.End()
	span.SetAttributes(attribute.String("file", path))

	fr := FileReport{Path: path}
	docs, bad, err := normalize.ReadJSONL(path)
	if err != nil {
		fr.Err = err
		return fr
	}
	fr.Documents, fr.Skipped = len(docs), bad

	grouped := fn.GroupBy(b.chunker.ChunkAll(docs), func(c domain.Chunk) domain.Category { return c.Category })
	cats := make([]domain.Category, 0, len(grouped))
	for c := range grouped {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	for _, cat := range cats {
		chunks := grouped[cat]
		if !cat.Valid() {
			b.log.Warn("chunks with unknown category skipped", "category", cat, "count", len(chunks))
			fr.Skipped += len(chunks)
			continue
		}
		n, err := b.AddChunks(ctx, vehicle, cat, chunks)
		fr.Chunks += n
		byCategory[cat] += n
		if err != nil {
			fr.Err = err
			return fr
		}
	}

	if b.opts.Lineage != nil {
		if err := b.opts.Lineage.Record(ctx, vehicle, docs); err != nil {
			b.log.Warn("lineage record failed", "file", path, "error", err)
		}
	}
	b.log.Info("file indexed", "file", path, "documents", fr.Documents, "chunks", fr.Chunks)
	return fr
}

// Stats are the chunk counts of a vehicle's collections.
type Stats struct {
	VehicleType string         `json:"vehicle_type"`
	Collections map[string]int `json:"collections"`
	TotalChunks int            `json:"total_chunks"`
}

// Categories returns the category names in Collections, sorted.
func (s Stats) Categories() []string {
	out := make([]string, 0, len(s.Collections))
	for c := range s.Collections {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Stats counts every collection named {vehicle}_*.
func (b *Builder) Stats(ctx context.Context, vehicle string) (Stats, error) {
	st := Stats{VehicleType: vehicle, Collections: map[string]int{}}
	names, err := b.store.Collections(ctx)
	if err != nil {
		return st, err
	}
	prefix := vehicle + "_"
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		n, err := b.store.Count(ctx, name)
		if err != nil {
			return st, err
		}
		st.Collections[strings.TrimPrefix(name, prefix)] = n
		st.TotalChunks += n
		b.opts.Metrics.CollectionSize(name, n)
	}
	return st, nil
}

// Search embeds query and returns the k nearest chunks across the given
// categories, closest first. Missing collections are skipped.
func (b *Builder) Search(ctx context.Context, vehicle, query string, categories []domain.Category, k int) ([]semantic.Hit, error) {
	ctx, span := tracer.Start(ctx, "kb.Search")
	defer span.End()

	if len(categories) == 0 {
		categories = DefaultSearchCategories
	}
	vecs, err := b.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	var hits []semantic.Hit
	for _, c := range categories {
		name := domain.CollectionName(vehicle, c)
		res, err := b.store.Search(ctx, name, vecs[0], k)
		if err != nil {
			b.log.Debug("collection search failed", "collection", name, "error", err)
			continue
		}
		hits = append(hits, res...)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
