// Package chunk splits canonical documents into retrieval-sized chunks. The
// splitting strategy is chosen per source through a Registry.
package chunk

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
)

// Options bound chunk sizes, in bytes of text.
type Options struct {
	Size    int // target chunk size
	Overlap int // tail copied into the next size-based chunk
	MinSize int // shorter documents and trailing remainders are dropped
}

// SmallestSize is the lowest chunk size configuration accepts.
const SmallestSize = 100

// DefaultOptions are the production chunk bounds.
func DefaultOptions() Options {
	return Options{Size: 800, Overlap: 100, MinSize: 200}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o == (Options{}) {
		return d
	}
	if o.Size <= 0 {
		o.Size = d.Size
	}
	if o.Overlap < 0 || o.Overlap >= o.Size {
		o.Overlap = min(d.Overlap, o.Size/2)
	}
	if o.MinSize < 0 {
		o.MinSize = 0
	}
	return o
}

// Strategy splits one document. Implementations must be deterministic.
type Strategy interface {
	Name() string
	Chunk(d domain.Document, o Options) []domain.Chunk
}

// Registry maps sources to strategies. Sources without an entry use the
// size strategy.
type Registry struct {
	opts       Options
	strategies map[domain.Source]Strategy
	fallback   Strategy
}

// NewRegistry returns a registry with the built-in strategies: procedures
// for service manuals, question and answer pairs for forum threads and
// sentence packing for everything else.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		opts:       opts.withDefaults(),
		strategies: map[domain.Source]Strategy{},
		fallback:   Size{},
	}
	r.Register(domain.SourceManual, Procedure{})
	r.Register(domain.SourceForum, ForumQA{})
	return r
}

// Register sets the strategy of src, replacing any previous one.
func (r *Registry) Register(src domain.Source, s Strategy) {
	r.strategies[src] = s
}

// Strategy returns the strategy used for src.
func (r *Registry) Strategy(src domain.Source) Strategy {
	if s, ok := r.strategies[src]; ok {
		return s
	}
	return r.fallback
}

// Options returns the bounds in use.
func (r *Registry) Options() Options { return r.opts }

// Chunk splits d. Documents shorter than the minimum size yield nothing.
func (r *Registry) Chunk(d domain.Document) []domain.Chunk {
	if strings.TrimSpace(d.Content) == "" || len(d.Content) < r.opts.MinSize {
		return nil
	}
	return r.Strategy(d.Source).Chunk(d, r.opts)
}

// ChunkAll chunks docs in order.
func (r *Registry) ChunkAll(docs []domain.Document) []domain.Chunk {
	var out []domain.Chunk
	for _, d := range docs {
		out = append(out, r.Chunk(d)...)
	}
	return out
}

// ID derives a chunk id from its document, a disambiguating suffix and the
// chunk text. Equal inputs always give equal ids.
func ID(src domain.Source, sourceID, suffix, text string) string {
	sum := md5.Sum([]byte(text))
	return string(src) + "_" + sourceID + suffix + "_" + hex.EncodeToString(sum[:])[:8]
}

// piece is chunk text before it becomes a Chunk.
type piece struct{ text, suffix string }

func emit(d domain.Document, pieces []piece) []domain.Chunk {
	out := make([]domain.Chunk, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, newChunk(d, p.text, p.suffix))
	}
	return out
}

// newChunk builds a chunk of d carrying its scalar metadata.
func newChunk(d domain.Document, text, suffix string) domain.Chunk {
	text = strings.TrimSpace(text)
	meta := domain.ScalarMetadata(d.Metadata)
	meta["title"] = d.Title
	meta["url"] = d.URL
	meta["quality_score"] = d.QualityScore
	if d.Date != nil {
		meta["date"] = *d.Date
	}
	if _, ok := meta["vehicle_type"]; !ok {
		meta["vehicle_type"] = ""
	}
	cat := d.Category
	if cat == "" {
		cat = domain.CategoryGeneral
	}
	return domain.Chunk{
		ID:       ID(d.Source, d.SourceID, suffix, text),
		Text:     text,
		Source:   d.Source,
		SourceID: d.SourceID,
		Category: cat,
		Metadata: meta,
	}
}

// cut returns the longest prefix of s of at most n bytes that ends on a
// rune boundary.
func cut(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// tail returns the last n bytes of s, starting on a rune boundary.
func tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return ""
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
