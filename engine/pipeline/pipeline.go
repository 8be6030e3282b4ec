// Package pipeline sequences the knowledge-base stages for one vehicle:
// scrape, process, build and export. Each stage isolates per-source
// failures, reports counts and publishes a StageEvent when it completes.
package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/WessleyAI/axlelore-kb/engine/checkpoint"
	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/engine/kb"
	"github.com/WessleyAI/axlelore-kb/engine/normalize"
	"github.com/WessleyAI/axlelore-kb/engine/vehicle"
	"github.com/WessleyAI/axlelore-kb/pkg/lazy"
	"github.com/WessleyAI/axlelore-kb/pkg/metrics"
)

// Stage names.
const (
	StageScrape  = "scrape"
	StageProcess = "process"
	StageBuild   = "build"
	StageExport  = "export"
)

// Layout places every pipeline artifact under one data directory.
type Layout struct {
	DataDir string
}

// rawDirs maps a source to its directory under raw/.
var rawDirs = map[domain.Source]string{
	domain.SourceNHTSA:    "nhtsa",
	domain.SourceArticles: "web",
	domain.SourceParts:    "sor",
	domain.SourceManual:   "fsm",
	domain.SourceForum:    "forum",
}

// RawRoot holds scraper output and the checkpoint database.
func (l Layout) RawRoot() string { return filepath.Join(l.DataDir, "raw") }

// RawDir is the scraper output directory of src.
func (l Layout) RawDir(src domain.Source) string {
	return filepath.Join(l.RawRoot(), rawDirs[src])
}

func (l Layout) StateDB() string { return filepath.Join(l.RawRoot(), "scrape_state.db") }

// JSONL is the processed corpus file of one source.
func (l Layout) JSONL(vehicle string, src domain.Source) string {
	return filepath.Join(l.DataDir, normalize.FileName(vehicle, src))
}

// StoreDir is the vector store persistence directory copied into packs.
func (l Layout) StoreDir() string { return filepath.Join(l.DataDir, kb.StoreDir) }

func (l Layout) PackDir() string { return filepath.Join(l.DataDir, "knowledge_packs") }

// Builder is the subset of *kb.Builder the stages use.
type Builder interface {
	BuildFromJSONL(ctx context.Context, vehicle string, paths []string) (kb.BuildReport, error)
	Stats(ctx context.Context, vehicle string) (kb.Stats, error)
	Export(ctx context.Context, vehicle, out, version string) (kb.Manifest, error)
}

// SourceCounter reports indexed documents per source, from the lineage
// graph.
type SourceCounter interface {
	SourceCounts(ctx context.Context, vehicle string) (map[string]int, error)
}

// Config selects what a run does.
type Config struct {
	Vehicle    string
	Version    string // pack version, default "1"
	MaxThreads int    // forum content pass cap, 0 = unlimited
	IndexOnly  bool
	NoResume   bool
	OCR        normalize.OCR // nil disables OCR of scanned manual pages
}

// Options carries the collaborators. Services are built on first use, so a
// status run never dials the vector store it does not need.
type Options struct {
	Profiles *vehicle.Registry

	// State opens the checkpoint store; default opens Layout.StateDB.
	State func(context.Context) (*checkpoint.Store, error)

	// Builder connects the knowledge-base builder. Build, export and the
	// collection part of status need it.
	Builder func(context.Context) (Builder, error)

	Scrapers ScraperFactory
	Lineage  SourceCounter
	Events   Publisher
	Metrics  *metrics.Registry
	Logger   *slog.Logger
	Now      func() time.Time
}

// Pipeline runs stages for one vehicle.
type Pipeline struct {
	cfg      Config
	layout   Layout
	profiles *vehicle.Registry
	state    *lazy.Value[*checkpoint.Store]
	builder  *lazy.Value[Builder]
	scrapers ScraperFactory
	lineage  SourceCounter
	events   Publisher
	metrics  *metrics.Registry
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Pipeline rooted at layout.
func New(cfg Config, layout Layout, opts Options) *Pipeline {
	if cfg.Version == "" {
		cfg.Version = "1"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Events == nil {
		opts.Events = Discard{}
	}
	if opts.State == nil {
		opts.State = func(context.Context) (*checkpoint.Store, error) { return checkpoint.Open(layout.StateDB()) }
	}
	if opts.Builder == nil {
		opts.Builder = func(context.Context) (Builder, error) { return nil, errNoBuilder }
	}
	log := opts.Logger.With("vehicle", cfg.Vehicle)
	if opts.Scrapers == nil {
		opts.Scrapers = DefaultScrapers(cfg, layout, opts.Metrics, log)
	}
	return &Pipeline{
		cfg:      cfg,
		layout:   layout,
		profiles: opts.Profiles,
		state:    lazy.New(opts.State),
		builder:  lazy.New(opts.Builder),
		scrapers: opts.Scrapers,
		lineage:  opts.Lineage,
		events:   opts.Events,
		metrics:  opts.Metrics,
		log:      log,
		now:      opts.Now,
	}
}

// Close releases the services that were built.
func (p *Pipeline) Close() error {
	if st, ok := p.state.Peek(); ok {
		return st.Close()
	}
	return nil
}

// Report is the outcome of one stage. Counts are keyed by source (or
// processed file) and a failed source counts zero.
type Report struct {
	Stage    string
	Counts   map[string]int
	Order    []string // keys of Counts in run order
	Failed   []string
	Artifact string // export pack path
	Duration time.Duration
}

func newReport(stage string) *Report {
	return &Report{Stage: stage, Counts: map[string]int{}}
}

func (r *Report) set(key string, n int) {
	if _, ok := r.Counts[key]; !ok {
		r.Order = append(r.Order, key)
	}
	r.Counts[key] = n
}

func (r *Report) fail(key string) {
	r.set(key, 0)
	r.Failed = append(r.Failed, key)
}

// Total sums the counts.
func (r Report) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// finish stamps the duration, records metrics and publishes the event.
// Publishing failures are logged only.
func (p *Pipeline) finish(ctx context.Context, rep *Report, start time.Time) {
	rep.Duration = p.now().Sub(start)
	p.metrics.Stage(rep.Stage, rep.Duration)
	ev := StageEvent{
		Vehicle:  p.cfg.Vehicle,
		Stage:    rep.Stage,
		Counts:   rep.Counts,
		Failed:   rep.Failed,
		Artifact: rep.Artifact,
		Duration: rep.Duration,
		At:       p.now().UTC(),
	}
	if err := p.events.Publish(ctx, ev); err != nil {
		p.log.Warn("stage event not published", "stage", rep.Stage, "error", err)
	}
	p.log.Info("stage complete", "stage", rep.Stage, "total", rep.Total(), "failed", len(rep.Failed), "duration", rep.Duration)
}

// All runs scrape, process, build and export in order. A stage that cannot
// start is logged and the next one still runs; only cancellation stops
// the sequence.
func (p *Pipeline) All(ctx context.Context, source string) ([]Report, error) {
	stages := []struct {
		name string
		run  func(context.Context) (Report, error)
	}{
		{StageScrape, func(ctx context.Context) (Report, error) { return p.Scrape(ctx, source) }},
		{StageProcess, p.Process},
		{StageBuild, p.Build},
		{StageExport, p.Export},
	}
	var out []Report
	for _, s := range stages {
		rep, err := s.run(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		if err != nil {
			p.log.Error("stage failed", "stage", s.name, "error", err)
			rep.Stage = s.name
		}
		out = append(out, rep)
	}
	return out, nil
}
