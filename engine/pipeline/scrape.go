package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/engine/normalize"
	"github.com/WessleyAI/axlelore-kb/engine/scrape"
	"github.com/WessleyAI/axlelore-kb/engine/scrape/articles"
	"github.com/WessleyAI/axlelore-kb/engine/scrape/forum"
	"github.com/WessleyAI/axlelore-kb/engine/scrape/manual"
	"github.com/WessleyAI/axlelore-kb/engine/scrape/nhtsa"
	"github.com/WessleyAI/axlelore-kb/engine/scrape/parts"
	"github.com/WessleyAI/axlelore-kb/pkg/fetch"
	"github.com/WessleyAI/axlelore-kb/pkg/metrics"
)

// concurrentSources hit different hosts and run side by side. The forum
// is slow and resumable, so it runs alone afterwards.
var concurrentSources = []domain.Source{
	domain.SourceNHTSA,
	domain.SourceArticles,
	domain.SourceManual,
	domain.SourceParts,
}

// newFetchClient builds the fetch client of each production scraper.
var newFetchClient = fetch.New

// ScraperFactory builds the scraper of one network source.
type ScraperFactory func(src domain.Source, state scrape.Checkpointer) (scrape.Scraper, error)

// DefaultScrapers wires the production scrapers, each with its own fetch
// client spaced by the scraper's rate limit.
func DefaultScrapers(cfg Config, layout Layout, m *metrics.Registry, log *slog.Logger) ScraperFactory {
	resume := !cfg.NoResume
	client := func(src domain.Source, interval time.Duration, robots bool) *fetch.Client {
		return newFetchClient(fetch.Options{
			Name:          string(src),
			MinInterval:   interval,
			RespectRobots: robots,
			Logger:        log,
			Metrics:       m,
		})
	}
	return func(src domain.Source, state scrape.Checkpointer) (scrape.Scraper, error) {
		dir := layout.RawDir(src)
		switch src {
		case domain.SourceNHTSA:
			c := nhtsa.DefaultConfig(dir)
			c.Resume = resume
			return nhtsa.New(c, client(src, c.RateLimit, false), state, log), nil
		case domain.SourceArticles:
			c := articles.DefaultConfig(dir)
			return articles.New(c, client(src, c.RateLimit, true), state, log), nil
		case domain.SourceManual:
			c := manual.DefaultConfig(dir)
			return manual.New(c, client(src, c.RateLimit, false), state, log), nil
		case domain.SourceParts:
			c := parts.DefaultConfig(dir)
			c.Resume = resume
			return parts.New(c, client(src, c.RateLimit, true), state, log), nil
		case domain.SourceForum:
			c := forum.DefaultConfig(dir)
			c.Resume = resume
			c.MaxThreads = cfg.MaxThreads
			c.IndexOnly = cfg.IndexOnly
			return forum.New(c, client(src, c.RateLimit, true), state, log), nil
		}
		return nil, fmt.Errorf("pipeline: no scraper for source %q: %w", src, domain.ErrInvalidInput)
	}
}

// ParseSource validates a --source value.
func ParseSource(s string) (domain.Source, error) {
	src := domain.Source(s)
	if !slices.Contains(domain.Sources, src) {
		return "", domain.NewValidationError("source", s, domain.ErrInvalidInput)
	}
	return src, nil
}

// Scrape runs one source, or every source when source is empty: the
// profile seed first, then the independent sources concurrently, then the
// forum. A failing scraper counts zero and does not stop the others.
func (p *Pipeline) Scrape(ctx context.Context, source string) (Report, error) {
	start := p.now()
	rep := newReport(StageScrape)

	if source != "" {
		src, err := ParseSource(source)
		if err != nil {
			return *rep, err
		}
		p.record(rep, src, p.scrapeOne(ctx, src))
		p.finish(ctx, rep, start)
		return *rep, ctx.Err()
	}

	p.record(rep, domain.SourceYAML, p.scrapeOne(ctx, domain.SourceYAML))

	results := make([]scrapeResult, len(concurrentSources))
	// Failures travel in results so one source never cancels the others.
	var g errgroup.Group
	for i, src := range concurrentSources {
		g.Go(func() error {
			results[i] = p.scrapeOne(ctx, src)
			return nil
		})
	}
	_ = g.Wait()
	for i, src := range concurrentSources {
		p.record(rep, src, results[i])
	}

	if ctx.Err() == nil {
		p.record(rep, domain.SourceForum, p.scrapeOne(ctx, domain.SourceForum))
	}
	p.finish(ctx, rep, start)
	return *rep, ctx.Err()
}

type scrapeResult struct {
	saved int
	err   error
}

func (p *Pipeline) record(rep *Report, src domain.Source, r scrapeResult) {
	if r.err != nil {
		p.log.Error("scraper failed", "source", src, "error", r.err)
		rep.fail(string(src))
		return
	}
	rep.set(string(src), r.saved)
}

func (p *Pipeline) scrapeOne(ctx context.Context, src domain.Source) scrapeResult {
	if src == domain.SourceYAML {
		n, err := p.seed(ctx)
		return scrapeResult{n, err}
	}
	state, err := p.state.Get(ctx)
	if err != nil {
		return scrapeResult{err: fmt.Errorf("checkpoint store: %w", err)}
	}
	s, err := p.scrapers(src, state)
	if err != nil {
		return scrapeResult{err: err}
	}
	p.log.Info("scraper starting", "source", src)
	r, err := s.Run(ctx)
	if err != nil {
		return scrapeResult{err: err}
	}
	p.log.Info("scraper finished", "report", r.String())
	return scrapeResult{saved: r.Saved}
}

// seed writes the profile documents straight to the yaml JSONL file; the
// profile needs no network.
func (p *Pipeline) seed(ctx context.Context) (int, error) {
	if p.profiles == nil {
		return 0, fmt.Errorf("pipeline: no vehicle profiles configured")
	}
	s := normalize.Seed{Opts: normalize.Options{Vehicle: p.cfg.Vehicle, Log: p.log}, Profiles: p.profiles}
	docs, err := s.Process(ctx, "")
	if err != nil {
		return 0, err
	}
	if err := normalize.WriteJSONL(p.layout.JSONL(p.cfg.Vehicle, domain.SourceYAML), docs); err != nil {
		return 0, err
	}
	p.metrics.Documents(string(domain.SourceYAML), len(docs))
	return len(docs), nil
}
