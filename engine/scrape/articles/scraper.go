package articles

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/WessleyAI/axlelore-kb/engine/checkpoint"
	"github.com/WessleyAI/axlelore-kb/engine/scrape"
)

const stateKey = "web"

// Scraper fetches each configured article once per run.
type Scraper struct {
	cfg   Config
	fetch scrape.Fetcher
	state scrape.Checkpointer
	log   *slog.Logger
}

// New creates an article Scraper.
func New(cfg Config, f scrape.Fetcher, state scrape.Checkpointer, log *slog.Logger) *Scraper {
	if log == nil {
		log = slog.Default()
	}
	return &Scraper{cfg: cfg, fetch: f, state: state, log: log.With("scraper", stateKey)}
}

func (s *Scraper) Name() string { return stateKey }

// FileName is the raw file for an article URL.
func FileName(url string) string { return scrape.Slugify(url) + ".json" }

// Run fetches every source; a failed URL is logged and skipped.
func (s *Scraper) Run(ctx context.Context) (rep scrape.Report, err error) {
	start := time.Now()
	rep.Scraper = s.Name()
	defer func() { rep.Duration = time.Since(start) }()

	if err := s.state.SetStatus(ctx, stateKey, checkpoint.StatusRunning); err != nil {
		return rep, err
	}
	for _, src := range s.cfg.Sources {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		body, err := s.fetch.Get(ctx, src.URL).Unwrap()
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			s.log.Warn("article fetch failed", "url", src.URL, "error", err)
			rep.Failed++
			continue
		}
		rep.Fetched++

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			s.log.Warn("article parse failed", "url", src.URL, "error", err)
			rep.Failed++
			continue
		}
		art := Extract(doc, src)
		path := filepath.Join(s.cfg.OutDir, FileName(src.URL))
		if err := scrape.WriteJSON(path, art); err != nil {
			return rep, fmt.Errorf("articles: save %s: %w", path, err)
		}
		rep.Saved++
		s.log.Info("article saved", "url", src.URL, "chars", len(art.FullText), "sections", len(art.Sections))
		if err := s.state.MarkItemDone(ctx, stateKey, src.URL); err != nil {
			return rep, err
		}
	}
	return rep, s.state.SetStatus(ctx, stateKey, checkpoint.StatusDone)
}

// Extract builds the raw article record from a parsed page.
func Extract(doc *goquery.Document, src Source) Article {
	title, text := extractMain(doc)
	if title == "" {
		title = src.TitleHint
	}
	if title == "" {
		title = scrape.Slugify(src.URL)
	}
	return Article{
		URL:        src.URL,
		Title:      title,
		Categories: src.Categories,
		FullText:   text,
		Sections:   splitSections(doc),
	}
}
