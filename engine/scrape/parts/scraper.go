package parts

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

const stateKey = "sor"

// Scraper walks the catalog root and its category pages.
type Scraper struct {
	cfg   Config
	fetch scrape.Fetcher
	state scrape.Checkpointer
	log   *slog.Logger
}

// New creates a parts catalog Scraper.
func New(cfg Config, f scrape.Fetcher, state scrape.Checkpointer, log *slog.Logger) *Scraper {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	return &Scraper{cfg: cfg, fetch: f, state: state, log: log.With("scraper", stateKey)}
}

func (s *Scraper) Name() string { return stateKey }

func (s *Scraper) document(ctx context.Context, url string) (*goquery.Document, error) {
	body, err := s.fetch.Get(ctx, url).Unwrap()
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(body))
}

// Run fetches the catalog root, then up to MaxPages category pages.
func (s *Scraper) Run(ctx context.Context) (rep scrape.Report, err error) {
	start := time.Now()
	rep.Scraper = s.Name()
	defer func() { rep.Duration = time.Since(start) }()

	if err := s.state.SetStatus(ctx, stateKey, checkpoint.StatusRunning); err != nil {
		return rep, err
	}
	root, err := s.document(ctx, s.cfg.CatalogURL)
	if err != nil {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		// No root means nothing to do; the run is not an error.
		s.log.Error("catalog root fetch failed", "url", s.cfg.CatalogURL, "error", err)
		rep.Failed++
		return rep, s.state.SetStatus(ctx, stateKey, checkpoint.StatusIdle)
	}
	rep.Fetched++
	links := discoverCategories(root, s.cfg.BaseURL, s.cfg.CatalogURL)
	s.log.Info("catalog categories", "count", len(links))

	pages := 0
	for _, l := range links {
		if pages >= s.cfg.MaxPages {
			break
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if s.cfg.Resume {
			done, err := s.state.IsItemDone(ctx, stateKey, l.url)
			if err != nil {
				return rep, err
			}
			if done {
				rep.Skipped++
				continue
			}
		}
		doc, err := s.document(ctx, l.url)
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			s.log.Warn("category fetch failed", "category", l.name, "error", err)
			rep.Failed++
			continue
		}
		rep.Fetched++
		pages++

		found := extractParts(doc, l.name)
		if len(found) > 0 {
			path := filepath.Join(s.cfg.OutDir, FileName(l.name))
			if err := scrape.WriteJSON(path, CategoryPage{Category: l.name, URL: l.url, Parts: found}); err != nil {
				return rep, fmt.Errorf("parts: save %s: %w", path, err)
			}
			rep.Saved++
			s.log.Info("category parts", "category", l.name, "parts", len(found))
		}
		if err := s.state.MarkItemDone(ctx, stateKey, l.url); err != nil {
			return rep, err
		}
	}
	return rep, s.state.SetStatus(ctx, stateKey, checkpoint.StatusDone)
}
