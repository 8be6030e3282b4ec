package nhtsa

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/WessleyAI/axlelore-kb/engine/checkpoint"
	"github.com/WessleyAI/axlelore-kb/engine/scrape"
)

const stateKey = "nhtsa"

// FileName is the raw file for one year and kind.
func FileName(year int, kind Kind) string { return fmt.Sprintf("%d_%s.json", year, kind) }

// Scraper fetches every (year, kind) pair. One failed pair does not stop
// the others.
type Scraper struct {
	cfg   Config
	fetch scrape.Fetcher
	state scrape.Checkpointer
	log   *slog.Logger
}

// New creates an NHTSA Scraper.
func New(cfg Config, f scrape.Fetcher, state scrape.Checkpointer, log *slog.Logger) *Scraper {
	if log == nil {
		log = slog.Default()
	}
	return &Scraper{cfg: cfg, fetch: f, state: state, log: log.With("scraper", stateKey)}
}

func (s *Scraper) Name() string { return stateKey }

func (s *Scraper) endpoint(year int, kind Kind) string {
	q := url.Values{}
	q.Set("make", s.cfg.Make)
	q.Set("model", s.cfg.Model)
	q.Set("modelYear", fmt.Sprint(year))
	path := "/recalls/recallsByVehicle"
	if kind == KindComplaints {
		path = "/complaints/complaintsByVehicle"
	}
	// NHTSA expects %20, not '+', in the model name.
	return s.cfg.BaseURL + path + "?" + strings.ReplaceAll(q.Encode(), "+", "%20")
}

// Run fetches all configured years.
func (s *Scraper) Run(ctx context.Context) (rep scrape.Report, err error) {
	start := time.Now()
	rep.Scraper = s.Name()
	defer func() { rep.Duration = time.Since(start) }()

	if err := s.state.SetStatus(ctx, stateKey, checkpoint.StatusRunning); err != nil {
		return rep, err
	}
	for _, year := range s.cfg.Years {
		for _, kind := range []Kind{KindRecalls, KindComplaints} {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			if err := s.fetchOne(ctx, year, kind, &rep); err != nil {
				return rep, err
			}
		}
	}
	return rep, s.state.SetStatus(ctx, stateKey, checkpoint.StatusDone)
}

// fetchOne returns an error only for checkpoint or disk failures.
func (s *Scraper) fetchOne(ctx context.Context, year int, kind Kind, rep *scrape.Report) error {
	item := fmt.Sprintf("%d_%s", year, kind)
	path := filepath.Join(s.cfg.OutDir, FileName(year, kind))
	if s.cfg.Resume {
		done, err := s.state.IsItemDone(ctx, stateKey, item)
		if err != nil {
			return err
		}
		if _, statErr := os.Stat(path); done && statErr == nil {
			rep.Skipped++
			return nil
		}
	}

	var raw json.RawMessage
	if err := s.fetch.GetJSON(ctx, s.endpoint(year, kind), &raw); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("nhtsa fetch failed", "year", year, "kind", kind, "error", err)
		rep.Failed++
		return nil
	}
	rep.Fetched++

	var env Response[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err != nil {
		s.log.Warn("nhtsa response not an envelope", "year", year, "kind", kind, "error", err)
		rep.Failed++
		return nil
	}
	if err := scrape.WriteJSON(path, raw); err != nil {
		return fmt.Errorf("nhtsa: save %s: %w", path, err)
	}
	rep.Saved++
	s.log.Info("nhtsa results", "year", year, "kind", kind, "count", len(env.Results))
	return s.state.MarkItemDone(ctx, stateKey, item)
}
