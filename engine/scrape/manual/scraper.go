package manual

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/WessleyAI/axlelore-kb/engine/checkpoint"
	"github.com/WessleyAI/axlelore-kb/engine/scrape"
)

const stateKey = "fsm"

// Config names the manual to download.
type Config struct {
	URL         string
	OutDir      string // data/raw/fsm
	FileName    string
	MaxFileSize int64
	RateLimit   time.Duration
}

// DefaultConfig points at the shared 1996 FZJ80 service manual.
func DefaultConfig(outDir string) Config {
	return Config{
		URL:         DriveURL("1j5JLgWUA0VZXCxdB7lPE25PnK6lN6mn_"),
		OutDir:      outDir,
		FileName:    "fzj80_fsm_1996.pdf",
		MaxFileSize: 1 << 30,
		RateLimit:   2 * time.Second,
	}
}

// Path is where the PDF lands.
func (c Config) Path() string { return filepath.Join(c.OutDir, c.FileName) }

// Scraper adapts the Downloader to the scraper contract.
type Scraper struct {
	cfg   Config
	dl    *Downloader
	state scrape.Checkpointer
	log   *slog.Logger
}

// New creates a manual Scraper.
func New(cfg Config, f scrape.Fetcher, state scrape.Checkpointer, log *slog.Logger) *Scraper {
	if log == nil {
		log = slog.Default()
	}
	return &Scraper{cfg: cfg, dl: NewDownloader(f, cfg.MaxFileSize), state: state, log: log.With("scraper", stateKey)}
}

func (s *Scraper) Name() string { return stateKey }

// Run downloads the manual unless it is already on disk. A failed download
// is reported, not returned.
func (s *Scraper) Run(ctx context.Context) (rep scrape.Report, err error) {
	start := time.Now()
	rep.Scraper = s.Name()
	defer func() { rep.Duration = time.Since(start) }()

	if err := s.state.SetStatus(ctx, stateKey, checkpoint.StatusRunning); err != nil {
		return rep, err
	}
	path := s.cfg.Path()
	fetched, err := s.dl.Download(ctx, s.cfg.URL, path)
	switch {
	case err != nil && ctx.Err() != nil:
		return rep, ctx.Err()
	case err != nil:
		s.log.Error("manual download failed", "url", s.cfg.URL, "error", err)
		rep.Failed++
		return rep, s.state.SetStatus(ctx, stateKey, checkpoint.StatusIdle)
	case !fetched:
		rep.Skipped++
	default:
		rep.Fetched++
		rep.Saved++
	}
	if info, err := os.Stat(path); err == nil {
		s.log.Info("manual ready", "path", path, "mb", float64(info.Size())/(1<<20))
	}
	if err := s.state.MarkItemDone(ctx, stateKey, s.cfg.FileName); err != nil {
		return rep, err
	}
	return rep, s.state.SetStatus(ctx, stateKey, checkpoint.StatusDone)
}
