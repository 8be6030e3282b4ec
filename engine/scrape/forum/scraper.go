package forum

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/WessleyAI/axlelore-kb/engine/checkpoint"
	"github.com/WessleyAI/axlelore-kb/engine/scrape"
	"github.com/WessleyAI/axlelore-kb/pkg/fn"
)

const (
	// IndexFile is the append-only listing index under OutDir.
	IndexFile = "thread_index.jsonl"
	// ThreadsDir holds one JSON file per fetched thread.
	ThreadsDir = "threads"

	contentKey = "ih8mud_content"
)

// IndexKey is the checkpoint name of a board's index pass.
func IndexKey(board string) string { return "ih8mud_index_" + board }

// Scraper runs the index and content passes.
type Scraper struct {
	cfg   Config
	fetch scrape.Fetcher
	state scrape.Checkpointer
	log   *slog.Logger
}

// New creates a forum Scraper.
func New(cfg Config, f scrape.Fetcher, state scrape.Checkpointer, log *slog.Logger) *Scraper {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxThreadPages <= 0 {
		cfg.MaxThreadPages = 10
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5000
	}
	return &Scraper{cfg: cfg, fetch: f, state: state, log: log.With("scraper", "ih8mud")}
}

func (s *Scraper) Name() string { return "ih8mud" }

// Run indexes every board, then fetches thread content unless IndexOnly.
func (s *Scraper) Run(ctx context.Context) (rep scrape.Report, err error) {
	start := time.Now()
	rep.Scraper = s.Name()
	defer func() { rep.Duration = time.Since(start) }()

	for _, b := range s.cfg.Boards {
		if err := s.indexBoard(ctx, b, &rep); err != nil {
			return rep, err
		}
	}
	if s.cfg.IndexOnly {
		s.log.Info("index-only mode, skipping content pass")
		return rep, nil
	}
	return rep, s.contentPass(ctx, &rep)
}

func (s *Scraper) indexBoard(ctx context.Context, b Board, rep *scrape.Report) error {
	key := IndexKey(b.Name)
	page := 1
	if s.cfg.Resume {
		p, err := s.state.ResumePage(ctx, key)
		if err != nil {
			return err
		}
		page = max(p, 1)
	}
	if err := s.state.SetStatus(ctx, key, checkpoint.StatusRunning); err != nil {
		return err
	}
	s.log.Info("indexing board", "board", b.Name, "from_page", page)

	indexPath := filepath.Join(s.cfg.OutDir, IndexFile)
	first := page
	for ; page <= s.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		url := fmt.Sprintf("%s/%spage-%d", s.cfg.BaseURL, b.Path, page)
		html, err := s.fetch.Get(ctx, url).Unwrap()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("listing fetch failed, stopping board", "board", b.Name, "page", page, "error", err)
			rep.Failed++
			break
		}
		rep.Fetched++

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			s.log.Warn("listing parse failed", "board", b.Name, "page", page, "error", err)
			rep.Failed++
			break
		}
		entries := parseListing(doc, s.cfg.BaseURL, b.Name)
		if len(entries) == 0 {
			s.log.Info("no more threads", "board", b.Name, "page", page)
			break
		}
		if err := scrape.AppendJSONL(indexPath, entries); err != nil {
			return fmt.Errorf("forum: append index: %w", err)
		}
		if err := s.state.MarkPageDone(ctx, key, page); err != nil {
			return err
		}
		if page%50 == 0 {
			s.log.Info("indexed page", "board", b.Name, "page", page)
		}
	}
	s.log.Info("finished board", "board", b.Name, "pages", fmt.Sprintf("%d-%d", first, page-1))
	return s.state.SetStatus(ctx, key, checkpoint.StatusDone)
}

// LoadIndex reads the thread index, skipping malformed lines.
func LoadIndex(path string) ([]IndexEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []IndexEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e IndexEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// rankIndex drops duplicate and id-less entries, then orders by engagement.
func rankIndex(entries []IndexEntry) []IndexEntry {
	entries = fn.Filter(entries, func(e IndexEntry) bool { return e.ThreadID != "" })
	entries = fn.UniqueBy(entries, func(e IndexEntry) string { return e.ThreadID })
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Engagement() > entries[j].Engagement() })
	return entries
}

func (s *Scraper) contentPass(ctx context.Context, rep *scrape.Report) error {
	entries, err := LoadIndex(filepath.Join(s.cfg.OutDir, IndexFile))
	if errors.Is(err, os.ErrNotExist) {
		s.log.Warn("no thread index, run the index pass first")
		return nil
	}
	if err != nil {
		return fmt.Errorf("forum: load index: %w", err)
	}
	entries = rankIndex(entries)
	s.log.Info("content pass", "threads", len(entries), "max_threads", s.cfg.MaxThreads)

	if err := s.state.SetStatus(ctx, contentKey, checkpoint.StatusRunning); err != nil {
		return err
	}
	scraped := 0
	for _, e := range entries {
		if s.cfg.MaxThreads > 0 && scraped >= s.cfg.MaxThreads {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := s.state.IsItemDone(ctx, contentKey, e.ThreadID)
		if err != nil {
			return err
		}
		if done {
			rep.Skipped++
			continue
		}

		thread, err := s.fetchThread(ctx, e)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("thread skipped", "thread", e.ThreadID, "error", err)
			rep.Failed++
			continue
		}
		path := filepath.Join(s.cfg.OutDir, ThreadsDir, e.ThreadID+".json")
		if err := scrape.WriteJSON(path, thread); err != nil {
			return fmt.Errorf("forum: save thread %s: %w", e.ThreadID, err)
		}
		if err := s.state.MarkItemDone(ctx, contentKey, e.ThreadID); err != nil {
			return err
		}
		rep.Saved++
		scraped++
		if scraped%50 == 0 {
			s.log.Info("threads scraped", "count", scraped)
		}
	}
	s.log.Info("content pass complete", "scraped", scraped)
	return s.state.SetStatus(ctx, contentKey, checkpoint.StatusDone)
}

var errNoPosts = errors.New("no substantive posts")

// fetchThread walks a thread's pages until there is no next page or the
// page cap is reached.
func (s *Scraper) fetchThread(ctx context.Context, e IndexEntry) (*Thread, error) {
	base := e.URL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	t := &Thread{
		ThreadID:     e.ThreadID,
		Title:        "Unknown",
		URL:          e.URL,
		ForumSection: e.Forum,
		Views:        e.Views,
		Replies:      &e.Replies,
	}
	for n := 1; n <= s.cfg.MaxThreadPages; n++ {
		url := e.URL
		if n > 1 {
			url = fmt.Sprintf("%spage-%d", base, n)
		}
		html, err := s.fetch.Get(ctx, url).Unwrap()
		if err != nil {
			if n == 1 {
				return nil, err
			}
			s.log.Warn("thread page failed", "thread", e.ThreadID, "page", n, "error", err)
			break
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return nil, err
		}
		page := parseThreadPage(doc, s.cfg.MinPostLength)
		if n == 1 {
			if page.Title != "" {
				t.Title = page.Title
			}
			if t.ThreadID == "" {
				t.ThreadID = threadIDFromURL(e.URL)
			}
		}
		t.Posts = append(t.Posts, page.Posts...)
		if !page.HasNext {
			break
		}
	}
	if len(t.Posts) == 0 {
		return nil, errNoPosts
	}
	return t, nil
}
