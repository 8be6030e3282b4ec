// Package scrape defines what every source scraper shares: the Scraper
// contract, its collaborators and the helpers for writing raw records.
package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/WessleyAI/axlelore-kb/pkg/fn"
)

// Report summarizes one scraper run.
type Report struct {
	Scraper  string
	Fetched  int // successful network fetches
	Saved    int // raw records written
	Skipped  int // already done or filtered
	Failed   int // fetches or parses that were logged and skipped
	Duration time.Duration
}

func (r Report) String() string {
	return fmt.Sprintf("%s: fetched=%d saved=%d skipped=%d failed=%d in %s",
		r.Scraper, r.Fetched, r.Saved, r.Skipped, r.Failed, r.Duration.Round(time.Millisecond))
}

// Scraper produces raw records for one external source.
type Scraper interface {
	Name() string
	Run(ctx context.Context) (Report, error)
}

// Fetcher is the subset of *fetch.Client scrapers use.
type Fetcher interface {
	Get(ctx context.Context, url string) fn.Result[string]
	GetJSON(ctx context.Context, url string, v any) error
	Open(ctx context.Context, url string, header http.Header) fn.Result[*http.Response]
}

// Checkpointer is the subset of *checkpoint.Store scrapers use.
type Checkpointer interface {
	MarkPageDone(ctx context.Context, scraper string, page int) error
	ResumePage(ctx context.Context, scraper string) (int, error)
	MarkItemDone(ctx context.Context, scraper, itemID string) error
	IsItemDone(ctx context.Context, scraper, itemID string) (bool, error)
	SetStatus(ctx context.Context, scraper, status string) error
}

// WriteJSON writes v as indented JSON, replacing path atomically.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// AppendJSONL appends one JSON line per record to path.
func AppendJSONL[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

var (
	schemeRe  = regexp.MustCompile(`^https?://`)
	nonWordRe = regexp.MustCompile(`[^\w\-]`)
)

// Slugify turns a URL into a file-name-safe stem of at most 80 characters.
func Slugify(rawURL string) string {
	s := schemeRe.ReplaceAllString(rawURL, "")
	s = nonWordRe.ReplaceAllString(s, "_")
	if len(s) > 80 {
		s = s[:80]
	}
	return strings.Trim(s, "_")
}

// CollapseSpace replaces whitespace runs with one space and trims.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
