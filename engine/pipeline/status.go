package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/WessleyAI/axlelore-kb/engine/checkpoint"
	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/engine/kb"
	"github.com/WessleyAI/axlelore-kb/engine/normalize"
)

// RawStatus counts the scraped files of one source.
type RawStatus struct {
	Name    string
	Files   int
	Scraped bool
}

// FileStatus describes one processed JSONL file.
type FileStatus struct {
	Name  string
	Docs  int
	Bytes int64
}

// PackStatus describes an exported pack.
type PackStatus struct {
	Path  string
	Bytes int64
}

// Status is a read-only snapshot of the pipeline. Parts that could not be
// read carry their error instead of failing the whole report.
type Status struct {
	Vehicle       string
	Raw           []RawStatus
	Scrape        []checkpoint.Progress
	ScrapeErr     error
	Processed     []FileStatus
	Collections   *kb.Stats
	CollectionErr error
	Lineage       map[string]int
	LineageErr    error
	Packs         []PackStatus
}

// rawOrder is the display order of raw directories.
var rawOrder = []domain.Source{
	domain.SourceNHTSA,
	domain.SourceArticles,
	domain.SourceParts,
	domain.SourceManual,
	domain.SourceForum,
}

// Status gathers the snapshot without running any stage. The checkpoint
// database is only opened when it already exists.
func (p *Pipeline) Status(ctx context.Context) Status {
	st := Status{Vehicle: p.cfg.Vehicle}

	for _, src := range rawOrder {
		dir := p.layout.RawDir(src)
		rs := RawStatus{Name: rawDirs[src]}
		if _, err := os.Stat(dir); err == nil {
			rs.Scraped = true
			rs.Files = countFiles(dir)
		}
		st.Raw = append(st.Raw, rs)
	}

	if _, err := os.Stat(p.layout.StateDB()); err == nil {
		if state, err := p.state.Get(ctx); err != nil {
			st.ScrapeErr = err
		} else {
			st.Scrape, st.ScrapeErr = state.Stats(ctx)
		}
	}

	paths, _ := normalize.Glob(p.layout.DataDir, p.cfg.Vehicle)
	sort.Strings(paths)
	for _, path := range paths {
		f := FileStatus{Name: filepath.Base(path)}
		f.Docs, _ = normalize.CountLines(path)
		if info, err := os.Stat(path); err == nil {
			f.Bytes = info.Size()
		}
		st.Processed = append(st.Processed, f)
	}

	if b, err := p.builder.Get(ctx); err != nil {
		st.CollectionErr = err
	} else if stats, err := b.Stats(ctx, p.cfg.Vehicle); err != nil {
		st.CollectionErr = err
	} else {
		st.Collections = &stats
	}

	if p.lineage != nil {
		st.Lineage, st.LineageErr = p.lineage.SourceCounts(ctx, p.cfg.Vehicle)
	}

	packs, _ := filepath.Glob(filepath.Join(p.layout.PackDir(), p.cfg.Vehicle+"_*.tar.gz"))
	sort.Strings(packs)
	for _, path := range packs {
		if info, err := os.Stat(path); err == nil {
			st.Packs = append(st.Packs, PackStatus{Path: path, Bytes: info.Size()})
		}
	}
	return st
}

func countFiles(dir string) int {
	n := 0
	filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			n++
		}
		return nil
	})
	return n
}

// Print writes the snapshot in the layout of the status command.
func (s Status) Print(w io.Writer) {
	fmt.Fprintf(w, "=== AxleLore KB Pipeline Status (%s) ===\n\n", s.Vehicle)

	fmt.Fprintln(w, "Raw data (raw/):")
	for _, r := range s.Raw {
		if r.Scraped {
			fmt.Fprintf(w, "  %-20s  %d files\n", r.Name, r.Files)
		} else {
			fmt.Fprintf(w, "  %-20s  (not scraped)\n", r.Name)
		}
	}

	switch {
	case s.ScrapeErr != nil:
		fmt.Fprintf(w, "\nScrape state: (error: %v)\n", s.ScrapeErr)
	case len(s.Scrape) > 0:
		fmt.Fprintln(w, "\nScrape state:")
		for _, pr := range s.Scrape {
			fmt.Fprintf(w, "  %-30s  page=%5d  items=%6d  status=%s\n", pr.Scraper, pr.LastPage, pr.CompletedItems, pr.Status)
		}
	}

	fmt.Fprintln(w, "\nProcessed JSONL:")
	for _, f := range s.Processed {
		fmt.Fprintf(w, "  %-30s  %6d docs  (%.1f KB)\n", f.Name, f.Docs, float64(f.Bytes)/1024)
	}

	fmt.Fprintln(w, "\nCollections:")
	switch {
	case s.CollectionErr != nil:
		fmt.Fprintf(w, "  (error reading vector store: %v)\n", s.CollectionErr)
	case s.Collections == nil || len(s.Collections.Collections) == 0:
		fmt.Fprintln(w, "  (not built yet)")
	default:
		for _, c := range s.Collections.Categories() {
			n := s.Collections.Collections[c]
			marker := "  "
			if n == 0 {
				marker = "!!"
			}
			fmt.Fprintf(w, "  %s %-25s  %6d chunks\n", marker, c, n)
		}
		fmt.Fprintf(w, "\n  Total: %d chunks\n", s.Collections.TotalChunks)
	}

	switch {
	case s.LineageErr != nil:
		fmt.Fprintf(w, "\nLineage: (error: %v)\n", s.LineageErr)
	case s.Lineage != nil:
		fmt.Fprintln(w, "\nLineage documents:")
		keys := make([]string, 0, len(s.Lineage))
		for k := range s.Lineage {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-20s  %6d\n", k, s.Lineage[k])
		}
	}

	if len(s.Packs) == 0 {
		fmt.Fprintln(w, "\nKnowledge pack: (not exported yet)")
		return
	}
	for _, pk := range s.Packs {
		fmt.Fprintf(w, "\nKnowledge pack: %s (%.1f MB)\n", pk.Path, float64(pk.Bytes)/(1024*1024))
	}
}

// PrintReport writes a stage summary.
func PrintReport(w io.Writer, r Report) {
	unit := "documents"
	switch r.Stage {
	case StageScrape:
		unit = "saved"
	case StageBuild, StageExport:
		unit = "chunks"
	}
	fmt.Fprintf(w, "\n%s results:\n", r.Stage)
	for _, k := range r.Order {
		mark := ""
		for _, f := range r.Failed {
			if f == k {
				mark = "  (failed)"
			}
		}
		fmt.Fprintf(w, "  %s: %d %s%s\n", k, r.Counts[k], unit, mark)
	}
	if r.Artifact != "" {
		fmt.Fprintf(w, "  exported: %s\n", r.Artifact)
	}
}

// Reset clears the checkpoints of the named scraper tasks.
func (p *Pipeline) Reset(ctx context.Context, tasks ...string) error {
	state, err := p.state.Get(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, t := range tasks {
		if err := state.Reset(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
