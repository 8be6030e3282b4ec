package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/engine/normalize"
	"github.com/WessleyAI/axlelore-kb/engine/scrape/parts"
)

// processors lists the normalizers in run order. The yaml seed is absent:
// the scrape stage already wrote its JSONL.
func (p *Pipeline) processors() []normalize.Processor {
	opts := normalize.Options{Vehicle: p.cfg.Vehicle, Log: p.log}
	return []normalize.Processor{
		normalize.NHTSA{Opts: opts},
		normalize.Articles{Opts: opts},
		normalize.Manual{Opts: opts, OCR: p.cfg.OCR},
		normalize.Parts{Opts: opts, CatalogURL: parts.DefaultConfig("").CatalogURL},
		normalize.Forum{Opts: opts},
	}
}

// Process normalizes every source with raw data into its JSONL file. A
// source without raw data is skipped, and a processor error counts zero.
func (p *Pipeline) Process(ctx context.Context) (Report, error) {
	start := p.now()
	rep := newReport(StageProcess)

	yaml := p.layout.JSONL(p.cfg.Vehicle, domain.SourceYAML)
	n, err := normalize.CountLines(yaml)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		p.log.Warn("yaml seed unreadable", "file", yaml, "error", err)
	}
	rep.set(string(domain.SourceYAML), n)

	for _, proc := range p.processors() {
		if err := ctx.Err(); err != nil {
			return *rep, err
		}
		src := proc.Source()
		raw := p.layout.RawDir(src)
		if _, err := os.Stat(raw); err != nil {
			p.log.Warn("no raw data, skipping", "source", src, "dir", raw)
			rep.set(string(src), 0)
			continue
		}
		p.log.Info("processing", "source", src)
		docs, err := proc.Process(ctx, raw)
		if err == nil {
			err = normalize.WriteJSONL(p.layout.JSONL(p.cfg.Vehicle, src), docs)
		}
		if err != nil {
			p.log.Error("processor failed", "source", src, "error", err)
			rep.fail(string(src))
			continue
		}
		p.metrics.Documents(string(src), len(docs))
		rep.set(string(src), len(docs))
	}
	p.finish(ctx, rep, start)
	return *rep, ctx.Err()
}
