package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/WessleyAI/axlelore-kb/engine/kb"
	"github.com/WessleyAI/axlelore-kb/engine/normalize"
)

// sourceKey names a processed file by its source: fzj80_nhtsa.jsonl is
// "nhtsa".
func sourceKey(vehicle, path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.TrimPrefix(stem, vehicle+"_")
}

// Build indexes every {vehicle}_*.jsonl file. Counts are chunks per file;
// a file that fails counts what it managed to upsert and is listed as
// failed.
func (p *Pipeline) Build(ctx context.Context) (Report, error) {
	start := p.now()
	rep := newReport(StageBuild)

	paths, err := normalize.Glob(p.layout.DataDir, p.cfg.Vehicle)
	if err != nil {
		return *rep, err
	}
	if len(paths) == 0 {
		p.log.Warn("no processed files to build", "dir", p.layout.DataDir)
		p.finish(ctx, rep, start)
		return *rep, nil
	}
	b, err := p.builder.Get(ctx)
	if err != nil {
		return *rep, fmt.Errorf("knowledge base: %w", err)
	}
	br, err := b.BuildFromJSONL(ctx, p.cfg.Vehicle, paths)
	for _, fr := range br.Files {
		key := sourceKey(p.cfg.Vehicle, fr.Path)
		rep.set(key, fr.Chunks)
		if fr.Err != nil {
			rep.Failed = append(rep.Failed, key)
		}
	}
	if err != nil {
		return *rep, err
	}
	p.finish(ctx, rep, start)
	return *rep, nil
}

// Export writes the knowledge pack into the pack directory. An empty
// knowledge base is skipped with a warning.
func (p *Pipeline) Export(ctx context.Context) (Report, error) {
	start := p.now()
	rep := newReport(StageExport)

	b, err := p.builder.Get(ctx)
	if err != nil {
		return *rep, fmt.Errorf("knowledge base: %w", err)
	}
	stats, err := b.Stats(ctx, p.cfg.Vehicle)
	if err != nil {
		return *rep, err
	}
	if stats.TotalChunks == 0 {
		p.log.Warn("knowledge base is empty, nothing to export")
		p.finish(ctx, rep, start)
		return *rep, nil
	}
	if err := os.MkdirAll(p.layout.PackDir(), 0o755); err != nil {
		return *rep, err
	}
	out := filepath.Join(p.layout.PackDir(), kb.PackName(p.cfg.Vehicle, p.cfg.Version))
	m, err := b.Export(ctx, p.cfg.Vehicle, out, p.cfg.Version)
	if err != nil {
		return *rep, err
	}
	for _, c := range stats.Categories() {
		rep.set(c, stats.Collections[c])
	}
	rep.Artifact = out
	p.log.Info("knowledge pack exported", "path", out, "chunks", m.TotalChunks)
	p.finish(ctx, rep, start)
	return *rep, nil
}
