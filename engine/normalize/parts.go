package normalize

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/engine/scrape/parts"
)

// PartsQuality is the score of a catalog group document.
const PartsQuality = 0.8

// Parts groups catalog pages into one document per vehicle system.
type Parts struct {
	Opts       Options
	CatalogURL string
}

func (Parts) Source() domain.Source { return domain.SourceParts }

// Process reads every category page under rawDir. A part number seen on an
// earlier page is dropped from later ones.
func (p Parts) Process(ctx context.Context, rawDir string) ([]domain.Document, error) {
	log := p.Opts.logger().With("source", domain.SourceParts)
	files, err := filepath.Glob(filepath.Join(rawDir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	bySystem := map[string][]parts.Part{}
	seen := map[string]bool{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var page parts.CategoryPage
		if err := readJSON(path, &page); err != nil {
			log.Warn("skipping parts file", "error", err)
			continue
		}
		for _, part := range page.Parts {
			pn := strings.TrimSpace(part.PartNumber)
			if pn != "" {
				if seen[pn] {
					continue
				}
				seen[pn] = true
			}
			sys := part.System
			if sys == "" {
				sys = "general"
			}
			bySystem[sys] = append(bySystem[sys], part)
		}
	}

	systems := make([]string, 0, len(bySystem))
	for s := range bySystem {
		systems = append(systems, s)
	}
	sort.Strings(systems)

	catalog := p.CatalogURL
	if catalog == "" {
		catalog = parts.DefaultConfig("").CatalogURL
	}
	var docs []domain.Document
	for _, sys := range systems {
		d := p.systemDocument(sys, bySystem[sys], catalog)
		if keep(log, d) {
			docs = append(docs, d)
		}
	}
	log.Info("parts normalized", "systems", len(systems), "unique_parts", len(seen), "documents", len(docs))
	return docs, nil
}

func (p Parts) systemDocument(system string, list []parts.Part, catalog string) domain.Document {
	name := titleCase(strings.ReplaceAll(system, "_", " "))
	var b strings.Builder
	fmt.Fprintf(&b, "SOR Parts Catalog: %s\n%d parts\n", name, len(list))
	for _, part := range list {
		pn := part.PartNumber
		if pn == "" {
			pn = "N/A"
		}
		fmt.Fprintf(&b, "\n- %s: %s", pn, part.Description)
		if part.Price != "" {
			fmt.Fprintf(&b, "  (%s)", part.Price)
		}
		if part.Category != "" {
			fmt.Fprintf(&b, "  [%s]", part.Category)
		}
	}
	return domain.Document{
		Source:       domain.SourceParts,
		SourceID:     "parts_" + system,
		Title:        "SOR Parts: " + name,
		Content:      b.String(),
		Category:     domain.CategoryParts,
		URL:          catalog,
		QualityScore: PartsQuality,
		Metadata:     p.Opts.meta("system", system, "part_count", len(list)),
	}
}
