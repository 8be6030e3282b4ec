package normalize

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/engine/scrape/articles"
)

const (
	// ArticleQuality is the score of every article document.
	ArticleQuality = 0.7
	// MinArticleText is the shortest full text kept when an article has no
	// sections.
	MinArticleText = 100
)

// Articles emits one document per article section.
type Articles struct{ Opts Options }

func (Articles) Source() domain.Source { return domain.SourceArticles }

func (a Articles) Process(ctx context.Context, rawDir string) ([]domain.Document, error) {
	log := a.Opts.logger().With("source", domain.SourceArticles)
	files, err := filepath.Glob(filepath.Join(rawDir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var docs []domain.Document
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var art articles.Article
		if err := readJSON(path, &art); err != nil {
			log.Warn("skipping article file", "error", err)
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(path), ".json")
		for _, d := range ArticleDocuments(art, stem, a.Opts) {
			if keep(log, d) {
				docs = append(docs, d)
			}
		}
	}
	log.Info("articles normalized", "files", len(files), "documents", len(docs))
	return docs, nil
}

// ArticleDocuments splits art into section documents. Sections are
// classified by heading and fall back to the article's first category.
// An article without sections becomes one document when its text is long
// enough.
func ArticleDocuments(art articles.Article, stem string, opts Options) []domain.Document {
	title := art.Title
	if title == "" {
		title = stem
	}
	fallback := domain.CategoryGeneral
	if len(art.Categories) > 0 && art.Categories[0].Valid() {
		fallback = art.Categories[0]
	}

	var docs []domain.Document
	if len(art.Sections) > 0 {
		for i, s := range art.Sections {
			if len(s.Content) < articles.MinSectionLength {
				continue
			}
			sectionTitle := title
			if s.Heading != "" {
				sectionTitle = title + ": " + s.Heading
			}
			docs = append(docs, domain.Document{
				Source:       domain.SourceArticles,
				SourceID:     fmt.Sprintf("%s_s%d", stem, i),
				Title:        sectionTitle,
				Content:      sectionTitle + "\n\n" + s.Content,
				Category:     articleHeadingRules.Classify(fallback, s.Heading),
				URL:          art.URL,
				QualityScore: ArticleQuality,
				Metadata:     opts.meta("original_title", title, "section_heading", s.Heading),
			})
		}
		return docs
	}
	if len(art.FullText) >= MinArticleText {
		docs = append(docs, domain.Document{
			Source:       domain.SourceArticles,
			SourceID:     stem,
			Title:        title,
			Content:      title + "\n\n" + art.FullText,
			Category:     fallback,
			URL:          art.URL,
			QualityScore: ArticleQuality,
			Metadata:     opts.meta(),
		})
	}
	return docs
}
