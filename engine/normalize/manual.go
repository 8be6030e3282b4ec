package normalize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/pkg/fn"
)

const (
	// OCRThreshold is the native text length below which OCR is tried.
	OCRThreshold = 50
	// MaxSectionLength splits longer manual sections at paragraphs.
	MaxSectionLength = 3000
	// ManualQuality is the score of service manual documents.
	ManualQuality = 0.9
)

var errTooLittleText = errors.New("too little native text")

// Page is the text of one manual page.
type Page struct {
	Num     int
	Text    string
	Heading string
	OCR     bool
}

// Section is a run of pages under one heading.
type Section struct {
	Heading  string
	Category domain.Category
	Pages    []Page
}

// Text joins the non-blank page texts.
func (s Section) Text() string {
	var parts []string
	for _, p := range s.Pages {
		if strings.TrimSpace(p.Text) != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

var (
	capsHeadingRe     = regexp.MustCompile(`^[A-Z][A-Z\s\-/]{5,}$`)
	numberedHeadingRe = regexp.MustCompile(`^\d{1,2}[.\-]\d{1,2}\s+\w`)
)

// Heading returns the first heading-like line among the first five: an all
// caps line or a numbered section title.
func Heading(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > 5 {
		lines = lines[:5]
	}
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if capsHeadingRe.MatchString(l) || numberedHeadingRe.MatchString(l) {
			return l
		}
	}
	return ""
}

// ClassifyHeading maps a manual heading to a category.
func ClassifyHeading(heading string) domain.Category {
	return manualHeadingRules.Classify(domain.CategoryGeneral, heading)
}

// pageSteps is the ordered extraction chain for one page: native text when
// long enough, then OCR when it beats the native text, then whatever native
// text there is.
func pageSteps(pdf pdfText, ocr OCR, path string, n int) []fn.Step[Page] {
	native := strings.TrimSpace(pdf.page(n))
	steps := []fn.Step[Page]{{
		Name: "native",
		Run: func(context.Context) fn.Result[Page] {
			if len(native) < OCRThreshold {
				return fn.Err[Page](fmt.Errorf("%w: %d chars", errTooLittleText, len(native)))
			}
			return fn.Ok(Page{Num: n, Text: native})
		},
	}}
	if ocr != nil {
		steps = append(steps, fn.Step[Page]{
			Name: "ocr",
			Run: func(ctx context.Context) fn.Result[Page] {
				text, err := ocr.Page(ctx, path, n)
				if err != nil {
					return fn.Err[Page](err)
				}
				if len(text) <= len(native) {
					return fn.Errf[Page]("ocr text not longer than native (%d <= %d chars)", len(text), len(native))
				}
				return fn.Ok(Page{Num: n, Text: text, OCR: true})
			},
		})
	}
	return append(steps, fn.Step[Page]{
		Name: "native-short",
		Run:  func(context.Context) fn.Result[Page] { return fn.Ok(Page{Num: n, Text: native}) },
	})
}

// ExtractPages returns the non-empty pages of the PDF at path, falling
// back to OCR page by page.
func ExtractPages(ctx context.Context, path string, ocr OCR, opts Options) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	log := opts.logger()
	pdf := parsePDF(data)
	var pages []Page
	ocrCount := 0
	for n := 1; n <= pdf.pages; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, trace := fn.FirstOk(ctx, pageSteps(pdf, ocr, path, n)...)
		p, err := res.Unwrap()
		if err != nil {
			log.Debug("page extraction failed", "page", n, "trace", trace.String())
			continue
		}
		if len(trace.Failures()) > 0 {
			log.Debug("page extraction fallback", "page", n, "trace", trace.String())
		}
		if p.Text == "" {
			continue
		}
		p.Heading = Heading(p.Text)
		if p.OCR {
			ocrCount++
		}
		pages = append(pages, p)
	}
	log.Info("manual pages extracted", "file", filepath.Base(path), "pages", len(pages), "ocr", ocrCount)
	return pages, nil
}

// GroupSections starts a new section whenever a page carries a heading
// different from the current one.
func GroupSections(pages []Page) []Section {
	if len(pages) == 0 {
		return nil
	}
	heading := pages[0].Heading
	if heading == "" {
		heading = "General"
	}
	cur := Section{Heading: heading, Category: ClassifyHeading(heading)}
	var out []Section
	for _, p := range pages {
		if p.Heading != "" && p.Heading != cur.Heading {
			if len(cur.Pages) > 0 {
				out = append(out, cur)
			}
			cur = Section{Heading: p.Heading, Category: ClassifyHeading(p.Heading)}
		}
		cur.Pages = append(cur.Pages, p)
	}
	if len(cur.Pages) > 0 {
		out = append(out, cur)
	}
	return out
}

var paragraphRe = regexp.MustCompile(`\n{2,}`)

// SplitParagraphs packs paragraphs into parts of at most maxLen characters.
// A single oversized paragraph becomes its own part.
func SplitParagraphs(text string, maxLen int) []string {
	var parts []string
	cur := ""
	for _, para := range paragraphRe.Split(text, -1) {
		if cur != "" && len(cur)+len(para)+2 > maxLen {
			parts = append(parts, strings.TrimSpace(cur))
			cur = para
			continue
		}
		if cur == "" {
			cur = para
		} else {
			cur += "\n\n" + para
		}
	}
	if strings.TrimSpace(cur) != "" {
		parts = append(parts, strings.TrimSpace(cur))
	}
	if len(parts) == 0 && len(text) > 0 {
		return []string{text[:min(len(text), maxLen)]}
	}
	return parts
}

// SectionDocuments converts sections to documents; short sections are
// dropped and long ones split.
func SectionDocuments(sections []Section, pdfName string, opts Options) []domain.Document {
	var docs []domain.Document
	for _, s := range sections {
		text := s.Text()
		if len(strings.TrimSpace(text)) < domain.MinDocumentLength {
			continue
		}
		pages := fmt.Sprintf("%d-%d", s.Pages[0].Num, s.Pages[len(s.Pages)-1].Num)
		base := domain.Document{
			Source:       domain.SourceManual,
			SourceID:     fmt.Sprintf("%s_p%s", pdfName, pages),
			Title:        s.Heading,
			Content:      text,
			Category:     s.Category,
			QualityScore: ManualQuality,
			Metadata:     opts.meta("pdf", pdfName, "pages", pages),
		}
		if len(text) <= MaxSectionLength {
			docs = append(docs, base)
			continue
		}
		for i, part := range SplitParagraphs(text, MaxSectionLength) {
			d := base
			d.SourceID = fmt.Sprintf("%s_pt%d", base.SourceID, i)
			d.Content = part
			d.Metadata = opts.meta("pdf", pdfName, "pages", pages, "part", i+1)
			docs = append(docs, d)
		}
	}
	return docs
}

// Manual normalizes every *.pdf under the manual raw directory.
type Manual struct {
	Opts Options
	OCR  OCR // nil disables OCR
}

func (Manual) Source() domain.Source { return domain.SourceManual }

func (m Manual) Process(ctx context.Context, rawDir string) ([]domain.Document, error) {
	log := m.Opts.logger().With("source", domain.SourceManual)
	files, err := filepath.Glob(filepath.Join(rawDir, "*.pdf"))
	if err != nil {
		return nil, err
	}
	var docs []domain.Document
	for _, path := range files {
		pages, err := ExtractPages(ctx, path, m.OCR, m.Opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("skipping manual", "file", filepath.Base(path), "error", err)
			continue
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		for _, d := range SectionDocuments(GroupSections(pages), name, m.Opts) {
			if keep(log, d) {
				docs = append(docs, d)
			}
		}
	}
	return docs, nil
}
