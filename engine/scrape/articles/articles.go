// Package articles fetches a curated list of technical web articles and
// keeps their main content split into heading sections.
package articles

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
)

// Source is one curated article.
type Source struct {
	URL        string            `yaml:"url"`
	Categories []domain.Category `yaml:"categories"`
	TitleHint  string            `yaml:"title_hint"`
}

// DefaultSources are the curated 80-series articles.
func DefaultSources() []Source {
	return []Source{
		{
			URL:        "https://sleeoffroad.com/tech-zone/80-series-newbie-guide/",
			Categories: []domain.Category{domain.CategoryGeneral, domain.CategoryForumMods},
			TitleHint:  "80 Series Newbie Guide",
		},
		{
			URL:        "https://roughtrax4x4.com/blog/land-cruiser-fzj80-1992-1998-vehicle-specifications/",
			Categories: []domain.Category{domain.CategoryGeneral},
			TitleHint:  "FZJ80 Vehicle Specifications",
		},
		{
			URL:        "https://xatracing.com/jdm-land-cruiser-80-series-quick-info.html",
			Categories: []domain.Category{domain.CategoryGeneral, domain.CategoryDrivetrain},
			TitleHint:  "JDM Land Cruiser 80 Series Quick Info",
		},
		{
			URL:        "https://engine-specs.net/toyota/1fz-fe.html",
			Categories: []domain.Category{domain.CategoryEngine},
			TitleHint:  "Toyota 1FZ-FE Engine Specs",
		},
	}
}

// Section is the text under one h1-h3 heading.
type Section struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

// Article is the raw file written per URL.
type Article struct {
	URL        string            `json:"url"`
	Title      string            `json:"title"`
	Categories []domain.Category `json:"categories"`
	FullText   string            `json:"full_text"`
	Sections   []Section         `json:"sections"`
}

// Config controls an article run.
type Config struct {
	Sources   []Source
	OutDir    string // data/raw/web
	RateLimit time.Duration
}

// DefaultConfig uses the curated sources.
func DefaultConfig(outDir string) Config {
	return Config{Sources: DefaultSources(), OutDir: outDir, RateLimit: 3 * time.Second}
}

// MinSectionLength is the shortest section kept.
const MinSectionLength = 50

const noiseTags = "nav, header, footer, aside, script, style, noscript"

var (
	noiseClassRe   = regexp.MustCompile(`(?i)nav|menu|sidebar|footer|advert|cookie|popup`)
	contentClassRe = regexp.MustCompile(`(?i)content|entry|post|article`)
	blankLinesRe   = regexp.MustCompile(`\n{3,}`)
	spaceRunRe     = regexp.MustCompile(`[ \t]{2,}`)
)

func hasClass(re *regexp.Regexp) func(int, *goquery.Selection) bool {
	return func(_ int, s *goquery.Selection) bool {
		c, ok := s.Attr("class")
		return ok && re.MatchString(c)
	}
}

// stripNoise removes navigation and page furniture in place.
func stripNoise(doc *goquery.Document, byClass bool) {
	doc.Find(noiseTags).Remove()
	if byClass {
		doc.Find("[class]").FilterFunction(hasClass(noiseClassRe)).Remove()
	}
}

// mainContent picks main, article, a content-classed element, or body.
func mainContent(doc *goquery.Document) *goquery.Selection {
	for _, sel := range []*goquery.Selection{
		doc.Find("main").First(),
		doc.Find("article").First(),
		doc.Find("[class]").FilterFunction(hasClass(contentClassRe)).First(),
		doc.Find("body").First(),
	} {
		if sel.Length() > 0 {
			return sel
		}
	}
	return doc.Selection
}

// blockText joins the trimmed text of each text node on its own line.
func blockText(sel *goquery.Selection) string {
	var lines []string
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				if t := strings.TrimSpace(c.Text()); t != "" {
					lines = append(lines, t)
				}
				return
			}
			walk(c)
		})
	}
	walk(sel)
	text := strings.Join(lines, "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(spaceRunRe.ReplaceAllString(text, " "))
}

// extractMain returns the page title (first h1, else <title>) and the main
// text with page furniture removed.
func extractMain(doc *goquery.Document) (title, text string) {
	doc = goquery.CloneDocument(doc)
	stripNoise(doc, true)
	if h1 := doc.Find("h1").First(); h1.Length() > 0 {
		title = strings.TrimSpace(h1.Text())
	} else {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	return title, blockText(mainContent(doc))
}

// splitSections walks the main content in document order, starting a new
// section at every h1-h3 and keeping sections longer than MinSectionLength.
func splitSections(doc *goquery.Document) []Section {
	doc = goquery.CloneDocument(doc)
	stripNoise(doc, false)

	var sections []Section
	heading := ""
	var parts []string
	flush := func() {
		text := strings.TrimSpace(strings.Join(parts, "\n"))
		if len(text) > MinSectionLength {
			sections = append(sections, Section{Heading: heading, Content: text})
		}
		parts = nil
	}
	mainContent(doc).Find("*").Each(func(_ int, el *goquery.Selection) {
		switch goquery.NodeName(el) {
		case "h1", "h2", "h3":
			flush()
			heading = strings.TrimSpace(el.Text())
		case "p", "li", "td", "pre", "blockquote":
			if t := strings.TrimSpace(el.Text()); t != "" {
				parts = append(parts, t)
			}
		}
	})
	flush()
	return sections
}
