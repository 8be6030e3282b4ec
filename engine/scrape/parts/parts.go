// Package parts scrapes a vendor parts catalog: category pages are
// discovered from the catalog root and every part row is saved with a
// guessed vehicle system.
package parts

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/WessleyAI/axlelore-kb/engine/scrape"
)

// Part is one catalog line.
type Part struct {
	PartNumber  string `json:"part_number"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Category    string `json:"category"`
	System      string `json:"system"`
}

// CategoryPage is the raw file written per catalog category.
type CategoryPage struct {
	Category string `json:"category"`
	URL      string `json:"url"`
	Parts    []Part `json:"parts"`
}

// Config controls a catalog run.
type Config struct {
	BaseURL    string // scheme and host
	CatalogURL string // catalog root, under BaseURL
	OutDir     string // data/raw/sor
	MaxPages   int
	Resume     bool
	RateLimit  time.Duration
}

// DefaultConfig targets the 80-series catalog.
func DefaultConfig(outDir string) Config {
	return Config{
		BaseURL:    "https://www.sor.com",
		CatalogURL: "https://www.sor.com/80serieslandcruiser/",
		OutDir:     outDir,
		MaxPages:   50,
		Resume:     true,
		RateLimit:  3 * time.Second,
	}
}

// systemKeywords is checked in order; the first substring match wins.
var systemKeywords = []struct{ keyword, system string }{
	{"axle", "front_axle"},
	{"front axle", "front_axle"},
	{"rear axle", "rear_axle"},
	{"birfield", "front_axle"},
	{"knuckle", "front_axle"},
	{"hub", "front_axle"},
	{"steering", "steering"},
	{"brake", "brakes"},
	{"suspension", "suspension"},
	{"spring", "suspension"},
	{"shock", "suspension"},
	{"engine", "engine"},
	{"cooling", "engine"},
	{"exhaust", "engine"},
	{"transmission", "transmission"},
	{"transfer", "transfer_case"},
	{"body", "body"},
	{"interior", "interior"},
	{"electrical", "electrical"},
	{"bumper", "bumper_armor"},
	{"armor", "bumper_armor"},
	{"roof rack", "accessories"},
	{"light", "lighting"},
}

// GuessSystem maps a catalog category name to a system group.
func GuessSystem(category string) string {
	lower := strings.ToLower(category)
	for _, k := range systemKeywords {
		if strings.Contains(lower, k.keyword) {
			return k.system
		}
	}
	return "general"
}

type link struct{ name, url string }

// discoverCategories returns catalog links in page order, deduplicated by URL.
func discoverCategories(doc *goquery.Document, baseURL, catalogURL string) []link {
	var out []link
	seen := map[string]bool{}
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		text := strings.TrimSpace(a.Text())
		if len(text) < 3 {
			return
		}
		var full string
		switch {
		case strings.HasPrefix(href, "/") && strings.Contains(strings.ToLower(href), "80series"):
			full = strings.TrimRight(baseURL, "/") + href
		case strings.HasPrefix(href, catalogURL):
			full = href
		default:
			return
		}
		if seen[full] {
			return
		}
		seen[full] = true
		out = append(out, link{name: scrape.CollapseSpace(text), url: full})
	})
	return out
}

var (
	partNumberRe = regexp.MustCompile(`(SOR[\-\s]?\w+|\b\d{5,}\b)`)
	priceRe      = regexp.MustCompile(`\$[\d,]+\.?\d*`)
)

// extractParts reads table rows first and falls back to product-like
// containers when no row carries a part number.
func extractParts(doc *goquery.Document, category string) []Part {
	system := GuessSystem(category)
	var parts []Part

	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		texts := cells.Map(func(_ int, c *goquery.Selection) string { return strings.TrimSpace(c.Text()) })
		text := strings.Join(texts, " ")
		pn := partNumberRe.FindStringSubmatch(text)
		if pn == nil {
			return
		}
		parts = append(parts, Part{
			PartNumber:  strings.TrimSpace(pn[1]),
			Description: scrape.CollapseSpace(texts[0]),
			Price:       priceRe.FindString(text),
			Category:    category,
			System:      system,
		})
	})
	if len(parts) > 0 {
		return parts
	}

	doc.Find(`[class*="product"], [class*="item"], [class*="part"]`).Each(func(_ int, el *goquery.Selection) {
		title := strings.TrimSpace(el.Find("h2, h3, h4, strong, b").First().Text())
		desc := scrape.CollapseSpace(el.Text())
		pn := partNumberRe.FindStringSubmatch(desc)
		if title == "" && pn == nil {
			return
		}
		p := Part{Description: title, Price: priceRe.FindString(desc), Category: category, System: system}
		if pn != nil {
			p.PartNumber = strings.TrimSpace(pn[1])
		}
		if p.Description == "" {
			p.Description = truncate(desc, 200)
		}
		parts = append(parts, p)
	})
	return parts
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var slugRe = regexp.MustCompile(`[^\w]`)

// FileName is the raw file name for a category.
func FileName(category string) string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(category), "_"), "_") + ".json"
}
