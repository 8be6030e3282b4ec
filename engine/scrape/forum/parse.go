package forum

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/WessleyAI/axlelore-kb/engine/scrape"
)

var (
	threadIDRe = regexp.MustCompile(`\.(\d+)/?$`)
	urlIDRe    = regexp.MustCompile(`/threads/[^/]+\.(\d+)`)
	firstNumRe = regexp.MustCompile(`(\d+)`)
	expandRe   = regexp.MustCompile(`Click to expand\.\.\.`)
)

// ParseCount parses listing counters such as "1,234", "1.2K" or "3M".
func ParseCount(s string) int {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1e3, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1e6, strings.TrimSuffix(s, "M")
	}
	if mult == 1 {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0
		}
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(f * mult)
}

// parseListing extracts thread rows from a board listing page.
func parseListing(doc *goquery.Document, baseURL, board string) []IndexEntry {
	var out []IndexEntry
	doc.Find(".structItem").Each(func(_ int, item *goquery.Selection) {
		link := item.Find(".structItem-title a").First()
		href, _ := link.Attr("href")
		if !strings.Contains(href, "/threads/") {
			return
		}
		full := href
		if strings.HasPrefix(href, "/") {
			full = baseURL + href
		}
		e := IndexEntry{
			Title: strings.TrimSpace(link.Text()),
			URL:   full,
			Forum: board,
		}
		if m := threadIDRe.FindStringSubmatch(href); m != nil {
			e.ThreadID = m[1]
		}
		pairs := item.Find(".pairs--justified dd")
		if pairs.Length() >= 1 {
			e.Replies = ParseCount(pairs.Eq(0).Text())
		}
		if pairs.Length() >= 2 {
			e.Views = ParseCount(pairs.Eq(1).Text())
		}
		e.LastActivity, _ = item.Find("time").First().Attr("datetime")
		out = append(out, e)
	})
	return out
}

// threadPage is what one page of a thread yields.
type threadPage struct {
	Title   string
	Posts   []Post
	HasNext bool
}

func parseThreadPage(doc *goquery.Document, minPostLength int) threadPage {
	p := threadPage{
		Title:   strings.TrimSpace(doc.Find(".p-title-value").First().Text()),
		HasNext: doc.Find(".pageNav-page--later").Length() > 0,
	}
	doc.Find("article.message").Each(func(_ int, msg *goquery.Selection) {
		if post, ok := parsePost(msg, minPostLength); ok {
			p.Posts = append(p.Posts, post)
		}
	})
	return p
}

func parsePost(msg *goquery.Selection, minPostLength int) (Post, bool) {
	content := cleanContent(msg.Find(".message-body .bbWrapper").First().Text())
	if len(content) < minPostLength {
		return Post{}, false
	}
	id, _ := msg.Attr("data-content")
	post := Post{
		PostID:  strings.TrimPrefix(id, "post-"),
		Author:  strings.TrimSpace(msg.Find(".message-name").First().Text()),
		Content: content,
	}
	if post.Author == "" {
		post.Author = "Unknown"
	}
	if dt, ok := msg.Find("time").First().Attr("datetime"); ok && dt != "" {
		post.Date = &dt
	}
	if m := firstNumRe.FindString(msg.Find(".reactionsBar-link").First().Text()); m != "" {
		post.Likes, _ = strconv.Atoi(m)
	}
	return post, true
}

func cleanContent(s string) string {
	return scrape.CollapseSpace(expandRe.ReplaceAllString(s, ""))
}

func threadIDFromURL(u string) string {
	if m := urlIDRe.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	return u
}
