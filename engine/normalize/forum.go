package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/engine/scrape/forum"
)

const (
	// MinOPLength is the shortest original post a thread may have.
	MinOPLength = 100
	// MinResponseLength is the shortest response kept.
	MinResponseLength = 50
	// MaxResponses is how many top-voted responses a thread keeps.
	MaxResponses = 5
	// DefaultMinForumQuality drops threads below this score.
	DefaultMinForumQuality = 0.1
)

// forumSections maps forum section names to categories.
var forumSections = map[string]domain.Category{
	"80-series tech":          domain.CategoryForumTroubleshoot,
	"80 series tech":          domain.CategoryForumTroubleshoot,
	"newbie tech":             domain.CategoryForumTroubleshoot,
	"general tech":            domain.CategoryForumTroubleshoot,
	"80-series build threads": domain.CategoryForumMods,
	"80 series build threads": domain.CategoryForumMods,
	"build threads":           domain.CategoryForumMods,
	"modifications":           domain.CategoryForumMods,
	"mods":                    domain.CategoryForumMods,
	"maintenance":             domain.CategoryForumMaintenance,
	"vendors":                 domain.CategoryParts,
	"for sale":                domain.CategoryParts,
	"parts":                   domain.CategoryParts,
	"classifieds":             domain.CategoryParts,
}

// ForumCategory maps a section name, then the title and body text, to a
// category. Unmatched threads are troubleshooting threads.
func ForumCategory(section, title string, body ...string) domain.Category {
	key := strings.ToLower(strings.TrimSpace(section))
	if c, ok := forumSections[key]; ok {
		return c
	}
	return forumKeywordRules.Classify(domain.CategoryForumTroubleshoot, append([]string{title}, body...)...)
}

var (
	quoteLinesRe = regexp.MustCompile(`(?m)(?:^>.*\n?)+`)
	bbcodeRe     = regexp.MustCompile(`(?i)\[/?(?:quote|img|url|b|i|u|code|size|color|font)[^\]]*\]`)
	manyNewlines = regexp.MustCompile(`\n{3,}`)
	manySpaces   = regexp.MustCompile(` {2,}`)
)

// CleanPost strips quoted lines, bbcode and expansion prompts.
func CleanPost(s string) string {
	s = quoteLinesRe.ReplaceAllString(s, "")
	s = bbcodeRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "Click to expand...", "")
	s = manyNewlines.ReplaceAllString(s, "\n\n")
	s = manySpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// ThreadStats are the engagement inputs of a quality score.
type ThreadStats struct {
	Replies      int
	Views        int
	TotalVotes   int
	MaxVotes     int
	ContentChars int
}

// Stats computes ThreadStats. Replies default to the post count minus one.
func Stats(t forum.Thread) ThreadStats {
	s := ThreadStats{Views: t.Views, Replies: len(t.Posts) - 1}
	if t.Replies != nil {
		s.Replies = *t.Replies
	}
	for _, p := range t.Posts {
		v := p.Score()
		s.TotalVotes += v
		s.MaxVotes = max(s.MaxVotes, v)
		s.ContentChars += len(p.Content)
	}
	return s
}

// QualityScore weighs engagement into [0, 1], rounded to 3 places.
func QualityScore(s ThreadStats) float64 {
	ratio := func(v int, norm float64) float64 { return clamp01(float64(v) / norm) }
	score := ratio(s.Replies, 20)*0.20 +
		ratio(s.Views, 10000)*0.15 +
		ratio(s.TotalVotes, 50)*0.20 +
		ratio(s.MaxVotes, 20)*0.20 +
		ratio(s.ContentChars, 3000)*0.25
	return round(clamp01(score), 3)
}

// NormalizeThread builds the question-and-answers document of a thread, or
// returns false when the thread has no title or its original post is too
// short.
func NormalizeThread(t forum.Thread, opts Options) (domain.Document, bool) {
	title := strings.TrimSpace(t.Title)
	if title == "" || len(t.Posts) == 0 {
		return domain.Document{}, false
	}

	opIdx := 0
	for i, p := range t.Posts {
		if p.IsOP {
			opIdx = i
			break
		}
	}
	op := t.Posts[opIdx]
	opText := CleanPost(op.Content)
	if len(opText) < MinOPLength {
		return domain.Document{}, false
	}

	type response struct {
		post forum.Post
		text string
	}
	var responses []response
	for i, p := range t.Posts {
		if i == opIdx {
			continue
		}
		if text := CleanPost(p.Content); len(text) >= MinResponseLength {
			responses = append(responses, response{p, text})
		}
	}
	sort.SliceStable(responses, func(i, j int) bool { return responses[i].post.Score() > responses[j].post.Score() })
	if len(responses) > MaxResponses {
		responses = responses[:MaxResponses]
	}

	parts := []string{fmt.Sprintf("Question: %s\n\n%s", title, opText)}
	for _, r := range responses {
		author := r.post.Author
		if author == "" {
			author = "anonymous"
		}
		parts = append(parts, fmt.Sprintf("Response (by %s, %d votes):\n%s", author, r.post.Score(), r.text))
	}

	section := t.Category
	if section == "" {
		section = strings.ReplaceAll(strings.ToLower(t.ForumSection), "_", " ")
	}
	author := t.Author
	if author == "" {
		author = op.Author
	}
	date := t.Date
	if date == nil {
		date = op.Date
	}
	stats := Stats(t)
	return domain.Document{
		Source:       domain.SourceForum,
		SourceID:     t.ThreadID,
		Title:        title,
		Content:      strings.Join(parts, "\n\n"),
		Category:     ForumCategory(section, title, opText),
		URL:          t.URL,
		Date:         date,
		QualityScore: QualityScore(stats),
		Metadata: opts.meta(
			"forum_section", section,
			"replies", stats.Replies,
			"views", t.Views,
			"author", author,
		),
	}, true
}

// Forum normalizes threads/*.json under the forum raw directory.
type Forum struct {
	Opts       Options
	MinQuality float64
}

func (Forum) Source() domain.Source { return domain.SourceForum }

// Process reads every thread file; a file may hold one thread or an array.
func (f Forum) Process(ctx context.Context, rawDir string) ([]domain.Document, error) {
	log := f.Opts.logger().With("source", domain.SourceForum)
	var files []string
	err := filepath.WalkDir(rawDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".json" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var docs []domain.Document
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		threads, err := readThreads(path)
		if err != nil {
			log.Warn("skipping thread file", "file", filepath.Base(path), "error", err)
			continue
		}
		for _, t := range threads {
			d, ok := NormalizeThread(t, f.Opts)
			if !ok {
				continue
			}
			if d.QualityScore < f.MinQuality {
				log.Debug("low quality thread", "title", d.Title, "score", d.QualityScore)
				continue
			}
			if keep(log, d) {
				docs = append(docs, d)
			}
		}
	}
	return Finalize(docs), nil
}

func readThreads(path string) ([]forum.Thread, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b = []byte(strings.TrimSpace(string(b)))
	if len(b) > 0 && b[0] == '[' {
		var ts []forum.Thread
		return ts, json.Unmarshal(b, &ts)
	}
	var t forum.Thread
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, err
	}
	return []forum.Thread{t}, nil
}
