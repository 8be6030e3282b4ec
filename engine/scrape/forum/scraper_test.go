package forum

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/WessleyAI/axlelore-kb/engine/checkpoint"
	"github.com/WessleyAI/axlelore-kb/pkg/fetch"
)

func listingHTML(threads ...[4]string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, t := range threads {
		fmt.Fprintf(&b, `<div class="structItem">
			<div class="structItem-title"><a href="/threads/%s.%s/">%s</a></div>
			<dl class="pairs pairs--justified"><dt>Replies</dt><dd>%s</dd></dl>
			<dl class="pairs pairs--justified"><dt>Views</dt><dd>1.2K</dd></dl>
			<time datetime="2023-01-15T10:00:00Z"></time>
		</div>`, strings.ReplaceAll(strings.ToLower(t[1]), " ", "-"), t[0], t[1], t[2])
	}
	b.WriteString("</body></html>")
	return b.String()
}

func threadHTML(title string, next bool, posts ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><h1 class="p-title-value">%s</h1>`, title)
	for i, p := range posts {
		fmt.Fprintf(&b, `<article class="message" data-content="post-%d">
			<h4 class="message-name">user%d</h4>
			<time datetime="2023-01-1%dT00:00:00Z"></time>
			<div class="message-body"><div class="bbWrapper">%s Click to expand...</div></div>
			<a class="reactionsBar-link">You and %d others</a>
		</article>`, 100+i, i, i, p, i*3)
	}
	if next {
		b.WriteString(`<a class="pageNav-page--later">Next</a>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

var longPost = strings.Repeat("Pull the birfield and repack it with moly grease. ", 4)

type board struct {
	mu    sync.Mutex
	hits  map[string]int
	pages map[string]string
}

func (b *board) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.hits[r.URL.Path]++
	body, ok := b.pages[r.URL.Path]
	b.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write([]byte(body))
}

func setup(t *testing.T, pages map[string]string) (*Scraper, *board, *checkpoint.Store, string) {
	t.Helper()
	b := &board{hits: map[string]int{}, pages: pages}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	st, err := checkpoint.Open(filepath.Join(dir, "scrape_state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := DefaultConfig(filepath.Join(dir, "forum"))
	cfg.BaseURL = srv.URL
	cfg.Boards = []Board{{Name: "80_series_tech", Path: "forums/80-series-tech.9/"}}
	client := fetch.New(fetch.Options{HTTPClient: srv.Client(), InitialBackoff: time.Millisecond, MaxAttempts: 1})
	return New(cfg, client, st, nil), b, st, cfg.OutDir
}

func TestParseCount(t *testing.T) {
	cases := map[string]int{"1,234": 1234, "1.2K": 1200, "3M": 3000000, " 17 ": 17, "k": 0, "—": 0}
	for in, want := range cases {
		if got := ParseCount(in); got != want {
			t.Errorf("ParseCount(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseListing(t *testing.T) {
	html := listingHTML([4]string{"12345", "Head gasket", "25"}) +
		`<div class="structItem"><div class="structItem-title"><a href="/members/bob.1/">not a thread</a></div></div>`
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(html))
	entries := parseListing(doc, "https://forum.example", "80_series_tech")
	if len(entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}
	e := entries[0]
	if e.ThreadID != "12345" || e.Replies != 25 || e.Views != 1200 || e.Forum != "80_series_tech" {
		t.Fatalf("entry = %+v", e)
	}
	if e.URL != "https://forum.example/threads/head-gasket.12345/" || e.LastActivity != "2023-01-15T10:00:00Z" {
		t.Fatalf("entry = %+v", e)
	}
}

func TestParseThreadPageDropsShortPosts(t *testing.T) {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(threadHTML("Birfield service", true, longPost, "+1")))
	p := parseThreadPage(doc, 100)
	if p.Title != "Birfield service" || !p.HasNext {
		t.Fatalf("page = %+v", p)
	}
	if len(p.Posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(p.Posts))
	}
	post := p.Posts[0]
	if post.PostID != "100" || post.Author != "user0" || post.Date == nil || strings.Contains(post.Content, "Click to expand") {
		t.Fatalf("post = %+v", post)
	}
}

func TestIndexPassResumesFromCheckpoint(t *testing.T) {
	pages := map[string]string{
		"/forums/80-series-tech.9/page-1": listingHTML([4]string{"1", "One", "1"}),
		"/forums/80-series-tech.9/page-2": listingHTML([4]string{"2", "Two", "2"}),
		"/forums/80-series-tech.9/page-3": listingHTML(),
	}
	s, b, st, out := setup(t, pages)
	s.cfg.IndexOnly = true
	ctx := context.Background()

	if err := st.MarkPageDone(ctx, IndexKey("80_series_tech"), 1); err != nil {
		t.Fatal(err)
	}
	rep, err := s.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if b.hits["/forums/80-series-tech.9/page-1"] != 0 {
		t.Fatal("page 1 was already checkpointed and must not be refetched")
	}
	if rep.Fetched != 2 {
		t.Fatalf("fetched = %d", rep.Fetched)
	}
	if p, _ := st.ResumePage(ctx, IndexKey("80_series_tech")); p != 3 {
		t.Fatalf("resume page = %d, want 3", p)
	}
	idx, err := LoadIndex(filepath.Join(out, IndexFile))
	if err != nil || len(idx) != 1 || idx[0].ThreadID != "2" {
		t.Fatalf("index = %+v, %v", idx, err)
	}
	stats, _ := st.Stats(ctx)
	if stats[0].Status != checkpoint.StatusDone {
		t.Fatalf("status = %s", stats[0].Status)
	}
}

func TestRankIndex(t *testing.T) {
	got := rankIndex([]IndexEntry{
		{ThreadID: "a", Replies: 1, Views: 10},
		{ThreadID: "b", Replies: 100, Views: 0},
		{ThreadID: "a", Replies: 500, Views: 0},
		{ThreadID: "", Replies: 900},
		{ThreadID: "c", Replies: 0, Views: 5000},
	})
	ids := []string{}
	for _, e := range got {
		ids = append(ids, e.ThreadID)
	}
	if strings.Join(ids, ",") != "c,b,a" {
		t.Fatalf("order = %v", ids)
	}
}

func TestContentPassSkipsDoneAndHonorsCap(t *testing.T) {
	pages := map[string]string{
		"/forums/80-series-tech.9/page-1": listingHTML(
			[4]string{"10", "Low", "1"}, [4]string{"20", "High", "90"}, [4]string{"30", "Mid", "40"}),
		"/forums/80-series-tech.9/page-2": listingHTML(),
		"/threads/high.20/":               threadHTML("High", true, longPost, longPost),
		"/threads/high.20/page-2":         threadHTML("High", false, longPost),
		"/threads/mid.30/":                threadHTML("Mid", false, longPost),
		"/threads/low.10/":                threadHTML("Low", false, longPost),
	}
	s, b, st, out := setup(t, pages)
	s.cfg.MaxThreads = 1
	ctx := context.Background()
	_ = st.MarkItemDone(ctx, contentKey, "20")

	rep, err := s.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if b.hits["/threads/high.20/"] != 0 {
		t.Fatal("done thread was refetched")
	}
	if rep.Saved != 1 || rep.Skipped != 1 {
		t.Fatalf("report = %+v", rep)
	}
	raw, err := os.ReadFile(filepath.Join(out, ThreadsDir, "30.json"))
	if err != nil {
		t.Fatalf("highest-engagement pending thread not saved: %v", err)
	}
	var th Thread
	if err := json.Unmarshal(raw, &th); err != nil {
		t.Fatal(err)
	}
	if th.Title != "Mid" || th.ForumSection != "80_series_tech" || th.Replies == nil || *th.Replies != 40 || len(th.Posts) != 1 {
		t.Fatalf("thread = %+v", th)
	}
	if done, _ := st.IsItemDone(ctx, contentKey, "30"); !done {
		t.Fatal("thread 30 not checkpointed")
	}
	if _, err := os.Stat(filepath.Join(out, ThreadsDir, "10.json")); !os.IsNotExist(err) {
		t.Fatal("max threads cap ignored")
	}
}

func TestFetchThreadFollowsPages(t *testing.T) {
	pages := map[string]string{
		"/threads/high.20/":       threadHTML("High", true, longPost),
		"/threads/high.20/page-2": threadHTML("High", true, longPost, longPost),
		"/threads/high.20/page-3": threadHTML("High", false, longPost),
		"/threads/high.20/page-4": threadHTML("High", false, longPost),
	}
	s, b, _, _ := setup(t, pages)
	th, err := s.fetchThread(context.Background(), IndexEntry{ThreadID: "20", URL: s.cfg.BaseURL + "/threads/high.20/"})
	if err != nil {
		t.Fatal(err)
	}
	if len(th.Posts) != 4 {
		t.Fatalf("posts = %d, want 4", len(th.Posts))
	}
	if b.hits["/threads/high.20/page-4"] != 0 {
		t.Fatal("fetched past the last page")
	}
}

func TestFetchThreadWithoutPosts(t *testing.T) {
	pages := map[string]string{"/threads/empty.5/": threadHTML("Empty", false, "short")}
	s, _, _, _ := setup(t, pages)
	if _, err := s.fetchThread(context.Background(), IndexEntry{ThreadID: "5", URL: s.cfg.BaseURL + "/threads/empty.5/"}); err != errNoPosts {
		t.Fatalf("want errNoPosts, got %v", err)
	}
}
