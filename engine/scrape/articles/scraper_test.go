package articles

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/WessleyAI/axlelore-kb/engine/checkpoint"
	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/pkg/fetch"
)

const page = `<html><head><title>Site | 1FZ-FE</title></head><body>
<nav><a href="/">Home</a> menu links</nav>
<div class="cookie-banner">We use cookies on this site to improve things for everyone.</div>
<main>
  <h1>Toyota 1FZ-FE Engine</h1>
  <p>The 1FZ-FE is a 4.5 litre inline six used in the FZJ80 from 1993 to 1997.</p>
  <h2>Specifications</h2>
  <ul><li>Displacement: 4477 cc with a bore of 100 mm and stroke of 95 mm</li><li>Firing order 1-5-3-6-2-4</li></ul>
  <h2>Tiny</h2>
  <p>Too short.</p>
</main>
<footer>Copyright</footer>
</body></html>`

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestExtractTitleAndText(t *testing.T) {
	art := Extract(parse(t, page), Source{URL: "https://engine-specs.net/toyota/1fz-fe.html", TitleHint: "hint"})
	if art.Title != "Toyota 1FZ-FE Engine" {
		t.Fatalf("title = %q", art.Title)
	}
	for _, noise := range []string{"menu links", "cookies", "Copyright"} {
		if strings.Contains(art.FullText, noise) {
			t.Errorf("full text contains %q", noise)
		}
	}
	if !strings.Contains(art.FullText, "Firing order 1-5-3-6-2-4") || !strings.Contains(art.FullText, "\n") {
		t.Fatalf("full text = %q", art.FullText)
	}
}

func TestSectionsByHeading(t *testing.T) {
	art := Extract(parse(t, page), Source{})
	if len(art.Sections) != 2 {
		t.Fatalf("sections = %+v", art.Sections)
	}
	if art.Sections[0].Heading != "Toyota 1FZ-FE Engine" || art.Sections[1].Heading != "Specifications" {
		t.Fatalf("headings = %q, %q", art.Sections[0].Heading, art.Sections[1].Heading)
	}
	if !strings.Contains(art.Sections[1].Content, "Displacement") {
		t.Fatalf("section = %+v", art.Sections[1])
	}
}

func TestExtractFallsBackToTitleHint(t *testing.T) {
	art := Extract(parse(t, "<html><body><p>text</p></body></html>"), Source{URL: "https://x.example/a", TitleHint: "Hint"})
	if art.Title != "Hint" {
		t.Fatalf("title = %q", art.Title)
	}
}

func TestRunSkipsFailedURLs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/good", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(page)) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	st, err := checkpoint.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	cfg := DefaultConfig(filepath.Join(dir, "web"))
	cfg.Sources = []Source{
		{URL: srv.URL + "/missing", Categories: []domain.Category{domain.CategoryGeneral}},
		{URL: srv.URL + "/good", Categories: []domain.Category{domain.CategoryEngine}},
	}
	client := fetch.New(fetch.Options{HTTPClient: srv.Client(), MaxAttempts: 1, InitialBackoff: time.Millisecond})
	rep, err := New(cfg, client, st, nil).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Saved != 1 || rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	raw, err := os.ReadFile(filepath.Join(cfg.OutDir, FileName(srv.URL+"/good")))
	if err != nil {
		t.Fatal(err)
	}
	var art Article
	if err := json.Unmarshal(raw, &art); err != nil {
		t.Fatal(err)
	}
	if len(art.Categories) != 1 || art.Categories[0] != domain.CategoryEngine {
		t.Fatalf("article = %+v", art)
	}
}
