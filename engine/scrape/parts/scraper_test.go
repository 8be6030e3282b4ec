package parts

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
	"github.com/WessleyAI/axlelore-kb/pkg/fetch"
)

func doc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestGuessSystem(t *testing.T) {
	cases := map[string]string{
		"Front Axle Parts":   "front_axle",
		"Rear Axle Seals":    "front_axle", // "axle" is checked first
		"Birfield & Knuckle": "front_axle",
		"Brake Pads":         "brakes",
		"Transfer Case":      "transfer_case",
		"Roof Rack":          "accessories",
		"Tail Lights":        "lighting",
		"Gift Cards":         "general",
	}
	for in, want := range cases {
		if got := GuessSystem(in); got != want {
			t.Errorf("GuessSystem(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDiscoverCategories(t *testing.T) {
	d := doc(t, `<a href="/80series-brakes/">Brakes</a>
		<a href="/80series-brakes/">Brakes again</a>
		<a href="https://shop.example/80serieslandcruiser/axle/">Axle</a>
		<a href="/about/">About us</a>
		<a href="/80series-x/">ab</a>`)
	links := discoverCategories(d, "https://shop.example", "https://shop.example/80serieslandcruiser/")
	if len(links) != 2 {
		t.Fatalf("links = %+v", links)
	}
	if links[0].url != "https://shop.example/80series-brakes/" || links[0].name != "Brakes" {
		t.Fatalf("first = %+v", links[0])
	}
}

func TestExtractPartsFromTable(t *testing.T) {
	d := doc(t, `<table>
		<tr><th>Part</th><th>No</th></tr>
		<tr><td>Brake pad set</td><td>04465-60010</td><td>$54.99</td></tr>
		<tr><td>Caliper kit</td><td>SOR-123</td></tr>
		<tr><td>Sticker</td><td>no number</td></tr>
	</table>`)
	got := extractParts(d, "Brakes")
	if len(got) != 2 {
		t.Fatalf("parts = %+v", got)
	}
	if got[0].PartNumber != "04465" {
		t.Fatalf("part number = %q", got[0].PartNumber)
	}
	if got[0].Description != "Brake pad set" || got[0].Price != "$54.99" || got[0].System != "brakes" {
		t.Fatalf("part = %+v", got[0])
	}
	if got[1].PartNumber != "SOR-123" || got[1].Price != "" {
		t.Fatalf("part = %+v", got[1])
	}
}

func TestExtractPartsFallsBackToContainers(t *testing.T) {
	d := doc(t, `<div class="product-card"><h3>Steering damper</h3><span>SOR 4455 $120.00</span></div>`)
	got := extractParts(d, "Steering")
	if len(got) != 1 || got[0].Description != "Steering damper" || got[0].PartNumber != "SOR 4455" || got[0].Price != "$120.00" {
		t.Fatalf("parts = %+v", got)
	}
}

func TestFileName(t *testing.T) {
	if got := FileName("Birfield & Knuckle"); got != "birfield___knuckle.json" {
		t.Fatalf("FileName = %q", got)
	}
}

func TestRunSavesCategoriesAndHonorsCap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/80serieslandcruiser/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="/80series-brakes/">Brakes</a><a href="/80series-empty/">Empty page</a><a href="/80series-more/">More parts</a>`))
	})
	mux.HandleFunc("/80series-brakes/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<table><tr><td>Brake pad set</td><td>0446560010</td></tr></table>`))
	})
	mux.HandleFunc("/80series-empty/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<p>nothing</p>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	st, err := checkpoint.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	cfg := DefaultConfig(filepath.Join(dir, "sor"))
	cfg.BaseURL = srv.URL
	cfg.CatalogURL = srv.URL + "/80serieslandcruiser/"
	cfg.MaxPages = 2
	client := fetch.New(fetch.Options{HTTPClient: srv.Client(), MaxAttempts: 1, InitialBackoff: time.Millisecond})

	rep, err := New(cfg, client, st, nil).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Fetched != 3 || rep.Saved != 1 {
		t.Fatalf("report = %+v", rep)
	}
	raw, err := os.ReadFile(filepath.Join(cfg.OutDir, "brakes.json"))
	if err != nil {
		t.Fatal(err)
	}
	var page CategoryPage
	if err := json.Unmarshal(raw, &page); err != nil {
		t.Fatal(err)
	}
	if page.Category != "Brakes" || len(page.Parts) != 1 || page.Parts[0].PartNumber != "0446560010" {
		t.Fatalf("page = %+v", page)
	}
	if done, _ := st.IsItemDone(context.Background(), stateKey, srv.URL+"/80series-more/"); done {
		t.Fatal("page cap ignored")
	}
}
