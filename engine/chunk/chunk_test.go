package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
)

var testOpts = Options{Size: 500, Overlap: 50, MinSize: 50}

const oilChange = `1. Warm engine to operating temperature.
2. Place drain pan under oil drain plug.
3. Remove drain plug (27 ft-lbs torque on reinstall).
4. Allow oil to drain completely (approx 10 minutes).
5. Replace drain plug with new washer.
6. Remove and replace oil filter (90915-YZZB6).
7. Add 6.8 quarts of 5W-30 oil.
8. Start engine and check for leaks.
9. Check oil level after 5 minutes and top off.`

var idRe = regexp.MustCompile(`^[a-z0-9]+_.+_[0-9a-f]{8}$`)

func TestShortDocumentYieldsNothing(t *testing.T) {
	r := NewRegistry(testOpts)
	if got := r.Chunk(domain.Document{Source: domain.SourceManual, Content: "short", Category: domain.CategoryEngine}); got != nil {
		t.Fatalf("got %v", got)
	}
}

func TestProcedureSingleChunk(t *testing.T) {
	r := NewRegistry(testOpts)
	d := domain.Document{
		Source: domain.SourceManual, SourceID: "lu-3", Title: "Oil Change Procedure",
		Content: oilChange, Category: domain.CategoryEngine,
	}
	chunks := r.Chunk(d)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	c := chunks[0]
	if c.Category != domain.CategoryEngine || c.Source != domain.SourceManual {
		t.Fatalf("chunk = %+v", c)
	}
	if !strings.HasPrefix(c.Text, "Oil Change Procedure\n\n1. Warm engine") {
		t.Fatalf("text = %q", c.Text[:40])
	}
	if !strings.HasPrefix(c.ID, "fsm_lu-3_steps_1-9_") || !idRe.MatchString(c.ID) {
		t.Fatalf("id = %s", c.ID)
	}
}

func TestProcedureGroupsSteps(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&b, "%d. %s\n", i, strings.Repeat("Torque the bolt in sequence. ", 4))
	}
	d := domain.Document{Source: domain.SourceManual, SourceID: "em-1", Content: b.String(), Category: domain.CategoryEngine}
	chunks := NewRegistry(testOpts).Chunk(d)
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	covered := 0
	for i, c := range chunks {
		if len(c.Text) > testOpts.Size {
			t.Errorf("chunk %d is %d bytes", i, len(c.Text))
		}
		covered += len(stepRe.FindAllStringIndex(c.Text, -1))
	}
	if covered != 12 {
		t.Fatalf("steps covered = %d", covered)
	}
	if !strings.Contains(chunks[0].ID, "_steps_1-") {
		t.Fatalf("first id = %s", chunks[0].ID)
	}
}

func TestProcedureDropsShortTail(t *testing.T) {
	content := "1. " + strings.Repeat("x", 490) + "\n2. tighten\n"
	chunks := procedurePieces(splitAt(content, stepRe), testOpts)
	if len(chunks) != 1 || chunks[0].suffix != "_steps_1-1" {
		t.Fatalf("pieces = %+v", chunks)
	}
}

func TestSectionsWithoutSteps(t *testing.T) {
	content := "TORQUE SPECS:\n" + strings.Repeat("Head bolts 29 ft-lbf then 90 degrees. ", 8) +
		"\nTOOLS:\n" + strings.Repeat("Use SST 09201-01055 for the seals. ", 8)
	d := domain.Document{Source: domain.SourceManual, SourceID: "s", Title: "Cylinder Head", Content: content, Category: domain.CategoryEngine}
	chunks := NewRegistry(testOpts).Chunk(d)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if !strings.HasPrefix(chunks[1].Text, "Cylinder Head\n\nTOOLS:") {
		t.Fatalf("second = %q", chunks[1].Text[:30])
	}
}

func forumDoc(responses int) domain.Document {
	parts := []string{"Question: Head gasket replacement tips?\n\nI'm about to tackle a head gasket on my 1995 FZJ80. Any tips?"}
	for i := 0; i < responses; i++ {
		parts = append(parts, fmt.Sprintf("Response (by user%d, %d votes):\n%s", i, 10-i, strings.Repeat("Use new torque-to-yield head bolts. ", 6)))
	}
	return domain.Document{
		Source: domain.SourceForum, SourceID: "12345", Title: "Head gasket replacement tips?",
		Content: strings.Join(parts, "\n\n"), Category: domain.CategoryEngine, QualityScore: 0.6,
		Metadata: map[string]any{"vehicle_type": "fzj80", "replies": 3, "nested": map[string]any{"x": 1}},
	}
}

func TestForumWholeWhenItFits(t *testing.T) {
	chunks := NewRegistry(Options{Size: 2000, Overlap: 50, MinSize: 50}).Chunk(forumDoc(2))
	if len(chunks) != 1 || !strings.HasPrefix(chunks[0].Text, "Topic: Head gasket") {
		t.Fatalf("chunks = %+v", chunks)
	}
	m := chunks[0].Metadata
	if m["vehicle_type"] != "fzj80" || m["replies"] != 3 || m["quality_score"] != 0.6 {
		t.Fatalf("metadata = %v", m)
	}
	if _, ok := m["nested"]; ok {
		t.Fatal("nested metadata should be dropped")
	}
	if _, ok := m["date"]; ok {
		t.Fatal("nil date should be omitted")
	}
}

func TestForumOneChunkPerResponse(t *testing.T) {
	chunks := NewRegistry(testOpts).Chunk(forumDoc(3))
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if !strings.HasPrefix(c.Text, "Topic: Head gasket replacement tips?") {
			t.Errorf("chunk %d lacks the question", i)
		}
		if !strings.Contains(c.Text, fmt.Sprintf("by user%d", i)) {
			t.Errorf("chunk %d has the wrong response", i)
		}
		if !strings.Contains(c.ID, fmt.Sprintf("_qa_%d_", i)) {
			t.Errorf("chunk %d id = %s", i, c.ID)
		}
	}
}

func TestForumQuestionLineIsNotAResponse(t *testing.T) {
	d := forumDoc(2)
	d.Content = strings.Replace(d.Content, "Any tips?", "Any tips?\nAnswer me this: do I need to pull the intake?", 1)
	chunks := NewRegistry(testOpts).Chunk(d)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if !strings.Contains(c.Text, "Answer me this") || !strings.Contains(c.Text, fmt.Sprintf("by user%d", i)) {
			t.Errorf("chunk %d = %q", i, c.Text)
		}
	}
}

func TestForumTruncatesLongResponse(t *testing.T) {
	d := forumDoc(0)
	d.Content += "\n\nResponse (by verbose, 1 votes):\n" + strings.Repeat("word ", 300)
	chunks := NewRegistry(testOpts).Chunk(d)
	if len(chunks) != 1 || len(chunks[0].Text) > testOpts.Size || !strings.HasSuffix(chunks[0].Text, "...") {
		t.Fatalf("chunk = %d bytes", len(chunks[0].Text))
	}
}

func TestSizeTinyLimitOnMultibyteText(t *testing.T) {
	d := domain.Document{Source: domain.SourceArticles, SourceID: "jp", Content: strings.Repeat("日本語のテキスト", 20), Category: domain.CategoryGeneral}
	done := make(chan []domain.Chunk, 1)
	go func() { done <- NewRegistry(Options{Size: 2, MinSize: 1}).Chunk(d) }()
	select {
	case chunks := <-done:
		if len(chunks) == 0 {
			t.Fatal("no chunks")
		}
		for _, c := range chunks {
			if !utf8.ValidString(c.Text) {
				t.Fatalf("chunk %s splits a rune", c.ID)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("chunking did not finish")
	}
}

func TestSizeOverlap(t *testing.T) {
	content := strings.Repeat("The Toyota Land Cruiser FZJ80 is a legendary off-road vehicle. ", 20)
	d := domain.Document{Source: domain.SourceArticles, SourceID: "misc-1", Content: content, Category: domain.CategoryGeneral}
	chunks := NewRegistry(testOpts).Chunk(d)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Text
		overlap := prev[len(prev)-testOpts.Overlap+10:]
		if !strings.Contains(chunks[i].Text, overlap) {
			t.Errorf("chunk %d does not start with the tail of chunk %d", i, i-1)
		}
	}
}

func TestSizeBoundsLongSentence(t *testing.T) {
	d := domain.Document{Source: domain.SourceParts, SourceID: "p", Content: strings.Repeat("abc ", 400), Category: domain.CategoryParts}
	for _, c := range NewRegistry(testOpts).Chunk(d) {
		if len(c.Text) > testOpts.Size+testOpts.Overlap {
			t.Fatalf("chunk is %d bytes", len(c.Text))
		}
	}
}

func TestIDsDeterministicAndUnique(t *testing.T) {
	content := strings.Repeat("First sentence here. ", 30) + strings.Repeat("Second sentence here. ", 30)
	d := domain.Document{Source: domain.SourceManual, SourceID: "test", Content: content, Category: domain.CategoryEngine}
	r := NewRegistry(testOpts)
	a, b := r.Chunk(d), r.Chunk(d)
	seen := map[string]bool{}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatal("ids changed between runs")
		}
		if seen[a[i].ID] {
			t.Fatalf("duplicate id %s", a[i].ID)
		}
		seen[a[i].ID] = true
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry(Options{})
	if r.Options() != DefaultOptions() {
		t.Fatalf("options = %+v", r.Options())
	}
	tests := map[domain.Source]string{
		domain.SourceManual:   "procedure",
		domain.SourceForum:    "forum-qa",
		domain.SourceParts:    "size",
		domain.SourceNHTSA:    "size",
		domain.SourceArticles: "size",
		domain.SourceYAML:     "size",
	}
	for src, want := range tests {
		if got := r.Strategy(src).Name(); got != want {
			t.Errorf("Strategy(%s) = %s, want %s", src, got, want)
		}
	}
	r.Register(domain.SourceYAML, Procedure{})
	if r.Strategy(domain.SourceYAML).Name() != "procedure" {
		t.Fatal("Register should replace the strategy")
	}
}
