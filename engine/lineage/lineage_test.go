package lineage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/pkg/repo"
)

type fakeResult struct {
	records []*neo4j.Record
	i       int
}

func (f *fakeResult) Next(context.Context) bool {
	if f.i >= len(f.records) {
		return false
	}
	f.i++
	return true
}

func (f *fakeResult) Record() *neo4j.Record { return f.records[f.i-1] }
func (f *fakeResult) Err() error            { return nil }

type fakeRunner struct {
	cyphers []string
	params  []map[string]any
	records []*neo4j.Record
	err     error
}

func (f *fakeRunner) Run(_ context.Context, cypher string, params map[string]any) (repo.Result, error) {
	f.cyphers = append(f.cyphers, cypher)
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return &fakeResult{records: f.records}, nil
}

func (f *fakeRunner) Close(context.Context) error { return nil }

func newGraph(f *fakeRunner) *Graph {
	return New(func(context.Context) repo.Runner { return f }, nil)
}

func TestRecord_Batches(t *testing.T) {
	f := &fakeRunner{}
	docs := make([]domain.Document, 1200)
	for i := range docs {
		docs[i] = domain.Document{Source: domain.SourceForum, SourceID: "t", Category: domain.CategoryEngine, QualityScore: 0.4}
	}
	docs[0].SourceID = "12345"
	if err := newGraph(f).Record(context.Background(), "fzj80", docs); err != nil {
		t.Fatal(err)
	}
	if len(f.cyphers) != 3 {
		t.Fatalf("statements = %d", len(f.cyphers))
	}
	if !strings.Contains(f.cyphers[0], "MERGE (v)-[:HAS_DOCUMENT]->(d)") {
		t.Errorf("cypher = %s", f.cyphers[0])
	}
	rows := f.params[0]["docs"].([]map[string]any)
	if len(rows) != 500 || rows[0]["id"] != "ih8mud:12345" || rows[0]["category"] != "engine" {
		t.Errorf("first row = %v", rows[0])
	}
	if f.params[2]["vehicle"] != "fzj80" || len(f.params[2]["docs"].([]map[string]any)) != 200 {
		t.Errorf("last batch = %v", f.params[2]["vehicle"])
	}
}

func TestRecord_Error(t *testing.T) {
	f := &fakeRunner{err: errors.New("unavailable")}
	err := newGraph(f).Record(context.Background(), "fzj80", []domain.Document{{SourceID: "x"}})
	if err == nil || !strings.Contains(err.Error(), "lineage") {
		t.Fatalf("err = %v", err)
	}
}

func TestSourceCounts(t *testing.T) {
	f := &fakeRunner{records: []*neo4j.Record{
		{Keys: []string{"source", "n"}, Values: []any{"fsm", int64(40)}},
		{Keys: []string{"source", "n"}, Values: []any{"nhtsa", int64(12)}},
	}}
	got, err := newGraph(f).SourceCounts(context.Background(), "fzj80")
	if err != nil {
		t.Fatal(err)
	}
	if got["fsm"] != 40 || got["nhtsa"] != 12 {
		t.Fatalf("counts = %v", got)
	}
}

func TestDocument(t *testing.T) {
	f := &fakeRunner{records: []*neo4j.Record{{
		Keys: []string{"n"},
		Values: []any{neo4j.Node{Props: map[string]any{
			"id": "fsm:fsm_p1-2", "source": "fsm", "source_id": "fsm_p1-2", "title": "LUBRICATION", "quality": 0.9,
		}}},
	}}}
	g := newGraph(f)
	d, err := g.Document(context.Background(), domain.SourceManual, "fsm_p1-2")
	if err != nil {
		t.Fatal(err)
	}
	if d.Title != "LUBRICATION" || d.Quality != 0.9 {
		t.Fatalf("doc = %+v", d)
	}
	if f.params[0]["id"] != "fsm:fsm_p1-2" {
		t.Fatalf("params = %v", f.params[0])
	}

	docs, err := g.Documents(context.Background(), "fzj80", domain.SourceManual, 10)
	if err != nil || len(docs) != 1 {
		t.Fatalf("Documents = %v, %v", docs, err)
	}
	if f.params[1]["limit"] != 10 {
		t.Errorf("params = %v", f.params[1])
	}
}
