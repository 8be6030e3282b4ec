package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type fakeResult struct {
	records []*neo4j.Record
	i       int
	err     error
}

func (f *fakeResult) Next(context.Context) bool {
	if f.i >= len(f.records) {
		return false
	}
	f.i++
	return true
}

func (f *fakeResult) Record() *neo4j.Record { return f.records[f.i-1] }
func (f *fakeResult) Err() error            { return f.err }

type call struct {
	cypher string
	params map[string]any
}

type fakeRunner struct {
	calls  []call
	result *fakeResult
	err    error
	closed int
}

func (f *fakeRunner) Run(_ context.Context, cypher string, params map[string]any) (Result, error) {
	f.calls = append(f.calls, call{cypher, params})
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &fakeResult{}, nil
	}
	return f.result, nil
}

func (f *fakeRunner) Close(context.Context) error { f.closed++; return nil }

func (f *fakeRunner) sessions() Sessions {
	return func(context.Context) Runner { return f }
}

func record(name string) *neo4j.Record {
	return &neo4j.Record{Keys: []string{"n"}, Values: []any{neo4j.Node{Props: map[string]any{"id": name}}}}
}

func nodeID(rec *neo4j.Record) (string, error) {
	n, ok := rec.Values[0].(neo4j.Node)
	if !ok {
		return "", errors.New("not a node")
	}
	return n.Props["id"].(string), nil
}

func TestNewNeo4jRepoOptions(t *testing.T) {
	r := NewNeo4jRepo[string, string](nil, "KBDocument", nodeID, WithIDKey[string, string]("uuid"))
	if r.idKey != "uuid" || r.label != "KBDocument" {
		t.Fatalf("repo = %+v", r)
	}
	if NewNeo4jRepo[string, string](nil, "X", nodeID).idKey != "id" {
		t.Fatal("default id key")
	}
}

func TestGet(t *testing.T) {
	f := &fakeRunner{result: &fakeResult{records: []*neo4j.Record{record("nhtsa:recall_1")}}}
	r := NewNeo4jRepo[string, string](f.sessions(), "KBDocument", nodeID)
	got, err := r.Get(context.Background(), "nhtsa:recall_1")
	if err != nil || got != "nhtsa:recall_1" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if !strings.Contains(f.calls[0].cypher, "MATCH (n:KBDocument {id: $id})") || f.closed != 1 {
		t.Fatalf("calls %+v closed %d", f.calls, f.closed)
	}
}

func TestGet_NotFound(t *testing.T) {
	f := &fakeRunner{}
	r := NewNeo4jRepo[string, string](f.sessions(), "KBDocument", nodeID)
	if _, err := r.Get(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestList_Filter(t *testing.T) {
	f := &fakeRunner{result: &fakeResult{records: []*neo4j.Record{record("a"), record("b")}}}
	r := NewNeo4jRepo[string, string](f.sessions(), "KBDocument", nodeID)
	got, err := r.List(context.Background(), ListOpts{Filter: map[string]any{"source": "fsm", "category": "engine"}})
	if err != nil || len(got) != 2 {
		t.Fatalf("List = %v, %v", got, err)
	}
	c := f.calls[0]
	if !strings.Contains(c.cypher, "WHERE n.`category` = $f0 AND n.`source` = $f1") {
		t.Errorf("cypher = %s", c.cypher)
	}
	if c.params["f1"] != "fsm" || c.params["limit"] != 100 {
		t.Errorf("params = %v", c.params)
	}
}

func TestList_ResultError(t *testing.T) {
	f := &fakeRunner{result: &fakeResult{err: errors.New("connection reset")}}
	r := NewNeo4jRepo[string, string](f.sessions(), "KBDocument", nodeID)
	if _, err := r.List(context.Background(), ListOpts{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDelete(t *testing.T) {
	f := &fakeRunner{}
	r := NewNeo4jRepo[string, string](f.sessions(), "KBDocument", nodeID)
	if err := r.Delete(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.calls[0].cypher, "DETACH DELETE n") {
		t.Fatalf("cypher = %s", f.calls[0].cypher)
	}
}

func TestExec_RunError(t *testing.T) {
	f := &fakeRunner{err: errors.New("syntax")}
	if err := Exec(context.Background(), f.sessions(), "RETURN 1", nil); err == nil {
		t.Fatal("expected error")
	}
	if f.closed != 1 {
		t.Fatal("session not closed")
	}
}
