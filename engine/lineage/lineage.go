// Package lineage records which canonical documents were indexed for a
// vehicle in a Neo4j graph: (:Vehicle)-[:HAS_DOCUMENT]->(:KBDocument).
package lineage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/pkg/fn"
	"github.com/WessleyAI/axlelore-kb/pkg/repo"
)

// batchSize bounds the documents merged per statement.
const batchSize = 500

// Document is a KBDocument node.
type Document struct {
	ID       string  `json:"id"`
	Vehicle  string  `json:"vehicle"`
	Source   string  `json:"source"`
	SourceID string  `json:"source_id"`
	Category string  `json:"category"`
	Title    string  `json:"title"`
	Quality  float64 `json:"quality"`
	URL      string  `json:"url"`
}

// DocumentID is the node id of a canonical document.
func DocumentID(src domain.Source, sourceID string) string {
	return string(src) + ":" + sourceID
}

// Graph writes and reads the lineage graph.
type Graph struct {
	sessions repo.Sessions
	docs     *repo.Neo4jRepo[Document, string]
	log      *slog.Logger
}

// New creates a Graph over sessions.
func New(sessions repo.Sessions, log *slog.Logger) *Graph {
	if log == nil {
		log = slog.Default()
	}
	return &Graph{
		sessions: sessions,
		docs:     repo.NewNeo4jRepo[Document, string](sessions, "KBDocument", documentFromRecord),
		log:      log,
	}
}

const mergeDocuments = `
MERGE (v:Vehicle {type: $vehicle})
WITH v
UNWIND $docs AS doc
MERGE (d:KBDocument {id: doc.id})
SET d += doc
MERGE (v)-[:HAS_DOCUMENT]->(d)`

// Record merges docs under vehicle. It implements kb.Recorder.
func (g *Graph) Record(ctx context.Context, vehicle string, docs []domain.Document) error {
	for _, batch := range fn.Chunk(docs, batchSize) {
		rows := fn.Map(batch, func(d domain.Document) map[string]any {
			return map[string]any{
				"id":        DocumentID(d.Source, d.SourceID),
				"vehicle":   vehicle,
				"source":    string(d.Source),
				"source_id": d.SourceID,
				"category":  string(d.Category),
				"title":     d.Title,
				"quality":   d.QualityScore,
				"url":       d.URL,
			}
		})
		err := repo.Exec(ctx, g.sessions, mergeDocuments, map[string]any{"vehicle": vehicle, "docs": rows})
		if err != nil {
			return fmt.Errorf("lineage: merge %d documents: %w", len(rows), err)
		}
	}
	g.log.Debug("lineage recorded", "vehicle", vehicle, "documents", len(docs))
	return nil
}

// SourceCounts returns the number of documents per source for vehicle.
func (g *Graph) SourceCounts(ctx context.Context, vehicle string) (map[string]int, error) {
	sess := g.sessions(ctx)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx,
		`MATCH (:Vehicle {type: $vehicle})-[:HAS_DOCUMENT]->(d:KBDocument)
		 RETURN d.source AS source, count(d) AS n`,
		map[string]any{"vehicle": vehicle})
	if err != nil {
		return nil, err
	}
	out := map[string]int{}
	for res.Next(ctx) {
		rec := res.Record()
		src, _, err := neo4j.GetRecordValue[string](rec, "source")
		if err != nil {
			return nil, err
		}
		n, _, err := neo4j.GetRecordValue[int64](rec, "n")
		if err != nil {
			return nil, err
		}
		out[src] = int(n)
	}
	return out, res.Err()
}

// Document returns one document node.
func (g *Graph) Document(ctx context.Context, src domain.Source, sourceID string) (Document, error) {
	return g.docs.Get(ctx, DocumentID(src, sourceID))
}

// Documents lists a vehicle's documents, optionally of one source.
func (g *Graph) Documents(ctx context.Context, vehicle string, src domain.Source, limit int) ([]Document, error) {
	filter := map[string]any{"vehicle": vehicle}
	if src != "" {
		filter["source"] = string(src)
	}
	return g.docs.List(ctx, repo.ListOpts{Limit: limit, Filter: filter})
}

func documentFromRecord(rec *neo4j.Record) (Document, error) {
	node, _, err := neo4j.GetRecordValue[neo4j.Node](rec, "n")
	if err != nil {
		return Document{}, err
	}
	p := node.Props
	d := Document{}
	d.ID, _ = p["id"].(string)
	d.Vehicle, _ = p["vehicle"].(string)
	d.Source, _ = p["source"].(string)
	d.SourceID, _ = p["source_id"].(string)
	d.Category, _ = p["category"].(string)
	d.Title, _ = p["title"].(string)
	d.Quality, _ = p["quality"].(float64)
	d.URL, _ = p["url"].(string)
	return d, nil
}
