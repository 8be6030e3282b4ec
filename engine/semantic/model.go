package semantic

import "github.com/google/uuid"

// Record is one chunk with its embedding, ready for upsert.
type Record struct {
	ChunkID  string
	Vector   []float32
	Text     string
	Source   string
	SourceID string
	Category string
	Metadata map[string]any // scalar values only
}

// Hit is one nearest neighbour. Distance is the cosine distance, so the
// similarity is 1 - Distance.
type Hit struct {
	ChunkID  string         `json:"chunk_id"`
	Text     string         `json:"text"`
	Source   string         `json:"source"`
	SourceID string         `json:"source_id"`
	Category string         `json:"category"`
	Distance float64        `json:"distance"`
	Metadata map[string]any `json:"metadata"`
}

// Similarity is 1 - Distance.
func (h Hit) Similarity() float64 { return 1 - h.Distance }

// pointNamespace scopes the point ids derived from chunk ids.
var pointNamespace = uuid.MustParse("6f1c5d2e-8a4b-4c1e-9d3f-2b7a0e5c4f19")

// PointID maps a chunk id to the UUID qdrant stores it under. The mapping
// is stable, so re-upserting a chunk overwrites it.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// Reserved payload keys.
const (
	keyChunkID  = "chunk_id"
	keyText     = "text"
	keySource   = "source"
	keySourceID = "source_id"
	keyCategory = "category"
)
