// Package domain defines the canonical document and chunk model shared by the
// normalizers, the chunker, the builder and the retrieval router.
package domain

import "slices"

// Source tags the origin of a document.
type Source string

const (
	SourceForum    Source = "ih8mud"
	SourceNHTSA    Source = "nhtsa"
	SourceManual   Source = "fsm"
	SourceParts    Source = "sor"
	SourceArticles Source = "web"
	SourceYAML     Source = "yaml"
)

// Sources lists every known source in processing order.
var Sources = []Source{SourceYAML, SourceNHTSA, SourceArticles, SourceManual, SourceParts, SourceForum}

// Category is a retrieval partition. Each category is its own collection
// per vehicle.
type Category string

const (
	CategoryEngine            Category = "engine"
	CategoryDrivetrain        Category = "drivetrain"
	CategoryElectrical        Category = "electrical"
	CategoryChassis           Category = "chassis"
	CategoryBody              Category = "body"
	CategoryForumTroubleshoot Category = "forum_troubleshoot"
	CategoryForumMods         Category = "forum_mods"
	CategoryForumMaintenance  Category = "forum_maintenance"
	CategoryParts             Category = "parts"
	CategoryTSB               Category = "tsb"
	CategoryGeneral           Category = "general"
)

// Categories is the fixed category enumeration.
var Categories = []Category{
	CategoryEngine, CategoryDrivetrain, CategoryElectrical, CategoryChassis, CategoryBody,
	CategoryForumTroubleshoot, CategoryForumMods, CategoryForumMaintenance,
	CategoryParts, CategoryTSB, CategoryGeneral,
}

// Valid reports whether c is one of Categories.
func (c Category) Valid() bool { return slices.Contains(Categories, c) }

// CollectionName addresses the vector collection holding category c for vehicle.
func CollectionName(vehicle string, c Category) string {
	return vehicle + "_" + string(c)
}

// Document is a normalized record from any source, one JSONL line in
// data/processed.
type Document struct {
	Source       Source         `json:"source"`
	SourceID     string         `json:"source_id"`
	Title        string         `json:"title"`
	Content      string         `json:"content"`
	Category     Category       `json:"category"`
	URL          string         `json:"url"`
	Date         *string        `json:"date"`
	QualityScore float64        `json:"quality_score"`
	Metadata     map[string]any `json:"metadata"`
}

// DateString returns the date or "".
func (d Document) DateString() string {
	if d.Date == nil {
		return ""
	}
	return *d.Date
}

// Chunk is the unit stored in the vector index.
type Chunk struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Source   Source         `json:"source"`
	SourceID string         `json:"source_id"`
	Category Category       `json:"category"`
	Metadata map[string]any `json:"metadata"`
}

// IsScalar reports whether v can be stored as vector-store metadata.
func IsScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64, uint, uint32, uint64:
		return true
	}
	return false
}

// ScalarMetadata copies m keeping only scalar values. Nil values and nested
// structures are dropped.
func ScalarMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsScalar(v) {
			out[k] = v
		}
	}
	return out
}
