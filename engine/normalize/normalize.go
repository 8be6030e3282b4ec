// Package normalize turns raw scraper output into canonical documents.
// Every source has a Processor; a record that cannot be normalized is
// logged and dropped without failing its siblings.
package normalize

import (
	"context"
	"log/slog"
	"math"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
)

// Processor normalizes every raw record of one source under rawDir.
type Processor interface {
	Source() domain.Source
	Process(ctx context.Context, rawDir string) ([]domain.Document, error)
}

// Options are shared by all processors.
type Options struct {
	Vehicle string
	Log     *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Log == nil {
		return slog.Default()
	}
	return o.Log
}

// meta starts a metadata map carrying the vehicle type.
func (o Options) meta(kv ...any) map[string]any {
	m := map[string]any{"vehicle_type": o.Vehicle}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			m[k] = kv[i+1]
		}
	}
	return m
}

// keep validates d and logs why it was dropped.
func keep(log *slog.Logger, d domain.Document) bool {
	if err := domain.ValidateDocument(d); err != nil {
		log.Debug("document dropped", "source", d.Source, "source_id", d.SourceID, "error", err)
		return false
	}
	return true
}

func clamp01(v float64) float64 { return math.Max(0, math.Min(1, v)) }

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
