// Package repo is a thin generic layer over Neo4j sessions: a Runner
// abstraction that tests can fake and a label-scoped node repository.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no node matches.
var ErrNotFound = errors.New("node not found")

// Repository reads and removes nodes of one kind.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination and filtering for List. Filter keys are
// matched as node properties.
type ListOpts struct {
	Offset int
	Limit  int
	Filter map[string]any
}
