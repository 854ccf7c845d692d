// Package vector provides the pluggable vector-store abstraction: a native
// pgvector backend, a Valkey backend with brute-force fallback, an embedded
// SQLite table for the default backend, and a pure in-memory store for tests
// and throwaway runs.
package vector

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when a write carries a vector whose length
// differs from the deployment's configured dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Match is one similarity-search hit. Score is in roughly [0,1] with 1 for an
// identical vector.
type Match struct {
	ID    string
	Score float64
}

// Entry is one stored embedding of one memory in one sector.
type Entry struct {
	ID     string
	Sector string
	Vector []float32
	Dim    int
}

// Store is the common backend contract. Every method is scoped by tenant id;
// rows are keyed (tenant_id, id, sector) and writing an existing key upserts
// in place.
type Store interface {
	StoreVector(ctx context.Context, id, sector string, vec []float32, dim int, tenantID, userID string) error
	DeleteVector(ctx context.Context, id, sector, tenantID string) error
	// DeleteVectors removes the vectors for id across all sectors.
	DeleteVectors(ctx context.Context, id, tenantID string) error
	// SearchSimilar returns up to topK matches, best first.
	SearchSimilar(ctx context.Context, sector string, query []float32, topK int, tenantID string) ([]Match, error)
	// GetVector returns nil when no vector exists for the key.
	GetVector(ctx context.Context, id, sector, tenantID string) (*Entry, error)
	GetVectorsByID(ctx context.Context, id, tenantID string) ([]Entry, error)
	GetVectorsBySector(ctx context.Context, sector, tenantID string) ([]Entry, error)
}

func checkDim(vec []float32, dim, want int) error {
	if len(vec) != dim {
		return fmt.Errorf("%w: vector has %d components, dim says %d", ErrDimensionMismatch, len(vec), dim)
	}
	if want > 0 && dim != want {
		return fmt.Errorf("%w: got %d, deployment dimension is %d", ErrDimensionMismatch, dim, want)
	}
	return nil
}
