// Package store is the relational metadata layer. It persists memory rows and
// the waypoint graph on either embedded SQLite or networked Postgres behind
// one dialect-aware implementation. Mutation ordering is the caller's concern;
// the engine funnels writes through the sequencer.
package store

import "errors"

var (
	// ErrNotFound is returned by lookups that target a missing row.
	ErrNotFound = errors.New("not found")
	// ErrSelfLoop rejects waypoints whose source and destination are the
	// same memory.
	ErrSelfLoop = errors.New("waypoint self-loop rejected")
)

// Memory is one stored metadata row, keyed (tenant_id, id).
type Memory struct {
	ID            string
	TenantID      string
	UserID        string
	PrimarySector string
	Content       string
	Tags          []string
	Metadata      map[string]any
	Salience      float64
	DecayLambda   float64
	Version       int64
	CreatedAt     int64
	UpdatedAt     int64
	LastSeenAt    int64
}

// Waypoint is a directed, weighted association between two memories. The
// primary key is (src_id, dst_id, tenant_id): the multi-edge form, the only
// representation consistent with multi-hop traversal.
type Waypoint struct {
	SrcID     string
	DstID     string
	TenantID  string
	UserID    string
	Weight    float64
	CreatedAt int64
	UpdatedAt int64
}
