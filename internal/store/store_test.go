package store_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaviraOSS/openmemory-go/internal/config"
	"github.com/CaviraOSS/openmemory-go/internal/migrate"
	"github.com/CaviraOSS/openmemory-go/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.OpenSQLite(config.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "test.sqlite"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{VectorDim: 4}
	require.NoError(t, migrate.NewRunner(db, store.DialectSQLite, cfg, logger).Run(context.Background()))

	return store.New(db, store.DialectSQLite, store.SQLiteTables(), logger)
}

func sampleMemory(id, tenantID string) *store.Memory {
	return &store.Memory{
		ID:            id,
		TenantID:      tenantID,
		UserID:        "u1",
		PrimarySector: "semantic",
		Content:       "water boils at 100C",
		Tags:          []string{"physics", "facts"},
		Metadata:      map[string]any{"source": "test"},
		Salience:      0.4,
		DecayLambda:   0.005,
		Version:       1,
		CreatedAt:     1000,
		UpdatedAt:     1000,
		LastSeenAt:    1000,
	}
}

func TestMemoryCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := sampleMemory("m1", "default")
	require.NoError(t, s.InsertMemory(ctx, m))

	got, err := s.GetMemory(ctx, "default", "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, m.Tags, got.Tags)
	assert.Equal(t, "test", got.Metadata["source"])
	assert.Equal(t, int64(1), got.Version)

	got.Content = "water boils at 100C at sea level"
	got.Version++
	got.UpdatedAt = 2000
	require.NoError(t, s.UpdateMemory(ctx, got))

	got2, err := s.GetMemory(ctx, "default", "m1")
	require.NoError(t, err)
	assert.Equal(t, "water boils at 100C at sea level", got2.Content)
	assert.Equal(t, int64(2), got2.Version)
	assert.Equal(t, int64(2000), got2.UpdatedAt)

	require.NoError(t, s.DeleteMemory(ctx, "default", "m1"))
	got3, err := s.GetMemory(ctx, "default", "m1")
	require.NoError(t, err)
	assert.Nil(t, got3)
}

func TestGetMemoryMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetMemory(context.Background(), "default", "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateMemoryMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateMemory(context.Background(), sampleMemory("ghost", "default"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.InsertMemory(ctx, sampleMemory("m1", "tenant-a")))

	got, err := s.GetMemory(ctx, "tenant-b", "m1")
	require.NoError(t, err)
	assert.Nil(t, got)

	mems, err := s.ListMemories(ctx, "tenant-b", 10, 0, "")
	require.NoError(t, err)
	assert.Empty(t, mems)
}

func TestListMemoriesPagingAndUserFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i, id := range []string{"m1", "m2", "m3"} {
		m := sampleMemory(id, "default")
		m.CreatedAt = int64(1000 + i)
		if id == "m3" {
			m.UserID = "u2"
		}
		require.NoError(t, s.InsertMemory(ctx, m))
	}

	mems, err := s.ListMemories(ctx, "default", 2, 0, "")
	require.NoError(t, err)
	require.Len(t, mems, 2)
	// Newest first.
	assert.Equal(t, "m3", mems[0].ID)
	assert.Equal(t, "m2", mems[1].ID)

	mems, err = s.ListMemories(ctx, "default", 10, 2, "")
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, "m1", mems[0].ID)

	mems, err = s.ListMemories(ctx, "default", 10, 0, "u2")
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, "m3", mems[0].ID)
}

func TestTouchLastSeen(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.InsertMemory(ctx, sampleMemory("m1", "default")))
	require.NoError(t, s.TouchLastSeen(ctx, "default", "m1", 5000, 0.55))

	got, err := s.GetMemory(ctx, "default", "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.LastSeenAt)
	assert.InDelta(t, 0.55, got.Salience, 1e-9)
	// Content untouched.
	assert.Equal(t, "water boils at 100C", got.Content)
}

func TestUpsertWaypointIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	w := &store.Waypoint{
		SrcID: "a", DstID: "b", TenantID: "default", UserID: "u1",
		Weight: 0.6, CreatedAt: 1000, UpdatedAt: 1000,
	}
	require.NoError(t, s.UpsertWaypoint(ctx, w))

	w.Weight = 0.8
	w.UpdatedAt = 2000
	require.NoError(t, s.UpsertWaypoint(ctx, w))

	got, err := s.GetWaypoint(ctx, "default", "a", "b")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 0.8, got.Weight, 1e-9)
	assert.Equal(t, int64(2000), got.UpdatedAt)

	// Still exactly one edge a->b.
	neighbors, err := s.Neighbors(ctx, "default", "a")
	require.NoError(t, err)
	assert.Len(t, neighbors, 1)
}

func TestWaypointMultiEdge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, dst := range []string{"b", "c", "d"} {
		require.NoError(t, s.UpsertWaypoint(ctx, &store.Waypoint{
			SrcID: "a", DstID: dst, TenantID: "default",
			Weight: 0.5, CreatedAt: 1000, UpdatedAt: 1000,
		}))
	}

	neighbors, err := s.Neighbors(ctx, "default", "a")
	require.NoError(t, err)
	assert.Len(t, neighbors, 3)
}

func TestWaypointSelfLoopRejected(t *testing.T) {
	s := newTestStore(t)
	err := s.UpsertWaypoint(context.Background(), &store.Waypoint{
		SrcID: "a", DstID: "a", TenantID: "default", Weight: 1,
	})
	assert.ErrorIs(t, err, store.ErrSelfLoop)
}

func TestReinforceWaypoint(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Absent edge is created at the base weight.
	require.NoError(t, s.ReinforceWaypoint(ctx, "default", "u1", "a", "b", 0.05, 0.3, 1000))
	got, err := s.GetWaypoint(ctx, "default", "a", "b")
	require.NoError(t, err)
	assert.InDelta(t, 0.3, got.Weight, 1e-9)

	// Existing edge is bumped by the boost.
	require.NoError(t, s.ReinforceWaypoint(ctx, "default", "u1", "a", "b", 0.05, 0.3, 2000))
	got, err = s.GetWaypoint(ctx, "default", "a", "b")
	require.NoError(t, err)
	assert.InDelta(t, 0.35, got.Weight, 1e-9)

	// Capped at 1.0.
	require.NoError(t, s.ReinforceWaypoint(ctx, "default", "u1", "a", "b", 5, 0.3, 3000))
	got, err = s.GetWaypoint(ctx, "default", "a", "b")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.Weight, 1e-9)
}

func TestNeighborsOrderedByWeight(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertWaypoint(ctx, &store.Waypoint{SrcID: "a", DstID: "weak", TenantID: "default", Weight: 0.2}))
	require.NoError(t, s.UpsertWaypoint(ctx, &store.Waypoint{SrcID: "a", DstID: "strong", TenantID: "default", Weight: 0.9}))

	neighbors, err := s.Neighbors(ctx, "default", "a")
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, "strong", neighbors[0].DstID)
	assert.Equal(t, "weak", neighbors[1].DstID)
}

func TestDeleteWaypointsForBothDirections(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertWaypoint(ctx, &store.Waypoint{SrcID: "x", DstID: "y", TenantID: "default", Weight: 0.5}))
	require.NoError(t, s.UpsertWaypoint(ctx, &store.Waypoint{SrcID: "y", DstID: "x", TenantID: "default", Weight: 0.5}))
	require.NoError(t, s.UpsertWaypoint(ctx, &store.Waypoint{SrcID: "y", DstID: "z", TenantID: "default", Weight: 0.5}))

	require.NoError(t, s.DeleteWaypointsFor(ctx, "default", "x"))

	got, err := s.GetWaypoint(ctx, "default", "x", "y")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = s.GetWaypoint(ctx, "default", "y", "x")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = s.GetWaypoint(ctx, "default", "y", "z")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestPruneWaypointsBelow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertWaypoint(ctx, &store.Waypoint{SrcID: "a", DstID: "b", TenantID: "default", Weight: 0.04}))
	require.NoError(t, s.UpsertWaypoint(ctx, &store.Waypoint{SrcID: "a", DstID: "c", TenantID: "default", Weight: 0.5}))

	n, err := s.PruneWaypointsBelow(ctx, "default", 0.05)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	neighbors, err := s.Neighbors(ctx, "default", "a")
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "c", neighbors[0].DstID)
}
