package vector

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValkeyStore(t *testing.T, dim int) *ValkeyStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	// Protocol 2 matches what NewValkeyStore configures in production.
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { _ = client.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewValkeyStoreWithClient(client, dim, logger)
}

func TestValkeyStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestValkeyStore(t, 3)

	require.NoError(t, s.StoreVector(ctx, "m1", "semantic", []float32{1, 0, 0}, 3, "default", "u1"))

	e, err := s.GetVector(ctx, "m1", "semantic", "default")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, []float32{1, 0, 0}, e.Vector)
	assert.Equal(t, 3, e.Dim)
}

func TestValkeyStoreDimensionMismatch(t *testing.T) {
	s := newTestValkeyStore(t, 3)
	err := s.StoreVector(context.Background(), "m1", "semantic", []float32{1}, 1, "default", "")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

// The indexed path parses the RESP2 FT.SEARCH array form.
func TestParseIndexedReply(t *testing.T) {
	reply := []any{
		int64(3),
		"vec:default:semantic:a",
		[]any{"id", "a", "score", "0.1"},
		"vec:default:semantic:b",
		[]any{"id", "b", "score", "0.8"},
		// No id field stored; the id comes from the key's last segment.
		"vec:default:semantic:c",
		[]any{"score", "2"},
	}

	matches := parseIndexedReply(reply)
	require.Len(t, matches, 3)
	assert.Equal(t, "a", matches[0].ID)
	assert.InDelta(t, 0.95, matches[0].Score, 1e-9)
	assert.Equal(t, "b", matches[1].ID)
	assert.InDelta(t, 0.6, matches[1].Score, 1e-9)
	assert.Equal(t, "c", matches[2].ID)
	assert.InDelta(t, 0.0, matches[2].Score, 1e-9)
}

func TestParseIndexedReplyEmpty(t *testing.T) {
	assert.Empty(t, parseIndexedReply([]any{int64(0)}))
	assert.Empty(t, parseIndexedReply(nil))
}

// miniredis has no search module, so SearchSimilar must take the degraded
// scan path and still return correctly ranked results.
func TestValkeyStoreSearchFallsBackToScan(t *testing.T) {
	ctx := context.Background()
	s := newTestValkeyStore(t, 3)

	require.NoError(t, s.StoreVector(ctx, "exact", "semantic", []float32{1, 0, 0}, 3, "default", ""))
	require.NoError(t, s.StoreVector(ctx, "close", "semantic", []float32{0.9, 0.1, 0}, 3, "default", ""))
	require.NoError(t, s.StoreVector(ctx, "far", "semantic", []float32{0, 0, 1}, 3, "default", ""))

	matches, err := s.SearchSimilar(ctx, "semantic", []float32{1, 0, 0}, 2, "default")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "exact", matches[0].ID)
	assert.Equal(t, "close", matches[1].ID)
}

func TestValkeyStoreTenantIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestValkeyStore(t, 3)

	require.NoError(t, s.StoreVector(ctx, "m1", "semantic", []float32{1, 0, 0}, 3, "tenant-a", ""))

	matches, err := s.SearchSimilar(ctx, "semantic", []float32{1, 0, 0}, 10, "tenant-b")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestValkeyStoreDeleteVectors(t *testing.T) {
	ctx := context.Background()
	s := newTestValkeyStore(t, 3)

	require.NoError(t, s.StoreVector(ctx, "m1", "semantic", []float32{1, 0, 0}, 3, "default", ""))
	require.NoError(t, s.StoreVector(ctx, "m1", "episodic", []float32{0, 1, 0}, 3, "default", ""))
	require.NoError(t, s.StoreVector(ctx, "m2", "semantic", []float32{0, 0, 1}, 3, "default", ""))

	require.NoError(t, s.DeleteVectors(ctx, "m1", "default"))

	entries, err := s.GetVectorsByID(ctx, "m1", "default")
	require.NoError(t, err)
	assert.Empty(t, entries)

	e, err := s.GetVector(ctx, "m2", "semantic", "default")
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestValkeyStoreGetVectorsBySector(t *testing.T) {
	ctx := context.Background()
	s := newTestValkeyStore(t, 3)

	require.NoError(t, s.StoreVector(ctx, "b", "semantic", []float32{0, 1, 0}, 3, "default", ""))
	require.NoError(t, s.StoreVector(ctx, "a", "semantic", []float32{1, 0, 0}, 3, "default", ""))
	require.NoError(t, s.StoreVector(ctx, "c", "episodic", []float32{0, 0, 1}, 3, "default", ""))

	entries, err := s.GetVectorsBySector(ctx, "semantic", "default")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "b", entries[1].ID)
}

// The degraded Valkey path and the in-memory reference must agree on top-k
// for the same data.
func TestValkeyScanAgreesWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	vk := newTestValkeyStore(t, 4)
	mem := NewMemoryStore(4)

	vectors := map[string][]float32{
		"a": {1, 0, 0, 0},
		"b": {0.7, 0.7, 0, 0},
		"c": {0, 1, 0, 0},
		"d": {0, 0, 1, 0},
		"e": {0.5, 0.2, 0.8, 0},
	}
	for id, v := range vectors {
		require.NoError(t, vk.StoreVector(ctx, id, "semantic", v, 4, "default", ""))
		require.NoError(t, mem.StoreVector(ctx, id, "semantic", v, 4, "default", ""))
	}

	query := []float32{0.9, 0.3, 0.1, 0}
	got, err := vk.SearchSimilar(ctx, "semantic", query, 3, "default")
	require.NoError(t, err)
	want, err := mem.SearchSimilar(ctx, "semantic", query, 3, "default")
	require.NoError(t, err)

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.InDelta(t, want[i].Score, got[i].Score, 1e-6)
	}
}
