package vector

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/CaviraOSS/openmemory-go/internal/config"
)

// ValkeyStore keeps each vector as a hash record under
// vec:{tenant}:{sector}:{id}. Search first attempts a KNN query against the
// per-tenant-per-sector index idx:{tenant}:{sector}; when the index is
// missing or the query errors it degrades to a full scan of the namespace
// with in-process cosine similarity. The degraded path is O(n) and logged
// distinctly.
type ValkeyStore struct {
	client *redis.Client
	dim    int
	logger *logrus.Logger
}

func NewValkeyStore(cfg config.ValkeyConfig, dim int, logger *logrus.Logger) *ValkeyStore {
	if logger == nil {
		logger = logrus.New()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		// FT.SEARCH replies are parsed in their RESP2 array form; RESP3
		// returns a map instead.
		Protocol: 2,
	})
	return &ValkeyStore{client: client, dim: dim, logger: logger}
}

// NewValkeyStoreWithClient wires an existing client, used by tests.
func NewValkeyStoreWithClient(client *redis.Client, dim int, logger *logrus.Logger) *ValkeyStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &ValkeyStore{client: client, dim: dim, logger: logger}
}

func (s *ValkeyStore) Close() error {
	return s.client.Close()
}

func (s *ValkeyStore) key(id, sector, tenantID string) string {
	return fmt.Sprintf("vec:%s:%s:%s", tenantID, sector, id)
}

func (s *ValkeyStore) indexName(sector, tenantID string) string {
	return fmt.Sprintf("idx:%s:%s", tenantID, sector)
}

func (s *ValkeyStore) StoreVector(ctx context.Context, id, sector string, vec []float32, dim int, tenantID, userID string) error {
	if err := checkDim(vec, dim, s.dim); err != nil {
		return err
	}
	if userID == "" {
		userID = "anonymous"
	}
	key := s.key(id, sector, tenantID)
	err := s.client.HSet(ctx, key, map[string]any{
		"v":         VectorToBytes(vec),
		"dim":       dim,
		"id":        id,
		"sector":    sector,
		"tenant_id": tenantID,
		"user_id":   userID,
	}).Err()
	if err != nil {
		return fmt.Errorf("valkey store vector %s: %w", key, err)
	}
	return nil
}

func (s *ValkeyStore) DeleteVector(ctx context.Context, id, sector, tenantID string) error {
	return s.client.Del(ctx, s.key(id, sector, tenantID)).Err()
}

func (s *ValkeyStore) DeleteVectors(ctx context.Context, id, tenantID string) error {
	keys, err := s.scanKeys(ctx, fmt.Sprintf("vec:%s:*:%s", tenantID, id))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *ValkeyStore) SearchSimilar(ctx context.Context, sector string, query []float32, topK int, tenantID string) ([]Match, error) {
	matches, err := s.searchIndexed(ctx, sector, query, topK, tenantID)
	if err == nil {
		searchTotal.WithLabelValues("valkey", "indexed").Inc()
		return matches, nil
	}

	fallbackTotal.WithLabelValues("valkey").Inc()
	searchTotal.WithLabelValues("valkey", "scan").Inc()
	s.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"sector":    sector,
		"index":     s.indexName(sector, tenantID),
	}).WithError(err).Warn("indexed search unavailable, falling back to full scan")
	return s.searchScan(ctx, sector, query, topK, tenantID)
}

// searchIndexed issues FT.SEARCH with a KNN clause against the prebuilt
// index. The reply is the RESP2 array form:
// [total, key1, [field, value, ...], key2, ...].
func (s *ValkeyStore) searchIndexed(ctx context.Context, sector string, query []float32, topK int, tenantID string) ([]Match, error) {
	raw, err := s.client.Do(ctx,
		"FT.SEARCH",
		s.indexName(sector, tenantID),
		fmt.Sprintf("*=>[KNN %d @v $blob AS score]", topK),
		"PARAMS", "2", "blob", VectorToBytes(query),
		"DIALECT", "2",
	).Slice()
	if err != nil {
		return nil, err
	}
	return parseIndexedReply(raw), nil
}

// parseIndexedReply decodes the RESP2 FT.SEARCH array form:
// [total, key1, [field, value, ...], key2, ...]. The id field wins when
// present; otherwise it is recovered from the key's last segment.
func parseIndexedReply(raw []any) []Match {
	matches := make([]Match, 0, len(raw)/2)
	for i := 1; i+1 < len(raw); i += 2 {
		key, _ := raw[i].(string)
		fields, _ := raw[i+1].([]any)

		var id string
		var dist float64
		for j := 0; j+1 < len(fields); j += 2 {
			name, _ := fields[j].(string)
			val, _ := fields[j+1].(string)
			switch name {
			case "id":
				id = val
			case "score":
				dist, _ = strconv.ParseFloat(val, 64)
			}
		}
		if id == "" {
			parts := strings.Split(key, ":")
			id = parts[len(parts)-1]
		}
		// Cosine distance in [0,2] becomes a [0,1] similarity.
		matches = append(matches, Match{ID: id, Score: 1 - dist/2})
	}
	return matches
}

// searchScan is the degraded path: decode every vector in the tenant+sector
// namespace and rank by cosine similarity in-process.
func (s *ValkeyStore) searchScan(ctx context.Context, sector string, query []float32, topK int, tenantID string) ([]Match, error) {
	keys, err := s.scanKeys(ctx, fmt.Sprintf("vec:%s:%s:*", tenantID, sector))
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(keys))
	for start := 0; start < len(keys); start += 100 {
		end := start + 100
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		pipe := s.client.Pipeline()
		cmds := make([]*redis.StringCmd, len(batch))
		for i, k := range batch {
			cmds[i] = pipe.HGet(ctx, k, "v")
		}
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return nil, fmt.Errorf("valkey scan pipeline: %w", err)
		}
		for i, cmd := range cmds {
			raw, err := cmd.Bytes()
			if err != nil {
				continue
			}
			parts := strings.Split(batch[i], ":")
			id := parts[len(parts)-1]
			matches = append(matches, Match{ID: id, Score: CosineSimilarity(query, BytesToVector(raw))})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *ValkeyStore) GetVector(ctx context.Context, id, sector, tenantID string) (*Entry, error) {
	vals, err := s.client.HMGet(ctx, s.key(id, sector, tenantID), "v", "dim").Result()
	if err != nil {
		return nil, err
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, nil
	}
	dim := 0
	if d, ok := vals[1].(string); ok {
		dim, _ = strconv.Atoi(d)
	}
	return &Entry{ID: id, Sector: sector, Vector: BytesToVector([]byte(raw)), Dim: dim}, nil
}

func (s *ValkeyStore) GetVectorsByID(ctx context.Context, id, tenantID string) ([]Entry, error) {
	keys, err := s.scanKeys(ctx, fmt.Sprintf("vec:%s:*:%s", tenantID, id))
	if err != nil {
		return nil, err
	}
	entries, err := s.fetchEntries(ctx, keys)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Sector < entries[j].Sector })
	return entries, nil
}

func (s *ValkeyStore) GetVectorsBySector(ctx context.Context, sector, tenantID string) ([]Entry, error) {
	keys, err := s.scanKeys(ctx, fmt.Sprintf("vec:%s:%s:*", tenantID, sector))
	if err != nil {
		return nil, err
	}
	entries, err := s.fetchEntries(ctx, keys)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (s *ValkeyStore) fetchEntries(ctx context.Context, keys []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(keys))
	for start := 0; start < len(keys); start += 100 {
		end := start + 100
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		pipe := s.client.Pipeline()
		cmds := make([]*redis.SliceCmd, len(batch))
		for i, k := range batch {
			cmds[i] = pipe.HMGet(ctx, k, "v", "dim")
		}
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return nil, fmt.Errorf("valkey fetch pipeline: %w", err)
		}
		for i, cmd := range cmds {
			vals := cmd.Val()
			if len(vals) < 2 {
				continue
			}
			raw, ok := vals[0].(string)
			if !ok {
				continue
			}
			dim := 0
			if d, ok := vals[1].(string); ok {
				dim, _ = strconv.Atoi(d)
			}
			// Key layout: vec:{tenant}:{sector}:{id}.
			parts := strings.SplitN(batch[i], ":", 4)
			if len(parts) != 4 {
				continue
			}
			entries = append(entries, Entry{
				ID:     parts[3],
				Sector: parts[2],
				Vector: BytesToVector([]byte(raw)),
				Dim:    dim,
			})
		}
	}
	return entries, nil
}

func (s *ValkeyStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("valkey scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
