package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/CaviraOSS/openmemory-go/internal/config"
)

// PostgresStore is the native ANN backend. With pgvector enabled each vector
// is stored twice: in an `embedding vector(n)` column served by an HNSW index
// for O(log n) search, and in a BYTEA column holding the portable byte
// encoding for backend migration and export. With pgvector disabled it keeps
// only the byte form and searches by full scan.
type PostgresStore struct {
	pool        *pgxpool.Pool
	table       string
	dim         int
	usePgvector bool
	logger      *logrus.Logger
}

// ConnString renders a pgx connection string from the config.
func ConnString(cfg config.PostgresConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)
}

// QualifiedTable quotes a schema.table pair for use as a SQL identifier.
func QualifiedTable(schema, table string) string {
	quote := func(s string) string {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return quote(schema) + "." + quote(table)
}

// NewPostgresStore connects a pool and, when pgvector is requested, ensures
// the extension exists. A failure to create the extension is surfaced with
// remediation guidance rather than silently degrading.
func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig, dim int, usePgvector bool, logger *logrus.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	pool, err := pgxpool.New(ctx, ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if usePgvector {
		if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			pool.Close()
			return nil, fmt.Errorf("enable pgvector extension (install it or run CREATE EXTENSION vector as a superuser): %w", err)
		}
	}
	logger.WithFields(logrus.Fields{
		"database": cfg.Database,
		"pgvector": usePgvector,
	}).Info("connected to postgres vector store")
	return &PostgresStore{
		pool:        pool,
		table:       QualifiedTable(cfg.Schema, cfg.VectorsTable),
		dim:         dim,
		usePgvector: usePgvector,
		logger:      logger,
	}, nil
}

// NewPostgresStoreWithPool wires an existing pool, used by tests and by
// callers sharing one pool between the metadata and vector layers.
func NewPostgresStoreWithPool(pool *pgxpool.Pool, schema, table string, dim int, usePgvector bool, logger *logrus.Logger) *PostgresStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &PostgresStore{
		pool:        pool,
		table:       QualifiedTable(schema, table),
		dim:         dim,
		usePgvector: usePgvector,
		logger:      logger,
	}
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) StoreVector(ctx context.Context, id, sector string, vec []float32, dim int, tenantID, userID string) error {
	if err := checkDim(vec, dim, s.dim); err != nil {
		return err
	}
	if userID == "" {
		userID = "anonymous"
	}
	raw := VectorToBytes(vec)

	if s.usePgvector {
		sql := fmt.Sprintf(`
			INSERT INTO %s (id, sector, tenant_id, user_id, embedding, v, dim)
			VALUES ($1, $2, $3, $4, $5::vector, $6, $7)
			ON CONFLICT (tenant_id, id, sector)
			DO UPDATE SET
				user_id = EXCLUDED.user_id,
				embedding = EXCLUDED.embedding,
				v = EXCLUDED.v,
				dim = EXCLUDED.dim`, s.table)
		if _, err := s.pool.Exec(ctx, sql, id, sector, tenantID, userID, vectorToString(vec), raw, dim); err != nil {
			return fmt.Errorf("postgres store vector %s/%s: %w", sector, id, err)
		}
		return nil
	}

	sql := fmt.Sprintf(`
		INSERT INTO %s (id, sector, tenant_id, user_id, v, dim)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, id, sector)
		DO UPDATE SET
			user_id = EXCLUDED.user_id,
			v = EXCLUDED.v,
			dim = EXCLUDED.dim`, s.table)
	if _, err := s.pool.Exec(ctx, sql, id, sector, tenantID, userID, raw, dim); err != nil {
		return fmt.Errorf("postgres store vector %s/%s: %w", sector, id, err)
	}
	return nil
}

func (s *PostgresStore) DeleteVector(ctx context.Context, id, sector, tenantID string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE tenant_id = $1 AND id = $2 AND sector = $3", s.table)
	_, err := s.pool.Exec(ctx, sql, tenantID, id, sector)
	return err
}

func (s *PostgresStore) DeleteVectors(ctx context.Context, id, tenantID string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE tenant_id = $1 AND id = $2", s.table)
	_, err := s.pool.Exec(ctx, sql, tenantID, id)
	return err
}

func (s *PostgresStore) SearchSimilar(ctx context.Context, sector string, query []float32, topK int, tenantID string) ([]Match, error) {
	if s.usePgvector {
		return s.searchIndexed(ctx, sector, query, topK, tenantID)
	}
	fallbackTotal.WithLabelValues("postgres").Inc()
	searchTotal.WithLabelValues("postgres", "scan").Inc()
	s.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"sector":    sector,
	}).Warn("pgvector disabled, searching by full scan")
	return s.searchScan(ctx, sector, query, topK, tenantID)
}

// searchIndexed orders by the cosine distance operator so the HNSW index can
// serve the query. Distance in [0,2] becomes a [0,1] similarity via
// 1 - distance/2.
func (s *PostgresStore) searchIndexed(ctx context.Context, sector string, query []float32, topK int, tenantID string) ([]Match, error) {
	searchTotal.WithLabelValues("postgres", "indexed").Inc()
	sql := fmt.Sprintf(`
		SELECT id, 1 - (embedding <-> $1::vector) / 2 AS score
		FROM %s
		WHERE tenant_id = $2 AND sector = $3 AND embedding IS NOT NULL
		ORDER BY embedding <-> $1::vector
		LIMIT $4`, s.table)

	rows, err := s.pool.Query(ctx, sql, vectorToString(query), tenantID, sector, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres similarity search: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, topK)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Score); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *PostgresStore) searchScan(ctx context.Context, sector string, query []float32, topK int, tenantID string) ([]Match, error) {
	entries, err := s.GetVectorsBySector(ctx, sector, tenantID)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(entries))
	for _, e := range entries {
		matches = append(matches, Match{ID: e.ID, Score: CosineSimilarity(query, e.Vector)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *PostgresStore) GetVector(ctx context.Context, id, sector, tenantID string) (*Entry, error) {
	sql := fmt.Sprintf("SELECT v, dim FROM %s WHERE tenant_id = $1 AND id = $2 AND sector = $3", s.table)
	var raw []byte
	var dim int
	err := s.pool.QueryRow(ctx, sql, tenantID, id, sector).Scan(&raw, &dim)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &Entry{ID: id, Sector: sector, Vector: BytesToVector(raw), Dim: dim}, nil
}

func (s *PostgresStore) GetVectorsByID(ctx context.Context, id, tenantID string) ([]Entry, error) {
	sql := fmt.Sprintf("SELECT sector, v, dim FROM %s WHERE tenant_id = $1 AND id = $2 ORDER BY sector", s.table)
	rows, err := s.pool.Query(ctx, sql, tenantID, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var sector string
		var raw []byte
		var dim int
		if err := rows.Scan(&sector, &raw, &dim); err != nil {
			return nil, err
		}
		out = append(out, Entry{ID: id, Sector: sector, Vector: BytesToVector(raw), Dim: dim})
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetVectorsBySector(ctx context.Context, sector, tenantID string) ([]Entry, error) {
	sql := fmt.Sprintf("SELECT id, v, dim FROM %s WHERE tenant_id = $1 AND sector = $2 ORDER BY id", s.table)
	rows, err := s.pool.Query(ctx, sql, tenantID, sector)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var id string
		var raw []byte
		var dim int
		if err := rows.Scan(&id, &raw, &dim); err != nil {
			return nil, err
		}
		out = append(out, Entry{ID: id, Sector: sector, Vector: BytesToVector(raw), Dim: dim})
	}
	return out, rows.Err()
}
