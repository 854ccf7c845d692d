package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// SQLStore persists vectors in the embedded database's vectors table, sharing
// the metadata store's handle. Search is a tenant+sector scan with in-process
// cosine ranking; fine at embedded scale, and the reason larger deployments
// move to the pgvector or Valkey backends.
type SQLStore struct {
	db     *sql.DB
	dim    int
	logger *logrus.Logger
}

func NewSQLStore(db *sql.DB, dim int, logger *logrus.Logger) *SQLStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &SQLStore{db: db, dim: dim, logger: logger}
}

func (s *SQLStore) StoreVector(ctx context.Context, id, sector string, vec []float32, dim int, tenantID, userID string) error {
	if err := checkDim(vec, dim, s.dim); err != nil {
		return err
	}
	if userID == "" {
		userID = "anonymous"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vectors (id, sector, tenant_id, user_id, v, dim)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id, sector)
		DO UPDATE SET user_id = excluded.user_id, v = excluded.v, dim = excluded.dim`,
		id, sector, tenantID, userID, VectorToBytes(vec), dim)
	if err != nil {
		return fmt.Errorf("sqlite store vector %s/%s: %w", sector, id, err)
	}
	return nil
}

func (s *SQLStore) DeleteVector(ctx context.Context, id, sector, tenantID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM vectors WHERE tenant_id = ? AND id = ? AND sector = ?",
		tenantID, id, sector)
	return err
}

func (s *SQLStore) DeleteVectors(ctx context.Context, id, tenantID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM vectors WHERE tenant_id = ? AND id = ?", tenantID, id)
	return err
}

func (s *SQLStore) SearchSimilar(ctx context.Context, sector string, query []float32, topK int, tenantID string) ([]Match, error) {
	searchTotal.WithLabelValues("sqlite", "scan").Inc()
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

func (s *SQLStore) GetVector(ctx context.Context, id, sector, tenantID string) (*Entry, error) {
	var raw []byte
	var dim int
	err := s.db.QueryRowContext(ctx,
		"SELECT v, dim FROM vectors WHERE tenant_id = ? AND id = ? AND sector = ?",
		tenantID, id, sector).Scan(&raw, &dim)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Entry{ID: id, Sector: sector, Vector: BytesToVector(raw), Dim: dim}, nil
}

func (s *SQLStore) GetVectorsByID(ctx context.Context, id, tenantID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT sector, v, dim FROM vectors WHERE tenant_id = ? AND id = ? ORDER BY sector",
		tenantID, id)
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

func (s *SQLStore) GetVectorsBySector(ctx context.Context, sector, tenantID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, v, dim FROM vectors WHERE tenant_id = ? AND sector = ? ORDER BY id",
		tenantID, sector)
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
