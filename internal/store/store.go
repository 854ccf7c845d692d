package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Tables carries the (possibly schema-qualified) table identifiers the Store
// operates on.
type Tables struct {
	Memories  string
	Waypoints string
}

// SQLiteTables returns the fixed table names used by the embedded backend.
func SQLiteTables() Tables {
	return Tables{Memories: "memories", Waypoints: "waypoints"}
}

// Store reads and writes memory metadata and the waypoint graph. It is safe
// for concurrent reads; mutation ordering is enforced by the engine's
// sequencer, not here.
type Store struct {
	db      *sql.DB
	dialect Dialect
	tables  Tables
	logger  *logrus.Logger
}

func New(db *sql.DB, dialect Dialect, tables Tables, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{db: db, dialect: dialect, tables: tables, logger: logger}
}

// DB exposes the underlying handle for the migration runner.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InsertMemory(ctx context.Context, m *Memory) error {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	q := s.dialect.rebind(fmt.Sprintf(`
		INSERT INTO %s
			(id, tenant_id, user_id, primary_sector, content, tags, meta,
			 salience, decay_lambda, version, created_at, updated_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.tables.Memories))
	_, err = s.db.ExecContext(ctx, q,
		m.ID, m.TenantID, m.UserID, m.PrimarySector, m.Content, string(tags), string(meta),
		m.Salience, m.DecayLambda, m.Version, m.CreatedAt, m.UpdatedAt, m.LastSeenAt)
	if err != nil {
		return fmt.Errorf("insert memory %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) GetMemory(ctx context.Context, tenantID, id string) (*Memory, error) {
	q := s.dialect.rebind(fmt.Sprintf(`
		SELECT id, tenant_id, user_id, primary_sector, content, tags, meta,
		       salience, decay_lambda, version, created_at, updated_at, last_seen_at
		FROM %s WHERE tenant_id = ? AND id = ?`, s.tables.Memories))
	m, err := scanMemory(s.db.QueryRowContext(ctx, q, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// UpdateMemory rewrites the mutable columns (content, tags, metadata, sector)
// and bumps version and updated_at. The id never changes.
func (s *Store) UpdateMemory(ctx context.Context, m *Memory) error {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	q := s.dialect.rebind(fmt.Sprintf(`
		UPDATE %s
		SET content = ?, tags = ?, meta = ?, primary_sector = ?,
		    version = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`, s.tables.Memories))
	res, err := s.db.ExecContext(ctx, q,
		m.Content, string(tags), string(meta), m.PrimarySector,
		m.Version, m.UpdatedAt, m.TenantID, m.ID)
	if err != nil {
		return fmt.Errorf("update memory %s: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteMemory(ctx context.Context, tenantID, id string) error {
	q := s.dialect.rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE tenant_id = ? AND id = ?", s.tables.Memories))
	_, err := s.db.ExecContext(ctx, q, tenantID, id)
	return err
}

// ListMemories pages through a tenant's rows, newest first. userID narrows to
// one user when non-empty.
func (s *Store) ListMemories(ctx context.Context, tenantID string, limit, offset int, userID string) ([]Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if userID != "" {
		q := s.dialect.rebind(fmt.Sprintf(`
			SELECT id, tenant_id, user_id, primary_sector, content, tags, meta,
			       salience, decay_lambda, version, created_at, updated_at, last_seen_at
			FROM %s WHERE tenant_id = ? AND user_id = ?
			ORDER BY created_at DESC LIMIT ? OFFSET ?`, s.tables.Memories))
		rows, err = s.db.QueryContext(ctx, q, tenantID, userID, limit, offset)
	} else {
		q := s.dialect.rebind(fmt.Sprintf(`
			SELECT id, tenant_id, user_id, primary_sector, content, tags, meta,
			       salience, decay_lambda, version, created_at, updated_at, last_seen_at
			FROM %s WHERE tenant_id = ?
			ORDER BY created_at DESC LIMIT ? OFFSET ?`, s.tables.Memories))
		rows, err = s.db.QueryContext(ctx, q, tenantID, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// TouchLastSeen records a retrieval: last_seen_at and salience move, nothing
// else. Used by explicit reinforcement, never by the read-only query path.
func (s *Store) TouchLastSeen(ctx context.Context, tenantID, id string, lastSeenAt int64, salience float64) error {
	q := s.dialect.rebind(fmt.Sprintf(
		"UPDATE %s SET last_seen_at = ?, salience = ?, updated_at = ? WHERE tenant_id = ? AND id = ?",
		s.tables.Memories))
	_, err := s.db.ExecContext(ctx, q, lastSeenAt, salience, lastSeenAt, tenantID, id)
	return err
}

func (s *Store) UpsertWaypoint(ctx context.Context, w *Waypoint) error {
	if w.SrcID == w.DstID {
		return ErrSelfLoop
	}
	if w.UserID == "" {
		w.UserID = "anonymous"
	}
	q := s.dialect.rebind(fmt.Sprintf(`
		INSERT INTO %s (src_id, dst_id, tenant_id, user_id, weight, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (src_id, dst_id, tenant_id)
		DO UPDATE SET weight = EXCLUDED.weight, updated_at = EXCLUDED.updated_at`,
		s.tables.Waypoints))
	_, err := s.db.ExecContext(ctx, q,
		w.SrcID, w.DstID, w.TenantID, w.UserID, w.Weight, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert waypoint %s->%s: %w", w.SrcID, w.DstID, err)
	}
	return nil
}

// ReinforceWaypoint bumps an existing edge by boost, capped at 1.0, or
// creates it at baseWeight when absent. Read-modify-write is safe because
// waypoint mutations arrive through the sequencer.
func (s *Store) ReinforceWaypoint(ctx context.Context, tenantID, userID, srcID, dstID string, boost, baseWeight float64, now int64) error {
	if srcID == dstID {
		return ErrSelfLoop
	}
	existing, err := s.GetWaypoint(ctx, tenantID, srcID, dstID)
	if err != nil {
		return err
	}
	w := Waypoint{
		SrcID:     srcID,
		DstID:     dstID,
		TenantID:  tenantID,
		UserID:    userID,
		Weight:    baseWeight,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		w.UserID = existing.UserID
		w.CreatedAt = existing.CreatedAt
		w.Weight = existing.Weight + boost
		if w.Weight > 1.0 {
			w.Weight = 1.0
		}
	}
	return s.UpsertWaypoint(ctx, &w)
}

func (s *Store) GetWaypoint(ctx context.Context, tenantID, srcID, dstID string) (*Waypoint, error) {
	q := s.dialect.rebind(fmt.Sprintf(`
		SELECT src_id, dst_id, tenant_id, user_id, weight, created_at, updated_at
		FROM %s WHERE tenant_id = ? AND src_id = ? AND dst_id = ?`, s.tables.Waypoints))
	var w Waypoint
	err := s.db.QueryRowContext(ctx, q, tenantID, srcID, dstID).Scan(
		&w.SrcID, &w.DstID, &w.TenantID, &w.UserID, &w.Weight, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Neighbors returns the outgoing edges of src, strongest first.
func (s *Store) Neighbors(ctx context.Context, tenantID, srcID string) ([]Waypoint, error) {
	q := s.dialect.rebind(fmt.Sprintf(`
		SELECT src_id, dst_id, tenant_id, user_id, weight, created_at, updated_at
		FROM %s WHERE tenant_id = ? AND src_id = ?
		ORDER BY weight DESC`, s.tables.Waypoints))
	rows, err := s.db.QueryContext(ctx, q, tenantID, srcID)
	if err != nil {
		return nil, fmt.Errorf("waypoint neighbors of %s: %w", srcID, err)
	}
	defer rows.Close()

	var out []Waypoint
	for rows.Next() {
		var w Waypoint
		if err := rows.Scan(&w.SrcID, &w.DstID, &w.TenantID, &w.UserID, &w.Weight, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteWaypointsFor removes every edge touching id, in either direction.
func (s *Store) DeleteWaypointsFor(ctx context.Context, tenantID, id string) error {
	q := s.dialect.rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE tenant_id = ? AND (src_id = ? OR dst_id = ?)", s.tables.Waypoints))
	_, err := s.db.ExecContext(ctx, q, tenantID, id, id)
	return err
}

// PruneWaypointsBelow drops edges whose weight decayed under the threshold.
func (s *Store) PruneWaypointsBelow(ctx context.Context, tenantID string, threshold float64) (int64, error) {
	q := s.dialect.rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE tenant_id = ? AND weight < ?", s.tables.Waypoints))
	res, err := s.db.ExecContext(ctx, q, tenantID, threshold)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(r rowScanner) (*Memory, error) {
	var m Memory
	var tags, meta string
	err := r.Scan(&m.ID, &m.TenantID, &m.UserID, &m.PrimarySector, &m.Content,
		&tags, &meta, &m.Salience, &m.DecayLambda, &m.Version,
		&m.CreatedAt, &m.UpdatedAt, &m.LastSeenAt)
	if err != nil {
		return nil, err
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
			m.Tags = nil
		}
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			m.Metadata = nil
		}
	}
	return &m, nil
}
