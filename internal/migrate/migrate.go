// Package migrate applies ordered, versioned schema migrations to the
// metadata database. Versions are recorded in schema_version; statements are
// written per dialect with identifier placeholders substituted before
// execution. Re-running is safe: applied versions are skipped, benign
// "already exists" failures are swallowed.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CaviraOSS/openmemory-go/internal/config"
	"github.com/CaviraOSS/openmemory-go/internal/store"
)

// Migration is one versioned schema step with per-dialect statement lists.
// Guard, when set, names a column whose presence proves the step already ran
// out-of-band; the step is then recorded and skipped.
type Migration struct {
	Version  string
	Desc     string
	SQLite   []string
	Postgres []string
	Guard    *Guard
	// RequiresPgvector steps run only on Postgres with pgvector enabled.
	// They are skipped without being recorded so a later enablement still
	// picks them up.
	RequiresPgvector bool
}

// Guard identifies a column whose existence makes a migration a no-op.
type Guard struct {
	Table  string
	Column string
}

// Runner drives the migration list against one database.
type Runner struct {
	db      *sql.DB
	dialect store.Dialect
	cfg     *config.Config
	logger  *logrus.Logger
}

func NewRunner(db *sql.DB, dialect store.Dialect, cfg *config.Config, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{db: db, dialect: dialect, cfg: cfg, logger: logger}
}

// Run applies every migration newer than the recorded version, in order.
func (r *Runner) Run(ctx context.Context) error {
	current, err := r.currentVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	r.logger.WithField("version", orNone(current)).Info("checking for pending migrations")

	for _, m := range Migrations() {
		if current != "" && compareVersions(m.Version, current) <= 0 {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %s: %w", m.Version, err)
		}
	}
	r.logger.Info("all migrations completed")
	return nil
}

func (r *Runner) apply(ctx context.Context, m Migration) error {
	log := r.logger.WithFields(logrus.Fields{"version": m.Version, "desc": m.Desc})

	if m.RequiresPgvector {
		if r.dialect != store.DialectPostgres || !r.cfg.UsePgvector {
			log.Debug("pgvector migration skipped for this backend")
			return nil
		}
		if err := r.EnsurePgvector(ctx); err != nil {
			return err
		}
	}
	if m.Guard != nil {
		exists, err := r.columnExists(ctx, r.tableName(m.Guard.Table), m.Guard.Column)
		if err != nil {
			return err
		}
		if exists {
			log.WithField("column", m.Guard.Column).Info("migration already applied, recording and skipping")
			return r.setVersion(ctx, m.Version)
		}
	}

	log.Info("running migration")
	stmts := m.SQLite
	if r.dialect == store.DialectPostgres {
		stmts = m.Postgres
	}
	for _, raw := range stmts {
		stmt := r.substitute(raw)
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			if isBenign(err) {
				log.WithError(err).Debug("skipping statement, object already present")
				continue
			}
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	if err := r.setVersion(ctx, m.Version); err != nil {
		return err
	}
	log.Info("migration completed")
	return nil
}

// EnsurePgvector creates the extension, required before the 1.3.0 step can
// add the vector column. The error message carries remediation guidance since
// extension creation commonly needs superuser rights.
func (r *Runner) EnsurePgvector(ctx context.Context) error {
	if r.dialect != store.DialectPostgres {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		r.logger.WithError(err).Error("pgvector extension unavailable; install it and run CREATE EXTENSION vector as a superuser, or set OM_PGVECTOR=false")
		return fmt.Errorf("enable pgvector: %w", err)
	}
	return nil
}

// substitute expands the {m} {v} {w} {u} {dim} placeholders into concrete,
// dialect-appropriate identifiers.
func (r *Runner) substitute(stmt string) string {
	rep := strings.NewReplacer(
		"{m}", r.tableName("memories"),
		"{v}", r.tableName("vectors"),
		"{w}", r.tableName("waypoints"),
		"{u}", r.tableName("users"),
		"{dim}", fmt.Sprintf("%d", r.cfg.VectorDim),
	)
	return rep.Replace(stmt)
}

func (r *Runner) tableName(logical string) string {
	if r.dialect != store.DialectPostgres {
		return logical
	}
	pg := r.cfg.Postgres
	var t string
	switch logical {
	case "memories":
		t = pg.MemoriesTable
	case "vectors":
		t = pg.VectorsTable
	case "waypoints":
		t = pg.WaypointsTable
	case "users":
		t = "openmemory_users"
	case "schema_version":
		t = "schema_version"
	default:
		t = logical
	}
	return fmt.Sprintf("%q.%q", pg.Schema, t)
}

func (r *Runner) currentVersion(ctx context.Context) (string, error) {
	exists, err := r.tableExists(ctx, "schema_version")
	if err != nil || !exists {
		return "", err
	}
	q := fmt.Sprintf("SELECT version FROM %s ORDER BY applied_at DESC LIMIT 1",
		r.tableName("schema_version"))
	var v string
	err = r.db.QueryRowContext(ctx, q).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

func (r *Runner) setVersion(ctx context.Context, version string) error {
	create := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (version TEXT PRIMARY KEY, applied_at BIGINT)",
		r.tableName("schema_version"))
	if _, err := r.db.ExecContext(ctx, create); err != nil {
		return err
	}
	upsert := fmt.Sprintf(`
		INSERT INTO %s (version, applied_at) VALUES (%s, %s)
		ON CONFLICT (version) DO UPDATE SET applied_at = EXCLUDED.applied_at`,
		r.tableName("schema_version"), r.ph(1), r.ph(2))
	_, err := r.db.ExecContext(ctx, upsert, version, time.Now().UnixMilli())
	return err
}

func (r *Runner) tableExists(ctx context.Context, name string) (bool, error) {
	if r.dialect == store.DialectPostgres {
		var exists bool
		err := r.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = $1 AND table_name = $2
			)`, r.cfg.Postgres.Schema, name).Scan(&exists)
		return exists, err
	}
	var n string
	err := r.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r *Runner) columnExists(ctx context.Context, table, column string) (bool, error) {
	if r.dialect == store.DialectPostgres {
		bare := table
		if i := strings.LastIndex(bare, "."); i >= 0 {
			bare = bare[i+1:]
		}
		bare = strings.ReplaceAll(bare, `"`, "")
		var exists bool
		err := r.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT FROM information_schema.columns
				WHERE table_schema = $1 AND table_name = $2 AND column_name = $3
			)`, r.cfg.Postgres.Schema, bare, column).Scan(&exists)
		return exists, err
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt any
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (r *Runner) ph(n int) string {
	if r.dialect == store.DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// compareVersions orders dotted versions by numeric component, so "1.10.0"
// sorts after "1.9.0". Missing components count as zero.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func isBenign(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "duplicate")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}

func orNone(v string) string {
	if v == "" {
		return "none"
	}
	return v
}
