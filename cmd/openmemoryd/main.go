// openmemoryd wires the memory engine against the configured backend and
// exposes one-shot add/query/list/delete operations for smoke use and
// operational checks.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/CaviraOSS/openmemory-go/internal/config"
	"github.com/CaviraOSS/openmemory-go/internal/embedding"
	"github.com/CaviraOSS/openmemory-go/internal/engine"
	"github.com/CaviraOSS/openmemory-go/internal/migrate"
	"github.com/CaviraOSS/openmemory-go/internal/models"
	"github.com/CaviraOSS/openmemory-go/internal/store"
	"github.com/CaviraOSS/openmemory-go/internal/vector"
)

func main() {
	var (
		addContent = flag.String("add", "", "store a new memory with the given content")
		query      = flag.String("query", "", "query stored memories")
		deleteID   = flag.String("delete", "", "delete the memory with the given id")
		list       = flag.Bool("list", false, "list stored memories")
		tenantID   = flag.String("tenant", "", "tenant id (requires OM_MULTI_TENANT=true)")
		userID     = flag.String("user", "", "user id")
		tags       = flag.String("tags", "", "comma-separated tags for -add")
		k          = flag.Int("k", 10, "result count for -query")
		limit      = flag.Int("limit", 50, "page size for -list")
	)
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.FromEnv()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx := context.Background()
	eng, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("startup failed")
	}
	defer cleanup()
	defer eng.Close()

	switch {
	case *addContent != "":
		var tagList []string
		if *tags != "" {
			tagList = strings.Split(*tags, ",")
		}
		res, err := eng.Add(ctx, engine.AddRequest{
			Content:  *addContent,
			Tags:     tagList,
			TenantID: *tenantID,
			UserID:   *userID,
		})
		if err != nil {
			logger.WithError(err).Fatal("add failed")
		}
		fmt.Printf("%s\t%s\t%s\n", res.ID, res.PrimarySector, strings.Join(res.Sectors, ","))

	case *query != "":
		results, err := eng.Query(ctx, engine.QueryRequest{
			Query:    *query,
			K:        *k,
			TenantID: *tenantID,
			UserID:   *userID,
		})
		if err != nil {
			logger.WithError(err).Fatal("query failed")
		}
		for _, r := range results {
			fmt.Printf("%.4f\t%s\t%s\thops=%d\t%s\n", r.Score, r.ID, r.PrimarySector, r.Hops, r.Content)
		}

	case *deleteID != "":
		if err := eng.Delete(ctx, *tenantID, *deleteID); err != nil {
			logger.WithError(err).Fatal("delete failed")
		}
		fmt.Println("deleted", *deleteID)

	case *list:
		mems, err := eng.List(ctx, *tenantID, *limit, 0, *userID)
		if err != nil {
			logger.WithError(err).Fatal("list failed")
		}
		for _, m := range mems {
			fmt.Printf("%s\t%s\t%.3f\t%s\n", m.ID, m.PrimarySector, m.Salience, m.Content)
		}

	default:
		flag.Usage()
		os.Exit(2)
	}
}

// buildEngine opens the metadata store for the selected backend, applies
// migrations and pairs it with the matching vector store.
func buildEngine(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*engine.Engine, func(), error) {
	var (
		db      *store.Store
		vecs    vector.Store
		cleanup = func() {}
	)

	switch cfg.Backend {
	case config.BackendPostgres:
		sqlDB, err := store.OpenPostgres(cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		runner := migrate.NewRunner(sqlDB, store.DialectPostgres, cfg, logger)
		if err := runner.Run(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		pg := cfg.Postgres
		db = store.New(sqlDB, store.DialectPostgres, store.Tables{
			Memories:  vector.QualifiedTable(pg.Schema, pg.MemoriesTable),
			Waypoints: vector.QualifiedTable(pg.Schema, pg.WaypointsTable),
		}, logger)
		pgvec, err := vector.NewPostgresStore(ctx, pg, cfg.VectorDim, cfg.UsePgvector, logger)
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		vecs = pgvec
		cleanup = func() {
			pgvec.Close()
			_ = db.Close()
		}

	case config.BackendValkey:
		sqlDB, err := store.OpenSQLite(cfg.SQLite)
		if err != nil {
			return nil, nil, err
		}
		runner := migrate.NewRunner(sqlDB, store.DialectSQLite, cfg, logger)
		if err := runner.Run(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		db = store.New(sqlDB, store.DialectSQLite, store.SQLiteTables(), logger)
		vk := vector.NewValkeyStore(cfg.Valkey, cfg.VectorDim, logger)
		vecs = vk
		cleanup = func() {
			_ = vk.Close()
			_ = db.Close()
		}

	case config.BackendMemory:
		sqlDB, err := store.OpenSQLite(cfg.SQLite)
		if err != nil {
			return nil, nil, err
		}
		runner := migrate.NewRunner(sqlDB, store.DialectSQLite, cfg, logger)
		if err := runner.Run(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		db = store.New(sqlDB, store.DialectSQLite, store.SQLiteTables(), logger)
		vecs = vector.NewMemoryStore(cfg.VectorDim)
		cleanup = func() { _ = db.Close() }

	default: // sqlite
		sqlDB, err := store.OpenSQLite(cfg.SQLite)
		if err != nil {
			return nil, nil, err
		}
		runner := migrate.NewRunner(sqlDB, store.DialectSQLite, cfg, logger)
		if err := runner.Run(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		db = store.New(sqlDB, store.DialectSQLite, store.SQLiteTables(), logger)
		vecs = vector.NewSQLStore(db.DB(), cfg.VectorDim, logger)
		cleanup = func() { _ = db.Close() }
	}

	emb := embedding.New(cfg.Embed, cfg.VectorDim, logger)
	reg := models.NewRegistry(cfg.Models, logger)
	return engine.New(cfg, db, vecs, emb, reg, logger), cleanup, nil
}
