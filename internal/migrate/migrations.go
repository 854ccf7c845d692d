package migrate

// Migrations returns the ordered schema history. Placeholders {m} {v} {w} {u}
// expand to the memories, vectors, waypoints and users tables; {dim} to the
// configured vector dimension.
func Migrations() []Migration {
	return []Migration{
		{
			Version: "1.0.0",
			Desc:    "Base schema",
			SQLite: []string{
				`CREATE TABLE IF NOT EXISTS {m} (
					id TEXT NOT NULL,
					tenant_id TEXT NOT NULL DEFAULT 'default',
					primary_sector TEXT NOT NULL,
					content TEXT NOT NULL,
					tags TEXT,
					meta TEXT,
					salience REAL,
					decay_lambda REAL,
					created_at INTEGER,
					updated_at INTEGER,
					last_seen_at INTEGER,
					PRIMARY KEY (tenant_id, id)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_memories_sector ON {m}(tenant_id, primary_sector)`,
				`CREATE TABLE IF NOT EXISTS {v} (
					id TEXT NOT NULL,
					sector TEXT NOT NULL,
					tenant_id TEXT NOT NULL DEFAULT 'default',
					v BLOB NOT NULL,
					dim INTEGER NOT NULL,
					PRIMARY KEY (tenant_id, id, sector)
				)`,
				`CREATE TABLE IF NOT EXISTS {w} (
					src_id TEXT NOT NULL,
					dst_id TEXT NOT NULL,
					tenant_id TEXT NOT NULL DEFAULT 'default',
					weight REAL NOT NULL,
					created_at INTEGER,
					updated_at INTEGER,
					PRIMARY KEY (src_id, tenant_id)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_waypoints_src ON {w}(tenant_id, src_id)`,
				`CREATE INDEX IF NOT EXISTS idx_waypoints_dst ON {w}(tenant_id, dst_id)`,
			},
			Postgres: []string{
				`CREATE TABLE IF NOT EXISTS {m} (
					id TEXT NOT NULL,
					tenant_id TEXT NOT NULL DEFAULT 'default',
					primary_sector TEXT NOT NULL,
					content TEXT NOT NULL,
					tags TEXT,
					meta TEXT,
					salience DOUBLE PRECISION,
					decay_lambda DOUBLE PRECISION,
					created_at BIGINT,
					updated_at BIGINT,
					last_seen_at BIGINT,
					PRIMARY KEY (tenant_id, id)
				)`,
				`CREATE INDEX IF NOT EXISTS openmemory_memories_sector_idx ON {m}(tenant_id, primary_sector)`,
				`CREATE TABLE IF NOT EXISTS {v} (
					id TEXT NOT NULL,
					sector TEXT NOT NULL,
					tenant_id TEXT NOT NULL DEFAULT 'default',
					v BYTEA NOT NULL,
					dim INTEGER NOT NULL,
					PRIMARY KEY (tenant_id, id, sector)
				)`,
				`CREATE TABLE IF NOT EXISTS {w} (
					src_id TEXT NOT NULL,
					dst_id TEXT NOT NULL,
					tenant_id TEXT NOT NULL DEFAULT 'default',
					weight DOUBLE PRECISION NOT NULL,
					created_at BIGINT,
					updated_at BIGINT,
					PRIMARY KEY (src_id, tenant_id)
				)`,
				`CREATE INDEX IF NOT EXISTS openmemory_waypoints_src_idx ON {w}(tenant_id, src_id)`,
				`CREATE INDEX IF NOT EXISTS openmemory_waypoints_dst_idx ON {w}(tenant_id, dst_id)`,
			},
		},
		{
			Version: "1.2.0",
			Desc:    "Multi-user tenant support",
			Guard:   &Guard{Table: "memories", Column: "user_id"},
			SQLite: []string{
				`ALTER TABLE {m} ADD COLUMN user_id TEXT`,
				`ALTER TABLE {m} ADD COLUMN version INTEGER DEFAULT 1`,
				`CREATE INDEX IF NOT EXISTS idx_memories_user ON {m}(user_id)`,
				`ALTER TABLE {v} ADD COLUMN user_id TEXT`,
				`CREATE INDEX IF NOT EXISTS idx_vectors_user ON {v}(user_id)`,
				`CREATE TABLE IF NOT EXISTS waypoints_new (
					src_id TEXT NOT NULL,
					dst_id TEXT NOT NULL,
					tenant_id TEXT NOT NULL DEFAULT 'default',
					user_id TEXT,
					weight REAL NOT NULL,
					created_at INTEGER,
					updated_at INTEGER,
					PRIMARY KEY (src_id, dst_id, tenant_id)
				)`,
				`INSERT INTO waypoints_new
					SELECT src_id, dst_id, tenant_id, NULL, weight, created_at, updated_at FROM {w}`,
				`DROP TABLE {w}`,
				`ALTER TABLE waypoints_new RENAME TO waypoints`,
				`CREATE INDEX IF NOT EXISTS idx_waypoints_src ON {w}(tenant_id, src_id)`,
				`CREATE INDEX IF NOT EXISTS idx_waypoints_dst ON {w}(tenant_id, dst_id)`,
				`CREATE INDEX IF NOT EXISTS idx_waypoints_user ON {w}(user_id)`,
				`CREATE TABLE IF NOT EXISTS {u} (
					user_id TEXT PRIMARY KEY,
					summary TEXT,
					reflection_count INTEGER DEFAULT 0,
					created_at INTEGER,
					updated_at INTEGER
				)`,
			},
			Postgres: []string{
				`ALTER TABLE {m} ADD COLUMN IF NOT EXISTS user_id TEXT`,
				`ALTER TABLE {m} ADD COLUMN IF NOT EXISTS version BIGINT DEFAULT 1`,
				`CREATE INDEX IF NOT EXISTS openmemory_memories_user_idx ON {m}(user_id)`,
				`ALTER TABLE {v} ADD COLUMN IF NOT EXISTS user_id TEXT`,
				`CREATE INDEX IF NOT EXISTS openmemory_vectors_user_idx ON {v}(user_id)`,
				`ALTER TABLE {w} ADD COLUMN IF NOT EXISTS user_id TEXT`,
				`ALTER TABLE {w} DROP CONSTRAINT IF EXISTS openmemory_waypoints_pkey`,
				`ALTER TABLE {w} ADD PRIMARY KEY (src_id, dst_id, tenant_id)`,
				`CREATE INDEX IF NOT EXISTS openmemory_waypoints_user_idx ON {w}(user_id)`,
				`CREATE TABLE IF NOT EXISTS {u} (
					user_id TEXT PRIMARY KEY,
					summary TEXT,
					reflection_count INTEGER DEFAULT 0,
					created_at BIGINT,
					updated_at BIGINT
				)`,
			},
		},
		{
			Version:          "1.3.0",
			Desc:             "Native pgvector embeddings",
			RequiresPgvector: true,
			Guard:            &Guard{Table: "vectors", Column: "embedding"},
			Postgres: []string{
				`ALTER TABLE {v} ADD COLUMN IF NOT EXISTS embedding vector({dim})`,
				`CREATE INDEX IF NOT EXISTS openmemory_vectors_embedding_idx
					ON {v} USING hnsw (embedding vector_l2_ops)`,
			},
		},
	}
}
