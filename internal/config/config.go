// Package config holds the environment-driven configuration for the memory
// engine. It is constructed explicitly and passed by injection; nothing in
// this package caches process-global state.
package config

import (
	"os"
	"strconv"
	"time"
)

// Backend selects which metadata/vector backend pair the engine runs on.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendValkey   Backend = "valkey"
	BackendMemory   Backend = "memory"
)

type Config struct {
	Backend     Backend
	VectorDim   int
	UsePgvector bool

	Postgres PostgresConfig
	SQLite   SQLiteConfig
	Valkey   ValkeyConfig
	Tenant   TenantConfig
	Models   ModelsConfig
	Embed    EmbedConfig
	Write    WriteConfig
	Graph    GraphConfig
}

type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	SSLMode  string
	Schema   string

	MemoriesTable  string
	VectorsTable   string
	WaypointsTable string
}

type SQLiteConfig struct {
	Path string
}

type ValkeyConfig struct {
	Host     string
	Port     string
	Password string
}

type TenantConfig struct {
	MultiTenant bool
	Header      string
	DefaultID   string
}

type ModelsConfig struct {
	File string
	// Per-provider overrides applied regardless of sector.
	OllamaModel string
	OpenAIModel string
}

type EmbedConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

type WriteConfig struct {
	// Delay inserted between queued writes, used to throttle backend load.
	Delay time.Duration
	// Per-task timeout; a task exceeding it fails without stalling the queue.
	Timeout time.Duration
	// Queue capacity before Enqueue blocks.
	QueueSize int
}

type GraphConfig struct {
	Expansion bool
	// Maximum hops for waypoint traversal.
	MaxDepth int
	// Minimum similarity before association-on-write creates an edge.
	LinkThreshold float64
	// How many nearest neighbours get linked on add.
	LinkTopN int
}

// FromEnv builds a Config from OM_* environment variables with the same
// defaults the original deployment shipped.
func FromEnv() *Config {
	return &Config{
		Backend:     Backend(getEnv("OM_BACKEND", string(BackendSQLite))),
		VectorDim:   getEnvInt("OM_VEC_DIM", 768),
		UsePgvector: getEnvBool("OM_PGVECTOR", true),
		Postgres: PostgresConfig{
			Host:           getEnv("OM_PG_HOST", "localhost"),
			Port:           getEnv("OM_PG_PORT", "5432"),
			Database:       getEnv("OM_PG_DB", "openmemory"),
			User:           getEnv("OM_PG_USER", "postgres"),
			Password:       getEnv("OM_PG_PASSWORD", ""),
			SSLMode:        getEnv("OM_PG_SSL", "disable"),
			Schema:         getEnv("OM_PG_SCHEMA", "public"),
			MemoriesTable:  getEnv("OM_PG_TABLE", "openmemory_memories"),
			VectorsTable:   getEnv("OM_VECTOR_TABLE", "openmemory_vectors"),
			WaypointsTable: getEnv("OM_WAYPOINTS_TABLE", "openmemory_waypoints"),
		},
		SQLite: SQLiteConfig{
			Path: getEnv("OM_DB_PATH", "./data/openmemory.sqlite"),
		},
		Valkey: ValkeyConfig{
			Host:     getEnv("OM_VALKEY_HOST", "localhost"),
			Port:     getEnv("OM_VALKEY_PORT", "6379"),
			Password: getEnv("OM_VALKEY_PASSWORD", ""),
		},
		Tenant: TenantConfig{
			MultiTenant: getEnvBool("OM_MULTI_TENANT", false),
			Header:      getEnv("OM_TENANT_HEADER", "X-Tenant-Id"),
			DefaultID:   getEnv("OM_DEFAULT_TENANT", "default"),
		},
		Models: ModelsConfig{
			File:        getEnv("OM_MODELS_FILE", "models.yml"),
			OllamaModel: getEnv("OM_OLLAMA_MODEL", ""),
			OpenAIModel: getEnv("OM_OPENAI_MODEL", ""),
		},
		Embed: EmbedConfig{
			Provider: getEnv("OM_EMBED_PROVIDER", "local"),
			BaseURL:  getEnv("OM_EMBED_BASE_URL", ""),
			APIKey:   getEnv("OM_EMBED_API_KEY", ""),
			Timeout:  getEnvDuration("OM_EMBED_TIMEOUT_MS", 30*time.Second),
		},
		Write: WriteConfig{
			Delay:     getEnvDuration("OM_WRITE_DELAY_MS", 0),
			Timeout:   getEnvDuration("OM_WRITE_TIMEOUT_MS", 30*time.Second),
			QueueSize: getEnvInt("OM_WRITE_QUEUE_SIZE", 256),
		},
		Graph: GraphConfig{
			Expansion:     getEnvBool("OM_GRAPH_EXPANSION", true),
			MaxDepth:      getEnvInt("OM_GRAPH_MAX_DEPTH", 3),
			LinkThreshold: getEnvFloat("OM_GRAPH_LINK_THRESHOLD", 0.5),
			LinkTopN:      getEnvInt("OM_GRAPH_LINK_TOP_N", 3),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
