package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaviraOSS/openmemory-go/internal/config"
)

func TestResolveDefaults(t *testing.T) {
	r := NewRegistry(config.ModelsConfig{File: "does-not-exist.yml"}, nil)

	tests := []struct {
		sector   string
		provider string
		want     string
	}{
		{"semantic", "ollama", "nomic-embed-text"},
		{"semantic", "openai", "text-embedding-3-small"},
		{"reflective", "openai", "text-embedding-3-large"},
		{"reflective", "local", "all-mpnet-base-v2"},
		{"episodic", "gemini", "models/embedding-001"},
		// Unknown sector falls back to the semantic row.
		{"nonsense", "openai", "text-embedding-3-small"},
		// Unknown provider falls through to the hard default.
		{"semantic", "nonsense", DefaultModel},
		{"nonsense", "nonsense", DefaultModel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Resolve(tt.sector, tt.provider),
			"sector=%s provider=%s", tt.sector, tt.provider)
	}
}

func TestResolveProviderOverride(t *testing.T) {
	r := NewRegistry(config.ModelsConfig{
		File:        "does-not-exist.yml",
		OllamaModel: "custom-ollama",
		OpenAIModel: "custom-openai",
	}, nil)

	// Overrides win regardless of sector.
	assert.Equal(t, "custom-ollama", r.Resolve("episodic", "ollama"))
	assert.Equal(t, "custom-openai", r.Resolve("reflective", "openai"))
	// Other providers are untouched.
	assert.Equal(t, "models/embedding-001", r.Resolve("semantic", "gemini"))
}

func TestResolveFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "models.yml")
	require.NoError(t, os.WriteFile(file, []byte(`
semantic:
  ollama: file-semantic
emotional:
  ollama: file-emotional
`), 0o644))

	r := NewRegistry(config.ModelsConfig{File: file}, nil)

	assert.Equal(t, "file-emotional", r.Resolve("emotional", "ollama"))
	// Sector missing from the file falls back to its semantic row.
	assert.Equal(t, "file-semantic", r.Resolve("procedural", "ollama"))
	// Provider missing everywhere falls back to the hard default.
	assert.Equal(t, DefaultModel, r.Resolve("semantic", "openai"))
}

func TestResolveBadFileFallsBack(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "models.yml")
	require.NoError(t, os.WriteFile(file, []byte("{{{not yaml"), 0o644))

	r := NewRegistry(config.ModelsConfig{File: file}, nil)
	assert.Equal(t, "nomic-embed-text", r.Resolve("semantic", "ollama"))
}
