// Package models resolves which embedding model serves a given
// (sector, provider) pair.
package models

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/CaviraOSS/openmemory-go/internal/config"
)

// DefaultModel is the last-resort model name when neither the configuration
// file nor the defaults table has an entry.
const DefaultModel = "nomic-embed-text"

// Table maps sector -> provider -> model name.
type Table map[string]map[string]string

// Registry resolves embedding model names. The configuration document is
// loaded once, lazily, and cached for the lifetime of the Registry.
type Registry struct {
	cfg    config.ModelsConfig
	logger *logrus.Logger

	once  sync.Once
	table Table
}

func NewRegistry(cfg config.ModelsConfig, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{cfg: cfg, logger: logger}
}

// Resolve returns the model name for a sector/provider pair.
//
// Precedence: process-level provider override, sector entry in the loaded
// table, the semantic sector's entry for that provider, then DefaultModel.
func (r *Registry) Resolve(sector, provider string) string {
	switch provider {
	case "ollama":
		if r.cfg.OllamaModel != "" {
			return r.cfg.OllamaModel
		}
	case "openai":
		if r.cfg.OpenAIModel != "" {
			return r.cfg.OpenAIModel
		}
	}

	table := r.load()
	if m, ok := table[sector][provider]; ok && m != "" {
		return m
	}
	if m, ok := table["semantic"][provider]; ok && m != "" {
		return m
	}
	return DefaultModel
}

func (r *Registry) load() Table {
	r.once.Do(func() {
		r.table = r.loadFile()
	})
	return r.table
}

// loadFile reads the models file. A missing or unparseable file falls back to
// the in-code defaults table; it never fails.
func (r *Registry) loadFile() Table {
	data, err := os.ReadFile(r.cfg.File)
	if err != nil {
		r.logger.WithField("file", r.cfg.File).Warn("models file not found, using defaults")
		return Defaults()
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		r.logger.WithError(err).WithField("file", r.cfg.File).Warn("models file unparseable, using defaults")
		return Defaults()
	}
	r.logger.WithFields(logrus.Fields{
		"file":    r.cfg.File,
		"sectors": len(t),
	}).Debug("loaded models file")
	return t
}

// Defaults returns the built-in sector x provider model table.
func Defaults() Table {
	std := map[string]string{
		"ollama": "nomic-embed-text",
		"openai": "text-embedding-3-small",
		"gemini": "models/embedding-001",
		"aws":    "amazon.titan-embed-text-v2:0",
		"local":  "all-MiniLM-L6-v2",
	}
	return Table{
		"episodic":   cloneRow(std),
		"semantic":   cloneRow(std),
		"procedural": cloneRow(std),
		"emotional":  cloneRow(std),
		"reflective": {
			"ollama": "nomic-embed-text",
			"openai": "text-embedding-3-large",
			"gemini": "models/embedding-001",
			"aws":    "amazon.titan-embed-text-v2:0",
			"local":  "all-mpnet-base-v2",
		},
	}
}

func cloneRow(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
