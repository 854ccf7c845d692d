// Package embedding provides the embedding providers the engine can call:
// Ollama and OpenAI over HTTP, plus a deterministic local hash embedder used
// as the default when no external provider is configured. All providers emit
// vectors fitted to the engine's configured dimension.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/CaviraOSS/openmemory-go/internal/config"
)

// Embedder turns text into a fixed-dimension vector. The model name comes
// from the registry per sector and provider.
type Embedder interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
	Provider() string
}

// New selects a provider from config. Unknown providers fall back to the
// local embedder with a warning so the engine stays usable offline.
func New(cfg config.EmbedConfig, dim int, logger *logrus.Logger) Embedder {
	if logger == nil {
		logger = logrus.New()
	}
	switch cfg.Provider {
	case "ollama":
		base := cfg.BaseURL
		if base == "" {
			base = "http://localhost:11434"
		}
		return &OllamaEmbedder{
			baseURL:    base,
			dim:        dim,
			httpClient: &http.Client{Timeout: cfg.Timeout},
		}
	case "openai":
		base := cfg.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return &OpenAIEmbedder{
			baseURL:    base,
			apiKey:     cfg.APIKey,
			dim:        dim,
			httpClient: &http.Client{Timeout: cfg.Timeout},
		}
	case "local", "":
		return &LocalEmbedder{dim: dim}
	default:
		logger.WithField("provider", cfg.Provider).Warn("unknown embed provider, using local hash embedder")
		return &LocalEmbedder{dim: dim}
	}
}

// OllamaEmbedder calls the Ollama embeddings endpoint.
type OllamaEmbedder struct {
	baseURL    string
	dim        int
	httpClient *http.Client
}

func (e *OllamaEmbedder) Provider() string { return "ollama" }

func (e *OllamaEmbedder) Embed(ctx context.Context, text, model string) ([]float32, error) {
	body, err := json.Marshal(map[string]any{
		"model":  model,
		"prompt": text,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error: %s - %s", resp.Status, string(respBody))
	}

	var result struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding for model %s", model)
	}
	return fitDim(toFloat32(result.Embedding), e.dim), nil
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	baseURL    string
	apiKey     string
	dim        int
	httpClient *http.Client
}

func (e *OpenAIEmbedder) Provider() string { return "openai" }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text, model string) ([]float32, error) {
	body, err := json.Marshal(map[string]any{
		"input": []string{text},
		"model": model,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("OpenAI API error: %s - %s", resp.Status, string(respBody))
	}

	var result struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("openai returned no embedding for model %s", model)
	}
	return fitDim(toFloat32(result.Data[0].Embedding), e.dim), nil
}

// LocalEmbedder derives a normalized pseudo-embedding from an FNV-1a hash
// expanded through xorshift32. Deterministic: identical text always maps to
// the identical vector, which is what the offline and test paths need.
type LocalEmbedder struct {
	dim int
}

func (e *LocalEmbedder) Provider() string { return "local" }

func (e *LocalEmbedder) Embed(_ context.Context, text, _ string) ([]float32, error) {
	dim := e.dim
	if dim < 2 {
		dim = 2
	}
	h := uint32(2166136261)
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= 16777619
	}
	x := h
	if x == 0 {
		x = 1
	}
	out := make([]float32, dim)
	for i := range out {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		out[i] = float32(float64(x)/float64(math.MaxUint32))*2 - 1
	}
	normalize(out)
	return out, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

// fitDim truncates or zero-pads to the engine dimension so provider model
// and backend schema never disagree.
func fitDim(v []float32, dim int) []float32 {
	if len(v) == dim {
		return v
	}
	out := make([]float32, dim)
	copy(out, v)
	return out
}

func normalize(v []float32) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	n := math.Sqrt(sum)
	if n == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
}
