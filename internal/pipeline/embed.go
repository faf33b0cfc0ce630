package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder turns segment texts into vectors.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedOptions selects and configures an embedding provider.
type EmbedOptions struct {
	Provider  string // "hash", "ollama" or "openai"
	Model     string
	ServerURL string // ollama host
	APIKey    string // openai token
	Dimension int
}

// NewEmbedder builds the configured embedder.
func NewEmbedder(opts EmbedOptions) (Embedder, error) {
	switch opts.Provider {
	case "", "hash":
		dim := opts.Dimension
		if dim <= 0 {
			dim = 256
		}
		return HashEmbedder{Dim: dim}, nil

	case "ollama":
		llm, err := ollama.New(
			ollama.WithModel(opts.Model),
			ollama.WithServerURL(opts.ServerURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		model, err := embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}
		return &llmEmbedder{model: model, name: "ollama/" + opts.Model, dimension: opts.Dimension}, nil

	case "openai":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openai embedding provider needs an API key")
		}
		llm, err := openai.New(
			openai.WithToken(opts.APIKey),
			openai.WithEmbeddingModel(opts.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		model, err := embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}
		return &llmEmbedder{model: model, name: "openai/" + opts.Model, dimension: opts.Dimension}, nil

	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", opts.Provider)
	}
}

// llmEmbedder wraps a langchaingo embedder with dimension validation.
type llmEmbedder struct {
	model     embeddings.Embedder
	name      string
	dimension int
}

func (e *llmEmbedder) Name() string { return e.name }

func (e *llmEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()
	vectors, err := e.model.EmbedDocuments(ctx, texts)
	if err != nil {
		slog.Warn("embedding failed", "model", e.name, "texts", len(texts), "error", err)
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(texts))
	}
	if e.dimension > 0 {
		for i, v := range vectors {
			if len(v) != e.dimension {
				return nil, fmt.Errorf("embedding %d dimension mismatch: got %d, want %d", i, len(v), e.dimension)
			}
		}
	}
	slog.Debug("embedding complete", "model", e.name, "texts", len(texts), "duration_ms", time.Since(start).Milliseconds())
	return vectors, nil
}

// HashEmbedder is the deterministic offline provider: the vector is a
// seeded pseudo-random projection of the text's FNV hash. Useless for
// semantic search, perfect for pipelines that must run without a model
// server, and stable across runs so replays are comparable.
type HashEmbedder struct {
	Dim int
}

func (HashEmbedder) Name() string { return "hash" }

func (h HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		hasher := fnv.New64a()
		hasher.Write([]byte(text))
		state := hasher.Sum64()

		vec := make([]float32, h.Dim)
		for j := range vec {
			// 64-bit LCG, same constants as musl.
			state = state*6364136223846793005 + 1442695040888963407
			vec[j] = float32(int32(state>>33))/float32(1<<31)*2 - 1
		}
		out[i] = vec
	}
	return out, nil
}
