// Package llm builds the language model and embedder clients from config.
// Both providers speak through langchaingo: "openai" covers any
// OpenAI-compatible endpoint (OpenAI, Groq, OpenRouter), "ollama" a local
// Ollama server.
package llm

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/tbourn/go-rag-backend/internal/config"
)

// NewModel returns the chat model used to generate answers.
func NewModel(cfg config.ModelConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "openai", "":
		return openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
	case "ollama":
		return ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	}
	return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
}

// NewEmbedder returns the embedder used for chunks and queries.
func NewEmbedder(cfg config.ModelConfig) (*embeddings.EmbedderImpl, error) {
	var (
		client embeddings.EmbedderClient
		err    error
	)
	switch cfg.Provider {
	case "openai", "":
		client, err = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		)
	case "ollama":
		client, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("llm: unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(client)
}
