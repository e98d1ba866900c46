// Package embeddings generates text embeddings and chat completions via a
// local Ollama server, through langchaingo.
//
// The embedding model and the chat model are separate Ollama models, so the
// client keeps one LLM handle per role.
package embeddings

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Generator produces one embedding vector per input text, in input order.
type Generator interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Chatter produces a single-turn completion for a prompt.
type Chatter interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// Config for the Ollama client.
type Config struct {
	// ServerURL is the Ollama base URL, e.g. http://localhost:11434.
	ServerURL string
	// EmbedModel is the embedding model name, e.g. all-minilm.
	EmbedModel string
	// ChatModel is the completion model name.
	ChatModel string
}

func (c Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("ollama server URL required")
	}
	if c.EmbedModel == "" {
		return fmt.Errorf("embedding model required")
	}
	if c.ChatModel == "" {
		return fmt.Errorf("chat model required")
	}
	return nil
}

// OllamaClient implements Generator and Chatter against one Ollama server.
type OllamaClient struct {
	embedder *embeddings.EmbedderImpl
	chatLLM  *ollama.LLM
}

func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("ollama config: %w", err)
	}

	embedLLM, err := ollama.New(
		ollama.WithServerURL(cfg.ServerURL),
		ollama.WithModel(cfg.EmbedModel),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(embedLLM)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	chatLLM, err := ollama.New(
		ollama.WithServerURL(cfg.ServerURL),
		ollama.WithModel(cfg.ChatModel),
	)
	if err != nil {
		return nil, fmt.Errorf("creating chat client: %w", err)
	}

	return &OllamaClient{embedder: embedder, chatLLM: chatLLM}, nil
}

func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts to embed")
	}
	vectors, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}
	return vectors, nil
}

func (c *OllamaClient) Chat(ctx context.Context, prompt string) (string, error) {
	answer, err := llms.GenerateFromSinglePrompt(ctx, c.chatLLM, prompt)
	if err != nil {
		return "", fmt.Errorf("generating completion: %w", err)
	}
	return answer, nil
}
