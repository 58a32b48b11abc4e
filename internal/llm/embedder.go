package llm

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Defaults for the embeddings endpoint.
const (
	DefaultEmbedBaseURL = "https://api.openai.com/v1"
	DefaultEmbedModel   = "text-embedding-3-small"
)

// EmbedConfig selects the embeddings endpoint.
type EmbedConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions is passed through when positive.
	Dimensions int
	HTTPClient *http.Client
}

// Embedder implements embed.Embedder over the embeddings endpoint.
type Embedder struct {
	api   *openai.Client
	model string
	dims  int
}

// NewEmbedder creates an Embedder.
func NewEmbedder(cfg EmbedConfig) *Embedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultEmbedBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultEmbedModel
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	return &Embedder{api: openai.NewClientWithConfig(oc), model: cfg.Model, dims: cfg.Dimensions}
}

// Embed implements embed.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements embed.Embedder. Results are ordered by the index
// the API reports, which matches input order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dims,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}
