package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// RemoteConfig configures an OpenAI-compatible embeddings endpoint.
// BaseURL includes the API version prefix, e.g. https://api.openai.com/v1.
type RemoteConfig struct {
	BaseURL    string
	Model      string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
}

// RemoteProvider calls POST {BaseURL}/embeddings with bearer authentication.
type RemoteProvider struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

func NewRemoteProvider(cfg RemoteConfig) (*RemoteProvider, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("remote embedder: model is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &RemoteProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
	}, nil
}

func (p *RemoteProvider) Name() string {
	return "remote"
}

func (p *RemoteProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      p.model,
		Dimensions: p.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("remote embedder: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("remote embedder: received %d embeddings for %d texts", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, item := range resp.Data {
		idx := item.Index
		if idx < 0 || idx >= len(out) || out[idx] != nil {
			idx = i
		}
		if len(item.Embedding) == 0 {
			return nil, fmt.Errorf("remote embedder: empty embedding at index %d", idx)
		}
		out[idx] = item.Embedding
	}
	return out, nil
}
