package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// LocalConfig points at an on-device embedding server speaking the
// POST /api/embeddings {model, prompt} protocol.
type LocalConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localResponse struct {
	Embedding []float32 `json:"embedding"`
}

type localErrorBody struct {
	Error string `json:"error"`
}

// LocalProvider calls a local embedding server once per text.
type LocalProvider struct {
	client *resty.Client
	model  string
}

func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("local embedder: base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("local embedder: model is required")
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return &LocalProvider{client: client, model: cfg.Model}, nil
}

func (p *LocalProvider) Name() string {
	return "local"
}

func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (p *LocalProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	var result localResponse
	var apiErr localErrorBody
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(localRequest{Model: p.model, Prompt: text}).
		SetResult(&result).
		SetError(&apiErr).
		Post("/api/embeddings")
	if err != nil {
		return nil, fmt.Errorf("local embedder: request failed: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return nil, fmt.Errorf("local embedder: status %d: %s", resp.StatusCode(), msg)
	}
	if len(result.Embedding) == 0 {
		return nil, errors.New("local embedder: empty embedding in response")
	}
	return result.Embedding, nil
}
