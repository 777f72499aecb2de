// Package embedding wraps the embed(text) -> vec<f32, D> capability. The
// provider itself is treated as an opaque external collaborator; this
// package gives it a concrete, swappable Go interface and one HTTP-based
// implementation.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/legacymind/cogmem/internal/cogerr"
)

// Provider is the embedding capability consumed by the Vector Service.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// HTTPProvider implements Provider against an OpenAI-style /embeddings
// endpoint (LM Studio, llama.cpp server, and compatible local runners).
type HTTPProvider struct {
	baseURL string
	model   string
	client  *http.Client
	dim     int
}

func NewHTTPProvider(baseURL, model string, dim int) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
		dim:     dim,
	}
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: text, Model: p.model})
	if err != nil {
		return nil, cogerr.New(cogerr.KindInternal, "embedding", "marshal", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, cogerr.New(cogerr.KindInternal, "embedding", "request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, cogerr.New(cogerr.KindCapabilityAbsent, "embedding", "http", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, cogerr.New(cogerr.KindStoreUnavailable, "embedding", "http",
			fmt.Errorf("embedding API error: %s - %s", resp.Status, string(respBody)))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, cogerr.New(cogerr.KindInternal, "embedding", "decode", err)
	}
	if len(parsed.Data) == 0 {
		return nil, cogerr.New(cogerr.KindInternal, "embedding", "response", fmt.Errorf("no embedding returned"))
	}

	vec := parsed.Data[0].Embedding
	if p.dim == 0 {
		p.dim = len(vec)
	}
	return vec, nil
}

func (p *HTTPProvider) Dimensions() int { return p.dim }
