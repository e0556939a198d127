package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	DefaultEmbeddingEndpoint       = "http://127.0.0.1:8848/embed"
	DefaultEmbeddingDimensions     = 384
	DefaultEmbeddingMaxLength      = 512
	DefaultEmbeddingRequestTimeout = 45 * time.Second
)

// Embedder produces one embedding per input text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedClient calls the HTTP embedding service. It speaks both the
// bare {"texts": ...} protocol and the OpenAI-compatible
// /v1/embeddings {"input": ...} protocol, keyed off the endpoint path.
type EmbedClient struct {
	endpoint   string
	dimensions int
	maxLength  int
	timeout    time.Duration
	client     *http.Client
}

type embedRequest struct {
	Texts     []string `json:"texts,omitempty"`
	Input     []string `json:"input,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func NewEmbedClient(endpoint string, dimensions int, timeout time.Duration) *EmbedClient {
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	if timeout <= 0 {
		timeout = DefaultEmbeddingRequestTimeout
	}
	return &EmbedClient{
		endpoint:   normalizeEmbeddingEndpoint(endpoint),
		dimensions: dimensions,
		maxLength:  DefaultEmbeddingMaxLength,
		timeout:    timeout,
		client:     http.DefaultClient,
	}
}

func (c *EmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload := embedRequest{
		Texts:     texts,
		MaxLength: c.maxLength,
	}
	parsedEndpoint, err := url.Parse(c.endpoint)
	if err == nil && strings.HasSuffix(parsedEndpoint.Path, "/v1/embeddings") {
		payload = embedRequest{Input: texts}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Data) > 0 {
		sort.Slice(parsed.Data, func(i, j int) bool {
			return parsed.Data[i].Index < parsed.Data[j].Index
		})
		vectors = make([][]float32, 0, len(parsed.Data))
		for _, row := range parsed.Data {
			vectors = append(vectors, row.Embedding)
		}
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding response count mismatch: requested=%d returned=%d", len(texts), len(vectors))
	}
	for i, vector := range vectors {
		if len(vector) != c.dimensions {
			return nil, fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(vector), c.dimensions)
		}
	}

	return vectors, nil
}

func normalizeEmbeddingEndpoint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultEmbeddingEndpoint
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/embed"
	}
	return parsed.String()
}
