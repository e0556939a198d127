package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	payloadschema "horse.fit/intel-pipeline/schema"
)

const (
	DefaultExtractionEndpoint       = "http://127.0.0.1:8861/extract"
	DefaultExtractionRequestTimeout = 60 * time.Second
)

// ExtractInput is what the extraction service needs to produce a
// structured summary for one content item.
type ExtractInput struct {
	Content    string `json:"content"`
	Title      string `json:"title,omitempty"`
	Author     string `json:"author,omitempty"`
	SourceType string `json:"source_type,omitempty"`
}

// Extractor turns raw content into a validated extraction result.
type Extractor interface {
	Extract(ctx context.Context, input ExtractInput) (*payloadschema.ExtractionResult, error)
}

// ExtractClient calls the HTTP extraction service.
type ExtractClient struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

func NewExtractClient(endpoint string, timeout time.Duration) *ExtractClient {
	if timeout <= 0 {
		timeout = DefaultExtractionRequestTimeout
	}
	return &ExtractClient{
		endpoint: normalizeExtractionEndpoint(endpoint),
		timeout:  timeout,
		client:   http.DefaultClient,
	}
}

func (c *ExtractClient) Extract(ctx context.Context, input ExtractInput) (*payloadschema.ExtractionResult, error) {
	if strings.TrimSpace(input.Content) == "" {
		return nil, fmt.Errorf("extraction input has no content")
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal extraction request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read extraction response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("extraction service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	result, err := payloadschema.ValidateExtractionResult(respBody)
	if err != nil {
		return nil, fmt.Errorf("invalid extraction response: %w", err)
	}
	return result, nil
}

func normalizeExtractionEndpoint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultExtractionEndpoint
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/extract"
	}
	return parsed.String()
}
