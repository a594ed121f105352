package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const defaultRequestTimeout = 60 * time.Second

// Client issues one completion round-trip. Implementations must honor
// context cancellation and report failures through the package taxonomy.
type Client interface {
	Complete(ctx context.Context, req openai.ChatCompletionRequest) (*Response, error)
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

type ClientOption func(*HTTPClient)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = d
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

func NewHTTPClient(baseURL, apiKey string, options ...ClientOption) *HTTPClient {
	ret := &HTTPClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (c *HTTPClient) Complete(ctx context.Context, req openai.ChatCompletionRequest) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Msg("POST /chat/completions")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		log.Error().Int("status", resp.StatusCode).Str("body", string(b)).Msg("provider error")
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	var ret Response
	if err := json.NewDecoder(resp.Body).Decode(&ret); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return &ret, nil
}
