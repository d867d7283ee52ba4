// Package model holds the language-model collaborators used during
// enrichment: summaries, keywords, tags, propositions, image captions,
// and audio transcripts. Everything text-generating goes through one
// Ollama /api/generate client; transcription talks to a local
// OpenAI-compatible speech-to-text server.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Aman-CERP/corpora/internal/errors"
)

const (
	DefaultHost  = "http://localhost:11434"
	DefaultModel = "llama3.2"

	// DefaultTimeout bounds one generate round trip. Generation is much
	// slower than embedding, so this is deliberately generous.
	DefaultTimeout    = 120 * time.Second
	DefaultMaxRetries = 2

	// ConnectTimeout bounds the availability probe.
	ConnectTimeout = 5 * time.Second

	poolSize = 2
)

// Config configures the generate client.
type Config struct {
	Host       string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Client calls Ollama's /api/generate endpoint with retries.
type Client struct {
	client    *http.Client
	transport *http.Transport
	config    Config
	log       *slog.Logger
}

// NewClient creates a generate client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	transport := &http.Transport{
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: poolSize,
		MaxConnsPerHost:     poolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}

	return &Client{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		log:       slog.Default().With(slog.String("component", "model.client")),
	}
}

// GenerateOptions shapes a single generation call. Images are
// base64-encoded and only meaningful with a vision model.
type GenerateOptions struct {
	Prompt string
	System string
	Model  string // overrides the configured model when set
	Format string // "json" forces structured output
	Images []string
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	System string   `json:"system,omitempty"`
	Stream bool     `json:"stream"`
	Format string   `json:"format,omitempty"`
	Images []string `json:"images,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate performs a non-streaming generation with exponential backoff
// on transient failures.
func (c *Client) Generate(ctx context.Context, opts GenerateOptions) (string, error) {
	var lastErr error
	backoff := time.Second

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		out, err := c.doGenerate(ctx, opts)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		c.log.Debug("generate attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		if attempt < c.config.MaxRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return "", errors.ModelError(
		fmt.Sprintf("generation failed after %d attempts", c.config.MaxRetries), lastErr)
}

func (c *Client) doGenerate(ctx context.Context, opts GenerateOptions) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	model := opts.Model
	if model == "" {
		model = c.config.Model
	}

	body, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: opts.Prompt,
		System: opts.System,
		Stream: false,
		Format: opts.Format,
		Images: opts.Images,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("generate request returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return parsed.Response, nil
}

// ModelName returns the configured default model.
func (c *Client) ModelName() string {
	return c.config.Model
}

// Available probes the Ollama server.
func (c *Client) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// Close releases HTTP resources.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}
