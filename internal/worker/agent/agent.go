package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/agent-worker/internal/worker/domain"
)

// QueryAgent answers a free-text query. Implementations may block for as
// long as their transport allows.
type QueryAgent interface {
	Answer(ctx context.Context, query string) (string, error)
}

// Func adapts a plain function to QueryAgent
type Func func(ctx context.Context, query string) (string, error)

// Answer calls f
func (f Func) Answer(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}

const defaultSystemPrompt = "You are a helpful assistant that can search the internet for information."

// Config holds chat agent configuration
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// ChatAgent answers queries through an OpenAI-compatible chat completions API
type ChatAgent struct {
	endpoint     string
	apiKey       string
	model        string
	systemPrompt string
	client       *http.Client
	logger       *slog.Logger
}

// NewChatAgent creates a ChatAgent
func NewChatAgent(cfg Config) *ChatAgent {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ChatAgent{
		endpoint:     strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		systemPrompt: prompt,
		client:       client,
		logger:       logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Answer sends query to the model and returns the content of the final message
func (a *ChatAgent) Answer(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: a.systemPrompt},
			{Role: "user", Content: "Please provide an answer to this: " + query},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	a.logger.Debug("Calling chat completions",
		slog.String("model", a.model),
		slog.Int("query_len", len(query)),
	)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", domain.NewTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.NewTransportError(fmt.Errorf("failed to read chat response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", domain.NewTransportError(fmt.Errorf("chat completions returned %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}

	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", domain.ErrMalformedResponse)
	}

	answer := out.Choices[len(out.Choices)-1].Message.Content
	if answer == "" {
		return "", fmt.Errorf("%w: final message is empty", domain.ErrMalformedResponse)
	}

	return answer, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
