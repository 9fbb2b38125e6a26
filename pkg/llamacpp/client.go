// Package llamacpp talks to a llama.cpp server through its OpenAI-compatible
// chat completions endpoint.
package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/menta2k/tag-trainset/pkg/types"
)

const (
	// DefaultURL is used when NewClient gets an empty URL.
	DefaultURL = "http://localhost:8080"
	// DefaultTimeout applies when the caller's context carries no deadline.
	DefaultTimeout = 300 * time.Second

	completionsPath = "/v1/chat/completions"
)

// Client is a llama.cpp server client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type imageURL struct {
	URL string `json:"url"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type requestMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string           `json:"model"`
	Messages       []requestMessage `json:"messages"`
	Temperature    float64          `json:"temperature,omitempty"`
	MaxTokens      int              `json:"max_tokens,omitempty"`
	TopP           float64          `json:"top_p,omitempty"`
	Stream         bool             `json:"stream"`
	ResponseFormat *responseFormat  `json:"response_format,omitempty"`
}

// chatResponse keeps the message content raw: servers send either a string
// or a list of content parts.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

// NewClient creates a client for the server at serverURL. An empty URL
// means DefaultURL.
func NewClient(serverURL string) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultURL
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("invalid URL %q: http or https scheme required", serverURL)
	}
	return &Client{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{},
	}, nil
}

// SimpleQuery asks a free-form question about an image.
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	req := newChatRequest(model, prompt, imgB64)
	req.Temperature = 0.7
	req.MaxTokens = 2048
	return c.complete(ctx, req)
}

// DetectTags asks the server for tag candidates in JSON mode.
func (c *Client) DetectTags(ctx context.Context, model, prompt, imgB64 string) (*types.DetectionResult, error) {
	req := newChatRequest(model, prompt, imgB64)
	req.Temperature = 0.1
	req.MaxTokens = 4096
	req.ResponseFormat = &responseFormat{Type: "json_object"}

	text, err := c.complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("empty response from llama.cpp server")
	}
	return types.ParseDetectionResult(text), nil
}

func newChatRequest(model, prompt, imgB64 string) chatRequest {
	parts := []contentPart{{Type: "text", Text: prompt}}
	if imgB64 != "" {
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:image/jpeg;base64," + imgB64},
		})
	}
	return chatRequest{
		Model:    model,
		Messages: []requestMessage{{Role: "user", Content: parts}},
		TopP:     0.9,
	}
}

func (c *Client) complete(ctx context.Context, req chatRequest) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	body, err := c.post(ctx, completionsPath, req)
	if err != nil {
		return "", fmt.Errorf("llama.cpp request failed: %w", err)
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return messageText(resp.Choices[0].Message.Content)
}

// messageText returns the content string, or the first non-empty text part.
func messageText(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("unexpected message content: %w", err)
	}
	for _, p := range parts {
		if p.Text != "" {
			return p.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
