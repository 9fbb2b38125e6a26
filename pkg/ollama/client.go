package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/tag-trainset/pkg/types"
)

// DefaultTimeout applies when the caller's context carries no deadline.
const DefaultTimeout = 300 * time.Second

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
}

// NewClient creates a new Ollama client
func NewClient(ollamaURL string) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: scheme and host required", ollamaURL)
	}

	// Drop any path like /api/chat, the SDK appends its own.
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}
	return &Client{client: api.NewClient(baseURL, http.DefaultClient)}, nil
}

// SimpleQuery performs a simple query with an image without expecting JSON
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return c.chat(ctx, model, prompt, imgB64, false)
}

// DetectTags asks the model for tag candidates and parses its JSON answer.
func (c *Client) DetectTags(ctx context.Context, model, prompt, imgB64 string) (*types.DetectionResult, error) {
	content, err := c.chat(ctx, model, prompt, imgB64, true)
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, fmt.Errorf("empty response from ollama")
	}
	return types.ParseDetectionResult(content), nil
}

func (c *Client) chat(ctx context.Context, model, prompt, imgB64 string, wantJSON bool) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	msg := api.Message{Role: "user", Content: prompt}
	if imgB64 != "" {
		raw, err := base64.StdEncoding.DecodeString(imgB64)
		if err != nil {
			return "", fmt.Errorf("failed to decode base64 image: %w", err)
		}
		msg.Images = []api.ImageData{raw}
	}

	stream := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{msg},
		Stream:   &stream,
		Options:  modelOptions(model),
	}
	if wantJSON {
		req.Format = json.RawMessage(`"json"`)
	}

	// Chunks are concatenated even with streaming off.
	var out strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return out.String(), nil
}

// modelOptions keeps localization answers close to deterministic. Vision
// models with small default contexts get room for the image tokens.
func modelOptions(model string) map[string]any {
	opts := map[string]any{"temperature": 0.1}
	name := strings.ToLower(model)
	for _, family := range []string{"minicpm-v", "llava"} {
		if strings.Contains(name, family) {
			opts["num_ctx"] = 4096
			break
		}
	}
	return opts
}
