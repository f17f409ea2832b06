// Package localmodel is the HTTP client for the local inference endpoint
// (§6). It exposes the two RPCs the rest of the engine needs — a
// completion call for the PII extractor's fill-in-the-blank prompt, and a
// chat call for the semantic detector's classification prompt and the
// orchestrator's S3 direct-response path — and nothing else. The engine
// never talks to a cloud model; that egress belongs to the host.
package localmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Transport is the interface the rest of the engine depends on, so tests can
// substitute a fake local model instead of talking to a live endpoint.
type Transport interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
	Chat(ctx context.Context, messages []ChatMessage, opts Options) (string, error)
}

// Options configures one RPC call.
type Options struct {
	Temperature float64
	NumPredict  int
	Stop        []string
}

// ChatMessage is one entry in a chat-style request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client talks to a local model endpoint that looks like Ollama:
// POST /api/generate for completion, POST /api/chat for chat.
type Client struct {
	endpoint string
	model    string
	http     *http.Client
}

// New creates a Client bound to the given endpoint and model name.
func New(endpoint, model string) *Client {
	return &Client{
		endpoint: endpoint,
		model:    model,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options options `json:"options"`
}

type chatRequest struct {
	Model   string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream  bool          `json:"stream"`
	Options options       `json:"options"`
}

type options struct {
	Temperature float64  `json:"temperature"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type chatResponse struct {
	Message ChatMessage `json:"message"`
}

// Complete sends a completion-style request and returns the raw response
// text. Used by the PII extractor's fill-in-the-blank prompt.
func (c *Client) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: options{
			Temperature: opts.Temperature,
			NumPredict:  opts.NumPredict,
			Stop:        opts.Stop,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	raw, err := c.post(ctx, "/api/generate", body)
	if err != nil {
		return "", err
	}

	var resp generateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("parse generate response: %w", err)
	}
	return resp.Response, nil
}

// Chat sends a chat-style request and returns the assistant's reply content.
// Used by the semantic detector's classification prompt and the
// orchestrator's S3 direct-response path.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage, opts Options) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options: options{
			Temperature: opts.Temperature,
			NumPredict:  opts.NumPredict,
			Stop:        opts.Stop,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	raw, err := c.post(ctx, "/api/chat", body)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("parse chat response: %w", err)
	}
	return resp.Message.Content, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	return io.ReadAll(resp.Body)
}
