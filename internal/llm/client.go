// Package llm is the invocation layer over the completion providers.
// Requests route to the secondary (OpenRouter-style) provider when
// configured, falling back to the primary (OpenAI-style); responses are
// cached, single-flighted, and coerced to the caller's JSON schema with
// strict-then-loose parsing.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/foliopilot/foliopilot/internal/errs"
)

// Message is one chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single completion.
type Options struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Client talks to one chat-completions endpoint. The primary and
// secondary providers share the wire shape and differ only in base URL,
// headers, and timeout.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	headers map[string]string
	timeout time.Duration
	hc      *http.Client
}

// NewOpenAI builds the primary provider client.
func NewOpenAI(apiKey, model string) *Client {
	return &Client{
		name:    "openai",
		baseURL: "https://api.openai.com/v1",
		apiKey:  apiKey,
		model:   model,
		timeout: 60 * time.Second,
		hc:      &http.Client{},
	}
}

// NewOpenRouter builds the secondary provider client. siteURL and
// siteName ride as attribution headers when set.
func NewOpenRouter(apiKey, model, baseURL string, timeout time.Duration, siteURL, siteName string) *Client {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	headers := map[string]string{}
	if siteURL != "" {
		headers["HTTP-Referer"] = siteURL
	}
	if siteName != "" {
		headers["X-Title"] = siteName
	}
	return &Client{
		name:    "openrouter",
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		headers: headers,
		timeout: timeout,
		hc:      &http.Client{},
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return c.name }

// Model returns the configured model.
func (c *Client) Model() string { return c.model }

// SetBaseURL overrides the endpoint, used by tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = strings.TrimRight(u, "/") }

// chat completion wire types.

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	TopP           float64         `json:"top_p,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type chatResponse struct {
	OutputText string `json:"output_text"`
	Choices    []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Complete sends messages and returns the raw response text. When
// schema is non-nil the request asks for json_schema output.
func (c *Client) Complete(ctx context.Context, messages []Message, schema json.RawMessage, opts Options) (string, error) {
	if c.apiKey == "" {
		return "", errs.New(errs.Config, "%s API key not configured", c.name)
	}

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxTokens,
	}
	if schema != nil {
		reqBody.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchema{Name: "response", Strict: true, Schema: schema},
		}
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", errs.Wrap(errs.Provider, err, "%s: marshal request", c.name)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", errs.Wrap(errs.Provider, err, "%s: build request", c.name)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", errs.New(errs.Timeout, "%s timed out", c.name)
		}
		return "", errs.Wrap(errs.Provider, err, "%s request failed", c.name)
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil && resp.StatusCode == http.StatusOK {
		return "", errs.Wrap(errs.Provider, err, "%s: decode response", c.name)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// Upstream auth failures are operator misconfiguration, never
		// the client's fault.
		return "", errs.New(errs.Config, "%s rejected credentials; verify API key", c.name)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", errs.New(errs.RateLimit, "%s rate limited", c.name)
	case resp.StatusCode >= 400:
		msg := ""
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", errs.New(errs.Provider, "%s returned %d: %s", c.name, resp.StatusCode, errs.Sanitize(msg))
	}

	return extractText(parsed)
}

// extractText pulls the response text out of output_text or the first
// choice's content, which may be a string or an array of typed parts.
func extractText(resp chatResponse) (string, error) {
	if resp.OutputText != "" {
		return resp.OutputText, nil
	}
	if len(resp.Choices) == 0 {
		return "", errs.New(errs.Provider, "completion had no choices")
	}
	raw := resp.Choices[0].Message.Content
	if len(raw) == 0 {
		return "", errs.New(errs.Provider, "completion had empty content")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var parts []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &parts); err == nil {
		// Structured-output providers embed the object under a named
		// field instead of serializing it into text.
		for _, part := range parts {
			for _, key := range []string{"output", "json", "parsed"} {
				if v, ok := part[key]; ok {
					return string(v), nil
				}
			}
			if v, ok := part["output_json_schema"]; ok {
				var inner map[string]json.RawMessage
				if json.Unmarshal(v, &inner) == nil {
					if out, ok := inner["output"]; ok {
						return string(out), nil
					}
				}
			}
		}
		var b strings.Builder
		for _, part := range parts {
			var text string
			if v, ok := part["text"]; ok && json.Unmarshal(v, &text) == nil {
				b.WriteString(text)
			}
		}
		if b.Len() > 0 {
			return b.String(), nil
		}
	}
	return "", errs.New(errs.Provider, "unrecognized content shape")
}
