package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/foliopilot/foliopilot/internal/cache"
	"github.com/foliopilot/foliopilot/internal/errs"
)

// defaultSystemPrompt frames every conversation unless the operator
// configures a replacement.
const defaultSystemPrompt = "You are a precise assistant for an investment portfolio application. " +
	"Answer directly and keep responses compact."

// contextAdvisory is appended when the caller asks for internet-aware
// answers; the model decides what to do with it.
const contextAdvisory = "Where current public information is relevant, incorporate the most recent facts you are confident about."

// Request describes one invocation.
type Request struct {
	Prompt         string
	Schema         json.RawMessage
	SystemOverride string
	AddContext     bool
}

// Result is a delivered invocation: the parsed JSON value when a schema
// was requested, otherwise the raw text.
type Result struct {
	Value    any
	Provider string
	Cached   bool
	Age      time.Duration
}

// Invoker routes invocations across the configured providers with
// caching and single-flight deduplication. Provider order is secondary
// first when configured, demoting to the primary on failure.
type Invoker struct {
	primary   *Client
	secondary *Client
	system    string
	maxTokens int
	cache     *cache.Cache[Result]
	flight    cache.Flight[Result]
	log       zerolog.Logger
}

// NewInvoker wires the invocation layer. Either client may be nil;
// invoking with neither configured fails with a Config error.
func NewInvoker(primary, secondary *Client, systemPrompt string, maxTokens int, ttl time.Duration, maxEntries int, log zerolog.Logger) *Invoker {
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &Invoker{
		primary:   primary,
		secondary: secondary,
		system:    systemPrompt,
		maxTokens: maxTokens,
		cache:     cache.New[Result](ttl, maxEntries),
		log:       log.With().Str("component", "llm").Logger(),
	}
}

// PrimaryModel reports the configured primary model for health output.
func (iv *Invoker) PrimaryModel() string {
	if iv.primary != nil {
		return iv.primary.Model()
	}
	if iv.secondary != nil {
		return iv.secondary.Model()
	}
	return ""
}

// CacheKey builds a stable key over the semantic inputs. Field order is
// fixed so equal inputs always collide.
func CacheKey(req Request) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(struct {
		Prompt  string          `json:"prompt"`
		Schema  json.RawMessage `json:"schema"`
		System  string          `json:"system"`
		Context bool            `json:"context"`
	}{req.Prompt, req.Schema, req.SystemOverride, req.AddContext})
	return hex.EncodeToString(h.Sum(nil))
}

// Invoke delivers a completion for the request, serving the cache when
// fresh and collapsing concurrent identical requests.
func (iv *Invoker) Invoke(ctx context.Context, req Request) (Result, error) {
	if req.Prompt == "" {
		return Result{}, errs.New(errs.Validation, "prompt is required")
	}

	key := CacheKey(req)
	if e, ok := iv.cache.Get(key); ok && e.Fresh(iv.cache.TTL()) {
		r := e.Value
		r.Cached = true
		r.Age = time.Since(e.FetchedAt)
		return r, nil
	}

	result, _, err := iv.flight.Do(key, func() (Result, error) {
		r, err := iv.invokeProviders(ctx, req)
		if err != nil {
			return Result{}, err
		}
		iv.cache.Put(key, r)
		return r, nil
	})
	return result, err
}

// invokeProviders walks the provider order: secondary when configured,
// then primary. A secondary failure is logged and demoted, not
// surfaced.
func (iv *Invoker) invokeProviders(ctx context.Context, req Request) (Result, error) {
	messages := iv.buildMessages(req)
	opts := Options{Temperature: 0.2, TopP: 0.8, MaxTokens: iv.maxTokens}

	var lastErr error
	for _, c := range []*Client{iv.secondary, iv.primary} {
		if c == nil {
			continue
		}
		text, err := c.Complete(ctx, messages, req.Schema, opts)
		if err != nil {
			lastErr = err
			iv.log.Warn().Err(err).Str("llm_provider", c.Name()).Msg("completion failed, trying next provider")
			if ctx.Err() != nil {
				return Result{}, err
			}
			continue
		}
		return iv.parse(c.Name(), req, text)
	}

	if lastErr == nil {
		return Result{}, errs.New(errs.Config, "no LLM provider configured")
	}
	return Result{}, lastErr
}

// buildMessages assembles the system prompt, the override, the context
// advisory, and the user prompt in that order.
func (iv *Invoker) buildMessages(req Request) []Message {
	system := iv.system
	if req.SystemOverride != "" {
		system += "\n\n" + req.SystemOverride
	}
	if req.AddContext {
		system += "\n\n" + contextAdvisory
	}
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: req.Prompt},
	}
}

// parse coerces the response: schema requests must yield JSON (with
// loose repair), plain requests pass text through.
func (iv *Invoker) parse(provider string, req Request, text string) (Result, error) {
	if req.Schema == nil {
		return Result{Value: text, Provider: provider}, nil
	}
	v, err := ParseLoose(text)
	if err != nil {
		return Result{}, err
	}
	return Result{Value: v, Provider: provider}, nil
}
