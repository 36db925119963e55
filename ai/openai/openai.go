// Package openai is the OpenAI chat-completions provider.
package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/guilherme-santos/smartcal"
	"github.com/guilherme-santos/smartcal/internal"
)

const (
	Name         = "openai"
	DefaultModel = "gpt-4o-mini"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

type Provider struct {
	client *openai.Client
	cfg    Config
}

func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Transport: headerTransport{base: http.DefaultTransport},
	}

	return &Provider{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}, nil
}

func (p *Provider) Name() string  { return Name }
func (p *Provider) Model() string { return p.cfg.Model }

func (p *Provider) Complete(ctx context.Context, prompt smartcal.Prompt) (*smartcal.Completion, error) {
	h := &retryAfterHeader{}
	ctx = context.WithValue(ctx, retryAfterKey{}, h)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User},
		},
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, mapError(err, h.retryAfter)
	}
	if len(resp.Choices) == 0 {
		return nil, smartcal.NewError(smartcal.KindProviderAPI, "openai: empty choices")
	}

	return &smartcal.Completion{
		Text:             resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func mapError(err error, retryAfter time.Duration) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return smartcal.WrapError(smartcal.KindProviderAuth, err, "openai")
	case status == http.StatusTooManyRequests:
		e := smartcal.WrapError(smartcal.KindProviderRateLimit, err, "openai")
		e.RetryAfter = retryAfter
		return e
	case errors.Is(err, context.DeadlineExceeded):
		return smartcal.WrapError(smartcal.KindProviderTimeout, err, "openai")
	}
	return smartcal.WrapError(smartcal.KindProviderAPI, err, "openai")
}

// The client library drops response headers on errors, the transport keeps
// Retry-After for the call that carries a retryAfterHeader in its context.
type retryAfterKey struct{}

type retryAfterHeader struct {
	retryAfter time.Duration
}

type headerTransport struct {
	base http.RoundTripper
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if h, ok := req.Context().Value(retryAfterKey{}).(*retryAfterHeader); ok {
		h.retryAfter = internal.ParseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return resp, nil
}
