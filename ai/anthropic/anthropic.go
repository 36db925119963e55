// Package anthropic is the Anthropic messages API provider.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/guilherme-santos/smartcal"
	"github.com/guilherme-santos/smartcal/internal"
)

const (
	Name         = "anthropic"
	DefaultModel = "claude-3-5-haiku-latest"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

type Provider struct {
	client anthropic.Client
	cfg    Config
}

func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// fallback and retries are decided by the parser
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

func (p *Provider) Name() string  { return Name }
func (p *Provider) Model() string { return p.cfg.Model }

func (p *Provider) Complete(ctx context.Context, prompt smartcal.Prompt) (*smartcal.Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: int64(p.cfg.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
		Temperature: anthropic.Float(p.cfg.Temperature),
	}
	if prompt.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: prompt.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	model := string(msg.Model)
	if model == "" {
		model = p.cfg.Model
	}
	return &smartcal.Completion{
		Text:             text.String(),
		Model:            model,
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}, nil
}

func mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return smartcal.WrapError(smartcal.KindProviderAuth, err, "anthropic")
		case http.StatusTooManyRequests:
			e := smartcal.WrapError(smartcal.KindProviderRateLimit, err, "anthropic")
			if apiErr.Response != nil {
				e.RetryAfter = internal.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return e
		}
		return smartcal.WrapError(smartcal.KindProviderAPI, err, "anthropic")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return smartcal.WrapError(smartcal.KindProviderTimeout, err, "anthropic")
	}
	return smartcal.WrapError(smartcal.KindProviderAPI, err, "anthropic")
}
