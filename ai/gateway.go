package ai

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"

	"github.com/guilherme-santos/smartcal"
	"github.com/guilherme-santos/smartcal/internal/ratelimit"
)

const DefaultTimeout = 30 * time.Second

type Response struct {
	smartcal.Completion

	Provider string
	Latency  time.Duration
}

// Gateway performs single provider calls, each bounded by Timeout and by the
// provider's call budget, and logs one record per call.
type Gateway struct {
	Timeout time.Duration

	limiter *ratelimit.Window
	logger  logr.Logger
	now     func() time.Time
}

// NewGateway builds a gateway. A nil limiter disables rate limiting.
func NewGateway(timeout time.Duration, limiter *ratelimit.Window, logger logr.Logger) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{
		Timeout: timeout,
		limiter: limiter,
		logger:  logger.WithName("gateway"),
		now:     time.Now,
	}
}

// Call asks p to complete the prompt. Failures are reported as one of the
// provider error kinds, except when ctx itself is done, in which case ctx's
// error is returned untouched.
func (g *Gateway) Call(ctx context.Context, p smartcal.Provider, prompt smartcal.Prompt) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if g.limiter != nil {
		if ok, retryAfter := g.limiter.Allow(p.Name()); !ok {
			err := &smartcal.Error{
				Kind:       smartcal.KindProviderRateLimit,
				Message:    "call budget exhausted for " + p.Name(),
				RetryAfter: retryAfter,
			}
			g.log(p, p.Model(), nil, 0, err)
			return nil, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	start := g.now()
	c, err := p.Complete(callCtx, prompt)
	latency := g.now().Sub(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		err = classify(callCtx, p, err)
		g.log(p, p.Model(), nil, latency, err)
		return nil, err
	}

	res := &Response{
		Completion: *c,
		Provider:   p.Name(),
		Latency:    latency,
	}
	if res.Model == "" {
		res.Model = p.Model()
	}
	g.log(p, res.Model, c, latency, nil)
	return res, nil
}

func classify(callCtx context.Context, p smartcal.Provider, err error) error {
	if smartcal.IsProviderFailure(err) {
		return err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return smartcal.WrapError(smartcal.KindProviderTimeout, err, "%s timed out", p.Name())
	}
	return smartcal.WrapError(smartcal.KindProviderAPI, err, "%s request failed", p.Name())
}

func (g *Gateway) log(p smartcal.Provider, model string, c *smartcal.Completion, latency time.Duration, err error) {
	kv := []any{
		"provider", p.Name(),
		"model", model,
		"prompt_tokens", 0,
		"completion_tokens", 0,
		"latency", latency,
		"success", err == nil,
	}
	if c != nil {
		kv[5] = c.PromptTokens
		kv[7] = c.CompletionTokens
	}
	if err != nil {
		g.logger.Error(err, "provider call", kv...)
		return
	}
	g.logger.Info("provider call", kv...)
}
