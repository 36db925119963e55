// Package static is a provider that answers from a fixed list of replies.
// It needs no network access, which makes it useful offline and in tests.
package static

import (
	"context"
	"sync"

	"github.com/guilherme-santos/smartcal"
)

type Reply struct {
	Text string
	Err  error
}

type Provider struct {
	name  string
	model string

	mu      sync.Mutex
	replies []Reply
	calls   int
	prompts []smartcal.Prompt
}

// New returns a provider that answers the n-th call with replies[n]. Once
// the list is exhausted the last reply is repeated.
func New(name, model string, replies ...Reply) *Provider {
	return &Provider{
		name:    name,
		model:   model,
		replies: replies,
	}
}

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.model }

func (p *Provider) Complete(ctx context.Context, prompt smartcal.Prompt) (*smartcal.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	p.prompts = append(p.prompts, prompt)

	if len(p.replies) == 0 {
		return nil, smartcal.NewError(smartcal.KindProviderAPI, "%s has no replies", p.name)
	}
	i := p.calls - 1
	if i >= len(p.replies) {
		i = len(p.replies) - 1
	}
	r := p.replies[i]
	if r.Err != nil {
		return nil, r.Err
	}

	return &smartcal.Completion{
		Text:             r.Text,
		Model:            p.model,
		PromptTokens:     len([]rune(prompt.System+prompt.User)) / 4,
		CompletionTokens: len([]rune(r.Text)) / 4,
	}, nil
}

func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Prompts returns every prompt received so far.
func (p *Provider) Prompts() []smartcal.Prompt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]smartcal.Prompt(nil), p.prompts...)
}
