package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"

	"github.com/guilherme-santos/smartcal"
	"github.com/guilherme-santos/smartcal/ai/static"
	"github.com/guilherme-santos/smartcal/internal/ratelimit"
)

type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) logger() logr.Logger {
	return funcr.New(func(prefix, args string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.lines = append(r.lines, args)
	}, funcr.Options{})
}

func (r *recorder) all() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n")
}

type blockingProvider struct{}

func (blockingProvider) Name() string  { return "slow" }
func (blockingProvider) Model() string { return "slow-1" }
func (blockingProvider) Complete(ctx context.Context, _ smartcal.Prompt) (*smartcal.Completion, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGatewayCall(t *testing.T) {
	rec := &recorder{}
	g := NewGateway(time.Second, nil, rec.logger())
	p := static.New("static", "canned-1", static.Reply{Text: `{"title":"회의"}`})

	res, err := g.Call(context.Background(), p, smartcal.Prompt{System: "system prompt", User: "user prompt"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != `{"title":"회의"}` || res.Provider != "static" || res.Model != "canned-1" {
		t.Errorf("unexpected response %+v", res)
	}

	out := rec.all()
	for _, want := range []string{`"provider"="static"`, `"model"="canned-1"`, `"success"=true`, `"prompt_tokens"=`, `"completion_tokens"=`, `"latency"=`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log to contain %s, got %s", want, out)
		}
	}
}

func TestGatewayTimeout(t *testing.T) {
	rec := &recorder{}
	g := NewGateway(20*time.Millisecond, nil, rec.logger())

	_, err := g.Call(context.Background(), blockingProvider{}, smartcal.Prompt{})
	if !errors.Is(err, smartcal.ErrProviderTimeout) {
		t.Fatalf("expected ErrProviderTimeout, got %v", err)
	}
	if !strings.Contains(rec.all(), `"success"=false`) {
		t.Errorf("expected failed call to be logged, got %s", rec.all())
	}
}

func TestGatewayCallerCancel(t *testing.T) {
	g := NewGateway(time.Second, nil, logr.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := g.Call(ctx, blockingProvider{}, smartcal.Prompt{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if smartcal.IsProviderFailure(err) {
		t.Error("expected cancellation not to be a provider failure")
	}
}

func TestGatewayRateLimit(t *testing.T) {
	now := time.Date(2024, 8, 20, 10, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(1, time.Minute).WithClock(func() time.Time { return now })
	g := NewGateway(time.Second, limiter, logr.Discard())
	p := static.New("static", "m", static.Reply{Text: "{}"})

	if _, err := g.Call(context.Background(), p, smartcal.Prompt{}); err != nil {
		t.Fatal(err)
	}
	_, err := g.Call(context.Background(), p, smartcal.Prompt{})
	if !errors.Is(err, smartcal.ErrProviderRateLimited) {
		t.Fatalf("expected ErrProviderRateLimited, got %v", err)
	}
	if smartcal.RetryAfterOf(err) != time.Minute {
		t.Errorf("expected retry after 1m, got %s", smartcal.RetryAfterOf(err))
	}
	if p.Calls() != 1 {
		t.Errorf("expected limited call not to reach the provider, got %d calls", p.Calls())
	}
}

func TestGatewayWrapsPlainErrors(t *testing.T) {
	g := NewGateway(time.Second, nil, logr.Discard())
	p := static.New("static", "m", static.Reply{Err: errors.New("connection reset")})

	_, err := g.Call(context.Background(), p, smartcal.Prompt{})
	if !errors.Is(err, smartcal.ErrProviderAPI) {
		t.Fatalf("expected ErrProviderAPI, got %v", err)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", `{"title":"회의"}`, `{"title":"회의"}`, true},
		{"fenced", "```json\n{\"title\":\"회의\"}\n```", `{"title":"회의"}`, true},
		{"chatty", "Sure! Here it is: {\"title\":\"회의\"} Hope this helps.", `{"title":"회의"}`, true},
		{"nested", `{"a":{"b":1}}`, `{"a":{"b":1}}`, true},
		{"no object", "I can't help with that", "", false},
		{"broken", `{"title": "회의"`, "", false},
		{"array", `[1,2]`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestMuxChain(t *testing.T) {
	m := NewMux()
	m.Register(static.New("a", "m"))
	m.Register(static.New("b", "m"))

	chain, err := m.Chain("b", "", "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 2 || chain[0].Name() != "b" || chain[1].Name() != "a" {
		t.Errorf("unexpected chain %v", chain)
	}
	if _, err := m.Chain("c"); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := m.Chain(); err == nil {
		t.Error("expected error for empty chain")
	}
}
