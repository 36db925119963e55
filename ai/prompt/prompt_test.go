package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/guilherme-santos/smartcal"
)

func TestCompose(t *testing.T) {
	c := NewComposer(nil)
	req := smartcal.ParseRequest{
		Text:        "내일 오후 2시 강남역에서 회의",
		Timezone:    "Asia/Seoul",
		Preferences: map[string]string{"default_event_duration": "60"},
		Now:         time.Date(2024, 8, 19, 1, 30, 0, 0, time.UTC),
	}

	p, err := c.Compose(req, "openai", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.System != defaultSystem {
		t.Error("expected built-in system prompt")
	}
	for _, want := range []string{
		"2024-08-19",
		"10:30:00",
		"월요일",
		"ISO 주차: 34",
		"Asia/Seoul",
		"UTC+09:00",
		"default_event_duration: 60",
		"내일 오후 2시 강남역에서 회의",
	} {
		if !strings.Contains(p.User, want) {
			t.Errorf("expected user message to contain %q, got:\n%s", want, p.User)
		}
	}
	if strings.Contains(p.User, "이전 응답의 오류") {
		t.Error("expected no feedback on first attempt")
	}
}

func TestComposeFeedback(t *testing.T) {
	c := NewComposer(nil)
	req := smartcal.ParseRequest{Text: "회의", Now: time.Now()}

	p, err := c.Compose(req, "openai", "unexpected end of JSON input")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p.User, "이전 응답의 오류: unexpected end of JSON input") {
		t.Errorf("expected feedback in prompt, got:\n%s", p.User)
	}
}

func TestComposeArbitraryText(t *testing.T) {
	c := NewComposer(nil)
	for _, text := range []string{"", "{\"title\": ", "%s %d", strings.Repeat("가", 5000)} {
		if _, err := c.Compose(smartcal.ParseRequest{Text: text, Now: time.Now()}, "", ""); err != nil {
			t.Errorf("expected a prompt for %q, got %v", text, err)
		}
	}
}

func TestComposeMalformedContext(t *testing.T) {
	c := NewComposer(nil)
	if _, err := c.Compose(smartcal.ParseRequest{Text: "회의", Timezone: "Mars/Olympus", Now: time.Now()}, "", ""); err == nil {
		t.Error("expected error for unknown timezone")
	}
	if _, err := c.Compose(smartcal.ParseRequest{Text: "회의"}, "", ""); err == nil {
		t.Error("expected error without current time")
	}
}

func TestPack(t *testing.T) {
	pack, err := ParsePack([]byte(`
system: "generic system"
retry_instruction: "fix it"
providers:
  anthropic:
    system: "anthropic system"
`))
	if err != nil {
		t.Fatal(err)
	}
	c := NewComposer(pack)

	if got := c.System("anthropic"); got != "anthropic system" {
		t.Errorf("expected provider override, got %q", got)
	}
	if got := c.System("openai"); got != "generic system" {
		t.Errorf("expected pack system, got %q", got)
	}

	p, _ := c.Compose(smartcal.ParseRequest{Text: "회의", Now: time.Now()}, "openai", "bad json")
	if !strings.Contains(p.User, "fix it") {
		t.Errorf("expected pack retry instruction, got:\n%s", p.User)
	}

	if _, err := ParsePack([]byte("system: [")); err == nil {
		t.Error("expected error for invalid yaml")
	}
}
