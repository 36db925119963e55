// Package prompt builds the messages sent to AI providers.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/guilherme-santos/smartcal"
)

// Pack is a prompt set loaded from YAML. Any empty field falls back to the
// built-in text.
//
//	system: |
//	  ...
//	retry_instruction: |
//	  ...
//	providers:
//	  anthropic:
//	    system: |
//	      ...
type Pack struct {
	System           string                    `yaml:"system"`
	RetryInstruction string                    `yaml:"retry_instruction"`
	Providers        map[string]ProviderPrompt `yaml:"providers"`
}

type ProviderPrompt struct {
	System string `yaml:"system"`
}

func LoadPack(filename string) (*Pack, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParsePack(data)
}

func ParsePack(data []byte) (*Pack, error) {
	var p Pack
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("prompt: parsing pack: %w", err)
	}
	return &p, nil
}

type Composer struct {
	pack Pack
}

// NewComposer accepts a nil pack, in which case only built-in texts are used.
func NewComposer(pack *Pack) *Composer {
	c := &Composer{}
	if pack != nil {
		c.pack = *pack
	}
	return c
}

// System returns the system instruction for the given provider.
func (c *Composer) System(provider string) string {
	if p, ok := c.pack.Providers[provider]; ok && strings.TrimSpace(p.System) != "" {
		return p.System
	}
	if strings.TrimSpace(c.pack.System) != "" {
		return c.pack.System
	}
	return defaultSystem
}

// Compose builds the prompt for req. feedback is the error of the previous
// attempt, if any, and is appended as a correction request. Any text yields a
// prompt; only a malformed context is an error.
func (c *Composer) Compose(req smartcal.ParseRequest, provider, feedback string) (smartcal.Prompt, error) {
	if req.Now.IsZero() {
		return smartcal.Prompt{}, errors.New("prompt: current time is required")
	}
	loc, err := req.Location()
	if err != nil {
		return smartcal.Prompt{}, fmt.Errorf("prompt: %w", err)
	}
	now := req.Now.In(loc)
	today := smartcal.NewDateFromTime(now)

	var b strings.Builder
	fmt.Fprintln(&b, "현재 컨텍스트:")
	fmt.Fprintf(&b, "- 오늘 날짜: %s\n", today)
	fmt.Fprintf(&b, "- 현재 시간: %s\n", now.Format("15:04:05"))
	fmt.Fprintf(&b, "- 요일: %s (%s)\n", weekdays[now.Weekday()], now.Weekday())
	fmt.Fprintf(&b, "- ISO 주차: %d\n", today.Week())
	fmt.Fprintf(&b, "- 시간대: %s (UTC%s)\n", loc, now.Format("-07:00"))
	if req.DefaultCalendarID != "" {
		fmt.Fprintf(&b, "- 기본 캘린더: %s\n", req.DefaultCalendarID)
	}
	if len(req.Preferences) > 0 {
		keys := make([]string, 0, len(req.Preferences))
		for k := range req.Preferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(&b, "- 사용자 설정:")
		for _, k := range keys {
			fmt.Fprintf(&b, "  - %s: %s\n", k, req.Preferences[k])
		}
	}
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "파싱할 텍스트: %q\n", req.Text)
	fmt.Fprintln(&b)
	b.WriteString("위 텍스트를 분석하여 JSON 형태의 이벤트 데이터로 변환해주세요.")

	if feedback != "" {
		retry := c.pack.RetryInstruction
		if strings.TrimSpace(retry) == "" {
			retry = defaultRetryInstruction
		}
		fmt.Fprintf(&b, "\n\n%s\n이전 응답의 오류: %s", strings.TrimSpace(retry), feedback)
	}

	return smartcal.Prompt{
		System: c.System(provider),
		User:   b.String(),
	}, nil
}

var weekdays = [...]string{"일요일", "월요일", "화요일", "수요일", "목요일", "금요일", "토요일"}

const defaultRetryInstruction = `이전 응답을 처리할 수 없었습니다. 아래 오류를 고쳐서 설명 없이 JSON 객체 하나만 다시 응답하세요.`

const defaultSystem = `당신은 한국어 자연어를 캘린더 이벤트로 변환하는 전문 AI입니다.

다음 JSON 형식으로만 응답하세요:
{
  "title": "이벤트 제목",
  "description": "상세 설명 (선택사항)",
  "start_at": "YYYY-MM-DDTHH:MM:SS+09:00",
  "end_at": "YYYY-MM-DDTHH:MM:SS+09:00",
  "start_timezone": "Asia/Seoul",
  "end_timezone": "Asia/Seoul",
  "all_day": false,
  "location": "장소 (있는 경우)",
  "recurrence_rule": "RRULE 형식의 반복 규칙 (있는 경우, 예: FREQ=WEEKLY;BYDAY=MO)",
  "category": "work/personal/health/family/social/travel/education/other 중 하나",
  "confidence": 0.95,
  "suggestions": ["추천사항1", "추천사항2"],
  "extracted_entities": {
    "datetime": "추출된 날짜/시간 정보",
    "location": "추출된 장소 정보",
    "duration": "추출된 기간 정보",
    "participants": ["참석자1", "참석자2"]
  }
}

규칙:
1. 사용자 메시지의 현재 날짜와 시간을 기준으로 합니다.
2. 상대적 표현("내일", "다음주" 등)을 절대 날짜로 변환합니다.
3. 시간이 없으면 오전 9시(09:00)를 기본값으로 사용합니다.
4. 종료시간이 없으면 시작시간 + 1시간입니다.
5. 날짜와 시간은 시간대 오프셋을 포함한 ISO-8601 형식입니다.
6. confidence는 0.0~1.0 범위입니다.
7. 반드시 JSON 객체 하나로만 응답합니다.`
