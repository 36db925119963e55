package parser

import (
	"strings"
)

type Tips struct {
	General  []string `json:"general_tips"`
	Good     []string `json:"good_examples"`
	Avoid    []string `json:"avoid_examples"`
	Specific []string `json:"specific_suggestions,omitempty"`
}

var (
	generalTips = []string{
		"날짜와 시간을 구체적으로 명시해주세요 (예: '내일 오후 3시')",
		"장소나 위치 정보를 포함해주세요 (예: '강남역 스타벅스에서')",
		"참석자나 관련된 사람을 언급해주세요 (예: '김과장과 함께')",
		"일정의 목적이나 내용을 간단히 설명해주세요",
	}
	goodExamples = []string{
		"내일 오후 2시에 강남역 스타벅스에서 김대리와 프로젝트 회의",
		"다음주 월요일 오전 9시 병원에서 정기검진 받기",
		"매주 화요일 저녁 7시 헬스장에서 운동하기",
		"12월 25일 저녁 6시 부모님댁에서 크리스마스 저녁식사",
	}
	avoidExamples = []string{
		"언젠가 만나기",
		"나중에 연락",
		"시간 날 때 커피",
		"적당한 시간에",
	}

	timeWords = []string{"시", "오전", "오후", "새벽", "밤"}
	dateWords = []string{"오늘", "내일", "모레", "월요일", "화요일", "수요일", "목요일", "금요일", "토요일", "일요일"}
)

// TipsFor returns parsing tips, adding suggestions specific to failedText
// when it is not empty.
func TipsFor(failedText string) Tips {
	t := Tips{
		General: generalTips,
		Good:    goodExamples,
		Avoid:   avoidExamples,
	}
	if failedText == "" {
		return t
	}

	text := strings.ToLower(failedText)
	if !containsAny(text, timeWords) {
		t.Specific = append(t.Specific, "구체적인 시간을 추가해보세요 (예: '오후 3시')")
	}
	if !containsAny(text, dateWords) {
		t.Specific = append(t.Specific, "날짜 정보를 명확히 해주세요 (예: '내일', '다음주 금요일')")
	}
	if len(strings.Fields(failedText)) < 3 {
		t.Specific = append(t.Specific, "더 자세한 설명을 추가해주세요")
	}
	return t
}

// Guidance flattens the tips into the lines attached to an error: specific
// suggestions first, then the general ones.
func (t Tips) Guidance() []string {
	g := make([]string, 0, len(t.Specific)+len(t.General))
	g = append(g, t.Specific...)
	return append(g, t.General...)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
