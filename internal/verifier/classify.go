package verifier

import (
	"regexp"
	"strconv"
	"strings"

	"voucher_backend/internal/domain"
)

// Marker is a set of phrases that all mean the same thing on an issuer page.
type Marker struct {
	Phrases []string
	Message string
}

func (m Marker) matches(text string) bool {
	for _, p := range m.Phrases {
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// Markers is the page-copy vocabulary of one provider.
type Markers struct {
	Accept []Marker
	Reject []Marker
	// Amount captures the face value in its first group, e.g. "10,000원".
	Amount *regexp.Regexp
}

// Classification is the reading of one result page.
type Classification struct {
	Outcome   domain.Outcome
	Message   string
	FaceValue int64
}

const manualReviewMessage = "검증 결과 확인 불가 (수동 확인 필요)"

// Classify scans page text for accept and reject markers. A page matching
// neither, or both, is indeterminate.
func (m Markers) Classify(text string) Classification {
	var accepted, rejected *Marker
	for i := range m.Accept {
		if m.Accept[i].matches(text) {
			accepted = &m.Accept[i]
			break
		}
	}
	for i := range m.Reject {
		if m.Reject[i].matches(text) {
			rejected = &m.Reject[i]
			break
		}
	}

	switch {
	case accepted != nil && rejected != nil:
		return Classification{Outcome: domain.OutcomeIndeterminate, Message: manualReviewMessage + " - 상충되는 응답"}
	case rejected != nil:
		return Classification{Outcome: domain.OutcomeRejected, Message: rejected.Message}
	case accepted != nil:
		return Classification{
			Outcome:   domain.OutcomeConfirmed,
			Message:   accepted.Message,
			FaceValue: ExtractAmount(m.Amount, text),
		}
	default:
		return Classification{Outcome: domain.OutcomeIndeterminate, Message: manualReviewMessage}
	}
}

var (
	defaultAmount = regexp.MustCompile(`([0-9][0-9,]*)\s*원`)
	anyAmount     = regexp.MustCompile(`([0-9][0-9,]*)`)
)

// ExtractAmount returns the first non-empty group of the first match of
// pattern in text, or 0.
func ExtractAmount(pattern *regexp.Regexp, text string) int64 {
	if pattern == nil {
		pattern = defaultAmount
	}
	m := pattern.FindStringSubmatch(text)
	for _, g := range m[min(1, len(m)):] {
		if g == "" {
			continue
		}
		n, err := strconv.ParseInt(strings.ReplaceAll(g, ",", ""), 10, 64)
		if err != nil || n < 0 {
			return 0
		}
		return n
	}
	return 0
}

// FormatWon renders 50000 as "50,000".
func FormatWon(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
