package bugs

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/and161185/agentproof/internal/model"
)

// Matcher grades a diagnosis. A submission passes when the line is within LineTolerance
// of the answer key and the issue mentions at least max(MinHits, ceil(Ratio*|keywords|))
// of the bug type's keywords.
type Matcher struct {
	Ratio         float64
	MinHits       int
	LineTolerance int
	Catalog       *Catalog
}

// DefaultMatcher uses the calibrated 40% / 2 hits / ±1 line tolerance.
var DefaultMatcher = Matcher{Ratio: 0.4, MinHits: 2, LineTolerance: 1}

// Verdict explains a grading decision.
type Verdict struct {
	Passed   bool
	LineOK   bool
	Hits     int
	Required int
}

// ValidateAnswer grades with DefaultMatcher.
func ValidateAnswer(dc model.DynamicChallenge, line int, issue string) bool {
	return DefaultMatcher.Grade(dc, line, issue).Passed
}

// Grade scores a submitted line and issue description against dc.
func (m Matcher) Grade(dc model.DynamicChallenge, line int, issue string) Verdict {
	cat := m.Catalog
	if cat == nil {
		cat = &DefaultCatalog
	}
	var v Verdict
	diff := line - dc.Answer.Line
	v.LineOK = diff >= -m.LineTolerance && diff <= m.LineTolerance

	bt, ok := cat.Types[dc.BugType]
	if !ok || len(bt.Keywords) == 0 {
		return v
	}
	v.Required = m.required(len(bt.Keywords))
	v.Hits = countHits(bt.Keywords, tokenize(issue))
	v.Passed = v.LineOK && v.Hits >= v.Required
	return v
}

func (m Matcher) required(n int) int {
	req := int(math.Ceil(m.Ratio * float64(n)))
	if req < m.MinHits {
		req = m.MinHits
	}
	if req > n {
		req = n
	}
	return req
}

// keyword is a parsed catalog keyword. A trailing '*' in the catalog makes the last
// token a prefix, e.g. "terminat*" matches "terminates".
type keyword struct {
	tokens []string
	stem   bool
	size   int
}

func parseKeyword(raw string) keyword {
	stem := strings.HasSuffix(raw, "*")
	toks := tokenize(strings.TrimSuffix(raw, "*"))
	return keyword{tokens: toks, stem: stem, size: len(strings.Join(toks, " "))}
}

// countHits counts the keywords present in text. Each keyword counts once, and a
// matched span cannot be reused: longer keywords claim their tokens first, so "==="
// does not also count as "==" and "infinite loop" does not also count as "loop"
// unless the word appears again.
func countHits(keywords []string, text []string) int {
	kws := make([]keyword, 0, len(keywords))
	for _, raw := range keywords {
		if k := parseKeyword(raw); len(k.tokens) > 0 {
			kws = append(kws, k)
		}
	}
	sort.SliceStable(kws, func(i, j int) bool {
		if len(kws[i].tokens) != len(kws[j].tokens) {
			return len(kws[i].tokens) > len(kws[j].tokens)
		}
		return kws[i].size > kws[j].size
	})

	used := make([]bool, len(text))
	hits := 0
	for _, k := range kws {
		if at := k.find(text, used); at >= 0 {
			for i := range k.tokens {
				used[at+i] = true
			}
			hits++
		}
	}
	return hits
}

// find returns the first position where k matches unclaimed tokens, or -1.
func (k keyword) find(text []string, used []bool) int {
	n := len(k.tokens)
outer:
	for at := 0; at+n <= len(text); at++ {
		for i, want := range k.tokens {
			got := text[at+i]
			if used[at+i] {
				continue outer
			}
			if k.stem && i == n-1 {
				if !strings.HasPrefix(got, want) {
					continue outer
				}
			} else if got != want {
				continue outer
			}
		}
		return at
	}
	return -1
}

// tokenize lower-cases s and splits it into words (letters and digits) and operator
// runs built from "=<>!". Everything else, including '-' and '_', separates tokens.
func tokenize(s string) []string {
	var (
		out  []string
		cur  []rune
		kind int // 0 none, 1 word, 2 operator
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
		kind = 0
	}
	for _, r := range strings.ToLower(s) {
		k := 0
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			k = 1
		case strings.ContainsRune("=<>!", r):
			k = 2
		}
		if k != kind {
			flush()
		}
		if k != 0 {
			cur = append(cur, r)
			kind = k
		}
	}
	flush()
	return out
}
