package planner

import (
	"strings"
	"unicode"
)

// text is a request normalized for keyword matching: lowercase, with every
// rune that is not a letter or digit folded into a single space.
type text struct {
	padded string
	words  int
}

func newText(request string) text {
	var b strings.Builder
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(request) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return text{padded: b.String(), words: len(strings.Fields(request))}
}

// has reports whether term occurs in the text. Terms are normalized the
// same way as the text. Terms of three runes or fewer must match a whole
// word; longer terms match at the start of a word, so "deploy" also
// matches "deployment".
func (t text) has(term string) bool {
	norm := strings.TrimSpace(newText(term).padded)
	if norm == "" {
		return false
	}
	needle := " " + norm
	if len([]rune(norm)) <= 3 {
		needle += " "
	}
	return strings.Contains(t.padded, needle)
}

func (t text) any(terms ...string) bool {
	for _, term := range terms {
		if t.has(term) {
			return true
		}
	}
	return false
}

// distinct counts how many different terms occur. Terms that normalize to
// the same phrase, or that extend another matched term ("authentication"
// after "auth"), are counted once.
func (t text) distinct(terms ...string) int {
	var matched []string
	for _, term := range terms {
		if t.has(term) {
			matched = append(matched, strings.TrimSpace(newText(term).padded))
		}
	}
	n := 0
	for i, m := range matched {
		dup := false
		for j, other := range matched {
			if i == j {
				continue
			}
			if (other == m && j < i) || (other != m && strings.HasPrefix(m, other)) {
				dup = true
				break
			}
		}
		if !dup {
			n++
		}
	}
	return n
}
