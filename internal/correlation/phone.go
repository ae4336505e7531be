package correlation

import (
	"strings"
	"unicode"
)

// minSuffixDigits is the shortest digit run accepted for suffix matching
// between a sender and an operator phone.
const minSuffixDigits = 7

// Normalizer canonicalizes phone numbers for a single national numbering plan.
type Normalizer struct {
	CountryCode string
}

func NewNormalizer(countryCode string) Normalizer {
	return Normalizer{CountryCode: countryCode}
}

// Normalize strips non-digits, rewrites a national trunk "0" into the
// country code and prefixes the country code when missing. It is total and
// idempotent: Normalize(Normalize(x)) == Normalize(x).
func (n Normalizer) Normalize(raw string) string {
	digits := Digits(raw)
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(digits, "0") {
		return n.CountryCode + digits[1:]
	}
	if strings.HasPrefix(digits, n.CountryCode) {
		return digits
	}
	return n.CountryCode + digits
}

// Variants returns the phone forms a correspondent may be stored under:
// the normalized number, the national number with and without trunk "0".
func (n Normalizer) Variants(raw string) []string {
	normalized := n.Normalize(raw)
	if normalized == "" {
		return nil
	}
	national := strings.TrimPrefix(normalized, n.CountryCode)

	out := []string{normalized}
	seen := map[string]bool{normalized: true}
	for _, v := range []string{"0" + national, national} {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// Digits drops every non-digit rune.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SuffixMatch reports whether one digit string ends with the other, with the
// shorter side at least minSuffixDigits long.
func SuffixMatch(a, b string) bool {
	a, b = Digits(a), Digits(b)
	if len(a) < minSuffixDigits || len(b) < minSuffixDigits {
		return false
	}
	return strings.HasSuffix(a, b) || strings.HasSuffix(b, a)
}

// ClosingPhrase matches operator or visitor text against the configured
// phrase, ignoring case and runs of whitespace.
type ClosingPhrase struct {
	phrase string
}

func NewClosingPhrase(phrase string) ClosingPhrase {
	return ClosingPhrase{phrase: foldSpace(phrase)}
}

func (c ClosingPhrase) Matches(text string) bool {
	if c.phrase == "" {
		return false
	}
	return foldSpace(text) == c.phrase
}

func foldSpace(s string) string {
	return strings.ToLower(strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " "))
}
