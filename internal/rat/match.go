package rat

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	rxRATCode = regexp.MustCompile(`\b[0-9A-Z]{2}[0-9A-Z]\d{8,}\b`)
	rxTags    = regexp.MustCompile(`(?s)<[^>]+>`)
	rxRowOpen = regexp.MustCompile(`(?i)<tr[^>]*>`)
)

// substitutionMarker is the solution text that validates a RAT for a product.
const substitutionMarker = "66 SUBSTIT"

// OccurrencePrefix maps an occurrence code to the prefix its RAT codes
// carry: the leading letter becomes its alphabet index plus ten
// (PH94225371 -> 25H94225371).
func OccurrencePrefix(occurrence string) string {
	occurrence = strings.ToUpper(strings.TrimSpace(occurrence))
	if occurrence == "" {
		return ""
	}
	c := occurrence[0]
	var lead string
	switch {
	case c >= '0' && c <= '9':
		lead = string(c)
	case c >= 'A' && c <= 'Z':
		lead = strconv.Itoa(10 + int(c-'A'))
	default:
		return occurrence
	}
	return lead + occurrence[1:]
}

// Candidates returns the distinct RAT codes in page HTML that start with
// the occurrence's prefix, in first-seen order, capped at max (0 = no cap).
func Candidates(html, occurrence string, max int) []string {
	prefix := OccurrencePrefix(occurrence)
	seen := map[string]struct{}{}
	var out []string
	for _, code := range rxRATCode.FindAllString(html, -1) {
		if _, dup := seen[code]; dup || !strings.HasPrefix(code, prefix) {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// GridHasHit reports whether any table row of the detail page mentions
// the product and the substitution solution.
func GridHasHit(html, product string) bool {
	for _, row := range rxRowOpen.Split(html, -1) {
		if rowHasHit(row, product) {
			return true
		}
	}
	return false
}

func rowHasHit(rowHTML, product string) bool {
	text := foldASCII(rxTags.ReplaceAllString(rowHTML, " "))
	prodDigits := digitsOf(product)
	if prodDigits == "" {
		return false
	}
	return strings.Contains(digitsOf(text), prodDigits) && strings.Contains(text, substitutionMarker)
}

// foldASCII strips accents and uppercases.
func foldASCII(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToUpper(out)
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// resultsReady reports whether the search results page has loaded.
func resultsReady(html string) bool {
	up := foldASCII(html)
	return strings.Contains(up, "REGISTROS 1 -") || strings.Contains(up, "APONTAMENTOS") || rxRATCode.MatchString(html)
}

// detailReady reports whether a RAT detail page is showing.
func detailReady(html, code string) bool {
	up := foldASCII(html)
	return strings.Contains(up, code) && (strings.Contains(up, "APONTAMENTOS") || strings.Contains(up, "SOLUCAO"))
}
