package danfe

import (
	"regexp"
	"strings"
)

// DefaultIssuer is the company whose DANFEs are accepted.
const DefaultIssuer = "NCR BRASIL LTDA"

var rxKeyRun = regexp.MustCompile(`(?:^|\D)\d{44}(?:\D|$)`)

// Detector decides whether extracted text belongs to a DANFE of the
// expected issuer.
type Detector struct {
	issuer *regexp.Regexp
}

// NewDetector builds a detector for the given issuer name. Words may be
// separated by any whitespace and a trailing dot is tolerated.
func NewDetector(issuer string) *Detector {
	if strings.TrimSpace(issuer) == "" {
		issuer = DefaultIssuer
	}
	words := strings.Fields(strings.ToUpper(issuer))
	for i, w := range words {
		words[i] = regexp.QuoteMeta(strings.TrimSuffix(w, "."))
	}
	return &Detector{issuer: regexp.MustCompile(`\b` + strings.Join(words, `\s+`) + `\.?`)}
}

// IsDANFE requires a title, an access key marker and the issuer name.
func (d *Detector) IsDANFE(text string) bool {
	up := strings.ToUpper(text)
	if up == "" {
		return false
	}
	hasTitle := strings.Contains(up, "DANFE") || strings.Contains(up, "DOCUMENTO AUXILIAR DA NOTA FISCAL ELETRÔNICA")
	hasKey := strings.Contains(up, "CHAVE DE ACESSO") || rxKeyRun.MatchString(up)
	return hasTitle && hasKey && d.issuer.MatchString(up)
}

var defaultDetector = NewDetector(DefaultIssuer)

// IsDANFE checks text against the default issuer.
func IsDANFE(text string) bool {
	return defaultDetector.IsDANFE(text)
}
