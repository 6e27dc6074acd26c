package danfe

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	rxOccurrence = regexp.MustCompile(`OCORR:\s*([A-Z]{2}\d{8})`)
	rxStatus     = regexp.MustCompile(`(?i)\*{3}\s*(BOM|RUIM|DOA)\s*\*{3}`)
	rxInvoiceNo  = regexp.MustCompile(`(?is)(?:N[ºO]|NO\.)\s*(\d{6,})`)
	rxCNPJ       = regexp.MustCompile(`\b(\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2})\b`)
	rxCEP        = regexp.MustCompile(`\b(\d{5}-?\d{3})\b`)
	rxUF         = regexp.MustCompile(`\b(AC|AL|AP|AM|BA|CE|DF|ES|GO|MA|MT|MS|MG|PA|PB|PR|PE|PI|RJ|RN|RS|RO|RR|SC|SP|SE|TO)\b`)
	rxCityUF     = regexp.MustCompile(`-\s*([A-ZÀ-Ú\s]+)\s*/\s*([A-Z]{2})`)
	rxItemLine   = regexp.MustCompile(`ITEM:(\d{6})\s+OCORR:([A-Z]{2}\d{8})`)
	rxQty        = regexp.MustCompile(`(?i)QTDE[: ]*([\d\.]+(?:,\d{1,3})?)`)
	rxLineTotal  = regexp.MustCompile(`(?i)(?:VALOR\s+NF|V\.?TOTAL)[: ]*([\d\.]+,\d{2})`)
	rxProdCode   = regexp.MustCompile(`(?i)C[ÓO]D\.?PROD\.?:?\s*([A-Z0-9\.\-\/]+)`)
	rxCellNoise  = regexp.MustCompile(`[\n\-]+`)
	rxNonDigit   = regexp.MustCompile(`\D`)
)

// ParseNumber reads a pt-BR formatted number ("1.234,56"). Anything
// unparseable yields 0.
func ParseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// Digits keeps only ASCII digits.
func Digits(s string) string {
	return rxNonDigit.ReplaceAllString(s, "")
}

// FormatCNPJ renders 14 digits as 00.000.000/0000-00; other lengths are
// returned as bare digits.
func FormatCNPJ(s string) string {
	d := Digits(s)
	if len(d) != 14 {
		return d
	}
	return d[:2] + "." + d[2:5] + "." + d[5:8] + "/" + d[8:12] + "-" + d[12:]
}

// FormatIE renders a 12-digit state registration as 000.000.000.000.
func FormatIE(s string) string {
	d := Digits(s)
	if len(d) != 12 {
		return d
	}
	return d[:3] + "." + d[3:6] + "." + d[6:9] + "." + d[9:]
}

func firstSubmatch(rx *regexp.Regexp, s string) string {
	if m := rx.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

func cleanCell(s string) string {
	return strings.TrimSpace(rxCellNoise.ReplaceAllString(s, ""))
}

// cellLine returns the i-th newline-delimited sub-line of a table cell.
func cellLine(cell string, i int) string {
	lines := strings.Split(cell, "\n")
	if i >= len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[i])
}
