// Package render turns a resolved batch into the minuta PDF.
package render

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/minutron/minutron/internal/entity"
)

// Request is everything the minuta needs from a finished batch.
type Request struct {
	City    string
	Header  entity.Header
	Items   []entity.LineItem
	Date    string // ISO yyyy-mm-dd
	Volumes int
	OutPath string
	// Attachments are source documents appended after the minuta pages
	// when merging is enabled.
	Attachments []string
}

// Renderer produces the PDF at req.OutPath or returns an error.
type Renderer interface {
	Render(ctx context.Context, req Request) error
}

var months = [...]string{"", "Janeiro", "Fevereiro", "Março", "Abril", "Maio", "Junho",
	"Julho", "Agosto", "Setembro", "Outubro", "Novembro", "Dezembro"}

// FormatBRL formats a value as Brazilian currency, e.g. "R$ 1.234,56".
func FormatBRL(v float64) string {
	neg := v < 0
	cents := int64(math.Round(math.Abs(v) * 100))
	whole := fmt.Sprintf("%d", cents/100)

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	s := fmt.Sprintf("R$ %s,%02d", b.String(), cents%100)
	if neg {
		s = "-" + s
	}
	return s
}

// Tokens builds the {{PLACEHOLDER}} substitutions for the template.
func Tokens(req Request) (map[string]string, error) {
	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", req.Date, err)
	}
	volumes := req.Volumes
	if volumes < 1 {
		volumes = 1
	}
	h := req.Header
	return map[string]string{
		"{{LOCAL}}":           strings.ToUpper(req.City),
		"{{DIA}}":             fmt.Sprintf("%02d", day.Day()),
		"{{MES}}":             strings.ToUpper(months[day.Month()]),
		"{{ANO}}":             fmt.Sprintf("%d", day.Year()),
		"{{DATA}}":            day.Format("02/01/2006"),
		"{{VOLUMES}}":         fmt.Sprintf("%d", volumes),
		"{{NOME_REMETENTE}}":  h.RecipientName,
		"{{CPF_REMETENTE}}":   h.RecipientTaxID,
		"{{RUA_EMITENTE}}":    h.IssuerStreet,
		"{{NUMERO_EMITENTE}}": h.IssuerNumber,
		"{{BAIRRO_EMITENTE}}": h.IssuerDistrict,
		"{{CIDADE_EMITENTE}}": h.IssuerCity,
		"{{UF_EMITENTE}}":     h.IssuerUF,
		"{{CEP_EMITENTE}}":    h.IssuerCEP,
		"{{CNPJ_EMITENTE}}":   h.IssuerCNPJ,
		"{{IE_EMITENTE}}":     h.IssuerIE,
		"{{TRANSPORTADOR}}":   h.Carrier,
		"{{TOTAL_VALOR_NF}}":  FormatBRL(entity.SumLineValues(req.Items)),
	}, nil
}

func replaceTokens(s string, tokens map[string]string) string {
	for k, v := range tokens {
		s = strings.ReplaceAll(s, k, v)
	}
	return s
}
