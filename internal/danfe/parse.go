// Package danfe parses DANFE documents into a header candidate and line
// items, and merges a batch of them.
package danfe

import (
	"regexp"
	"strings"

	"github.com/minutron/minutron/constants"
	"github.com/minutron/minutron/internal/entity"
	"github.com/minutron/minutron/internal/extract"
)

const productHeaderLabel = "CÓD.PROD."

// Product grid columns.
const (
	colCode        = 0
	colDescription = 1
	colQuantity    = 6
	colUnitValue   = 7
	colLineValue   = 8
)

// ParseDocument runs the single extraction pass over one document's raw
// text and tables. Header fields come from both; items come from the
// product grid, falling back to the text layout when no grid was found.
func ParseDocument(text string, tables []extract.Table) entity.Document {
	doc := entity.Document{
		Header: parseHeader(text, tables),
	}

	occurrence := firstSubmatch(rxOccurrence, text)
	invoiceNo := firstSubmatch(rxInvoiceNo, text)
	status := constants.ParseRawStatus(firstSubmatch(rxStatus, text))

	doc.Items = productsFromTables(tables, occurrence, invoiceNo, status)
	if len(doc.Items) == 0 {
		doc.Items = productsFromText(text, invoiceNo, status)
	}
	for i := range doc.Items {
		if doc.Items[i].Occurrence == "" {
			doc.Items[i].Occurrence = constants.NoOccurrence
		}
	}
	doc.Header.TotalValue = entity.SumLineValues(doc.Items)
	return doc
}

func parseHeader(text string, tables []extract.Table) entity.Header {
	var h entity.Header

	// text basics first; table-derived fields override when present
	if m := rxCNPJ.FindStringSubmatch(text); m != nil {
		h.IssuerCNPJ = FormatCNPJ(m[1])
		rxIE := regexp.MustCompile(regexp.QuoteMeta(m[1]) + `\s+([A-Z0-9\.\-/]+)`)
		h.IssuerIE = FormatIE(firstSubmatch(rxIE, text))
	}
	if cep := firstSubmatch(rxCEP, text); cep != "" {
		h.IssuerCEP = Digits(cep)
		rxCity := regexp.MustCompile(regexp.QuoteMeta(cep) + `\s*-\s*(.+?)\s*/`)
		h.IssuerCity = strings.TrimSpace(firstSubmatch(rxCity, text))
	}
	h.IssuerUF = firstSubmatch(rxUF, text)

	issuerAddress(tables, &h)
	h.IssuerName = issuerName(tables)
	h.RecipientName, h.RecipientTaxID = recipient(tables)
	h.Carrier = carrierName(tables)
	return h
}

// issuerAddress reads the cell holding "CEP" and "FONE": line 1 is
// "street, number", line 2 the district, line 3 "CEP - CITY / UF".
func issuerAddress(tables []extract.Table, h *entity.Header) {
	for _, table := range tables {
		for _, row := range table {
			if len(row) == 0 || !strings.Contains(row[0], "CEP") || !strings.Contains(row[0], "FONE") {
				continue
			}
			lines := strings.Split(row[0], "\n")
			if len(lines) < 4 {
				continue
			}
			street, number, _ := strings.Cut(strings.TrimSpace(lines[1]), ",")
			h.IssuerStreet = strings.TrimSpace(street)
			h.IssuerNumber = strings.TrimSpace(number)
			h.IssuerDistrict = strings.TrimSpace(lines[2])

			tail := strings.TrimSpace(lines[3])
			h.IssuerCEP = firstSubmatch(rxCEP, tail)
			if m := rxCityUF.FindStringSubmatch(tail); m != nil {
				h.IssuerCity = strings.TrimSpace(m[1])
				h.IssuerUF = m[2]
			} else {
				h.IssuerCity, h.IssuerUF = "", ""
			}
			return
		}
	}
}

func issuerName(tables []extract.Table) string {
	for _, table := range tables {
		for _, row := range table {
			if len(row) > 0 && strings.Contains(row[0], "AV") && strings.Contains(row[0], "CEP") {
				return cellLine(row[0], 0)
			}
		}
	}
	return ""
}

func recipient(tables []extract.Table) (name, taxID string) {
	for _, table := range tables {
		for _, row := range table {
			nameCell := findCell(row, "NOME/RAZÃO SOCIAL")
			if nameCell == "" {
				continue
			}
			return cellLine(nameCell, 1), cellLine(findCell(row, "CNPJ/CPF"), 1)
		}
	}
	return "", ""
}

func carrierName(tables []extract.Table) string {
	for _, table := range tables {
		for _, row := range table {
			if cell := findCell(row, "TRANSP"); cell != "" {
				return cellLine(cell, 1)
			}
		}
	}
	return ""
}

func findCell(row []string, label string) string {
	for _, cell := range row {
		if strings.Contains(cell, label) {
			return cell
		}
	}
	return ""
}

func productsFromTables(tables []extract.Table, occurrence, invoiceNo string, status constants.RawStatus) []entity.LineItem {
	var items []entity.LineItem
	for _, table := range tables {
		if len(table) == 0 || !isProductHeader(table[0]) {
			continue
		}
		for _, row := range table[1:] {
			if len(row) <= colLineValue {
				continue
			}
			code, desc := cleanCell(row[colCode]), cleanCell(row[colDescription])
			if code == "" || desc == "" {
				continue
			}
			items = append(items, entity.LineItem{
				ProductCode: code,
				Description: desc,
				Quantity:    ParseNumber(cleanCell(row[colQuantity])),
				UnitValue:   ParseNumber(cleanCell(row[colUnitValue])),
				LineValue:   ParseNumber(cleanCell(row[colLineValue])),
				Occurrence:  occurrence,
				InvoiceNo:   invoiceNo,
				RawStatus:   status,
			})
		}
	}
	return items
}

func isProductHeader(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) == productHeaderLabel {
			return true
		}
	}
	return false
}

// productsFromText reads "ITEM:nnnnnn OCORR:AA99999999" blocks from the
// layout text, used when no product grid came back from the table helper.
func productsFromText(text, invoiceNo string, status constants.RawStatus) []entity.LineItem {
	var items []entity.LineItem
	for _, loc := range rxItemLine.FindAllStringSubmatchIndex(text, -1) {
		occurrence := text[loc[4]:loc[5]]
		end := loc[0] + 300
		if end > len(text) {
			end = len(text)
		}
		block := text[loc[0]:end]
		items = append(items, entity.LineItem{
			ProductCode: strings.TrimSpace(firstSubmatch(rxProdCode, block)),
			Quantity:    ParseNumber(firstSubmatch(rxQty, block)),
			LineValue:   ParseNumber(firstSubmatch(rxLineTotal, block)),
			Occurrence:  occurrence,
			InvoiceNo:   invoiceNo,
			RawStatus:   status,
		})
	}
	return items
}
