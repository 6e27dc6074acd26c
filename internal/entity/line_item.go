package entity

import "github.com/minutron/minutron/constants"

// LineItem is one product row extracted from one DANFE.
type LineItem struct {
	ProductCode string              `json:"codigo_prod"`
	Description string              `json:"descricao"`
	Quantity    float64             `json:"qtde"`
	UnitValue   float64             `json:"valor_unit"`
	LineValue   float64             `json:"valor_nf"`
	Occurrence  string              `json:"ocorrencia"`
	InvoiceNo   string              `json:"numero_nf"`
	RawStatus   constants.RawStatus `json:"status"`

	// ResolvedStatus is filled by the RAT resolver; Resolved tells an empty
	// token ("" for RUIM) apart from "not resolved yet".
	ResolvedStatus string `json:"rat"`
	Resolved       bool   `json:"-"`
}

// SetResolved records the resolver's outcome.
func (li *LineItem) SetResolved(token string) {
	li.ResolvedStatus = token
	li.Resolved = true
}

// HasOccurrence reports whether the item carries a real occurrence code.
func (li *LineItem) HasOccurrence() bool {
	return li.Occurrence != "" && li.Occurrence != constants.NoOccurrence
}
