package entity

// Header holds the batch-level fields of a minuta. It comes from the first
// document of the batch; SeenCarriers aggregates across all documents.
type Header struct {
	IssuerName     string `json:"nome_emitente"`
	IssuerCNPJ     string `json:"cnpj_emitente"`
	IssuerIE       string `json:"ie_emitente"`
	IssuerStreet   string `json:"rua_emitente"`
	IssuerNumber   string `json:"numero_emitente"`
	IssuerDistrict string `json:"bairro_emitente"`
	IssuerCity     string `json:"cidade_emitente"`
	IssuerUF       string `json:"uf_emitente"`
	IssuerCEP      string `json:"cep_emitente"`

	RecipientName  string `json:"nome_remetente"`
	RecipientTaxID string `json:"cpf_remetente"`

	Carrier      string   `json:"transportador"`
	SeenCarriers []string `json:"seen_carriers,omitempty"`

	TotalValue float64 `json:"total_valor_nf"`
	Date       string  `json:"data,omitempty"`
	Volumes    int     `json:"volumes,omitempty"`
}

// SumLineValues returns the declared total of the given items.
func SumLineValues(items []LineItem) float64 {
	var total float64
	for _, it := range items {
		total += it.LineValue
	}
	return total
}
