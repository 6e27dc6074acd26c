package entity

// Document is the single-pass parse result of one DANFE: a header candidate
// plus its line items.
type Document struct {
	Path        string     `json:"path"`
	ContentHash string     `json:"content_hash"`
	AccessKey   string     `json:"access_key,omitempty"`
	IsDANFE     bool       `json:"is_danfe"`
	Header      Header     `json:"header"`
	Items       []LineItem `json:"items"`
}
