package distribution

import "strings"

// Status codes reported in cStat
const (
	StatusNoDocuments    = "137"
	StatusDocumentsFound = "138"
	StatusRateLimited    = "656"
)

// Kind discriminates document records
type Kind string

const (
	KindSummary      Kind = "resumo"
	KindFullDocument Kind = "completo"
	KindEvent        Kind = "evento"
)

// Classify maps a docZip schema identifier to a record kind.
// It returns false for schemas that are not handled.
func Classify(schema string) (Kind, bool) {
	switch {
	case strings.Contains(schema, "resNFe"):
		return KindSummary, true
	case strings.Contains(schema, "procNFe"), strings.Contains(schema, "nfeProc"):
		return KindFullDocument, true
	case strings.Contains(strings.ToLower(schema), "evento"):
		return KindEvent, true
	}
	return "", false
}

// Item holds the fields common to every record
type Item struct {
	Kind   Kind   `json:"tipo"`
	NSU    uint64 `json:"nsu"`
	Schema string `json:"schema"`
}

// Meta returns the common fields
func (i Item) Meta() Item { return i }

func (Item) isDocument() {}

// Document is one decoded batch item: *Summary, *FullDocument or *EventSummary.
type Document interface {
	Meta() Item
	Key() string
	Content() string
	isDocument()
}

// Summary is an NF-e summary (resNFe)
type Summary struct {
	Item
	AccessKey          string  `json:"chNFe"`
	IssuerTaxID        string  `json:"cnpjEmitente"`
	IssuerName         string  `json:"nomeEmitente"`
	IssuerRegistration string  `json:"ieEmitente"`
	IssuedAt           string  `json:"dataEmissao"`
	Direction          string  `json:"tipoOperacao"`
	Value              float64 `json:"valorNFe"`
	DigestValue        string  `json:"digestValue"`
	Situation          string  `json:"situacao"`
	ReceivedAt         string  `json:"dataRecebimento,omitempty"`
	Protocol           string  `json:"protocolo,omitempty"`
	XML                string  `json:"xmlResumo"`
}

func (s *Summary) Key() string     { return s.AccessKey }
func (s *Summary) Content() string { return s.XML }

// FullDocument is a complete authorized NF-e (procNFe / nfeProc)
type FullDocument struct {
	Item
	AccessKey string `json:"chNFe"`
	XML       string `json:"xmlCompleto"`
}

func (f *FullDocument) Key() string     { return f.AccessKey }
func (f *FullDocument) Content() string { return f.XML }

// EventSummary is an NF-e event (resEvento / procEventoNFe)
type EventSummary struct {
	Item
	AccessKey   string `json:"chNFe"`
	EventType   string `json:"tpEvento"`
	Description string `json:"descricao"`
	Sequence    int    `json:"nSeqEvento"`
	XML         string `json:"xmlEvento"`
}

func (e *EventSummary) Key() string     { return e.AccessKey }
func (e *EventSummary) Content() string { return e.XML }

// Result is one decoded distribution response
type Result struct {
	StatusCode   string
	StatusReason string
	LastNSU      uint64
	MaxNSU       uint64
	RespondedAt  string
	Documents    []Document
	// Skipped counts items left out because they could not be decoded or classified
	Skipped int
}

// HasMore reports whether the service holds documents past LastNSU
func (r *Result) HasMore() bool {
	return r.LastNSU < r.MaxNSU
}

// Found reports whether the batch carries documents
func (r *Result) Found() bool {
	return r.StatusCode == StatusDocumentsFound
}

// Summaries returns the summary and full-document records, in order.
func (r *Result) Summaries() []Document {
	var out []Document
	for _, d := range r.Documents {
		if k := d.Meta().Kind; k == KindSummary || k == KindFullDocument {
			out = append(out, d)
		}
	}
	return out
}

// Events returns the event records, in order.
func (r *Result) Events() []Document {
	var out []Document
	for _, d := range r.Documents {
		if d.Meta().Kind == KindEvent {
			out = append(out, d)
		}
	}
	return out
}
