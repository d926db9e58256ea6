package distribution

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/sirosfoundation/go-dfe/pkg/compression"
)

var (
	ErrMalformedResponse = errors.New("malformed distribution response")
	ErrUnknownSchema     = errors.New("unknown document schema")
)

// Decoder turns response bodies into Results
type Decoder struct {
	compressor *compression.Compressor
	logger     *slog.Logger
}

// NewDecoder creates a decoder. A nil logger uses slog.Default().
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		compressor: compression.NewCompressor(),
		logger:     logger,
	}
}

// WithCompressor replaces the compressor used for docZip payloads
func (d *Decoder) WithCompressor(c *compression.Compressor) *Decoder {
	if c != nil {
		d.compressor = c
	}
	return d
}

// Decode parses a distribution response, bare or inside a SOAP envelope.
// A SOAP fault yields a Result with an empty StatusCode and the fault text as
// StatusReason.
func (d *Decoder) Decode(raw []byte) (*Result, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	ret := doc.FindElement("//retDistDFeInt")
	if ret == nil {
		if fault := doc.FindElement("//Fault"); fault != nil {
			return &Result{
				StatusReason: faultReason(fault),
				Documents:    []Document{},
			}, nil
		}
		return nil, fmt.Errorf("%w: retDistDFeInt not found", ErrMalformedResponse)
	}

	result := &Result{
		StatusCode:   childText(ret, "cStat"),
		StatusReason: childText(ret, "xMotivo"),
		LastNSU:      parseUint(childText(ret, "ultNSU")),
		MaxNSU:       parseUint(childText(ret, "maxNSU")),
		RespondedAt:  childText(ret, "dhResp"),
		Documents:    []Document{},
	}

	if !result.Found() {
		return result, nil
	}

	lote := ret.SelectElement("loteDistDFeInt")
	if lote == nil {
		return result, nil
	}

	for _, item := range lote.SelectElements("docZip") {
		nsu := item.SelectAttrValue("NSU", "")
		schema := item.SelectAttrValue("schema", "")

		document, err := d.decodeItem(item)
		if err != nil {
			result.Skipped++
			d.logger.Warn("skipping distribution item",
				"nsu", nsu,
				"schema", schema,
				"error", err,
			)
			continue
		}
		result.Documents = append(result.Documents, document)
	}

	return result, nil
}

func (d *Decoder) decodeItem(item *etree.Element) (Document, error) {
	meta := Item{
		NSU:    parseUint(item.SelectAttrValue("NSU", "")),
		Schema: item.SelectAttrValue("schema", ""),
	}

	kind, ok := Classify(meta.Schema)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, meta.Schema)
	}
	meta.Kind = kind

	content, err := d.compressor.DecodeBase64(item.Text())
	if err != nil {
		return nil, fmt.Errorf("failed to inflate payload: %w", err)
	}

	inner := etree.NewDocument()
	if err := inner.ReadFromBytes(content); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}
	root := inner.Root()
	if root == nil {
		return nil, errors.New("payload has no root element")
	}

	xml := string(content)

	switch kind {
	case KindSummary:
		issuer := childText(root, "CNPJ")
		if issuer == "" {
			issuer = childText(root, "CPF")
		}
		return &Summary{
			Item:               meta,
			AccessKey:          childText(root, "chNFe"),
			IssuerTaxID:        issuer,
			IssuerName:         childText(root, "xNome"),
			IssuerRegistration: childText(root, "IE"),
			IssuedAt:           childText(root, "dhEmi"),
			Direction:          childText(root, "tpNF"),
			Value:              parseFloat(childText(root, "vNF")),
			DigestValue:        childText(root, "digVal"),
			Situation:          childText(root, "cSitNFe"),
			ReceivedAt:         childText(root, "dhRecbto"),
			Protocol:           childText(root, "nProt"),
			XML:                xml,
		}, nil

	case KindFullDocument:
		return &FullDocument{
			Item:      meta,
			AccessKey: fullDocumentKey(root),
			XML:       xml,
		}, nil

	default:
		description := findText(root, "xEvento")
		if description == "" {
			description = findText(root, "descEvento")
		}
		seq, _ := strconv.Atoi(findText(root, "nSeqEvento"))
		return &EventSummary{
			Item:        meta,
			AccessKey:   findText(root, "chNFe"),
			EventType:   findText(root, "tpEvento"),
			Description: description,
			Sequence:    seq,
			XML:         xml,
		}, nil
	}
}

// fullDocumentKey reads the key from the authorization protocol, falling
// back to the infNFe Id attribute.
func fullDocumentKey(root *etree.Element) string {
	if key := findText(root, "chNFe"); key != "" {
		return key
	}
	if inf := root.FindElement("//infNFe"); inf != nil {
		return strings.TrimPrefix(inf.SelectAttrValue("Id", ""), "NFe")
	}
	return ""
}

func faultReason(fault *etree.Element) string {
	// SOAP 1.2
	if text := fault.FindElement(".//Reason/Text"); text != nil {
		return strings.TrimSpace(text.Text())
	}
	// SOAP 1.1
	if s := fault.FindElement(".//faultstring"); s != nil {
		return strings.TrimSpace(s.Text())
	}
	return "SOAP fault"
}

// childText returns the trimmed text of the first direct child named tag
func childText(e *etree.Element, tag string) string {
	if c := e.SelectElement(tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

// findText returns the trimmed text of the first descendant named tag
func findText(e *etree.Element, tag string) string {
	if c := e.FindElement(".//" + tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

func parseUint(s string) uint64 {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
