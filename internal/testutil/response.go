package testutil

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-dfe/pkg/compression"
)

// AccessKey is a well-formed 44-digit NF-e key
const AccessKey = "35240112345678000199550010000000011000000010"

// Document schemas as reported in docZip/@schema
const (
	SchemaResNFe    = "resNFe_v1.01.xsd"
	SchemaProcNFe   = "procNFe_v4.00.xsd"
	SchemaResEvento = "resEvento_v1.01.xsd"
	SchemaProcEvent = "procEventoNFe_v1.00.xsd"
)

// ResNFeXML is a summary document for AccessKey
const ResNFeXML = `<resNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.01">` +
	`<chNFe>` + AccessKey + `</chNFe>` +
	`<CNPJ>98765432000110</CNPJ>` +
	`<xNome>FORNECEDOR EXEMPLO SA</xNome>` +
	`<IE>123456789110</IE>` +
	`<dhEmi>2024-01-15T10:30:00-03:00</dhEmi>` +
	`<tpNF>1</tpNF>` +
	`<vNF>1500.75</vNF>` +
	`<digVal>kYz3Vx4n8Qm1Yw7q2PZk3x8Rt0A=</digVal>` +
	`<dhRecbto>2024-01-15T10:31:12-03:00</dhRecbto>` +
	`<nProt>135240000000001</nProt>` +
	`<cSitNFe>1</cSitNFe>` +
	`</resNFe>`

// ProcNFeXML is a complete authorized document for AccessKey
const ProcNFeXML = `<nfeProc xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">` +
	`<NFe><infNFe Id="NFe` + AccessKey + `" versao="4.00"><ide><cUF>35</cUF></ide></infNFe></NFe>` +
	`<protNFe versao="4.00"><infProt><chNFe>` + AccessKey + `</chNFe><nProt>135240000000001</nProt></infProt></protNFe>` +
	`</nfeProc>`

// ResEventoXML is an event summary for AccessKey
const ResEventoXML = `<resEvento xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.01">` +
	`<cOrgao>91</cOrgao>` +
	`<CNPJ>98765432000110</CNPJ>` +
	`<chNFe>` + AccessKey + `</chNFe>` +
	`<dhEvento>2024-01-16T08:00:00-03:00</dhEvento>` +
	`<tpEvento>210210</tpEvento>` +
	`<nSeqEvento>1</nSeqEvento>` +
	`<xEvento>Ciencia da Operacao</xEvento>` +
	`</resEvento>`

// ProcEventoXML is a complete event carrying its description in detEvento
const ProcEventoXML = `<procEventoNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.00">` +
	`<evento versao="1.00"><infEvento Id="ID210200` + AccessKey + `01">` +
	`<chNFe>` + AccessKey + `</chNFe><tpEvento>210200</tpEvento><nSeqEvento>2</nSeqEvento>` +
	`<detEvento versao="1.00"><descEvento>Confirmacao da Operacao</descEvento></detEvento>` +
	`</infEvento></evento></procEventoNFe>`

// DocZip is one item of a distribution batch
type DocZip struct {
	NSU    string
	Schema string
	XML    string
	Gzip   bool
	// Payload, when set, is used verbatim instead of compressing XML
	Payload string
}

// ResponseOptions describes a retDistDFeInt document
type ResponseOptions struct {
	CStat   string
	XMotivo string
	UltNSU  string
	MaxNSU  string
	Docs    []DocZip
	// SOAP wraps the response in a SOAP 1.2 envelope
	SOAP bool
}

// EncodeDocZip compresses and base64-encodes xml the way the service does.
func EncodeDocZip(t *testing.T, xml string, gzip bool) string {
	t.Helper()
	c := compression.NewCompressor()
	var (
		data []byte
		err  error
	)
	if gzip {
		data, err = c.Compress([]byte(xml))
	} else {
		data, err = c.Deflate([]byte(xml))
	}
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(data)
}

// BuildResponse renders a distribution response.
func BuildResponse(t *testing.T, opts ResponseOptions) string {
	t.Helper()

	var b strings.Builder
	b.WriteString(`<retDistDFeInt xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.01">`)
	b.WriteString(`<tpAmb>1</tpAmb><verAplic>1.7.6</verAplic>`)
	fmt.Fprintf(&b, `<cStat>%s</cStat><xMotivo>%s</xMotivo>`, opts.CStat, opts.XMotivo)
	b.WriteString(`<dhResp>2024-01-16T09:00:00-03:00</dhResp>`)
	if opts.UltNSU != "" {
		fmt.Fprintf(&b, `<ultNSU>%s</ultNSU>`, opts.UltNSU)
	}
	if opts.MaxNSU != "" {
		fmt.Fprintf(&b, `<maxNSU>%s</maxNSU>`, opts.MaxNSU)
	}
	if len(opts.Docs) > 0 {
		b.WriteString(`<loteDistDFeInt>`)
		for _, d := range opts.Docs {
			payload := d.Payload
			if payload == "" {
				payload = EncodeDocZip(t, d.XML, d.Gzip)
			}
			fmt.Fprintf(&b, `<docZip NSU="%s" schema="%s">%s</docZip>`, d.NSU, d.Schema, payload)
		}
		b.WriteString(`</loteDistDFeInt>`)
	}
	b.WriteString(`</retDistDFeInt>`)

	if !opts.SOAP {
		return b.String()
	}
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">` +
		`<soap:Body><nfeDistDFeInteresseResponse xmlns="http://www.portalfiscal.inf.br/nfe/wsdl/NFeDistribuicaoDFe">` +
		`<nfeDistDFeInteresseResult>` + b.String() + `</nfeDistDFeInteresseResult>` +
		`</nfeDistDFeInteresseResponse></soap:Body></soap:Envelope>`
}

// SOAPFault renders a SOAP 1.2 fault with reason text.
func SOAPFault(reason string) string {
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>` +
		`<soap:Fault><soap:Code><soap:Value>soap:Receiver</soap:Value></soap:Code>` +
		`<soap:Reason><soap:Text xml:lang="en">` + reason + `</soap:Text></soap:Reason></soap:Fault>` +
		`</soap:Body></soap:Envelope>`
}
