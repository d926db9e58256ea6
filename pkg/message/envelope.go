package message

import "strings"

const (
	envelopePrefix = `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap12:Envelope xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:soap12="` + NamespaceSOAP12 + `">` +
		`<soap12:Body>` +
		`<nfeDistDFeInteresse xmlns="` + NamespaceDistDFe + `">` +
		`<nfeDadosMsg>`
	envelopeSuffix = `</nfeDadosMsg></nfeDistDFeInteresse></soap12:Body></soap12:Envelope>`
)

// WrapEnvelope places a signed request inside the SOAP 1.2 envelope.
// The signed XML is inserted verbatim; any XML declaration it carries is dropped.
func WrapEnvelope(signedXML string) []byte {
	signedXML = stripDeclaration(signedXML)

	var b strings.Builder
	b.Grow(len(envelopePrefix) + len(signedXML) + len(envelopeSuffix))
	b.WriteString(envelopePrefix)
	b.WriteString(signedXML)
	b.WriteString(envelopeSuffix)
	return []byte(b.String())
}

func stripDeclaration(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<?xml") {
		if end := strings.Index(s, "?>"); end >= 0 {
			return strings.TrimSpace(s[end+2:])
		}
	}
	return s
}
