package certificate

import (
	"crypto/x509"
	"encoding/asn1"
	"strings"
)

// ICP-Brasil otherName identifiers carried in the SubjectAltName extension
var (
	OIDSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}

	// OIDCNPJ holds the company's CNPJ (14 digits)
	OIDCNPJ = asn1.ObjectIdentifier{2, 16, 76, 1, 3, 3}

	// OIDPersonData holds birth date (8), CPF (11), NIS (11), RG and issuer
	OIDPersonData = asn1.ObjectIdentifier{2, 16, 76, 1, 3, 1}
)

// extractTaxID returns the CNPJ or CPF of the certificate holder.
//
// The otherName SAN entries take precedence; certificates without them fall
// back to the "NAME:DIGITS" common name convention.
func extractTaxID(cert *x509.Certificate) string {
	names := otherNames(cert)
	if v, ok := names[OIDCNPJ.String()]; ok {
		if digits := onlyDigits(v); len(digits) == 14 {
			return digits
		}
	}
	if v, ok := names[OIDPersonData.String()]; ok {
		if digits := onlyDigits(v); len(digits) >= 19 {
			cpf := digits[8:19]
			if strings.Trim(cpf, "0") != "" {
				return cpf
			}
		}
	}

	cn := cert.Subject.CommonName
	if i := strings.LastIndex(cn, ":"); i >= 0 {
		if digits := cn[i+1:]; isDigits(digits) && (len(digits) == 14 || len(digits) == 11) {
			return digits
		}
	}
	return ""
}

// otherNames decodes the otherName entries of the SubjectAltName extension,
// keyed by type OID. Malformed entries are ignored.
func otherNames(cert *x509.Certificate) map[string]string {
	names := make(map[string]string)

	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(OIDSubjectAltName) {
			continue
		}

		var seq asn1.RawValue
		if _, err := asn1.Unmarshal(ext.Value, &seq); err != nil || seq.Tag != asn1.TagSequence {
			return names
		}

		rest := seq.Bytes
		for len(rest) > 0 {
			var gn asn1.RawValue
			var err error
			rest, err = asn1.Unmarshal(rest, &gn)
			if err != nil {
				return names
			}
			// otherName is [0] IMPLICIT SEQUENCE { type-id, [0] EXPLICIT value }
			if gn.Class != asn1.ClassContextSpecific || gn.Tag != 0 {
				continue
			}

			var typeID asn1.ObjectIdentifier
			valueBytes, err := asn1.Unmarshal(gn.Bytes, &typeID)
			if err != nil {
				continue
			}
			var explicit asn1.RawValue
			if _, err := asn1.Unmarshal(valueBytes, &explicit); err != nil {
				continue
			}
			var inner asn1.RawValue
			if _, err := asn1.Unmarshal(explicit.Bytes, &inner); err != nil {
				continue
			}
			names[typeID.String()] = string(inner.Bytes)
		}
	}

	return names
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
