package message

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NSUDigits is the wire width of an NSU
const NSUDigits = 15

// MaxNSU is the largest NSU representable in 15 digits
const MaxNSU uint64 = 999_999_999_999_999

// AccessKeyDigits is the length of an NF-e access key (chNFe)
const AccessKeyDigits = 44

// ErrInvalidQuery is returned for queries that cannot be sent
var ErrInvalidQuery = errors.New("invalid distribution query")

// DistributionQuery holds the parameters of one distribution request.
//
// LastNSU and DocumentKey are mutually exclusive: a non-empty DocumentKey
// selects the key mode and requires LastNSU to be zero.
type DistributionQuery struct {
	Environment  Environment
	Jurisdiction string
	TaxID        string
	LastNSU      uint64
	DocumentKey  string
}

// ByKey reports whether the query requests a single document by access key
func (q *DistributionQuery) ByKey() bool {
	return q.DocumentKey != ""
}

// Validate checks the query fields after normalization
func (q *DistributionQuery) Validate() error {
	if !q.Environment.Valid() {
		return fmt.Errorf("%w: unknown environment %d", ErrInvalidQuery, int(q.Environment))
	}

	taxID := NormalizeTaxID(q.TaxID)
	if len(taxID) != 14 && len(taxID) != 11 {
		return fmt.Errorf("%w: tax ID must have 11 (CPF) or 14 (CNPJ) digits, got %d", ErrInvalidQuery, len(taxID))
	}

	if q.Jurisdiction != "" {
		if len(q.Jurisdiction) != 2 || !isDigits(q.Jurisdiction) {
			return fmt.Errorf("%w: jurisdiction must be a 2-digit IBGE code, got %q", ErrInvalidQuery, q.Jurisdiction)
		}
	}

	if q.ByKey() {
		if q.LastNSU != 0 {
			return fmt.Errorf("%w: last NSU and document key are mutually exclusive", ErrInvalidQuery)
		}
		if len(q.DocumentKey) != AccessKeyDigits || !isDigits(q.DocumentKey) {
			return fmt.Errorf("%w: document key must have %d digits", ErrInvalidQuery, AccessKeyDigits)
		}
		return nil
	}

	if q.LastNSU > MaxNSU {
		return fmt.Errorf("%w: NSU %d exceeds %d digits", ErrInvalidQuery, q.LastNSU, NSUDigits)
	}
	return nil
}

// BuildQuery renders the unsigned distDFeInt request
func BuildQuery(q *DistributionQuery) (string, error) {
	if q == nil {
		return "", fmt.Errorf("%w: query is required", ErrInvalidQuery)
	}
	if err := q.Validate(); err != nil {
		return "", err
	}

	req := DistDFeInt{
		Xmlns:    NamespaceNFe,
		Versao:   Version,
		TpAmb:    int(q.Environment),
		CUFAutor: q.Jurisdiction,
	}

	taxID := NormalizeTaxID(q.TaxID)
	if len(taxID) == 14 {
		req.CNPJ = taxID
	} else {
		req.CPF = taxID
	}

	if q.ByKey() {
		req.ConsChNFe = &ConsChNFe{ChNFe: q.DocumentKey}
	} else {
		req.DistNSU = &DistNSU{UltNSU: FormatNSU(q.LastNSU)}
	}

	out, err := xml.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to serialize request: %w", err)
	}
	return string(out), nil
}

// FormatNSU renders an NSU as 15 left-zero-padded digits
func FormatNSU(nsu uint64) string {
	return fmt.Sprintf("%0*d", NSUDigits, nsu)
}

// ParseNSU parses a wire or user supplied NSU. Empty input is zero.
func ParseNSU(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: NSU %q is not a number", ErrInvalidQuery, s)
	}
	if n > MaxNSU {
		return 0, fmt.Errorf("%w: NSU %q exceeds %d digits", ErrInvalidQuery, s, NSUDigits)
	}
	return n, nil
}

// NormalizeTaxID strips everything but digits ("12.345.678/0001-99" -> "12345678000199")
func NormalizeTaxID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
