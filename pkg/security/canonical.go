package security

import (
	"crypto/sha1" //nolint:gosec // SHA-1 is mandated by the NF-e signature profile
	"encoding/base64"
	"fmt"

	"github.com/leifj/signedxml"
)

// Canonicalize serializes an XML document with Canonical XML 1.0, omitting comments.
func Canonicalize(xml string) (string, error) {
	c14n, ok := signedxml.CanonicalizationAlgorithms[AlgorithmC14N10]
	if !ok {
		return "", fmt.Errorf("canonicalization algorithm %s not registered", AlgorithmC14N10)
	}
	out, err := c14n.Process(xml, "")
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize: %w", err)
	}
	return out, nil
}

// DigestSHA1 returns the base64 SHA-1 digest of canonical bytes, as placed in DigestValue.
func DigestSHA1(canonical string) string {
	sum := sha1.Sum([]byte(canonical)) //nolint:gosec
	return base64.StdEncoding.EncodeToString(sum[:])
}
