package certificate

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

// Common errors
var (
	ErrInvalidContainer   = errors.New("certificate container cannot be decoded")
	ErrIncorrectPassword  = errors.New("certificate password is incorrect")
	ErrMissingPrivateKey  = errors.New("certificate container has no private key")
	ErrMissingCertificate = errors.New("certificate container has no certificate for the private key")
	ErrUnsupportedKey     = errors.New("only RSA private keys are supported")
	ErrExpired            = errors.New("certificate has expired")
)

// Identity is a decoded A1 certificate together with its private key.
//
// An Identity is immutable once returned by Read. It must not be shared
// between concurrent requests that could mutate the key.
type Identity struct {
	PrivateKey  *rsa.PrivateKey
	Certificate *x509.Certificate

	// Chain holds any CA certificates shipped in the container
	Chain []*x509.Certificate

	// DER is the raw certificate, embedded in XML signatures
	DER []byte

	// PEM is the PEM encoding of the certificate
	PEM []byte

	// Subject maps short attribute names (CN, O, OU, C, ST, L, serialNumber)
	// to their first value
	Subject map[string]string

	// TaxID is the holder's CNPJ or CPF, digits only. Empty when the
	// certificate carries neither.
	TaxID string

	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
}

// Read decodes a password-protected PKCS#12 container.
func Read(container []byte, password string) (*Identity, error) {
	if len(container) == 0 {
		return nil, fmt.Errorf("%w: empty container", ErrInvalidContainer)
	}

	key, leaf, caCerts, err := pkcs12.DecodeChain(container, password)
	if err != nil {
		return nil, classifyDecodeError(err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedKey, key)
	}

	cert, chain, err := selectLeaf(rsaKey, leaf, caCerts)
	if err != nil {
		return nil, err
	}

	return newIdentity(rsaKey, cert, chain), nil
}

// Load reads a PKCS#12 container from disk.
func Load(path, password string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}
	return Read(data, password)
}

// IsExpired reports whether the certificate is no longer valid at now.
func (id *Identity) IsExpired(now time.Time) bool {
	return !now.Before(id.NotAfter)
}

// CheckValidity returns ErrExpired when the certificate has expired at now.
func (id *Identity) CheckValidity(now time.Time) error {
	if id.IsExpired(now) {
		return fmt.Errorf("%w: not valid after %s", ErrExpired, id.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// TLSCertificate returns the identity as a client credential for mutual TLS.
func (id *Identity) TLSCertificate() tls.Certificate {
	chain := make([][]byte, 0, len(id.Chain)+1)
	chain = append(chain, id.DER)
	for _, ca := range id.Chain {
		chain = append(chain, ca.Raw)
	}
	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  id.PrivateKey,
		Leaf:        id.Certificate,
	}
}

// HolderName returns the holder name without the ICP-Brasil ":<tax id>" suffix.
func (id *Identity) HolderName() string {
	cn := id.Subject["CN"]
	if i := strings.LastIndex(cn, ":"); i > 0 && isDigits(cn[i+1:]) {
		return cn[:i]
	}
	return cn
}

// Info summarizes the certificate for display.
type Info struct {
	HolderName   string    `json:"nome"`
	TaxID        string    `json:"cnpj"`
	Organization string    `json:"organizacao,omitempty"`
	Issuer       string    `json:"emissor"`
	NotBefore    time.Time `json:"emissao"`
	NotAfter     time.Time `json:"validade"`
	Expired      bool      `json:"expirado"`
	SerialNumber string    `json:"serialNumber"`
}

// Info returns a summary of the identity evaluated at now.
func (id *Identity) Info(now time.Time) *Info {
	return &Info{
		HolderName:   id.HolderName(),
		TaxID:        id.TaxID,
		Organization: id.Subject["O"],
		Issuer:       id.Certificate.Issuer.CommonName,
		NotBefore:    id.NotBefore,
		NotAfter:     id.NotAfter,
		Expired:      id.IsExpired(now),
		SerialNumber: id.SerialNumber,
	}
}

func newIdentity(key *rsa.PrivateKey, cert *x509.Certificate, chain []*x509.Certificate) *Identity {
	return &Identity{
		PrivateKey:  key,
		Certificate: cert,
		Chain:       chain,
		DER:         cert.Raw,
		PEM: pem.EncodeToMemory(&pem.Block{
			Type:  "CERTIFICATE",
			Bytes: cert.Raw,
		}),
		Subject:      subjectAttributes(cert),
		TaxID:        extractTaxID(cert),
		SerialNumber: fmt.Sprintf("%X", cert.SerialNumber),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
	}
}

// selectLeaf picks the certificate whose public key matches the private key.
// The container is expected to hold exactly one such certificate.
func selectLeaf(key *rsa.PrivateKey, leaf *x509.Certificate, caCerts []*x509.Certificate) (*x509.Certificate, []*x509.Certificate, error) {
	all := append([]*x509.Certificate{leaf}, caCerts...)

	var match *x509.Certificate
	var chain []*x509.Certificate
	for _, cert := range all {
		if cert == nil {
			continue
		}
		if pub, ok := cert.PublicKey.(*rsa.PublicKey); ok && key.PublicKey.Equal(pub) {
			if match != nil {
				return nil, nil, fmt.Errorf("%w: more than one certificate matches the key", ErrInvalidContainer)
			}
			match = cert
			continue
		}
		chain = append(chain, cert)
	}

	if match == nil {
		return nil, nil, ErrMissingCertificate
	}
	return match, chain, nil
}

func classifyDecodeError(err error) error {
	if errors.Is(err, pkcs12.ErrIncorrectPassword) {
		return fmt.Errorf("%w: %w", ErrIncorrectPassword, err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "private key missing"):
		return fmt.Errorf("%w: %w", ErrMissingPrivateKey, err)
	case strings.Contains(msg, "certificate missing"):
		return fmt.Errorf("%w: %w", ErrMissingCertificate, err)
	default:
		return fmt.Errorf("%w: %w", ErrInvalidContainer, err)
	}
}

func subjectAttributes(cert *x509.Certificate) map[string]string {
	attrs := make(map[string]string)
	set := func(key string, values []string) {
		if len(values) > 0 && values[0] != "" {
			attrs[key] = values[0]
		}
	}

	subject := cert.Subject
	if subject.CommonName != "" {
		attrs["CN"] = subject.CommonName
	}
	set("O", subject.Organization)
	set("OU", subject.OrganizationalUnit)
	set("C", subject.Country)
	set("ST", subject.Province)
	set("L", subject.Locality)
	if subject.SerialNumber != "" {
		attrs["serialNumber"] = subject.SerialNumber
	}
	return attrs
}
