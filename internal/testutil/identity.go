// Package testutil builds certificates, PKCS#12 containers and distribution
// responses for tests.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

// Password protects every container built by this package
const Password = "test-password"

// TestCNPJ is the tax ID placed in generated certificates
const TestCNPJ = "12345678000199"

// CertOptions controls the generated certificate
type CertOptions struct {
	CommonName string
	CNPJ       string
	Serial     int64
	NotBefore  time.Time
	NotAfter   time.Time
}

// TestIdentity is a generated key, certificate and PKCS#12 container
type TestIdentity struct {
	Key         *rsa.PrivateKey
	Certificate *x509.Certificate
	PFX         []byte
}

// NewIdentity generates an RSA key and a self-signed ICP-Brasil style
// certificate valid for one year, packaged in a PKCS#12 container.
func NewIdentity(t *testing.T) *TestIdentity {
	t.Helper()
	return NewIdentityWithOptions(t, CertOptions{})
}

// NewExpiredIdentity generates an identity whose certificate expired yesterday.
func NewExpiredIdentity(t *testing.T) *TestIdentity {
	t.Helper()
	now := time.Now()
	return NewIdentityWithOptions(t, CertOptions{
		NotBefore: now.Add(-365 * 24 * time.Hour),
		NotAfter:  now.Add(-24 * time.Hour),
	})
}

// NewIdentityWithOptions generates an identity using opts.
func NewIdentityWithOptions(t *testing.T, opts CertOptions) *TestIdentity {
	t.Helper()

	if opts.CNPJ == "" {
		opts.CNPJ = TestCNPJ
	}
	if opts.CommonName == "" {
		opts.CommonName = "EMPRESA TESTE LTDA:" + opts.CNPJ
	}
	if opts.Serial == 0 {
		opts.Serial = 0x1234ABCD
	}
	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = time.Now().Add(365 * 24 * time.Hour)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(opts.Serial),
		Subject: pkix.Name{
			CommonName:         opts.CommonName,
			Organization:       []string{"ICP-Brasil"},
			OrganizationalUnit: []string{"Certificado PJ A1"},
			Country:            []string{"BR"},
			Province:           []string{"SP"},
			Locality:           []string{"SAO PAULO"},
		},
		NotBefore:       opts.NotBefore,
		NotAfter:        opts.NotAfter,
		KeyUsage:        x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:     []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		ExtraExtensions: []pkix.Extension{OtherNameSAN(t, asn1.ObjectIdentifier{2, 16, 76, 1, 3, 3}, opts.CNPJ)},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pfx, err := pkcs12.Modern.Encode(key, cert, nil, Password)
	require.NoError(t, err)

	return &TestIdentity{Key: key, Certificate: cert, PFX: pfx}
}

// OtherNameSAN builds a SubjectAltName extension with a single otherName entry.
func OtherNameSAN(t *testing.T, typeID asn1.ObjectIdentifier, value string) pkix.Extension {
	t.Helper()

	inner, err := asn1.Marshal(value)
	require.NoError(t, err)

	explicit, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      inner,
	})
	require.NoError(t, err)

	oid, err := asn1.Marshal(typeID)
	require.NoError(t, err)

	otherName, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      append(oid, explicit...),
	})
	require.NoError(t, err)

	san, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      otherName,
	})
	require.NoError(t, err)

	return pkix.Extension{Id: asn1.ObjectIdentifier{2, 5, 29, 17}, Value: san}
}

// TLSCertificate returns the identity as a TLS client credential.
func (ti *TestIdentity) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{ti.Certificate.Raw},
		PrivateKey:  ti.Key,
		Leaf:        ti.Certificate,
	}
}
