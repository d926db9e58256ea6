package certificate

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/sirosfoundation/go-dfe/internal/testutil"
)

func TestRead(t *testing.T) {
	ti := testutil.NewIdentity(t)

	identity, err := Read(ti.PFX, testutil.Password)
	require.NoError(t, err)

	assert.True(t, ti.Key.Equal(identity.PrivateKey))
	assert.Equal(t, ti.Certificate.Raw, identity.DER)
	assert.Contains(t, string(identity.PEM), "-----BEGIN CERTIFICATE-----")
	assert.Equal(t, testutil.TestCNPJ, identity.TaxID)
	assert.Equal(t, "EMPRESA TESTE LTDA:"+testutil.TestCNPJ, identity.Subject["CN"])
	assert.Equal(t, "ICP-Brasil", identity.Subject["O"])
	assert.Equal(t, "BR", identity.Subject["C"])
	assert.Equal(t, "1234ABCD", identity.SerialNumber)
	assert.Empty(t, identity.Chain)
}

func TestRead_DERRoundTrip(t *testing.T) {
	ti := testutil.NewIdentity(t)

	identity, err := Read(ti.PFX, testutil.Password)
	require.NoError(t, err)

	reparsed, err := x509.ParseCertificate(identity.DER)
	require.NoError(t, err)

	assert.Equal(t, 0, reparsed.SerialNumber.Cmp(identity.Certificate.SerialNumber))
	assert.True(t, reparsed.NotBefore.Equal(identity.NotBefore))
	assert.True(t, reparsed.NotAfter.Equal(identity.NotAfter))
}

func TestRead_WrongPassword(t *testing.T) {
	ti := testutil.NewIdentity(t)

	_, err := Read(ti.PFX, "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncorrectPassword)
}

func TestRead_Garbage(t *testing.T) {
	_, err := Read([]byte("definitely not a pkcs12 container"), testutil.Password)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidContainer)

	_, err = Read(nil, testutil.Password)
	assert.ErrorIs(t, err, ErrInvalidContainer)
}

func TestRead_NoPrivateKey(t *testing.T) {
	ti := testutil.NewIdentity(t)

	trustStore, err := pkcs12.Modern.EncodeTrustStore([]*x509.Certificate{ti.Certificate}, testutil.Password)
	require.NoError(t, err)

	_, err = Read(trustStore, testutil.Password)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingPrivateKey)
}

func TestRead_KeepsChain(t *testing.T) {
	ti := testutil.NewIdentity(t)
	ca := testutil.NewIdentityWithOptions(t, testutil.CertOptions{CommonName: "AC TESTE", Serial: 7})

	pfx, err := pkcs12.Modern.Encode(ti.Key, ti.Certificate, []*x509.Certificate{ca.Certificate}, testutil.Password)
	require.NoError(t, err)

	identity, err := Read(pfx, testutil.Password)
	require.NoError(t, err)
	assert.Equal(t, ti.Certificate.Raw, identity.DER)
	require.Len(t, identity.Chain, 1)
	assert.Equal(t, ca.Certificate.Raw, identity.Chain[0].Raw)

	tlsCert := identity.TLSCertificate()
	assert.Len(t, tlsCert.Certificate, 2)
	assert.Equal(t, identity.DER, tlsCert.Certificate[0])
}

func TestLoad(t *testing.T) {
	ti := testutil.NewIdentity(t)
	path := filepath.Join(t.TempDir(), "cert.pfx")
	require.NoError(t, os.WriteFile(path, ti.PFX, 0o600))

	identity, err := Load(path, testutil.Password)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestCNPJ, identity.TaxID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.pfx"), testutil.Password)
	assert.Error(t, err)
}

func TestIdentity_Expiry(t *testing.T) {
	ti := testutil.NewExpiredIdentity(t)

	identity, err := Read(ti.PFX, testutil.Password)
	require.NoError(t, err, "reading must not check expiry")

	now := time.Now()
	assert.True(t, identity.IsExpired(now))
	assert.ErrorIs(t, identity.CheckValidity(now), ErrExpired)

	assert.False(t, identity.IsExpired(identity.NotAfter.Add(-time.Second)))
	assert.True(t, identity.IsExpired(identity.NotAfter), "boundary is expired")
}

func TestIdentity_Info(t *testing.T) {
	ti := testutil.NewIdentity(t)
	identity, err := Read(ti.PFX, testutil.Password)
	require.NoError(t, err)

	info := identity.Info(time.Now())
	assert.Equal(t, "EMPRESA TESTE LTDA", info.HolderName)
	assert.Equal(t, testutil.TestCNPJ, info.TaxID)
	assert.Equal(t, "1234ABCD", info.SerialNumber)
	assert.False(t, info.Expired)
	assert.True(t, info.NotAfter.Equal(ti.Certificate.NotAfter))
}

func TestExtractTaxID(t *testing.T) {
	t.Run("cnpj from otherName", func(t *testing.T) {
		ti := testutil.NewIdentityWithOptions(t, testutil.CertOptions{
			CommonName: "SEM SUFIXO",
			CNPJ:       "11222333000181",
		})
		assert.Equal(t, "11222333000181", extractTaxID(ti.Certificate))
	})

	t.Run("cpf from person data", func(t *testing.T) {
		ti := testutil.NewIdentity(t)
		cert := *ti.Certificate
		ext := testutil.OtherNameSAN(t, asn1.ObjectIdentifier{2, 16, 76, 1, 3, 1}, "01011980"+"12345678909"+"00000000000")
		cert.Extensions = []pkix.Extension{ext}
		assert.Equal(t, "12345678909", extractTaxID(&cert))
	})

	t.Run("common name fallback", func(t *testing.T) {
		cert := &x509.Certificate{}
		cert.Subject.CommonName = "FULANO DE TAL:12345678909"
		assert.Equal(t, "12345678909", extractTaxID(cert))
	})

	t.Run("none", func(t *testing.T) {
		cert := &x509.Certificate{}
		cert.Subject.CommonName = "no tax id here"
		assert.Empty(t, extractTaxID(cert))
	})
}
