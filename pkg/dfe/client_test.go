package dfe

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-dfe/internal/testutil"
	"github.com/sirosfoundation/go-dfe/pkg/certificate"
	"github.com/sirosfoundation/go-dfe/pkg/distribution"
	"github.com/sirosfoundation/go-dfe/pkg/message"
	"github.com/sirosfoundation/go-dfe/pkg/security"
	"github.com/sirosfoundation/go-dfe/pkg/transport"
)

// fakeSender records calls and replies with a canned response.
type fakeSender struct {
	mu       sync.Mutex
	calls    int
	endpoint string
	cert     tls.Certificate
	body     []byte

	response *transport.Response
	err      error
	block    bool
}

func (f *fakeSender) Send(ctx context.Context, endpoint string, clientCert tls.Certificate, body []byte) (*transport.Response, error) {
	f.mu.Lock()
	f.calls++
	f.endpoint = endpoint
	f.cert = clientCert
	f.body = body
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, &transport.Error{Endpoint: endpoint, Err: ctx.Err()}
	}
	return f.response, f.err
}

func okResponse(body string) *transport.Response {
	return &transport.Response{StatusCode: http.StatusOK, Body: []byte(body)}
}

func newTestClient(t *testing.T, sender Sender) *Client {
	t.Helper()
	config := DefaultConfig()
	config.Sender = sender
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := NewClient(config)
	require.NoError(t, err)
	return client
}

func fetchRequest(id *testutil.TestIdentity) *FetchRequest {
	return &FetchRequest{
		Certificate:  id.PFX,
		Password:     testutil.Password,
		TaxID:        "12.345.678/0001-99",
		Jurisdiction: "35",
		LastNSU:      42,
	}
}

// signedFragment cuts the signed distDFeInt out of a SOAP envelope.
func signedFragment(t *testing.T, envelope []byte) string {
	t.Helper()
	s := string(envelope)
	start := strings.Index(s, "<distDFeInt")
	end := strings.Index(s, "</distDFeInt>")
	require.True(t, start >= 0 && end > start, "envelope does not carry distDFeInt")
	return s[start : end+len("</distDFeInt>")]
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(Config{Sender: &fakeSender{}})
	require.NoError(t, err)

	assert.Equal(t, message.EndpointProduction, client.Endpoint())
	assert.Equal(t, transport.DefaultTimeout, client.timeout)
}

func TestNewClient_Homologation(t *testing.T) {
	client, err := NewClient(Config{Environment: message.EnvironmentHomologation, Sender: &fakeSender{}})
	require.NoError(t, err)
	assert.Equal(t, message.EndpointHomologation, client.Endpoint())
}

func TestNewClient_EndpointOverride(t *testing.T) {
	client, err := NewClient(Config{Endpoint: "https://localhost:8443/dfe", Sender: &fakeSender{}})
	require.NoError(t, err)
	assert.Equal(t, "https://localhost:8443/dfe", client.Endpoint())
}

func TestNewClient_UnknownEnvironment(t *testing.T) {
	for _, env := range []message.Environment{-1, 3, 9} {
		_, err := NewClient(Config{Environment: env, Sender: &fakeSender{}})
		assert.Error(t, err, "environment %d", env)
	}

	_, err := NewClient(Config{Environment: 9, Endpoint: "https://localhost:8443/dfe", Sender: &fakeSender{}})
	assert.Error(t, err, "an endpoint override does not make the environment valid")
}

func TestFetchDocuments_Success(t *testing.T) {
	id := testutil.NewIdentity(t)
	sender := &fakeSender{response: okResponse(testutil.BuildResponse(t, testutil.ResponseOptions{
		CStat:   distribution.StatusDocumentsFound,
		XMotivo: "Documento(s) localizado(s)",
		UltNSU:  "000000000000043",
		MaxNSU:  "000000000000050",
		Docs: []testutil.DocZip{
			{NSU: "000000000000043", Schema: testutil.SchemaResNFe, XML: testutil.ResNFeXML},
		},
		SOAP: true,
	}))}
	client := newTestClient(t, sender)

	result, err := client.FetchDocuments(context.Background(), fetchRequest(id))
	require.NoError(t, err)

	assert.Equal(t, "138", result.StatusCode)
	assert.Equal(t, uint64(43), result.LastNSU)
	assert.True(t, result.HasMore())
	require.Len(t, result.Documents, 1)
	assert.Equal(t, testutil.AccessKey, result.Documents[0].Key())

	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, message.EndpointProduction, sender.endpoint)
	require.NotEmpty(t, sender.cert.Certificate)
	assert.Equal(t, id.Certificate.Raw, sender.cert.Certificate[0])

	envelope := string(sender.body)
	assert.Contains(t, envelope, "<nfeDadosMsg>")
	assert.Contains(t, envelope, "<CNPJ>12345678000199</CNPJ>")
	assert.Contains(t, envelope, "<cUFAutor>35</cUFAutor>")
	assert.Contains(t, envelope, "<ultNSU>000000000000042</ultNSU>")
	assert.Contains(t, envelope, `Id="DistDFeInt"`)

	signer, err := security.NewRSASigner(id.Key, id.Certificate, security.DistributionTarget)
	require.NoError(t, err)
	assert.NoError(t, signer.Verify(signedFragment(t, sender.body)))
}

func TestFetchDocuments_ByKey(t *testing.T) {
	id := testutil.NewIdentity(t)
	sender := &fakeSender{response: okResponse(testutil.BuildResponse(t, testutil.ResponseOptions{
		CStat: distribution.StatusDocumentsFound,
		Docs:  []testutil.DocZip{{NSU: "9", Schema: testutil.SchemaProcNFe, XML: testutil.ProcNFeXML}},
	}))}
	client := newTestClient(t, sender)

	req := fetchRequest(id)
	req.LastNSU = 0
	req.DocumentKey = testutil.AccessKey

	result, err := client.FetchDocuments(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.IsType(t, &distribution.FullDocument{}, result.Documents[0])

	assert.Contains(t, string(sender.body), "<chNFe>"+testutil.AccessKey+"</chNFe>")
	assert.NotContains(t, string(sender.body), "<distNSU>")
}

func TestFetchDocuments_ExpiredCertificate(t *testing.T) {
	id := testutil.NewExpiredIdentity(t)
	sender := &fakeSender{}
	client := newTestClient(t, sender)

	_, err := client.FetchDocuments(context.Background(), fetchRequest(id))
	require.Error(t, err)

	assert.Equal(t, KindExpiredCertificate, KindOf(err))
	assert.ErrorIs(t, err, certificate.ErrExpired)
	assert.Zero(t, sender.calls, "expired certificate must not reach the network")
}

func TestFetch_ExpiryUsesClock(t *testing.T) {
	id := testutil.NewIdentity(t)
	identity, err := certificate.Read(id.PFX, testutil.Password)
	require.NoError(t, err)

	sender := &fakeSender{}
	config := DefaultConfig()
	config.Sender = sender
	config.Now = func() time.Time { return identity.NotAfter }
	client, err := NewClient(config)
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), identity, &message.DistributionQuery{TaxID: testutil.TestCNPJ})
	assert.Equal(t, KindExpiredCertificate, KindOf(err))
	assert.Zero(t, sender.calls)
}

func TestFetchDocuments_CertificateErrors(t *testing.T) {
	id := testutil.NewIdentity(t)
	client := newTestClient(t, &fakeSender{})

	t.Run("wrong password", func(t *testing.T) {
		req := fetchRequest(id)
		req.Password = "wrong"
		_, err := client.FetchDocuments(context.Background(), req)
		assert.Equal(t, KindCertificate, KindOf(err))
		assert.ErrorIs(t, err, certificate.ErrIncorrectPassword)
	})

	t.Run("garbage container", func(t *testing.T) {
		req := fetchRequest(id)
		req.Certificate = []byte("not a pkcs12 container")
		_, err := client.FetchDocuments(context.Background(), req)
		assert.Equal(t, KindCertificate, KindOf(err))
	})

	t.Run("empty container", func(t *testing.T) {
		req := fetchRequest(id)
		req.Certificate = nil
		_, err := client.FetchDocuments(context.Background(), req)
		assert.Equal(t, KindCertificate, KindOf(err))
		assert.ErrorIs(t, err, certificate.ErrInvalidContainer)
	})
}

func TestFetchDocuments_InvalidRequest(t *testing.T) {
	id := testutil.NewIdentity(t)
	sender := &fakeSender{}
	client := newTestClient(t, sender)

	_, err := client.FetchDocuments(context.Background(), nil)
	assert.Equal(t, KindInvalidRequest, KindOf(err))

	req := fetchRequest(id)
	req.TaxID = "123"
	_, err = client.FetchDocuments(context.Background(), req)
	assert.Equal(t, KindInvalidRequest, KindOf(err))
	assert.ErrorIs(t, err, message.ErrInvalidQuery)

	req = fetchRequest(id)
	req.DocumentKey = testutil.AccessKey
	_, err = client.FetchDocuments(context.Background(), req)
	assert.Equal(t, KindInvalidRequest, KindOf(err), "cursor and key are mutually exclusive")

	assert.Zero(t, sender.calls)
}

func TestFetchDocuments_TransportError(t *testing.T) {
	id := testutil.NewIdentity(t)
	cause := &transport.Error{Endpoint: message.EndpointProduction, Err: errors.New("connection refused")}
	client := newTestClient(t, &fakeSender{err: cause})

	_, err := client.FetchDocuments(context.Background(), fetchRequest(id))
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))

	var terr *transport.Error
	require.True(t, errors.As(err, &terr))
	assert.Same(t, cause, terr)
}

func TestFetchDocuments_DecodeError(t *testing.T) {
	id := testutil.NewIdentity(t)
	client := newTestClient(t, &fakeSender{response: okResponse("<html>gateway error</html>")})

	_, err := client.FetchDocuments(context.Background(), fetchRequest(id))
	require.Error(t, err)
	assert.Equal(t, KindDecode, KindOf(err))
	assert.ErrorIs(t, err, distribution.ErrMalformedResponse)
}

func TestFetchDocuments_ErrorStatusWithBodyDecodes(t *testing.T) {
	id := testutil.NewIdentity(t)
	sender := &fakeSender{response: &transport.Response{
		StatusCode: http.StatusInternalServerError,
		Body:       []byte(testutil.SOAPFault("Rejeicao: Certificado invalido")),
	}}
	client := newTestClient(t, sender)

	result, err := client.FetchDocuments(context.Background(), fetchRequest(id))
	require.NoError(t, err)
	assert.Empty(t, result.StatusCode)
	assert.Equal(t, "Rejeicao: Certificado invalido", result.StatusReason)
	assert.Empty(t, result.Documents)
}

func TestFetchDocuments_ErrorStatusWithoutProtocolBody(t *testing.T) {
	id := testutil.NewIdentity(t)
	sender := &fakeSender{response: &transport.Response{
		StatusCode: http.StatusServiceUnavailable,
		Body:       []byte("<html>503 Service Unavailable</html>"),
	}}
	client := newTestClient(t, sender)

	_, err := client.FetchDocuments(context.Background(), fetchRequest(id))
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))

	var terr *transport.Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, http.StatusServiceUnavailable, terr.StatusCode)
	assert.ErrorIs(t, err, distribution.ErrMalformedResponse)
}

func TestFetchDocuments_RateLimited(t *testing.T) {
	id := testutil.NewIdentity(t)
	client := newTestClient(t, &fakeSender{response: okResponse(testutil.BuildResponse(t, testutil.ResponseOptions{
		CStat:   distribution.StatusRateLimited,
		XMotivo: "Rejeicao: Consumo Indevido",
	}))})

	result, err := client.FetchDocuments(context.Background(), fetchRequest(id))
	require.NoError(t, err)
	assert.Equal(t, "656", result.StatusCode)
	assert.Empty(t, result.Documents)
}

func TestFetchDocuments_Timeout(t *testing.T) {
	id := testutil.NewIdentity(t)
	config := DefaultConfig()
	config.Sender = &fakeSender{block: true}
	config.Timeout = 50 * time.Millisecond
	client, err := NewClient(config)
	require.NoError(t, err)

	_, err = client.FetchDocuments(context.Background(), fetchRequest(id))
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetch_DefaultJurisdiction(t *testing.T) {
	id := testutil.NewIdentity(t)
	identity, err := certificate.Read(id.PFX, testutil.Password)
	require.NoError(t, err)

	sender := &fakeSender{response: okResponse(testutil.BuildResponse(t, testutil.ResponseOptions{CStat: distribution.StatusNoDocuments}))}
	config := DefaultConfig()
	config.Sender = sender
	config.Jurisdiction = "43"
	config.Environment = message.EnvironmentHomologation
	client, err := NewClient(config)
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), identity, &message.DistributionQuery{TaxID: testutil.TestCNPJ})
	require.NoError(t, err)

	assert.Contains(t, string(sender.body), "<cUFAutor>43</cUFAutor>")
	assert.Contains(t, string(sender.body), "<tpAmb>2</tpAmb>")
	assert.Equal(t, message.EndpointHomologation, sender.endpoint)
}

func TestFetch_NilArguments(t *testing.T) {
	client := newTestClient(t, &fakeSender{})

	_, err := client.Fetch(context.Background(), nil, &message.DistributionQuery{})
	assert.Equal(t, KindCertificate, KindOf(err))

	id := testutil.NewIdentity(t)
	identity, err := certificate.Read(id.PFX, testutil.Password)
	require.NoError(t, err)
	_, err = client.Fetch(context.Background(), identity, nil)
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestFetchDocuments_OverMutualTLS(t *testing.T) {
	id := testutil.NewIdentity(t)
	response := testutil.BuildResponse(t, testutil.ResponseOptions{
		CStat:  distribution.StatusNoDocuments,
		UltNSU: "000000000000042",
		MaxNSU: "000000000000042",
		SOAP:   true,
	})

	var (
		gotAction string
		gotPeer   string
	)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAction = r.Header.Get("SOAPAction")
		if len(r.TLS.PeerCertificates) > 0 {
			gotPeer = r.TLS.PeerCertificates[0].Subject.CommonName
		}
		w.Header().Set("Content-Type", message.ContentType)
		_, _ = w.Write([]byte(response))
	}))
	srv.TLS = &tls.Config{ClientAuth: tls.RequireAnyClientCert}
	srv.StartTLS()
	defer srv.Close()

	config := DefaultConfig()
	config.Endpoint = srv.URL
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := NewClient(config)
	require.NoError(t, err)

	result, err := client.FetchDocuments(context.Background(), fetchRequest(id))
	require.NoError(t, err)

	assert.Equal(t, "137", result.StatusCode)
	assert.False(t, result.HasMore())
	assert.Equal(t, message.SOAPAction, gotAction)
	assert.Equal(t, id.Certificate.Subject.CommonName, gotPeer)
}

func TestValidateCertificate(t *testing.T) {
	client := newTestClient(t, &fakeSender{})

	t.Run("valid", func(t *testing.T) {
		id := testutil.NewIdentity(t)
		info, err := client.ValidateCertificate(id.PFX, testutil.Password)
		require.NoError(t, err)
		assert.Equal(t, "EMPRESA TESTE LTDA", info.HolderName)
		assert.Equal(t, testutil.TestCNPJ, info.TaxID)
		assert.False(t, info.Expired)
		assert.Equal(t, "1234ABCD", info.SerialNumber)
	})

	t.Run("expired", func(t *testing.T) {
		id := testutil.NewExpiredIdentity(t)
		info, err := client.ValidateCertificate(id.PFX, testutil.Password)
		require.NoError(t, err)
		assert.True(t, info.Expired)
	})

	t.Run("wrong password", func(t *testing.T) {
		id := testutil.NewIdentity(t)
		_, err := client.ValidateCertificate(id.PFX, "nope")
		assert.Equal(t, KindCertificate, KindOf(err))
	})
}

func TestError(t *testing.T) {
	cause := errors.New("boom")
	err := newError(KindSigning, "Fetch", cause)

	assert.Equal(t, "dfe: Fetch: signing: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindSigning, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(cause))
	assert.Equal(t, Kind(""), KindOf(nil))
}
