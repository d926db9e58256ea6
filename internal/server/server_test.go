package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-dfe/internal/auth"
	"github.com/sirosfoundation/go-dfe/internal/config"
	"github.com/sirosfoundation/go-dfe/internal/metrics"
	"github.com/sirosfoundation/go-dfe/internal/storage"
	"github.com/sirosfoundation/go-dfe/internal/storage/memory"
	"github.com/sirosfoundation/go-dfe/internal/syncer"
	"github.com/sirosfoundation/go-dfe/internal/testutil"
	"github.com/sirosfoundation/go-dfe/pkg/certificate"
	"github.com/sirosfoundation/go-dfe/pkg/dfe"
	"github.com/sirosfoundation/go-dfe/pkg/distribution"
	"github.com/sirosfoundation/go-dfe/pkg/message"
	"github.com/sirosfoundation/go-dfe/pkg/portal"
)

var containerB64 = base64.StdEncoding.EncodeToString([]byte("pkcs12-bytes"))

type fakeDistributor struct {
	req    *dfe.FetchRequest
	result *distribution.Result
	info   *certificate.Info
	err    error
}

func (f *fakeDistributor) FetchDocuments(ctx context.Context, req *dfe.FetchRequest) (*distribution.Result, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeDistributor) ValidateCertificate(container []byte, password string) (*certificate.Info, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

type failingStore struct {
	*memory.Store
}

func (failingStore) Ping(ctx context.Context) error { return errors.New("connection refused") }

func sampleResult() *distribution.Result {
	return &distribution.Result{
		StatusCode:   distribution.StatusDocumentsFound,
		StatusReason: "Documento(s) localizado(s)",
		LastNSU:      5,
		MaxNSU:       9,
		RespondedAt:  "2024-01-16T09:00:00-03:00",
		Documents: []distribution.Document{
			&distribution.Summary{
				Item:       distribution.Item{Kind: distribution.KindSummary, NSU: 4, Schema: testutil.SchemaResNFe},
				AccessKey:  testutil.AccessKey,
				IssuerName: "FORNECEDOR EXEMPLO SA",
				Value:      1500.75,
			},
			&distribution.EventSummary{
				Item:        distribution.Item{Kind: distribution.KindEvent, NSU: 5, Schema: testutil.SchemaResEvento},
				AccessKey:   testutil.AccessKey,
				EventType:   "210210",
				Description: "Ciencia da Operacao",
			},
		},
	}
}

type testServer struct {
	server  *Server
	client  *fakeDistributor
	store   *memory.Store
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Metrics.Metrics.Enabled = true

	ts := &testServer{
		client:  &fakeDistributor{result: sampleResult()},
		store:   memory.NewStore(),
		metrics: metrics.New(),
	}
	if opts.Client == nil {
		opts.Client = ts.client
	}
	if opts.Store == nil {
		opts.Store = ts.store
	}
	if opts.Metrics == nil {
		opts.Metrics = ts.metrics
	}
	ts.server = New(cfg, opts, nil)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDPropagated(t *testing.T) {
	ts := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestReady(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts = newTestServer(t, Options{Store: failingStore{memory.NewStore()}})
	rec = ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.do(t, http.MethodGet, "/health", nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dfe_http_requests_total{code="200",route="GET /health"} 1`)
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	cfg := config.Default()
	s := New(cfg, Options{Client: &fakeDistributor{}, Store: memory.NewStore(), Metrics: metrics.New()}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDistribution_Success(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.do(t, http.MethodPost, "/api/distribution", map[string]any{
		"certificateBase64":   containerB64,
		"certificatePassword": "segredo",
		"cnpj":                "12.345.678/0001-99",
		"uf":                  "35",
		"ultNSU":              "000000000000042",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NotNil(t, ts.client.req)
	assert.Equal(t, []byte("pkcs12-bytes"), ts.client.req.Certificate)
	assert.Equal(t, "segredo", ts.client.req.Password)
	assert.Equal(t, "12.345.678/0001-99", ts.client.req.TaxID)
	assert.Equal(t, "35", ts.client.req.Jurisdiction)
	assert.Equal(t, uint64(42), ts.client.req.LastNSU)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "138", body["cStat"])
	assert.Equal(t, "000000000000005", body["ultNSU"])
	assert.Equal(t, "000000000000009", body["maxNSU"])
	assert.Equal(t, true, body["hasMore"])

	notas := body["notas"].([]any)
	require.Len(t, notas, 1)
	nota := notas[0].(map[string]any)
	assert.Equal(t, testutil.AccessKey, nota["chNFe"])
	assert.Equal(t, "resumo", nota["tipo"])
	assert.Equal(t, float64(4), nota["nsu"])
	assert.Equal(t, 1500.75, nota["valorNFe"])

	eventos := body["eventos"].([]any)
	require.Len(t, eventos, 1)
	assert.Equal(t, "210210", eventos[0].(map[string]any)["tpEvento"])
}

func TestDistribution_NumericNSUAndKey(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.client.result = &distribution.Result{StatusCode: distribution.StatusNoDocuments, StatusReason: "Nenhum documento localizado"}

	rec := ts.do(t, http.MethodPost, "/api/distribution",
		`{"certificateBase64":"`+containerB64+`","cnpj":"12345678000199","ultNSU":17,"chNFe":"`+testutil.AccessKey+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(17), ts.client.req.LastNSU)
	assert.Equal(t, testutil.AccessKey, ts.client.req.DocumentKey)

	body := decode(t, rec)
	assert.Equal(t, "137", body["cStat"])
	assert.Equal(t, false, body["hasMore"])
	assert.Empty(t, body["notas"])
	assert.NotNil(t, body["notas"])
}

func TestDistribution_DataURLContainer(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodPost, "/api/distribution", map[string]any{
		"certificateBase64": "data:application/x-pkcs12;base64," + containerB64,
		"cnpj":              testutil.TestCNPJ,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte("pkcs12-bytes"), ts.client.req.Certificate)
}

func TestDistribution_BadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"cnpj":`},
		{"missing certificate", `{"cnpj":"12345678000199"}`},
		{"missing cnpj", `{"certificateBase64":"` + containerB64 + `"}`},
		{"invalid base64", `{"certificateBase64":"%%%","cnpj":"12345678000199"}`},
		{"invalid nsu", `{"certificateBase64":"` + containerB64 + `","cnpj":"12345678000199","ultNSU":"abc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, Options{})
			rec := ts.do(t, http.MethodPost, "/api/distribution", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
			assert.Nil(t, ts.client.req)
		})
	}
}

func TestDistribution_BodyTooLarge(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.server.config.Server.MaxBodyBytes = 64

	rec := ts.do(t, http.MethodPost, "/api/distribution", map[string]any{
		"certificateBase64": strings.Repeat("A", 128),
		"cnpj":              testutil.TestCNPJ,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDistribution_ErrorKinds(t *testing.T) {
	tests := []struct {
		kind   dfe.Kind
		status int
	}{
		{dfe.KindInvalidRequest, http.StatusBadRequest},
		{dfe.KindCertificate, http.StatusUnprocessableEntity},
		{dfe.KindExpiredCertificate, http.StatusUnprocessableEntity},
		{dfe.KindSignatureTargetNotFound, http.StatusInternalServerError},
		{dfe.KindSigning, http.StatusInternalServerError},
		{dfe.KindTransport, http.StatusBadGateway},
		{dfe.KindDecode, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ts := newTestServer(t, Options{})
			ts.client.err = &dfe.Error{Kind: tt.kind, Op: "FetchDocuments", Err: errors.New("boom")}

			rec := ts.do(t, http.MethodPost, "/api/distribution", map[string]any{
				"certificateBase64": containerB64,
				"cnpj":              testutil.TestCNPJ,
			})
			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, string(tt.kind), body["kind"])
			assert.Equal(t, "boom", body["error"])
		})
	}
}

func TestDistribution_RecordsMetrics(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.do(t, http.MethodPost, "/api/distribution", map[string]any{
		"certificateBase64": containerB64,
		"cnpj":              testutil.TestCNPJ,
	})

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Contains(t, rec.Body.String(), `dfe_distribution_calls_total{outcome="138",source="api"} 1`)
	assert.Contains(t, rec.Body.String(), `dfe_documents_received_total{kind="resumo"} 1`)
}

func TestValidateCertificate(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.client.info = &certificate.Info{
		HolderName:   "EMPRESA TESTE LTDA",
		TaxID:        testutil.TestCNPJ,
		NotBefore:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		SerialNumber: "1234ABCD",
	}

	rec := ts.do(t, http.MethodPost, "/api/certificates/validate", map[string]any{
		"certificateBase64":   containerB64,
		"certificatePassword": "segredo",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "EMPRESA TESTE LTDA", body["nome"])
	assert.Equal(t, testutil.TestCNPJ, body["cnpj"])
	assert.Equal(t, "2025-01-01T00:00:00Z", body["validade"])
	assert.Equal(t, false, body["expirado"])
	assert.Equal(t, "1234ABCD", body["serialNumber"])
}

func TestValidateCertificate_Errors(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodPost, "/api/certificates/validate", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.client.err = &dfe.Error{Kind: dfe.KindCertificate, Op: "ValidateCertificate", Err: certificate.ErrIncorrectPassword}
	rec = ts.do(t, http.MethodPost, "/api/certificates/validate", map[string]any{
		"certificateBase64": containerB64,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "certificate", decode(t, rec)["kind"])
}

func seedStore(t *testing.T, store storage.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveCursor(ctx, &storage.Cursor{
		TaxID:      testutil.TestCNPJ,
		LastNSU:    5,
		MaxNSU:     9,
		LastStatus: distribution.StatusDocumentsFound,
	}))
	now := time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC)
	var docs []*storage.Document
	for _, d := range sampleResult().Documents {
		docs = append(docs, storage.NewDocument(testutil.TestCNPJ, d, now))
	}
	docs[0].XML = testutil.ResNFeXML
	_, err := store.SaveDocuments(ctx, docs)
	require.NoError(t, err)
}

func TestCompanies(t *testing.T) {
	ts := newTestServer(t, Options{})
	seedStore(t, ts.store)

	rec := ts.do(t, http.MethodGet, "/api/companies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["total"])

	rec = ts.do(t, http.MethodGet, "/api/companies/12.345.678.0001-99/cursor", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, testutil.TestCNPJ, body["taxId"])
	assert.Equal(t, float64(5), body["ultNSU"])
	assert.Equal(t, "138", body["cStat"])

	rec = ts.do(t, http.MethodGet, "/api/companies/11222333000181/cursor", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDocuments(t *testing.T) {
	ts := newTestServer(t, Options{})
	seedStore(t, ts.store)

	rec := ts.do(t, http.MethodGet, "/api/companies/"+testutil.TestCNPJ+"/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["total"])
	docs := body["documents"].([]any)
	require.Len(t, docs, 2)
	assert.Equal(t, float64(4), docs[0].(map[string]any)["nsu"])

	rec = ts.do(t, http.MethodGet, "/api/companies/"+testutil.TestCNPJ+"/documents?kind=evento", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	docs = decode(t, rec)["documents"].([]any)
	require.Len(t, docs, 1)
	assert.Equal(t, "evento", docs[0].(map[string]any)["tipo"])

	rec = ts.do(t, http.MethodGet, "/api/companies/"+testutil.TestCNPJ+"/documents?afterNSU=4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["documents"], 1)

	rec = ts.do(t, http.MethodGet, "/api/companies/"+testutil.TestCNPJ+"/documents?kind=nfe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/companies/11222333000181/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["documents"])
}

func TestGetDocument(t *testing.T) {
	ts := newTestServer(t, Options{})
	seedStore(t, ts.store)

	rec := ts.do(t, http.MethodGet, "/api/companies/"+testutil.TestCNPJ+"/documents/4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testutil.AccessKey, decode(t, rec)["chNFe"])

	rec = ts.do(t, http.MethodGet, "/api/companies/"+testutil.TestCNPJ+"/documents/000000000000004?format=xml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, testutil.ResNFeXML, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/companies/"+testutil.TestCNPJ+"/documents/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/companies/"+testutil.TestCNPJ+"/documents/x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type emptyFetcher struct{}

func (emptyFetcher) Fetch(ctx context.Context, identity *certificate.Identity, query *message.DistributionQuery) (*distribution.Result, error) {
	return &distribution.Result{
		StatusCode:   distribution.StatusNoDocuments,
		StatusReason: "Nenhum documento localizado",
		LastNSU:      query.LastNSU,
		MaxNSU:       query.LastNSU,
	}, nil
}

func TestSync(t *testing.T) {
	store := memory.NewStore()
	s := syncer.NewSyncer(store, emptyFetcher{}, []syncer.Company{
		{TaxID: testutil.TestCNPJ, CertificateFile: "empresa.pfx"},
	}, nil, nil, nil).WithIdentityLoader(func(path, password string) (*certificate.Identity, error) {
		return &certificate.Identity{}, nil
	})
	ts := newTestServer(t, Options{Store: store, Syncer: s})

	rec := ts.do(t, http.MethodPost, "/api/companies/"+testutil.TestCNPJ+"/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, syncer.ResultComplete, body["result"])
	assert.Equal(t, float64(1), body["pages"])

	rec = ts.do(t, http.MethodGet, "/api/companies/"+testutil.TestCNPJ+"/cursor", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lastRun := decode(t, rec)["lastRun"].(map[string]any)
	assert.Equal(t, syncer.ResultComplete, lastRun["result"])

	rec = ts.do(t, http.MethodPost, "/api/companies/11222333000181/sync", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSync_Disabled(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodPost, "/api/companies/"+testutil.TestCNPJ+"/sync", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPortals(t *testing.T) {
	registry := portal.NewRegistry()
	registry.Add(&portal.Script{
		ID:  "sp-nfse",
		URL: "https://nfe.prefeitura.sp.gov.br/login.aspx",
		Steps: []portal.Step{
			{Action: portal.ActionTypeUsername, Selector: "#login"},
			{Action: portal.ActionTypePassword, Selector: "#senha"},
			{Action: portal.ActionClick, Selector: "#entrar"},
			{Action: portal.ActionFillStartDate, Selector: "#inicio"},
			{Action: portal.ActionFillEndDate, Selector: "#fim", Format: portal.FormatISODate},
		},
	})
	ts := newTestServer(t, Options{Portals: registry})

	rec := ts.do(t, http.MethodGet, "/api/portals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["total"])

	rec = ts.do(t, http.MethodPost, "/api/portals/sp-nfse/resolve", map[string]any{
		"period":   "2024-02",
		"username": "usuario",
		"password": "senha",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "2024-02", body["period"])
	steps := body["steps"].([]any)
	require.Len(t, steps, 5)
	assert.Equal(t, "usuario", steps[0].(map[string]any)["text"])
	assert.Nil(t, steps[2].(map[string]any)["text"])
	assert.Equal(t, "01/02/2024", steps[3].(map[string]any)["text"])
	assert.Equal(t, "2024-02-29", steps[4].(map[string]any)["text"])

	rec = ts.do(t, http.MethodPost, "/api/portals/sp-nfse/resolve", map[string]any{"period": "2024-13"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/portals/unknown/resolve", map[string]any{"period": "2024-02"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNSU_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
		err  bool
	}{
		{`42`, 42, false},
		{`"000000000000042"`, 42, false},
		{`""`, 0, false},
		{`null`, 0, false},
		{`"abc"`, 0, true},
		{`-1`, 0, true},
		{`"1234567890123456"`, 0, true},
	}
	for _, tt := range tests {
		var n NSU
		err := json.Unmarshal([]byte(tt.in), &n)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, uint64(n), tt.in)
	}
}

const jwtSecret = "0123456789abcdef0123456789abcdef"

func bearer(t *testing.T, companies ...string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		Companies: companies,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func TestAuth(t *testing.T) {
	authenticator := auth.NewAuthenticator(&config.AuthConfig{HMACSecret: jwtSecret}, nil)
	ts := newTestServer(t, Options{Authenticator: authenticator})
	seedStore(t, ts.store)
	require.NoError(t, ts.store.SaveCursor(t.Context(), &storage.Cursor{TaxID: "11222333000181"}))

	send := func(method, path, token string, body any) *httptest.ResponseRecorder {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
		req := httptest.NewRequest(method, path, reader)
		if token != "" {
			req.Header.Set("Authorization", token)
		}
		rec := httptest.NewRecorder()
		ts.server.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := send(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health is public")

	rec = send(http.MethodGet, "/api/companies/"+testutil.TestCNPJ+"/cursor", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = send(http.MethodGet, "/api/companies/"+testutil.TestCNPJ+"/cursor", "Bearer garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := bearer(t, testutil.TestCNPJ)

	rec = send(http.MethodGet, "/api/companies/"+testutil.TestCNPJ+"/cursor", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = send(http.MethodGet, "/api/companies/11222333000181/documents", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(http.MethodGet, "/api/companies", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["total"], "only the token's companies are listed")

	rec = send(http.MethodPost, "/api/distribution", token, map[string]any{
		"certificateBase64": containerB64,
		"cnpj":              "11222333000181",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, ts.client.req)

	rec = send(http.MethodPost, "/api/distribution", token, map[string]any{
		"certificateBase64": containerB64,
		"cnpj":              testutil.TestCNPJ,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = send(http.MethodGet, "/api/companies", bearer(t, "*"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["total"])
}
