package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sirosfoundation/go-dfe/internal/auth"
	"github.com/sirosfoundation/go-dfe/internal/metrics"
	"github.com/sirosfoundation/go-dfe/pkg/certificate"
	"github.com/sirosfoundation/go-dfe/pkg/dfe"
	"github.com/sirosfoundation/go-dfe/pkg/distribution"
	"github.com/sirosfoundation/go-dfe/pkg/message"
)

// NSU accepts a JSON number or a digit string
type NSU uint64

func (n *NSU) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	text := string(data)
	if strings.HasPrefix(text, `"`) {
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
	}
	v, err := message.ParseNSU(text)
	if err != nil {
		return err
	}
	*n = NSU(v)
	return nil
}

// DistributionRequest is the body of POST /api/distribution
type DistributionRequest struct {
	CertificateBase64   string `json:"certificateBase64"`
	CertificatePassword string `json:"certificatePassword"`
	CNPJ                string `json:"cnpj"`
	UF                  string `json:"uf,omitempty"`
	UltNSU              NSU    `json:"ultNSU,omitempty"`
	ChNFe               string `json:"chNFe,omitempty"`
}

// DistributionResponse is the success body of POST /api/distribution
type DistributionResponse struct {
	Success bool                    `json:"success"`
	CStat   string                  `json:"cStat"`
	XMotivo string                  `json:"xMotivo"`
	UltNSU  string                  `json:"ultNSU"`
	MaxNSU  string                  `json:"maxNSU"`
	DhResp  string                  `json:"dhResp,omitempty"`
	HasMore bool                    `json:"hasMore"`
	Notas   []distribution.Document `json:"notas"`
	Eventos []distribution.Document `json:"eventos"`
	Skipped int                     `json:"ignorados,omitempty"`
}

// ValidateCertificateRequest is the body of POST /api/certificates/validate
type ValidateCertificateRequest struct {
	CertificateBase64   string `json:"certificateBase64"`
	CertificatePassword string `json:"certificatePassword"`
}

// ValidateCertificateResponse is the success body of POST /api/certificates/validate
type ValidateCertificateResponse struct {
	Success bool `json:"success"`
	*certificate.Info
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	logger := s.loggerFrom(r.Context())

	var req DistributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.CertificateBase64 == "" {
		s.jsonError(w, "certificateBase64 is required", http.StatusBadRequest)
		return
	}
	if req.CNPJ == "" {
		s.jsonError(w, "cnpj is required", http.StatusBadRequest)
		return
	}
	if !auth.Allowed(r.Context(), req.CNPJ) {
		s.jsonError(w, "access denied for this company", http.StatusForbidden)
		return
	}
	container, err := decodeContainer(req.CertificateBase64)
	if err != nil {
		s.jsonError(w, "certificateBase64 is not valid base64", http.StatusBadRequest)
		return
	}

	logger = logger.With("tax_id", message.NormalizeTaxID(req.CNPJ))
	logger.Info("distribution query requested", "ult_nsu", uint64(req.UltNSU), "by_key", req.ChNFe != "")

	start := time.Now()
	result, err := s.client.FetchDocuments(r.Context(), &dfe.FetchRequest{
		Certificate:  container,
		Password:     req.CertificatePassword,
		TaxID:        req.CNPJ,
		Jurisdiction: req.UF,
		LastNSU:      uint64(req.UltNSU),
		DocumentKey:  req.ChNFe,
	})
	if err != nil {
		s.metrics.ObserveCall(metrics.SourceAPI, string(dfe.KindOf(err)), start, nil)
		s.dfeError(w, logger, err)
		return
	}
	s.metrics.ObserveCall(metrics.SourceAPI, result.StatusCode, start, result)

	notas := result.Summaries()
	if notas == nil {
		notas = []distribution.Document{}
	}
	eventos := result.Events()
	if eventos == nil {
		eventos = []distribution.Document{}
	}

	s.jsonResponse(w, &DistributionResponse{
		Success: true,
		CStat:   result.StatusCode,
		XMotivo: result.StatusReason,
		UltNSU:  message.FormatNSU(result.LastNSU),
		MaxNSU:  message.FormatNSU(result.MaxNSU),
		DhResp:  result.RespondedAt,
		HasMore: result.HasMore(),
		Notas:   notas,
		Eventos: eventos,
		Skipped: result.Skipped,
	}, http.StatusOK)
}

func (s *Server) handleValidateCertificate(w http.ResponseWriter, r *http.Request) {
	var req ValidateCertificateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.CertificateBase64 == "" {
		s.jsonError(w, "certificateBase64 is required", http.StatusBadRequest)
		return
	}
	container, err := decodeContainer(req.CertificateBase64)
	if err != nil {
		s.jsonError(w, "certificateBase64 is not valid base64", http.StatusBadRequest)
		return
	}

	info, err := s.client.ValidateCertificate(container, req.CertificatePassword)
	if err != nil {
		s.dfeError(w, s.loggerFrom(r.Context()), err)
		return
	}

	s.jsonResponse(w, &ValidateCertificateResponse{Success: true, Info: info}, http.StatusOK)
}

// dfeError maps a client error to an HTTP status
func (s *Server) dfeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := dfe.KindOf(err)
	status := statusForKind(kind)
	logger.Warn("distribution request failed", "kind", kind, "status", status, "error", err)

	msg := err.Error()
	var e *dfe.Error
	if errors.As(err, &e) {
		msg = e.Err.Error()
	}

	s.jsonResponse(w, map[string]any{
		"success": false,
		"error":   msg,
		"kind":    string(kind),
	}, status)
}

func statusForKind(kind dfe.Kind) int {
	switch kind {
	case dfe.KindInvalidRequest:
		return http.StatusBadRequest
	case dfe.KindCertificate, dfe.KindExpiredCertificate:
		return http.StatusUnprocessableEntity
	case dfe.KindTransport, dfe.KindDecode:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeContainer decodes a base64 PKCS#12 container. A data URL prefix and
// embedded whitespace are accepted.
func decodeContainer(text string) ([]byte, error) {
	if i := strings.Index(text, ";base64,"); i >= 0 && strings.HasPrefix(text, "data:") {
		text = text[i+len(";base64,"):]
	}
	text = strings.Join(strings.Fields(text), "")
	return base64.StdEncoding.DecodeString(text)
}
