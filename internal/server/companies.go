package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/sirosfoundation/go-dfe/internal/auth"
	"github.com/sirosfoundation/go-dfe/internal/storage"
	"github.com/sirosfoundation/go-dfe/internal/syncer"
	"github.com/sirosfoundation/go-dfe/pkg/distribution"
	"github.com/sirosfoundation/go-dfe/pkg/message"
)

// CompanyStatus is a stored cursor with the last background run
type CompanyStatus struct {
	*storage.Cursor
	LastRun *syncer.Report `json:"lastRun,omitempty"`
}

func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	cursors, err := s.store.ListCursors(r.Context())
	if err != nil {
		s.loggerFrom(r.Context()).Error("failed to list cursors", "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	companies := make([]CompanyStatus, 0, len(cursors))
	for _, c := range cursors {
		if !auth.Allowed(r.Context(), c.TaxID) {
			continue
		}
		status := CompanyStatus{Cursor: c}
		if s.syncer != nil {
			status.LastRun = s.syncer.LastReport(c.TaxID)
		}
		companies = append(companies, status)
	}

	s.jsonResponse(w, map[string]any{
		"companies": companies,
		"total":     len(companies),
	}, http.StatusOK)
}

func (s *Server) handleGetCursor(w http.ResponseWriter, r *http.Request) {
	taxID := message.NormalizeTaxID(r.PathValue("taxID"))

	cursor, err := s.store.GetCursor(r.Context(), taxID)
	if err != nil {
		s.loggerFrom(r.Context()).Error("failed to get cursor", "tax_id", taxID, "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if cursor == nil {
		s.jsonError(w, "cursor not found", http.StatusNotFound)
		return
	}

	status := CompanyStatus{Cursor: cursor}
	if s.syncer != nil {
		status.LastRun = s.syncer.LastReport(taxID)
	}
	s.jsonResponse(w, status, http.StatusOK)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	taxID := message.NormalizeTaxID(r.PathValue("taxID"))
	query := r.URL.Query()

	filter := &storage.DocumentFilter{
		AccessKey: query.Get("chNFe"),
	}
	if kind := query.Get("kind"); kind != "" {
		switch k := distribution.Kind(kind); k {
		case distribution.KindSummary, distribution.KindFullDocument, distribution.KindEvent:
			filter.Kind = k
		default:
			s.jsonError(w, "unknown kind", http.StatusBadRequest)
			return
		}
	}
	if after := query.Get("afterNSU"); after != "" {
		nsu, err := message.ParseNSU(after)
		if err != nil {
			s.jsonError(w, "afterNSU must be a number", http.StatusBadRequest)
			return
		}
		filter.AfterNSU = nsu
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset > 0 {
			filter.Offset = offset
		}
	}

	docs, err := s.store.ListDocuments(r.Context(), taxID, filter)
	if err != nil {
		s.loggerFrom(r.Context()).Error("failed to list documents", "tax_id", taxID, "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []*storage.Document{}
	}

	total, _ := s.store.CountDocuments(r.Context(), taxID, filter)

	s.jsonResponse(w, map[string]any{
		"documents": docs,
		"total":     total,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	}, http.StatusOK)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	taxID := message.NormalizeTaxID(r.PathValue("taxID"))
	nsu, err := message.ParseNSU(r.PathValue("nsu"))
	if err != nil {
		s.jsonError(w, "nsu must be a number", http.StatusBadRequest)
		return
	}

	doc, err := s.store.GetDocument(r.Context(), taxID, nsu)
	if err != nil {
		s.loggerFrom(r.Context()).Error("failed to get document", "tax_id", taxID, "nsu", nsu, "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if doc == nil {
		s.jsonError(w, "document not found", http.StatusNotFound)
		return
	}

	if r.URL.Query().Get("format") == "xml" {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(doc.XML))
		return
	}
	s.jsonResponse(w, doc, http.StatusOK)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		s.jsonError(w, "background sync is disabled", http.StatusNotFound)
		return
	}
	taxID := r.PathValue("taxID")

	report, err := s.syncer.SyncCompany(r.Context(), taxID)
	switch {
	case errors.Is(err, syncer.ErrUnknownCompany):
		s.jsonError(w, "company is not configured for sync", http.StatusNotFound)
		return
	case errors.Is(err, syncer.ErrAlreadyRunning):
		s.jsonError(w, "sync already running", http.StatusConflict)
		return
	case err != nil && report == nil:
		s.loggerFrom(r.Context()).Error("sync failed", "tax_id", taxID, "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if report.Result == syncer.ResultError {
		status = http.StatusBadGateway
	}
	s.jsonResponse(w, report, status)
}
