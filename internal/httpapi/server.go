package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/priorai/priorai/internal/analysis"
	"github.com/priorai/priorai/internal/report"
	"github.com/priorai/priorai/internal/store"
)

// maxDisclosureBytes bounds the request body; disclosures are text, not
// document blobs.
const maxDisclosureBytes = 1 << 20

// Runner starts an analysis run in the background.
type Runner interface {
	Start(analysisID, disclosureText string)
}

// PDFRenderer turns the markdown report into a PDF.
type PDFRenderer interface {
	Render(ctx context.Context, markdown string) ([]byte, error)
}

type Server struct {
	store    store.API
	runner   Runner
	renderer PDFRenderer
}

func NewServer(st store.API, runner Runner, renderer PDFRenderer) http.Handler {
	s := &Server{store: st, runner: runner, renderer: renderer}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/analyses", s.handleAnalyses)
	mux.HandleFunc("/v1/analyses/", s.handleAnalysisSubpath)
	mux.HandleFunc("/v1/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"error": map[string]any{"message": message},
	})
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte("{}"), nil
	}
	blob, err := io.ReadAll(io.LimitReader(r.Body, maxDisclosureBytes))
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	return blob, nil
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createAnalysis(w, r)
	case http.MethodGet:
		s.listAnalyses(w)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) createAnalysis(w http.ResponseWriter, r *http.Request) {
	blob, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read request body")
		return
	}
	var req struct {
		Title          string `json:"title"`
		DisclosureText string `json:"disclosure_text"`
	}
	if err := json.Unmarshal(blob, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.DisclosureText) == "" {
		writeError(w, http.StatusBadRequest, "disclosure_text is required")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Untitled disclosure"
	}

	now := time.Now().UTC()
	a := &analysis.Analysis{
		ID:        uuid.NewString(),
		Title:     title,
		Status:    analysis.StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateAnalysis(a); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.runner.Start(a.ID, req.DisclosureText)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"analysis_id": a.ID,
		"status":      a.Status,
	})
}

func (s *Server) listAnalyses(w http.ResponseWriter) {
	analyses, err := s.store.ListAnalyses()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": analyses})
}

func (s *Server) handleAnalysisSubpath(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/analyses/")
	switch {
	case strings.HasSuffix(rest, "/steps"):
		s.getSteps(w, strings.TrimSuffix(rest, "/steps"))
	case strings.HasSuffix(rest, "/report.pdf"):
		s.getReportPDF(w, r, strings.TrimSuffix(rest, "/report.pdf"))
	default:
		s.getAnalysis(w, rest)
	}
}

func (s *Server) getAnalysis(w http.ResponseWriter, id string) {
	id = strings.Trim(id, "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	a, err := s.store.GetAnalysis(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	patents, err := s.store.ListCandidates(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"analysis": a,
		"patents":  patents,
	})
}

func (s *Server) getSteps(w http.ResponseWriter, id string) {
	id = strings.Trim(id, "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, err := s.store.GetAnalysis(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	steps, err := s.store.ListSteps(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

func (s *Server) getReportPDF(w http.ResponseWriter, r *http.Request, id string) {
	id = strings.Trim(id, "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	a, err := s.store.GetAnalysis(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if a.Status != analysis.StatusCompleted {
		writeError(w, http.StatusConflict, "analysis is not completed")
		return
	}
	patents, err := s.store.ListCandidates(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	markdown := report.BuildMarkdown(a, patents)
	pdf, err := s.renderer.Render(r.Context(), markdown)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "report rendering failed: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="analysis-`+id+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
