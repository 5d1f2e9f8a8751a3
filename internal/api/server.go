package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/evidence-correlator/internal/engine"
	"github.com/ajitpratap0/evidence-correlator/internal/extraction"
	"github.com/ajitpratap0/evidence-correlator/internal/models"
	"github.com/ajitpratap0/evidence-correlator/internal/pipeline"
)

const maxBodyBytes = 8 << 20

// Server is an HTTP API server that exposes the correlation engine.
type Server struct {
	engine    *engine.Engine
	processor *pipeline.Processor // nil disables POST /v1/documents
	logger    *slog.Logger
	authToken string // empty = no auth required
}

// NewServer creates a new Server with the given dependencies.
func NewServer(eng *engine.Engine, proc *pipeline.Processor, logger *slog.Logger, authToken string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    eng,
		processor: proc,
		logger:    logger,
		authToken: authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health and metrics: no auth required.
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.engine.Metrics().Handler())

	mux.HandleFunc("POST /v1/files", s.auth(s.handleRegisterFile))
	mux.HandleFunc("GET /v1/files", s.auth(s.handleListFiles))
	mux.HandleFunc("GET /v1/files/{id}", s.auth(s.handleGetFile))
	mux.HandleFunc("POST /v1/files/{id}/status", s.auth(s.handleAdvanceFile))
	mux.HandleFunc("POST /v1/files/{id}/entities", s.auth(s.handleIngest))
	mux.HandleFunc("GET /v1/files/{id}/entities", s.auth(s.handleListEntities))
	mux.HandleFunc("POST /v1/documents", s.auth(s.handleDocument))

	mux.HandleFunc("GET /v1/cross-references", s.auth(s.handleCrossReferences))
	mux.HandleFunc("GET /v1/timeline", s.auth(s.handleTimeline))
	mux.HandleFunc("GET /v1/suggestions", s.auth(s.handleSuggestions))
	mux.HandleFunc("POST /v1/suggestions/{fileID}/{caseID}/{action}", s.auth(s.handleMarkSuggestion))
	mux.HandleFunc("GET /v1/aggregates", s.auth(s.handleAggregates))

	return mux
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// registerFileRequest is the body accepted by POST /v1/files.
type registerFileRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	MimeClass string `json:"mime_class"`
}

func (s *Server) handleRegisterFile(w http.ResponseWriter, r *http.Request) {
	var req registerFileRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	var (
		f   models.EvidenceFile
		err error
	)
	if req.ID != "" {
		f, err = s.engine.RegisterFileWithID(req.ID, req.Name, req.SizeBytes, req.MimeClass)
	} else {
		f, err = s.engine.RegisterFile(req.Name, req.SizeBytes, req.MimeClass)
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleListFiles(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"files": s.engine.Files()})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	f, err := s.engine.File(r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

// advanceRequest is the body accepted by POST /v1/files/{id}/status.
type advanceRequest struct {
	Status models.FileStatus `json:"status"`
}

func (s *Server) handleAdvanceFile(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !req.Status.IsValid() {
		s.writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	f, err := s.engine.AdvanceFile(r.PathValue("id"), req.Status)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

// ingestRequest is the body accepted by POST /v1/files/{id}/entities.
type ingestRequest struct {
	Entities []models.EntityInput `json:"entities"`
}

type rejectedEntity struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// ingestResponse is returned by POST /v1/files/{id}/entities. Error is set
// when the batch stopped early; entities from that point on are listed in
// Rejected.
type ingestResponse struct {
	Accepted []models.ExtractedEntity `json:"accepted"`
	Rejected []rejectedEntity         `json:"rejected"`
	Error    string                   `json:"error,omitempty"`
}

type ingestFunc func(ctx context.Context, fileID string, in models.EntityInput) (models.ExtractedEntity, error)

// ingestBatch feeds inputs in order. Validation failures are reported per
// entity. Any other error stops the batch and rejects the rest; it is also
// returned when nothing had been accepted yet.
func ingestBatch(ctx context.Context, ingest ingestFunc, fileID string, inputs []models.EntityInput) (ingestResponse, error) {
	resp := ingestResponse{Accepted: []models.ExtractedEntity{}, Rejected: []rejectedEntity{}}
	for i, in := range inputs {
		ent, err := ingest(ctx, fileID, in)
		if err == nil {
			resp.Accepted = append(resp.Accepted, ent)
			continue
		}
		if errors.Is(err, models.ErrValidation) {
			resp.Rejected = append(resp.Rejected, rejectedEntity{Index: i, Error: err.Error()})
			continue
		}
		if len(resp.Accepted) == 0 {
			return resp, err
		}
		resp.Error = err.Error()
		for j := i; j < len(inputs); j++ {
			resp.Rejected = append(resp.Rejected, rejectedEntity{Index: j, Error: err.Error()})
		}
		break
	}
	return resp, nil
}

// handleIngest accepts a batch in extraction order. An unknown or
// non-extracting file fails the request unless part of the batch was
// already accepted, in which case the partial result is returned.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := ingestBatch(r.Context(), s.engine.Ingest, r.PathValue("id"), req.Entities)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	ents, err := s.engine.Entities(r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entities": ents})
}

// documentRequest is the body accepted by POST /v1/documents.
type documentRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MimeClass string `json:"mime_class"`
	Content   string `json:"content"`
}

// documentResponse is returned by POST /v1/documents.
type documentResponse struct {
	FileID   string            `json:"file_id"`
	Status   models.FileStatus `json:"status"`
	Accepted int               `json:"accepted"`
	Rejected int               `json:"rejected"`
	Error    string            `json:"error,omitempty"`
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	if s.processor == nil {
		s.writeError(w, http.StatusNotImplemented, "extraction is not configured")
		return
	}
	var req documentRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Name == "" || req.Content == "" {
		s.writeError(w, http.StatusBadRequest, "name and content are required")
		return
	}
	if req.MimeClass == "" {
		req.MimeClass = "document"
	}

	res := s.processor.Process(r.Context(), extraction.Document{
		ID:        req.ID,
		Name:      req.Name,
		SizeBytes: int64(len(req.Content)),
		MimeClass: req.MimeClass,
		Content:   []byte(req.Content),
	})
	out := documentResponse{FileID: res.FileID, Status: res.Status, Accepted: res.Accepted, Rejected: res.Rejected}
	if res.Err != nil {
		out.Error = res.Err.Error()
		if res.FileID == "" {
			s.writeEngineError(w, res.Err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCrossReferences(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("file_id")
	var refs []models.CrossReference
	if t := r.URL.Query().Get("type"); t != "" {
		et, err := models.ParseEntityType(t)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid entity type")
			return
		}
		refs = s.engine.ListCrossReferencesByType(et, fileID)
	} else {
		refs = s.engine.ListCrossReferences(fileID)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cross_references": refs})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"timeline": s.engine.ListTimelineEntries(r.URL.Query().Get("file_id")),
	})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	includeClosed := false
	if v := r.URL.Query().Get("include_closed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "include_closed must be a boolean")
			return
		}
		includeClosed = b
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"suggestions": s.engine.ListCaseLinkSuggestions(r.URL.Query().Get("file_id"), includeClosed),
	})
}

func (s *Server) handleMarkSuggestion(w http.ResponseWriter, r *http.Request) {
	var state models.SuggestionState
	switch r.PathValue("action") {
	case "dismiss":
		state = models.SuggestionDismissed
	case "accept":
		state = models.SuggestionAccepted
	case "reopen":
		state = models.SuggestionOpen
	default:
		s.writeError(w, http.StatusBadRequest, "action must be dismiss, accept or reopen")
		return
	}
	sug, err := s.engine.MarkSuggestion(r.PathValue("fileID"), r.PathValue("caseID"), state)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sug)
}

func (s *Server) handleAggregates(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.AggregateCounts())
}

// --- helpers ---

// decode reads a JSON body into v, writing a 400 and returning false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		s.writeError(w, status, "internal error")
		return
	}
	s.writeError(w, status, err.Error())
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
// This is a convenience helper used by the serve command.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
