package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/joelkehle/pharmagpt/internal/interaction"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodyBytes     = 1 << 20
)

const internalErrorPrefix = "An internal error occurred while processing your request. Please try again or rephrase. Error: "

type Processor interface {
	Run(ctx context.Context, req interaction.Request) (interaction.PipelineResult, error)
}

type Reader interface {
	ListInteractions(ctx context.Context, filter interaction.ListFilter) ([]interaction.Record, error)
	GetInteraction(ctx context.Context, id int64) (interaction.Record, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Pipeline       Processor
	Interactions   Reader
	Health         Pinger
	Logger         *zap.Logger
	AllowedOrigins []string
}

type Server struct {
	pipeline     Processor
	interactions Reader
	health       Pinger
	logger       *zap.Logger
}

func NewServer(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		pipeline:     opts.Pipeline,
		interactions: opts.Interactions,
		health:       opts.Health,
		logger:       logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/api/interactions/process", s.handleProcess)
	mux.HandleFunc("/api/interactions", s.handleListInteractions)
	mux.HandleFunc("/api/interactions/", s.handleInteraction)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return withRequestID(withAccessLog(logger, withCORS(origins, mux)))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"detail": detail})
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte("{}"), nil
	}
	blob, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	return blob, nil
}

func parseInt(value string, def int) int {
	if strings.TrimSpace(value) == "" {
		return def
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return v
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "PharmaGPT API is running"})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	blob, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	var req interaction.Request
	if err := json.Unmarshal(blob, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	res, err := s.pipeline.Run(r.Context(), req)
	if err != nil {
		var ve *interaction.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusUnprocessableEntity, ve.Error())
			return
		}
		s.logger.Error("process interaction failed",
			zap.String("request_id", interaction.RequestIDFrom(r.Context())),
			zap.String("stage", interaction.StageNameFromError(err)),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, internalErrorPrefix+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, interaction.BuildResponse(res))
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.interactions.ListInteractions(r.Context(), interaction.ListFilter{
		HCPName: strings.TrimSpace(r.URL.Query().Get("hcp_name")),
		Limit:   limit,
	})
	if err != nil {
		s.logger.Error("list interactions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []interaction.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"interactions": rows, "count": len(rows)})
}

// handleInteraction serves /api/interactions/{id} and
// /api/interactions/{id}/report.
func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/interactions/"), "/")
	report := false
	if strings.HasSuffix(path, "/report") {
		report = true
		path = strings.TrimSuffix(path, "/report")
	}
	if path == "" || strings.Contains(path, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, err := strconv.ParseInt(path, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid interaction id %q", path))
		return
	}

	rec, err := s.interactions.GetInteraction(r.Context(), id)
	if errors.Is(err, interaction.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("get interaction failed", zap.Int64("interaction_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !report {
		writeJSON(w, http.StatusOK, rec)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "markdown") {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, interaction.BuildReportMarkdown(rec))
		return
	}
	page, err := interaction.RenderReportHTML(rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
