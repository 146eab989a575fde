// Package api serves read-only JSON views of an activated pipeline.
package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/datajoint/workflow-deeplabcut/internal/config"
	"github.com/datajoint/workflow-deeplabcut/internal/db"
	"github.com/datajoint/workflow-deeplabcut/internal/httputil"
	"github.com/datajoint/workflow-deeplabcut/internal/paths"
	"github.com/datajoint/workflow-deeplabcut/internal/pipeline"
)

const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

type Server struct {
	cfg *config.Config
	db  *db.DB
	p   *pipeline.Pipeline
}

func NewServer(cfg *config.Config, database *db.DB, p *pipeline.Pipeline) *Server {
	return &Server{cfg: cfg, db: database, p: p}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/activations", s.listActivations)
	mux.HandleFunc("/api/equipment", s.listEquipment)
	mux.HandleFunc("/api/paths", s.showPaths)
	mux.HandleFunc("/api/tables", s.showTables)
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(code int) string {
	switch {
	case code >= 200 && code < 300:
		return colorBoldGreen + strconv.Itoa(code) + colorReset
	case code >= 300 && code < 400:
		return colorYellow + strconv.Itoa(code) + colorReset
	case code >= 400:
		return colorBoldRed + strconv.Itoa(code) + colorReset
	default:
		return strconv.Itoa(code)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf("[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

type moduleStatus struct {
	Module    string `json:"module"`
	Namespace string `json:"namespace"`
	Version   uint   `json:"version"`
	Applied   bool   `json:"applied"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	results, err := pipeline.Status(r.Context(), s.cfg, s.db)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make([]moduleStatus, len(results))
	for i, res := range results {
		out[i] = moduleStatus{Module: res.Module, Namespace: res.Namespace, Version: res.Version, Applied: res.Applied}
	}
	httputil.WriteJSONOK(w, map[string]any{
		"prefix":  s.cfg.DatabasePrefix(),
		"modules": out,
	})
}

func (s *Server) listActivations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.WriteJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := s.db.Activations(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if entries == nil {
		entries = []db.Activation{}
	}
	httputil.WriteJSONOK(w, entries)
}

type equipmentJSON struct {
	Equipment   string `json:"equipment"`
	Modality    string `json:"modality"`
	Description string `json:"description"`
}

func (s *Server) listEquipment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	rows, err := s.p.ListEquipment(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make([]equipmentJSON, len(rows))
	for i, e := range rows {
		out[i] = equipmentJSON(e)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) showPaths(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	roots := s.p.RootDataDirs()
	if roots == nil {
		roots = []string{}
	}
	dir, err := s.p.ProcessedDataDir()
	if errors.Is(err, paths.ErrConfigIncomplete) {
		httputil.Conflict(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"root_data_dirs":     roots,
		"processed_data_dir": dir,
	})
}

// showTables lists the re-exported table handles.
func (s *Server) showTables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"Subject":      s.p.Subject.String(),
		"Source":       s.p.Source.String(),
		"Lab":          s.p.Lab.String(),
		"Protocol":     s.p.Protocol.String(),
		"User":         s.p.User.String(),
		"Experimenter": s.p.Experimenter.String(),
		"Project":      s.p.Project.String(),
		"Session":      s.p.Session.String(),
		"Equipment":    s.p.Equipment.String(),
	})
}
