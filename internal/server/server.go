// Package server exposes the HTTP surface: the GitHub webhook receiver, the
// management API for sources and run history, and the health and metrics
// endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memberhq/contentsync/internal/config"
	"github.com/memberhq/contentsync/internal/database"
	"github.com/memberhq/contentsync/internal/logging"
	"github.com/memberhq/contentsync/internal/server/types"
	"github.com/memberhq/contentsync/internal/service"
)

const defaultListen = ":8282"

type Server struct {
	config  *config.Root
	service *service.Service
	db      *database.Database
	router  *http.ServeMux
	readyFn func(context.Context) error
	log     *logging.Logger
}

func New() *Server {
	return &Server{log: logging.NewNopLogger()}
}

func (s *Server) WithConfig(config *config.Root) *Server {
	s.config = config
	return s
}

func (s *Server) WithService(service *service.Service) *Server {
	s.service = service
	return s
}

func (s *Server) WithDatabase(db *database.Database) *Server {
	s.db = db
	return s
}

func (s *Server) WithRouter(router *http.ServeMux) *Server {
	s.router = router
	return s
}

func (s *Server) WithLogger(log *logging.Logger) *Server {
	s.log = log
	return s
}

// Init registers the routes. The configured API prefix applies to every
// endpoint, health and metrics included.
func (s *Server) Init() *Server {
	if s.router == nil {
		s.router = http.NewServeMux()
	}
	if s.readyFn == nil {
		s.readyFn = s.ready
	}

	prefix := ""
	if s.config != nil && s.config.Service != nil {
		prefix = s.config.Service.ApiPrefix
	}

	s.router.HandleFunc("POST "+prefix+"/api/webhooks/github", s.handleWebhook)
	s.router.HandleFunc("POST "+prefix+"/v1/sync", s.handleSyncAll)
	s.router.HandleFunc("POST "+prefix+"/v1/sources/{name}/sync", s.handleSourceSync)
	s.router.HandleFunc("GET "+prefix+"/v1/sources", s.handleListSources)
	s.router.HandleFunc("GET "+prefix+"/v1/sources/{name}", s.handleGetSource)
	s.router.HandleFunc("GET "+prefix+"/v1/sources/{name}/runs", s.handleListRuns)
	s.router.HandleFunc("GET "+prefix+"/health", s.handleHealth)
	s.router.Handle("GET "+prefix+"/metrics", promhttp.Handler())

	return s
}

// ListenAndServe blocks until the context is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listen := defaultListen
	if s.config != nil && s.config.Service != nil && s.config.Service.Listen != "" {
		listen = s.config.Service.Listen
	}

	srv := &http.Server{Addr: listen, Handler: s.router}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()

	s.log.Infof("listening on %s", listen)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) ready(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database not configured")
	}
	return s.db.DB().PingContext(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.readyFn(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, types.CodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Server) handleSourceSync(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	run, err := s.service.TriggerBackground(r.Context(), name, service.TriggerOptions{})
	switch {
	case errors.Is(err, service.ErrUnknownSource):
		writeError(w, http.StatusNotFound, types.CodeNotFound, err.Error())
		return
	case errors.Is(err, service.ErrSyncInProgress):
		writeError(w, http.StatusConflict, types.CodeConflict, err.Error())
		return
	case err != nil:
		s.log.Errorf("trigger sync for source %q: %v", name, err)
		writeError(w, http.StatusInternalServerError, types.CodeInternalError, "failed to start sync run")
		return
	}

	writeJSON(w, http.StatusAccepted, types.TriggerResponse{RunID: run.ID, Status: run.Status})
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := s.service.SyncAll(ctx); err != nil {
			s.log.Errorf("sync all: %v", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.db.ListSources(r.Context())
	if err != nil {
		s.log.Errorf("list sources: %v", err)
		writeError(w, http.StatusInternalServerError, types.CodeInternalError, "failed to list sources")
		return
	}

	resp := types.SourcesResponse{Result: make([]types.Source, 0, len(sources))}
	for _, src := range sources {
		resp.Result = append(resp.Result, sourceResponse(src))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.db.GetSource(r.Context(), r.PathValue("name"))
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, types.CodeNotFound, "source not found")
		return
	case err != nil:
		s.log.Errorf("get source: %v", err)
		writeError(w, http.StatusInternalServerError, types.CodeInternalError, "failed to load source")
		return
	}
	writeJSON(w, http.StatusOK, types.SourceResponse{Result: sourceResponse(src)})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if _, err := s.db.GetSource(r.Context(), name); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, types.CodeNotFound, "source not found")
			return
		}
		s.log.Errorf("get source: %v", err)
		writeError(w, http.StatusInternalServerError, types.CodeInternalError, "failed to load source")
		return
	}

	opts := database.ListOptions{Cursor: r.URL.Query().Get("cursor")}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, types.CodeInvalidParameter, "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}

	runs, cursor, err := s.db.ListRuns(r.Context(), name, opts)
	if err != nil {
		s.log.Errorf("list runs: %v", err)
		writeError(w, http.StatusInternalServerError, types.CodeInternalError, "failed to list runs")
		return
	}

	resp := types.RunsResponse{Result: make([]types.Run, 0, len(runs)), NextCursor: cursor}
	for _, run := range runs {
		resp.Result = append(resp.Result, runResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

func sourceResponse(src *database.SourceStatus) types.Source {
	return types.Source{
		Name:            src.Name,
		Repo:            src.Repo,
		Family:          src.Family,
		Private:         src.Private,
		LastSyncedAt:    src.LastSyncedAt,
		LastSyncStatus:  src.LastSyncStatus,
		LastSyncSummary: src.LastSyncSummary,
	}
}

func runResponse(run *database.Run) types.Run {
	resp := types.Run{
		ID:           run.ID,
		SourceName:   run.SourceName,
		Partial:      run.Partial,
		Commit:       run.Commit,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		Status:       run.Status,
		ItemsCreated: run.ItemsCreated,
		ItemsUpdated: run.ItemsUpdated,
		ItemsDeleted: run.ItemsDeleted,
	}
	for _, e := range run.Errors {
		resp.Errors = append(resp.Errors, types.RunError{Path: e.Path, Message: e.Message})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, types.ErrorResponse{Code: code, Message: message})
}
